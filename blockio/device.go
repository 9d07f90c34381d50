// Package blockio is the thin translation layer between a filesystem
// driver's notion of a logical sector and the caller-supplied device
// read/write callback pair, which operate in units of the underlying
// device's block size.
//
// This is deliberately the smallest layer in the module. Everything here
// is grounded on the teacher's BlockDevice/BlockStream/ClusterStream trio
// (drivers/common/blockdevice.go, blockstream.go, clusterio.go), collapsed
// into one callback-indirected type since there is no io.Seeker to lean
// on here: the host side exposes a read(lba, count, buf)/write(...) pair,
// not a stream.
package blockio

import (
	"fmt"

	"github.com/levkropp/survivalfs/fserrors"
)

// LBA is a Logical Block Address on the underlying device.
type LBA uint64

// ReadFunc reads count blocks starting at lba into buf, which is guaranteed
// to be exactly count*BlockSize bytes.
type ReadFunc func(lba LBA, count uint, buf []byte) error

// WriteFunc writes count blocks starting at lba from buf. See ReadFunc.
type WriteFunc func(lba LBA, count uint, buf []byte) error

// Device wraps a caller-supplied callback pair plus the device's block
// size, supplied by the caller at mount time.
type Device struct {
	BlockSize uint
	read      ReadFunc
	write     WriteFunc
}

// New wraps a read/write callback pair. blockSize is the device's native
// block size in bytes (typically 512), supplied by the caller at mount time.
func New(blockSize uint, read ReadFunc, write WriteFunc) (*Device, error) {
	if blockSize == 0 {
		return nil, fserrors.ErrInvalidArgument.WithMessage("block size must be nonzero")
	}
	if read == nil || write == nil {
		return nil, fserrors.ErrInvalidArgument.WithMessage("read/write callbacks must not be nil")
	}
	return &Device{BlockSize: blockSize, read: read, write: write}, nil
}

// ReadBlocks reads count device blocks starting at lba into buf.
func (d *Device) ReadBlocks(lba LBA, count uint, buf []byte) fserrors.DriverError {
	if uint(len(buf)) != count*d.BlockSize {
		return fserrors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("buffer is %d bytes, expected %d", len(buf), count*d.BlockSize))
	}
	if err := d.read(lba, count, buf); err != nil {
		return fserrors.ErrIoError.Wrap(err)
	}
	return nil
}

// WriteBlocks writes count device blocks starting at lba from buf.
func (d *Device) WriteBlocks(lba LBA, count uint, buf []byte) fserrors.DriverError {
	if uint(len(buf)) != count*d.BlockSize {
		return fserrors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("buffer is %d bytes, expected %d", len(buf), count*d.BlockSize))
	}
	if err := d.write(lba, count, buf); err != nil {
		return fserrors.ErrIoError.Wrap(err)
	}
	return nil
}

// SectorMapping describes how one filesystem-logical sector maps onto the
// device's own blocks.
type SectorMapping struct {
	// StartLBA is the first device block that must be read/written to
	// access the logical sector.
	StartLBA LBA
	// BlockCount is the number of device blocks that must be read/written.
	BlockCount uint
	// ByteOffset is where, within the BlockCount*BlockSize buffer, the
	// logical sector's own bytes begin. Nonzero only when the logical
	// sector is smaller than the device block.
	ByteOffset uint
}

// MapSector computes the SectorMapping for logical sector `sector`, given
// the filesystem's logical sector size:
//
//	sector * (logical/device)        when logical >= device
//	(sector*logical)/device          when logical < device, with a
//	                                  residual in-sector offset
func (d *Device) MapSector(sector uint64, logicalSectorSize uint) (SectorMapping, fserrors.DriverError) {
	if logicalSectorSize == 0 {
		return SectorMapping{}, fserrors.ErrInvalidArgument.WithMessage("logical sector size must be nonzero")
	}

	if logicalSectorSize >= d.BlockSize {
		if logicalSectorSize%d.BlockSize != 0 {
			return SectorMapping{}, fserrors.ErrInvalidArgument.WithMessage(
				fmt.Sprintf("logical sector size %d is not a multiple of device block size %d",
					logicalSectorSize, d.BlockSize))
		}
		ratio := uint(logicalSectorSize / d.BlockSize)
		return SectorMapping{
			StartLBA:   LBA(sector * uint64(ratio)),
			BlockCount: ratio,
			ByteOffset: 0,
		}, nil
	}

	if d.BlockSize%logicalSectorSize != 0 {
		return SectorMapping{}, fserrors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("device block size %d is not a multiple of logical sector size %d",
				d.BlockSize, logicalSectorSize))
	}

	byteOffsetTotal := sector * uint64(logicalSectorSize)
	return SectorMapping{
		StartLBA:   LBA(byteOffsetTotal / uint64(d.BlockSize)),
		BlockCount: 1,
		ByteOffset: uint(byteOffsetTotal % uint64(d.BlockSize)),
	}, nil
}

// BufferSize returns the size, in bytes, of the device-block-sized buffer
// needed to service one logical sector of the given size. It is the same
// for every sector at a fixed (BlockSize, logicalSectorSize) pair.
func (d *Device) BufferSize(logicalSectorSize uint) (uint, fserrors.DriverError) {
	mapping, err := d.MapSector(0, logicalSectorSize)
	if err != nil {
		return 0, err
	}
	return mapping.BlockCount * d.BlockSize, nil
}
