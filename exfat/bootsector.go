package exfat

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/levkropp/survivalfs/fserrors"
)

// rawBootSector is the on-disk layout of the exFAT main boot sector,
// sector 0 of the volume. Field names and offsets follow the exFAT
// specification exactly, read the way drivers/fat/common.go reads its
// (much simpler) FAT12/16/32 BPB: a single encoding/binary.Read into a
// fixed Go struct. This is a fixed-size record, not an offset-addressed
// variable structure, so the struct-tag approach stays appropriate here
// (see DESIGN.md).
type rawBootSector struct {
	JumpBoot                [3]byte
	FileSystemName          [8]byte
	MustBeZero              [53]byte
	PartitionOffset         uint64
	VolumeLength            uint64
	FatOffset               uint32
	FatLength               uint32
	ClusterHeapOffset       uint32
	ClusterCount            uint32
	FirstClusterOfRootDir   uint32
	VolumeSerialNumber      uint32
	FileSystemRevision      uint16
	VolumeFlags             uint16
	BytesPerSectorShift     uint8
	SectorsPerClusterShift  uint8
	NumberOfFats            uint8
	DriveSelect             uint8
	PercentInUse            uint8
	Reserved                [7]byte
	BootCode                [390]byte
	BootSignature           uint16
}

// BootSector is the parsed, validated form of rawBootSector, exposing the
// volume geometry: bytes-per-sector, sectors-per-cluster, FAT location,
// cluster heap offset, cluster count, root directory first cluster, and
// volume length.
type BootSector struct {
	BytesPerSector      uint32
	SectorsPerCluster   uint32
	BytesPerCluster     uint32
	FatOffsetSectors    uint32
	FatLengthSectors    uint32
	NumberOfFats        uint8
	ClusterHeapOffset   uint32 // sectors
	ClusterCount        uint32
	RootDirFirstCluster ClusterID
	VolumeLengthSectors uint64
}

var requiredOEMName = []byte("EXFAT   ")

// parseBootSector validates and converts the raw 512-byte boot sector:
// OEM-ID, boot signature, the 53-byte must-be-zero region, and the shift
// fields' legal ranges (bytes-per-sector a power of 2 in [512, 4096],
// sectors-per-cluster a power of 2 with shift <= 25).
func parseBootSector(sector []byte) (*BootSector, fserrors.DriverError) {
	if len(sector) < 512 {
		return nil, fserrors.ErrCorruptFilesystem.WithMessage("boot sector shorter than 512 bytes")
	}

	var raw rawBootSector
	if err := binary.Read(bytes.NewReader(sector[:512]), binary.LittleEndian, &raw); err != nil {
		return nil, fserrors.ErrCorruptFilesystem.Wrap(err)
	}

	if !bytes.Equal(raw.FileSystemName[:], requiredOEMName) {
		return nil, fserrors.ErrCorruptFilesystem.WithMessage(
			fmt.Sprintf("bad OEM id %q, expected %q", raw.FileSystemName, requiredOEMName))
	}

	if raw.BootSignature != 0xAA55 {
		return nil, fserrors.ErrCorruptFilesystem.WithMessage("bad boot signature")
	}

	var zero [53]byte
	if raw.MustBeZero != zero {
		return nil, fserrors.ErrCorruptFilesystem.WithMessage("must-be-zero region is not all zero")
	}

	if raw.BytesPerSectorShift < 9 || raw.BytesPerSectorShift > 12 {
		return nil, fserrors.ErrCorruptFilesystem.WithMessage(
			fmt.Sprintf("bytes-per-sector shift %d out of legal range [9, 12]", raw.BytesPerSectorShift))
	}
	if raw.SectorsPerClusterShift > 25 {
		return nil, fserrors.ErrCorruptFilesystem.WithMessage(
			fmt.Sprintf("sectors-per-cluster shift %d exceeds 25", raw.SectorsPerClusterShift))
	}

	bytesPerSector := uint32(1) << raw.BytesPerSectorShift
	sectorsPerCluster := uint32(1) << raw.SectorsPerClusterShift

	if raw.NumberOfFats == 0 || raw.NumberOfFats > 2 {
		return nil, fserrors.ErrCorruptFilesystem.WithMessage("NumberOfFats must be 1 or 2")
	}

	return &BootSector{
		BytesPerSector:      bytesPerSector,
		SectorsPerCluster:   sectorsPerCluster,
		BytesPerCluster:     bytesPerSector * sectorsPerCluster,
		FatOffsetSectors:    raw.FatOffset,
		FatLengthSectors:    raw.FatLength,
		NumberOfFats:        raw.NumberOfFats,
		ClusterHeapOffset:   raw.ClusterHeapOffset,
		ClusterCount:        raw.ClusterCount,
		RootDirFirstCluster: ClusterID(raw.FirstClusterOfRootDir),
		VolumeLengthSectors: raw.VolumeLength,
	}, nil
}
