// Package diskimage builds in-memory disk images for driver tests,
// grounded on the teacher's
// testing/images.go: a byte slice wrapped by
// github.com/xaionaro-go/bytesextra into an io.ReadWriteSeeker, here
// bridged to the blockio.Device read/write callback contract.
package diskimage

import (
	"io"

	"github.com/xaionaro-go/bytesextra"

	"github.com/levkropp/survivalfs/blockio"
)

// Memory is an in-memory block device backed by a single byte slice.
type Memory struct {
	Bytes  []byte
	stream io.ReadWriteSeeker
}

// NewMemory allocates a zero-filled in-memory image of totalBytes bytes.
func NewMemory(totalBytes uint64) *Memory {
	buf := make([]byte, totalBytes)
	return &Memory{Bytes: buf, stream: bytesextra.NewReadWriteSeeker(buf)}
}

// NewMemoryFrom wraps an existing byte slice (e.g. a fixture image read
// from disk) without copying it.
func NewMemoryFrom(buf []byte) *Memory {
	return &Memory{Bytes: buf, stream: bytesextra.NewReadWriteSeeker(buf)}
}

// Funcs returns the read/write callback pair a driver's Mount expects,
// operating in units of blockSize bytes against this image.
func (m *Memory) Funcs(blockSize uint) (blockio.ReadFunc, blockio.WriteFunc) {
	read := func(lba blockio.LBA, count uint, buf []byte) error {
		if _, err := m.stream.Seek(int64(uint64(lba)*uint64(blockSize)), io.SeekStart); err != nil {
			return err
		}
		_, err := io.ReadFull(m.stream, buf)
		return err
	}
	write := func(lba blockio.LBA, count uint, buf []byte) error {
		if _, err := m.stream.Seek(int64(uint64(lba)*uint64(blockSize)), io.SeekStart); err != nil {
			return err
		}
		_, err := m.stream.Write(buf)
		return err
	}
	return read, write
}

// Device wraps this image as a blockio.Device of the given block size.
func (m *Memory) Device(blockSize uint) (*blockio.Device, error) {
	read, write := m.Funcs(blockSize)
	return blockio.New(blockSize, read, write)
}
