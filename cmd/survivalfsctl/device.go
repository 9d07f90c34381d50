package main

import (
	"io"
	"os"

	"github.com/levkropp/survivalfs/blockio"
)

// fileFuncs wraps an open *os.File as a blockio callback pair, the same
// seek-then-read/write shape diskimage.Memory.Funcs uses for its
// bytesextra-backed in-memory images, applied here to a real file instead
// of a byte slice.
func fileFuncs(f *os.File, blockSize uint) (blockio.ReadFunc, blockio.WriteFunc) {
	read := func(lba blockio.LBA, count uint, buf []byte) error {
		if _, err := f.Seek(int64(uint64(lba)*uint64(blockSize)), io.SeekStart); err != nil {
			return err
		}
		_, err := io.ReadFull(f, buf)
		return err
	}
	write := func(lba blockio.LBA, count uint, buf []byte) error {
		if _, err := f.Seek(int64(uint64(lba)*uint64(blockSize)), io.SeekStart); err != nil {
			return err
		}
		_, err := f.Write(buf)
		return err
	}
	return read, write
}
