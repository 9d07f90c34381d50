package sectorcache_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/levkropp/survivalfs/blockio"
	"github.com/levkropp/survivalfs/sectorcache"
)

// newMemoryDevice wires a blockio.Device directly to an in-memory byte
// slice, the way the teacher's testing/images.go wires a disk image to an
// io.ReadWriteSeeker via bytesextra — here reimplemented against the
// callback-shaped Device contract instead of a stream.
func newMemoryDevice(t *testing.T, blockSize uint, totalBlocks uint) (*blockio.Device, []byte) {
	backing := make([]byte, uint64(blockSize)*uint64(totalBlocks))

	read := func(lba blockio.LBA, count uint, buf []byte) error {
		start := uint64(lba) * uint64(blockSize)
		copy(buf, backing[start:start+uint64(count)*uint64(blockSize)])
		return nil
	}
	write := func(lba blockio.LBA, count uint, buf []byte) error {
		start := uint64(lba) * uint64(blockSize)
		copy(backing[start:start+uint64(count)*uint64(blockSize)], buf)
		return nil
	}

	dev, err := blockio.New(blockSize, read, write)
	require.NoError(t, err)
	return dev, backing
}

func TestReadWriteRoundTrip(t *testing.T) {
	dev, backing := newMemoryDevice(t, 512, 32)
	cache, err := sectorcache.New(dev, 512, 8)
	require.NoError(t, err)

	buf, err := cache.Read(3)
	require.NoError(t, err)
	copy(buf, []byte("hello, sector 3"))
	require.NoError(t, cache.MarkDirty(3))

	// Not written back to the device yet.
	require.NotEqual(t, "hello, sector 3", string(backing[3*512:3*512+15]))

	require.NoError(t, cache.FlushAll())
	require.Equal(t, "hello, sector 3", string(backing[3*512:3*512+15]))
}

func TestEvictionFlushesDirtySlots(t *testing.T) {
	dev, backing := newMemoryDevice(t, 512, 32)
	cache, err := sectorcache.New(dev, 512, 4)
	require.NoError(t, err)

	for i := uint64(0); i < 4; i++ {
		buf, err := cache.Read(i)
		require.NoError(t, err)
		buf[0] = byte('A' + i)
		require.NoError(t, cache.MarkDirty(i))
	}

	// Capacity is 4; this read must evict sector 0 via the clock hand,
	// flushing it to the backing store first.
	_, err = cache.Read(4)
	require.NoError(t, err)

	require.Equal(t, byte('A'), backing[0])
}

func TestLogicalSectorSmallerThanDeviceBlock(t *testing.T) {
	// Device blocks are 4096 bytes (e.g. Advanced Format media); the
	// filesystem's logical sector is the traditional 512.
	dev, backing := newMemoryDevice(t, 4096, 4)
	cache, err := sectorcache.New(dev, 512, 8)
	require.NoError(t, err)

	buf, err := cache.Read(9) // sector 9 -> device block 1, offset 512
	require.NoError(t, err)
	copy(buf, []byte("sector nine"))
	require.NoError(t, cache.MarkDirty(9))
	require.NoError(t, cache.FlushAll())

	require.Equal(t, "sector nine", string(backing[4096+512:4096+512+11]))
}
