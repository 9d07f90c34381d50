package exfat

import (
	"encoding/binary"
	"testing"

	"github.com/noxer/bytewriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levkropp/survivalfs/diskimage"
)

const (
	testBytesPerSector    = 512
	testSectorsPerCluster = 1
	testClusterCount      = 64
	testFatOffsetSectors  = 8
	testFatLengthSectors  = 1
	testClusterHeapOffset = testFatOffsetSectors + testFatLengthSectors
	testVolumeLenSectors  = testClusterHeapOffset + testClusterCount*testSectorsPerCluster
)

// buildMinimalImage assembles a tiny, valid exFAT image: a boot sector, one
// FAT, a root directory (cluster 2) holding a Bitmap entry pointing at a
// one-cluster allocation bitmap (cluster 3), with clusters 2 and 3 already
// marked allocated. This mirrors what a real formatter produces, just at
// a scale small enough to exercise in a unit test.
func buildMinimalImage(t *testing.T) []byte {
	t.Helper()

	img := make([]byte, testVolumeLenSectors*testBytesPerSector)

	raw := rawBootSector{
		FileSystemName:         [8]byte{'E', 'X', 'F', 'A', 'T', ' ', ' ', ' '},
		VolumeLength:           testVolumeLenSectors,
		FatOffset:              testFatOffsetSectors,
		FatLength:              testFatLengthSectors,
		ClusterHeapOffset:      testClusterHeapOffset,
		ClusterCount:           testClusterCount,
		FirstClusterOfRootDir:  2,
		BytesPerSectorShift:    9,
		SectorsPerClusterShift: 0,
		NumberOfFats:           1,
		BootSignature:          0xAA55,
	}
	w := bytewriter.New(img[:512])
	require.NoError(t, binary.Write(w, binary.LittleEndian, raw))

	// FAT: cluster 0/1 reserved markers, cluster 2 (root dir) and cluster 3
	// (bitmap) are each one-cluster chains terminated by EOC.
	fatBase := testFatOffsetSectors * testBytesPerSector
	binary.LittleEndian.PutUint32(img[fatBase+0:], 0x0FFFFFF8)
	binary.LittleEndian.PutUint32(img[fatBase+4:], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(img[fatBase+8:], 0xFFFFFFFF) // cluster 2
	binary.LittleEndian.PutUint32(img[fatBase+12:], 0xFFFFFFFF) // cluster 3

	// Allocation bitmap (cluster 3): bits 0 and 1 (clusters 2 and 3) set.
	bitmapClusterOffset := (testClusterHeapOffset + 1*testSectorsPerCluster) * testBytesPerSector
	img[bitmapClusterOffset] = 0x03

	// Root directory (cluster 2): a single Bitmap entry, rest zeroed
	// (serving as the end-of-directory marker).
	rootOffset := testClusterHeapOffset * testBytesPerSector
	bitmapEntry := make([]byte, entrySize)
	bitmapEntry[0] = entryTypeBitmap
	bitmapEntry[1] = 0x00 // first bitmap
	binary.LittleEndian.PutUint32(bitmapEntry[20:], 3)
	binary.LittleEndian.PutUint64(bitmapEntry[24:], testBytesPerSector) // 8 bytes used, rounded to cluster
	copy(img[rootOffset:], bitmapEntry)

	return img
}

func mountTestVolume(t *testing.T) (*Volume, []byte) {
	t.Helper()
	raw := buildMinimalImage(t)
	mem := diskimage.NewMemoryFrom(raw)
	read, write := mem.Funcs(testBytesPerSector)

	vol, merr := Mount(testBytesPerSector, read, write)
	require.NoError(t, merr)
	return vol, mem.Bytes
}

func TestMountReadsGeometryAndBitmap(t *testing.T) {
	vol, _ := mountTestVolume(t)
	info := vol.VolumeInfo()
	assert.EqualValues(t, testClusterCount*testBytesPerSector, info.TotalBytes)
	// Clusters 2 and 3 are pre-allocated; the rest are free.
	assert.EqualValues(t, (testClusterCount-2)*testBytesPerSector, info.FreeBytes)
}

func TestWriteFileThenReadFileRoundTrips(t *testing.T) {
	vol, _ := mountTestVolume(t)

	content := []byte("Hello, world!\n")
	require.NoError(t, vol.WriteFile("/hello.txt", content))

	got, err := vol.ReadFile("/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.EqualValues(t, len(content), vol.FileSize("/hello.txt"))
	assert.True(t, vol.Exists("/hello.txt"))
	assert.True(t, vol.Exists("/HELLO.TXT"))
}

func TestWriteFileSpanningMultipleClusters(t *testing.T) {
	vol, _ := mountTestVolume(t)

	before := vol.VolumeInfo().FreeBytes
	data := make([]byte, 1500)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, vol.WriteFile("/big.bin", data))

	got, err := vol.ReadFile("/big.bin")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	after := vol.VolumeInfo().FreeBytes
	assert.EqualValues(t, 3*testBytesPerSector, before-after)

	require.NoError(t, vol.Delete("/big.bin"))
	assert.Equal(t, before, vol.VolumeInfo().FreeBytes)
}

func TestMkdirAndReadDir(t *testing.T) {
	vol, _ := mountTestVolume(t)

	require.NoError(t, vol.Mkdir("/a/b/c"))

	entriesA, err := vol.ReadDir("/a")
	require.NoError(t, err)
	require.Len(t, entriesA, 1)
	assert.Equal(t, "b", entriesA[0].Name)
	assert.True(t, entriesA[0].IsDir)

	entriesC, err := vol.ReadDir("/a/b/c")
	require.NoError(t, err)
	assert.Empty(t, entriesC)

	// Idempotent: mkdir again succeeds and does not duplicate the entry.
	require.NoError(t, vol.Mkdir("/a/b/c"))
	entriesB, err := vol.ReadDir("/a/b")
	require.NoError(t, err)
	require.Len(t, entriesB, 1)
}

func TestRenameAndDelete(t *testing.T) {
	vol, _ := mountTestVolume(t)

	require.NoError(t, vol.WriteFile("/old.txt", []byte("x")))
	require.NoError(t, vol.Rename("/old.txt", "new.txt"))
	assert.False(t, vol.Exists("/old.txt"))
	assert.True(t, vol.Exists("/new.txt"))

	require.NoError(t, vol.Delete("/new.txt"))
	assert.False(t, vol.Exists("/new.txt"))
}

func TestDeleteNonEmptyDirectoryFails(t *testing.T) {
	vol, _ := mountTestVolume(t)

	require.NoError(t, vol.Mkdir("/dir"))
	require.NoError(t, vol.WriteFile("/dir/file.txt", []byte("x")))

	err := vol.Delete("/dir")
	assert.Error(t, err)
}
