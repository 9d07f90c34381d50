package fat32

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levkropp/survivalfs/diskimage"
)

const (
	testBytesPerSector = 512
	testTotalSectors   = 4096 // 2 MiB image, small enough for a fast test
)

func formatTestVolume(t *testing.T) *diskimage.Memory {
	t.Helper()
	mem := diskimage.NewMemory(uint64(testTotalSectors) * testBytesPerSector)
	read, write := mem.Funcs(testBytesPerSector)
	err := Format(testBytesPerSector, testTotalSectors, 0xDEADBEEF, read, write)
	require.Nil(t, err)
	return mem
}

func mountTestVolume(t *testing.T) (*Volume, *diskimage.Memory) {
	t.Helper()
	mem := formatTestVolume(t)
	read, write := mem.Funcs(testBytesPerSector)
	v, err := Mount(testBytesPerSector, read, write)
	require.Nil(t, err)
	return v, mem
}

func TestFormatThenMountReadsGeometry(t *testing.T) {
	v, _ := mountTestVolume(t)

	info := v.VolumeInfo()
	assert.Greater(t, info.TotalBytes, uint64(0))
	assert.Equal(t, "SURVIVAL", v.Label())
	// Root cluster (2) is the only cluster in use after format.
	assert.Equal(t, info.TotalBytes-uint64(v.boot.BytesPerCluster), info.FreeBytes)
}

func TestWriteFileThenReadFileRoundTrips(t *testing.T) {
	v, _ := mountTestVolume(t)

	data := []byte("hello from a freshly formatted volume")
	require.NoError(t, v.WriteFile("/hello.txt", data))

	assert.True(t, v.Exists("/hello.txt"))
	assert.Equal(t, uint64(len(data)), v.FileSize("/hello.txt"))

	got, err := v.ReadFile("/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestWriteFileSpanningMultipleClusters(t *testing.T) {
	v, _ := mountTestVolume(t)

	data := make([]byte, int(v.boot.BytesPerCluster)*3+17)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, v.WriteFile("/big.bin", data))

	got, err := v.ReadFile("/big.bin")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestLongFileNameRoundTrips(t *testing.T) {
	v, _ := mountTestVolume(t)

	name := "/this is a long file name.txt"
	require.NoError(t, v.WriteFile(name, []byte("lfn content")))

	entries, err := v.ReadDir("/")
	require.NoError(t, err)
	var found bool
	for _, e := range entries {
		if e.Name == "this is a long file name.txt" {
			found = true
		}
	}
	assert.True(t, found, "expected LFN entry in directory listing: %+v", entries)

	got, err := v.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "lfn content", string(got))
}

func TestMkdirAndReadDir(t *testing.T) {
	v, _ := mountTestVolume(t)

	require.NoError(t, v.Mkdir("/a/b/c"))
	require.NoError(t, v.WriteFile("/a/b/c/leaf.txt", []byte("leaf")))

	entries, err := v.ReadDir("/a/b")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "C", entries[0].Name)
	assert.True(t, entries[0].IsDir)

	// Re-Mkdir of an existing path is idempotent.
	require.NoError(t, v.Mkdir("/a/b/c"))
}

func TestRenameAndDelete(t *testing.T) {
	v, _ := mountTestVolume(t)

	require.NoError(t, v.WriteFile("/old.txt", []byte("x")))
	require.NoError(t, v.Rename("/old.txt", "NEW.TXT"))
	assert.False(t, v.Exists("/old.txt"))
	assert.True(t, v.Exists("/NEW.TXT"))

	require.NoError(t, v.Delete("/NEW.TXT"))
	assert.False(t, v.Exists("/NEW.TXT"))
}

func TestDeleteNonEmptyDirectoryFails(t *testing.T) {
	v, _ := mountTestVolume(t)

	require.NoError(t, v.Mkdir("/dir"))
	require.NoError(t, v.WriteFile("/dir/file.txt", []byte("x")))

	err := v.Delete("/dir")
	assert.Error(t, err)
}
