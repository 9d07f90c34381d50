package dispatch

import (
	"encoding/binary"
	"testing"

	"github.com/noxer/bytewriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levkropp/survivalfs"
	"github.com/levkropp/survivalfs/diskimage"
	"github.com/levkropp/survivalfs/fserrors"
)

// --- CHAR16 path conversion ---

func TestConvertPathRewritesBackslashesToSlashes(t *testing.T) {
	p := NewChar16Path(`\docs\readme.txt`)
	assert.Equal(t, "/docs/readme.txt", convertPath(p))
}

func TestConvertPathRootIsSlash(t *testing.T) {
	assert.Equal(t, "/", convertPath(NewChar16Path(`\`)))
}

// --- nothing mounted / SimpleFS tag: NotSupported per spec.md §4.7 ---

func TestUnmountedDispatcherReturnsNotSupported(t *testing.T) {
	d := New()
	assert.Equal(t, TagNone, d.Tag())

	_, err := d.ReadDir(NewChar16Path(`\`))
	assert.ErrorIs(t, err, fserrors.ErrInvalidArgument)

	_, err = d.ReadFile(NewChar16Path(`\x`))
	assert.ErrorIs(t, err, fserrors.ErrInvalidArgument)

	err = d.WriteFile(NewChar16Path(`\x`), []byte("x"))
	assert.ErrorIs(t, err, fserrors.ErrInvalidArgument)

	assert.False(t, d.Exists(NewChar16Path(`\x`)))
	assert.Zero(t, d.FileSize(NewChar16Path(`\x`)))
	assert.Equal(t, "", d.Label())
	assert.Equal(t, survivalfs.VolumeInfo{}, d.VolumeInfo())
}

func TestSimpleFSTagHasNoDriver(t *testing.T) {
	d := New()
	require.NoError(t, d.MountSimpleFS())
	assert.Equal(t, TagSimpleFS, d.Tag())

	_, err := d.ReadDir(NewChar16Path(`\`))
	assert.ErrorIs(t, err, fserrors.ErrInvalidArgument)
	err = d.Mkdir(NewChar16Path(`\newdir`))
	assert.ErrorIs(t, err, fserrors.ErrInvalidArgument)
}

// --- stub volume: isolates dispatcher routing from driver internals ---

type stubVolume struct {
	writeErr error
}

var _ survivalfs.Volume = stubVolume{}

func (s stubVolume) ReadDir(string) ([]survivalfs.DirEntry, error) { return nil, nil }
func (s stubVolume) ReadFile(string) ([]byte, error)               { return []byte("stub"), nil }
func (s stubVolume) WriteFile(string, []byte) error                { return s.writeErr }
func (s stubVolume) Mkdir(string) error                            { return s.writeErr }
func (s stubVolume) Rename(string, string) error                   { return s.writeErr }
func (s stubVolume) Delete(string) error                           { return s.writeErr }
func (s stubVolume) Exists(string) bool                            { return true }
func (s stubVolume) FileSize(string) uint64                        { return 4 }
func (s stubVolume) VolumeInfo() survivalfs.VolumeInfo {
	return survivalfs.VolumeInfo{TotalBytes: 100, FreeBytes: 50}
}
func (s stubVolume) Label() string  { return "STUB" }
func (s stubVolume) Unmount() error { return nil }

// TestNtfsWritesSurfaceReadOnly mirrors the dispatcher's own NTFS tag
// without requiring a full hand-built NTFS image: the ntfs package's own
// volume_test.go already proves every write method returns
// fserrors.ErrReadOnly, so here a stub standing in for that driver behavior
// is enough to prove the dispatcher routes the error through unchanged
// rather than masking or rewriting it (the WriteProtected outcome
// spec.md §4.7 asks for).
func TestNtfsWritesSurfaceReadOnly(t *testing.T) {
	d := &Dispatcher{tag: TagNtfs, volume: stubVolume{writeErr: fserrors.ErrReadOnly}}

	assert.ErrorIs(t, d.WriteFile(NewChar16Path(`\new.txt`), []byte("x")), fserrors.ErrReadOnly)
	assert.ErrorIs(t, d.Mkdir(NewChar16Path(`\newdir`)), fserrors.ErrReadOnly)
	assert.ErrorIs(t, d.Rename(NewChar16Path(`\a`), "b"), fserrors.ErrReadOnly)
	assert.ErrorIs(t, d.Delete(NewChar16Path(`\a`)), fserrors.ErrReadOnly)

	// Reads and the never-fail accessors still route through normally.
	data, err := d.ReadFile(NewChar16Path(`\a`))
	require.NoError(t, err)
	assert.Equal(t, []byte("stub"), data)
	assert.Equal(t, "STUB", d.Label())
	assert.EqualValues(t, 100, d.VolumeInfo().TotalBytes)
}

// --- end-to-end against a real exFAT image ---

const (
	testBytesPerSector    = 512
	testSectorsPerCluster = 1
	testClusterCount      = 64
	testFatOffsetSectors  = 8
	testFatLengthSectors  = 1
	testClusterHeapOffset = testFatOffsetSectors + testFatLengthSectors
	testVolumeLenSectors  = testClusterHeapOffset + testClusterCount*testSectorsPerCluster

	exfatEntrySize       = 32
	exfatEntryTypeBitmap = 0x81
)

// exfatRawBootSector mirrors exfat.rawBootSector's on-disk field layout
// (package-private there), rebuilt here so this package's tests can
// assemble a real exFAT image without reaching into exfat's internals.
type exfatRawBootSector struct {
	JumpBoot               [3]byte
	FileSystemName         [8]byte
	MustBeZero             [53]byte
	PartitionOffset        uint64
	VolumeLength           uint64
	FatOffset              uint32
	FatLength              uint32
	ClusterHeapOffset      uint32
	ClusterCount           uint32
	FirstClusterOfRootDir  uint32
	VolumeSerialNumber     uint32
	FileSystemRevision     uint16
	VolumeFlags            uint16
	BytesPerSectorShift    uint8
	SectorsPerClusterShift uint8
	NumberOfFats           uint8
	DriveSelect            uint8
	PercentInUse           uint8
	Reserved               [7]byte
	BootCode               [390]byte
	BootSignature          uint16
}

// buildMinimalExfatImage assembles the same tiny, valid exFAT image
// exfat/volume_test.go builds: a boot sector, one FAT, and a root
// directory holding only a Bitmap entry, with clusters 2 and 3
// pre-allocated.
func buildMinimalExfatImage(t *testing.T) []byte {
	t.Helper()
	img := make([]byte, testVolumeLenSectors*testBytesPerSector)

	raw := exfatRawBootSector{
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

	fatBase := testFatOffsetSectors * testBytesPerSector
	binary.LittleEndian.PutUint32(img[fatBase+0:], 0x0FFFFFF8)
	binary.LittleEndian.PutUint32(img[fatBase+4:], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(img[fatBase+8:], 0xFFFFFFFF)  // cluster 2 (root)
	binary.LittleEndian.PutUint32(img[fatBase+12:], 0xFFFFFFFF) // cluster 3 (bitmap)

	bitmapClusterOffset := (testClusterHeapOffset + 1*testSectorsPerCluster) * testBytesPerSector
	img[bitmapClusterOffset] = 0x03 // clusters 2 and 3 marked allocated

	rootOffset := testClusterHeapOffset * testBytesPerSector
	bitmapEntry := make([]byte, exfatEntrySize)
	bitmapEntry[0] = exfatEntryTypeBitmap
	binary.LittleEndian.PutUint32(bitmapEntry[20:], 3)
	binary.LittleEndian.PutUint64(bitmapEntry[24:], testBytesPerSector)
	copy(img[rootOffset:], bitmapEntry)

	return img
}

func TestDispatcherRoutesToMountedExFat(t *testing.T) {
	mem := diskimage.NewMemoryFrom(buildMinimalExfatImage(t))
	read, write := mem.Funcs(testBytesPerSector)

	d := New()
	require.NoError(t, d.MountExFat(testBytesPerSector, read, write))
	assert.Equal(t, TagExFat, d.Tag())

	content := []byte("Hello, world!\n")
	require.NoError(t, d.WriteFile(NewChar16Path(`\hello.txt`), content))

	got, err := d.ReadFile(NewChar16Path(`\hello.txt`))
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.EqualValues(t, len(content), d.FileSize(NewChar16Path(`\hello.txt`)))
	assert.True(t, d.Exists(NewChar16Path(`\HELLO.TXT`)))

	require.NoError(t, d.Mkdir(NewChar16Path(`\sub`)))
	entries, err := d.ReadDir(NewChar16Path(`\`))
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, d.Delete(NewChar16Path(`\hello.txt`)))
	assert.False(t, d.Exists(NewChar16Path(`\hello.txt`)))

	require.NoError(t, d.Unmount())
	assert.Equal(t, TagNone, d.Tag())
}
