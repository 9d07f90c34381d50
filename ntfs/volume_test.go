package ntfs

import (
	"encoding/binary"
	"testing"

	"github.com/noxer/bytewriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/levkropp/survivalfs/diskimage"
	"github.com/levkropp/survivalfs/fserrors"
)

// Geometry for the hand-built fixture image: one sector per cluster, one
// MFT record per cluster, so a cluster number and a sector number coincide.
// This mirrors exfat/volume_test.go's approach of constructing a complete,
// valid image byte-for-byte rather than driving it through a formatter
// (NTFS has no formatter in this module; a driver-under-test must be fed a
// plausible volume built by hand).
const (
	testBytesPerSector = 512
	testMFTStartLCN    = 4
	testMFTRecordCount = 10
	testTotalSectors   = 64
)

// Record numbers used by the fixture, named the way the package's own
// well-known-record constants are.
const (
	recHello  = 7
	recSubdir = 8
	recLeaf   = 9
)

func utf16le(s string) []byte {
	b := make([]byte, len(s)*2)
	for i, r := range s {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(r))
	}
	return b
}

func padTo8(b []byte) []byte {
	if rem := len(b) % 8; rem != 0 {
		b = append(b, make([]byte, 8-rem)...)
	}
	return b
}

// buildResidentAttr assembles one resident attribute record (header, an
// optional name, then the value), laid out the way findAttributes reads it.
func buildResidentAttr(typeCode uint32, name string, value []byte) []byte {
	nameBytes := utf16le(name)
	const headerLen = 24
	nameOffset := headerLen
	valueOffset := nameOffset + len(nameBytes)
	body := make([]byte, valueOffset+len(value))
	binary.LittleEndian.PutUint32(body[0:4], typeCode)
	body[8] = 0 // resident
	body[9] = byte(len(name))
	binary.LittleEndian.PutUint16(body[10:12], uint16(nameOffset))
	binary.LittleEndian.PutUint32(body[16:20], uint32(len(value)))
	binary.LittleEndian.PutUint16(body[20:22], uint16(valueOffset))
	copy(body[nameOffset:], nameBytes)
	copy(body[valueOffset:], value)
	body = padTo8(body)
	binary.LittleEndian.PutUint32(body[4:8], uint32(len(body)))
	return body
}

// buildNonResidentAttr assembles one non-resident attribute record: the
// standard 64-byte header fields findAttributes/readAttributeValue read
// (startVCN, run-list offset, real size), then the encoded data runs.
func buildNonResidentAttr(typeCode uint32, name string, startVCN, lastVCN int64, dataRuns []byte, realSize uint64) []byte {
	nameBytes := utf16le(name)
	const headerLen = 64
	nameOffset := headerLen
	runListOffset := nameOffset + len(nameBytes)
	body := make([]byte, runListOffset+len(dataRuns))
	binary.LittleEndian.PutUint32(body[0:4], typeCode)
	body[8] = 1 // non-resident
	body[9] = byte(len(name))
	binary.LittleEndian.PutUint16(body[10:12], uint16(nameOffset))
	binary.LittleEndian.PutUint64(body[16:24], uint64(startVCN))
	binary.LittleEndian.PutUint64(body[24:32], uint64(lastVCN))
	binary.LittleEndian.PutUint16(body[32:34], uint16(runListOffset))
	binary.LittleEndian.PutUint64(body[48:56], realSize)
	copy(body[nameOffset:], nameBytes)
	copy(body[runListOffset:], dataRuns)
	body = padTo8(body)
	binary.LittleEndian.PutUint32(body[4:8], uint32(len(body)))
	return body
}

// encodeSingleRun encodes one contiguous data run whose length and LCN
// delta from a zero baseline both fit in a single byte, per
// datarun.Decode's grammar.
func encodeSingleRun(length, lcn int64) []byte {
	return []byte{0x11, byte(length), byte(lcn)}
}

// buildFileNameAttr builds a $FILE_NAME stream, the standard 66-byte fixed
// prefix (parent reference and timestamps unused by this driver, then
// allocated/real size, flags, name length and namespace) followed by the
// UTF-16 name, matching parseFileNameAttr's reads.
func buildFileNameAttr(name string, isDir bool, size uint64) []byte {
	buf := make([]byte, 66+len(name)*2)
	binary.LittleEndian.PutUint64(buf[40:48], size)
	binary.LittleEndian.PutUint64(buf[48:56], size)
	var flags uint32
	if isDir {
		flags = fileAttrDirectory
	}
	binary.LittleEndian.PutUint32(buf[56:60], flags)
	buf[64] = byte(len(name))
	buf[65] = namespaceWin32
	copy(buf[66:], utf16le(name))
	return buf
}

// buildIndexEntry builds one $INDEX_ROOT entry (reference, header, then the
// embedded $FILE_NAME stream), matching walkIndexEntries' reads.
func buildIndexEntry(recordNum uint64, name string, isDir bool, size uint64, last bool) []byte {
	stream := buildFileNameAttr(name, isDir, size)
	buf := make([]byte, 16+len(stream))
	binary.LittleEndian.PutUint64(buf[0:8], recordNum)
	binary.LittleEndian.PutUint16(buf[10:12], uint16(len(stream)))
	var flags uint16
	if last {
		flags |= 0x02
	}
	binary.LittleEndian.PutUint16(buf[12:14], flags)
	copy(buf[16:], stream)
	buf = padTo8(buf)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(len(buf)))
	return buf
}

// buildIndexRootValue assembles a fully-resident $INDEX_ROOT value (no
// $INDEX_ALLOCATION) out of already-built index entries, the layout
// parseIndexRootHeader/walkIndexEntries expect: a 32-byte header whose
// entries-offset, index-size, and allocated-size fields are all relative
// to the start of the node header itself (byte 16), with entries starting
// at node-header-relative 16 (absolute byte 32).
func buildIndexRootValue(entries ...[]byte) []byte {
	var entryBytes []byte
	for _, e := range entries {
		entryBytes = append(entryBytes, e...)
	}
	v := make([]byte, 32+len(entryBytes))
	nodeRelativeSize := uint32(len(v) - 16)
	binary.LittleEndian.PutUint32(v[0:4], attrTypeFileName)
	binary.LittleEndian.PutUint32(v[4:8], 1) // COLLATION_FILENAME
	binary.LittleEndian.PutUint32(v[8:12], testBytesPerSector)
	v[12] = 1
	binary.LittleEndian.PutUint32(v[16:20], 16) // entries start at node-header-relative 16
	binary.LittleEndian.PutUint32(v[20:24], nodeRelativeSize)
	binary.LittleEndian.PutUint32(v[24:28], nodeRelativeSize)
	v[28] = 0 // no $INDEX_ALLOCATION
	copy(v[32:], entryBytes)
	return v
}

// buildMFTRecord assembles one fixup-protected, single-sector MFT record
// out of already-built attribute bodies, applying a trivial "fixup" (a
// constant update sequence value written into the sector's last two bytes,
// with the USA recording what was really there) so fixup.Apply's checks
// pass when the driver reads it back.
func buildMFTRecord(flags uint16, attrs ...[]byte) []byte {
	const recordSize = 512
	const usaOffset = 48
	const usaCount = 2 // one sector + 1
	const firstAttrOffset = 56

	buf := make([]byte, recordSize)
	copy(buf[0:4], mftRecordSignature)
	binary.LittleEndian.PutUint16(buf[4:6], usaOffset)
	binary.LittleEndian.PutUint16(buf[6:8], usaCount)
	binary.LittleEndian.PutUint16(buf[18:20], 1) // hard link count
	binary.LittleEndian.PutUint16(buf[20:22], firstAttrOffset)
	binary.LittleEndian.PutUint16(buf[22:24], flags)
	binary.LittleEndian.PutUint32(buf[28:32], recordSize)
	binary.LittleEndian.PutUint16(buf[40:42], uint16(len(attrs)+1))

	pos := firstAttrOffset
	for _, a := range attrs {
		copy(buf[pos:], a)
		pos += len(a)
	}
	binary.LittleEndian.PutUint32(buf[pos:pos+4], attrTypeEnd)
	pos += 4
	binary.LittleEndian.PutUint32(buf[24:28], uint32(pos))

	const usv = uint16(1)
	binary.LittleEndian.PutUint16(buf[usaOffset:usaOffset+2], usv)
	binary.LittleEndian.PutUint16(buf[usaOffset+2:usaOffset+4], 0)
	binary.LittleEndian.PutUint16(buf[recordSize-2:recordSize], usv)

	return buf
}

// buildFixtureImage hand-assembles a tiny, valid NTFS volume: a boot sector
// describing a one-sector cluster and a one-cluster MFT record, an MFT
// whose own $DATA run covers its ten records contiguously, a root
// directory with one file and one subdirectory, and the subdirectory's own
// file — enough to exercise Mount, path resolution, nested ReadDir, and
// ReadFile without ever needing an $INDEX_ALLOCATION block.
func buildFixtureImage(t *testing.T) []byte {
	t.Helper()

	img := make([]byte, testTotalSectors*testBytesPerSector)

	raw := rawBootSector{
		OEMID:                 [8]byte{'N', 'T', 'F', 'S', ' ', ' ', ' ', ' '},
		BytesPerSector:        testBytesPerSector,
		SectorsPerCluster:     1,
		TotalSectors:          testTotalSectors,
		MFTClusterNumber:      testMFTStartLCN,
		ClustersPerMFTRecord:  -9, // 1 << 9 == 512 bytes, one cluster
		ClustersPerIndexBlock: -9,
		BootSignature:         0xAA55,
	}
	w := bytewriter.New(img[:512])
	require.NoError(t, binary.Write(w, binary.LittleEndian, raw))

	helloData := []byte("hello ntfs")
	leafData := []byte("leaf content")
	bitmap := make([]byte, 8) // 64 clusters / 8

	records := make([][]byte, testMFTRecordCount)

	records[0] = buildMFTRecord(mftRecordFlagInUse,
		buildNonResidentAttr(attrTypeData, "", 0, testMFTRecordCount-1,
			encodeSingleRun(testMFTRecordCount, testMFTStartLCN),
			uint64(testMFTRecordCount)*testBytesPerSector))
	records[1] = make([]byte, 512) // $MFTMirr, never read by this driver
	records[2] = make([]byte, 512) // reserved

	records[3] = buildMFTRecord(mftRecordFlagInUse,
		buildResidentAttr(attrTypeVolumeName, "", utf16le("SURVIVAL")))

	records[4] = make([]byte, 512) // reserved

	records[5] = buildMFTRecord(mftRecordFlagInUse|mftRecordFlagDirectory,
		buildResidentAttr(attrTypeIndexRoot, indexAttributeName, buildIndexRootValue(
			buildIndexEntry(recHello, "hello.txt", false, uint64(len(helloData)), false),
			buildIndexEntry(recSubdir, "subdir", true, 0, true),
		)))

	records[6] = buildMFTRecord(mftRecordFlagInUse,
		buildResidentAttr(attrTypeData, "", bitmap))

	records[recHello] = buildMFTRecord(mftRecordFlagInUse,
		buildResidentAttr(attrTypeData, "", helloData))

	records[recSubdir] = buildMFTRecord(mftRecordFlagInUse|mftRecordFlagDirectory,
		buildResidentAttr(attrTypeIndexRoot, indexAttributeName, buildIndexRootValue(
			buildIndexEntry(recLeaf, "leaf.txt", false, uint64(len(leafData)), true),
		)))

	records[recLeaf] = buildMFTRecord(mftRecordFlagInUse,
		buildResidentAttr(attrTypeData, "", leafData))

	for i, rec := range records {
		sector := testMFTStartLCN + i
		copy(img[sector*testBytesPerSector:], rec)
	}

	return img
}

func mountFixtureVolume(t *testing.T) *Volume {
	t.Helper()
	raw := buildFixtureImage(t)
	mem := diskimage.NewMemoryFrom(raw)
	read, write := mem.Funcs(testBytesPerSector)
	v, err := Mount(testBytesPerSector, read, write)
	require.Nil(t, err)
	return v
}

func TestMountReadsGeometryAndLabel(t *testing.T) {
	v := mountFixtureVolume(t)
	assert.Equal(t, "SURVIVAL", v.Label())
	info := v.VolumeInfo()
	assert.EqualValues(t, testTotalSectors*testBytesPerSector, info.TotalBytes)
	assert.LessOrEqual(t, info.FreeBytes, info.TotalBytes)
}

func TestReadDirListsRootEntries(t *testing.T) {
	v := mountFixtureVolume(t)
	entries, err := v.ReadDir("/")
	require.NoError(t, err)

	byName := map[string]survivalfsDirEntryAssertion{}
	for _, e := range entries {
		byName[e.Name] = survivalfsDirEntryAssertion{size: e.Size, isDir: e.IsDir}
	}
	require.Contains(t, byName, "hello.txt")
	require.Contains(t, byName, "subdir")
	assert.False(t, byName["hello.txt"].isDir)
	assert.True(t, byName["subdir"].isDir)
}

type survivalfsDirEntryAssertion struct {
	size  uint64
	isDir bool
}

func TestReadFileReturnsResidentData(t *testing.T) {
	v := mountFixtureVolume(t)
	got, err := v.ReadFile("/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello ntfs", string(got))
	assert.EqualValues(t, len("hello ntfs"), v.FileSize("/hello.txt"))
}

func TestReadDirAndReadFileDescendIntoSubdirectory(t *testing.T) {
	v := mountFixtureVolume(t)

	entries, err := v.ReadDir("/subdir")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "leaf.txt", entries[0].Name)

	got, err := v.ReadFile("/subdir/leaf.txt")
	require.NoError(t, err)
	assert.Equal(t, "leaf content", string(got))
}

func TestExistsAndNotFound(t *testing.T) {
	v := mountFixtureVolume(t)
	assert.True(t, v.Exists("/hello.txt"))
	assert.True(t, v.Exists("/subdir/leaf.txt"))
	assert.False(t, v.Exists("/nope.txt"))

	_, err := v.ReadFile("/nope.txt")
	assert.Error(t, err)
}

func TestWritesAreRejectedReadOnly(t *testing.T) {
	v := mountFixtureVolume(t)
	assert.ErrorIs(t, v.WriteFile("/new.txt", []byte("x")), fserrors.ErrReadOnly)
	assert.ErrorIs(t, v.Mkdir("/newdir"), fserrors.ErrReadOnly)
	assert.ErrorIs(t, v.Rename("/hello.txt", "OTHER.TXT"), fserrors.ErrReadOnly)
	assert.ErrorIs(t, v.Delete("/hello.txt"), fserrors.ErrReadOnly)
}
