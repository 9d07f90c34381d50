// Package fat32 formats a block device as FAT32 and writes files to the
// freshly-formatted volume: geometry selection, BPB/backup-BPB/FSInfo
// construction, bulk FAT zeroing, and an ensure_dir + 8.3/LFN directory
// entry writer, grounded on spec.md §4.6 and the teacher's own
// bytewriter-based record assembly style (see exfat/build.go, DESIGN.md).
package fat32

const (
	reservedSectors  = 32
	numberOfFats     = 2
	backupBPBSector  = 6
	fsInfoSector     = 1
	rootDirCluster   = 2
	bytesPerDirEntry = 32
	minDataClusters  = 65525
)

// Cluster/FAT sentinel values (32-bit, top 4 bits reserved/ignored).
// Any value >= eocRangeStart is an end-of-chain marker; spec.md's format
// sequence uses the literal 0x0FFFFFF8 for the root directory's own EOC
// entry, while freshly allocated chains built afterward terminate with the
// more conventional 0xFFFFFFFF. Both fall in the same "end" range.
const (
	clusterFree      uint32 = 0x00000000
	clusterEOC       uint32 = 0xFFFFFFFF
	clusterMediaEcho uint32 = 0x0FFFFFF8
	clusterBad       uint32 = 0x0FFFFFF7
	eocRangeStart    uint32 = 0x0FFFFFF8
)

// Directory entry attribute bits. attrLFN (0x0F, in direntry.go) is the
// combination of the read-only, hidden, system and volume-ID bits, reserved
// to mark long-filename entries rather than ever being used as an actual
// attribute set.
const (
	attrReadOnly  = 0x01
	attrVolumeID  = 0x08
	attrDirectory = 0x10
	attrArchive   = 0x20
)

const volumeLabel = "SURVIVAL   " // 11 bytes, 8.3 padded
const oemName = "SURVIVAL"
const fsTypeLabel = "FAT32   "

// dirEntryLoc locates one short-name directory entry: its parent
// directory's first cluster and the byte offset of the entry within that
// directory's concatenated cluster-chain byte stream.
type dirEntryLoc struct {
	parentCluster uint32
	bufOffset     int
}

// dirent is one parsed (short-name, LFN-resolved) directory entry.
type dirent struct {
	name         string
	shortName    [11]byte // the actual on-disk 8.3 field, for tail-collision checks
	isDir        bool
	firstCluster uint32
	size         uint32
	loc          dirEntryLoc
	entryCount   int // 1 short entry + however many LFN entries preceded it
}
