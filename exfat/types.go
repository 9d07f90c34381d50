// Package exfat implements a read/write driver for the exFAT on-disk
// format: boot sector parsing, allocation bitmap management, directory
// entry sets, cluster chain traversal, and the file operations exposed
// through survivalfs.Volume.
package exfat

// ClusterID identifies a cluster within the volume's cluster heap.
// Cluster numbering starts at 2; 0 and 1 are reserved.
type ClusterID uint32

const (
	firstDataCluster ClusterID = 2
	clusterFree      uint32    = 0x00000000
	clusterBad       uint32    = 0xFFFFFFF7
	clusterEOC       uint32    = 0xFFFFFFFF
)

// Directory entry type bytes, per the exFAT entry-type byte layout. Bit 7
// of the type byte is the InUse flag; these constants are the "in use"
// forms.
const (
	entryTypeEndOfDirectory   byte = 0x00
	entryTypeBitmap           byte = 0x81
	entryTypeUpcaseTable      byte = 0x82
	entryTypeVolumeLabel      byte = 0x83
	entryTypeFile             byte = 0x85
	entryTypeStreamExtension  byte = 0xC0
	entryTypeFileName         byte = 0xC1
)

const (
	entryInUseBit byte = 0x80
	entryTypeMask byte = 0x7F
)

const entrySize = 32

// File attribute bits used in the File entry (0x85).
const (
	attrReadOnly  uint16 = 0x0001
	attrHidden    uint16 = 0x0002
	attrSystem    uint16 = 0x0004
	attrDirectory uint16 = 0x0010
	attrArchive   uint16 = 0x0020
)

// Stream Extension flags.
const (
	streamFlagAllocationPossible uint8 = 0x01
	streamFlagNoFatChain         uint8 = 0x02
)

// location pins an entry set's position within its parent directory's
// concatenated cluster-chain byte stream, so rename/delete can find it
// again and patch it in place without re-walking the whole directory.
type location struct {
	bufOffset int
}

// dirent is the fully-parsed form of one exFAT directory entry set: a
// File entry, its Stream Extension, and concatenated name.
type dirent struct {
	name            string
	isDir           bool
	firstCluster    ClusterID
	dataLength      uint64
	validDataLength uint64
	noFatChain      bool
	attrs           uint16
	loc             location // location of the File entry itself
	entryCount      int      // 1 (file) + 1 (stream) + name entries
}
