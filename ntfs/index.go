package ntfs

import (
	"encoding/binary"
	"sort"

	"github.com/levkropp/survivalfs"
	"github.com/levkropp/survivalfs/datarun"
	"github.com/levkropp/survivalfs/fixup"
	"github.com/levkropp/survivalfs/fserrors"
)

const indexAttributeName = "$I30"

// indexNodeHeaderSize is the size of the node header preceding an index's
// entries, both in INDEX_ROOT's inline value and at offset 24 of an INDX
// block (after the INDX block's own fixed record header).
const indexNodeHeaderSize = 16

// walkIndexEntries decodes one index node's entries starting at
// buf[entriesOffset:], stopping at the entry with the "last entry" flag
// (0x02) or the end of allocatedSize.
func walkIndexEntries(buf []byte, entriesOffset uint32, allocatedSize uint32) []indexEntry {
	var out []indexEntry
	pos := int(entriesOffset)
	limit := int(allocatedSize)
	if limit > len(buf) {
		limit = len(buf)
	}

	for pos+16 <= limit {
		ref := mftReference(binary.LittleEndian.Uint64(buf[pos : pos+8]))
		entryLength := binary.LittleEndian.Uint16(buf[pos+8 : pos+10])
		streamLength := binary.LittleEndian.Uint16(buf[pos+10 : pos+12])
		flags := binary.LittleEndian.Uint16(buf[pos+12 : pos+14])

		if entryLength < 16 || pos+int(entryLength) > limit {
			break
		}

		if streamLength >= 66 {
			fn := parseFileNameAttr(buf[pos+16 : pos+16+int(streamLength)])
			out = append(out, indexEntry{
				ref:       ref,
				name:      fn.name,
				namespace: fn.namespace,
				isDir:     fn.isDir,
				size:      fn.size,
			})
		}

		if flags&0x02 != 0 { // last entry in node
			break
		}
		pos += int(entryLength)
	}
	return out
}

type parsedFileName struct {
	name      string
	namespace uint8
	isDir     bool
	size      uint64
}

// parseFileNameAttr decodes a $FILE_NAME attribute value (as embedded in an
// index entry's stream): parent reference, sizes, flags, name length,
// namespace, and the UTF-16 name.
func parseFileNameAttr(v []byte) parsedFileName {
	if len(v) < 66 {
		return parsedFileName{}
	}
	allocatedSize := binary.LittleEndian.Uint64(v[40:48])
	_ = allocatedSize
	realSize := binary.LittleEndian.Uint64(v[48:56])
	flags := binary.LittleEndian.Uint32(v[56:60])
	nameLength := v[64]
	namespace := v[65]
	nameBytes := v[66 : 66+int(nameLength)*2]
	return parsedFileName{
		name:      decodeUTF16LE(nameBytes),
		namespace: namespace,
		isDir:     flags&fileAttrDirectory != 0,
		size:      realSize,
	}
}

// indexRootHeader is the fixed prefix of an $INDEX_ROOT attribute's value.
type indexRootHeader struct {
	attrType        uint32
	collationRule   uint32
	indexBlockSize  uint32
	clustersPerIndx uint8
	entriesOffset   uint32
	indexSize       uint32
	allocatedSize   uint32
	flags           uint8
}

func parseIndexRootHeader(v []byte) indexRootHeader {
	var h indexRootHeader
	h.attrType = binary.LittleEndian.Uint32(v[0:4])
	h.collationRule = binary.LittleEndian.Uint32(v[4:8])
	h.indexBlockSize = binary.LittleEndian.Uint32(v[8:12])
	h.clustersPerIndx = v[12]
	// Node header begins at offset 16, within which entriesOffset is
	// relative to the start of the node header itself (offset 16).
	h.entriesOffset = 16 + binary.LittleEndian.Uint32(v[16:20])
	h.indexSize = binary.LittleEndian.Uint32(v[20:24])
	// allocatedSize is relative to the node header's own start (offset 16),
	// same as entriesOffset, so it must be rebased the same way.
	h.allocatedSize = 16 + binary.LittleEndian.Uint32(v[24:28])
	h.flags = v[28]
	return h
}

const indexHeaderFlagHasAllocation = 0x01

// listDirectory reads MFT record recordNum's $INDEX_ROOT (and
// $INDEX_ALLOCATION, if present) to produce the deduplicated, sorted
// directory listing spec.md describes.
func (v *Volume) listDirectory(recordNum uint64) ([]survivalfs.DirEntry, fserrors.DriverError) {
	record, rerr := v.readMFTRecord(recordNum)
	if rerr != nil {
		return nil, rerr
	}
	hdr, herr := parseMFTRecordHeader(record)
	if herr != nil {
		return nil, herr
	}
	if hdr.flags&mftRecordFlagInUse == 0 {
		return nil, fserrors.ErrNotFound.WithMessage("MFT record is not in use")
	}

	attrs, aerr := findAttributes(record, hdr.firstAttrOffset, hdr.usedSize)
	if aerr != nil {
		return nil, aerr
	}
	rootAttr, ok := findAttribute(attrs, attrTypeIndexRoot, indexAttributeName)
	if !ok {
		return nil, fserrors.ErrCorruptFilesystem.WithMessage("directory record has no $INDEX_ROOT")
	}

	rootHeader := parseIndexRootHeader(rootAttr.residentValue)
	var entries []indexEntry
	entries = append(entries, walkIndexEntries(rootAttr.residentValue, rootHeader.entriesOffset, rootHeader.allocatedSize)...)

	if rootHeader.flags&indexHeaderFlagHasAllocation != 0 {
		allocEntries, aerr := v.walkIndexAllocation(recordNum, record, hdr)
		if aerr != nil {
			return nil, aerr
		}
		entries = append(entries, allocEntries...)
	}

	return dedupeAndSort(entries), nil
}

// walkIndexAllocation reads every INDX block referenced by
// $INDEX_ALLOCATION's data runs, fixup-validates each, and walks its
// entries.
func (v *Volume) walkIndexAllocation(recordNum uint64, record []byte, hdr mftRecordHeader) ([]indexEntry, fserrors.DriverError) {
	allocAttr, extra, rerr := v.resolveAttribute(recordNum, record, hdr, attrTypeIndexAllocation, indexAttributeName)
	if rerr != nil {
		return nil, rerr
	}

	extents, derr := datarun.Decode(allocAttr.dataRuns, 1<<20)
	if derr != nil {
		return nil, derr
	}
	for i := range extents {
		extents[i].VCN += allocAttr.startVCN
	}
	extents = append(extents, extra...)
	sortExtentsByVCN(extents)

	blockSize := uint64(v.boot.IndexBlockSize)
	var out []indexEntry
	var totalClusters int64
	for _, e := range extents {
		totalClusters += e.Length
	}
	clustersPerBlock := blockSize / uint64(v.boot.BytesPerCluster)
	if clustersPerBlock == 0 {
		clustersPerBlock = 1
	}
	numBlocks := uint64(totalClusters) / clustersPerBlock

	for i := uint64(0); i < numBlocks; i++ {
		blockBytes, err := v.readClustersFromExtents(extents, i*blockSize, blockSize)
		if err != nil {
			return nil, err
		}
		if string(blockBytes[0:4]) != indxBlockSignature {
			return nil, fserrors.ErrCorruptFilesystem.WithMessage("INDX block missing signature")
		}
		usaOffset := binary.LittleEndian.Uint16(blockBytes[4:6])
		usaCount := binary.LittleEndian.Uint16(blockBytes[6:8])
		if ferr := fixup.Apply(blockBytes, int(v.boot.BytesPerSector), int(usaOffset), int(usaCount)); ferr != nil {
			return nil, ferr
		}
		entriesOffset := 24 + binary.LittleEndian.Uint32(blockBytes[24:28])
		// allocatedSize is relative to the node header's own start (offset
		// 24, right after the INDX block's fixed record header).
		allocatedSize := 24 + binary.LittleEndian.Uint32(blockBytes[32:36])
		out = append(out, walkIndexEntries(blockBytes, entriesOffset, allocatedSize)...)
	}

	return out, nil
}

// dedupeAndSort applies the namespace-deduplication rule (one entry per
// MFT reference, preferring Win32/Win32+DOS over pure DOS), skips "." and
// "..", and sorts directories first then case-insensitive ASCII ascending.
func dedupeAndSort(entries []indexEntry) []survivalfs.DirEntry {
	best := make(map[uint64]indexEntry)
	order := make([]uint64, 0, len(entries))

	for _, e := range entries {
		if e.name == "." || e.name == ".." {
			continue
		}
		key := e.ref.recordNumber()
		existing, seen := best[key]
		if !seen {
			best[key] = e
			order = append(order, key)
			continue
		}
		if preferNamespace(e.namespace, existing.namespace) {
			best[key] = e
		}
	}

	out := make([]survivalfs.DirEntry, 0, len(order))
	for _, key := range order {
		e := best[key]
		out = append(out, survivalfs.DirEntry{Name: e.name, Size: e.size, IsDir: e.isDir})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir
		}
		return survivalfs.UpcaseASCII(out[i].Name) < survivalfs.UpcaseASCII(out[j].Name)
	})
	return out
}

// preferNamespace reports whether candidate should replace current as the
// reported name for a record: Win32 and Win32+DOS outrank pure DOS and
// POSIX.
func preferNamespace(candidate, current uint8) bool {
	return namespaceRank(candidate) > namespaceRank(current)
}

func namespaceRank(ns uint8) int {
	switch ns {
	case namespaceWin32, namespaceWin32DOS:
		return 2
	case namespacePOSIX:
		return 1
	case namespaceDOS:
		return 0
	default:
		return 0
	}
}

// findInIndex performs an indexed lookup of name within recordNum's
// directory, short-circuiting path resolution on the first
// ASCII-case-insensitive match (reusing the same listing walk).
func (v *Volume) findInIndex(recordNum uint64, name string) (indexEntry, bool, fserrors.DriverError) {
	record, rerr := v.readMFTRecord(recordNum)
	if rerr != nil {
		return indexEntry{}, false, rerr
	}
	hdr, herr := parseMFTRecordHeader(record)
	if herr != nil {
		return indexEntry{}, false, herr
	}
	attrs, aerr := findAttributes(record, hdr.firstAttrOffset, hdr.usedSize)
	if aerr != nil {
		return indexEntry{}, false, aerr
	}
	rootAttr, ok := findAttribute(attrs, attrTypeIndexRoot, indexAttributeName)
	if !ok {
		return indexEntry{}, false, fserrors.ErrCorruptFilesystem.WithMessage("directory record has no $INDEX_ROOT")
	}
	rootHeader := parseIndexRootHeader(rootAttr.residentValue)
	entries := walkIndexEntries(rootAttr.residentValue, rootHeader.entriesOffset, rootHeader.allocatedSize)

	if rootHeader.flags&indexHeaderFlagHasAllocation != 0 {
		allocEntries, aerr := v.walkIndexAllocation(recordNum, record, hdr)
		if aerr != nil {
			return indexEntry{}, false, aerr
		}
		entries = append(entries, allocEntries...)
	}

	for _, e := range entries {
		if e.name == "." || e.name == ".." {
			continue
		}
		if survivalfs.EqualFoldASCII(e.name, name) {
			return e, true, nil
		}
	}
	return indexEntry{}, false, nil
}
