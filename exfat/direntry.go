package exfat

import (
	"encoding/binary"

	"github.com/levkropp/survivalfs"
	"github.com/levkropp/survivalfs/fserrors"
)

// scanResult is everything mount/directory-iteration cares about from one
// pass over a directory's entries.
type scanResult struct {
	hasBitmap          bool
	bitmapFirstCluster ClusterID
	bitmapDataLength   uint64
	label              string
	entries            []dirent
}

// loadDirectoryChain reads a directory's entire entry stream into one
// contiguous in-memory buffer, following the FAT chain from first until
// end-of-chain, and returns both the buffer and the list of clusters it
// came from (so callers can translate a buffer offset back into a
// (cluster, byte offset) location).
func (v *Volume) loadDirectoryChain(first ClusterID) ([]byte, []ClusterID, fserrors.DriverError) {
	var buf []byte
	var clusters []ClusterID
	c := first
	for {
		clusters = append(clusters, c)
		data, err := v.readCluster(c)
		if err != nil {
			return nil, nil, err
		}
		buf = append(buf, data...)

		next, ok, err := v.nextCluster(c, chainFAT)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			break
		}
		c = next
	}
	return buf, clusters, nil
}

// scanDirectory walks a directory's entries, collecting the bitmap
// pointer, volume label, and every file/subdirectory entry set it finds.
// Entries with invalid checksums are skipped, never reported, matching
// the exFAT convention for tolerating a partially-corrupt directory.
func (v *Volume) scanDirectory(first ClusterID) (*scanResult, fserrors.DriverError) {
	buf, _, err := v.loadDirectoryChain(first)
	if err != nil {
		return nil, err
	}

	result := &scanResult{}
	pos := 0
	for pos+entrySize <= len(buf) {
		typeByte := buf[pos]
		if typeByte == entryTypeEndOfDirectory {
			break
		}
		inUse := typeByte&entryInUseBit != 0
		baseType := typeByte & entryTypeMask

		switch {
		case inUse && baseType == entryTypeBitmap&entryTypeMask:
			flags := buf[pos+1]
			if flags&0x01 == 0 { // first bitmap only
				result.hasBitmap = true
				result.bitmapFirstCluster = ClusterID(binary.LittleEndian.Uint32(buf[pos+20 : pos+24]))
				result.bitmapDataLength = binary.LittleEndian.Uint64(buf[pos+24 : pos+32])
			}
			pos += entrySize

		case inUse && baseType == entryTypeVolumeLabel&entryTypeMask:
			charCount := int(buf[pos+1])
			units := make([]uint16, charCount)
			for i := 0; i < charCount; i++ {
				units[i] = binary.LittleEndian.Uint16(buf[pos+2+i*2:])
			}
			result.label = utf16UnitsToASCII(units)
			pos += entrySize

		case inUse && baseType == entryTypeFile&entryTypeMask:
			secondaryCount := int(buf[pos+1])
			setLen := (1 + secondaryCount) * entrySize
			if pos+setLen > len(buf) || secondaryCount < 1 {
				pos += entrySize
				continue
			}
			raw := buf[pos : pos+setLen]
			if de, ok := parseEntrySet(raw); ok {
				de.loc = location{bufOffset: pos}
				de.entryCount = 1 + secondaryCount
				result.entries = append(result.entries, de)
			}
			pos += setLen

		default:
			pos += entrySize
		}
	}

	return result, nil
}

// parseEntrySet validates and decodes a File entry (raw[0:32]) plus its
// Stream Extension and Name secondary entries into a dirent. Returns
// ok=false if the checksum does not match.
func parseEntrySet(raw []byte) (dirent, bool) {
	stored := binary.LittleEndian.Uint16(raw[2:4])

	entries := make([][]byte, 0, len(raw)/entrySize)
	for i := 0; i < len(raw); i += entrySize {
		entries = append(entries, raw[i:i+entrySize])
	}
	if entrySetChecksum(entries) != stored {
		return dirent{}, false
	}

	fileAttrs := binary.LittleEndian.Uint16(raw[4:6])

	stream := raw[entrySize : entrySize*2]
	if stream[0]&entryTypeMask != entryTypeStreamExtension&entryTypeMask {
		return dirent{}, false
	}
	streamFlags := stream[1]
	nameLength := int(stream[3])
	firstCluster := ClusterID(binary.LittleEndian.Uint32(stream[20:24]))
	dataLength := binary.LittleEndian.Uint64(stream[24:32])
	validDataLength := binary.LittleEndian.Uint64(stream[8:16])

	units := make([]uint16, 0, nameLength)
	for i := 2; i < len(entries); i++ {
		e := entries[i]
		if e[0]&entryTypeMask != entryTypeFileName&entryTypeMask {
			continue
		}
		for j := 0; j < 15 && len(units) < nameLength; j++ {
			units = append(units, binary.LittleEndian.Uint16(e[2+j*2:]))
		}
	}

	return dirent{
		name:            utf16UnitsToASCII(units),
		isDir:           fileAttrs&attrDirectory != 0,
		firstCluster:    firstCluster,
		dataLength:      dataLength,
		validDataLength: validDataLength,
		noFatChain:      streamFlags&streamFlagNoFatChain != 0,
		attrs:           fileAttrs,
	}, true
}

// utf16UnitsToASCII re-encodes raw UTF-16 code units to their original
// little-endian byte form and hands them to the shared UTF-16LE decoder, so
// exFAT names fold to ASCII through the same path NTFS long filenames do.
func utf16UnitsToASCII(units []uint16) string {
	raw := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(raw[i*2:], u)
	}
	return survivalfs.DecodeUTF16LE(raw)
}
