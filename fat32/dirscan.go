package fat32

import (
	"encoding/binary"
	"fmt"

	"github.com/levkropp/survivalfs/fserrors"
)

// loadDirectoryChain reads a directory's entire entry stream into one
// contiguous buffer, following its FAT chain, mirroring
// exfat's loadDirectoryChain.
func (v *Volume) loadDirectoryChain(first uint32) ([]byte, []uint32, fserrors.DriverError) {
	var buf []byte
	var clusters []uint32
	c := first
	for {
		clusters = append(clusters, c)
		data, err := v.readCluster(c)
		if err != nil {
			return nil, nil, err
		}
		buf = append(buf, data...)

		next, ok, err := v.nextCluster(c)
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

// scanDirectory walks a directory's 32-byte entries, reassembling
// VFAT long-name sequences into their short entry and collecting the
// volume label entry if this is the root.
func (v *Volume) scanDirectory(first uint32) (entries []dirent, label string, err fserrors.DriverError) {
	buf, _, derr := v.loadDirectoryChain(first)
	if derr != nil {
		return nil, "", derr
	}

	var pendingLFN []uint16 // accumulated UTF-16 units, built up in reverse-physical order
	pos := 0
	for pos+bytesPerDirEntry <= len(buf) {
		e := buf[pos : pos+bytesPerDirEntry]
		marker := e[0]
		if marker == dirEntryFree {
			break
		}
		if marker == dirEntryUnused {
			pendingLFN = nil
			pos += bytesPerDirEntry
			continue
		}
		attrs := e[11]
		if attrs&0x3F == attrLFN {
			units := lfnEntryUnits(e)
			pendingLFN = append(units, pendingLFN...)
			pos += bytesPerDirEntry
			continue
		}
		if attrs&attrVolumeID != 0 {
			label = shortNameDisplay(e[0:11])
			pendingLFN = nil
			pos += bytesPerDirEntry
			continue
		}

		entryCount := 1
		var name string
		if len(pendingLFN) > 0 {
			name = utf16UnitsToString(pendingLFN)
			entryCount = 1 + lfnEntriesFor(pendingLFN)
		} else {
			name = shortNameDisplay(e[0:11])
		}
		pendingLFN = nil

		firstCluster := uint32(binary.LittleEndian.Uint16(e[20:22]))<<16 | uint32(binary.LittleEndian.Uint16(e[26:28]))
		size := binary.LittleEndian.Uint32(e[28:32])
		var shortName [11]byte
		copy(shortName[:], e[0:11])

		entries = append(entries, dirent{
			name:         name,
			shortName:    shortName,
			isDir:        attrs&attrDirectory != 0,
			firstCluster: firstCluster,
			size:         size,
			loc:          dirEntryLoc{parentCluster: first, bufOffset: pos - (entryCount-1)*bytesPerDirEntry},
			entryCount:   entryCount,
		})
		pos += bytesPerDirEntry
	}

	return entries, label, nil
}

func lfnEntryUnits(e []byte) []uint16 {
	var units []uint16
	for _, r := range [][2]int{{1, 11}, {14, 26}, {28, 32}} {
		for i := r[0]; i < r[1]; i += 2 {
			u := binary.LittleEndian.Uint16(e[i : i+2])
			if u == 0x0000 || u == 0xFFFF {
				return units
			}
			units = append(units, u)
		}
	}
	return units
}

func lfnEntriesFor(units []uint16) int {
	return (len(units) + 12) / 13
}

func utf16UnitsToString(units []uint16) string {
	raw := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(raw[i*2:], u)
	}
	return decodeUTF16LE(raw)
}

// shortNameDisplay renders an 11-byte 8.3 field back into "BASE.EXT" form
// (or bare "BASE" with no extension), trimming trailing spaces.
func shortNameDisplay(raw []byte) string {
	base := trimTrailingSpaces(raw[0:8])
	ext := trimTrailingSpaces(raw[8:11])
	if ext == "" {
		return base
	}
	return fmt.Sprintf("%s.%s", base, ext)
}

func trimTrailingSpaces(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == ' ' {
		end--
	}
	return string(b[:end])
}
