package fat32

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/noxer/bytewriter"

	"github.com/levkropp/survivalfs"
)

const (
	attrLFN        = 0x0F
	lfnLastEntry   = 0x40
	dirEntryFree   = 0x00
	dirEntryUnused = 0xE5
)

var shortNameReplacement byte = '_'

// isValidShortNameChar reports whether r is legal in an unquoted 8.3
// name component (the usual DOS charset, conservatively restricted to the
// ASCII range this driver otherwise commits to).
func isValidShortNameChar(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case strings.ContainsRune("$%'-_@~`!(){}^#&", r):
		return true
	}
	return false
}

// needsLFN reports whether name cannot be represented as a bare 8.3 short
// name: more than one dot, a base or extension too long, or characters
// outside the short-name charset (case is folded before the check).
func needsLFN(name string) bool {
	upper := survivalfs.UpcaseASCII(name)
	base, ext, ok := splitBaseExt(upper)
	if !ok || len(base) > 8 || len(ext) > 3 {
		return true
	}
	for _, r := range base + ext {
		if !isValidShortNameChar(r) {
			return true
		}
	}
	return false
}

func splitBaseExt(name string) (base, ext string, ok bool) {
	if name == "" || strings.Count(name, ".") > 1 {
		return "", "", false
	}
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:], true
	}
	return name, "", true
}

// shortNameBytes renders an 11-byte 8.3 short-name field. When the
// source name needs an LFN, tail is a numeric tail like "~1" spliced into
// the truncated base per the standard generated-short-name rule.
func shortNameBytes(name string, tail string) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}

	base, ext, ok := splitBaseExt(name)
	if !ok {
		base, ext = name, ""
	}
	base = survivalfs.UpcaseASCII(base)
	ext = survivalfs.UpcaseASCII(ext)

	baseChars := make([]byte, 0, 8)
	for _, r := range base {
		if len(baseChars) >= 8 {
			break
		}
		b := byte(r)
		if !isValidShortNameChar(rune(b)) {
			b = shortNameReplacement
		}
		baseChars = append(baseChars, b)
	}
	if tail != "" {
		maxBase := 8 - len(tail)
		if len(baseChars) > maxBase {
			baseChars = baseChars[:maxBase]
		}
		baseChars = append(baseChars, []byte(tail)...)
	}
	copy(out[0:8], baseChars)

	extChars := make([]byte, 0, 3)
	for _, r := range ext {
		if len(extChars) >= 3 {
			break
		}
		b := byte(r)
		if !isValidShortNameChar(rune(b)) {
			b = shortNameReplacement
		}
		extChars = append(extChars, b)
	}
	copy(out[8:11], extChars)

	return out
}

// lfnChecksum computes the standard VFAT short-name checksum embedded in
// every long-name entry, linking it to its following short entry.
func lfnChecksum(short [11]byte) byte {
	var sum byte
	for _, b := range short {
		sum = ((sum & 1) << 7) + (sum >> 1) + b
	}
	return sum
}

// buildLFNEntries splits name into 13-UTF16-character chunks and lays
// them out as VFAT long-name entries in reverse order (highest sequence
// number first, as spec.md requires), the last physical entry carrying
// the 0x40 "last" bit, all checksum-linked to short.
func buildLFNEntries(name string, short [11]byte) [][]byte {
	units := make([]uint16, 0, len(name))
	for _, r := range name {
		units = append(units, uint16(r))
	}
	numEntries := (len(units) + 12) / 13
	checksum := lfnChecksum(short)

	out := make([][]byte, numEntries)
	for i := 0; i < numEntries; i++ {
		buf := make([]byte, 32)
		w := bytewriter.New(buf)

		seq := byte(i + 1)
		if i == numEntries-1 {
			seq |= lfnLastEntry
		}
		binary.Write(w, binary.LittleEndian, seq)

		var chunk [13]uint16
		for j := range chunk {
			chunk[j] = 0xFFFF // unused trailing slots are padded with 0xFFFF
		}
		base := i * 13
		for j := 0; j < 13; j++ {
			idx := base + j
			if idx < len(units) {
				chunk[j] = units[idx]
			} else if idx == len(units) {
				chunk[j] = 0x0000 // NUL terminator
			}
		}

		binary.Write(w, binary.LittleEndian, chunk[0:5])
		binary.Write(w, binary.LittleEndian, uint8(attrLFN))
		binary.Write(w, binary.LittleEndian, uint8(0)) // Type
		binary.Write(w, binary.LittleEndian, checksum)
		binary.Write(w, binary.LittleEndian, chunk[5:11])
		binary.Write(w, binary.LittleEndian, uint16(0)) // FstClusLO
		binary.Write(w, binary.LittleEndian, chunk[11:13])

		// Physical order is reverse of sequence order.
		out[numEntries-1-i] = buf
	}
	return out
}

// buildShortEntry renders the 32-byte DOS short directory entry.
func buildShortEntry(short [11]byte, attrs uint8, firstCluster uint32, size uint32) []byte {
	buf := make([]byte, 32)
	w := bytewriter.New(buf)

	now := time.Now()
	date, timeOfDay := encodeDOSTimestamp(now)

	binary.Write(w, binary.LittleEndian, short)
	binary.Write(w, binary.LittleEndian, attrs)
	binary.Write(w, binary.LittleEndian, uint8(0)) // NTRes
	binary.Write(w, binary.LittleEndian, uint8(0)) // CrtTimeTenth
	binary.Write(w, binary.LittleEndian, timeOfDay)
	binary.Write(w, binary.LittleEndian, date)
	binary.Write(w, binary.LittleEndian, date) // LstAccDate
	binary.Write(w, binary.LittleEndian, uint16(firstCluster>>16))
	binary.Write(w, binary.LittleEndian, timeOfDay)
	binary.Write(w, binary.LittleEndian, date)
	binary.Write(w, binary.LittleEndian, uint16(firstCluster))
	binary.Write(w, binary.LittleEndian, size)

	return buf
}

func encodeDOSTimestamp(t time.Time) (date uint16, timeOfDay uint16) {
	year := t.Year() - 1980
	if year < 0 {
		year = 0
	}
	date = uint16(year<<9) | uint16(t.Month())<<5 | uint16(t.Day())
	timeOfDay = uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	return
}

// buildEntrySet assembles a full directory entry (LFN entries, if needed,
// followed by the short entry) for name.
func buildEntrySet(name string, attrs uint8, firstCluster uint32, size uint32, tail string) []byte {
	short := shortNameBytes(name, tail)
	var out []byte
	if needsLFN(name) {
		for _, e := range buildLFNEntries(name, short) {
			out = append(out, e...)
		}
	}
	out = append(out, buildShortEntry(short, attrs, firstCluster, size)...)
	return out
}
