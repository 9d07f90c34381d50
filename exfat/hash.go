package exfat

import "github.com/levkropp/survivalfs"

// rollingHash16 implements the rolling 16-bit hash used for both the
// directory entry-set checksum and the file name hash:
// h <- ((h << 15) | (h >> 1)) + byte.
func rollingHash16(h uint16, b byte) uint16 {
	return ((h << 15) | (h >> 1)) + uint16(b)
}

// nameHash hashes a name the way the Stream Extension entry's name_hash
// field is computed: upcase each UTF-16 code unit (ASCII-only upcase),
// then feed its low byte, then its high byte, into the rolling hash.
func nameHash(utf16Units []uint16) uint16 {
	var h uint16
	for _, unit := range utf16Units {
		u := upcaseUTF16Unit(unit)
		h = rollingHash16(h, byte(u&0xFF))
		h = rollingHash16(h, byte(u>>8))
	}
	return h
}

// upcaseUTF16Unit upcases a single UTF-16 code unit in the ASCII range
// only, leaving every other code unit (including all non-Latin script)
// untouched.
func upcaseUTF16Unit(u uint16) uint16 {
	if u >= 'a' && u <= 'z' {
		return u - ('a' - 'A')
	}
	return u
}

// entrySetChecksum computes the entry-set checksum over the concatenated
// raw bytes of every entry in the set, skipping bytes 2 and 3 of the
// first entry (the checksum field itself).
func entrySetChecksum(entries [][]byte) uint16 {
	var h uint16
	for entryIdx, raw := range entries {
		for byteIdx, b := range raw {
			if entryIdx == 0 && (byteIdx == 2 || byteIdx == 3) {
				continue
			}
			h = rollingHash16(h, b)
		}
	}
	return h
}

// encodeNameUTF16 converts an ASCII name (already validated by the caller)
// into UTF-16 code units for storage in Name entries.
func encodeNameUTF16(name string) []uint16 {
	units := make([]uint16, 0, len(name))
	for _, r := range name {
		units = append(units, uint16(r))
	}
	return units
}

// asciiUpcase is the same ASCII-only case fold survivalfs.UpcaseASCII
// performs, re-exported for path-component comparisons inside the driver.
func asciiUpcase(s string) string {
	return survivalfs.UpcaseASCII(s)
}
