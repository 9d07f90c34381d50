package survivalfs

import (
	"golang.org/x/text/encoding/unicode"
)

// utf16Decoder turns on-disk UTF-16LE byte strings (exFAT Name entries,
// NTFS $FILE_NAME attributes) into Go strings. Both drivers immediately
// fold the result through FoldToASCII: name comparisons only fold case in
// the ASCII range, and there is no promise of round-tripping non-ASCII
// characters.
var utf16Decoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()

// DecodeUTF16LE decodes a UTF-16LE byte slice (an even number of bytes) into
// a UTF-8 Go string, then immediately lossily folds it to ASCII with
// FoldToASCII. Any decoding error degrades to a best-effort '?' filled
// string rather than failing the caller: unrepresentable name bytes are
// display-only garbage, never a reason to abort a directory listing.
func DecodeUTF16LE(raw []byte) string {
	decoded, err := utf16Decoder.Bytes(raw)
	if err != nil {
		// Decoding failed outright (odd length, invalid surrogate pair).
		// Produce a same-length run of '?' so callers still get a
		// plausible filename instead of an empty string.
		decoded = make([]byte, len(raw)/2)
		for i := range decoded {
			decoded[i] = '?'
		}
	}
	return FoldToASCII(string(decoded))
}

// FoldToASCII converts a UTF-8 string to its ASCII-range equivalent,
// replacing every code point outside [0x20, 0x7E] with '?'. This is the
// lossy conversion step used when assembling exFAT names from UTF-16 Name
// entries, and is applied identically to NTFS long and short names so both
// drivers agree on what a name "is".
func FoldToASCII(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= 0x20 && r <= 0x7E {
			out = append(out, r)
		} else {
			out = append(out, '?')
		}
	}
	return string(out)
}

// UpcaseASCII upcases only the ASCII range of a string, leaving every other
// byte alone. Used by the exFAT name hash and by every case-insensitive
// path comparison in both drivers: comparisons only fold case for A-Z/a-z,
// never attempting non-Latin collation.
func UpcaseASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}

// EqualFoldASCII reports whether a and b are equal once both are folded
// through UpcaseASCII. This is the name-comparison primitive path
// resolution in exfat and ntfs both use.
func EqualFoldASCII(a, b string) bool {
	return UpcaseASCII(a) == UpcaseASCII(b)
}
