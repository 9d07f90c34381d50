package dispatch

import (
	"strings"

	"github.com/levkropp/survivalfs"
)

// Char16Path is a UEFI-style CHAR16 path: UCS-2 code units with `\`
// separators, the representation spec.md §4.7 says arrives at the
// dispatcher's boundary before being converted to the ASCII `/`-separated
// form every driver actually expects.
type Char16Path []uint16

// NewChar16Path encodes an ASCII `\`-separated string as a Char16Path, for
// callers (and tests) that only have a Go string in hand.
func NewChar16Path(s string) Char16Path {
	out := make(Char16Path, len(s))
	for i := 0; i < len(s); i++ {
		out[i] = uint16(s[i])
	}
	return out
}

// convertPath performs the boundary conversion spec.md §4.7 requires: CHAR16
// units widened back to bytes and decoded the same way every driver decodes
// an on-disk UTF-16LE name (survivalfs.DecodeUTF16LE, which also lossily
// folds to ASCII), then `\` separators are rewritten to `/`.
func convertPath(p Char16Path) string {
	raw := make([]byte, len(p)*2)
	for i, u := range p {
		raw[2*i] = byte(u)
		raw[2*i+1] = byte(u >> 8)
	}
	decoded := survivalfs.DecodeUTF16LE(raw)
	return strings.ReplaceAll(decoded, `\`, "/")
}
