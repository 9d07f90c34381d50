// Package datarun decodes NTFS's variable-length run-list encoding into
// an ordered list of extents.
package datarun

import (
	"github.com/levkropp/survivalfs/fserrors"
)

// Extent describes one contiguous run of clusters within a non-resident
// attribute: VCN within the attribute, starting LCN on disk, and cluster
// count. An LCN of 0 with nonzero Length denotes a sparse extent:
// zero-fill on read, error to write.
type Extent struct {
	VCN    int64
	LCN    int64
	Length int64
}

// IsSparse reports whether this extent is a hole (offset size 0 in the
// encoding).
func (e Extent) IsSparse() bool { return e.LCN == 0 && e.Length > 0 }

// Decode parses a run list starting at the beginning of raw, per the
// grammar:
//
//	sequence of runs terminated by a zero header byte; each run is a header
//	byte (low nibble = length-size 1..8, high nibble = offset-size 0..8),
//	length_size little-endian unsigned bytes (cluster count), then
//	offset_size little-endian signed bytes (delta from the previous run's
//	LCN, sign-extended to 64 bits; 0 offset_size denotes a sparse run and
//	does not update the delta baseline).
//
// Decoding stops at the terminating zero byte, at the end of raw, or once
// maxExtents runs have been emitted, whichever comes first.
func Decode(raw []byte, maxExtents int) ([]Extent, fserrors.DriverError) {
	var extents []Extent
	var vcn int64
	var lcn int64
	pos := 0

	for pos < len(raw) {
		header := raw[pos]
		if header == 0 {
			break
		}
		if len(extents) >= maxExtents {
			break
		}

		lengthSize := int(header & 0x0F)
		offsetSize := int(header >> 4)
		pos++

		if lengthSize == 0 {
			return nil, fserrors.ErrCorruptFilesystem.WithMessage(
				"data run has a zero length-size field")
		}
		if lengthSize > 8 || offsetSize > 8 {
			return nil, fserrors.ErrCorruptFilesystem.WithMessage(
				"data run length/offset size field exceeds 8 bytes")
		}
		if pos+lengthSize+offsetSize > len(raw) {
			return nil, fserrors.ErrCorruptFilesystem.WithMessage(
				"data run extends past the end of the run list")
		}

		length := readUnsigned(raw[pos : pos+lengthSize])
		pos += lengthSize

		sparse := offsetSize == 0
		var thisLCN int64
		if sparse {
			thisLCN = 0
		} else {
			delta := readSignedExtended(raw[pos : pos+offsetSize])
			pos += offsetSize
			lcn += delta
			thisLCN = lcn
		}

		extents = append(extents, Extent{VCN: vcn, LCN: thisLCN, Length: length})
		vcn += length
	}

	return extents, nil
}

// readUnsigned decodes a little-endian unsigned value of arbitrary byte
// length (up to 8) into an int64. Run lengths are cluster counts and are
// never large enough to overflow a signed 64-bit value in practice.
func readUnsigned(b []byte) int64 {
	var v int64
	for i := len(b) - 1; i >= 0; i-- {
		v = (v << 8) | int64(b[i])
	}
	return v
}

// readSignedExtended decodes a little-endian two's-complement value of
// arbitrary byte length (1..8) and sign-extends it to a full int64, per
// the run list's sign-extension-on-offset-deltas rule.
func readSignedExtended(b []byte) int64 {
	var v int64
	for i := len(b) - 1; i >= 0; i-- {
		v = (v << 8) | int64(b[i])
	}

	// Sign-extend from the width of b to 64 bits.
	bits := uint(len(b)) * 8
	if bits < 64 && v&(1<<(bits-1)) != 0 {
		v |= -1 << bits
	}
	return v
}
