package ntfs

import (
	"encoding/binary"

	"github.com/levkropp/survivalfs/datarun"
	"github.com/levkropp/survivalfs/fserrors"
)

// findAttributes walks a record buffer from firstAttrOffset to usedSize,
// decoding every attribute up to the 0xFFFFFFFF terminator. Attribute
// length must be >= 16 per the fixed invariant.
func findAttributes(record []byte, firstAttrOffset uint16, usedSize uint32) ([]attr, fserrors.DriverError) {
	var out []attr
	pos := int(firstAttrOffset)
	limit := int(usedSize)
	if limit > len(record) {
		limit = len(record)
	}

	for pos+4 <= limit {
		typeCode := binary.LittleEndian.Uint32(record[pos : pos+4])
		if typeCode == attrTypeEnd {
			break
		}
		if pos+16 > limit {
			return nil, fserrors.ErrCorruptFilesystem.WithMessage("attribute header truncated")
		}
		length := binary.LittleEndian.Uint32(record[pos+4 : pos+8])
		if length < 16 || pos+int(length) > limit {
			return nil, fserrors.ErrCorruptFilesystem.WithMessage("attribute length invalid or out of range")
		}
		nonResident := record[pos+8]
		nameLength := record[pos+9]
		nameOffset := binary.LittleEndian.Uint16(record[pos+10 : pos+12])

		var name string
		if nameLength > 0 {
			nameStart := pos + int(nameOffset)
			nameBytes := record[nameStart : nameStart+int(nameLength)*2]
			name = decodeUTF16LE(nameBytes)
		}

		a := attr{typeCode: typeCode, name: name, nonResident: nonResident != 0}

		if !a.nonResident {
			valueLength := binary.LittleEndian.Uint32(record[pos+16 : pos+20])
			valueOffset := binary.LittleEndian.Uint16(record[pos+20 : pos+22])
			start := pos + int(valueOffset)
			end := start + int(valueLength)
			if end > limit {
				return nil, fserrors.ErrCorruptFilesystem.WithMessage("resident attribute value out of range")
			}
			a.residentValue = record[start:end]
		} else {
			startVCN := int64(binary.LittleEndian.Uint64(record[pos+16 : pos+24]))
			runListOffset := binary.LittleEndian.Uint16(record[pos+32 : pos+34])
			realSize := binary.LittleEndian.Uint64(record[pos+48 : pos+56])
			runStart := pos + int(runListOffset)
			a.dataRuns = record[runStart : pos+int(length)]
			a.startVCN = startVCN
			a.realSize = realSize
		}

		out = append(out, a)
		pos += int(length)
	}

	return out, nil
}

// findAttribute returns the first attribute of the given type (and, if
// name is non-empty, matching name) in attrs.
func findAttribute(attrs []attr, typeCode uint32, name string) (attr, bool) {
	for _, a := range attrs {
		if a.typeCode != typeCode {
			continue
		}
		if name != "" && a.name != name {
			continue
		}
		out := a
		return out, true
	}
	return attr{}, false
}

// readAttributeValue returns an attribute's full value, resident or
// non-resident (decoding its data runs and reading cluster-by-cluster
// through the volume's cache). extraExtents, if non-nil, supplements the
// attribute's own run list with extents recovered from $ATTRIBUTE_LIST
// extension records.
func (v *Volume) readAttributeValue(a attr, extraExtents []datarun.Extent) ([]byte, fserrors.DriverError) {
	if !a.nonResident {
		out := make([]byte, len(a.residentValue))
		copy(out, a.residentValue)
		return out, nil
	}

	extents, derr := datarun.Decode(a.dataRuns, 1<<20)
	if derr != nil {
		return nil, derr
	}
	for i := range extents {
		extents[i].VCN += a.startVCN
	}
	extents = append(extents, extraExtents...)

	return v.readClustersFromExtents(extents, 0, a.realSize)
}

