package ntfs

import (
	"encoding/binary"

	"github.com/hashicorp/go-multierror"

	"github.com/levkropp/survivalfs/datarun"
	"github.com/levkropp/survivalfs/fserrors"
)

// attrListEntry is one {type, name, starting_vcn, mft_reference} tuple from
// an $ATTRIBUTE_LIST (0x20) attribute value.
type attrListEntry struct {
	typeCode uint32
	name     string
	startVCN int64
	ref      mftReference
}

func parseAttributeList(value []byte) ([]attrListEntry, fserrors.DriverError) {
	var out []attrListEntry
	pos := 0
	for pos+8 <= len(value) {
		typeCode := binary.LittleEndian.Uint32(value[pos : pos+4])
		entryLength := binary.LittleEndian.Uint16(value[pos+4 : pos+6])
		if entryLength < 8 || pos+int(entryLength) > len(value) {
			return nil, fserrors.ErrCorruptFilesystem.WithMessage("attribute-list entry out of range")
		}
		nameLength := value[pos+6]
		nameOffset := value[pos+7]
		startVCN := int64(binary.LittleEndian.Uint64(value[pos+8 : pos+16]))
		ref := mftReference(binary.LittleEndian.Uint64(value[pos+16 : pos+24]))

		var name string
		if nameLength > 0 {
			nameStart := pos + int(nameOffset)
			name = decodeUTF16LE(value[nameStart : nameStart+int(nameLength)*2])
		}

		out = append(out, attrListEntry{typeCode: typeCode, name: name, startVCN: startVCN, ref: ref})
		pos += int(entryLength)
	}
	return out, nil
}

// resolveAttribute finds the value of attribute (typeCode, name) for
// record, expanding through $ATTRIBUTE_LIST extension records when the
// base record doesn't carry it directly. This is the single path both
// $DATA (files) and $INDEX_ALLOCATION (large directories) use per
// spec.md's attribute-list expansion rule.
func (v *Volume) resolveAttribute(recordNum uint64, record []byte, hdr mftRecordHeader, typeCode uint32, name string) (attr, []datarun.Extent, fserrors.DriverError) {
	attrs, aerr := findAttributes(record, hdr.firstAttrOffset, hdr.usedSize)
	if aerr != nil {
		return attr{}, nil, aerr
	}

	if a, ok := findAttribute(attrs, typeCode, name); ok {
		return a, nil, nil
	}

	listAttr, hasList := findAttribute(attrs, attrTypeAttributeList, "")
	if !hasList {
		return attr{}, nil, fserrors.ErrCorruptFilesystem.WithMessage("attribute not found and no attribute list present")
	}
	listValue, lerr := v.readAttributeValue(listAttr, nil)
	if lerr != nil {
		return attr{}, nil, lerr
	}
	entries, perr := parseAttributeList(listValue)
	if perr != nil {
		return attr{}, nil, perr
	}

	var merged []datarun.Extent
	var firstResident attr
	found := false
	var errs *multierror.Error

	for _, e := range entries {
		if e.typeCode != typeCode || e.name != name {
			continue
		}
		if e.ref.recordNumber() == recordNum {
			continue
		}
		extRecord, rerr := v.readMFTRecord(e.ref.recordNumber())
		if rerr != nil {
			errs = multierror.Append(errs, rerr)
			continue
		}
		extHdr, hrerr := parseMFTRecordHeader(extRecord)
		if hrerr != nil {
			errs = multierror.Append(errs, hrerr)
			continue
		}
		extAttrs, earr := findAttributes(extRecord, extHdr.firstAttrOffset, extHdr.usedSize)
		if earr != nil {
			errs = multierror.Append(errs, earr)
			continue
		}
		extAttr, ok := findAttribute(extAttrs, typeCode, name)
		if !ok {
			continue
		}
		if !extAttr.nonResident {
			firstResident = extAttr
			found = true
			continue
		}
		extents, dErr := datarun.Decode(extAttr.dataRuns, 1<<20)
		if dErr != nil {
			errs = multierror.Append(errs, dErr)
			continue
		}
		for i := range extents {
			extents[i].VCN += e.startVCN
		}
		merged = append(merged, extents...)
		found = true
	}

	if !found {
		if errs.ErrorOrNil() != nil {
			return attr{}, nil, fserrors.ErrCorruptFilesystem.Wrap(errs)
		}
		return attr{}, nil, fserrors.ErrCorruptFilesystem.WithMessage("attribute list did not resolve the requested attribute")
	}
	if len(merged) == 0 {
		return firstResident, nil, nil
	}

	sortExtentsByVCN(merged)
	synthetic := attr{typeCode: typeCode, name: name, nonResident: true, realSize: totalExtentBytes(merged, v.boot.BytesPerCluster)}
	return synthetic, merged, nil
}

func sortExtentsByVCN(extents []datarun.Extent) {
	for i := 1; i < len(extents); i++ {
		for j := i; j > 0 && extents[j].VCN < extents[j-1].VCN; j-- {
			extents[j], extents[j-1] = extents[j-1], extents[j]
		}
	}
}

func totalExtentBytes(extents []datarun.Extent, bytesPerCluster uint32) uint64 {
	var total uint64
	for _, e := range extents {
		total += uint64(e.Length) * uint64(bytesPerCluster)
	}
	return total
}
