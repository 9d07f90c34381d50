// Package fixup implements the NTFS "update sequence array" protection
// scheme used by MFT records and INDX blocks.
package fixup

import (
	"encoding/binary"

	"github.com/levkropp/survivalfs/fserrors"
)

// Apply validates and reverses the fixup applied to a multi-sector NTFS
// record in place.
//
// record is the full record buffer (an MFT record or an INDX block).
// sectorSize is the volume's logical sector size. usaOffset and usaCount
// are read from the record's own header (at byte offsets that differ
// between MFT records and INDX blocks; the caller is responsible for
// reading them before calling Apply).
//
// usa_count - 1 must equal record_size / sector_size. The update sequence
// array lives at usaOffset and is usaCount uint16s long; element 0 is the
// update sequence value (USV) that every protected sector's last two bytes
// must match before the fixup is undone.
func Apply(record []byte, sectorSize int, usaOffset int, usaCount int) fserrors.DriverError {
	recordSize := len(record)

	if usaCount < 1 || (usaCount-1) != recordSize/sectorSize {
		return fserrors.ErrCorruptFilesystem.WithMessage(
			"update sequence array count does not match record/sector size ratio")
	}
	if usaOffset < 0 || usaOffset+2*usaCount > recordSize {
		return fserrors.ErrCorruptFilesystem.WithMessage("update sequence array out of bounds")
	}

	usv := binary.LittleEndian.Uint16(record[usaOffset : usaOffset+2])

	numSectors := usaCount - 1
	for i := 0; i < numSectors; i++ {
		sectorEnd := (i + 1) * sectorSize
		tailOffset := sectorEnd - 2

		tail := binary.LittleEndian.Uint16(record[tailOffset : tailOffset+2])
		if tail != usv {
			return fserrors.ErrCorruptFilesystem.WithMessage(
				"update sequence signature mismatch: record is corrupt")
		}

		restoreOffset := usaOffset + 2 + i*2
		original := record[restoreOffset : restoreOffset+2]
		copy(record[tailOffset:tailOffset+2], original)
	}

	return nil
}
