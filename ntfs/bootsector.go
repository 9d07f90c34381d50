package ntfs

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/levkropp/survivalfs/fserrors"
)

// rawBootSector is the fixed layout of the NTFS boot sector, read the same
// way the exFAT driver reads its own fixed-size boot sector: a single
// encoding/binary.Read into a packed Go struct, appropriate here because
// unlike MFT records and index entries this is a genuinely fixed-offset
// header (see DESIGN.md).
type rawBootSector struct {
	JumpBoot               [3]byte
	OEMID                  [8]byte
	BytesPerSector         uint16
	SectorsPerCluster      uint8
	ReservedSectors        uint16
	_                      [3]byte
	_                      uint16
	MediaDescriptor        uint8
	_                      uint16
	SectorsPerTrack        uint16
	NumberOfHeads          uint16
	HiddenSectors          uint32
	_                      uint32
	_                      uint32
	TotalSectors           uint64
	MFTClusterNumber       uint64
	MFTMirrClusterNumber   uint64
	ClustersPerMFTRecord   int8
	_                      [3]byte
	ClustersPerIndexBlock  int8
	_                      [3]byte
	VolumeSerialNumber     uint64
	Checksum               uint32
	BootCode               [426]byte
	BootSignature          uint16
}

// BootSector is the parsed, validated NTFS volume geometry.
type BootSector struct {
	BytesPerSector        uint32
	SectorsPerCluster     uint32
	BytesPerCluster       uint32
	TotalSectors          uint64
	MFTStartCluster       uint64
	MFTRecordSize         uint32
	IndexBlockSize        uint32
}

var requiredNTFSOEMID = []byte("NTFS    ")

// parseBootSector validates the NTFS OEM-ID and boot signature, extracts
// geometry, and converts the signed clusters_per_mft_record /
// clusters_per_index_block encoding (positive = value * cluster bytes,
// negative = 1 << -value bytes) into byte sizes, sanity-checking the MFT
// record size (<= 4096) and index block size (<= 65536).
func parseBootSector(sector []byte) (*BootSector, fserrors.DriverError) {
	if len(sector) < 512 {
		return nil, fserrors.ErrCorruptFilesystem.WithMessage("boot sector shorter than 512 bytes")
	}

	var raw rawBootSector
	if err := binary.Read(bytes.NewReader(sector[:512]), binary.LittleEndian, &raw); err != nil {
		return nil, fserrors.ErrCorruptFilesystem.Wrap(err)
	}

	if !bytes.Equal(raw.OEMID[:], requiredNTFSOEMID) {
		return nil, fserrors.ErrCorruptFilesystem.WithMessage(
			fmt.Sprintf("bad OEM id %q, expected %q", raw.OEMID, requiredNTFSOEMID))
	}
	if raw.BootSignature != 0xAA55 {
		return nil, fserrors.ErrCorruptFilesystem.WithMessage("bad boot signature")
	}
	if raw.BytesPerSector == 0 || raw.SectorsPerCluster == 0 {
		return nil, fserrors.ErrCorruptFilesystem.WithMessage("zero bytes-per-sector or sectors-per-cluster")
	}

	bytesPerCluster := uint32(raw.BytesPerSector) * uint32(raw.SectorsPerCluster)

	mftRecordSize := recordSizeFromSignedField(raw.ClustersPerMFTRecord, bytesPerCluster)
	indexBlockSize := recordSizeFromSignedField(raw.ClustersPerIndexBlock, bytesPerCluster)

	if mftRecordSize == 0 || mftRecordSize > 4096 {
		return nil, fserrors.ErrCorruptFilesystem.WithMessage(
			fmt.Sprintf("MFT record size %d out of legal range", mftRecordSize))
	}
	if indexBlockSize == 0 || indexBlockSize > 65536 {
		return nil, fserrors.ErrCorruptFilesystem.WithMessage(
			fmt.Sprintf("index block size %d out of legal range", indexBlockSize))
	}

	return &BootSector{
		BytesPerSector:    uint32(raw.BytesPerSector),
		SectorsPerCluster: uint32(raw.SectorsPerCluster),
		BytesPerCluster:   bytesPerCluster,
		TotalSectors:      raw.TotalSectors,
		MFTStartCluster:   raw.MFTClusterNumber,
		MFTRecordSize:     mftRecordSize,
		IndexBlockSize:    indexBlockSize,
	}, nil
}

func recordSizeFromSignedField(field int8, bytesPerCluster uint32) uint32 {
	if field >= 0 {
		return uint32(field) * bytesPerCluster
	}
	return uint32(1) << uint(-int(field))
}
