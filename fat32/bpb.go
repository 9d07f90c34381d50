package fat32

import (
	"bytes"
	"encoding/binary"

	"github.com/noxer/bytewriter"

	"github.com/levkropp/survivalfs/fserrors"
)

// rawBPB is the fixed 512-byte FAT32 boot sector: the common BIOS
// Parameter Block followed by the FAT32-specific extension, read the same
// way exfat/bootsector.go reads its own fixed-size boot sector: a single
// binary.Read into a packed struct. Field names follow Microsoft's FAT32
// specification.
type rawBPB struct {
	JumpBoot            [3]byte
	OEMName             [8]byte
	BytesPerSector      uint16
	SectorsPerCluster   uint8
	ReservedSectorCount uint16
	NumFATs             uint8
	RootEntryCount      uint16 // 0 for FAT32
	TotalSectors16      uint16 // 0, use TotalSectors32
	Media               uint8
	FATSize16           uint16 // 0 for FAT32, use FATSize32
	SectorsPerTrack     uint16
	NumHeads            uint16
	HiddenSectors       uint32
	TotalSectors32      uint32
	FATSize32           uint32
	ExtFlags            uint16
	FSVersion           uint16
	RootCluster         uint32
	FSInfoSector        uint16
	BackupBootSector    uint16
	Reserved            [12]byte
	DriveNumber         uint8
	Reserved1           uint8
	ExtBootSignature    uint8
	VolumeID            uint32
	VolumeLabel         [11]byte
	FileSystemType      [8]byte
	BootCode            [420]byte
	BootSignature       uint16
}

// BootSector is the parsed, validated form of a FAT32 boot sector.
type BootSector struct {
	BytesPerSector      uint32
	SectorsPerCluster   uint32
	BytesPerCluster     uint32
	ReservedSectorCount uint32
	NumFATs             uint32
	FATSizeSectors      uint32
	RootCluster         uint32
	FSInfoSector        uint32
	BackupBootSector    uint32
	TotalSectors        uint64
	VolumeLabel         string
}

var requiredFSType = []byte("FAT32   ")

func parseBootSector(sector []byte) (*BootSector, fserrors.DriverError) {
	if len(sector) < 512 {
		return nil, fserrors.ErrCorruptFilesystem.WithMessage("boot sector shorter than 512 bytes")
	}

	var raw rawBPB
	if err := binary.Read(bytes.NewReader(sector[:512]), binary.LittleEndian, &raw); err != nil {
		return nil, fserrors.ErrCorruptFilesystem.Wrap(err)
	}

	if raw.BootSignature != 0xAA55 {
		return nil, fserrors.ErrCorruptFilesystem.WithMessage("bad boot signature")
	}
	if raw.BytesPerSector == 0 || raw.SectorsPerCluster == 0 {
		return nil, fserrors.ErrCorruptFilesystem.WithMessage("zero bytes-per-sector or sectors-per-cluster")
	}
	if raw.FATSize16 != 0 || raw.RootEntryCount != 0 {
		return nil, fserrors.ErrCorruptFilesystem.WithMessage("FAT16/12 fields set on what should be a FAT32 volume")
	}
	if !bytes.Equal(raw.FileSystemType[:], requiredFSType) {
		return nil, fserrors.ErrCorruptFilesystem.WithMessage("bad FAT32 filesystem type label")
	}

	total := uint64(raw.TotalSectors32)
	if total == 0 {
		total = uint64(raw.TotalSectors16)
	}

	return &BootSector{
		BytesPerSector:      uint32(raw.BytesPerSector),
		SectorsPerCluster:   uint32(raw.SectorsPerCluster),
		BytesPerCluster:     uint32(raw.BytesPerSector) * uint32(raw.SectorsPerCluster),
		ReservedSectorCount: uint32(raw.ReservedSectorCount),
		NumFATs:             uint32(raw.NumFATs),
		FATSizeSectors:      raw.FATSize32,
		RootCluster:         raw.RootCluster,
		FSInfoSector:        uint32(raw.FSInfoSector),
		BackupBootSector:    uint32(raw.BackupBootSector),
		TotalSectors:        total,
		VolumeLabel:         string(bytes.TrimRight(raw.VolumeLabel[:], " ")),
	}, nil
}

// buildBPB assembles the 512-byte FAT32 boot sector for a volume of the
// given geometry, with a generated VolumeID (a simple time-derived serial,
// matching the teacher's own disk-identity pattern of "some number, as
// long as it's not 0").
func buildBPB(bytesPerSector uint16, sectorsPerCluster uint8, fatSizeSectors uint32, totalSectors uint32, volumeID uint32) []byte {
	buf := make([]byte, 512)
	w := bytewriter.New(buf)

	var jump = [3]byte{0xEB, 0x58, 0x90}
	var oem [8]byte
	copy(oem[:], oemName)
	var label [11]byte
	copy(label[:], volumeLabel)
	var fsType [8]byte
	copy(fsType[:], fsTypeLabel)

	binary.Write(w, binary.LittleEndian, jump)
	binary.Write(w, binary.LittleEndian, oem)
	binary.Write(w, binary.LittleEndian, bytesPerSector)
	binary.Write(w, binary.LittleEndian, sectorsPerCluster)
	binary.Write(w, binary.LittleEndian, uint16(reservedSectors))
	binary.Write(w, binary.LittleEndian, uint8(numberOfFats))
	binary.Write(w, binary.LittleEndian, uint16(0)) // RootEntryCount
	binary.Write(w, binary.LittleEndian, uint16(0)) // TotalSectors16
	binary.Write(w, binary.LittleEndian, uint8(0xF8))
	binary.Write(w, binary.LittleEndian, uint16(0)) // FATSize16
	binary.Write(w, binary.LittleEndian, uint16(0)) // SectorsPerTrack
	binary.Write(w, binary.LittleEndian, uint16(0)) // NumHeads
	binary.Write(w, binary.LittleEndian, uint32(0)) // HiddenSectors
	binary.Write(w, binary.LittleEndian, totalSectors)
	binary.Write(w, binary.LittleEndian, fatSizeSectors)
	binary.Write(w, binary.LittleEndian, uint16(0)) // ExtFlags: both FATs active, mirrored
	binary.Write(w, binary.LittleEndian, uint16(0)) // FSVersion 0.0
	binary.Write(w, binary.LittleEndian, uint32(rootDirCluster))
	binary.Write(w, binary.LittleEndian, uint16(fsInfoSector))
	binary.Write(w, binary.LittleEndian, uint16(backupBPBSector))
	binary.Write(w, binary.LittleEndian, [12]byte{})
	binary.Write(w, binary.LittleEndian, uint8(0x80)) // DriveNumber
	binary.Write(w, binary.LittleEndian, uint8(0))    // Reserved1
	binary.Write(w, binary.LittleEndian, uint8(0x29)) // ExtBootSignature
	binary.Write(w, binary.LittleEndian, volumeID)
	binary.Write(w, binary.LittleEndian, label)
	binary.Write(w, binary.LittleEndian, fsType)
	binary.Write(w, binary.LittleEndian, [420]byte{})
	binary.Write(w, binary.LittleEndian, uint16(0xAA55))

	return buf
}

// buildFSInfo assembles the 512-byte FSInfo sector: lead/struct/trail
// signatures plus the free-cluster-count and next-free hints.
func buildFSInfo(freeClusters, nextFree uint32) []byte {
	buf := make([]byte, 512)
	w := bytewriter.New(buf)

	binary.Write(w, binary.LittleEndian, uint32(0x41615252)) // LeadSig
	binary.Write(w, binary.LittleEndian, [480]byte{})        // Reserved1
	binary.Write(w, binary.LittleEndian, uint32(0x61417272)) // StrucSig
	binary.Write(w, binary.LittleEndian, freeClusters)
	binary.Write(w, binary.LittleEndian, nextFree)
	binary.Write(w, binary.LittleEndian, [12]byte{})         // Reserved2
	binary.Write(w, binary.LittleEndian, uint32(0xAA550000)) // TrailSig

	return buf
}
