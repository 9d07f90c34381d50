package ntfs

import (
	"encoding/binary"

	"github.com/levkropp/survivalfs/datarun"
	"github.com/levkropp/survivalfs/fixup"
	"github.com/levkropp/survivalfs/fserrors"
)

// mftRecordHeader is the fixed prefix of every MFT record, enough to find
// the update sequence array and the first attribute.
type mftRecordHeader struct {
	signature        [4]byte
	usaOffset        uint16
	usaCount         uint16
	_                uint64 // $LogFile sequence number
	sequenceNumber   uint16
	hardLinkCount    uint16
	firstAttrOffset  uint16
	flags            uint16
	usedSize         uint32
	allocatedSize    uint32
	baseRecord       mftReference
	nextAttrID       uint16
}

func parseMFTRecordHeader(buf []byte) (mftRecordHeader, fserrors.DriverError) {
	if len(buf) < 48 {
		return mftRecordHeader{}, fserrors.ErrCorruptFilesystem.WithMessage("MFT record shorter than its fixed header")
	}
	var h mftRecordHeader
	copy(h.signature[:], buf[0:4])
	h.usaOffset = binary.LittleEndian.Uint16(buf[4:6])
	h.usaCount = binary.LittleEndian.Uint16(buf[6:8])
	h.sequenceNumber = binary.LittleEndian.Uint16(buf[16:18])
	h.hardLinkCount = binary.LittleEndian.Uint16(buf[18:20])
	h.firstAttrOffset = binary.LittleEndian.Uint16(buf[20:22])
	h.flags = binary.LittleEndian.Uint16(buf[22:24])
	h.usedSize = binary.LittleEndian.Uint32(buf[24:28])
	h.allocatedSize = binary.LittleEndian.Uint32(buf[28:32])
	h.baseRecord = mftReference(binary.LittleEndian.Uint64(buf[32:40]))
	h.nextAttrID = binary.LittleEndian.Uint16(buf[40:42])
	return h, nil
}

const mftRecordFlagInUse = 0x0001
const mftRecordFlagDirectory = 0x0002

// readClustersFromExtents reads byteLen bytes starting at byte offset
// startByte, where cluster addressing is translated through extents (an
// ordered, ascending-VCN extent list such as the MFT self-map).
func (v *Volume) readClustersFromExtents(extents []datarun.Extent, startByte uint64, byteLen uint64) ([]byte, fserrors.DriverError) {
	clusterBytes := uint64(v.boot.BytesPerCluster)
	startVCN := int64(startByte / clusterBytes)
	inClusterOffset := startByte % clusterBytes

	out := make([]byte, 0, byteLen+clusterBytes)
	remaining := byteLen + inClusterOffset
	vcn := startVCN

	for remaining > 0 {
		ext, off, ok := findExtent(extents, vcn)
		if !ok {
			return nil, fserrors.ErrCorruptFilesystem.WithMessage("VCN not covered by extent list")
		}
		clustersLeftInExtent := ext.Length - off
		neededClusters := int64((remaining + clusterBytes - 1) / clusterBytes)
		readClusters := neededClusters
		if clustersLeftInExtent < readClusters {
			readClusters = clustersLeftInExtent
		}
		clusterData, err := v.readExtentClusters(ext, off, readClusters)
		if err != nil {
			return nil, err
		}
		out = append(out, clusterData...)
		remaining -= minUint64(remaining, uint64(readClusters)*clusterBytes)
		vcn = ext.VCN + off + readClusters
		if remaining == 0 {
			break
		}
	}

	if uint64(len(out)) < inClusterOffset+byteLen {
		return nil, fserrors.ErrCorruptFilesystem.WithMessage("extent list did not cover the requested range")
	}
	return out[inClusterOffset : inClusterOffset+byteLen], nil
}

func (v *Volume) readExtentClusters(ext datarun.Extent, skip int64, count int64) ([]byte, fserrors.DriverError) {
	clusterBytes := uint64(v.boot.BytesPerCluster)
	if ext.IsSparse() {
		return make([]byte, uint64(count)*clusterBytes), nil
	}
	out := make([]byte, 0, uint64(count)*clusterBytes)
	for i := int64(0); i < count; i++ {
		lcn := uint64(ext.LCN + skip + i)
		data, err := v.readCluster(lcn)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}

func (v *Volume) readCluster(lcn uint64) ([]byte, fserrors.DriverError) {
	out := make([]byte, v.boot.BytesPerCluster)
	baseSector := lcn * uint64(v.boot.SectorsPerCluster)
	for i := uint32(0); i < v.boot.SectorsPerCluster; i++ {
		buf, err := v.cache.Read(baseSector + uint64(i))
		if err != nil {
			return nil, err
		}
		copy(out[uint32(i)*v.boot.BytesPerSector:], buf)
	}
	return out, nil
}

func findExtent(extents []datarun.Extent, vcn int64) (datarun.Extent, int64, bool) {
	for _, e := range extents {
		if vcn >= e.VCN && vcn < e.VCN+e.Length {
			return e, vcn - e.VCN, true
		}
	}
	return datarun.Extent{}, 0, false
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// readMFTRecord reads, fixup-validates, and signature-checks MFT record n,
// locating its bytes through the MFT self-map (consulted for every record
// read after mount, per spec).
func (v *Volume) readMFTRecord(n uint64) ([]byte, fserrors.DriverError) {
	byteOffset := n * uint64(v.boot.MFTRecordSize)
	raw, err := v.readClustersFromExtents(v.mftSelfMap, byteOffset, uint64(v.boot.MFTRecordSize))
	if err != nil {
		return nil, err
	}

	if string(raw[0:4]) != mftRecordSignature {
		return nil, fserrors.ErrCorruptFilesystem.WithMessage("MFT record missing FILE signature")
	}
	hdr, herr := parseMFTRecordHeader(raw)
	if herr != nil {
		return nil, herr
	}
	if ferr := fixup.Apply(raw, int(v.boot.BytesPerSector), int(hdr.usaOffset), int(hdr.usaCount)); ferr != nil {
		return nil, ferr
	}
	return raw, nil
}
