package fat32

import (
	"encoding/binary"

	"github.com/levkropp/survivalfs/fserrors"
)

func (v *Volume) clusterToSector(c uint32) uint64 {
	return uint64(v.dataStartSector) + uint64(c-rootDirCluster)*uint64(v.boot.SectorsPerCluster)
}

func (v *Volume) fatEntryLocation(c uint32) (sector uint64, byteOffset uint64) {
	entryOffset := uint64(c) * 4
	sector = uint64(v.boot.ReservedSectorCount) + entryOffset/uint64(v.boot.BytesPerSector)
	byteOffset = entryOffset % uint64(v.boot.BytesPerSector)
	return
}

func (v *Volume) fatEntry(c uint32) (uint32, fserrors.DriverError) {
	sector, off := v.fatEntryLocation(c)
	buf, err := v.cache.Read(sector)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[off:off+4]) & 0x0FFFFFFF, nil
}

// setFATEntry writes value into every FAT copy (FAT32 mirrors its FATs
// unless ExtFlags says otherwise, which this formatter never sets).
func (v *Volume) setFATEntry(c uint32, value uint32) fserrors.DriverError {
	entryOffset := uint64(c) * 4
	for fatIdx := uint32(0); fatIdx < v.boot.NumFATs; fatIdx++ {
		sector := uint64(v.boot.ReservedSectorCount) + uint64(fatIdx)*uint64(v.boot.FATSizeSectors) + entryOffset/uint64(v.boot.BytesPerSector)
		off := entryOffset % uint64(v.boot.BytesPerSector)
		buf, err := v.cache.Read(sector)
		if err != nil {
			return err
		}
		existing := binary.LittleEndian.Uint32(buf[off : off+4])
		binary.LittleEndian.PutUint32(buf[off:off+4], (existing&0xF0000000)|(value&0x0FFFFFFF))
		if err := v.cache.MarkDirty(sector); err != nil {
			return err
		}
	}
	return nil
}

func (v *Volume) readCluster(c uint32) ([]byte, fserrors.DriverError) {
	out := make([]byte, v.boot.BytesPerCluster)
	base := v.clusterToSector(c)
	for i := uint32(0); i < v.boot.SectorsPerCluster; i++ {
		buf, err := v.cache.Read(base + uint64(i))
		if err != nil {
			return nil, err
		}
		copy(out[uint32(i)*v.boot.BytesPerSector:], buf)
	}
	return out, nil
}

func (v *Volume) writeCluster(c uint32, data []byte) fserrors.DriverError {
	base := v.clusterToSector(c)
	for i := uint32(0); i < v.boot.SectorsPerCluster; i++ {
		sector := base + uint64(i)
		buf, err := v.cache.Read(sector)
		if err != nil {
			return err
		}
		copy(buf, data[uint32(i)*v.boot.BytesPerSector:(uint32(i)+1)*v.boot.BytesPerSector])
		if err := v.cache.MarkDirty(sector); err != nil {
			return err
		}
	}
	return nil
}

func isEndOfChain(entry uint32) bool {
	return entry >= eocRangeStart
}

func (v *Volume) nextCluster(current uint32) (next uint32, ok bool, err fserrors.DriverError) {
	entry, ferr := v.fatEntry(current)
	if ferr != nil {
		return 0, false, ferr
	}
	if isEndOfChain(entry) {
		return 0, false, nil
	}
	if entry == clusterBad || entry == clusterFree {
		return 0, false, fserrors.ErrCorruptFilesystem.WithMessage("FAT chain references a bad or free cluster")
	}
	return entry, true, nil
}

func (v *Volume) clusterList(first uint32, clusterCount uint32) ([]uint32, fserrors.DriverError) {
	clusters := make([]uint32, 0, clusterCount)
	c := first
	for i := uint32(0); i < clusterCount; i++ {
		clusters = append(clusters, c)
		if i+1 == clusterCount {
			break
		}
		next, ok, err := v.nextCluster(c)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fserrors.ErrCorruptFilesystem.WithMessage("cluster chain ended before expected length")
		}
		c = next
	}
	return clusters, nil
}

func (v *Volume) readChainBytes(first uint32, byteLen uint64) ([]byte, fserrors.DriverError) {
	clusterCount := clusterCountForBytes(byteLen, v.boot.BytesPerCluster)
	if clusterCount == 0 {
		return nil, nil
	}
	clusters, err := v.clusterList(first, clusterCount)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, uint64(clusterCount)*uint64(v.boot.BytesPerCluster))
	for _, c := range clusters {
		data, err := v.readCluster(c)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	if uint64(len(out)) > byteLen {
		out = out[:byteLen]
	}
	return out, nil
}

func (v *Volume) writeChainBytes(clusters []uint32, data []byte) fserrors.DriverError {
	bytesPerCluster := int(v.boot.BytesPerCluster)
	for i, c := range clusters {
		start := i * bytesPerCluster
		end := start + bytesPerCluster
		var chunk []byte
		if end <= len(data) {
			chunk = data[start:end]
		} else {
			chunk = make([]byte, bytesPerCluster)
			copy(chunk, data[start:])
		}
		if err := v.writeCluster(c, chunk); err != nil {
			return err
		}
	}
	return nil
}

// allocateOne scans the FAT for the first free entry starting at the
// next-free hint (wrapping to cluster 2 if the scan reaches the end),
// matching the teacher's own "next free" allocation strategy generalized
// to a bitmap-less FAT where free clusters are discovered by reading the
// FAT itself rather than a side bitmap.
func (v *Volume) allocateOne() (uint32, fserrors.DriverError) {
	total := v.totalDataClusters()
	start := v.nextFreeHint
	if start < rootDirCluster {
		start = rootDirCluster
	}
	for i := uint32(0); i < total; i++ {
		c := rootDirCluster + (start-rootDirCluster+i)%total
		entry, err := v.fatEntry(c)
		if err != nil {
			return 0, err
		}
		if entry == clusterFree {
			v.nextFreeHint = c + 1
			return c, nil
		}
	}
	return 0, fserrors.ErrNoSpace.WithMessage("no free clusters in FAT")
}

func (v *Volume) totalDataClusters() uint32 {
	return uint32(v.boot.TotalSectors-uint64(v.boot.ReservedSectorCount)-uint64(v.boot.NumFATs)*uint64(v.boot.FATSizeSectors)) / v.boot.SectorsPerCluster
}

// allocateChain allocates clusterCount fresh clusters and chains them in
// every FAT copy, the last entry set to clusterEOC.
func (v *Volume) allocateChain(clusterCount uint32) ([]uint32, fserrors.DriverError) {
	if clusterCount == 0 {
		return nil, nil
	}
	clusters := make([]uint32, clusterCount)
	for i := uint32(0); i < clusterCount; i++ {
		c, err := v.allocateOne()
		if err != nil {
			for _, done := range clusters[:i] {
				v.setFATEntry(done, clusterFree)
			}
			return nil, err
		}
		clusters[i] = c
		// Mark used immediately (as a provisional EOC) so a subsequent
		// allocateOne in this same call doesn't hand out the same cluster
		// twice; the real chain links are written in the pass below.
		if err := v.setFATEntry(c, clusterEOC); err != nil {
			return nil, err
		}
	}
	for i := uint32(0); i < clusterCount; i++ {
		var entry uint32
		if i+1 < clusterCount {
			entry = clusters[i+1]
		} else {
			entry = clusterEOC
		}
		if err := v.setFATEntry(clusters[i], entry); err != nil {
			return nil, err
		}
	}
	return clusters, nil
}

func (v *Volume) freeChain(first uint32, clusterCount uint32) fserrors.DriverError {
	clusters, err := v.clusterList(first, clusterCount)
	if err != nil {
		return err
	}
	for _, c := range clusters {
		if err := v.setFATEntry(c, clusterFree); err != nil {
			return err
		}
	}
	if len(clusters) > 0 && clusters[0] < v.nextFreeHint {
		v.nextFreeHint = clusters[0]
	}
	return nil
}

func clusterCountForBytes(byteLen uint64, bytesPerCluster uint32) uint32 {
	if byteLen == 0 {
		return 0
	}
	return uint32((byteLen + uint64(bytesPerCluster) - 1) / uint64(bytesPerCluster))
}

// freeClusterCount scans the FAT once, counting free entries. Used for
// VolumeInfo; spec.md gives FAT32 no allocation bitmap to consult, so this
// is a full FAT walk rather than a bitmap popcount.
func (v *Volume) freeClusterCount() (uint32, fserrors.DriverError) {
	total := v.totalDataClusters()
	var free uint32
	for c := uint32(rootDirCluster); c < rootDirCluster+total; c++ {
		entry, err := v.fatEntry(c)
		if err != nil {
			return 0, err
		}
		if entry == clusterFree {
			free++
		}
	}
	return free, nil
}
