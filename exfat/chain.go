package exfat

import (
	"encoding/binary"

	"github.com/levkropp/survivalfs/fserrors"
)

// chainMode selects how a cluster chain is walked: by consulting the FAT
// for each link, or by simple increment for a "NoFatChain" contiguous run
// whose FAT entries were never written.
type chainMode int

const (
	chainFAT chainMode = iota
	chainContiguous
)

func (v *Volume) clusterToSector(c ClusterID) uint64 {
	return uint64(v.boot.ClusterHeapOffset) + uint64(c-firstDataCluster)*uint64(v.boot.SectorsPerCluster)
}

func (v *Volume) fatEntryLocation(c ClusterID) (sector uint64, byteOffset uint64) {
	entryOffset := uint64(c) * 4
	sector = uint64(v.boot.FatOffsetSectors) + entryOffset/uint64(v.boot.BytesPerSector)
	byteOffset = entryOffset % uint64(v.boot.BytesPerSector)
	return
}

func (v *Volume) fatEntry(c ClusterID) (uint32, fserrors.DriverError) {
	sector, off := v.fatEntryLocation(c)
	buf, err := v.cache.Read(sector)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[off : off+4]), nil
}

func (v *Volume) setFATEntry(c ClusterID, value uint32) fserrors.DriverError {
	sector, off := v.fatEntryLocation(c)
	buf, err := v.cache.Read(sector)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf[off:off+4], value)
	return v.cache.MarkDirty(sector)
}

// readCluster returns an owned copy of one cluster's contents.
func (v *Volume) readCluster(c ClusterID) ([]byte, fserrors.DriverError) {
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

// writeCluster writes exactly one cluster's worth of data (len(data) must
// equal BytesPerCluster).
func (v *Volume) writeCluster(c ClusterID, data []byte) fserrors.DriverError {
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

// nextCluster follows one link of a chain, per the chain's mode. ok is
// false once the chain has ended (EOC for FAT chains; callers of a
// contiguous chain must track the remaining cluster count themselves
// since there is no in-band terminator).
func (v *Volume) nextCluster(current ClusterID, mode chainMode) (next ClusterID, ok bool, err fserrors.DriverError) {
	if mode == chainContiguous {
		return current + 1, true, nil
	}
	entry, ferr := v.fatEntry(current)
	if ferr != nil {
		return 0, false, ferr
	}
	if entry == clusterEOC {
		return 0, false, nil
	}
	if entry == clusterBad || entry == clusterFree {
		return 0, false, fserrors.ErrCorruptFilesystem.WithMessage("FAT chain references a bad or free cluster")
	}
	return ClusterID(entry), true, nil
}

// clusterList enumerates every cluster in a chain of clusterCount
// clusters starting at first (FAT-chained or contiguous).
func (v *Volume) clusterList(first ClusterID, mode chainMode, clusterCount uint32) ([]ClusterID, fserrors.DriverError) {
	clusters := make([]ClusterID, 0, clusterCount)
	c := first
	for i := uint32(0); i < clusterCount; i++ {
		clusters = append(clusters, c)
		if i+1 == clusterCount {
			break
		}
		next, ok, err := v.nextCluster(c, mode)
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

// readChainBytes reads the first byteLen bytes of a chain starting at
// first, across as many clusters as required.
func (v *Volume) readChainBytes(first ClusterID, mode chainMode, byteLen uint64) ([]byte, fserrors.DriverError) {
	clusterCount := (byteLen + uint64(v.boot.BytesPerCluster) - 1) / uint64(v.boot.BytesPerCluster)
	if clusterCount == 0 {
		return nil, nil
	}
	clusters, err := v.clusterList(first, mode, uint32(clusterCount))
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, clusterCount*uint64(v.boot.BytesPerCluster))
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

// allocateChain allocates clusterCount fresh clusters, chains them in the
// FAT (each entry points to the next; the last is EOC), and returns the
// cluster list. Newly allocated chains are always FAT-chained, never
// NoFatChain, matching write-file's contract.
func (v *Volume) allocateChain(clusterCount uint32) ([]ClusterID, fserrors.DriverError) {
	if clusterCount == 0 {
		return nil, nil
	}
	clusters := make([]ClusterID, clusterCount)
	for i := uint32(0); i < clusterCount; i++ {
		c, err := v.bitmap.allocateOne()
		if err != nil {
			for _, done := range clusters[:i] {
				v.bitmap.set(done, false)
			}
			return nil, err
		}
		clusters[i] = c
	}
	for i := uint32(0); i < clusterCount; i++ {
		var entry uint32
		if i+1 < clusterCount {
			entry = uint32(clusters[i+1])
		} else {
			entry = clusterEOC
		}
		if err := v.setFATEntry(clusters[i], entry); err != nil {
			return nil, err
		}
	}
	return clusters, nil
}

// freeChain clears the bitmap bits for every cluster in the chain and, for
// FAT-chained files, zeroes their FAT entries.
func (v *Volume) freeChain(first ClusterID, mode chainMode, clusterCount uint32) fserrors.DriverError {
	clusters, err := v.clusterList(first, mode, clusterCount)
	if err != nil {
		return err
	}
	for _, c := range clusters {
		v.bitmap.set(c, false)
		if mode == chainFAT {
			if err := v.setFATEntry(c, clusterFree); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeChainBytes writes data across a chain's clusters, zero-padding the
// trailing bytes of the final cluster.
func (v *Volume) writeChainBytes(first ClusterID, mode chainMode, data []byte) fserrors.DriverError {
	clusterCount := clusterCountForBytes(uint64(len(data)), v.boot.BytesPerCluster)
	if clusterCount == 0 {
		return nil
	}
	clusters, err := v.clusterList(first, mode, clusterCount)
	if err != nil {
		return err
	}

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

func clusterCountForBytes(byteLen uint64, bytesPerCluster uint32) uint32 {
	if byteLen == 0 {
		return 0
	}
	return uint32((byteLen + uint64(bytesPerCluster) - 1) / uint64(bytesPerCluster))
}
