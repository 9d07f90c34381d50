package exfat

import (
	"github.com/levkropp/survivalfs/fserrors"
)

// writeDirBytes patches data into a directory's cluster chain at logical
// offset bufOffset (an offset into the chain's concatenated byte stream,
// the same addressing loadDirectoryChain/scanDirectory use), working
// sector by sector through the cache so writes that straddle a sector or
// cluster boundary are handled transparently.
func (v *Volume) writeDirBytes(clusters []ClusterID, bufOffset int, data []byte) fserrors.DriverError {
	bytesPerCluster := int(v.boot.BytesPerCluster)
	bytesPerSector := int(v.boot.BytesPerSector)

	for len(data) > 0 {
		clusterIdx := bufOffset / bytesPerCluster
		if clusterIdx >= len(clusters) {
			return fserrors.ErrCorruptFilesystem.WithMessage("directory write offset beyond its cluster chain")
		}
		inCluster := bufOffset % bytesPerCluster
		sectorIdx := inCluster / bytesPerSector
		inSector := inCluster % bytesPerSector

		sector := v.clusterToSector(clusters[clusterIdx]) + uint64(sectorIdx)
		buf, err := v.cache.Read(sector)
		if err != nil {
			return err
		}
		n := copy(buf[inSector:], data)
		if err := v.cache.MarkDirty(sector); err != nil {
			return err
		}

		data = data[n:]
		bufOffset += n
	}
	return nil
}

// findInsertionPoint scans a directory's buffer for a run of `count`
// consecutive free entry slots: either a run of deleted (not-in-use,
// nonzero type) entries, or the true end-of-directory marker (type 0x00,
// after which everything is implicitly free). needsExtend is true when
// not enough room remains before the buffer ends, meaning the directory
// must grow by at least one cluster.
func findInsertionPoint(buf []byte, count int) (pos int, needsExtend bool) {
	run := 0
	runStart := 0
	for i := 0; i+entrySize <= len(buf); i += entrySize {
		b := buf[i]
		if b == entryTypeEndOfDirectory {
			available := (len(buf) - i) / entrySize
			if available >= count {
				return i, false
			}
			return i, true
		}
		if b&entryInUseBit == 0 {
			if run == 0 {
				runStart = i
			}
			run += entrySize
			if run/entrySize >= count {
				return runStart, false
			}
		} else {
			run = 0
		}
	}
	return len(buf), true
}

// appendEntrySet inserts raw (a fully-built entry set from buildEntrySet)
// into the directory rooted at dirFirstCluster, reusing a free run of
// entries if one is large enough, or extending the directory by as many
// clusters as the entry set needs otherwise.
func (v *Volume) appendEntrySet(dirFirstCluster ClusterID, raw []byte) fserrors.DriverError {
	buf, clusters, err := v.loadDirectoryChain(dirFirstCluster)
	if err != nil {
		return err
	}

	count := len(raw) / entrySize
	pos, needsExtend := findInsertionPoint(buf, count)
	if !needsExtend {
		return v.writeDirBytes(clusters, pos, raw)
	}

	neededBytes := pos + len(raw) - len(buf)
	if neededBytes < 0 {
		neededBytes = len(raw)
	}
	extraClusters := clusterCountForBytes(uint64(neededBytes), v.boot.BytesPerCluster)
	if extraClusters == 0 {
		extraClusters = 1
	}

	newClusters, err := v.allocateChain(extraClusters)
	if err != nil {
		return err
	}
	zero := make([]byte, v.boot.BytesPerCluster)
	for _, c := range newClusters {
		if err := v.writeCluster(c, zero); err != nil {
			return err
		}
	}

	lastExisting := clusters[len(clusters)-1]
	if err := v.setFATEntry(lastExisting, uint32(newClusters[0])); err != nil {
		return err
	}

	allClusters := append(append([]ClusterID{}, clusters...), newClusters...)
	return v.writeDirBytes(allClusters, pos, raw)
}

// clearEntrySet clears the InUse bit (bit 7) of every entry's type byte
// in a previously-located entry set, marking it deleted without
// disturbing the rest of its bytes (so a corrupt or partially-overwritten
// deleted entry never masquerades as the end-of-directory marker).
func (v *Volume) clearEntrySet(dirFirstCluster ClusterID, loc location, entryCount int) fserrors.DriverError {
	buf, clusters, err := v.loadDirectoryChain(dirFirstCluster)
	if err != nil {
		return err
	}
	for i := 0; i < entryCount; i++ {
		offset := loc.bufOffset + i*entrySize
		if offset >= len(buf) {
			break
		}
		cleared := buf[offset] &^ entryInUseBit
		if err := v.writeDirBytes(clusters, offset, []byte{cleared}); err != nil {
			return err
		}
	}
	return nil
}
