package fat32

import (
	"fmt"

	"github.com/levkropp/survivalfs"
	"github.com/levkropp/survivalfs/fserrors"
)

// writeDirBytes patches data into a directory's cluster chain at logical
// offset bufOffset, mirroring exfat's writeDirBytes.
func (v *Volume) writeDirBytes(clusters []uint32, bufOffset int, data []byte) fserrors.DriverError {
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

// findInsertionPoint scans for a run of `count` consecutive free (0xE5 or
// past end-of-directory) 32-byte slots.
func findInsertionPoint(buf []byte, count int) (pos int, needsExtend bool) {
	run := 0
	runStart := 0
	for i := 0; i+bytesPerDirEntry <= len(buf); i += bytesPerDirEntry {
		b := buf[i]
		if b == dirEntryFree {
			available := (len(buf) - i) / bytesPerDirEntry
			if available >= count {
				return i, false
			}
			return i, true
		}
		if b == dirEntryUnused {
			if run == 0 {
				runStart = i
			}
			run += bytesPerDirEntry
			if run/bytesPerDirEntry >= count {
				return runStart, false
			}
		} else {
			run = 0
		}
	}
	return len(buf), true
}

// appendEntrySet inserts raw into the directory rooted at
// dirFirstCluster, extending the chain if no free run is big enough.
func (v *Volume) appendEntrySet(dirFirstCluster uint32, raw []byte) fserrors.DriverError {
	buf, clusters, err := v.loadDirectoryChain(dirFirstCluster)
	if err != nil {
		return err
	}

	count := len(raw) / bytesPerDirEntry
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

	newClusters, aerr := v.allocateChain(extraClusters)
	if aerr != nil {
		return aerr
	}
	zero := make([]byte, v.boot.BytesPerCluster)
	for _, c := range newClusters {
		if err := v.writeCluster(c, zero); err != nil {
			return err
		}
	}

	lastExisting := clusters[len(clusters)-1]
	if err := v.setFATEntry(lastExisting, newClusters[0]); err != nil {
		return err
	}

	allClusters := append(append([]uint32{}, clusters...), newClusters...)
	return v.writeDirBytes(allClusters, pos, raw)
}

// clearEntrySet marks every physical 32-byte slot of a previously located
// entry (LFN entries plus the short entry) as deleted (0xE5).
func (v *Volume) clearEntrySet(loc dirEntryLoc, entryCount int) fserrors.DriverError {
	buf, clusters, err := v.loadDirectoryChain(loc.parentCluster)
	if err != nil {
		return err
	}
	for i := 0; i < entryCount; i++ {
		offset := loc.bufOffset + i*bytesPerDirEntry
		if offset >= len(buf) {
			break
		}
		if err := v.writeDirBytes(clusters, offset, []byte{dirEntryUnused}); err != nil {
			return err
		}
	}
	return nil
}

// generateShortNameTail picks the numeric tail ("1", "2", ...) for name's
// generated short name, the first value that doesn't collide with an
// existing short name in entries.
func generateShortNameTail(name string, entries []dirent) string {
	if !needsLFN(name) {
		return ""
	}
	used := make(map[string]bool, len(entries))
	for _, e := range entries {
		used[string(e.shortName[:])] = true
	}
	for n := 1; n < 100000; n++ {
		tail := fmt.Sprintf("~%d", n)
		candidate := shortNameBytes(name, tail)
		if !used[string(candidate[:])] {
			return tail
		}
	}
	return "~1"
}

func (v *Volume) findInDir(dirCluster uint32, name string) (dirent, bool, fserrors.DriverError) {
	entries, _, err := v.scanDirectory(dirCluster)
	if err != nil {
		return dirent{}, false, err
	}
	for _, e := range entries {
		if survivalfs.EqualFoldASCII(e.name, name) {
			return e, true, nil
		}
	}
	return dirent{}, false, nil
}
