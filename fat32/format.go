package fat32

import (
	"github.com/levkropp/survivalfs/blockio"
	"github.com/levkropp/survivalfs/fserrors"
)

// chooseGeometry picks sectors-per-cluster as the largest power of two in
// {8, 4, 2, 1} such that the resulting data-cluster count is at least
// minDataClusters, per spec.md's geometry-selection rule. fatSizeSectors
// is recomputed at each candidate since a smaller cluster size needs a
// bigger FAT, which in turn eats into the data region.
func chooseGeometry(totalSectors uint32, bytesPerSector uint32) (sectorsPerCluster uint8, fatSizeSectors uint32) {
	var lastSPC uint8 = 1
	var lastFAT uint32
	for _, spc := range []uint8{8, 4, 2, 1} {
		dataSectors := totalSectors - reservedSectors
		// Converge fatSizeSectors and data-cluster count together: FAT size
		// depends on cluster count, cluster count depends on FAT size.
		fatSectors := uint32(1)
		for iter := 0; iter < 8; iter++ {
			usable := dataSectors - fatSectors*numberOfFats
			clusters := usable / uint32(spc)
			needed := (clusters*4 + bytesPerSector - 1) / bytesPerSector
			if needed == fatSectors {
				break
			}
			fatSectors = needed
		}
		usable := dataSectors - fatSectors*numberOfFats
		clusters := usable / uint32(spc)
		lastSPC, lastFAT = spc, fatSectors
		if clusters >= minDataClusters || spc == 1 {
			return spc, fatSectors
		}
	}
	return lastSPC, lastFAT
}

// Format writes a complete, empty FAT32 volume to dev: geometry
// selection, the BPB and its sector-6 backup, FSInfo, both zeroed FAT
// copies with their reserved sentinel entries, and a root directory
// holding a single ATTR_VOLUME_ID entry. Grounded on spec.md's 4.6
// write sequence.
func Format(blockSize uint, totalSectors uint32, volumeID uint32, read blockio.ReadFunc, write blockio.WriteFunc) fserrors.DriverError {
	dev, err := blockio.New(blockSize, read, write)
	if err != nil {
		return fserrors.ErrInvalidArgument.Wrap(err)
	}
	bytesPerSector := uint32(blockSize)

	sectorsPerCluster, fatSizeSectors := chooseGeometry(totalSectors, bytesPerSector)

	// 1. Zero the reserved region.
	zeroSector := make([]byte, bytesPerSector)
	for s := uint32(0); s < reservedSectors; s++ {
		if err := dev.WriteBlocks(blockio.LBA(s), 1, zeroSector); err != nil {
			return err
		}
	}

	// 2. Write the BPB at sector 0.
	bpb := buildBPB(uint16(bytesPerSector), sectorsPerCluster, fatSizeSectors, totalSectors, volumeID)
	if err := dev.WriteBlocks(0, 1, bpb); err != nil {
		return err
	}

	// 3. Duplicate the BPB at sector 6.
	if err := dev.WriteBlocks(blockio.LBA(backupBPBSector), 1, bpb); err != nil {
		return err
	}

	// 4. Write FSInfo at sector 1. Cluster 2 (root) is already allocated,
	// so free-count is clusters-1 and the next-free hint starts past root.
	dataSectors := totalSectors - reservedSectors - fatSizeSectors*numberOfFats
	totalDataClusters := dataSectors / uint32(sectorsPerCluster)
	fsInfo := buildFSInfo(totalDataClusters-1, 3)
	if err := dev.WriteBlocks(blockio.LBA(fsInfoSector), 1, fsInfo); err != nil {
		return err
	}

	// 5. Zero both FAT copies in bulk.
	zeroRun := make([]byte, bytesPerSector)
	for fatIdx := uint32(0); fatIdx < numberOfFats; fatIdx++ {
		fatStart := reservedSectors + fatIdx*fatSizeSectors
		for s := uint32(0); s < fatSizeSectors; s++ {
			if err := dev.WriteBlocks(blockio.LBA(fatStart+s), 1, zeroRun); err != nil {
				return err
			}
		}
	}

	// 6. Set FAT[0..2] sentinel entries, in both FAT copies.
	entries := make([]byte, 12)
	putUint32(entries[0:4], clusterMediaEcho)
	putUint32(entries[4:8], clusterEOC)
	putUint32(entries[8:12], eocRangeStart) // root directory's own chain terminator
	for fatIdx := uint32(0); fatIdx < numberOfFats; fatIdx++ {
		fatStart := reservedSectors + fatIdx*fatSizeSectors
		buf := make([]byte, bytesPerSector)
		copy(buf, entries)
		if err := dev.WriteBlocks(blockio.LBA(fatStart), 1, buf); err != nil {
			return err
		}
	}

	// 7. Zero the root cluster and write the volume label entry.
	rootSectorStart := reservedSectors + fatSizeSectors*numberOfFats
	clusterBytes := bytesPerSector * uint32(sectorsPerCluster)
	rootCluster := make([]byte, clusterBytes)
	writeVolumeLabelEntry(rootCluster)
	for i := uint32(0); i < uint32(sectorsPerCluster); i++ {
		sector := rootCluster[i*bytesPerSector : (i+1)*bytesPerSector]
		if err := dev.WriteBlocks(blockio.LBA(rootSectorStart+i), 1, sector); err != nil {
			return err
		}
	}

	return nil
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// writeVolumeLabelEntry writes the single ATTR_VOLUME_ID directory entry
// into the start of buf (the freshly-zeroed root cluster).
func writeVolumeLabelEntry(buf []byte) {
	copy(buf[0:11], volumeLabel)
	buf[11] = attrVolumeID
}
