package ntfs

import (
	"strings"

	"github.com/boljen/go-bitmap"

	"github.com/levkropp/survivalfs"
	"github.com/levkropp/survivalfs/blockio"
	"github.com/levkropp/survivalfs/datarun"
	"github.com/levkropp/survivalfs/fserrors"
	"github.com/levkropp/survivalfs/sectorcache"
)

const sectorCacheCapacity = 16

// Volume is a mounted, read-only NTFS volume, implementing survivalfs.Volume.
type Volume struct {
	dev        *blockio.Device
	cache      *sectorcache.Cache
	boot       *BootSector
	mftSelfMap []datarun.Extent
	label      string
}

var _ survivalfs.Volume = (*Volume)(nil)

// Mount validates the NTFS boot sector, builds the MFT self-map (reading
// record 0's $DATA runs, merging in any $ATTRIBUTE_LIST extension
// records), and reads the volume label from record 3 ($Volume).
func Mount(blockSize uint, read blockio.ReadFunc, write blockio.WriteFunc) (*Volume, fserrors.DriverError) {
	dev, err := blockio.New(blockSize, read, write)
	if err != nil {
		return nil, fserrors.ErrInvalidArgument.Wrap(err)
	}

	bootRaw := make([]byte, blockSize)
	if err := dev.ReadBlocks(0, 1, bootRaw); err != nil {
		return nil, err
	}
	boot, perr := parseBootSector(bootRaw)
	if perr != nil {
		return nil, perr
	}

	cache, cerr := sectorcache.New(dev, boot.BytesPerSector, sectorCacheCapacity)
	if cerr != nil {
		return nil, cerr
	}

	v := &Volume{dev: dev, cache: cache, boot: boot}

	selfMap, serr := v.buildMFTSelfMap()
	if serr != nil {
		return nil, serr
	}
	v.mftSelfMap = selfMap

	label, lerr := v.readVolumeLabel()
	if lerr != nil {
		return nil, lerr
	}
	v.label = label

	return v, nil
}

// buildMFTSelfMap reads MFT record 0 directly from its pinned starting
// cluster (the chicken-and-egg resolved by the boot sector), decodes its
// unnamed $DATA run list, expands any $ATTRIBUTE_LIST, and sorts the
// result by VCN.
func (v *Volume) buildMFTSelfMap() ([]datarun.Extent, fserrors.DriverError) {
	recordSize := uint64(v.boot.MFTRecordSize)
	raw := make([]byte, recordSize)

	pinnedExtent := []datarun.Extent{{VCN: 0, LCN: int64(v.boot.MFTStartCluster), Length: 1 << 30}}
	n, err := v.readClustersFromExtents(pinnedExtent, 0, recordSize)
	if err != nil {
		return nil, err
	}
	copy(raw, n)

	if string(raw[0:4]) != mftRecordSignature {
		return nil, fserrors.ErrCorruptFilesystem.WithMessage("MFT record 0 missing FILE signature")
	}
	hdr, herr := parseMFTRecordHeader(raw)
	if herr != nil {
		return nil, herr
	}

	attrs, aerr := findAttributes(raw, hdr.firstAttrOffset, hdr.usedSize)
	if aerr != nil {
		return nil, aerr
	}
	dataAttr, ok := findAttribute(attrs, attrTypeData, "")
	if !ok || !dataAttr.nonResident {
		return nil, fserrors.ErrCorruptFilesystem.WithMessage("$MFT has no non-resident unnamed $DATA attribute")
	}

	extents, derr := datarun.Decode(dataAttr.dataRuns, 1<<20)
	if derr != nil {
		return nil, derr
	}
	for i := range extents {
		extents[i].VCN += dataAttr.startVCN
	}

	if listAttr, hasList := findAttribute(attrs, attrTypeAttributeList, ""); hasList {
		listValue, lerr := v.readAttributeValue(listAttr, nil)
		if lerr != nil {
			return nil, lerr
		}
		entries, perr := parseAttributeList(listValue)
		if perr != nil {
			return nil, perr
		}
		for _, e := range entries {
			if e.typeCode != attrTypeData || e.ref.recordNumber() == mftRecordMFT {
				continue
			}
			extRaw, rerr := v.readRecordUsingSelfMap(e.ref.recordNumber(), extents)
			if rerr != nil {
				return nil, rerr
			}
			extHdr, ehErr := parseMFTRecordHeader(extRaw)
			if ehErr != nil {
				return nil, ehErr
			}
			extAttrs, eaErr := findAttributes(extRaw, extHdr.firstAttrOffset, extHdr.usedSize)
			if eaErr != nil {
				return nil, eaErr
			}
			extData, ok := findAttribute(extAttrs, attrTypeData, "")
			if !ok || !extData.nonResident {
				continue
			}
			more, dErr := datarun.Decode(extData.dataRuns, 1<<20)
			if dErr != nil {
				return nil, dErr
			}
			for i := range more {
				more[i].VCN += e.startVCN
			}
			extents = append(extents, more...)
		}
	}

	sortExtentsByVCN(extents)
	return extents, nil
}

// readRecordUsingSelfMap reads one MFT record through an in-progress self
// map (used only while buildMFTSelfMap is still assembling v.mftSelfMap).
func (v *Volume) readRecordUsingSelfMap(n uint64, selfMap []datarun.Extent) ([]byte, fserrors.DriverError) {
	byteOffset := n * uint64(v.boot.MFTRecordSize)
	raw, err := v.readClustersFromExtents(selfMap, byteOffset, uint64(v.boot.MFTRecordSize))
	if err != nil {
		return nil, err
	}
	if string(raw[0:4]) != mftRecordSignature {
		return nil, fserrors.ErrCorruptFilesystem.WithMessage("MFT extension record missing FILE signature")
	}
	return raw, nil
}

func (v *Volume) readVolumeLabel() (string, fserrors.DriverError) {
	record, err := v.readMFTRecord(mftRecordVolume)
	if err != nil {
		return "", err
	}
	hdr, herr := parseMFTRecordHeader(record)
	if herr != nil {
		return "", herr
	}
	attrs, aerr := findAttributes(record, hdr.firstAttrOffset, hdr.usedSize)
	if aerr != nil {
		return "", aerr
	}
	nameAttr, ok := findAttribute(attrs, attrTypeVolumeName, "")
	if !ok {
		return "", nil
	}
	value, verr := v.readAttributeValue(nameAttr, nil)
	if verr != nil {
		return "", verr
	}
	return decodeUTF16LE(value), nil
}

// resolvePath walks from the root directory (MFT record 5) to the final
// path component, reusing the directory-listing index walk.
func (v *Volume) resolvePath(path string) (uint64, bool, fserrors.DriverError) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return mftRecordRoot, true, nil
	}
	parts := strings.Split(trimmed, "/")

	cur := uint64(mftRecordRoot)
	for i, part := range parts {
		if part == "" {
			return 0, false, fserrors.ErrInvalidArgument.WithMessage("empty path component")
		}
		e, found, err := v.findInIndex(cur, part)
		if err != nil {
			return 0, false, err
		}
		if !found {
			return 0, false, nil
		}
		if i < len(parts)-1 && !e.isDir {
			return 0, false, fserrors.ErrNotDirectory.WithMessage(part + " is not a directory")
		}
		cur = e.ref.recordNumber()
	}
	return cur, true, nil
}

func (v *Volume) isDirectoryRecord(recordNum uint64) (bool, fserrors.DriverError) {
	record, err := v.readMFTRecord(recordNum)
	if err != nil {
		return false, err
	}
	hdr, herr := parseMFTRecordHeader(record)
	if herr != nil {
		return false, herr
	}
	return hdr.flags&mftRecordFlagDirectory != 0, nil
}

// ReadDir implements survivalfs.Volume.
func (v *Volume) ReadDir(path string) ([]survivalfs.DirEntry, error) {
	recordNum, found, err := v.resolvePath(path)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fserrors.ErrNotFound.WithMessage("readdir: " + path)
	}
	isDir, derr := v.isDirectoryRecord(recordNum)
	if derr != nil {
		return nil, derr
	}
	if !isDir {
		return nil, fserrors.ErrNotDirectory.WithMessage("readdir: " + path + " is a file")
	}
	return v.listDirectory(recordNum)
}

// ReadFile implements survivalfs.Volume.
func (v *Volume) ReadFile(path string) ([]byte, error) {
	recordNum, found, err := v.resolvePath(path)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fserrors.ErrNotFound.WithMessage("readfile: " + path)
	}
	isDir, derr := v.isDirectoryRecord(recordNum)
	if derr != nil {
		return nil, derr
	}
	if isDir {
		return nil, fserrors.ErrNotFile.WithMessage("readfile: " + path + " is a directory")
	}

	record, rerr := v.readMFTRecord(recordNum)
	if rerr != nil {
		return nil, rerr
	}
	hdr, herr := parseMFTRecordHeader(record)
	if herr != nil {
		return nil, herr
	}
	dataAttr, extra, aerr := v.resolveAttribute(recordNum, record, hdr, attrTypeData, "")
	if aerr != nil {
		return nil, aerr
	}
	return v.readAttributeValue(dataAttr, extra)
}

// WriteFile implements survivalfs.Volume: NTFS is read-only.
func (v *Volume) WriteFile(path string, data []byte) error {
	return fserrors.ErrReadOnly.WithMessage("writefile: NTFS volumes are read-only")
}

// Mkdir implements survivalfs.Volume: NTFS is read-only.
func (v *Volume) Mkdir(path string) error {
	return fserrors.ErrReadOnly.WithMessage("mkdir: NTFS volumes are read-only")
}

// Rename implements survivalfs.Volume: NTFS is read-only.
func (v *Volume) Rename(path string, newName string) error {
	return fserrors.ErrReadOnly.WithMessage("rename: NTFS volumes are read-only")
}

// Delete implements survivalfs.Volume: NTFS is read-only.
func (v *Volume) Delete(path string) error {
	return fserrors.ErrReadOnly.WithMessage("delete: NTFS volumes are read-only")
}

// Exists implements survivalfs.Volume.
func (v *Volume) Exists(path string) bool {
	_, found, err := v.resolvePath(path)
	return err == nil && found
}

// FileSize implements survivalfs.Volume.
func (v *Volume) FileSize(path string) uint64 {
	recordNum, found, err := v.resolvePath(path)
	if err != nil || !found {
		return 0
	}
	isDir, derr := v.isDirectoryRecord(recordNum)
	if derr != nil || isDir {
		return 0
	}
	record, rerr := v.readMFTRecord(recordNum)
	if rerr != nil {
		return 0
	}
	hdr, herr := parseMFTRecordHeader(record)
	if herr != nil {
		return 0
	}
	dataAttr, _, aerr := v.resolveAttribute(recordNum, record, hdr, attrTypeData, "")
	if aerr != nil {
		return 0
	}
	if !dataAttr.nonResident {
		return uint64(len(dataAttr.residentValue))
	}
	return dataAttr.realSize
}

// VolumeInfo implements survivalfs.Volume: reads $Bitmap (MFT record 6)
// and counts free clusters in 64 KB chunks to bound memory on large
// volumes.
func (v *Volume) VolumeInfo() survivalfs.VolumeInfo {
	total := v.boot.TotalSectors * uint64(v.boot.BytesPerSector) / uint64(v.boot.BytesPerCluster) * uint64(v.boot.BytesPerCluster)
	free, err := v.countFreeClusters()
	if err != nil {
		return survivalfs.VolumeInfo{TotalBytes: total}
	}
	return survivalfs.VolumeInfo{TotalBytes: total, FreeBytes: free * uint64(v.boot.BytesPerCluster)}
}

const freeSpaceChunkBytes = 64 * 1024

func (v *Volume) countFreeClusters() (uint64, fserrors.DriverError) {
	record, err := v.readMFTRecord(mftRecordBitmap)
	if err != nil {
		return 0, err
	}
	hdr, herr := parseMFTRecordHeader(record)
	if herr != nil {
		return 0, herr
	}
	bmAttr, extra, aerr := v.resolveAttribute(mftRecordBitmap, record, hdr, attrTypeData, "")
	if aerr != nil {
		return 0, aerr
	}

	totalClusters := v.boot.TotalSectors * uint64(v.boot.BytesPerSector) / uint64(v.boot.BytesPerCluster)

	if !bmAttr.nonResident {
		return countClearBits(bmAttr.residentValue, totalClusters), nil
	}

	extents, derr := datarun.Decode(bmAttr.dataRuns, 1<<20)
	if derr != nil {
		return 0, derr
	}
	for i := range extents {
		extents[i].VCN += bmAttr.startVCN
	}
	extents = append(extents, extra...)
	sortExtentsByVCN(extents)

	var free uint64
	var processed uint64
	clusterBits := totalClusters
	for processed*8 < clusterBits {
		remainingBits := clusterBits - processed*8
		chunkBytes := uint64(freeSpaceChunkBytes)
		if remainingBits/8 < chunkBytes {
			chunkBytes = (remainingBits + 7) / 8
		}
		if chunkBytes == 0 {
			break
		}
		chunk, cerr := v.readClustersFromExtents(extents, processed, chunkBytes)
		if cerr != nil {
			// Sparse extents covering this chunk count as all-free;
			// readClustersFromExtents already zero-fills sparse runs, so
			// any real failure here is a genuine corruption.
			return 0, cerr
		}
		bitsThisChunk := remainingBits
		if bitsThisChunk > chunkBytes*8 {
			bitsThisChunk = chunkBytes * 8
		}
		free += countClearBits(chunk, bitsThisChunk)
		processed += chunkBytes
	}
	return free, nil
}

func countClearBits(raw []byte, bitCount uint64) uint64 {
	b := bitmap.Bitmap(raw)
	var free uint64
	for i := uint64(0); i < bitCount; i++ {
		if !b.Get(int(i)) {
			free++
		}
	}
	return free
}

// Label implements survivalfs.Volume.
func (v *Volume) Label() string {
	return v.label
}

// Unmount implements survivalfs.Volume: flushes the (read-only, so never
// actually dirty) cache.
func (v *Volume) Unmount() error {
	return v.cache.FlushAll()
}
