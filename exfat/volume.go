package exfat

import (
	"sort"
	"strings"

	"github.com/levkropp/survivalfs"
	"github.com/levkropp/survivalfs/blockio"
	"github.com/levkropp/survivalfs/fserrors"
	"github.com/levkropp/survivalfs/sectorcache"
)

const sectorCacheCapacity = 8

// Volume is a mounted exFAT filesystem, implementing survivalfs.Volume.
type Volume struct {
	dev    *blockio.Device
	cache  *sectorcache.Cache
	boot   *BootSector
	bitmap *allocBitmap
	label  string
}

var _ survivalfs.Volume = (*Volume)(nil)

// Mount validates and opens an exFAT volume given a device block size and
// read/write callback pair.
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

	scan, serr := v.scanDirectory(boot.RootDirFirstCluster)
	if serr != nil {
		return nil, serr
	}
	if !scan.hasBitmap {
		return nil, fserrors.ErrCorruptFilesystem.WithMessage("root directory has no allocation bitmap entry")
	}

	bitmapRaw, berr := v.readChainBytes(scan.bitmapFirstCluster, chainFAT, scan.bitmapDataLength)
	if berr != nil {
		return nil, berr
	}
	v.bitmap = newAllocBitmap(bitmapRaw, boot.ClusterCount, scan.bitmapFirstCluster, scan.bitmapDataLength)
	v.label = scan.label

	return v, nil
}

// splitPath validates and splits a '/'-separated path into components.
// The root path ("/" or "") yields a nil, non-error component slice.
func splitPath(path string) ([]string, fserrors.DriverError) {
	if len(path) > 4096 {
		return nil, fserrors.ErrInvalidArgument.WithMessage("path too long")
	}
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, "/")
	for _, p := range parts {
		if p == "" || len(p) > 127 {
			return nil, fserrors.ErrInvalidArgument.WithMessage("empty or over-long path component")
		}
	}
	return parts, nil
}

// resolveDirPath walks a sequence of directory-only path components
// starting at the root, returning the final directory's first cluster.
func (v *Volume) resolveDirPath(comps []string) (ClusterID, fserrors.DriverError) {
	cur := v.boot.RootDirFirstCluster
	for _, comp := range comps {
		e, found, err := v.findInDir(cur, comp)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, fserrors.ErrNotFound.WithMessage("path component not found: " + comp)
		}
		if !e.isDir {
			return 0, fserrors.ErrNotDirectory.WithMessage(comp + " is not a directory")
		}
		cur = e.firstCluster
	}
	return cur, nil
}

func (v *Volume) findInDir(dirCluster ClusterID, name string) (dirent, bool, fserrors.DriverError) {
	scan, err := v.scanDirectory(dirCluster)
	if err != nil {
		return dirent{}, false, err
	}
	for _, e := range scan.entries {
		if survivalfs.EqualFoldASCII(e.name, name) {
			return e, true, nil
		}
	}
	return dirent{}, false, nil
}

// lookupFull resolves path to its containing directory's cluster and, if
// present, the entry itself. found is false (with no error) when the
// path's final component does not exist in an otherwise-valid parent
// directory.
func (v *Volume) lookupFull(path string) (dirCluster ClusterID, de dirent, found bool, err fserrors.DriverError) {
	comps, serr := splitPath(path)
	if serr != nil {
		return 0, dirent{}, false, serr
	}
	if len(comps) == 0 {
		root := dirent{isDir: true, firstCluster: v.boot.RootDirFirstCluster}
		return v.boot.RootDirFirstCluster, root, true, nil
	}

	parentCluster, perr := v.resolveDirPath(comps[:len(comps)-1])
	if perr != nil {
		return 0, dirent{}, false, perr
	}
	leaf := comps[len(comps)-1]
	de, found, err = v.findInDir(parentCluster, leaf)
	return parentCluster, de, found, err
}

// ReadDir implements survivalfs.Volume.
func (v *Volume) ReadDir(path string) ([]survivalfs.DirEntry, error) {
	_, de, found, err := v.lookupFull(path)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fserrors.ErrNotFound.WithMessage("readdir: " + path)
	}
	if !de.isDir {
		return nil, fserrors.ErrNotDirectory.WithMessage("readdir: " + path + " is a file")
	}

	scan, serr := v.scanDirectory(de.firstCluster)
	if serr != nil {
		return nil, serr
	}

	out := make([]survivalfs.DirEntry, 0, len(scan.entries))
	for _, e := range scan.entries {
		out = append(out, survivalfs.DirEntry{Name: e.name, Size: e.dataLength, IsDir: e.isDir})
	}
	sort.Slice(out, func(i, j int) bool {
		return asciiUpcase(out[i].Name) < asciiUpcase(out[j].Name)
	})
	return out, nil
}

// ReadFile implements survivalfs.Volume.
func (v *Volume) ReadFile(path string) ([]byte, error) {
	_, de, found, err := v.lookupFull(path)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fserrors.ErrNotFound.WithMessage("readfile: " + path)
	}
	if de.isDir {
		return nil, fserrors.ErrNotFile.WithMessage("readfile: " + path + " is a directory")
	}
	if de.dataLength == 0 {
		return []byte{}, nil
	}

	mode := chainFAT
	if de.noFatChain {
		mode = chainContiguous
	}
	return v.readChainBytes(de.firstCluster, mode, de.dataLength)
}

// writeFileClusters writes data across clusters, zero-padding the final
// cluster's unused tail.
func (v *Volume) writeFileClusters(clusters []ClusterID, data []byte) fserrors.DriverError {
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

// WriteFile implements survivalfs.Volume: delete-and-recreate semantics.
func (v *Volume) WriteFile(path string, data []byte) error {
	comps, serr := splitPath(path)
	if serr != nil {
		return serr
	}
	if len(comps) == 0 {
		return fserrors.ErrNotFile.WithMessage("writefile: cannot write to the root")
	}

	dirCluster, existing, found, err := v.lookupFull(path)
	if err != nil {
		return err
	}
	if found {
		if existing.isDir {
			return fserrors.ErrNotFile.WithMessage("writefile: " + path + " is a directory")
		}
		mode := chainFAT
		if existing.noFatChain {
			mode = chainContiguous
		}
		oldClusters := clusterCountForBytes(existing.dataLength, v.boot.BytesPerCluster)
		if oldClusters > 0 {
			if err := v.freeChain(existing.firstCluster, mode, oldClusters); err != nil {
				return err
			}
		}
		if err := v.clearEntrySet(dirCluster, existing.loc, existing.entryCount); err != nil {
			return err
		}
	}

	leaf := comps[len(comps)-1]
	newClusterCount := clusterCountForBytes(uint64(len(data)), v.boot.BytesPerCluster)
	var firstCluster ClusterID
	if newClusterCount > 0 {
		clusters, aerr := v.allocateChain(newClusterCount)
		if aerr != nil {
			return aerr
		}
		firstCluster = clusters[0]
		if err := v.writeFileClusters(clusters, data); err != nil {
			return err
		}
	}

	raw, berr := buildEntrySet(leaf, attrArchive, firstCluster, uint64(len(data)), uint64(len(data)), false)
	if berr != nil {
		return berr
	}
	if err := v.appendEntrySet(dirCluster, raw); err != nil {
		return err
	}
	if err := v.flushBitmap(); err != nil {
		return err
	}
	return v.cache.FlushAll()
}

// Mkdir implements survivalfs.Volume, creating every missing path
// component (idempotent: an existing directory component is simply
// descended into).
func (v *Volume) Mkdir(path string) error {
	comps, serr := splitPath(path)
	if serr != nil {
		return serr
	}
	if len(comps) == 0 {
		return nil
	}

	cur := v.boot.RootDirFirstCluster
	created := false
	for _, comp := range comps {
		e, found, ferr := v.findInDir(cur, comp)
		if ferr != nil {
			return ferr
		}
		if found {
			if !e.isDir {
				return fserrors.ErrExists.WithMessage(comp + " exists as a file")
			}
			cur = e.firstCluster
			continue
		}

		clusters, aerr := v.allocateChain(1)
		if aerr != nil {
			return aerr
		}
		if err := v.writeCluster(clusters[0], make([]byte, v.boot.BytesPerCluster)); err != nil {
			return err
		}
		raw, berr := buildEntrySet(comp, attrDirectory, clusters[0], 0, 0, false)
		if berr != nil {
			return berr
		}
		if err := v.appendEntrySet(cur, raw); err != nil {
			return err
		}
		cur = clusters[0]
		created = true
	}

	if created {
		if err := v.flushBitmap(); err != nil {
			return err
		}
		return v.cache.FlushAll()
	}
	return nil
}

// Rename implements survivalfs.Volume (renames within the same directory;
// newName is a leaf name, not a full path).
func (v *Volume) Rename(path string, newName string) error {
	dirCluster, existing, found, err := v.lookupFull(path)
	if err != nil {
		return err
	}
	if !found {
		return fserrors.ErrNotFound.WithMessage("rename: " + path + " not found")
	}

	_, collides, cerr := v.findInDir(dirCluster, newName)
	if cerr != nil {
		return cerr
	}
	if collides {
		return fserrors.ErrExists.WithMessage("rename: " + newName + " already exists")
	}

	raw, berr := buildEntrySet(newName, existing.attrs, existing.firstCluster,
		existing.dataLength, existing.validDataLength, existing.noFatChain)
	if berr != nil {
		return berr
	}
	if err := v.clearEntrySet(dirCluster, existing.loc, existing.entryCount); err != nil {
		return err
	}
	if err := v.appendEntrySet(dirCluster, raw); err != nil {
		return err
	}
	if err := v.flushBitmap(); err != nil {
		return err
	}
	return v.cache.FlushAll()
}

// Delete implements survivalfs.Volume.
func (v *Volume) Delete(path string) error {
	dirCluster, existing, found, err := v.lookupFull(path)
	if err != nil {
		return err
	}
	if !found {
		return fserrors.ErrNotFound.WithMessage("delete: " + path + " not found")
	}

	mode := chainFAT
	if existing.noFatChain {
		mode = chainContiguous
	}

	var clusterCount uint32
	if existing.isDir {
		scan, serr := v.scanDirectory(existing.firstCluster)
		if serr != nil {
			return serr
		}
		if len(scan.entries) > 0 {
			return fserrors.ErrNotEmpty.WithMessage("delete: " + path + " is not empty")
		}
		_, dirClusters, lerr := v.loadDirectoryChain(existing.firstCluster)
		if lerr != nil {
			return lerr
		}
		clusterCount = uint32(len(dirClusters)) // every cluster the directory chain holds
	} else {
		clusterCount = clusterCountForBytes(existing.dataLength, v.boot.BytesPerCluster)
	}

	if clusterCount > 0 {
		if err := v.freeChain(existing.firstCluster, mode, clusterCount); err != nil {
			return err
		}
	}
	if err := v.clearEntrySet(dirCluster, existing.loc, existing.entryCount); err != nil {
		return err
	}
	if err := v.flushBitmap(); err != nil {
		return err
	}
	return v.cache.FlushAll()
}

// Exists implements survivalfs.Volume.
func (v *Volume) Exists(path string) bool {
	_, _, found, err := v.lookupFull(path)
	return err == nil && found
}

// FileSize implements survivalfs.Volume.
func (v *Volume) FileSize(path string) uint64 {
	_, de, found, err := v.lookupFull(path)
	if err != nil || !found || de.isDir {
		return 0
	}
	return de.dataLength
}

// VolumeInfo implements survivalfs.Volume.
func (v *Volume) VolumeInfo() survivalfs.VolumeInfo {
	total := uint64(v.boot.ClusterCount) * uint64(v.boot.BytesPerCluster)
	free := uint64(v.bitmap.freeCount()) * uint64(v.boot.BytesPerCluster)
	return survivalfs.VolumeInfo{TotalBytes: total, FreeBytes: free}
}

// Label implements survivalfs.Volume.
func (v *Volume) Label() string {
	return v.label
}

func (v *Volume) flushBitmap() fserrors.DriverError {
	if !v.bitmap.dirty {
		return nil
	}
	if err := v.writeChainBytes(v.bitmap.firstCluster, chainFAT, []byte(v.bitmap.bits)); err != nil {
		return err
	}
	v.bitmap.dirty = false
	return nil
}

// Unmount implements survivalfs.Volume: flushes the bitmap and every
// dirty cache entry.
func (v *Volume) Unmount() error {
	if err := v.flushBitmap(); err != nil {
		return err
	}
	return v.cache.FlushAll()
}
