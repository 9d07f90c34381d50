package fat32

import (
	"sort"
	"strings"

	"github.com/levkropp/survivalfs"
	"github.com/levkropp/survivalfs/blockio"
	"github.com/levkropp/survivalfs/fserrors"
	"github.com/levkropp/survivalfs/sectorcache"
)

const sectorCacheCapacity = 8

// Volume is a mounted FAT32 filesystem (ordinarily one this package has
// just formatted), implementing survivalfs.Volume so files can be
// written to it and the result inspected through the same dispatcher
// surface the other two drivers use.
type Volume struct {
	dev             *blockio.Device
	cache           *sectorcache.Cache
	boot            *BootSector
	dataStartSector uint64
	nextFreeHint    uint32
	label           string
}

var _ survivalfs.Volume = (*Volume)(nil)

// Mount opens an existing FAT32 volume (one this package formatted, or
// any other bit-compatible FAT32 image).
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

	v := &Volume{
		dev:             dev,
		cache:           cache,
		boot:            boot,
		dataStartSector: uint64(boot.ReservedSectorCount) + uint64(boot.NumFATs)*uint64(boot.FATSizeSectors),
		nextFreeHint:    3,
	}

	_, label, serr := v.scanDirectory(boot.RootCluster)
	if serr != nil {
		return nil, serr
	}
	v.label = label

	return v, nil
}

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
		if p == "" {
			return nil, fserrors.ErrInvalidArgument.WithMessage("empty path component")
		}
	}
	return parts, nil
}

// ensureDir resolves (creating as needed) every directory component of
// comps starting at the root, per spec.md's "ensure_dir (lookup-or-
// create)" rule for writing a file after format.
func (v *Volume) ensureDir(comps []string) (uint32, fserrors.DriverError) {
	cur := v.boot.RootCluster
	for _, comp := range comps {
		e, found, err := v.findInDir(cur, comp)
		if err != nil {
			return 0, err
		}
		if found {
			if !e.isDir {
				return 0, fserrors.ErrExists.WithMessage(comp + " exists as a file")
			}
			cur = e.firstCluster
			continue
		}

		clusters, aerr := v.allocateChain(1)
		if aerr != nil {
			return 0, aerr
		}
		if err := v.writeCluster(clusters[0], make([]byte, v.boot.BytesPerCluster)); err != nil {
			return 0, err
		}

		entries, _, serr := v.scanDirectory(cur)
		if serr != nil {
			return 0, serr
		}
		tail := generateShortNameTail(comp, entries)
		raw := buildEntrySet(comp, attrDirectory, clusters[0], 0, tail)
		if err := v.appendEntrySet(cur, raw); err != nil {
			return 0, err
		}
		cur = clusters[0]
	}
	return cur, nil
}

func (v *Volume) lookupFull(path string) (parentCluster uint32, de dirent, found bool, err fserrors.DriverError) {
	comps, serr := splitPath(path)
	if serr != nil {
		return 0, dirent{}, false, serr
	}
	if len(comps) == 0 {
		root := dirent{isDir: true, firstCluster: v.boot.RootCluster}
		return v.boot.RootCluster, root, true, nil
	}

	cur := v.boot.RootCluster
	for _, comp := range comps[:len(comps)-1] {
		e, found, ferr := v.findInDir(cur, comp)
		if ferr != nil {
			return 0, dirent{}, false, ferr
		}
		if !found {
			return 0, dirent{}, false, fserrors.ErrNotFound.WithMessage("path component not found: " + comp)
		}
		if !e.isDir {
			return 0, dirent{}, false, fserrors.ErrNotDirectory.WithMessage(comp + " is not a directory")
		}
		cur = e.firstCluster
	}
	leaf := comps[len(comps)-1]
	de, found, err = v.findInDir(cur, leaf)
	return cur, de, found, err
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

	entries, _, serr := v.scanDirectory(de.firstCluster)
	if serr != nil {
		return nil, serr
	}

	out := make([]survivalfs.DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, survivalfs.DirEntry{Name: e.name, Size: uint64(e.size), IsDir: e.isDir})
	}
	sort.Slice(out, func(i, j int) bool {
		return survivalfs.UpcaseASCII(out[i].Name) < survivalfs.UpcaseASCII(out[j].Name)
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
	if de.size == 0 {
		return []byte{}, nil
	}
	return v.readChainBytes(de.firstCluster, uint64(de.size))
}

// WriteFile implements survivalfs.Volume: delete-and-recreate semantics,
// exercising ensure_dir for every intermediate path component per
// spec.md's "writing a file after format" sequence.
func (v *Volume) WriteFile(path string, data []byte) error {
	comps, serr := splitPath(path)
	if serr != nil {
		return serr
	}
	if len(comps) == 0 {
		return fserrors.ErrNotFile.WithMessage("writefile: cannot write to the root")
	}

	dirCluster, err := v.ensureDir(comps[:len(comps)-1])
	if err != nil {
		return err
	}
	leaf := comps[len(comps)-1]

	existing, found, ferr := v.findInDir(dirCluster, leaf)
	if ferr != nil {
		return ferr
	}
	if found {
		if existing.isDir {
			return fserrors.ErrNotFile.WithMessage("writefile: " + path + " is a directory")
		}
		oldClusters := clusterCountForBytes(uint64(existing.size), v.boot.BytesPerCluster)
		if oldClusters > 0 {
			if err := v.freeChain(existing.firstCluster, oldClusters); err != nil {
				return err
			}
		}
		if err := v.clearEntrySet(existing.loc, existing.entryCount); err != nil {
			return err
		}
	}

	newClusterCount := clusterCountForBytes(uint64(len(data)), v.boot.BytesPerCluster)
	var firstCluster uint32
	if newClusterCount > 0 {
		clusters, aerr := v.allocateChain(newClusterCount)
		if aerr != nil {
			return aerr
		}
		firstCluster = clusters[0]
		if err := v.writeChainBytes(clusters, data); err != nil {
			return err
		}
	}

	entries, serr := v.entriesIn(dirCluster)
	if serr != nil {
		return serr
	}
	tail := generateShortNameTail(leaf, entries)
	raw := buildEntrySet(leaf, attrArchive, firstCluster, uint32(len(data)), tail)
	if err := v.appendEntrySet(dirCluster, raw); err != nil {
		return err
	}
	return v.cache.FlushAll()
}

func (v *Volume) entriesIn(cluster uint32) ([]dirent, fserrors.DriverError) {
	entries, _, err := v.scanDirectory(cluster)
	return entries, err
}

// Mkdir implements survivalfs.Volume via ensureDir, idempotent for
// already-existing directory components.
func (v *Volume) Mkdir(path string) error {
	comps, serr := splitPath(path)
	if serr != nil {
		return serr
	}
	if len(comps) == 0 {
		return nil
	}
	if _, err := v.ensureDir(comps); err != nil {
		return err
	}
	return v.cache.FlushAll()
}

// Rename implements survivalfs.Volume (renames within the same directory).
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

	attrs := uint8(attrArchive)
	if existing.isDir {
		attrs = attrDirectory
	}

	entries, serr := v.entriesIn(dirCluster)
	if serr != nil {
		return serr
	}
	tail := generateShortNameTail(newName, entries)
	raw := buildEntrySet(newName, attrs, existing.firstCluster, existing.size, tail)

	if err := v.clearEntrySet(existing.loc, existing.entryCount); err != nil {
		return err
	}
	if err := v.appendEntrySet(dirCluster, raw); err != nil {
		return err
	}
	return v.cache.FlushAll()
}

// Delete implements survivalfs.Volume.
func (v *Volume) Delete(path string) error {
	_, existing, found, err := v.lookupFull(path)
	if err != nil {
		return err
	}
	if !found {
		return fserrors.ErrNotFound.WithMessage("delete: " + path + " not found")
	}

	var clusterCount uint32
	if existing.isDir {
		entries, serr := v.entriesIn(existing.firstCluster)
		if serr != nil {
			return serr
		}
		if len(entries) > 0 {
			return fserrors.ErrNotEmpty.WithMessage("delete: " + path + " is not empty")
		}
		clusterCount = 1
	} else {
		clusterCount = clusterCountForBytes(uint64(existing.size), v.boot.BytesPerCluster)
	}

	if clusterCount > 0 {
		if err := v.freeChain(existing.firstCluster, clusterCount); err != nil {
			return err
		}
	}
	if err := v.clearEntrySet(existing.loc, existing.entryCount); err != nil {
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
	return uint64(de.size)
}

// VolumeInfo implements survivalfs.Volume.
func (v *Volume) VolumeInfo() survivalfs.VolumeInfo {
	total := uint64(v.totalDataClusters()) * uint64(v.boot.BytesPerCluster)
	free, ferr := v.freeClusterCount()
	if ferr != nil {
		return survivalfs.VolumeInfo{TotalBytes: total}
	}
	return survivalfs.VolumeInfo{TotalBytes: total, FreeBytes: uint64(free) * uint64(v.boot.BytesPerCluster)}
}

// Label implements survivalfs.Volume.
func (v *Volume) Label() string {
	return v.label
}

// Unmount implements survivalfs.Volume: flushes every dirty cache entry.
func (v *Volume) Unmount() error {
	return v.cache.FlushAll()
}
