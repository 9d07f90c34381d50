// Package survivalfs is the uniform filesystem interface: the surface that
// a boot loader, a text editor, or a file browser calls, independent of
// which on-disk format is actually mounted.
//
// The package itself holds only the types shared across drivers. The
// drivers live in their own packages (exfat, ntfs, fat32); dispatch ties
// them together behind the Volume interface defined here.
package survivalfs

// DirEntry is the directory-entry shape exposed to callers. It owns no
// on-disk state; it is a snapshot taken at ReadDir time.
type DirEntry struct {
	Name  string
	Size  uint64
	IsDir bool
}

// VolumeInfo reports aggregate space usage for a mounted volume.
type VolumeInfo struct {
	TotalBytes uint64
	FreeBytes  uint64
}

// Volume is the uniform interface every driver (exfat.Volume, ntfs.Volume,
// fat32.Volume) implements.
// Paths are ASCII with '/' separators; "/" alone denotes the root.
//
// Implementations do not need locking: callers are expected to run a
// single cooperative thread of execution per volume handle.
type Volume interface {
	ReadDir(path string) ([]DirEntry, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	Mkdir(path string) error
	Rename(path string, newName string) error
	Delete(path string) error
	Exists(path string) bool
	FileSize(path string) uint64
	VolumeInfo() VolumeInfo
	Label() string
	Unmount() error
}
