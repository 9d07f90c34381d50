package dispatch

import (
	"github.com/levkropp/survivalfs"
)

// ReadDir routes to the current volume's ReadDir, per spec.md §6.2.
func (d *Dispatcher) ReadDir(path Char16Path) ([]survivalfs.DirEntry, error) {
	if err := d.errNotRoutable(); err != nil {
		return nil, err
	}
	return d.volume.ReadDir(convertPath(path))
}

// ReadFile routes to the current volume's ReadFile.
func (d *Dispatcher) ReadFile(path Char16Path) ([]byte, error) {
	if err := d.errNotRoutable(); err != nil {
		return nil, err
	}
	return d.volume.ReadFile(convertPath(path))
}

// WriteFile routes to the current volume's WriteFile. The NTFS driver
// itself returns fserrors.ErrReadOnly for every write, which is exactly the
// WriteProtected outcome spec.md §4.7 asks the dispatcher to surface for
// NTFS writes — no special-casing is needed here beyond routing.
func (d *Dispatcher) WriteFile(path Char16Path, data []byte) error {
	if err := d.errNotRoutable(); err != nil {
		return err
	}
	return d.volume.WriteFile(convertPath(path), data)
}

// Mkdir routes to the current volume's Mkdir.
func (d *Dispatcher) Mkdir(path Char16Path) error {
	if err := d.errNotRoutable(); err != nil {
		return err
	}
	return d.volume.Mkdir(convertPath(path))
}

// Rename routes to the current volume's Rename. newName is a leaf name,
// not a path, so it needs no separator conversion.
func (d *Dispatcher) Rename(path Char16Path, newName string) error {
	if err := d.errNotRoutable(); err != nil {
		return err
	}
	return d.volume.Rename(convertPath(path), newName)
}

// Delete routes to the current volume's Delete.
func (d *Dispatcher) Delete(path Char16Path) error {
	if err := d.errNotRoutable(); err != nil {
		return err
	}
	return d.volume.Delete(convertPath(path))
}

// Exists routes to the current volume's Exists. Per spec.md §6.2 this
// operation never fails observably: an unmounted or unsupported tag simply
// reports false.
func (d *Dispatcher) Exists(path Char16Path) bool {
	if d.volume == nil {
		return false
	}
	return d.volume.Exists(convertPath(path))
}

// FileSize routes to the current volume's FileSize. Per spec.md §6.2 this
// never fails observably: an unmounted or unsupported tag reports 0.
func (d *Dispatcher) FileSize(path Char16Path) uint64 {
	if d.volume == nil {
		return 0
	}
	return d.volume.FileSize(convertPath(path))
}

// VolumeInfo routes to the current volume's VolumeInfo. Per spec.md §6.2
// this never fails observably: an unmounted or unsupported tag reports the
// zero value.
func (d *Dispatcher) VolumeInfo() survivalfs.VolumeInfo {
	if d.volume == nil {
		return survivalfs.VolumeInfo{}
	}
	return d.volume.VolumeInfo()
}

// Label routes to the current volume's Label. Per spec.md §6.2 this never
// fails observably: an unmounted or unsupported tag reports "".
func (d *Dispatcher) Label() string {
	if d.volume == nil {
		return ""
	}
	return d.volume.Label()
}
