// Package dispatch is the uniform dispatcher: a stateful holder of one
// mounted volume, tagged by which driver backs it, routing every public
// filesystem operation to that driver, grounded on spec.md §4.7 and §9's
// "re-architect as a sum type" design note. The teacher has no equivalent
// (disko's VFS layer is the mount-table abstraction this module deliberately
// does not need, per DESIGN.md: the set of drivers is closed and there is
// never more than one mounted volume), so the routing itself follows no
// teacher file; only the error taxonomy and path-splitting idioms it calls
// into (fserrors, survivalfs) are reused directly.
package dispatch

import (
	"github.com/levkropp/survivalfs"
	"github.com/levkropp/survivalfs/blockio"
	"github.com/levkropp/survivalfs/exfat"
	"github.com/levkropp/survivalfs/fserrors"
	"github.com/levkropp/survivalfs/ntfs"
)

// Tag names the driver backing the dispatcher's current volume, the sum
// type spec.md §9 asks for: "Volume { SimpleFs | ExFat(ExFatVol) |
// Ntfs(NtfsVol) }".
type Tag int

const (
	// TagNone means no volume is currently mounted.
	TagNone Tag = iota
	// TagSimpleFS is the UEFI Simple File System pass-through spec.md §4.7
	// names. There is no firmware underneath this hosted build to pass
	// through to, so it carries no driver implementation: every operation
	// against it returns NotSupported, exactly as spec.md §4.7 prescribes
	// for "a tag has no implementation".
	TagSimpleFS
	TagExFat
	TagNtfs
)

func (t Tag) String() string {
	switch t {
	case TagSimpleFS:
		return "SimpleFS"
	case TagExFat:
		return "ExFat"
	case TagNtfs:
		return "Ntfs"
	default:
		return "none"
	}
}

// Dispatcher holds the current mounted volume and its tag. It is not safe
// for concurrent use, matching spec.md §5's single cooperative thread model.
type Dispatcher struct {
	tag    Tag
	volume survivalfs.Volume
}

// New returns a Dispatcher with nothing mounted.
func New() *Dispatcher {
	return &Dispatcher{tag: TagNone}
}

// Tag reports which driver, if any, currently backs the dispatcher.
func (d *Dispatcher) Tag() Tag {
	return d.tag
}

// MountExFat mounts an exFAT volume and makes it the current one,
// unmounting whatever was previously mounted.
func (d *Dispatcher) MountExFat(blockSize uint, read blockio.ReadFunc, write blockio.WriteFunc) error {
	vol, err := exfat.Mount(blockSize, read, write)
	if err != nil {
		return err
	}
	if uerr := d.unmountCurrent(); uerr != nil {
		return uerr
	}
	d.tag = TagExFat
	d.volume = vol
	return nil
}

// MountNTFS mounts an NTFS volume read-only and makes it the current one.
func (d *Dispatcher) MountNTFS(blockSize uint, read blockio.ReadFunc, write blockio.WriteFunc) error {
	vol, err := ntfs.Mount(blockSize, read, write)
	if err != nil {
		return err
	}
	if uerr := d.unmountCurrent(); uerr != nil {
		return uerr
	}
	d.tag = TagNtfs
	d.volume = vol
	return nil
}

// MountSimpleFS tags the dispatcher as backed by the firmware's own Simple
// File System protocol. No operation against it succeeds in this hosted
// build (see TagSimpleFS); the tag exists so a caller can observe and
// report that state rather than the dispatcher silently refusing to
// acknowledge it.
func (d *Dispatcher) MountSimpleFS() error {
	if uerr := d.unmountCurrent(); uerr != nil {
		return uerr
	}
	d.tag = TagSimpleFS
	d.volume = nil
	return nil
}

func (d *Dispatcher) unmountCurrent() error {
	if d.volume == nil {
		return nil
	}
	return d.volume.Unmount()
}

// Unmount flushes and releases the current volume, if any.
func (d *Dispatcher) Unmount() error {
	if err := d.unmountCurrent(); err != nil {
		return err
	}
	d.tag = TagNone
	d.volume = nil
	return nil
}

// errNotRoutable reports the two cases spec.md §4.7 calls NotSupported:
// nothing mounted, or the current tag (SimpleFS) carries no driver.
func (d *Dispatcher) errNotRoutable() fserrors.DriverError {
	switch d.tag {
	case TagNone:
		return fserrors.ErrInvalidArgument.WithMessage("no volume mounted")
	case TagSimpleFS:
		return fserrors.ErrInvalidArgument.WithMessage("SimpleFS pass-through has no driver in this build")
	default:
		return nil
	}
}
