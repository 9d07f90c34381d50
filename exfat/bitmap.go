package exfat

import (
	"github.com/boljen/go-bitmap"

	"github.com/levkropp/survivalfs/fserrors"
)

// allocBitmap is the in-memory allocation bitmap: one bit per data
// cluster, bit 0 of byte 0 corresponding to cluster 2. It is loaded in
// full at mount and written back through its cluster chain whenever an
// allocation changes.
type allocBitmap struct {
	bits          bitmap.Bitmap
	clusterCount  uint32
	firstCluster  ClusterID
	dataLength    uint64
	dirty         bool
}

func newAllocBitmap(raw []byte, clusterCount uint32, firstCluster ClusterID, dataLength uint64) *allocBitmap {
	return &allocBitmap{
		bits:         bitmap.Bitmap(raw),
		clusterCount: clusterCount,
		firstCluster: firstCluster,
		dataLength:   dataLength,
	}
}

func (b *allocBitmap) index(c ClusterID) int {
	return int(c - firstDataCluster)
}

func (b *allocBitmap) isSet(c ClusterID) bool {
	return b.bits.Get(b.index(c))
}

func (b *allocBitmap) set(c ClusterID, v bool) {
	b.bits.Set(b.index(c), v)
	b.dirty = true
}

// allocateOne scans for the first clear bit from cluster 2 upward and
// marks it used, returning the newly allocated cluster.
func (b *allocBitmap) allocateOne() (ClusterID, fserrors.DriverError) {
	for i := uint32(0); i < b.clusterCount; i++ {
		c := firstDataCluster + ClusterID(i)
		if !b.isSet(c) {
			b.set(c, true)
			return c, nil
		}
	}
	return 0, fserrors.ErrNoSpace.WithMessage("allocation bitmap has no free clusters")
}

// freeCount returns the number of clear bits (free clusters).
func (b *allocBitmap) freeCount() uint32 {
	var free uint32
	for i := uint32(0); i < b.clusterCount; i++ {
		c := firstDataCluster + ClusterID(i)
		if !b.isSet(c) {
			free++
		}
	}
	return free
}
