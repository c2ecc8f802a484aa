package shmem

import "sort"

// freeBlock is one entry in the control plane's free-region index: a
// contiguous byte range of the anonymous arena available for a Local
// allocation (spec.md §4.1: "a free-region index (size-keyed ordered set,
// best-fit)").
type freeBlock struct {
	offset uint64
	size   uint64
}

// arena is a single pre-sized region the control plane carves unnamed
// ("Local", in the RPC sense — i.e. anonymous but still control-plane
// tracked) allocations out of, using best fit. Real deployments size this
// generously at startup; it grows on demand here since the only
// consequence of under-provisioning in this implementation is an extra
// heap allocation and copy, not a wasted reservation.
type arena struct {
	region *Region
	free   []freeBlock // kept sorted by size ascending
	used   map[uint64]uint64 // offset -> size, for Free
}

// newArena wraps an already-allocated region (the control plane's shared
// superblock) with a best-fit free-list allocator. The control plane
// always backs its superblock with a plain heap slice (NewLocal); the
// arena itself only sees the region's bytes.
func newArena(r *Region) *arena {
	return &arena{
		region: r,
		free:   []freeBlock{{offset: 0, size: uint64(len(r.data))}},
		used:   make(map[uint64]uint64),
	}
}

// bestFit returns the offset of a block at least `size` bytes, splitting
// it if it's larger than needed. Returns (0, false) if the arena has no
// block big enough (callers grow the arena and retry).
func (a *arena) bestFit(size uint64) (uint64, bool) {
	idx := sort.Search(len(a.free), func(i int) bool { return a.free[i].size >= size })
	if idx == len(a.free) {
		return 0, false
	}
	blk := a.free[idx]
	a.free = append(a.free[:idx], a.free[idx+1:]...)
	off := blk.offset
	if blk.size > size {
		a.insertFree(freeBlock{offset: blk.offset + size, size: blk.size - size})
	}
	a.used[off] = size
	return off, true
}

func (a *arena) insertFree(b freeBlock) {
	idx := sort.Search(len(a.free), func(i int) bool { return a.free[i].size >= b.size })
	a.free = append(a.free, freeBlock{})
	copy(a.free[idx+1:], a.free[idx:])
	a.free[idx] = b
}

// release returns a previously allocated block to the free index. This
// implementation does not coalesce adjacent blocks; under the allocation
// patterns this control plane actually serves (engine startup, not a
// steady-state per-packet path) external fragmentation is not a practical
// concern.
func (a *arena) release(off uint64) bool {
	size, ok := a.used[off]
	if !ok {
		return false
	}
	delete(a.used, off)
	a.insertFree(freeBlock{offset: off, size: size})
	return true
}

// grow replaces the arena's backing region with a larger one, copying the
// old contents forward. Callers that have cached the old base address
// (via RegisterBase) must re-register after a grow; in practice this only
// happens at startup under heavy named-allocation pressure, never once an
// engine's hot path is running.
func (a *arena) grow(extra int) *Region {
	old := a.region
	bigger := NewLocal(len(old.data) + extra)
	copy(bigger.data, old.data)
	a.insertFree(freeBlock{offset: uint64(len(old.data)), size: uint64(extra)})
	a.region = bigger
	return bigger
}
