package shmem

import (
	"unsafe"
)

// Kind distinguishes the three allocation classes of spec.md §4.1.
type Kind uint8

const (
	Local Kind = iota
	NamedShared
	MempoolChunkRegion
)

// Region is a live allocation: a process-private buffer (Local), a
// cross-process named mapping (NamedShared), or the backing store of a
// MemoryPool (MempoolChunkRegion).
type Region struct {
	Name string
	Size int
	Kind Kind

	data []byte // backing storage; heap slice for Local, mmap for NamedShared
	refs int32  // control-plane refcount for NamedShared regions
}

// Base returns the region's local virtual base address.
func (r *Region) Base() uintptr {
	if len(r.data) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&r.data[0]))
}

func (r *Region) Bytes() []byte { return r.data }

// NewLocal allocates a process-private region directly from the Go heap;
// freed by letting it become garbage once its last reference is dropped
// (spec.md §4.1 "Local: process-private ... freed directly").
func NewLocal(size int) *Region {
	return &Region{Kind: Local, Size: size, data: make([]byte, size)}
}

// OffsetOf returns ptr's offset from the region's base, for building a
// RelPtr by hand (used by allocators that hand out sub-ranges of a
// region, e.g. a MemoryPool's chunks).
func (r *Region) OffsetOf(ptr unsafe.Pointer) uint64 {
	return uint64(uintptr(ptr) - r.Base())
}

// At returns a pointer to byte offset off within the region.
func (r *Region) At(off uint64) unsafe.Pointer {
	if off > uint64(len(r.data)) {
		return nil
	}
	return unsafe.Pointer(&r.data[off])
}

// openNamed creates or attaches to the OS-level backing store for a named
// region of the given size; the platform-specific implementation lives in
// shm_linux.go (a real /dev/shm mapping, visible to independently started
// processes) and shm_other.go (heap fallback for non-Linux dev/test
// hosts, per cos.ErrNoUsableRegion semantics if unsupported).
func openNamed(name string, size int) ([]byte, error) {
	return mmapNamed(name, size)
}

func closeNamed(name string, data []byte) error {
	return munmapNamed(name, data)
}

// OpenNamedRegion attaches to (creating if necessary) a named region
// directly, for subsystems that manage their own naming convention
// instead of going through a memory ControlPlane — the token service uses
// this to back its Token records with real shared memory (spec.md §4.2
// "the token is a record both sides can see without a message").
func OpenNamedRegion(name string, size int) (*Region, error) {
	data, err := openNamed(name, size)
	if err != nil {
		return nil, err
	}
	return &Region{Name: name, Size: size, Kind: NamedShared, data: data}, nil
}
