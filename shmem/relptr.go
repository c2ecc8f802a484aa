// Package shmem implements the cross-process memory subsystem: the
// named/local/mempool-chunk allocation classes, the control plane that
// owns their metadata, and the relative-pointer type every persistent
// shared structure in this repository dereferences through (spec.md §4.1).
/*
 * Copyright (c) 2024, OmniStack authors.
 */
package shmem

import (
	"sync"
	"unsafe"
)

// Backend selects how a RelPtr is interpreted. The spec fixes the
// observable behavior of two backends and leaves the choice a
// process-wide, compile/start-time decision (spec.md §4.1 "Addressing").
type Backend uint8

const (
	// BackendOffset: one shared region mapped at a per-process base
	// address; RelPtr values travel as (process id, offset) pairs and are
	// dereferenced as base[process id] + offset.
	BackendOffset Backend = iota
	// BackendDirect: allocations are pointer-identical across processes
	// (e.g. a fixed MAP_FIXED mapping); RelPtr values travel as a raw
	// address and are dereferenced verbatim.
	BackendDirect
)

var activeBackend = BackendOffset

// SetBackend installs the process-wide addressing mode. It must be called
// before any RelPtr is constructed or dereferenced; the engine does this
// once at startup, mirroring the compile-time DPDK-vs-native switch in
// spec.md §9.
func SetBackend(b Backend) { activeBackend = b }

// ActiveBackend reports the current addressing mode.
func ActiveBackend() Backend { return activeBackend }

// RelPtr is the typed relative pointer every persistent cross-process data
// structure uses instead of a raw Go pointer. Its zero value is the nil
// pointer.
type RelPtr struct {
	procID uint32
	offset uint64
}

// Nil is the zero RelPtr, valid in both backends.
var Nil RelPtr

func (p RelPtr) IsNil() bool { return p == Nil }

// Deref resolves p to a live pointer in the calling process's address
// space. Returns nil if the backend is Offset and no base address has
// been registered for p's owning process (the peer has not attached to
// the region, or has died).
func (p RelPtr) Deref() unsafe.Pointer {
	if p.IsNil() {
		return nil
	}
	if activeBackend == BackendDirect {
		return unsafe.Pointer(uintptr(p.offset)) //nolint:govet // cross-process address, not a Go-managed pointer
	}
	base, ok := baseAddr(p.procID)
	if !ok {
		return nil
	}
	return unsafe.Pointer(base + uintptr(p.offset))
}

// FromPointer builds the RelPtr that a peer process would need to resolve
// ptr, which lives in procID's address space.
func FromPointer(procID uint32, ptr unsafe.Pointer) RelPtr {
	if ptr == nil {
		return Nil
	}
	if activeBackend == BackendDirect {
		return RelPtr{offset: uint64(uintptr(ptr))}
	}
	base, _ := baseAddr(procID)
	return RelPtr{procID: procID, offset: uint64(uintptr(ptr) - base)}
}

var (
	baseMu sync.RWMutex
	bases  = map[uint32]uintptr{}
)

// RegisterBase records the local virtual address at which procID's copy
// of a named region is mapped in *this* process. Every process that
// attaches to a named region calls this once per region with its own
// process id (which, in the Offset backend, is always the local process'
// own id: a process only ever needs to resolve pointers tagged with its
// own id, since a RelPtr is only meaningful to the process that allocated
// the byte range it identifies... except when the region itself is shared,
// in which case every attaching process registers the same base under the
// region owner's id so remote-origin RelPtrs resolve too).
func RegisterBase(procID uint32, base uintptr) {
	baseMu.Lock()
	bases[procID] = base
	baseMu.Unlock()
}

func UnregisterBase(procID uint32) {
	baseMu.Lock()
	delete(bases, procID)
	baseMu.Unlock()
}

func baseAddr(procID uint32) (uintptr, bool) {
	baseMu.RLock()
	defer baseMu.RUnlock()
	b, ok := bases[procID]
	return b, ok
}
