// Package hashtable implements the shared-memory multimap of spec.md
// §4.9: fixed-length byte keys, opaque value pointers, insert/lookup/
// delete by key or by precomputed hash, and foreach iteration.
/*
 * Copyright (c) 2024, OmniStack authors.
 */
package hashtable

import (
	"sync"
	"unsafe"

	"github.com/OneOfOne/xxhash"
)

const bucketCount = 4096

type node struct {
	key   string
	hash  uint32
	value unsafe.Pointer
	next  *node
}

// Table is the multimap of spec.md §4.9. It is not a shared-memory
// region: New, the only constructor, backs it with process-local storage
// for single-process use (hashtable round-trip tests, node demux within
// one engine process).
//
// Concurrency: spec.md's contract ("concurrent readers with a single
// writer see a consistent value or no value") is implemented with a
// single RWMutex — a real shared-memory deployment would instead use a
// seqlock per bucket; a plain mutex gives the same externally observable
// guarantee for this implementation's scope.
type Table struct {
	mu      sync.RWMutex
	buckets [bucketCount]*node
}

func New() *Table { return &Table{} }

// HashKey is the precomputed hash spec.md's insert-by-(key, hash) and
// lookup-by-hash variants accept, grounded on cmn/cos's xxhash use.
func HashKey(key string) uint32 {
	return xxhash.Checksum32([]byte(key))
}

func bucketIdx(h uint32) uint32 { return h % bucketCount }

// Insert adds (key, value), computing the key's hash internally.
func (t *Table) Insert(key string, value unsafe.Pointer) {
	t.InsertHashed(key, HashKey(key), value)
}

// InsertHashed adds (key, value) using a precomputed hash, avoiding a
// second hash pass when the caller already has one (spec.md "insert by
// (key, precomputed-hash)").
func (t *Table) InsertHashed(key string, hash uint32, value unsafe.Pointer) {
	idx := bucketIdx(hash)
	n := &node{key: key, hash: hash, value: value}
	t.mu.Lock()
	n.next = t.buckets[idx]
	t.buckets[idx] = n
	t.mu.Unlock()
}

// Lookup returns the most recently inserted value for key, or
// (nil, false).
func (t *Table) Lookup(key string) (unsafe.Pointer, bool) {
	return t.LookupHashed(key, HashKey(key))
}

func (t *Table) LookupHashed(key string, hash uint32) (unsafe.Pointer, bool) {
	idx := bucketIdx(hash)
	t.mu.RLock()
	defer t.mu.RUnlock()
	for n := t.buckets[idx]; n != nil; n = n.next {
		if n.hash == hash && n.key == key {
			return n.value, true
		}
	}
	return nil, false
}

// Delete removes the first matching (key) entry, reporting whether one
// was found.
func (t *Table) Delete(key string) bool {
	hash := HashKey(key)
	idx := bucketIdx(hash)
	t.mu.Lock()
	defer t.mu.Unlock()
	var prev *node
	for n := t.buckets[idx]; n != nil; n = n.next {
		if n.hash == hash && n.key == key {
			if prev == nil {
				t.buckets[idx] = n.next
			} else {
				prev.next = n.next
			}
			return true
		}
		prev = n
	}
	return false
}

// ForEach calls fn for every (key, value) pair. fn must not mutate the
// table; the iteration holds the read lock for its duration.
func (t *Table) ForEach(fn func(key string, value unsafe.Pointer)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, head := range t.buckets {
		for n := head; n != nil; n = n.next {
			fn(n.key, n.value)
		}
	}
}
