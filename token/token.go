// Package token implements the cooperative single-holder ownership
// service of spec.md §4.2: a fast, lock-free ownership check on the
// common path, backed by a control plane that arbitrates contested
// acquisition.
/*
 * Copyright (c) 2024, OmniStack authors.
 */
package token

import (
	"sync/atomic"
	"unsafe"
)

const maxThreads = 4096

// Token is the shared record spec.md §3 describes: an owner thread id (0
// when free), a "returning" flag, and a per-thread need-return bit set.
// Every field here is safe to read with a plain atomic load from any
// thread — that is the whole point of the fast path in spec.md §4.2.
type Token struct {
	id        uint64
	owner     atomic.Uint32 // 0 == free
	returning atomic.Bool
	needWords [maxThreads / 64]atomic.Uint64
}

// NewToken creates a token already owned by forThreadID, per spec.md §4.2
// CreateToken(for_thread_id).
func NewToken(id uint64, forThreadID uint32) *Token {
	t := &Token{id: id}
	t.owner.Store(forThreadID)
	return t
}

// tokenSize is how much shared memory a single Token record needs; the
// control plane carves its token pool into slots of exactly this size.
const tokenSize = unsafe.Sizeof(Token{})

func (t *Token) ID() uint64 { return t.id }

func (t *Token) Owner() uint32 { return t.owner.Load() }

func (t *Token) needReturn(threadID uint32) bool {
	w, b := threadID/64, threadID%64
	return t.needWords[w].Load()&(1<<b) != 0
}

func (t *Token) setNeedReturn(threadID uint32) {
	w, b := threadID/64, threadID%64
	word := &t.needWords[w]
	for {
		old := word.Load()
		n := old | (1 << b)
		if old == n || word.CompareAndSwap(old, n) {
			return
		}
	}
}

func (t *Token) clearNeedReturn(threadID uint32) {
	w, b := threadID/64, threadID%64
	word := &t.needWords[w]
	for {
		old := word.Load()
		n := old &^ (1 << b)
		if old == n || word.CompareAndSwap(old, n) {
			return
		}
	}
}

// Check is the fast path of spec.md §4.2: "A thread checks its token by
// comparing owner == my_thread_id AND need_return[my_thread_id] ==
// false. This is a pure memory read on the fast path." It never blocks
// and never talks to the control plane.
func (t *Token) Check(threadID uint32) bool {
	return t.owner.Load() == threadID && !t.needReturn(threadID)
}
