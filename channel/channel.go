// Package channel implements the lock-free SPSC ring of spec.md §4.3: a
// fixed-capacity ring of pointer-sized entries with producer/consumer
// cursors batched to amortize the cost of publishing across cache lines.
/*
 * Copyright (c) 2024, OmniStack authors.
 */
package channel

import (
	"sync/atomic"
	"unsafe"

	"github.com/omnistack/omnistack/cmn/cos"
	"github.com/omnistack/omnistack/token"
)

// Capacity and BatchSize are fixed at construction time per spec.md §4.3
// ("Capacity is fixed at construction (1024 entries)... Batch size is
// 16"). They are package constants, not per-channel fields, matching the
// source's compile-time sizing.
const (
	Capacity  = 1024
	BatchSize = 16
)

// entry is the slot type. Under the offset backend it holds a shmem
// offset; under the direct backend the raw pointer bits. Either way it is
// pointer-sized and copied verbatim, never interpreted by the channel
// itself (spec.md "Pointer transport").
type entry = uint64

// cacheLinePad keeps the producer-shared and consumer-shared cursors off
// each other's cache line, the whole reason this ring avoids false
// sharing on the hot path.
type cacheLinePad [64 - 8]byte

// Channel is the SPSC ring of spec.md §4.3. writePos/readPos are the
// cross-thread published cursors; the four *_pos fields prefixed
// writer/reader are private working copies, touched only by their own
// side, and are not atomics — only the shared cursors need atomic
// visibility.
type Channel struct {
	buf [Capacity]entry

	writePos atomic.Uint64
	_        cacheLinePad
	readPos  atomic.Uint64
	_        cacheLinePad

	writerWritePos uint64
	writerReadPos  uint64 // producer's cached copy of readPos
	writerPending  uint64 // entries written since last publish

	readerReadPos  uint64
	readerWritePos uint64 // consumer's cached copy of writePos
	readerPending  uint64

	readerTok *token.Token
	writerTok *token.Token
	tokClient *token.Client // nil in single-process tests that never migrate sides
}

// New creates an empty channel bound to the given reader/writer tokens
// (spec.md "A channel holds two tokens (reader and writer) that enforce
// single-producer/single-consumer identity across processes"). client may
// be nil when the channel's reader and writer sides never migrate between
// threads (e.g. unit tests), in which case ownership is asserted but never
// contended.
func New(readerTok, writerTok *token.Token, client *token.Client) *Channel {
	return &Channel{readerTok: readerTok, writerTok: writerTok, tokClient: client}
}

func mask(i uint64) uint64 { return i % Capacity }

// Write enqueues one entry. Returns cos.ErrPoolExhausted if the ring is
// observed full after refreshing the cached read cursor once, exactly the
// "refreshes the cached cursor once; if still full, the write returns
// failure" rule of spec.md §4.3.
func (c *Channel) Write(threadID uint32, v entry) error {
	if err := c.assertWriter(threadID); err != nil {
		return err
	}
	next := c.writerWritePos + 1
	if next-c.writerReadPos > Capacity {
		c.writerReadPos = c.readPos.Load()
		if next-c.writerReadPos > Capacity {
			return cos.ErrPoolExhausted
		}
	}
	c.buf[mask(c.writerWritePos)] = v
	c.writerWritePos = next
	c.writerPending++
	if c.writerPending >= BatchSize {
		c.Flush()
	}
	return nil
}

// Flush publishes the producer's cursor regardless of batch threshold
// (spec.md "Write ... copies it to the shared write_pos every 16 inserts
// or on Flush()").
func (c *Channel) Flush() {
	if c.writerPending == 0 {
		return
	}
	c.writePos.Store(c.writerWritePos)
	c.writerPending = 0
}

// Read dequeues one entry, or returns (0, false) if the ring is observed
// empty after one cursor refresh.
func (c *Channel) Read(threadID uint32) (entry, bool) {
	if err := c.assertReader(threadID); err != nil {
		return 0, false
	}
	if c.readerReadPos >= c.readerWritePos {
		c.readerWritePos = c.writePos.Load()
		if c.readerReadPos >= c.readerWritePos {
			return 0, false
		}
	}
	v := c.buf[mask(c.readerReadPos)]
	c.readerReadPos++
	c.readerPending++
	if c.readerPending >= BatchSize {
		c.publishRead()
	}
	return v, true
}

// FlushRead publishes the consumer's cursor outside the batch threshold;
// exposed for tests exercising scenario S6.
func (c *Channel) FlushRead() { c.publishRead() }

func (c *Channel) publishRead() {
	if c.readerPending == 0 {
		return
	}
	c.readPos.Store(c.readerReadPos)
	c.readerPending = 0
}

// assertWriter/assertReader are the token-binding fast path: checking
// ownership is a memory read (token.Token.Check), and acquiring is only
// attempted on a miss, matching spec.md §4.3's "asserts ownership of the
// writer token (acquiring it transparently if not held)".
func (c *Channel) assertWriter(threadID uint32) error {
	return c.assertOwnership(c.writerTok, threadID)
}

func (c *Channel) assertReader(threadID uint32) error {
	return c.assertOwnership(c.readerTok, threadID)
}

func (c *Channel) assertOwnership(tok *token.Token, threadID uint32) error {
	if tok == nil || tok.Check(threadID) {
		return nil
	}
	if c.tokClient == nil {
		return cos.ErrTimeout
	}
	return c.tokClient.Acquire(tok, threadID)
}

// EntryFromPointer and PointerFromEntry round-trip a pointer through the channel's
// uint64 slot. Under the offset backend the pointer has already been
// converted to a shmem.RelPtr-style offset by the caller; the channel
// itself is backend-agnostic, matching spec.md's "chooses statically based
// on backend" (resolved one layer up, at the packet/node level that knows
// which process owns the pointer).
func EntryFromPointer(p unsafe.Pointer) entry { return uint64(uintptr(p)) }

func PointerFromEntry(v entry) unsafe.Pointer { return unsafe.Pointer(uintptr(v)) }
