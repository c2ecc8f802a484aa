package channel

import (
	"github.com/omnistack/omnistack/token"
)

// MaxWriters bounds the number of per-writer slots a MultiWriterChannel
// carries (spec.md "an array of kMaxThread + 1 SPSC channels").
const MaxWriters = 64

// MultiWriterChannel fans N writers into one reader by giving each writer
// its own SPSC ring; the reader round-robins across slots, using per-slot
// idle hints to skip writers that have been empty for a while (spec.md
// §4.3 MultiWriter).
type MultiWriterChannel struct {
	slots     [MaxWriters]*Channel
	readerTok *token.Token
	next      int
	idleTicks [MaxWriters]int
}

// NewMultiWriter creates a reader-side handle over nWriters slots, each an
// independent SPSC ring bound to the same reader token (one reader
// identity) but distinct writer tokens (one identity per slot).
func NewMultiWriter(readerTok *token.Token, writerToks []*token.Token, client *token.Client) *MultiWriterChannel {
	m := &MultiWriterChannel{readerTok: readerTok}
	for i, wt := range writerToks {
		if i >= MaxWriters {
			break
		}
		m.slots[i] = New(readerTok, wt, client)
	}
	return m
}

// WriteTo enqueues v on writer slot idx, the only slot that writer may
// touch (spec.md "each writer writes only to its own slot"), and publishes
// it at once so the reader can see it without waiting for a full batch.
func (m *MultiWriterChannel) WriteTo(idx int, threadID uint32, v entry) error {
	if err := m.slots[idx].Write(threadID, v); err != nil {
		return err
	}
	m.slots[idx].Flush()
	return nil
}

// idleSkipThreshold is how many consecutive empty polls a slot tolerates
// before the round-robin scan starts skipping it more aggressively.
const idleSkipThreshold = 4

// Read polls slots round-robin starting after the last slot that yielded
// a value, honoring idle hints so a long-silent writer doesn't cost a
// poll on every call once the reader has learned it's quiet.
func (m *MultiWriterChannel) Read(threadID uint32) (entry, bool) {
	for i := 0; i < MaxWriters; i++ {
		idx := (m.next + i) % MaxWriters
		ch := m.slots[idx]
		if ch == nil {
			continue
		}
		if m.idleTicks[idx] >= idleSkipThreshold && i%2 == 1 {
			continue // skip every other scan of a known-idle slot
		}
		v, ok := ch.Read(threadID)
		if ok {
			m.idleTicks[idx] = 0
			m.next = idx + 1
			return v, true
		}
		m.idleTicks[idx]++
	}
	return 0, false
}
