package node

import (
	"github.com/omnistack/omnistack/channel"
	"github.com/omnistack/omnistack/token"
)

// EventNode is the per-application wakeup channel of spec.md §4.8: every
// core's engine holds its own writer slot, and the application's single
// event-reader thread drains node ids as they become ready, exactly the
// shape channel.MultiWriterChannel already provides.
type EventNode struct {
	mw     *channel.MultiWriterChannel
	slotOf map[int]int // core thread id -> writer slot index
}

// NewEventNode builds an event-node with one writer slot per core thread
// id in writerThreadIDs, all waking the single reader identified by
// readerTok.
func NewEventNode(readerTok *token.Token, writerToks []*token.Token, writerThreadIDs []int, client *token.Client) *EventNode {
	mw := channel.NewMultiWriter(readerTok, writerToks, client)
	slotOf := make(map[int]int, len(writerThreadIDs))
	for i, tid := range writerThreadIDs {
		slotOf[tid] = i
	}
	return &EventNode{mw: mw, slotOf: slotOf}
}

// Wake posts nodeID onto coreThreadID's writer slot so the application's
// event-reader thread picks it up (spec.md "wakes a waiting application
// thread on readiness"). A core id with no registered slot is a no-op.
func (e *EventNode) Wake(coreThreadID int, nodeID uint64) {
	idx, ok := e.slotOf[coreThreadID]
	if !ok {
		return
	}
	_ = e.mw.WriteTo(idx, uint32(coreThreadID), nodeID)
}

// Next drains the next ready node id for the application's event-reader
// thread, or false if nothing is pending.
func (e *EventNode) Next(readerThreadID uint32) (uint64, bool) {
	return e.mw.Read(readerThreadID)
}
