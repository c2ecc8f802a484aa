// Package ioadapter defines the NIC queue abstraction engines use to
// receive and send packet batches; concrete Dpdk/ef_vi backends stay out
// of scope (spec.md §1), only the interface and an in-memory mock driver
// live here.
/*
 * Copyright (c) 2024, OmniStack authors.
 */
package ioadapter

import (
	"github.com/google/uuid"

	"github.com/omnistack/omnistack/packet"
)

// Queue is one NIC receive/transmit queue, the pluggable device layer of
// spec.md's component table ("NIC I/O adapter: Pluggable device layer
// delivering/accepting packet batches per queue").
type Queue interface {
	// RecvBatch fills into at most len(batch) and returns how many
	// packets were delivered; 0 means no packets are currently available.
	RecvBatch(batch []*packet.Packet) int
	// SendBatch submits pkts for transmission and returns how many were
	// accepted; the caller releases or retains ownership according to
	// how many were accepted.
	SendBatch(pkts []*packet.Packet) int
}

// MockQueue is an in-memory Queue backed by two FIFOs, for engine tests
// that need a NIC queue without a real device (grounded on
// SPEC_FULL.md's expanded module list: "the Dpdk/ef_vi backends
// themselves stay out of scope"). Each send batch is tagged with a
// diagnostic id (spec.md's ioadapter entry in the domain-stack table:
// "non-hot-path diagnostics only"), not consulted by any routing logic.
type MockQueue struct {
	rxQueue []*packet.Packet
	txQueue []*packet.Packet
	LastTxBatchID uuid.UUID
}

func NewMockQueue() *MockQueue { return &MockQueue{} }

// Feed injects packets as if they had arrived on the wire, for a test to
// call before RecvBatch.
func (q *MockQueue) Feed(pkts ...*packet.Packet) {
	q.rxQueue = append(q.rxQueue, pkts...)
}

func (q *MockQueue) RecvBatch(batch []*packet.Packet) int {
	n := copy(batch, q.rxQueue)
	q.rxQueue = q.rxQueue[n:]
	return n
}

func (q *MockQueue) SendBatch(pkts []*packet.Packet) int {
	q.LastTxBatchID = uuid.New()
	q.txQueue = append(q.txQueue, pkts...)
	return len(pkts)
}

// Sent returns (and clears) everything SendBatch has accepted so far, for
// a test to assert against.
func (q *MockQueue) Sent() []*packet.Packet {
	out := q.txQueue
	q.txQueue = nil
	return out
}
