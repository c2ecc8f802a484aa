// Package node implements the per-flow endpoint objects of spec.md §4.8:
// BasicNode routes packets between the dataplane and application sockets;
// EventNode wakes a waiting application thread on readiness.
/*
 * Copyright (c) 2024, OmniStack authors.
 */
package node

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/omnistack/omnistack/cmn/cos"
	"github.com/omnistack/omnistack/packet"
)

// Family and Transport classify a NodeInfo 5-tuple.
type Family uint8

const (
	IPv4 Family = iota
	IPv6
)

type Transport uint8

const (
	TCP Transport = iota
	UDP
)

// Addr is a fixed-width address; IPv4 uses the first 4 bytes.
type Addr [16]byte

// NodeInfo is the 5-tuple of spec.md §3.
type NodeInfo struct {
	Family     Family
	Transport  Transport
	LocalAddr  Addr
	RemoteAddr Addr
	LocalPort  uint16
	RemotePort uint16
}

// AppChannel is the single-producer channel a BasicNode uses to deliver
// packets to the application; modeled as an interface so engine/node can
// share the channel package's SPSC ring without an import cycle.
type AppChannel interface {
	Write(threadID uint32, v uint64) error
	Read(threadID uint32) (uint64, bool)
	Flush()
}

// ComSink is the node's assigned engine, as seen from the application
// side: write_bottom and the hashtable-membership commands submit command
// packets onto the engine's global protocol-stack channel, addressed by
// com_user_id (0 is reserved for control commands).
type ComSink interface {
	Submit(comUserID int, p *packet.Packet) error
}

// BasicNode is spec.md §3/§4.8's Node: a per-flow endpoint.
type BasicNode struct {
	Info NodeInfo

	app   AppChannel
	event *EventNode
	sink  ComSink

	comUserID int

	refCount    int32
	peerClosed  atomic.Bool
	inHashtable atomic.Bool
	graphIDs    []int

	mu   sync.Mutex // serializes update_info / hashtable transitions
	cond *sync.Cond // signaled on in_hashtable transitions, for put_into_hashtable

	id uint64 // this node's identifier, as carried in EventNode wakeups
}

// New creates a node bound to app (and optionally an event-node for
// readiness wakeups) and to sink/comUserID for outbound command packets,
// starting with one reference (spec.md "Lifecycle: created on socket
// bind/connect").
func New(id uint64, app AppChannel, ev *EventNode, sink ComSink, comUserID int, graphIDs []int) *BasicNode {
	n := &BasicNode{app: app, event: ev, sink: sink, comUserID: comUserID, graphIDs: graphIDs, id: id, refCount: 1}
	n.cond = sync.NewCond(&n.mu)
	return n
}

// Write enqueues packet p onto the node's application-facing channel from
// coreThreadID and wakes the bound event-node, if any (spec.md §4.8
// write).
func (n *BasicNode) Write(coreThreadID int, p *packet.Packet) error {
	if err := n.app.Write(uint32(coreThreadID), uint64(uintptr(unsafe.Pointer(p)))); err != nil {
		return err
	}
	if n.event != nil {
		n.event.Wake(coreThreadID, n.id)
	}
	return nil
}

// Read dequeues the next packet delivered to this node, or nil if empty
// (spec.md §4.8 read).
func (n *BasicNode) Read(threadID uint32) *packet.Packet {
	v, ok := n.app.Read(threadID)
	if !ok {
		return nil
	}
	return (*packet.Packet)(unsafe.Pointer(uintptr(v)))
}

// UpdateInfo sets the 5-tuple; rejected once the node is in the
// hashtable (spec.md §4.8 update_info).
func (n *BasicNode) UpdateInfo(info NodeInfo) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.inHashtable.Load() {
		return cos.ErrAlreadyInTable
	}
	n.Info = info
	return nil
}

// MarkInHashtable flips the in-hashtable flag and wakes any goroutine
// blocked in PutIntoHashtable, called by the engine's NodeUser module
// once the UpdateNodeInfo command has been processed (spec.md §4.8
// put_into_hashtable "blocks until the engine acknowledges by setting
// in_hashtable = true").
func (n *BasicNode) MarkInHashtable(v bool) {
	n.mu.Lock()
	n.inHashtable.Store(v)
	n.cond.Broadcast()
	n.mu.Unlock()
}

func (n *BasicNode) InHashtable() bool { return n.inHashtable.Load() }

// MarkPeerClosed records that the remote peer has closed; future writes
// should surface EPIPE at the socket-shim layer (spec.md §7).
func (n *BasicNode) MarkPeerClosed() { n.peerClosed.Store(true) }

func (n *BasicNode) PeerClosed() bool { return n.peerClosed.Load() }

// WriteBottom prepends a NodeCommandHeader{Packet} and submits p onto the
// node's assigned engine's protocol-stack channel, for the application to
// send (spec.md §4.8 write_bottom).
func (n *BasicNode) WriteBottom(p *packet.Packet) error {
	if !PrependCommandHeader(p, CmdPacket) {
		return cos.ErrNoUsableRegion
	}
	p.UpstreamNode = uint64(uintptr(unsafe.Pointer(n)))
	return n.sink.Submit(n.comUserID, p)
}

// PutIntoHashtable issues an UpdateNodeInfo command through the engine's
// control com_user_id (0) and blocks until the engine acknowledges by
// setting in_hashtable = true (spec.md §4.8 put_into_hashtable).
func (n *BasicNode) PutIntoHashtable(pool *packet.Pool) error {
	p := pool.Alloc(int64(n.id))
	if p == nil {
		return cos.ErrPoolExhausted
	}
	if !PrependCommandHeader(p, CmdUpdateNodeInfo) {
		p.Release()
		return cos.ErrNoUsableRegion
	}
	p.UpstreamNode = uint64(uintptr(unsafe.Pointer(n)))
	if err := n.sink.Submit(0, p); err != nil {
		return err
	}
	n.mu.Lock()
	for !n.inHashtable.Load() {
		n.cond.Wait()
	}
	n.mu.Unlock()
	return nil
}

// ClearFromHashtableAndClose issues a ClearNodeInfo command through the
// engine's control com_user_id (spec.md §4.8
// clear_from_hashtable_and_close).
func (n *BasicNode) ClearFromHashtableAndClose(pool *packet.Pool) error {
	p := pool.Alloc(int64(n.id))
	if p == nil {
		return cos.ErrPoolExhausted
	}
	if !PrependCommandHeader(p, CmdClearNodeInfo) {
		p.Release()
		return cos.ErrNoUsableRegion
	}
	p.UpstreamNode = uint64(uintptr(unsafe.Pointer(n)))
	return n.sink.Submit(0, p)
}

// OpenRef/CloseRef implement spec.md §4.8's reference counting, serialized
// by the node's mutex in place of the source's spinlock. When the count
// drops to zero, CloseRef automatically issues
// ClearFromHashtableAndClose.
func (n *BasicNode) OpenRef() {
	n.mu.Lock()
	n.refCount++
	n.mu.Unlock()
}

func (n *BasicNode) CloseRef(pool *packet.Pool) error {
	n.mu.Lock()
	n.refCount--
	zero := n.refCount <= 0
	n.mu.Unlock()
	if zero {
		return n.ClearFromHashtableAndClose(pool)
	}
	return nil
}

func (n *BasicNode) GraphIDs() []int { return n.graphIDs }

func (n *BasicNode) ID() uint64 { return n.id }
