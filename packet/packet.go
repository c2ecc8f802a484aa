// Package packet implements the reference-counted, zero-copy packet
// object and pool of spec.md §3 and §4.4.
/*
 * Copyright (c) 2024, OmniStack authors.
 */
package packet

import (
	"sync/atomic"

	"github.com/omnistack/omnistack/cmn/debug"
)

// HeadroomSize is the inline prepend budget of spec.md §3 ("a 128-byte
// headroom so modules can prepend headers").
const HeadroomSize = 128

// PayloadCapacity is the inline buffer's usable size past the headroom.
// Chosen generously for a jumbo-capable Ethernet frame.
const PayloadCapacity = 2048

// MbufType tags a packet's data ownership (spec.md §3).
type MbufType uint8

const (
	Origin MbufType = iota
	External
	Indirect
)

const maxHeaders = 4

// HeaderDesc is one entry of the inline header index (spec.md "a small
// inline array of up to four (length, offset) header descriptors").
type HeaderDesc struct {
	Offset uint32
	Length uint32
}

// Packet is the fixed-size record of spec.md §3. It is always reached via
// a pointer carved out of a memory-pool chunk (packet.Pool); never
// constructed standalone.
type Packet struct {
	refcount int32 // manipulated only through atomic ops; see Release/addRef

	Offset uint32
	Length uint32

	SrcNIC uint16
	DstNIC uint16

	MbufType MbufType
	_        [3]byte

	Value uint64 // custom per-module transient context

	IOVA uint64

	FlowHash uint32

	Headers    [maxHeaders]HeaderDesc
	HeaderTail uint8

	NextPacket    *Packet
	NextHopFilter uint32
	UpstreamNode  uint64
	OwningNode    uint64

	dataOff int32 // offset of Data's first byte within buf, set at alloc

	indirectOf *Packet // non-nil for MbufType==Indirect: the referenced packet
	origin     *Pool

	buf [HeadroomSize + PayloadCapacity]byte
}

// Data returns the packet's payload slice, [Offset:Length) of the inline
// buffer for an Origin/External packet, or the indirect-of packet's bytes
// for an Indirect one.
func (p *Packet) Data() []byte {
	if p.MbufType == Indirect && p.indirectOf != nil {
		return p.indirectOf.Data()
	}
	return p.buf[int(p.dataOff)+int(p.Offset) : int(p.dataOff)+int(p.Length)]
}

// Prepend grows the packet backward into the headroom by n bytes,
// returning the newly exposed slice; it never reallocates (spec.md "128
// byte headroom so modules can prepend headers").
func (p *Packet) Prepend(n int) ([]byte, bool) {
	if int(p.dataOff) < n {
		return nil, false
	}
	p.dataOff -= int32(n)
	p.Length += uint32(n)
	return p.Data()[:n], true
}

// ConsumeHeader strips n bytes off the front of the packet's current data
// window, records the consumed range as the next entry of the header
// index (spec.md §3 "a small inline array of up to four (length, offset)
// header descriptors"), and returns the consumed bytes. A parser module
// calls this once per layer it decodes. ok is false if fewer than n bytes
// remain or the header index is already full.
func (p *Packet) ConsumeHeader(n int) ([]byte, bool) {
	data := p.Data()
	if len(data) < n || int(p.HeaderTail) >= maxHeaders {
		return nil, false
	}
	hdr := data[:n]
	p.Headers[p.HeaderTail] = HeaderDesc{Offset: uint32(p.dataOff) + p.Offset, Length: uint32(n)}
	p.HeaderTail++
	p.Offset += uint32(n)
	return hdr, true
}

// HeaderBytes returns the raw bytes a previously recorded header
// descriptor points at, letting a downstream module read an
// already-decoded layer's header (e.g. IPv4 addresses, once offset has
// moved past them) without rewinding the current decode position.
func (p *Packet) HeaderBytes(desc HeaderDesc) []byte {
	return p.buf[desc.Offset : desc.Offset+desc.Length]
}

// addRef atomically bumps the reference count; used by Reference and by
// Indirect construction.
func (p *Packet) addRef() { atomic.AddInt32(&p.refcount, 1) }

// RefCount reports the current reference count; the engine's fan-out reads
// it, as do tests.
func (p *Packet) RefCount() int32 { return atomic.LoadInt32(&p.refcount) }

// Release decrements the reference count and, at zero, disposes of the
// packet per spec.md §4.4's per-MbufType release semantics.
func (p *Packet) Release() {
	n := atomic.AddInt32(&p.refcount, -1)
	debug.Assert(n >= 0, "packet refcount underflow")
	if n > 0 {
		return
	}
	p.dispose()
}

// Finalize sets the packet's reference count to remaining, the value the
// engine's routing code computes after fanning a packet out to its
// downstream edges (spec.md §4.7 forward_packet "Write back refcount =
// remaining"), disposing of the packet immediately if no references
// remain.
func (p *Packet) Finalize(remaining int32) {
	atomic.StoreInt32(&p.refcount, remaining)
	if remaining <= 0 {
		p.dispose()
	}
}

func (p *Packet) dispose() {
	switch p.MbufType {
	case Origin:
		p.origin.put(p)
	case External:
		// Surrendering to the originating I/O driver is out of scope
		// (spec.md §1: NIC driver integration beyond the queue
		// abstraction); the chunk still returns to its pool.
		p.origin.put(p)
	case Indirect:
		if p.indirectOf != nil {
			p.indirectOf.Release()
		}
		p.origin.put(p)
	}
}

// Duplicate allocates a fresh Origin packet and deep-copies header index
// and payload bytes from Offset to Length (spec.md §4.4 Duplicate).
func (p *Packet) Duplicate() *Packet {
	n := p.origin.Alloc(0)
	if n == nil {
		return nil
	}
	data := p.Data()
	n.dataOff = HeadroomSize
	n.Offset = 0
	n.Length = uint32(len(data))
	copy(n.Data(), data)
	n.Headers = p.Headers
	n.HeaderTail = p.HeaderTail
	n.FlowHash = p.FlowHash
	n.SrcNIC, n.DstNIC = p.SrcNIC, p.DstNIC
	n.MbufType = Origin
	return n
}

// Reference allocates a fresh Indirect packet aliasing p's payload
// without copying, holding one additional reference on p (spec.md §4.4
// Reference).
func (p *Packet) Reference() *Packet {
	n := p.origin.Alloc(0)
	if n == nil {
		return nil
	}
	n.Offset = p.Offset
	n.Length = p.Length
	n.Headers = p.Headers
	n.HeaderTail = p.HeaderTail
	n.FlowHash = p.FlowHash
	n.SrcNIC, n.DstNIC = p.SrcNIC, p.DstNIC
	n.MbufType = Indirect
	n.indirectOf = p
	p.addRef()
	return n
}
