package engine

import (
	"math/bits"

	"github.com/omnistack/omnistack/cmn/mono"
	"github.com/omnistack/omnistack/module"
	"github.com/omnistack/omnistack/packet"
)

// Run executes the cooperative loop of spec.md §4.7 "Main loop" until
// Stop is called, then tears down every module in reverse order. It must
// be called from the same goroutine Init pinned to coreID.
func (e *Engine) Run() {
	for !e.stopped.Load() {
		e.RunOnce()
	}
	e.destroy()
}

// RunOnce executes a single main-loop iteration (spec.md §4.7 "Main
// loop" steps 1-3), exposed separately so tests can drive the loop
// deterministically instead of racing a background goroutine.
func (e *Engine) RunOnce() {
	e.drainInbox()

	tick := mono.MicroTime()
	for _, idx := range e.timerMods {
		lm := e.modules[idx]
		if p := lm.mod.TimerLogic(tick); p != nil {
			e.forwardChain(p, idx)
		}
	}

	for len(e.queue) > 0 {
		n := len(e.queue) - 1
		qe := e.queue[n]
		e.queue = e.queue[:n]

		lm := e.modules[qe.localIdx]
		// Clear the mask the previous hop routed by, so a nonzero mask seen
		// by forwardChain is one this module's MainLogic set itself.
		qe.pkt.NextHopFilter = 0
		if result := lm.mod.MainLogic(qe.pkt); result != nil {
			e.forwardChain(result, qe.localIdx)
		}
	}
}

// drainInbox moves cross-goroutine node.ComSink submissions into the
// engine-local work queue; this is also where "drain any inter-engine
// remote channels" (spec.md §4.7 step 1, reserved) would forward received
// packets, once a real remote transport exists.
func (e *Engine) drainInbox() {
	e.inboxMu.Lock()
	if len(e.inbox) == 0 {
		e.inboxMu.Unlock()
		return
	}
	moved := e.inbox
	e.inbox = nil
	e.inboxMu.Unlock()
	e.queue = append(e.queue, moved...)
}

func (e *Engine) enqueue(localIdx int, p *packet.Packet) {
	e.queue = append(e.queue, queueEntry{localIdx: localIdx, pkt: p})
}

// forwardChain walks a module's returned packet chain, routing each
// packet independently (spec.md §4.7 forward_packet "advance to
// packet.next_packet, processing a chain"). A packet's next_hop_filter is
// (re)computed from the producing module's declared filter groups and
// ungrouped edges right before it is fanned out (spec.md §4.5
// apply_downstream_filters), so a module never has to hand-assemble its
// own edge mask — unless it already did: spec.md §4.5 "a module may
// preset next_hop_filter in main_logic to override filters entirely", so
// a packet still carrying its as-allocated zero mask (spec.md §3
// Allocation: "next_hop_filter=0") gets the computed mask, and anything
// else is taken as a deliberate override and left untouched.
func (e *Engine) forwardChain(p *packet.Packet, fromLocalIdx int) {
	lm := e.modules[fromLocalIdx]
	for p != nil {
		next := p.NextPacket
		p.NextPacket = nil
		if p.NextHopFilter == 0 {
			p.NextHopFilter = module.ApplyDownstreamFilters(lm.filterGroups, lm.ungrouped, p)
		}
		e.forwardOne(p, fromLocalIdx)
		p = next
	}
}

// forwardOne implements spec.md §4.7's forward_packet for a single
// packet: fan it out across every bit set in its next_hop_filter, then
// write back the reconciled reference count. ReadOnly downstream
// neighbors always share the original packet (spec.md §4.7 step 5
// "ReadOnly siblings can share a packet without duplication"); among the
// non-ReadOnly neighbors, only the first to claim it gets the original,
// every one after gets its own duplicate, since two non-ReadOnly
// consumers can't safely alias the same buffer.
func (e *Engine) forwardOne(p *packet.Packet, fromLocalIdx int) {
	mask := p.NextHopFilter
	if mask == 0 {
		p.Release()
		return
	}
	lm := e.modules[fromLocalIdx]
	remaining := p.RefCount() - 1
	exclusiveClaimed := false

	for mask != 0 {
		bit := uint32(bits.TrailingZeros32(mask))
		mask &^= 1 << bit

		edge := edgeByBit(lm.downstream, bit)
		if edge == nil {
			continue
		}

		switch {
		case edge.remote:
			if dup := p.Duplicate(); dup != nil {
				e.sendRemote(edge.toGlobalID, dup)
			}
		case e.modules[edge.toLocal].readOnly:
			e.enqueue(edge.toLocal, p)
			remaining++
		default:
			if exclusiveClaimed {
				if dup := p.Duplicate(); dup != nil {
					e.enqueue(edge.toLocal, dup)
				}
			} else {
				e.enqueue(edge.toLocal, p)
				remaining++
				exclusiveClaimed = true
			}
		}
	}
	p.Finalize(int32(remaining))
}

func edgeByBit(edges []downstreamEdge, bit uint32) *downstreamEdge {
	for i := range edges {
		if edges[i].bit == bit {
			return &edges[i]
		}
	}
	return nil
}

// sendRemote is the "reserved" remote-channel transmit path of spec.md
// §4.7: a real deployment would serialize dup onto the target
// sub-graph's inter-engine channel. No such transport exists in this
// repository, so the packet is released immediately; callers observe
// identical refcount bookkeeping either way.
func (e *Engine) sendRemote(toGlobalID int, dup *packet.Packet) {
	dup.Release()
}

// raiseEvent is installed on every module at Init (spec.md §4.7 step 7)
// and implements "Event handling": synchronous dispatch to every module
// registered for ev.Type, with returned packets filtered and forwarded
// exactly as in the main loop.
func (e *Engine) raiseEvent(ev module.Event) {
	for _, idx := range e.byEventType[ev.Type] {
		lm := e.modules[idx]
		if p := lm.mod.EventCallback(ev); p != nil {
			e.forwardChain(p, idx)
		}
	}
}
