package samplemodules

import (
	"encoding/binary"
	"fmt"
	"sync"
	"unsafe"

	"github.com/omnistack/omnistack/hashtable"
	"github.com/omnistack/omnistack/module"
	"github.com/omnistack/omnistack/node"
	"github.com/omnistack/omnistack/packet"
)

const tcpHeaderLen = 20

const (
	tcpFlagFIN uint8 = 1 << 0
	tcpFlagSYN uint8 = 1 << 1
	tcpFlagRST uint8 = 1 << 2
	tcpFlagACK uint8 = 1 << 4
)

// tcpState is spec.md's Open Question #3 resolution: a real RFC 793
// state machine rather than the source's stub. It tracks one flow as a
// whole rather than per-side, which folds SYN_SENT into SYN_RCVD and
// LAST_ACK into CLOSING — enough states to exercise every transition a
// two-way handshake and teardown goes through.
type tcpState uint8

const (
	tcpListen tcpState = iota
	tcpSynRcvd
	tcpEstablished
	tcpFinWait
	tcpCloseWait
	tcpClosing
	tcpTimeWait
	tcpClosed
)

var tcpFlows = hashtable.New()

type tcpFlow struct {
	mu       sync.Mutex
	state    tcpState
	initAddr node.Addr
	initPort uint16
	finInit  bool
	finResp  bool
}

func (f *tcpFlow) markFin(isInitiator bool) {
	if isInitiator {
		f.finInit = true
	} else {
		f.finResp = true
	}
}

func (f *tcpFlow) bothFin() bool { return f.finInit && f.finResp }

// onSegment advances the flow's state on one observed segment. rst always
// wins; the rest of RFC 793's transition table is reduced to this
// whole-flow view.
func (f *tcpFlow) onSegment(srcAddr node.Addr, srcPort uint16, flags uint8) {
	syn := flags&tcpFlagSYN != 0
	ack := flags&tcpFlagACK != 0
	fin := flags&tcpFlagFIN != 0
	rst := flags&tcpFlagRST != 0

	if rst {
		f.state = tcpClosed
		return
	}

	isInitiator := srcAddr == f.initAddr && srcPort == f.initPort

	switch f.state {
	case tcpListen:
		if syn && !ack {
			f.initAddr, f.initPort = srcAddr, srcPort
			f.state = tcpSynRcvd
		}
	case tcpSynRcvd:
		if ack {
			f.state = tcpEstablished
		}
	case tcpEstablished:
		if fin {
			f.markFin(isInitiator)
			if f.bothFin() {
				f.state = tcpClosing
			} else {
				f.state = tcpFinWait
			}
		}
	case tcpFinWait:
		if fin {
			f.markFin(isInitiator)
		}
		switch {
		case f.bothFin():
			f.state = tcpClosing
		case ack:
			f.state = tcpCloseWait
		}
	case tcpCloseWait:
		if fin {
			f.markFin(isInitiator)
		}
		if f.bothFin() {
			f.state = tcpClosing
		}
	case tcpClosing:
		if ack {
			f.state = tcpTimeWait
		}
	case tcpTimeWait:
		if syn {
			f.initAddr, f.initPort = srcAddr, srcPort
			f.finInit, f.finResp = false, false
			f.state = tcpSynRcvd
		}
	}
}

// tcpFlowKey is direction-agnostic: a segment from either side of the
// same connection hashes to the same flow record.
func tcpFlowKey(srcAddr node.Addr, srcPort uint16, dstAddr node.Addr, dstPort uint16) string {
	a := fmt.Sprintf("%x:%d", srcAddr[:4], srcPort)
	b := fmt.Sprintf("%x:%d", dstAddr[:4], dstPort)
	if a < b {
		return a + "-" + b
	}
	return b + "-" + a
}

func init() {
	module.Register("TcpStateIn", func() module.Module {
		return &TcpStateIn{Base: module.Base{NameStr: "TcpStateIn", ModType: module.ReadWrite}}
	})
}

// TcpStateIn strips the TCP header, drives the per-flow state machine
// above, and once a flow reaches ESTABLISHED resolves the segment's
// destination BasicNode the same way UdpRecver does, leaving it in
// p.OwningNode.
type TcpStateIn struct {
	module.Base
}

// GetFilter selects this edge only for IPv4 datagrams carrying TCP
// (spec.md §8 S3's mutex group with UdpRecver).
func (m *TcpStateIn) GetFilter(uint32, int) module.Filter {
	return func(p *packet.Packet) bool { return p.Value == protoTCP }
}

func (m *TcpStateIn) MainLogic(p *packet.Packet) *packet.Packet {
	hdr, ok := p.ConsumeHeader(tcpHeaderLen)
	if !ok || p.HeaderTail < 2 {
		p.Release()
		return nil
	}
	srcPort := binary.BigEndian.Uint16(hdr[0:2])
	dstPort := binary.BigEndian.Uint16(hdr[2:4])
	flags := hdr[13]

	ipHdr := p.HeaderBytes(p.Headers[1])
	var srcAddr, dstAddr node.Addr
	copy(srcAddr[:4], ipHdr[12:16])
	copy(dstAddr[:4], ipHdr[16:20])

	key := tcpFlowKey(srcAddr, srcPort, dstAddr, dstPort)
	var flow *tcpFlow
	if ptr, ok := tcpFlows.Lookup(key); ok {
		flow = (*tcpFlow)(ptr)
	} else {
		flow = &tcpFlow{state: tcpListen}
		tcpFlows.Insert(key, unsafe.Pointer(flow))
	}

	flow.mu.Lock()
	flow.onSegment(srcAddr, srcPort, flags)
	state := flow.state
	flow.mu.Unlock()

	if state == tcpClosed {
		tcpFlows.Delete(key)
	}

	if state == tcpEstablished {
		if target, ok := nodeTable.Lookup(nodeKey(node.TCP, dstAddr, dstPort)); ok {
			p.OwningNode = uint64(uintptr(target))
		}
	}
	return p
}
