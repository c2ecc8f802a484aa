package samplemodules

import (
	"encoding/binary"
	"unsafe"

	"github.com/omnistack/omnistack/module"
	"github.com/omnistack/omnistack/node"
	"github.com/omnistack/omnistack/packet"
)

func init() {
	module.Register("NodeUser", func() module.Module {
		return &NodeUser{Base: module.Base{NameStr: "NodeUser", ModType: module.Occupy}}
	})
}

// NodeClassifier resolves a decoded dataplane packet's destination
// BasicNode by its bound (transport, local address, local port) and
// leaves it in p.OwningNode, for graphs that keep classification as a
// stage distinct from the protocol parser (spec.md §2's
// "NodeClassifier/NodeUser"). UdpRecver and TcpStateIn already do this
// inline for the simpler scenario graphs, so NodeClassifier is only
// needed when a graph funnels more than one protocol's output through a
// single classification point ahead of NodeUser.
type NodeClassifier struct {
	module.Base
	transport node.Transport
}

// NewNodeClassifier builds a classifier for one transport; like
// Firewall, it takes deployment configuration and so does not
// self-register.
func NewNodeClassifier(transport node.Transport) *NodeClassifier {
	return &NodeClassifier{
		Base:      module.Base{NameStr: "NodeClassifier", ModType: module.ReadWrite},
		transport: transport,
	}
}

func (m *NodeClassifier) MainLogic(p *packet.Packet) *packet.Packet {
	if p.HeaderTail < 3 {
		p.Release()
		return nil
	}
	ipHdr := p.HeaderBytes(p.Headers[1])
	l4Hdr := p.HeaderBytes(p.Headers[2])
	if len(ipHdr) < 20 || len(l4Hdr) < 4 {
		p.Release()
		return nil
	}

	var dstAddr node.Addr
	copy(dstAddr[:4], ipHdr[16:20])
	dstPort := binary.BigEndian.Uint16(l4Hdr[2:4])

	target, ok := nodeTable.Lookup(nodeKey(m.transport, dstAddr, dstPort))
	if !ok {
		p.Release()
		return nil
	}
	p.OwningNode = uint64(uintptr(target))
	return p
}

// NodeUser is the engine's control-plane sink of spec.md §4.8: it
// interprets NodeCommandHeader-tagged packets arriving through
// node.ComSink (registering or deregistering a BasicNode in the shared
// flow table, addressed via p.UpstreamNode) and delivers every other
// packet to the BasicNode already resolved into p.OwningNode. It is
// Occupy-typed: a delivered packet's ownership passes to the node's
// application channel rather than back to the engine.
type NodeUser struct {
	module.Base
}

func (m *NodeUser) MainLogic(p *packet.Packet) *packet.Packet {
	if typ, ok := node.ParseCommandHeader(p); ok && p.UpstreamNode != 0 {
		m.handleCommand(typ, p)
		return nil
	}

	if p.OwningNode == 0 {
		p.Release()
		return nil
	}
	target := (*node.BasicNode)(unsafe.Pointer(uintptr(p.OwningNode)))
	// coreThreadID 0: NodeUser has no handle on the owning engine's core
	// id, so an EventNode wakeup (if any) always reports from slot 0.
	if err := target.Write(0, p); err != nil {
		p.Release()
	}
	return nil
}

func (m *NodeUser) handleCommand(typ node.NodeCommandType, p *packet.Packet) {
	n := (*node.BasicNode)(unsafe.Pointer(uintptr(p.UpstreamNode)))
	switch typ {
	case node.CmdUpdateNodeInfo:
		nodeTable.Insert(nodeKey(n.Info.Transport, n.Info.LocalAddr, n.Info.LocalPort), unsafe.Pointer(n))
		n.MarkInHashtable(true)
	case node.CmdClearNodeInfo:
		nodeTable.Delete(nodeKey(n.Info.Transport, n.Info.LocalAddr, n.Info.LocalPort))
		n.MarkInHashtable(false)
	case node.CmdPacket:
		// Outbound send from the application: the transmit chain back
		// toward a NIC queue is reserved, same as the engine's remote
		// send path (spec.md §4.7 routing "reserved").
	}
	p.Release()
}
