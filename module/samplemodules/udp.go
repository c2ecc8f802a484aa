package samplemodules

import (
	"encoding/binary"

	"github.com/omnistack/omnistack/module"
	"github.com/omnistack/omnistack/node"
	"github.com/omnistack/omnistack/packet"
)

const udpHeaderLen = 8

func init() {
	module.Register("UdpRecver", func() module.Module {
		return &UdpRecver{Base: module.Base{NameStr: "UdpRecver", ModType: module.ReadWrite}}
	})
}

// UdpRecver strips the UDP header and, acting as its own node classifier
// (spec.md §8 S1's graph has no separate NodeClassifier stage), resolves
// the destination BasicNode by (UDP, destination address, destination
// port) and leaves it in p.OwningNode for NodeUser to deliver to. A
// packet with no bound listener is dropped, matching a UDP socket that
// isn't there to receive it.
type UdpRecver struct {
	module.Base
}

// GetFilter selects this edge only for IPv4 datagrams carrying UDP,
// letting UdpRecver and TcpStateIn share an Ipv4Parser upstream as a
// mutex group (spec.md §8 S3).
func (m *UdpRecver) GetFilter(uint32, int) module.Filter {
	return func(p *packet.Packet) bool { return p.Value == protoUDP }
}

func (m *UdpRecver) MainLogic(p *packet.Packet) *packet.Packet {
	hdr, ok := p.ConsumeHeader(udpHeaderLen)
	if !ok {
		p.Release()
		return nil
	}
	if p.HeaderTail < 2 {
		p.Release()
		return nil
	}
	dstPort := binary.BigEndian.Uint16(hdr[2:4])
	ipHdr := p.HeaderBytes(p.Headers[1])

	var dstAddr node.Addr
	copy(dstAddr[:4], ipHdr[16:20])

	target, ok := nodeTable.Lookup(nodeKey(node.UDP, dstAddr, dstPort))
	if !ok {
		p.Release()
		return nil
	}
	p.OwningNode = uint64(uintptr(target))
	return p
}
