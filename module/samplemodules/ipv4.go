package samplemodules

import (
	"github.com/OneOfOne/xxhash"

	"github.com/omnistack/omnistack/module"
	"github.com/omnistack/omnistack/packet"
)

const (
	ipv4MinHeaderLen = 20
	protoTCP         = 6
	protoUDP         = 17
)

func init() {
	module.Register("Ipv4Recver", func() module.Module {
		return &Ipv4Recver{Base: module.Base{NameStr: "Ipv4Recver", ModType: module.ReadOnly}}
	})
	module.Register("Ipv4Parser", func() module.Module {
		return &Ipv4Parser{Base: module.Base{NameStr: "Ipv4Parser", ModType: module.ReadWrite}}
	})
}

// Ipv4Recver is a ReadOnly pass-through sibling to EthRecver, the
// receive-side half of the IPv4 layer.
type Ipv4Recver struct {
	module.Base
}

func (m *Ipv4Recver) MainLogic(p *packet.Packet) *packet.Packet { return p }

// Ipv4Parser strips the IPv4 header (options included, via the header's
// own IHL field), records it as a header-index entry, and leaves the
// decoded protocol number in p.Value for downstream GetFilter predicates
// to select on (spec.md §3 "a custom 64-bit value used by modules to
// carry transient context").
type Ipv4Parser struct {
	module.Base
}

func (m *Ipv4Parser) MainLogic(p *packet.Packet) *packet.Packet {
	data := p.Data()
	if len(data) < 1 {
		p.Release()
		return nil
	}
	ihl := int(data[0]&0x0f) * 4
	if ihl < ipv4MinHeaderLen || len(data) < ihl {
		p.Release()
		return nil
	}
	hdr, ok := p.ConsumeHeader(ihl)
	if !ok {
		p.Release()
		return nil
	}
	p.Value = uint64(hdr[9])
	p.FlowHash = xxhash.Checksum32(hdr[12:20])
	return p
}
