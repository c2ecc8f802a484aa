package samplemodules

import (
	"encoding/binary"

	"github.com/omnistack/omnistack/module"
	"github.com/omnistack/omnistack/packet"
)

const (
	ethHeaderLen = 14
	ethTypeIPv4  = 0x0800
)

func init() {
	module.Register("EthRecver", func() module.Module {
		return &EthRecver{Base: module.Base{NameStr: "EthRecver", ModType: module.ReadOnly}}
	})
	module.Register("EthParser", func() module.Module {
		return &EthParser{Base: module.Base{NameStr: "EthParser", ModType: module.ReadWrite}}
	})
}

// EthRecver stands in for the NIC-facing half of Ethernet handling
// (destination MAC acceptance filtering would live here); this
// illustrative version is a ReadOnly pass-through to EthParser.
type EthRecver struct {
	module.Base
}

func (m *EthRecver) MainLogic(p *packet.Packet) *packet.Packet { return p }

// EthParser strips the Ethernet header, recording it as the packet's
// first header-index entry, and drops anything that isn't IPv4.
type EthParser struct {
	module.Base
}

func (m *EthParser) MainLogic(p *packet.Packet) *packet.Packet {
	hdr, ok := p.ConsumeHeader(ethHeaderLen)
	if !ok {
		p.Release()
		return nil
	}
	if binary.BigEndian.Uint16(hdr[12:14]) != ethTypeIPv4 {
		p.Release()
		return nil
	}
	return p
}
