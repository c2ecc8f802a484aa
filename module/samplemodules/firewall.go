package samplemodules

import (
	"encoding/binary"

	"github.com/omnistack/omnistack/module"
	"github.com/omnistack/omnistack/packet"
)

// FirewallRule matches a decoded IPv4 protocol number and destination
// port, the granularity spec.md §8 S4 tests ("a rule matching only
// TCP/80").
type FirewallRule struct {
	Protocol uint8
	Port     uint16
}

// Firewall drops packets according to a whitelist or blacklist of rules,
// evaluated against the protocol Ipv4Parser already decoded into p.Value
// and the destination port read directly from the still-unparsed L4
// header (bytes 2-3 of both TCP and UDP). It sits downstream of
// Ipv4Parser and upstream of the protocol-specific modules, which still
// see an intact L4 header.
//
// Firewall rules are deployment configuration, so unlike the other
// sample modules Firewall does not self-register; a caller wires one
// in with module.Register(name, func() module.Module { return fw }).
type Firewall struct {
	module.Base
	whitelist bool
	rules     []FirewallRule
}

// NewFirewall builds a configured Firewall. whitelist=true means only
// matching rules pass; whitelist=false means matching rules are dropped.
func NewFirewall(whitelist bool, rules ...FirewallRule) *Firewall {
	return &Firewall{
		Base:      module.Base{NameStr: "Firewall", ModType: module.ReadOnly},
		whitelist: whitelist,
		rules:     rules,
	}
}

func (m *Firewall) MainLogic(p *packet.Packet) *packet.Packet {
	data := p.Data()
	if len(data) < 4 {
		p.Release()
		return nil
	}
	proto := uint8(p.Value)
	port := binary.BigEndian.Uint16(data[2:4])

	matched := false
	for _, r := range m.rules {
		if r.Protocol == proto && r.Port == port {
			matched = true
			break
		}
	}
	if matched != m.whitelist {
		p.Release()
		return nil
	}
	return p
}
