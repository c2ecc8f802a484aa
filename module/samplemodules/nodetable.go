// Package samplemodules implements the concrete modules of spec.md §1's
// "minimal illustrative set": an Ethernet/IPv4/UDP/TCP parser chain, a
// firewall, the node demux/delivery pair, a NIC I/O adapter module, and a
// ReadOnly fan-out counter, enough to run scenarios S1-S4.
/*
 * Copyright (c) 2024, OmniStack authors.
 */
package samplemodules

import (
	"fmt"

	"github.com/omnistack/omnistack/hashtable"
	"github.com/omnistack/omnistack/node"
)

// nodeTable is the shared flow-demux hashtable of spec.md §4.9 ("used by
// ... the node classifier"): a single process-wide instance, since the
// Module interface's Initialize(namePrefix, pool) has no channel for
// per-deployment shared state and a real shared-memory mapping of this
// table is out of this repository's scope.
var nodeTable = hashtable.New()

// nodeKey is the canonical demux key for a bound socket: its transport
// and the (local address, local port) an inbound packet's destination
// fields are compared against. Remote address/port are deliberately
// excluded so an unconnected, merely-bound socket (spec.md §8 S1: "a
// bound UDP socket") still demuxes correctly.
func nodeKey(transport node.Transport, addr node.Addr, port uint16) string {
	return fmt.Sprintf("%d:%x:%d", transport, addr[:4], port)
}
