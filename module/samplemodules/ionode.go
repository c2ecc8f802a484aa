package samplemodules

import (
	"github.com/omnistack/omnistack/ioadapter"
	"github.com/omnistack/omnistack/module"
	"github.com/omnistack/omnistack/packet"
)

const ioNodeBatchSize = 32

// IoNode is the dataplane's NIC-facing source module (spec.md §2 "Data
// flow: NIC queue → IoNode module → parser chain ..."): each engine tick
// it drains a batch off its ioadapter.Queue and hands the batch to the
// engine as a packet chain via next_packet. Its send-side counterpart
// (draining MainLogic's input back onto the queue) is reserved, matching
// the engine's own reserved remote-send path.
//
// IoNode is bound to one concrete Queue at construction, so like
// Firewall it does not self-register.
type IoNode struct {
	module.Base
	queue ioadapter.Queue
}

// NewIoNode builds an IoNode draining q.
func NewIoNode(q ioadapter.Queue) *IoNode {
	return &IoNode{Base: module.Base{NameStr: "IoNode", ModType: module.ReadOnly}, queue: q}
}

func (m *IoNode) HasTimer() bool { return true }

func (m *IoNode) MainLogic(p *packet.Packet) *packet.Packet { return p }

func (m *IoNode) TimerLogic(int64) *packet.Packet {
	batch := make([]*packet.Packet, ioNodeBatchSize)
	n := m.queue.RecvBatch(batch)
	if n == 0 {
		return nil
	}
	for i := 0; i < n-1; i++ {
		batch[i].NextPacket = batch[i+1]
	}
	batch[n-1].NextPacket = nil
	return batch[0]
}
