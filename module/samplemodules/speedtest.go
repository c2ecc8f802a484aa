package samplemodules

import (
	"sync/atomic"

	"github.com/omnistack/omnistack/module"
	"github.com/omnistack/omnistack/packet"
)

func init() {
	module.Register("SpeedTest", func() module.Module {
		return &SpeedTest{Base: module.Base{NameStr: "SpeedTest", ModType: module.ReadOnly}}
	})
}

// SpeedTest is a ReadOnly pass-through that counts every packet it
// observes without mutating it, used by spec.md §8 S2 to verify that a
// ReadOnly sibling of NodeUser shares packets rather than duplicating
// them.
type SpeedTest struct {
	module.Base
	count int64
}

func (m *SpeedTest) MainLogic(p *packet.Packet) *packet.Packet {
	atomic.AddInt64(&m.count, 1)
	return p
}

func (m *SpeedTest) Count() int64 { return atomic.LoadInt64(&m.count) }
