package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omnistack/omnistack/module"
	"github.com/omnistack/omnistack/packet"
)

func newTestModules() (src, ro, rw *localMod) {
	return &localMod{}, &localMod{readOnly: true}, &localMod{readOnly: false}
}

func TestForwardOneReadOnlyThenSoleWriterBothShareOriginal(t *testing.T) {
	pool, err := packet.NewPool(t.Name(), 8)
	require.NoError(t, err)

	src, ro, rw := newTestModules()
	src.downstream = []downstreamEdge{
		{bit: 0, toLocal: 1},
		{bit: 1, toLocal: 2},
	}
	e := &Engine{modules: []*localMod{src, ro, rw}}

	p := pool.Alloc(0)
	p.NextHopFilter = 0b11

	e.forwardOne(p, 0)

	require.Len(t, e.queue, 2)
	require.Equal(t, p, e.queue[0].pkt, "ReadOnly downstream shares the original packet")
	require.Equal(t, 1, e.queue[0].localIdx)
	require.Same(t, p, e.queue[1].pkt, "the sole non-ReadOnly downstream also shares the original, no duplicate needed")
	require.Equal(t, 2, e.queue[1].localIdx)
	require.EqualValues(t, 2, p.RefCount())
}

func TestForwardOneFirstNonReadOnlyReusesOriginal(t *testing.T) {
	pool, err := packet.NewPool(t.Name(), 8)
	require.NoError(t, err)

	src, rw1, rw2 := &localMod{}, &localMod{}, &localMod{}
	src.downstream = []downstreamEdge{
		{bit: 0, toLocal: 1},
		{bit: 1, toLocal: 2},
	}
	e := &Engine{modules: []*localMod{src, rw1, rw2}}

	p := pool.Alloc(0)
	p.NextHopFilter = 0b11

	e.forwardOne(p, 0)

	require.Len(t, e.queue, 2)
	require.Equal(t, p, e.queue[0].pkt, "first non-ReadOnly consumer reuses the original (remaining was 0)")
	require.NotSame(t, p, e.queue[1].pkt, "second non-ReadOnly consumer gets a duplicate")
	require.EqualValues(t, 1, p.RefCount())
}

func TestForwardOneZeroMaskReleasesPacket(t *testing.T) {
	pool, err := packet.NewPool(t.Name(), 1)
	require.NoError(t, err)

	e := &Engine{modules: []*localMod{{}}}
	p := pool.Alloc(0)
	p.NextHopFilter = 0

	e.forwardOne(p, 0)

	require.Empty(t, e.queue)
	require.NotNil(t, pool.Alloc(0), "the chunk returned to the pool on drop")
}

// TestForwardChainHonorsMainLogicOverride exercises spec.md §4.5's "a
// module may preset next_hop_filter in main_logic to override filters
// entirely": a packet that already carries a nonzero mask when it
// reaches forwardChain must reach forwardOne unchanged, not get
// recomputed from the module's declared edges.
func TestForwardChainHonorsMainLogicOverride(t *testing.T) {
	pool, err := packet.NewPool(t.Name(), 8)
	require.NoError(t, err)

	src, a, b := newTestModules()
	src.downstream = []downstreamEdge{
		{bit: 0, toLocal: 1},
		{bit: 1, toLocal: 2},
	}
	src.ungrouped = []module.Edge{{Bit: 0}, {Bit: 1}}
	e := &Engine{modules: []*localMod{src, a, b}}

	p := pool.Alloc(0)
	p.NextHopFilter = 0b10 // module override: only the second edge, bypassing filters

	e.forwardChain(p, 0)

	require.Len(t, e.queue, 1, "the override mask must survive, not be recomputed to both ungrouped edges")
	require.Equal(t, 2, e.queue[0].localIdx)
}

func TestForwardChainWalksNextPacket(t *testing.T) {
	pool, err := packet.NewPool(t.Name(), 8)
	require.NoError(t, err)

	src, sink, _ := newTestModules()
	src.downstream = []downstreamEdge{{bit: 0, toLocal: 1}}
	src.ungrouped = []module.Edge{{Bit: 0}}
	e := &Engine{modules: []*localMod{src, sink}}

	p1 := pool.Alloc(0)
	p2 := pool.Alloc(0)
	p1.NextPacket = p2

	e.forwardChain(p1, 0)

	require.Len(t, e.queue, 2)
	require.Nil(t, p1.NextPacket, "forwardChain detaches the chain link before routing each packet")
}
