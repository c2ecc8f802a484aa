package engine_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omnistack/omnistack/engine"
	"github.com/omnistack/omnistack/graph"
	"github.com/omnistack/omnistack/module"
	"github.com/omnistack/omnistack/packet"
)

// fireOnceTimer is a source module: its TimerLogic hands out one packet
// on its first call, pre-addressed to its sole downstream edge, then
// goes quiet.
type fireOnceTimer struct {
	module.Base
	fired bool
}

func (m *fireOnceTimer) HasTimer() bool { return true }

func (m *fireOnceTimer) TimerLogic(int64) *packet.Packet {
	if m.fired {
		return nil
	}
	m.fired = true
	p := m.Pool.Alloc(0)
	p.NextHopFilter = 1
	return p
}

// collectSink records every packet handed to it and keeps ownership
// (Occupy-style: it does not return the packet for further routing).
type collectSink struct {
	module.Base
	mu  sync.Mutex
	got []*packet.Packet
}

func (m *collectSink) MainLogic(p *packet.Packet) *packet.Packet {
	m.mu.Lock()
	m.got = append(m.got, p)
	m.mu.Unlock()
	return nil
}

func (m *collectSink) received() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.got)
}

func buildLinearGraph(srcName, sinkName string) *graph.Graph {
	return &graph.Graph{
		NodeNames:   []string{srcName, sinkName},
		SubGraphIDs: []int{0, 0},
		Links:       []graph.Link{{Src: 0, Dst: 1}},
	}
}

func TestEngineTimerDrivenFanOutReachesSink(t *testing.T) {
	srcName, sinkName := "src-"+t.Name(), "sink-"+t.Name()
	src := &fireOnceTimer{}
	sink := &collectSink{}
	module.Register(srcName, func() module.Module { return src })
	module.Register(sinkName, func() module.Module { return sink })

	g := buildLinearGraph(srcName, sinkName)
	subs, err := graph.Partition(g)
	require.NoError(t, err)
	require.True(t, graph.VerifyPartition(g, subs))

	e, err := engine.Init(g, subs[0], 0, "eng-"+t.Name())
	require.NoError(t, err)

	e.RunOnce()

	require.Equal(t, 1, sink.received())
}

// destroyOrder records Destroy() calls so TestStopTearsDownInReverseOrder
// can assert the reverse-instantiation-order teardown of spec.md §4.7
// Stop.
type destroyOrder struct {
	module.Base
	name  string
	trace *[]string
}

func (m *destroyOrder) Destroy() { *m.trace = append(*m.trace, m.name) }

func TestStopTearsDownModulesInReverseOrder(t *testing.T) {
	var trace []string
	aName, bName := "a-"+t.Name(), "b-"+t.Name()
	module.Register(aName, func() module.Module { return &destroyOrder{name: "a", trace: &trace} })
	module.Register(bName, func() module.Module { return &destroyOrder{name: "b", trace: &trace} })

	g := buildLinearGraph(aName, bName)
	subs, err := graph.Partition(g)
	require.NoError(t, err)

	e, err := engine.Init(g, subs[0], 0, "eng-"+t.Name())
	require.NoError(t, err)

	e.Stop()
	e.Run() // already stopped: runs zero iterations, then tears down

	require.Equal(t, []string{"b", "a"}, trace)
}

func TestEngineSubmitRoutesToNodeUser(t *testing.T) {
	sink := &collectSink{}
	module.Register("NodeUser", func() module.Module { return sink })

	g := &graph.Graph{NodeNames: []string{"NodeUser"}, SubGraphIDs: []int{0}}
	subs, err := graph.Partition(g)
	require.NoError(t, err)

	e, err := engine.Init(g, subs[0], 0, "eng-"+t.Name())
	require.NoError(t, err)

	pool, err := packet.NewPool("submit-test-"+t.Name(), 4)
	require.NoError(t, err)
	p := pool.Alloc(0)

	require.NoError(t, e.Submit(7, p))
	e.RunOnce()

	require.Equal(t, 1, sink.received())
	require.EqualValues(t, 7, p.Value)
}
