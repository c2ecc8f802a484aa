package module_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omnistack/omnistack/module"
	"github.com/omnistack/omnistack/packet"
)

func TestMutexGroupExactlyOneFires(t *testing.T) {
	pool, err := packet.NewPool(t.Name(), 4)
	require.NoError(t, err)
	p := pool.Alloc(0)

	g := module.NewFilterGroup(module.Mutex, []module.Edge{
		{Bit: 0, Filter: func(*packet.Packet) bool { return false }},
		{Bit: 1, Filter: func(*packet.Packet) bool { return true }},
		{Bit: 2, Filter: func(*packet.Packet) bool { return true }},
	})

	mask := g.Select(p)
	require.EqualValues(t, 1<<1, mask, "only the first filter that returns true fires")
}

func TestEqualGroupRoundRobin(t *testing.T) {
	pool, err := packet.NewPool(t.Name(), 4)
	require.NoError(t, err)
	p := pool.Alloc(0)

	g := module.NewFilterGroup(module.Equal, []module.Edge{
		{Bit: 0}, {Bit: 1}, {Bit: 2},
	})

	counts := map[uint32]int{}
	const n = 3
	for i := 0; i < n*3; i++ {
		mask := g.Select(p)
		counts[mask]++
	}
	require.Equal(t, n, counts[1<<0])
	require.Equal(t, n, counts[1<<1])
	require.Equal(t, n, counts[1<<2])
}

func TestUngroupedEdgesIndependent(t *testing.T) {
	pool, err := packet.NewPool(t.Name(), 4)
	require.NoError(t, err)
	p := pool.Alloc(0)

	mask := module.ApplyDownstreamFilters(nil, []module.Edge{
		{Bit: 0, Filter: func(*packet.Packet) bool { return true }},
		{Bit: 3, Filter: func(*packet.Packet) bool { return true }},
	}, p)
	require.EqualValues(t, 1<<0|1<<3, mask)
}

func TestFactoryRegisterAndDuplicate(t *testing.T) {
	name := "test-module-" + t.Name()
	module.Register(name, func() module.Module { return &fakeModule{} })

	m, err := module.New(name)
	require.NoError(t, err)
	require.NotNil(t, m)

	require.Panics(t, func() {
		module.Register(name, func() module.Module { return &fakeModule{} })
	})
}

type fakeModule struct{ module.Base }

func (*fakeModule) MainLogic(p *packet.Packet) *packet.Packet { return p }
