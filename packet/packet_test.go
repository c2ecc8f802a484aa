package packet_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omnistack/omnistack/packet"
)

func TestAllocCanonicalInitialState(t *testing.T) {
	pool, err := packet.NewPool(t.Name(), 8)
	require.NoError(t, err)

	p := pool.Alloc(0)
	require.NotNil(t, p)
	require.EqualValues(t, 1, p.RefCount())
	require.Equal(t, packet.Origin, p.MbufType)
	require.EqualValues(t, 0, p.Offset)
	require.EqualValues(t, 0, p.Length)
	require.Nil(t, p.NextPacket)
}

func TestReleaseReturnsChunkToPool(t *testing.T) {
	pool, err := packet.NewPool(t.Name(), 1)
	require.NoError(t, err)

	p := pool.Alloc(0)
	require.NotNil(t, p)
	require.Nil(t, pool.Alloc(0), "capacity is 1, pool should be exhausted")

	p.Release()
	require.NotNil(t, pool.Alloc(0), "releasing the only packet frees its chunk")
}

func TestReferenceHoldsParentAlive(t *testing.T) {
	pool, err := packet.NewPool(t.Name(), 8)
	require.NoError(t, err)

	parent := pool.Alloc(0)
	require.NotNil(t, parent)
	buf, ok := parent.Prepend(4)
	require.True(t, ok)
	copy(buf, []byte("ping"))

	child := parent.Reference()
	require.NotNil(t, child)
	require.Equal(t, packet.Indirect, child.MbufType)
	require.EqualValues(t, 2, parent.RefCount())
	require.Equal(t, parent.Data(), child.Data())

	child.Release()
	require.EqualValues(t, 1, parent.RefCount())
	parent.Release()
}

func TestDuplicateCopiesPayloadIndependently(t *testing.T) {
	pool, err := packet.NewPool(t.Name(), 8)
	require.NoError(t, err)

	parent := pool.Alloc(0)
	require.NotNil(t, parent)
	buf, ok := parent.Prepend(4)
	require.True(t, ok)
	copy(buf, []byte("ping"))

	dup := parent.Duplicate()
	require.NotNil(t, dup)
	require.Equal(t, packet.Origin, dup.MbufType)
	require.EqualValues(t, 1, dup.RefCount())
	require.Equal(t, parent.Data(), dup.Data())

	dup.Data()[0] = 'P'
	require.NotEqual(t, parent.Data()[0], dup.Data()[0], "duplicate must not alias the source buffer")

	parent.Release()
	dup.Release()
}

func TestRefcountSoundnessRoundTrip(t *testing.T) {
	pool, err := packet.NewPool(t.Name(), 4)
	require.NoError(t, err)

	p := pool.Alloc(0)
	require.NotNil(t, p)
	c1 := p.Reference()
	c2 := p.Duplicate()
	require.EqualValues(t, 2, p.RefCount())

	filler := pool.Alloc(0)
	require.NotNil(t, filler, "one chunk (of 4) should still be free after p, c1, c2")
	require.Nil(t, pool.Alloc(0), "pool should now be fully exhausted")

	c1.Release()
	c2.Release()
	p.Release()
	filler.Release()

	// every chunk is back: capacity 4 should be fully allocatable again
	var got []*packet.Packet
	for i := 0; i < 4; i++ {
		pp := pool.Alloc(0)
		require.NotNil(t, pp)
		got = append(got, pp)
	}
	require.Nil(t, pool.Alloc(0))
}
