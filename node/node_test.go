package node_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omnistack/omnistack/channel"
	"github.com/omnistack/omnistack/node"
	"github.com/omnistack/omnistack/packet"
	"github.com/omnistack/omnistack/token"
)

const appThreadID = uint32(1)

func newAppChannel(t *testing.T) *channel.Channel {
	t.Helper()
	readerTok := token.NewToken(1, appThreadID)
	writerTok := token.NewToken(2, 99) // engine-side thread id
	return channel.New(readerTok, writerTok, nil)
}

// fakeSink records every submitted command packet, standing in for an
// engine's protocol-stack channel.
type fakeSink struct {
	mu  sync.Mutex
	got []struct {
		comUserID int
		pkt       *packet.Packet
	}
}

func (s *fakeSink) Submit(comUserID int, p *packet.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, struct {
		comUserID int
		pkt       *packet.Packet
	}{comUserID, p})
	return nil
}

func (s *fakeSink) last() (int, *packet.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.got)
	if n == 0 {
		return 0, nil
	}
	return s.got[n-1].comUserID, s.got[n-1].pkt
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	pool, err := packet.NewPool(t.Name(), 4)
	require.NoError(t, err)
	app := newAppChannel(t)
	n := node.New(1, app, nil, &fakeSink{}, 1, []int{0})

	p := pool.Alloc(0)
	require.NoError(t, n.Write(99, p))
	app.Flush()

	got := n.Read(appThreadID)
	require.Same(t, p, got)
}

func TestUpdateInfoRejectedOnceInHashtable(t *testing.T) {
	app := newAppChannel(t)
	n := node.New(1, app, nil, &fakeSink{}, 1, nil)
	n.MarkInHashtable(true)
	require.Error(t, n.UpdateInfo(node.NodeInfo{}))
}

func TestWriteBottomPrependsCommandHeader(t *testing.T) {
	pool, err := packet.NewPool(t.Name(), 4)
	require.NoError(t, err)
	app := newAppChannel(t)
	sink := &fakeSink{}
	n := node.New(1, app, nil, sink, 7, nil)

	p := pool.Alloc(0)
	require.NoError(t, n.WriteBottom(p))

	id, got := sink.last()
	require.Equal(t, 7, id)
	typ, ok := node.ParseCommandHeader(got)
	require.True(t, ok)
	require.Equal(t, node.CmdPacket, typ)
}

func TestPutIntoHashtableBlocksUntilAcked(t *testing.T) {
	pool, err := packet.NewPool(t.Name(), 4)
	require.NoError(t, err)
	app := newAppChannel(t)
	sink := &fakeSink{}
	n := node.New(1, app, nil, sink, 7, nil)

	done := make(chan error, 1)
	go func() { done <- n.PutIntoHashtable(pool) }()

	require.Eventually(t, func() bool {
		id, p := sink.last()
		if id != 0 || p == nil {
			return false
		}
		typ, ok := node.ParseCommandHeader(p)
		return ok && typ == node.CmdUpdateNodeInfo
	}, time.Second, time.Millisecond)

	select {
	case <-done:
		t.Fatal("PutIntoHashtable returned before the engine acknowledged")
	case <-time.After(20 * time.Millisecond):
	}

	n.MarkInHashtable(true)
	require.NoError(t, <-done)
	require.True(t, n.InHashtable())
}

func TestCloseRefAutoClosesAtZero(t *testing.T) {
	pool, err := packet.NewPool(t.Name(), 4)
	require.NoError(t, err)
	app := newAppChannel(t)
	sink := &fakeSink{}
	n := node.New(1, app, nil, sink, 7, nil)

	n.OpenRef() // refcount 2
	require.NoError(t, n.CloseRef(pool))
	id, _ := sink.last()
	_ = id
	require.Empty(t, sink.got, "refcount still above zero, no close issued")

	require.NoError(t, n.CloseRef(pool))
	id, p := sink.last()
	require.Equal(t, 0, id)
	typ, ok := node.ParseCommandHeader(p)
	require.True(t, ok)
	require.Equal(t, node.CmdClearNodeInfo, typ)
}
