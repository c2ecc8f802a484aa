package ioadapter_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omnistack/omnistack/ioadapter"
	"github.com/omnistack/omnistack/packet"
)

func TestMockQueueRecvAndSend(t *testing.T) {
	pool, err := packet.NewPool(t.Name(), 4)
	require.NoError(t, err)

	q := ioadapter.NewMockQueue()
	p1, p2 := pool.Alloc(0), pool.Alloc(0)
	q.Feed(p1, p2)

	batch := make([]*packet.Packet, 4)
	n := q.RecvBatch(batch)
	require.Equal(t, 2, n)
	require.Equal(t, p1, batch[0])
	require.Equal(t, p2, batch[1])

	require.Equal(t, 0, q.RecvBatch(batch), "queue drained")

	accepted := q.SendBatch([]*packet.Packet{p1, p2})
	require.Equal(t, 2, accepted)
	require.Len(t, q.Sent(), 2)
	require.Len(t, q.Sent(), 0, "Sent drains the tx queue")
}
