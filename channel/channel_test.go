package channel_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omnistack/omnistack/channel"
	"github.com/omnistack/omnistack/token"
)

func TestFIFOSingleProducer(t *testing.T) {
	c := channel.New(nil, nil, nil)
	for i := uint64(1); i <= 40; i++ {
		require.NoError(t, c.Write(0, i))
	}
	c.Flush()

	for i := uint64(1); i <= 40; i++ {
		v, ok := c.Read(0)
		require.True(t, ok)
		require.Equal(t, i, v)
	}
	_, ok := c.Read(0)
	require.False(t, ok)
}

func TestScenarioS6EmptyFullFlush(t *testing.T) {
	c := channel.New(nil, nil, nil)
	for i := 0; i < channel.Capacity-1; i++ {
		require.NoError(t, c.Write(0, uint64(i)))
	}
	c.Flush()

	count := 0
	for {
		_, ok := c.Read(0)
		if !ok {
			break
		}
		count++
	}
	require.Equal(t, channel.Capacity-1, count)

	_, ok := c.Read(0)
	require.False(t, ok)
}

func TestWriteFailsWhenFull(t *testing.T) {
	c := channel.New(nil, nil, nil)
	for i := 0; i < channel.Capacity; i++ {
		require.NoError(t, c.Write(0, uint64(i)))
	}
	err := c.Write(0, 999)
	require.Error(t, err)
}

func TestMultiWriterPerProducerFIFO(t *testing.T) {
	reader := token.NewToken(1, 0)
	w1 := token.NewToken(2, 10)
	w2 := token.NewToken(3, 20)
	m := channel.NewMultiWriter(reader, []*token.Token{w1, w2}, nil)

	require.NoError(t, m.WriteTo(0, 10, 1))
	require.NoError(t, m.WriteTo(0, 10, 2))
	require.NoError(t, m.WriteTo(1, 20, 101))

	var got []uint64
	for i := 0; i < 3; i++ {
		v, ok := m.Read(0)
		require.True(t, ok)
		got = append(got, v)
	}
	require.ElementsMatch(t, []uint64{1, 2, 101}, got)

	// writer 0's two entries keep their relative order
	var fromZero []uint64
	for _, v := range got {
		if v == 1 || v == 2 {
			fromZero = append(fromZero, v)
		}
	}
	require.Equal(t, []uint64{1, 2}, fromZero)
}
