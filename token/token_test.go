package token_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omnistack/omnistack/token"
)

func startControlPlane(t *testing.T, maxTokens int) (*token.ControlPlane, func()) {
	t.Helper()
	dir := t.TempDir()
	cp, err := token.NewControlPlane(1, dir, maxTokens)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = cp.Serve(ctx)
		close(done)
	}()
	return cp, func() {
		cancel()
		<-done
	}
}

func TestCheckIsFastPathNoRPC(t *testing.T) {
	cp, stop := startControlPlane(t, 4)
	defer stop()

	c, err := token.Dial(cp.Addr())
	require.NoError(t, err)
	defer c.Close()

	tok, err := c.CreateToken(1)
	require.NoError(t, err)
	require.True(t, tok.Check(1))
	require.False(t, tok.Check(2))
}

func TestAcquireHandsOverOnReturn(t *testing.T) {
	cp, stop := startControlPlane(t, 4)
	defer stop()

	c, err := token.Dial(cp.Addr())
	require.NoError(t, err)
	defer c.Close()

	tok, err := c.CreateToken(1)
	require.NoError(t, err)

	var acquired time.Time
	done := make(chan struct{})
	go func() {
		require.NoError(t, c.Acquire(tok, 2))
		acquired = time.Now()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 1, tok.Owner(), "thread 1 still owns until it returns")
	require.NoError(t, c.Return(tok, 1))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquire never completed after return")
	}
	require.False(t, acquired.IsZero())
	require.True(t, tok.Check(2))
	require.False(t, tok.Check(1))
}

func TestAcquireForceReassignsAfterDeadline(t *testing.T) {
	cp, stop := startControlPlane(t, 4)
	defer stop()

	c, err := token.Dial(cp.Addr())
	require.NoError(t, err)
	defer c.Close()

	tok, err := c.CreateToken(1)
	require.NoError(t, err)

	start := time.Now()
	err = c.Acquire(tok, 2) // thread 1 never returns
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.True(t, tok.Check(2))
	require.GreaterOrEqual(t, elapsed, token.ForceReassignDeadline)
	require.Less(t, elapsed, token.ForceReassignDeadline+500*time.Millisecond)
}

func TestAcquireQueueIsFIFO(t *testing.T) {
	cp, stop := startControlPlane(t, 4)
	defer stop()

	c, err := token.Dial(cp.Addr())
	require.NoError(t, err)
	defer c.Close()

	tok, err := c.CreateToken(1)
	require.NoError(t, err)

	var mu sync.Mutex
	var order []uint32
	record := func(id uint32) {
		mu.Lock()
		order = append(order, id)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for _, id := range []uint32{2, 3, 4} {
		wg.Add(1)
		go func(id uint32) {
			defer wg.Done()
			time.Sleep(10 * time.Millisecond) // keep request order stable
			require.NoError(t, c.Acquire(tok, id))
			record(id)
			require.NoError(t, c.Return(tok, id))
		}(id)
		time.Sleep(15 * time.Millisecond)
	}
	require.NoError(t, c.Return(tok, 1))
	wg.Wait()

	require.Equal(t, []uint32{2, 3, 4}, order)
}

func TestOwnerDisconnectHandsTokenToWaiter(t *testing.T) {
	cp, stop := startControlPlane(t, 4)
	defer stop()

	owner, err := token.Dial(cp.Addr())
	require.NoError(t, err)
	tok, err := owner.CreateToken(1)
	require.NoError(t, err)

	waiter, err := token.Dial(cp.Addr())
	require.NoError(t, err)
	defer waiter.Close()

	waitErr := make(chan error, 1)
	go func() { waitErr <- waiter.Acquire(tok, 2) }()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, owner.Close()) // owner disconnects without returning

	select {
	case err := <-waitErr:
		require.NoError(t, err, "surviving waiter should still be granted the token")
	case <-time.After(time.Second):
		t.Fatal("waiter never got the token after owner died")
	}
	require.True(t, tok.Check(2))
}
