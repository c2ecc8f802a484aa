package shmem_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omnistack/omnistack/shmem"
)

func startControlPlane(t *testing.T) (*shmem.ControlPlane, func()) {
	t.Helper()
	dir := t.TempDir()
	cp, err := shmem.NewControlPlane(1, dir, 1<<20)
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

func TestControlPlaneProcessAndThreadLifecycle(t *testing.T) {
	cp, stop := startControlPlane(t)
	defer stop()

	c, err := shmem.Dial(cp.Addr())
	require.NoError(t, err)
	defer c.Close()

	require.NotZero(t, c.ProcessID)

	tid, err := c.NewThread()
	require.NoError(t, err)
	require.NoError(t, c.ThreadBindCPU(tid, 2))
	require.NoError(t, c.DestroyThread(tid))

	err = c.ThreadBindCPU(tid, 2)
	require.Error(t, err, "binding a destroyed thread id must fail")
}

func TestControlPlaneNamedMemoryCollision(t *testing.T) {
	cp, stop := startControlPlane(t)
	defer stop()

	c, err := shmem.Dial(cp.Addr())
	require.NoError(t, err)
	defer c.Close()

	r1, err := c.GetMemory(4096, "shared-region", 0)
	require.NoError(t, err)
	require.Len(t, r1.Bytes(), 4096)

	r2, err := c.GetMemory(4096, "shared-region", 0)
	require.NoError(t, err)
	require.Equal(t, len(r1.Bytes()), len(r2.Bytes()))

	_, err = c.GetMemory(8192, "shared-region", 0)
	require.Error(t, err, "same name with a different size must be a collision")

	require.NoError(t, c.FreeMemory("shared-region"))
	require.NoError(t, c.FreeMemory("shared-region"))
}

func TestSocketPathMatchesConvention(t *testing.T) {
	got := shmem.SocketPath("/tmp", 7)
	require.Equal(t, filepath.Join("/tmp", "omnistack_memory_sock7.socket"), got)
}

func TestControlPlaneReclaimsOnPeerDeath(t *testing.T) {
	cp, stop := startControlPlane(t)
	defer stop()

	c, err := shmem.Dial(cp.Addr())
	require.NoError(t, err)
	_, err = c.NewThread()
	require.NoError(t, err)
	require.NoError(t, c.Close())

	// A fresh client can still connect after the first one's process was
	// reclaimed: the control plane stays up across peer death.
	time.Sleep(50 * time.Millisecond)
	c2, err := shmem.Dial(cp.Addr())
	require.NoError(t, err)
	defer c2.Close()
	require.NotEqual(t, c.ProcessID, c2.ProcessID)
}
