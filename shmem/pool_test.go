package shmem_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/omnistack/omnistack/shmem"
)

func TestPoolGetPutUniqueAndHeader(t *testing.T) {
	p, err := shmem.NewPool(t.Name(), 128, 64)
	require.NoError(t, err)

	seen := make(map[unsafe.Pointer]bool)
	var got []unsafe.Pointer
	for i := 0; i < 64; i++ {
		ptr := p.Get(0)
		require.NotNil(t, ptr, "pool should not be exhausted before chunkCount allocations")
		require.False(t, seen[ptr], "Get must never return the same chunk twice while outstanding")
		seen[ptr] = true
		got = append(got, ptr)

		hdr := shmem.HeaderOf(ptr)
		require.EqualValues(t, 128, hdr.Size)
	}

	// exhausted
	require.Nil(t, p.Get(0))

	for _, ptr := range got {
		p.Put(0, ptr)
	}

	// every chunk is available again after being returned
	recovered := make(map[unsafe.Pointer]bool)
	for i := 0; i < 64; i++ {
		ptr := p.Get(0)
		require.NotNil(t, ptr)
		recovered[ptr] = true
	}
	require.Len(t, recovered, 64)
}

func TestPoolMultiThreadCachesAreIndependent(t *testing.T) {
	p, err := shmem.NewPool(t.Name(), 64, 512)
	require.NoError(t, err)

	a := p.Get(1)
	b := p.Get(2)
	require.NotNil(t, a)
	require.NotNil(t, b)
	require.NotEqual(t, a, b)
}
