package shmem_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/omnistack/omnistack/shmem"
)

func TestRelPtrOffsetRoundTrip(t *testing.T) {
	shmem.SetBackend(shmem.BackendOffset)
	defer shmem.SetBackend(shmem.BackendOffset)

	buf := make([]byte, 256)
	base := uintptr(unsafe.Pointer(&buf[0]))
	shmem.RegisterBase(1, base)
	defer shmem.UnregisterBase(1)

	target := unsafe.Pointer(&buf[64])
	p := shmem.FromPointer(1, target)
	require.False(t, p.IsNil())
	require.Equal(t, target, p.Deref())
}

func TestRelPtrNilRoundTrips(t *testing.T) {
	require.True(t, shmem.Nil.IsNil())
	require.Nil(t, shmem.Nil.Deref())
}

func TestRelPtrDirectBackend(t *testing.T) {
	shmem.SetBackend(shmem.BackendDirect)
	defer shmem.SetBackend(shmem.BackendOffset)

	buf := make([]byte, 16)
	target := unsafe.Pointer(&buf[0])
	p := shmem.FromPointer(0, target)
	require.Equal(t, target, p.Deref())
}
