package packet

import (
	"unsafe"

	"github.com/omnistack/omnistack/shmem"
)

// packetSize is how much shared memory a single Packet record needs; the
// pool's backing shmem.Pool is carved into slots of exactly this size
// (spec.md §4.4 "A packet is a chunk from a memory pool").
const packetSize = int(unsafe.Sizeof(Packet{}))

// Pool is a named PacketPool (spec.md §3): created once per engine at
// start, with a fixed capacity, producing packets in canonical initial
// state.
type Pool struct {
	name string
	shm  *shmem.Pool
}

// NewPool creates a packet pool named after the engine's prefix (spec.md
// §4.7 step 2), backed directly by the shared-memory subsystem.
func NewPool(namePrefix string, capacity int) (*Pool, error) {
	shm, err := shmem.NewPool(namePrefix+"_packets", packetSize, capacity)
	if err != nil {
		return nil, err
	}
	return &Pool{name: namePrefix, shm: shm}, nil
}

// Destroy tears the pool down; callers must ensure no packet is in
// flight first (spec.md §4.7 "destroyed when the engine tears down").
func (p *Pool) Destroy() { p.shm.Destroy() }

// Alloc returns a packet in canonical initial state (spec.md §4.4), or
// nil if the pool is exhausted. key identifies the calling OS thread for
// per-thread cache purposes, same convention as shmem.Pool.Get.
func (p *Pool) Alloc(key int64) *Packet {
	chunk := p.shm.Get(key)
	if chunk == nil {
		return nil
	}
	pkt := (*Packet)(chunk)
	*pkt = Packet{
		refcount: 1,
		dataOff:  HeadroomSize,
		MbufType: Origin,
		origin:   p,
	}
	return pkt
}

func (p *Pool) put(pkt *Packet) {
	p.shm.Put(0, unsafe.Pointer(pkt))
}
