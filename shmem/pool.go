package shmem

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// ChunkHeader is the 64-byte metadata header prepended to every chunk a
// Pool hands out (spec.md §3 MemoryPool: "a 64-byte metadata header
// prepended to each chunk (type tag, origin pool pointer, IOVA, size,
// process id, reference count)").
type ChunkHeader struct {
	TypeTag uint32
	_       uint32
	Origin  unsafe.Pointer // owning *Pool; local-process pointer, not shared
	IOVA    uint64
	Size    uint32
	ProcID  uint32
	RefCnt  int32
	_       [28]byte // pad header to 64 bytes total (36 bytes of fields above)
}

const chunkHeaderSize = int(unsafe.Sizeof(ChunkHeader{}))

const batchCapacity = 256

// batch is a group of up to 256 chunk pointers, the unit the global
// full/empty lists and the per-thread caches trade in (spec.md §4.1).
type batch struct {
	chunks []unsafe.Pointer
}

func (b *batch) full() bool  { return len(b.chunks) == batchCapacity }
func (b *batch) empty() bool { return len(b.chunks) == 0 }

func (b *batch) pop() unsafe.Pointer {
	n := len(b.chunks)
	if n == 0 {
		return nil
	}
	p := b.chunks[n-1]
	b.chunks = b.chunks[:n-1]
	return p
}

func (b *batch) push(p unsafe.Pointer) {
	b.chunks = append(b.chunks, p)
}

// localCache is the per-OS-thread allocation/free cache described in
// spec.md §4.1: "The caches hold pointers to batch records ... When the
// allocation cache's batch is empty it is exchanged with a full batch
// from the global list; when the free cache's batch fills it is published
// to the global list."
type localCache struct {
	alloc *batch
	free  *batch
}

// Pool is a named allocation of fixed-size chunks: the shared-memory
// realization of spec.md §3's MemoryPool. A Pool is safe for concurrent
// Get/Put from many goroutines (each simulating one OS thread; a real
// deployment pins one goroutine/thread pair per engine).
type Pool struct {
	name       string
	chunkSize  int // caller payload size, header excluded
	chunkCount int
	region     *Region
	refs       atomic.Int32

	globalMu    sync.Mutex
	fullBatches []*batch
	emptyBatches []*batch

	tlsMu sync.Mutex
	tls   map[int64]*localCache // goroutine id surrogate -> cache; see threadKey
}

// newNamedPool allocates the pool's backing region (chunkCount fixed-size
// slots, each chunkSize bytes plus the 64-byte header) and partitions it
// into full batches ready to be claimed by callers' per-thread caches.
func newNamedPool(name string, chunkSize, chunkCount int) (*Pool, error) {
	slot := chunkHeaderSize + chunkSize
	region, err := newRegionFor(name, slot*chunkCount)
	if err != nil {
		return nil, err
	}
	p := &Pool{
		name:       name,
		chunkSize:  chunkSize,
		chunkCount: chunkCount,
		region:     region,
		tls:        make(map[int64]*localCache),
	}
	p.refs.Store(1)

	cur := &batch{chunks: make([]unsafe.Pointer, 0, batchCapacity)}
	for i := 0; i < chunkCount; i++ {
		ptr := unsafe.Pointer(&region.data[i*slot])
		hdr := (*ChunkHeader)(ptr)
		*hdr = ChunkHeader{Size: uint32(chunkSize), Origin: unsafe.Pointer(p)}
		cur.push(unsafe.Pointer(uintptr(ptr) + uintptr(chunkHeaderSize)))
		if cur.full() {
			p.fullBatches = append(p.fullBatches, cur)
			cur = &batch{chunks: make([]unsafe.Pointer, 0, batchCapacity)}
		}
	}
	if !cur.empty() {
		p.fullBatches = append(p.fullBatches, cur)
	}
	return p, nil
}

// NewPool creates a memory pool directly against the local memory
// subsystem, bypassing the control-plane RPC round trip. This is what an
// engine uses for its own per-core packet pool (spec.md §4.7 step 2:
// "create a packet pool named after the prefix") — the pool is still
// backed by a named mapping (a MempoolChunkRegion) so a co-located control
// plane (or a second process that knows the name) can still attach to it.
func NewPool(name string, chunkSize, chunkCount int) (*Pool, error) {
	return newNamedPool(name, chunkSize, chunkCount)
}

func newRegionFor(name string, size int) (*Region, error) {
	data, err := openNamed(name, size)
	if err != nil {
		return nil, err
	}
	return &Region{Name: name, Size: size, Kind: MempoolChunkRegion, data: data}, nil
}

func (p *Pool) regionSize() int { return len(p.region.data) }

// Destroy releases the pool's backing region. Callers must ensure no
// chunk is in flight; the control plane only calls this once a pool's
// refcount has dropped to zero.
func (p *Pool) Destroy() {
	closeNamed(p.name, p.region.data)
	unlinkNamed(p.name)
}

// threadKey identifies the calling OS thread for cache purposes. Go does
// not expose a stable thread id, so callers that need true per-OS-thread
// caches (engines, which call sys.PinThread and never migrate) pass an
// explicit key; ad hoc callers (tests) may pass 0 to share one cache.
type threadKey = int64

func (p *Pool) cacheFor(key threadKey) *localCache {
	p.tlsMu.Lock()
	defer p.tlsMu.Unlock()
	c, ok := p.tls[key]
	if !ok {
		c = &localCache{alloc: &batch{}, free: &batch{}}
		p.tls[key] = c
	}
	return c
}

// Get returns a chunk pointer (past its header) or nil if the pool is
// exhausted, never blocking and never allocating on this path (spec.md
// §5: "Memory-pool Get/Put ... are lock-free or bounded-lock").
func (p *Pool) Get(key threadKey) unsafe.Pointer {
	c := p.cacheFor(key)
	if c.alloc.empty() {
		p.refillAlloc(c)
		if c.alloc.empty() {
			// No full batch globally: reuse this cache's own freed chunks.
			c.alloc, c.free = c.free, c.alloc
			if c.alloc.empty() {
				return nil
			}
		}
	}
	return c.alloc.pop()
}

func (p *Pool) refillAlloc(c *localCache) {
	p.globalMu.Lock()
	defer p.globalMu.Unlock()
	n := len(p.fullBatches)
	if n == 0 {
		return
	}
	b := p.fullBatches[n-1]
	p.fullBatches = p.fullBatches[:n-1]
	if c.alloc != nil && !c.alloc.empty() {
		p.emptyBatches = append(p.emptyBatches, c.alloc)
	}
	c.alloc = b
}

// Put returns a chunk to the pool. The pointer must have come from Get on
// this same pool.
func (p *Pool) Put(key threadKey, ptr unsafe.Pointer) {
	c := p.cacheFor(key)
	if c.free.full() {
		p.publishFree(c)
	}
	c.free.push(ptr)
}

func (p *Pool) publishFree(c *localCache) {
	p.globalMu.Lock()
	defer p.globalMu.Unlock()
	p.fullBatches = append(p.fullBatches, c.free)
	if len(p.emptyBatches) > 0 {
		n := len(p.emptyBatches)
		c.free = p.emptyBatches[n-1]
		p.emptyBatches = p.emptyBatches[:n-1]
		c.free.chunks = c.free.chunks[:0]
	} else {
		c.free = &batch{chunks: make([]unsafe.Pointer, 0, batchCapacity)}
	}
}

// HeaderOf returns the chunk header immediately preceding a chunk pointer
// returned by Get.
func HeaderOf(chunk unsafe.Pointer) *ChunkHeader {
	return (*ChunkHeader)(unsafe.Pointer(uintptr(chunk) - uintptr(chunkHeaderSize)))
}
