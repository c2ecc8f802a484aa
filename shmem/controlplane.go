package shmem

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/omnistack/omnistack/cmn/nlog"
)

// SocketPath returns the well-known control-plane socket path for a given
// control-plane id, matching spec.md §6:
// "/tmp/omnistack_memory_sock{control_plane_id}.socket".
func SocketPath(dir string, id int) string {
	return fmt.Sprintf("%s/omnistack_memory_sock%d.socket", dir, id)
}

type namedRegion struct {
	region *Region
	offset uint64
	size   int
	refs   int
}

type procState struct {
	id      uint32
	threads map[uint32]int // thread id -> bound CPU (-1 if unbound)
	conn    net.Conn
}

// ControlPlane is the dedicated process component described in spec.md
// §4.1: it owns the free-region index, the name->region and name->pool
// maps, and the live process/thread sets, and drops a process's entry on
// peer socket close.
type ControlPlane struct {
	id         int
	socketPath string
	ln         net.Listener

	mu        sync.Mutex
	nextProc  uint32
	processes map[uint32]*procState
	named     map[string]*namedRegion
	pools     map[string]*Pool
	superblk  *arena
}

// NewControlPlane creates the superblock arena and binds the
// control-plane listening socket but does not yet accept connections;
// call Serve to run the accept loop.
func NewControlPlane(id int, socketDir string, superblockSize int) (*ControlPlane, error) {
	path := SocketPath(socketDir, id)
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("shmem: listen %s: %w", path, err)
	}
	return &ControlPlane{
		id:         id,
		socketPath: path,
		ln:         ln,
		processes:  make(map[uint32]*procState),
		named:      make(map[string]*namedRegion),
		pools:      make(map[string]*Pool),
		superblk:   newArena(NewLocal(superblockSize)),
	}, nil
}

func (cp *ControlPlane) Addr() string { return cp.socketPath }

// Serve runs the accept loop until ctx is cancelled, spawning one
// goroutine per connected client (spec.md §5: control-plane threads
// communicate only via Unix-domain sockets).
func (cp *ControlPlane) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return cp.ln.Close()
	})
	g.Go(func() error {
		for {
			conn, err := cp.ln.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return nil
				default:
					return err
				}
			}
			go cp.handleConn(conn)
		}
	})
	return g.Wait()
}

func (cp *ControlPlane) Close() error { return cp.ln.Close() }

func (cp *ControlPlane) handleConn(conn net.Conn) {
	var proc *procState
	defer func() {
		conn.Close()
		if proc != nil {
			cp.reclaimProcess(proc.id)
		}
	}()

	for {
		req, err := readRequest(conn)
		if err != nil {
			return
		}
		resp := cp.dispatch(&conn, &proc, req)
		if err := writeResponse(conn, resp); err != nil {
			return
		}
	}
}

func (cp *ControlPlane) dispatch(connp *net.Conn, procp **procState, req *wireRequest) wireResponse {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	resp := wireResponse{ReqID: req.ReqID, Status: StatusSuccess}

	switch req.Type {
	case reqGetProcessID:
		cp.nextProc++
		id := cp.nextProc
		cp.processes[id] = &procState{id: id, threads: make(map[uint32]int), conn: *connp}
		*procp = cp.processes[id]
		resp.ProcessID = id

	case reqDestroyProcess:
		if _, ok := cp.processes[req.ProcessID]; !ok {
			resp.Status = StatusUnknownProcess
			break
		}
		cp.reclaimProcessLocked(req.ProcessID)

	case reqNewThread:
		p, ok := cp.processes[req.ProcessID]
		if !ok {
			resp.Status = StatusUnknownProcess
			break
		}
		tid := uint32(len(p.threads) + 1)
		for {
			if _, exists := p.threads[tid]; !exists {
				break
			}
			tid++
		}
		p.threads[tid] = -1
		resp.ThreadID = tid

	case reqDestroyThread:
		p, ok := cp.processes[req.ProcessID]
		if !ok {
			resp.Status = StatusUnknownProcess
			break
		}
		if _, ok := p.threads[req.ThreadID]; !ok {
			resp.Status = StatusInvalidThreadID
			break
		}
		delete(p.threads, req.ThreadID)

	case reqThreadBindCPU:
		p, ok := cp.processes[req.ProcessID]
		if !ok {
			resp.Status = StatusUnknownProcess
			break
		}
		if _, ok := p.threads[req.ThreadID]; !ok {
			resp.Status = StatusInvalidThreadID
			break
		}
		p.threads[req.ThreadID] = int(req.CPU)

	case reqGetMemory:
		name := getName(req.Name, req.NameLen)
		off, size, status := cp.getMemoryLocked(name, int(req.Size))
		resp.Status = status
		resp.RegionOffset = off
		resp.RegionSize = uint64(size)
		resp.NameLen = putName(&resp.Name, name)

	case reqFreeMemory:
		name := getName(req.Name, req.NameLen)
		if !cp.freeMemoryLocked(name) {
			resp.Status = StatusUnknownType
		}

	case reqGetMemoryPool:
		name := getName(req.Name, req.NameLen)
		off, size, status := cp.getMemoryPoolLocked(name, int(req.ChunkSize), int(req.ChunkCount))
		resp.Status = status
		resp.RegionOffset = off
		resp.RegionSize = uint64(size)
		resp.NameLen = putName(&resp.Name, name)

	case reqFreeMemoryPool:
		name := getName(req.Name, req.NameLen)
		if !cp.freeMemoryPoolLocked(name) {
			resp.Status = StatusUnknownType
		}

	default:
		resp.Status = StatusUnknownType
	}
	return resp
}

// getMemoryLocked implements spec.md §6 GetMemory: repeated calls with the
// same name return the same region, refcounted; a same-name call with a
// mismatched size is a name collision.
func (cp *ControlPlane) getMemoryLocked(name string, size int) (off uint64, actualSize int, status Status) {
	if nr, ok := cp.named[name]; ok {
		if nr.size != size {
			return 0, 0, StatusNameCollision
		}
		nr.refs++
		return nr.offset, nr.size, StatusSuccess
	}
	blkOff, ok := cp.superblk.bestFit(uint64(size))
	if !ok {
		grow := size
		if cur := len(cp.superblk.region.data); cur > grow {
			grow = cur
		}
		cp.superblk.grow(grow)
		blkOff, ok = cp.superblk.bestFit(uint64(size))
		if !ok {
			return 0, 0, StatusExhausted
		}
	}
	cp.named[name] = &namedRegion{region: cp.superblk.region, offset: blkOff, size: size, refs: 1}
	return blkOff, size, StatusSuccess
}

func (cp *ControlPlane) freeMemoryLocked(name string) bool {
	nr, ok := cp.named[name]
	if !ok {
		return false
	}
	nr.refs--
	if nr.refs <= 0 {
		delete(cp.named, name)
	}
	return true
}

func (cp *ControlPlane) getMemoryPoolLocked(name string, chunkSize, chunkCount int) (off uint64, size int, status Status) {
	if p, ok := cp.pools[name]; ok {
		if p.chunkSize != chunkSize || p.chunkCount != chunkCount {
			return 0, 0, StatusNameCollision
		}
		p.refs.Add(1)
		return 0, p.regionSize(), StatusSuccess
	}
	p, err := newNamedPool(name, chunkSize, chunkCount)
	if err != nil {
		return 0, 0, StatusExhausted
	}
	cp.pools[name] = p
	return 0, p.regionSize(), StatusSuccess
}

func (cp *ControlPlane) freeMemoryPoolLocked(name string) bool {
	p, ok := cp.pools[name]
	if !ok {
		return false
	}
	if p.refs.Add(-1) <= 0 {
		delete(cp.pools, name)
		p.Destroy()
	}
	return true
}

func (cp *ControlPlane) reclaimProcess(id uint32) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.reclaimProcessLocked(id)
}

// reclaimProcessLocked runs on process death (socket close): it removes
// the process and its thread ids from the live set. Regions and pools the
// process obtained are not freed here; the control plane does not record
// which process owns a region, so they stay allocated until FreeMemory or
// FreeMemoryPool releases them.
func (cp *ControlPlane) reclaimProcessLocked(id uint32) {
	if _, ok := cp.processes[id]; !ok {
		return
	}
	delete(cp.processes, id)
	nlog.Infof("shmem: reclaimed process %d", id)
}

func readRequest(conn net.Conn) (*wireRequest, error) {
	var req wireRequest
	if err := binary.Read(conn, binary.LittleEndian, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func writeResponse(conn net.Conn, resp wireResponse) error {
	return binary.Write(conn, binary.LittleEndian, &resp)
}
