package shmem

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/omnistack/omnistack/cmn/cos"
)

// Client is one process's connection to a memory control plane. It
// implements the "RPC with condvar" pattern of spec.md §9: a single
// background goroutine reads responses off the wire and wakes whichever
// caller is waiting on that request id via a one-shot channel.
type Client struct {
	conn      net.Conn
	nextReqID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan wireResponse
	closed  bool

	ProcessID uint32
}

// Dial connects to a running ControlPlane and registers this process,
// implementing spec.md §6's GetProcessId exchange.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("shmem: dial %s: %w", socketPath, err)
	}
	c := &Client{conn: conn, pending: make(map[uint64]chan wireResponse)}
	go c.recvLoop()

	resp, err := c.call(wireRequest{Type: reqGetProcessID})
	if err != nil {
		conn.Close()
		return nil, err
	}
	c.ProcessID = resp.ProcessID
	return c, nil
}

func (c *Client) Close() error {
	req := wireRequest{Type: reqDestroyProcess, ProcessID: c.ProcessID}
	_, _ = c.call(req)
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Client) recvLoop() {
	for {
		var resp wireResponse
		if err := binary.Read(c.conn, binary.LittleEndian, &resp); err != nil {
			c.mu.Lock()
			for id, ch := range c.pending {
				close(ch)
				delete(c.pending, id)
			}
			c.closed = true
			c.mu.Unlock()
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ReqID]
		if ok {
			delete(c.pending, resp.ReqID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) call(req wireRequest) (wireResponse, error) {
	req.ReqID = c.nextReqID.Add(1)
	ch := make(chan wireResponse, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return wireResponse{}, cos.ErrClosed
	}
	c.pending[req.ReqID] = ch
	c.mu.Unlock()

	if err := binary.Write(c.conn, binary.LittleEndian, &req); err != nil {
		c.mu.Lock()
		delete(c.pending, req.ReqID)
		c.mu.Unlock()
		return wireResponse{}, err
	}

	resp, ok := <-ch
	if !ok {
		return wireResponse{}, cos.ErrClosed
	}
	return resp, nil
}

func statusErr(s Status) error {
	switch s {
	case StatusSuccess:
		return nil
	case StatusUnknownProcess:
		return cos.ErrUnknownProcess
	case StatusInvalidThreadID:
		return cos.ErrUnknownThread
	case StatusExhausted:
		return cos.ErrPoolExhausted
	case StatusNameCollision:
		return cos.ErrNameCollision
	default:
		return cos.ErrNoUsableRegion
	}
}

// NewThread registers a new thread id for this process, per spec.md §6
// NewThread(thread_id).
func (c *Client) NewThread() (uint32, error) {
	resp, err := c.call(wireRequest{Type: reqNewThread, ProcessID: c.ProcessID})
	if err != nil {
		return 0, err
	}
	return resp.ThreadID, statusErr(resp.Status)
}

func (c *Client) DestroyThread(threadID uint32) error {
	resp, err := c.call(wireRequest{Type: reqDestroyThread, ProcessID: c.ProcessID, ThreadID: threadID})
	if err != nil {
		return err
	}
	return statusErr(resp.Status)
}

// ThreadBindCPU records cpu as threadID's bound CPU at the control plane.
// The control plane only stores it: GetMemory and GetMemoryPool place
// regions without regard to the requester's CPU or NUMA node.
func (c *Client) ThreadBindCPU(threadID uint32, cpu int) error {
	resp, err := c.call(wireRequest{Type: reqThreadBindCPU, ProcessID: c.ProcessID, ThreadID: threadID, CPU: uint32(cpu)})
	if err != nil {
		return err
	}
	return statusErr(resp.Status)
}

// GetMemory requests a named region, attaches to it locally, and
// registers the local base address so RelPtr values tagged with this
// process's id resolve (spec.md §6 GetMemory(size, name, thread_id)).
func (c *Client) GetMemory(size int, name string, threadID uint32) (*Region, error) {
	var req wireRequest
	req.Type = reqGetMemory
	req.ProcessID = c.ProcessID
	req.ThreadID = threadID
	req.Size = uint64(size)
	req.NameLen = putName(&req.Name, name)

	resp, err := c.call(req)
	if err != nil {
		return nil, err
	}
	if err := statusErr(resp.Status); err != nil {
		return nil, err
	}

	data, err := openNamed(name, int(resp.RegionSize))
	if err != nil {
		return nil, err
	}
	r := &Region{Name: name, Size: int(resp.RegionSize), Kind: NamedShared, data: data}
	RegisterBase(c.ProcessID, r.Base()-uintptr(resp.RegionOffset))
	return r, nil
}

func (c *Client) FreeMemory(name string) error {
	var req wireRequest
	req.Type = reqFreeMemory
	req.ProcessID = c.ProcessID
	req.NameLen = putName(&req.Name, name)
	resp, err := c.call(req)
	if err != nil {
		return err
	}
	return statusErr(resp.Status)
}

// GetMemoryPool requests (or attaches to) a named MemoryPool and returns
// the size of its backing region; the actual Pool object used to Get/Put
// chunks is created process-locally by callers that open the same name.
func (c *Client) GetMemoryPool(chunkSize, chunkCount int, name string, threadID uint32) (int, error) {
	var req wireRequest
	req.Type = reqGetMemoryPool
	req.ProcessID = c.ProcessID
	req.ThreadID = threadID
	req.ChunkSize = uint64(chunkSize)
	req.ChunkCount = uint64(chunkCount)
	req.NameLen = putName(&req.Name, name)

	resp, err := c.call(req)
	if err != nil {
		return 0, err
	}
	if err := statusErr(resp.Status); err != nil {
		return 0, err
	}
	return int(resp.RegionSize), nil
}

func (c *Client) FreeMemoryPool(name string) error {
	var req wireRequest
	req.Type = reqFreeMemoryPool
	req.ProcessID = c.ProcessID
	req.NameLen = putName(&req.Name, name)
	resp, err := c.call(req)
	if err != nil {
		return err
	}
	return statusErr(resp.Status)
}
