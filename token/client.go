package token

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/omnistack/omnistack/cmn/cos"
	"github.com/omnistack/omnistack/shmem"
)

// Client is one process's connection to a token ControlPlane. Acquire
// responses can arrive arbitrarily long after the request (the control
// plane withholds them until the token actually changes hands), so, as in
// shmem.Client, a background recvLoop dispatches by request id rather
// than by read order.
type Client struct {
	conn      net.Conn
	nextReqID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan wireResponse
	closed  bool

	region *shmem.Region // lazily attached, shared across all tokens from this control plane
}

func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("token: dial %s: %w", socketPath, err)
	}
	c := &Client{conn: conn, pending: make(map[uint64]chan wireResponse)}
	go c.recvLoop()
	return c, nil
}

func (c *Client) Close() error {
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
	case StatusUnknownToken:
		return cos.NewErrNotFound("token")
	case StatusDropped:
		return cos.ErrClosed
	default:
		return cos.ErrTimeout
	}
}

// CreateToken creates a token already owned by forThreadID and returns a
// live pointer into the shared record (spec.md §4.2): every later
// Token.Check call on any thread that has attached this client's region
// is then a pure memory read, no RPC involved.
func (c *Client) CreateToken(forThreadID uint32) (*Token, error) {
	resp, err := c.call(wireRequest{Type: reqCreateToken, ThreadID: forThreadID})
	if err != nil {
		return nil, err
	}
	if err := statusErr(resp.Status); err != nil {
		return nil, err
	}
	if err := c.attach(resp); err != nil {
		return nil, err
	}
	return (*Token)(c.region.At(resp.Offset)), nil
}

func (c *Client) attach(resp wireResponse) error {
	if c.region != nil {
		return nil
	}
	name := getName(&resp.Name, resp.NameLen)
	region, err := shmem.OpenNamedRegion(name, int(resp.RegionSize))
	if err != nil {
		return err
	}
	c.region = region
	return nil
}

func (c *Client) DestroyToken(tok *Token) error {
	resp, err := c.call(wireRequest{Type: reqDestroyToken, TokenID: tok.ID()})
	if err != nil {
		return err
	}
	return statusErr(resp.Status)
}

// Acquire blocks until threadID owns tok, arbitrated by the control plane
// when it's contested (spec.md §4.2 Acquire). Callers on the fast path
// should try tok.Check first and only call Acquire on a miss.
func (c *Client) Acquire(tok *Token, threadID uint32) error {
	resp, err := c.call(wireRequest{Type: reqAcquire, TokenID: tok.ID(), ThreadID: threadID})
	if err != nil {
		return err
	}
	return statusErr(resp.Status)
}

// Return hands tok back to the control plane for reassignment, clearing
// threadID's ownership (spec.md §4.2 Return, the voluntary counterpart of
// the force-reassignment deadline).
func (c *Client) Return(tok *Token, threadID uint32) error {
	resp, err := c.call(wireRequest{Type: reqReturn, TokenID: tok.ID(), ThreadID: threadID})
	if err != nil {
		return err
	}
	return statusErr(resp.Status)
}
