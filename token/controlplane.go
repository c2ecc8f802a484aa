// Package token implements the cooperative single-holder ownership
// service of spec.md §4.2.
/*
 * Copyright (c) 2024, OmniStack authors.
 */
package token

import (
	"container/heap"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/omnistack/omnistack/cmn/nlog"
	"github.com/omnistack/omnistack/shmem"
)

// ForceReassignDeadline is spec.md §4.2's "if the current holder hasn't
// returned the token within one second of being asked, the control plane
// reassigns it anyway" window.
const ForceReassignDeadline = time.Second

// SocketPath mirrors shmem's convention with the token service's own
// prefix (spec.md §6: "same shape, different socket").
func SocketPath(dir string, id int) string {
	return fmt.Sprintf("%s/omnistack_token_sock%d.socket", dir, id)
}

type peer struct {
	mu   sync.Mutex
	conn net.Conn
}

func (p *peer) send(resp wireResponse) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return binary.Write(p.conn, binary.LittleEndian, &resp)
}

type waiter struct {
	threadID uint32
	reqID    uint64
	peer     *peer
}

type entry struct {
	tok        *Token
	offset     uint64
	ownerPeer  *peer // nil once free; who currently holds it
	queue      []waiter
	gen        uint64 // bumped on every ownership change, invalidates stale deadlines
}

type deadlineItem struct {
	fireAt  time.Time
	tokenID uint64
	gen     uint64
	index   int
}

type deadlineHeap []*deadlineItem

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].fireAt.Before(h[j].fireAt) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *deadlineHeap) Push(x interface{}) {
	it := x.(*deadlineItem)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// ControlPlane arbitrates contested token acquisition: it hands out Token
// records backed by real shared memory (so Token.Check stays a pure
// memory read everywhere, spec.md §4.2), and serializes Acquire/Return
// over a FIFO queue per token with a force-reassignment deadline.
type ControlPlane struct {
	id         int
	socketPath string
	regionName string

	ln net.Listener

	region  *shmem.Region
	slotSz  int
	maxToks int

	mu       sync.Mutex
	tokens   map[uint64]*entry
	nextID   uint64
	freeOffs []uint64
	deadline deadlineHeap
}

// NewControlPlane creates a token service able to hand out up to maxTokens
// concurrently-live Token records.
func NewControlPlane(id int, socketDir string, maxTokens int) (*ControlPlane, error) {
	path := SocketPath(socketDir, id)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("token: listen %s: %w", path, err)
	}
	regionName := fmt.Sprintf("token_records_%d", id)
	slotSz := int(tokenSize)
	region, err := shmem.OpenNamedRegion(regionName, slotSz*maxTokens)
	if err != nil {
		ln.Close()
		return nil, err
	}
	cp := &ControlPlane{
		id:         id,
		socketPath: path,
		regionName: regionName,
		ln:         ln,
		region:     region,
		slotSz:     slotSz,
		maxToks:    maxTokens,
		tokens:     make(map[uint64]*entry),
	}
	for i := maxTokens - 1; i >= 0; i-- {
		cp.freeOffs = append(cp.freeOffs, uint64(i*slotSz))
	}
	return cp, nil
}

func (cp *ControlPlane) Addr() string { return cp.socketPath }

// Serve accepts connections until ctx is cancelled, and runs the deadline
// sweeper that forcibly reassigns tokens whose holder overstayed.
func (cp *ControlPlane) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return cp.ln.Close()
	})
	g.Go(func() error {
		cp.sweepLoop(ctx)
		return nil
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

func (cp *ControlPlane) sweepLoop(ctx context.Context) {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			cp.sweep()
		}
	}
}

func (cp *ControlPlane) sweep() {
	now := time.Now()
	var fired []*deadlineItem
	cp.mu.Lock()
	for cp.deadline.Len() > 0 && cp.deadline[0].fireAt.Before(now) {
		fired = append(fired, heap.Pop(&cp.deadline).(*deadlineItem))
	}
	cp.mu.Unlock()

	for _, it := range fired {
		cp.forceReassign(it)
	}
}

func (cp *ControlPlane) forceReassign(it *deadlineItem) {
	cp.mu.Lock()
	e, ok := cp.tokens[it.tokenID]
	if !ok || e.gen != it.gen || len(e.queue) == 0 {
		cp.mu.Unlock()
		return
	}
	w := e.queue[0]
	e.queue = e.queue[1:]
	cp.assignLocked(it.tokenID, e, w.threadID, w.peer)
	nlog.Warningf("token: force-reassigned token %d to thread %d after deadline", it.tokenID, w.threadID)
	cp.mu.Unlock()

	_ = w.peer.send(wireResponse{ReqID: w.reqID, Status: StatusSuccess, TokenID: it.tokenID})
}

// assignLocked makes threadID the owner of tokenID, bumps its generation,
// and — if other waiters remain — immediately marks the new owner as
// needing to return and arms the next deadline. Caller holds cp.mu.
func (cp *ControlPlane) assignLocked(tokenID uint64, e *entry, threadID uint32, ownerPeer *peer) {
	e.tok.owner.Store(threadID)
	for w := range e.tok.needWords {
		e.tok.needWords[w].Store(0)
	}
	e.gen++
	e.ownerPeer = ownerPeer
	if len(e.queue) > 0 {
		e.tok.setNeedReturn(threadID)
		heap.Push(&cp.deadline, &deadlineItem{
			fireAt:  time.Now().Add(ForceReassignDeadline),
			tokenID: tokenID,
			gen:     e.gen,
		})
	}
}

func (cp *ControlPlane) handleConn(conn net.Conn) {
	p := &peer{conn: conn}
	defer func() {
		cp.reclaim(p)
		conn.Close()
	}()
	for {
		var req wireRequest
		if err := binary.Read(conn, binary.LittleEndian, &req); err != nil {
			return
		}
		cp.dispatch(p, &req)
	}
}

func (cp *ControlPlane) dispatch(p *peer, req *wireRequest) {
	switch req.Type {
	case reqCreateToken:
		cp.handleCreate(p, req)
	case reqDestroyToken:
		cp.handleDestroy(p, req)
	case reqAcquire:
		cp.handleAcquire(p, req)
	case reqReturn:
		cp.handleReturn(p, req)
	}
}

func (cp *ControlPlane) handleCreate(p *peer, req *wireRequest) {
	cp.mu.Lock()
	if len(cp.freeOffs) == 0 {
		cp.mu.Unlock()
		_ = p.send(wireResponse{ReqID: req.ReqID, Status: StatusUnknownToken})
		return
	}
	off := cp.freeOffs[len(cp.freeOffs)-1]
	cp.freeOffs = cp.freeOffs[:len(cp.freeOffs)-1]

	cp.nextID++
	id := cp.nextID
	tok := (*Token)(cp.region.At(off))
	*tok = Token{id: id}
	tok.owner.Store(req.ThreadID)
	e := &entry{tok: tok, offset: off, ownerPeer: p}
	cp.tokens[id] = e
	cp.mu.Unlock()

	var name [nameFieldLen]byte
	n := putName(&name, cp.regionName)
	_ = p.send(wireResponse{
		ReqID:      req.ReqID,
		Status:     StatusSuccess,
		TokenID:    id,
		RegionSize: uint64(len(cp.region.Bytes())),
		Offset:     off,
		NameLen:    n,
		Name:       name,
	})
}

func (cp *ControlPlane) handleDestroy(p *peer, req *wireRequest) {
	cp.mu.Lock()
	e, ok := cp.tokens[req.TokenID]
	if ok {
		delete(cp.tokens, req.TokenID)
		cp.freeOffs = append(cp.freeOffs, e.offset)
		for _, w := range e.queue {
			_ = w.peer.send(wireResponse{ReqID: w.reqID, Status: StatusDropped, TokenID: req.TokenID})
		}
	}
	cp.mu.Unlock()
	status := StatusSuccess
	if !ok {
		status = StatusUnknownToken
	}
	_ = p.send(wireResponse{ReqID: req.ReqID, Status: status, TokenID: req.TokenID})
}

func (cp *ControlPlane) handleAcquire(p *peer, req *wireRequest) {
	cp.mu.Lock()
	e, ok := cp.tokens[req.TokenID]
	if !ok {
		cp.mu.Unlock()
		_ = p.send(wireResponse{ReqID: req.ReqID, Status: StatusUnknownToken, TokenID: req.TokenID})
		return
	}
	cur := e.tok.Owner()
	switch {
	case cur == 0, cur == req.ThreadID:
		cp.assignLocked(req.TokenID, e, req.ThreadID, p)
		cp.mu.Unlock()
		_ = p.send(wireResponse{ReqID: req.ReqID, Status: StatusSuccess, TokenID: req.TokenID})
	default:
		first := len(e.queue) == 0
		e.queue = append(e.queue, waiter{threadID: req.ThreadID, reqID: req.ReqID, peer: p})
		if first {
			e.tok.setNeedReturn(cur)
			heap.Push(&cp.deadline, &deadlineItem{
				fireAt:  time.Now().Add(ForceReassignDeadline),
				tokenID: req.TokenID,
				gen:     e.gen,
			})
		}
		cp.mu.Unlock()
		// response withheld until the token is actually handed over,
		// either by handleReturn or by a fired deadline.
	}
}

func (cp *ControlPlane) handleReturn(p *peer, req *wireRequest) {
	cp.mu.Lock()
	e, ok := cp.tokens[req.TokenID]
	if !ok {
		cp.mu.Unlock()
		_ = p.send(wireResponse{ReqID: req.ReqID, Status: StatusUnknownToken, TokenID: req.TokenID})
		return
	}
	if e.tok.Owner() != req.ThreadID {
		cp.mu.Unlock()
		_ = p.send(wireResponse{ReqID: req.ReqID, Status: StatusSuccess, TokenID: req.TokenID})
		return
	}
	var next *waiter
	if len(e.queue) > 0 {
		w := e.queue[0]
		e.queue = e.queue[1:]
		next = &w
		cp.assignLocked(req.TokenID, e, w.threadID, w.peer)
	} else {
		e.tok.owner.Store(0)
		e.ownerPeer = nil
		e.gen++
	}
	cp.mu.Unlock()

	_ = p.send(wireResponse{ReqID: req.ReqID, Status: StatusSuccess, TokenID: req.TokenID})
	if next != nil {
		_ = next.peer.send(wireResponse{ReqID: next.reqID, Status: StatusSuccess, TokenID: req.TokenID})
	}
}

// reclaim runs when a connection drops: any token it currently owns is
// handed to the next waiter (or freed), and any of its own pending
// Acquire waits are removed from the queues without a response (the
// connection is gone), mirroring shmem's reclaimProcess handling of peer
// death.
func (cp *ControlPlane) reclaim(p *peer) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	for id, e := range cp.tokens {
		e.queue = filterWaiters(e.queue, p)
		if e.ownerPeer == p {
			if len(e.queue) > 0 {
				w := e.queue[0]
				e.queue = e.queue[1:]
				cp.assignLocked(id, e, w.threadID, w.peer)
				go func(w waiter, tokenID uint64) {
					_ = w.peer.send(wireResponse{ReqID: w.reqID, Status: StatusSuccess, TokenID: tokenID})
				}(w, id)
			} else {
				e.tok.owner.Store(0)
				e.ownerPeer = nil
				e.gen++
			}
		}
	}
}

func filterWaiters(ws []waiter, dead *peer) []waiter {
	out := ws[:0]
	for _, w := range ws {
		if w.peer != dead {
			out = append(out, w)
		}
	}
	return out
}
