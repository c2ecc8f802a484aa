// Package hk is a minimal periodic-task registrar used by the control
// planes (never by an engine's own hot path, which is a strictly
// non-blocking cooperative loop per spec.md §5).
/*
 * Copyright (c) 2024, OmniStack authors.
 */
package hk

import (
	"container/heap"
	"sync"
	"time"

	"github.com/omnistack/omnistack/cmn/mono"
	"github.com/omnistack/omnistack/cmn/nlog"
)

// NameSuffix mirrors the teacher's convention of suffixing housekeeping
// job names with the package that registered them, so log lines and
// panics are traceable to a call site.
const NameSuffix = "-hk"

// Func is a housekeeping callback. It returns the delay until it should
// run again; returning <= 0 unregisters it.
type Func func() time.Duration

type job struct {
	name     string
	fn       Func
	nextFire int64 // mono.NanoTime units
	index    int
}

type jobHeap []*job

func (h jobHeap) Len() int            { return len(h) }
func (h jobHeap) Less(i, j int) bool  { return h[i].nextFire < h[j].nextFire }
func (h jobHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *jobHeap) Push(x any)         { j := x.(*job); j.index = len(*h); *h = append(*h, j) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return j
}

type housekeeper struct {
	mu      sync.Mutex
	byName  map[string]*job
	heap    jobHeap
	wake    chan struct{}
	startOn sync.Once
}

var hk = &housekeeper{byName: make(map[string]*job), wake: make(chan struct{}, 1)}

// Reg registers a periodic callback. If interval is zero, fn's own return
// value drives the schedule (it is called once immediately, then again
// after whatever duration it returns).
func Reg(name string, fn Func, interval time.Duration) {
	hk.startOn.Do(hk.run)

	hk.mu.Lock()
	j := &job{name: name, fn: fn, nextFire: mono.NanoTime()}
	if interval > 0 {
		first := fn
		j.fn = func() time.Duration { first(); return interval }
	}
	hk.byName[name] = j
	heap.Push(&hk.heap, j)
	hk.mu.Unlock()

	select {
	case hk.wake <- struct{}{}:
	default:
	}
}

// Unreg removes a previously registered job; a no-op if it already fired
// its terminal (<=0) return value or was never registered.
func Unreg(name string) {
	hk.mu.Lock()
	defer hk.mu.Unlock()
	j, ok := hk.byName[name]
	if !ok {
		return
	}
	delete(hk.byName, name)
	if j.index >= 0 && j.index < len(hk.heap) {
		heap.Remove(&hk.heap, j.index)
	}
}

func (h *housekeeper) run() {
	go func() {
		for {
			h.mu.Lock()
			var wait time.Duration
			if len(h.heap) == 0 {
				wait = time.Hour
			} else {
				next := h.heap[0].nextFire
				wait = time.Duration(next - mono.NanoTime())
				if wait < 0 {
					wait = 0
				}
			}
			h.mu.Unlock()

			select {
			case <-time.After(wait):
			case <-h.wake:
			}
			h.tick()
		}
	}()
}

func (h *housekeeper) tick() {
	now := mono.NanoTime()
	for {
		h.mu.Lock()
		if len(h.heap) == 0 || h.heap[0].nextFire > now {
			h.mu.Unlock()
			return
		}
		j := heap.Pop(&h.heap).(*job)
		delete(h.byName, j.name)
		h.mu.Unlock()

		delay := safeCall(j)
		if delay <= 0 {
			continue
		}
		j.nextFire = mono.NanoTime() + int64(delay)
		h.mu.Lock()
		h.byName[j.name] = j
		heap.Push(&h.heap, j)
		h.mu.Unlock()
	}
}

func safeCall(j *job) (delay time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			nlog.Errorf("hk: job %q panicked: %v", j.name, r)
			delay = 0
		}
	}()
	return j.fn()
}
