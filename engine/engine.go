// Package engine implements the per-core cooperative dataplane loop of
// spec.md §4.7: one OS thread pinned to one CPU core, running a graph of
// modules compiled from a graph.SubGraph.
/*
 * Copyright (c) 2024, OmniStack authors.
 */
package engine

import (
	"sync"
	"sync/atomic"

	"github.com/omnistack/omnistack/cmn/nlog"
	"github.com/omnistack/omnistack/graph"
	"github.com/omnistack/omnistack/module"
	"github.com/omnistack/omnistack/packet"
	"github.com/omnistack/omnistack/sys"
)

// downstreamEdge is one outgoing link from a local module, resolved at
// init time into either another local module or a remote sub-graph
// (spec.md §4.7 step 4).
type downstreamEdge struct {
	bit        uint32
	filter     module.Filter
	remote     bool
	toLocal    int // valid index into Engine.modules when !remote
	toGlobalID int // global node index of the destination, always set

	combinedIdx int // this edge's position in wireLinks' flat local+remote link list
}

// localMod is one module instance local to this engine, plus everything
// computed about it during Init.
type localMod struct {
	mod        module.Module
	name       string
	globalID   int
	readOnly   bool
	hasTimer   bool
	downstream []downstreamEdge

	filterGroups []*module.FilterGroup
	ungrouped    []module.Edge
}

type queueEntry struct {
	localIdx int
	pkt      *packet.Packet
}

// Engine is spec.md §4.7's per-core engine.
type Engine struct {
	coreID     int
	namePrefix string
	pool       *packet.Pool

	modules       []*localMod
	globalToLocal map[int]int // global node index -> index into modules
	byEventType   map[module.EventType][]int
	timerMods     []int
	nodeUserIdx   int // index into modules of the "NodeUser" module, -1 if none

	queue []queueEntry // LIFO work queue drained each loop iteration

	inboxMu sync.Mutex
	inbox   []queueEntry // cross-goroutine submissions (node.ComSink), drained at loop top

	stopped atomic.Bool
}

// Init builds an Engine from g/sg per spec.md §4.7 steps 1-11: pin the
// calling thread to coreID, create a named packet pool, instantiate every
// local module, wire up downstream/upstream links and filters, and call
// Initialize on each module.
func Init(g *graph.Graph, sg *graph.SubGraph, coreID int, namePrefix string) (*Engine, error) {
	if err := sys.PinThread(coreID); err != nil {
		return nil, err
	}

	pool, err := packet.NewPool(namePrefix, packetPoolCapacity)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		coreID:        coreID,
		namePrefix:    namePrefix,
		pool:          pool,
		globalToLocal: make(map[int]int, len(sg.LocalNodes)),
		byEventType:   make(map[module.EventType][]int),
		nodeUserIdx:   -1,
	}

	for i, gid := range sg.LocalNodes {
		mod, err := module.New(g.NodeNames[gid])
		if err != nil {
			return nil, err
		}
		e.globalToLocal[gid] = i
		e.modules = append(e.modules, &localMod{mod: mod, name: g.NodeNames[gid], globalID: gid, readOnly: mod.Type() == module.ReadOnly})
		if g.NodeNames[gid] == "NodeUser" {
			e.nodeUserIdx = i
		}
	}

	if err := e.wireLinks(g, sg); err != nil {
		return nil, err
	}

	for i, lm := range e.modules {
		lm.mod.SetRaiseEvent(e.raiseEvent)
		if err := lm.mod.Initialize(namePrefix, pool); err != nil {
			return nil, err
		}
		for _, et := range lm.mod.RegisterEvents() {
			e.byEventType[et] = append(e.byEventType[et], i)
		}
		if lm.mod.HasTimer() {
			lm.hasTimer = true
			e.timerMods = append(e.timerMods, i)
		}
	}

	nlog.Infof("engine: core %d initialized %d modules from prefix %q", coreID, len(e.modules), namePrefix)
	return e, nil
}

// packetPoolCapacity sizes the per-engine pool; generous enough for the
// scenario tests in spec.md §8 without needing runtime resizing (the pool
// has none, per spec.md §4.4).
const packetPoolCapacity = 4096

// Stop sets the loop-exit flag; Run returns after finishing its current
// iteration and tearing down modules in reverse order (spec.md §4.7
// Stop).
func (e *Engine) Stop() { e.stopped.Store(true) }

func (e *Engine) destroy() {
	for i := len(e.modules) - 1; i >= 0; i-- {
		e.modules[i].mod.Destroy()
	}
	e.pool.Destroy()
}

func (e *Engine) localByGlobalID(gid int) (int, bool) {
	idx, ok := e.globalToLocal[gid]
	return idx, ok
}
