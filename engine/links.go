package engine

import (
	"fmt"
	"sort"

	"github.com/omnistack/omnistack/graph"
	"github.com/omnistack/omnistack/module"
)

// combinedLink addresses one link in sg.LocalLinks ∪ sg.RemoteLinks, the
// same flat index space graph.Partition already uses for group
// translation (spec.md §4.6).
type combinedLink struct {
	link   graph.Link
	remote bool
}

func combinedLinks(sg *graph.SubGraph) []combinedLink {
	out := make([]combinedLink, 0, len(sg.LocalLinks)+len(sg.RemoteLinks))
	for _, l := range sg.LocalLinks {
		out = append(out, combinedLink{link: l})
	}
	for _, l := range sg.RemoteLinks {
		out = append(out, combinedLink{link: l, remote: true})
	}
	return out
}

// wireLinks implements spec.md §4.7 steps 4-6: build each local
// module's downstream edge list (local ids extended with synthetic
// remote ids), sort it per the fan-out comparator, ask each downstream
// module for its filter, and fold in the sub-graph's filter groups. No
// default next-hop mask is stored; forwardChain computes the mask per
// packet.
func (e *Engine) wireLinks(g *graph.Graph, sg *graph.SubGraph) error {
	links := combinedLinks(sg)

	for ci, cl := range links {
		fromLocal, ok := e.localByGlobalID(cl.link.Src)
		if !ok {
			continue // this sub-graph only builds edges for its own local upstream nodes
		}
		lm := e.modules[fromLocal]

		var edge downstreamEdge
		edge.toGlobalID = cl.link.Dst
		edge.combinedIdx = ci
		if cl.remote {
			edge.remote = true
			edge.filter = nil // remote fan-out is unconditional; spec.md §4.7 routing "reserved"
		} else {
			toLocal, ok := e.localByGlobalID(cl.link.Dst)
			if !ok {
				return fmt.Errorf("engine: local link %v has no local destination module", cl.link)
			}
			edge.toLocal = toLocal
			to := e.modules[toLocal]
			edge.filter = to.mod.GetFilter(uint32(module.HashName(lm.name)), lm.globalID)
		}
		lm.downstream = append(lm.downstream, edge)
	}

	// combinedIdxToEdge[upstreamLocalIdx][combinedIdx] lets the group
	// translation pass below look up the bit/filter assigned to a
	// group's member links; built after sorting, since sorting moves
	// edges between slice slots.
	combinedIdxToEdge := make([]map[int]*downstreamEdge, len(e.modules))
	for i, lm := range e.modules {
		sortDownstream(lm, e)
		combinedIdxToEdge[i] = make(map[int]*downstreamEdge, len(lm.downstream))
		for j := range lm.downstream {
			combinedIdxToEdge[i][lm.downstream[j].combinedIdx] = &lm.downstream[j]
		}
	}

	e.buildFilterGroups(sg.MutexGroups, module.Mutex, combinedIdxToEdge, links)
	e.buildFilterGroups(sg.EqualGroups, module.Equal, combinedIdxToEdge, links)

	for _, lm := range e.modules {
		grouped := make(map[uint32]bool)
		for _, grp := range lm.filterGroups {
			for _, edge := range grp.Edges {
				grouped[edge.Bit] = true
			}
		}
		for _, de := range lm.downstream {
			if !grouped[de.bit] {
				lm.ungrouped = append(lm.ungrouped, module.Edge{Bit: de.bit, Filter: de.filter})
			}
		}
	}
	return nil
}

// sortDownstream implements spec.md §4.7 step 5's comparator: ReadOnly
// local neighbors first, then other local neighbors, remote last
// (resolving the expanded spec's Open Question #4 with sort.SliceStable
// in place of the source's bubble sort), then assigns each edge its bit
// position as its index in the sorted order.
func sortDownstream(lm *localMod, e *Engine) {
	rank := func(edge downstreamEdge) int {
		switch {
		case edge.remote:
			return 2
		case e.modules[edge.toLocal].readOnly:
			return 0
		default:
			return 1
		}
	}
	sort.SliceStable(lm.downstream, func(i, j int) bool {
		return rank(lm.downstream[i]) < rank(lm.downstream[j])
	})
	for i := range lm.downstream {
		lm.downstream[i].bit = uint32(i)
	}
}

// buildFilterGroups translates a sub-graph's declared groups (indexed
// into the flat local+remote link space) into module.FilterGroups
// attached to each group's upstream module, using the bit/filter already
// assigned to each member edge by sortDownstream.
func (e *Engine) buildFilterGroups(groups []graph.Group, kind module.GroupKind, combinedIdxToEdge []map[int]*downstreamEdge, links []combinedLink) {
	for _, grp := range groups {
		if len(grp.LinkIdx) == 0 {
			continue
		}
		upstreamGlobal := links[grp.LinkIdx[0]].link.Src
		fromLocal, ok := e.localByGlobalID(upstreamGlobal)
		if !ok {
			continue
		}
		edges := make([]module.Edge, 0, len(grp.LinkIdx))
		for _, ci := range grp.LinkIdx {
			de, ok := combinedIdxToEdge[fromLocal][ci]
			if !ok {
				continue
			}
			edges = append(edges, module.Edge{Bit: de.bit, Filter: de.filter})
		}
		lm := e.modules[fromLocal]
		lm.filterGroups = append(lm.filterGroups, module.NewFilterGroup(kind, edges))
	}
}
