package graph

// SubGraph is the projection of a Graph onto one sub-graph id (spec.md
// §4.6): the nodes assigned to that id, local links (both endpoints
// local), remote links (exactly one endpoint local), and per-upstream-node
// mutex/equal groupings restricted to this sub-graph's links.
type SubGraph struct {
	ID          int
	LocalNodes  []int // node indices into the parent Graph, assigned to ID
	LocalLinks  []Link
	RemoteLinks []Link // exactly one endpoint local to ID

	// MutexGroups/EqualGroups index into LocalLinks ∪ RemoteLinks,
	// where RemoteLinks are addressed starting at len(LocalLinks).
	MutexGroups []Group
	EqualGroups []Group
}

// Partition materializes one SubGraph per distinct sub-graph id in g.
// Invariant checked by the caller via VerifyPartition: a link within one
// sub-graph appears exactly once, as a local link; a link between two
// sub-graphs appears once in each endpoint sub-graph's remote set.
func Partition(g *Graph) (map[int]*SubGraph, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	subs := make(map[int]*SubGraph)
	get := func(id int) *SubGraph {
		s, ok := subs[id]
		if !ok {
			s = &SubGraph{ID: id}
			subs[id] = s
		}
		return s
	}
	for i, id := range g.SubGraphIDs {
		get(id).LocalNodes = append(get(id).LocalNodes, i)
	}

	// localIdx[sgID][linkIdx] tells us where a link landed within that
	// sub-graph's LocalLinks/RemoteLinks, for translating groups below.
	type placement struct {
		sgID    int
		idx     int // index within LocalLinks or RemoteLinks
		inLocal bool
	}
	placements := make([]placement, len(g.Links))

	for i, l := range g.Links {
		srcID, dstID := g.SubGraphIDs[l.Src], g.SubGraphIDs[l.Dst]
		if srcID == dstID {
			s := get(srcID)
			placements[i] = placement{sgID: srcID, idx: len(s.LocalLinks), inLocal: true}
			s.LocalLinks = append(s.LocalLinks, l)
			continue
		}
		// remote: appears in both endpoints' sub-graphs as a remote
		// link, each owning its own translated group membership.
		sSrc := get(srcID)
		sSrc.RemoteLinks = append(sSrc.RemoteLinks, l)
		sDst := get(dstID)
		sDst.RemoteLinks = append(sDst.RemoteLinks, l)
		placements[i] = placement{sgID: srcID, idx: len(sSrc.RemoteLinks) - 1, inLocal: false}
	}

	translate := func(groups []Group) map[int][]Group {
		out := make(map[int][]Group)
		for _, grp := range groups {
			if len(grp.LinkIdx) == 0 {
				continue
			}
			// every link in a group shares an upstream node (enforced
			// by Validate), so they all land in the same sub-graph.
			sgID := placements[grp.LinkIdx[0]].sgID
			var translated Group
			for _, li := range grp.LinkIdx {
				pl := placements[li]
				idx := pl.idx
				if !pl.inLocal {
					s := get(sgID)
					idx = len(s.LocalLinks) + pl.idx
				}
				translated.LinkIdx = append(translated.LinkIdx, idx)
			}
			out[sgID] = append(out[sgID], translated)
		}
		return out
	}
	for id, grps := range translate(g.MutexGroups) {
		get(id).MutexGroups = grps
	}
	for id, grps := range translate(g.EqualGroups) {
		get(id).EqualGroups = grps
	}
	return subs, nil
}

// VerifyPartition checks spec.md §8 testable property 4: every link in g
// is accounted for across the sub-graphs' local+remote sets, once if it is
// local and once per endpoint sub-graph if it crosses sub-graphs.
func VerifyPartition(g *Graph, subs map[int]*SubGraph) bool {
	counts := make([]int, len(g.Links))
	for _, s := range subs {
		for _, l := range s.LocalLinks {
			counts[indexOfLink(g.Links, l)]++
		}
		for _, l := range s.RemoteLinks {
			counts[indexOfLink(g.Links, l)]++
		}
	}
	for i, l := range g.Links {
		srcID, dstID := g.SubGraphIDs[l.Src], g.SubGraphIDs[l.Dst]
		want := 1
		if srcID != dstID {
			want = 2 // counted once per endpoint sub-graph, both remote
		}
		if counts[i] != want {
			return false
		}
	}
	return true
}

func indexOfLink(links []Link, l Link) int {
	for i, x := range links {
		if x == l {
			return i
		}
	}
	return -1
}
