package module

import "github.com/omnistack/omnistack/packet"

// Edge is one outgoing link from a module, carrying the bit position it
// occupies in the owning module's next_hop_filter mask (spec.md §4.5
// "Each edge carries a bitmask position (up to 32 edges per module)").
type Edge struct {
	Bit    uint32
	Filter Filter
}

// GroupKind classifies how a FilterGroup picks edges for a given packet.
type GroupKind uint8

const (
	// Mutex: at most one filter in the group may return true.
	Mutex GroupKind = iota
	// Equal: exactly one edge fires per packet, chosen round-robin.
	Equal
)

// FilterGroup is one declared grouping of a module's outgoing edges
// (spec.md §4.5 "Filter groups"). Ungrouped edges are not represented as
// groups; they are passed to ApplyDownstreamFilters as a separate Edge
// list and each is evaluated independently.
type FilterGroup struct {
	Kind  GroupKind
	Edges []Edge

	universeMask uint32 // OR of every edge's bit in this group
	rotate       int    // mutex group's rotating start index
	roundRobin   int    // equal group's round-robin cursor
}

// NewFilterGroup builds a group and precomputes its universe mask, the
// quantity spec.md's RegisterDownstreamFilters uses to build each edge's
// complement mask.
func NewFilterGroup(kind GroupKind, edges []Edge) *FilterGroup {
	g := &FilterGroup{Kind: kind, Edges: edges}
	for _, e := range edges {
		g.universeMask |= 1 << e.Bit
	}
	return g
}

// Select evaluates the group against p and returns the bitmask of edges
// that fire, per spec.md §4.5:
//
//   - Mutex: filters are tried starting from a rotating index (amortizing
//     worst case); the first to return true fires and the rest are
//     skipped.
//   - Equal: exactly one edge fires, chosen round-robin regardless of
//     what any filter returns — the group's contract is that the graph
//     declared these edges as interchangeable.
//
// This is the "clearly intended" behavior of the source's buggy
// i/j-mismatched RegisterDownstreamFilters: each selected edge contributes
// only its own bit, computed directly, not via the source's
// universe-mask XOR trick.
func (g *FilterGroup) Select(p *packet.Packet) uint32 {
	if len(g.Edges) == 0 {
		return 0
	}
	switch g.Kind {
	case Mutex:
		return g.selectMutex(p)
	case Equal:
		return g.selectEqual()
	default:
		return 0
	}
}

func (g *FilterGroup) selectMutex(p *packet.Packet) uint32 {
	n := len(g.Edges)
	start := g.rotate % n
	g.rotate = (g.rotate + 1) % n
	for i := 0; i < n; i++ {
		e := g.Edges[(start+i)%n]
		if e.Filter == nil || e.Filter(p) {
			return 1 << e.Bit
		}
	}
	return 0
}

func (g *FilterGroup) selectEqual() uint32 {
	n := len(g.Edges)
	e := g.Edges[g.roundRobin%n]
	g.roundRobin = (g.roundRobin + 1) % n
	return 1 << e.Bit
}

// ApplyDownstreamFilters evaluates every group plus every ungrouped edge
// against p and ORs their selections into a next_hop_filter mask
// (spec.md §4.5 "apply_downstream_filters converts the set of selected
// edges into the packet's next_hop_filter bitmask").
func ApplyDownstreamFilters(groups []*FilterGroup, ungrouped []Edge, p *packet.Packet) uint32 {
	var mask uint32
	for _, g := range groups {
		mask |= g.Select(p)
	}
	for _, e := range ungrouped {
		if e.Filter == nil || e.Filter(p) {
			mask |= 1 << e.Bit
		}
	}
	return mask
}
