package graph_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/omnistack/omnistack/graph"
)

var _ = Describe("Partition", func() {
	// nodes: 0=IoNode(core0) 1=EthRecver(core0) 2=Ipv4Recver(core1)
	// 3=UdpRecver(core1) -- link 0->1 and 2->3 local, 1->2 remote.
	newMixedGraph := func() *graph.Graph {
		return &graph.Graph{
			NodeNames:   []string{"IoNode", "EthRecver", "Ipv4Recver", "UdpRecver"},
			SubGraphIDs: []int{0, 0, 1, 1},
			Links: []graph.Link{
				{Src: 0, Dst: 1},
				{Src: 1, Dst: 2},
				{Src: 2, Dst: 3},
			},
		}
	}

	It("partitions local links onto their shared sub-graph", func() {
		g := newMixedGraph()
		subs, err := graph.Partition(g)
		Expect(err).NotTo(HaveOccurred())
		Expect(subs[0].LocalLinks).To(ConsistOf(graph.Link{Src: 0, Dst: 1}))
		Expect(subs[1].LocalLinks).To(ConsistOf(graph.Link{Src: 2, Dst: 3}))
	})

	It("classifies a cross-core link as remote on both endpoints", func() {
		g := newMixedGraph()
		subs, err := graph.Partition(g)
		Expect(err).NotTo(HaveOccurred())
		Expect(subs[0].RemoteLinks).To(ConsistOf(graph.Link{Src: 1, Dst: 2}))
		Expect(subs[1].RemoteLinks).To(ConsistOf(graph.Link{Src: 1, Dst: 2}))
	})

	It("accounts for every link once per sub-graph it touches (spec property 4)", func() {
		g := newMixedGraph()
		subs, err := graph.Partition(g)
		Expect(err).NotTo(HaveOccurred())
		Expect(graph.VerifyPartition(g, subs)).To(BeTrue())
	})

	It("rejects a group that mixes links from different upstream nodes", func() {
		g := newMixedGraph()
		g.MutexGroups = []graph.Group{{LinkIdx: []int{0, 1}}}
		Expect(g.Validate()).To(HaveOccurred())
	})

	It("translates a mutex group's link indices into the sub-graph's local space", func() {
		g := &graph.Graph{
			NodeNames:   []string{"Upstream", "A", "B"},
			SubGraphIDs: []int{0, 0, 0},
			Links: []graph.Link{
				{Src: 0, Dst: 1},
				{Src: 0, Dst: 2},
			},
			MutexGroups: []graph.Group{{LinkIdx: []int{0, 1}}},
		}
		subs, err := graph.Partition(g)
		Expect(err).NotTo(HaveOccurred())
		Expect(subs[0].MutexGroups).To(HaveLen(1))
		Expect(subs[0].MutexGroups[0].LinkIdx).To(ConsistOf(0, 1))
	})
})
