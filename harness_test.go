// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package ringleaf_test

import (
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dhtlab/ringleaf"
)

// newChord starts a loopback chord node and ties its lifetime to the
// test.
func newChord(t *testing.T, opts ...ringleaf.Option) *ringleaf.ChordNode {
	t.Helper()
	n, err := ringleaf.NewChordNode("127.0.0.1", 0, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

// newPastry starts a loopback pastry node and ties its lifetime to
// the test.
func newPastry(t *testing.T, opts ...ringleaf.Option) *ringleaf.PastryNode {
	t.Helper()
	n, err := ringleaf.NewPastryNode("127.0.0.1", 0, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

// buildRing starts n chord nodes and wires successor, predecessor and
// every finger from global knowledge, the externally-wired
// initialization a benchmark harness uses. The returned slice is
// sorted by ring position.
func buildRing(t *testing.T, n int) []*ringleaf.ChordNode {
	t.Helper()

	nodes := make([]*ringleaf.ChordNode, 0, n)
	for i := 0; i < n; i++ {
		nodes = append(nodes, newChord(t))
	}
	slices.SortFunc(nodes, func(a, b *ringleaf.ChordNode) int {
		return a.Info().ID.Cmp(b.Info().ID)
	})

	infos := ringInfos(nodes)
	for i, nd := range nodes {
		nd.SetSuccessor(infos[(i+1)%n])
		nd.SetPredecessor(infos[(i+n-1)%n])
		self := infos[i].ID
		for j := 0; j < 160; j++ {
			nd.SetFinger(j, ringOwner(infos, self.FingerStart(j)))
		}
	}
	return nodes
}

func ringInfos(nodes []*ringleaf.ChordNode) []ringleaf.NodeInfo {
	infos := make([]ringleaf.NodeInfo, len(nodes))
	for i, nd := range nodes {
		infos[i] = nd.Info()
	}
	return infos
}

// ringOwner returns the successor of key over the sorted infos.
func ringOwner(infos []ringleaf.NodeInfo, key ringleaf.Id) ringleaf.NodeInfo {
	for _, info := range infos {
		if key.Cmp(info.ID) <= 0 {
			return info
		}
	}
	return infos[0]
}

// buildMesh starts n pastry nodes whose leaf sets and routing tables
// are seeded with every other node.
func buildMesh(t *testing.T, n int) []*ringleaf.PastryNode {
	t.Helper()

	nodes := make([]*ringleaf.PastryNode, 0, n)
	for i := 0; i < n; i++ {
		nodes = append(nodes, newPastry(t, ringleaf.WithLeafSetSize(n-1)))
	}
	infos := make([]ringleaf.NodeInfo, len(nodes))
	for i, nd := range nodes {
		infos[i] = nd.Info()
	}
	for _, nd := range nodes {
		nd.SetLeafSet(infos)
	}
	return nodes
}

// makeTitles returns n distinct record titles.
func makeTitles(n int, prefix string) []string {
	titles := make([]string, n)
	for i := range titles {
		titles[i] = fmt.Sprintf("%s-%04d", prefix, i)
	}
	return titles
}

// record builds the JSON value stored under a title.
func record(popularity int) ringleaf.Value {
	return ringleaf.Value(fmt.Sprintf(`{"popularity":%d}`, popularity))
}

// chordTotal sums the entries owned across ring members.
func chordTotal(nodes []*ringleaf.ChordNode) int {
	total := 0
	for _, nd := range nodes {
		total += nd.Len()
	}
	return total
}

// pastryTotal sums the entries owned across mesh members.
func pastryTotal(nodes []*ringleaf.PastryNode) int {
	total := 0
	for _, nd := range nodes {
		total += nd.Len()
	}
	return total
}
