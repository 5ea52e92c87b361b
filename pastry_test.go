// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package ringleaf_test

import (
	"math/rand/v2"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/dhtlab/ringleaf"
	"github.com/dhtlab/ringleaf/internal/ident"
	"github.com/dhtlab/ringleaf/internal/wire"
)

// closestOf returns the member of infos numerically closest to key.
func closestOf(infos []ringleaf.NodeInfo, key ringleaf.Id) ringleaf.NodeInfo {
	best := infos[0]
	bestDist := ident.Distance(best.ID, key)
	for _, info := range infos[1:] {
		if d := ident.Distance(info.ID, key); d.Cmp(bestDist) < 0 {
			best, bestDist = info, d
		}
	}
	return best
}

// TestPastrySingleNode: a lone node owns the whole key space.
func TestPastrySingleNode(t *testing.T) {
	t.Parallel()

	a := newPastry(t)
	require.NoError(t, a.Insert("Toy Story", ringleaf.Value(`{"p":"80"}`)))

	val, hops, err := a.Lookup("Toy Story")
	require.NoError(t, err)
	require.JSONEq(t, `{"p":"80"}`, string(val))
	require.Equal(t, 0, hops)
	require.Equal(t, 1, a.Len())
}

// TestPastryDenseRouting: with full leaf sets every lookup resolves
// in at most three hops from any starting node.
func TestPastryDenseRouting(t *testing.T) {
	t.Parallel()

	nodes := buildMesh(t, 10)
	infos := make([]ringleaf.NodeInfo, len(nodes))
	for i, nd := range nodes {
		infos[i] = nd.Info()
	}

	titles := makeTitles(50, "dense")
	for i, title := range titles {
		require.NoError(t, nodes[0].Insert(title, record(i)))
	}
	require.Equal(t, len(titles), pastryTotal(nodes))

	for i, title := range titles {
		nd := nodes[rand.IntN(len(nodes))]
		val, hops, err := nd.Lookup(title)
		require.NoError(t, err)
		require.JSONEq(t, string(record(i)), string(val))
		require.LessOrEqual(t, hops, 3)
	}

	// Numeric responsibility: every entry sits on the closest node.
	for _, nd := range nodes {
		for _, e := range nd.Entries() {
			require.True(t, closestOf(infos, e.Key).Same(nd.Info()),
				"key %s misplaced on %s", e.Key, nd.Info().ID)
		}
	}
}

// TestPastryJoinHandoff: joining nodes pull exactly the entries they
// are now closest to, via the bootstrap protocol alone.
func TestPastryJoinHandoff(t *testing.T) {
	t.Parallel()

	a := newPastry(t)
	titles := makeTitles(40, "pjoin")
	for i, title := range titles {
		require.NoError(t, a.Insert(title, record(i)))
	}

	b := newPastry(t)
	require.NoError(t, b.Join(a.Info()))
	require.Equal(t, 40, a.Len()+b.Len())

	c := newPastry(t)
	require.NoError(t, c.Join(a.Info()))
	require.Equal(t, 40, a.Len()+b.Len()+c.Len())

	all := []*ringleaf.PastryNode{a, b, c}
	infos := []ringleaf.NodeInfo{a.Info(), b.Info(), c.Info()}
	for _, nd := range all {
		for _, e := range nd.Entries() {
			require.True(t, closestOf(infos, e.Key).Same(nd.Info()),
				"key %s misplaced on %s", e.Key, nd.Info().ID)
		}
	}

	// Every title resolves from every member.
	for _, nd := range all {
		for i, title := range titles {
			val, _, err := nd.Lookup(title)
			require.NoError(t, err)
			require.JSONEq(t, string(record(i)), string(val))
		}
	}

	// Mutual awareness: each node's leaf set covers the other two.
	for _, nd := range all {
		require.Len(t, nd.LeafSet(), 2)
	}
}

// TestPastryLeave: the departing node hands its entries to its
// nearest neighbor and the others drop it from their tables.
func TestPastryLeave(t *testing.T) {
	t.Parallel()

	a := newPastry(t)
	titles := makeTitles(40, "pleave")
	for i, title := range titles {
		require.NoError(t, a.Insert(title, record(i)))
	}
	b := newPastry(t)
	require.NoError(t, b.Join(a.Info()))
	c := newPastry(t)
	require.NoError(t, c.Join(a.Info()))
	require.Equal(t, 40, a.Len()+b.Len()+c.Len())

	receiver := c.LeafSet()[0]
	moved := c.Len()
	var recvNode *ringleaf.PastryNode
	for _, nd := range []*ringleaf.PastryNode{a, b} {
		if nd.Info().Same(receiver) {
			recvNode = nd
		}
	}
	require.NotNil(t, recvNode)
	before := recvNode.Len()

	require.NoError(t, c.Leave())

	// Entry count across live members is unchanged.
	require.Equal(t, 40, a.Len()+b.Len())
	require.Equal(t, before+moved, recvNode.Len())

	// Neighbors no longer list the departed node.
	for _, nd := range []*ringleaf.PastryNode{a, b} {
		for _, l := range nd.LeafSet() {
			require.False(t, l.Same(c.Info()))
		}
	}

	require.ErrorIs(t, c.Insert("late", record(0)), ringleaf.ErrBadState)
}

// TestRouteVerb drives the route command over the wire on a mesh: the
// owner of the key names itself without forwarding, any other member
// names a different peer to forward to.
func TestRouteVerb(t *testing.T) {
	t.Parallel()

	nodes := buildMesh(t, 4)
	key := ident.Hash("route probe")

	raw, err := wire.Call(nodes[0].Info().Addr(), "route",
		map[string]string{"key_hex": key.Hex()}, time.Second)
	require.NoError(t, err)

	var res struct {
		Node    ringleaf.NodeInfo `json:"node"`
		Forward bool              `json:"forward"`
	}
	require.NoError(t, json.Unmarshal(raw, &res))

	infos := make([]ringleaf.NodeInfo, len(nodes))
	for i, nd := range nodes {
		infos[i] = nd.Info()
	}
	owner := closestOf(infos, key)
	if owner.Same(nodes[0].Info()) {
		require.False(t, res.Forward)
		require.True(t, res.Node.Same(owner))
	} else {
		require.True(t, res.Forward)
		require.False(t, res.Node.Same(nodes[0].Info()))
	}
}

// TestPastryUpdateDelete: overwrite and point delete behave like the
// ring overlay's.
func TestPastryUpdateDelete(t *testing.T) {
	t.Parallel()

	nodes := buildMesh(t, 4)
	require.NoError(t, nodes[0].Insert("X", ringleaf.Value(`{"v":1}`)))
	require.NoError(t, nodes[3].Update("X", ringleaf.Value(`{"v":2}`)))

	val, _, err := nodes[1].Lookup("X")
	require.NoError(t, err)
	require.JSONEq(t, `{"v":2}`, string(val))
	require.Equal(t, 1, pastryTotal(nodes))

	require.NoError(t, nodes[2].Delete("X"))
	require.ErrorIs(t, nodes[1].Delete("X"), ringleaf.ErrNotFound)

	val, _, err = nodes[0].Lookup("X")
	require.NoError(t, err)
	require.True(t, len(val) == 0 || string(val) == "null")
}

// TestLeafSetTruncation: the leaf set keeps only the configured
// number of numerically closest peers, nearest first.
func TestLeafSetTruncation(t *testing.T) {
	t.Parallel()

	n := newPastry(t) // default leaf set size
	peers := make([]ringleaf.NodeInfo, 0, 9)
	for i := 0; i < 9; i++ {
		peers = append(peers, newPastry(t).Info())
	}
	n.SetLeafSet(peers)

	ls := n.LeafSet()
	require.Len(t, ls, ringleaf.DefaultLeafSetSize)

	// Nearest first, and no dropped peer is closer than a kept one.
	self := n.Info().ID
	for i := 1; i < len(ls); i++ {
		di := ident.Distance(ls[i-1].ID, self)
		dj := ident.Distance(ls[i].ID, self)
		require.LessOrEqual(t, di.Cmp(dj), 0)
	}
	worst := ident.Distance(ls[len(ls)-1].ID, self)
	for _, p := range peers {
		kept := false
		for _, l := range ls {
			if l.Same(p) {
				kept = true
			}
		}
		if !kept {
			require.GreaterOrEqual(t, ident.Distance(p.ID, self).Cmp(worst), 0)
		}
	}
}
