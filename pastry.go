// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package ringleaf

import (
	"sort"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dhtlab/ringleaf/internal/ident"
)

// maxRouteHops bounds recursive routing; a query that exceeds it is
// answered defensively by the current node. Stale tables can route in
// circles, the bound keeps such queries finite.
const maxRouteHops = 50

// routeCols is the number of digit values per routing table row.
const routeCols = 16

// PastryNode is one member of the prefix overlay. It tracks a leaf
// set of the numerically nearest neighbors and a routing table of
// prefix rows: row r holds one candidate per hex digit sharing r
// leading digits with this node and differing in the next.
//
// Responsibility is numeric: the owner of a key is the live node
// whose id minimizes |id - key|.
type PastryNode struct {
	*core

	mu     sync.RWMutex
	leaves []NodeInfo // sorted by |id - self.id|, at most leafSetSize
	table  [ident.HexDigits][routeCols]*NodeInfo
}

// NewPastryNode starts a node listening on (host, port). The node
// comes up alone, owning the whole key space, and is Active
// immediately; Join moves it into an existing overlay.
func NewPastryNode(host string, port int, opts ...Option) (*PastryNode, error) {
	c, err := newCore(host, port, opts)
	if err != nil {
		return nil, err
	}
	n := &PastryNode{core: c}

	c.handle(cmdRoute, n.handleRoute)
	c.handle(cmdLookupRecursive, n.handleLookupRecursive)
	c.handle(cmdGetLeafSet, n.handleGetLeafSet)
	c.handle(cmdUpdateLeafSet, n.handleUpdateLeafSet)
	c.handle(cmdTransferCloser, n.handleTransferCloser)
	c.handle(cmdRemovePeer, n.handleRemovePeer)
	c.handle(cmdInsertLocal, n.handleInsertLocal)
	c.handle(cmdUpdate, n.handleInsertLocal)
	c.handle(cmdLookupLocal, n.handleLookupLocal)
	c.handle(cmdDeleteLocal, n.handleDeleteLocal)

	c.start()
	c.setState(stateActive)
	c.log.Info("pastry node up")
	return n, nil
}

// LeafSet returns a copy of the leaf set, nearest neighbor first.
func (n *PastryNode) LeafSet() []NodeInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]NodeInfo(nil), n.leaves...)
}

// SetLeafSet wires the leaf set directly from global knowledge,
// keeping the configured number of numerically closest peers. Used by
// harnesses that bypass the join protocol.
func (n *PastryNode) SetLeafSet(peers []NodeInfo) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.leaves = n.leaves[:0]
	for _, p := range peers {
		n.incorporateLocked(p)
	}
}

// incorporateLocked merges one peer into the leaf set and the routing
// table. Callers hold n.mu.
func (n *PastryNode) incorporateLocked(p NodeInfo) {
	if p.IsZero() || p.Same(n.self) {
		return
	}
	for _, l := range n.leaves {
		if l.Same(p) {
			return
		}
	}
	n.leaves = append(n.leaves, p)
	sort.SliceStable(n.leaves, func(i, j int) bool {
		di := ident.Distance(n.leaves[i].ID, n.self.ID)
		dj := ident.Distance(n.leaves[j].ID, n.self.ID)
		return di.Cmp(dj) < 0
	})
	if len(n.leaves) > n.opts.leafSetSize {
		n.leaves = n.leaves[:n.opts.leafSetSize]
	}

	// File the peer into its prefix row regardless of leaf set
	// membership; the slot keeps the first candidate seen.
	row := ident.PrefixLen(p.ID, n.self.ID)
	if row < ident.HexDigits {
		col := p.ID.HexDigit(row)
		if n.table[row][col] == nil {
			peer := p
			n.table[row][col] = &peer
		}
	}
}

// dropPeerLocked removes one peer from the leaf set and the routing
// table. Callers hold n.mu.
func (n *PastryNode) dropPeerLocked(p NodeInfo) {
	for i, l := range n.leaves {
		if l.Same(p) {
			n.leaves = append(n.leaves[:i], n.leaves[i+1:]...)
			break
		}
	}
	row := ident.PrefixLen(p.ID, n.self.ID)
	if row < ident.HexDigits {
		col := p.ID.HexDigit(row)
		if e := n.table[row][col]; e != nil && e.Same(p) {
			n.table[row][col] = nil
		}
	}
}

// route picks the next hop for key. The numerically closest member of
// the leaf set (including this node) wins outright when it is this
// node; otherwise a peer with a strictly longer shared prefix is
// preferred, ties broken by numeric distance, and the leaf-set winner
// is the fallback.
func (n *PastryNode) route(key Id) routeResult {
	n.mu.RLock()
	defer n.mu.RUnlock()

	best := n.self
	bestDist := ident.Distance(n.self.ID, key)
	for _, l := range n.leaves {
		if d := ident.Distance(l.ID, key); d.Cmp(bestDist) < 0 {
			best, bestDist = l, d
		}
	}
	if best.Same(n.self) {
		return routeResult{Node: n.self, Forward: false}
	}

	// Prefix refinement: any known peer whose hex-prefix match with
	// the key strictly exceeds ours is a better hop than plain
	// numeric proximity.
	myLen := ident.PrefixLen(n.self.ID, key)
	improved, improvedLen := NodeInfo{}, myLen
	var improvedDist = bestDist
	consider := func(p NodeInfo) {
		pl := ident.PrefixLen(p.ID, key)
		if pl < improvedLen {
			return
		}
		d := ident.Distance(p.ID, key)
		if pl > improvedLen || d.Cmp(improvedDist) < 0 {
			improved, improvedLen, improvedDist = p, pl, d
		}
	}
	for _, l := range n.leaves {
		consider(l)
	}
	for row := myLen; row < ident.HexDigits; row++ {
		for col := 0; col < routeCols; col++ {
			if e := n.table[row][col]; e != nil {
				consider(*e)
			}
		}
	}
	if improvedLen > myLen && !improved.IsZero() {
		return routeResult{Node: improved, Forward: true}
	}
	return routeResult{Node: best, Forward: true}
}

// lookupRecursive resolves the owner of key, forwarding hop by hop
// until the local leaf set proves ownership or the hop bound is hit.
func (n *PastryNode) lookupRecursive(key Id, hops int) nodeHopsResult {
	if hops >= maxRouteHops {
		n.log.Warn("hop bound exceeded", zap.Stringer("key", key))
		return nodeHopsResult{Node: n.self, Hops: hops}
	}
	res := n.route(key)
	if !res.Forward {
		return nodeHopsResult{Node: n.self, Hops: hops}
	}
	var out nodeHopsResult
	args := lookupRecursiveArgs{KeyHex: key.Hex(), Hops: hops + 1}
	if err := n.call(res.Node, cmdLookupRecursive, args, &out); err != nil {
		n.log.Debug("route forward failed", zap.Stringer("next", res.Node.ID), zap.Error(err))
		return nodeHopsResult{Node: n.self, Hops: hops}
	}
	return out
}

// Join seeds this node's tables from bootstrap: the bootstrap's leaf
// set plus the bootstrap itself become candidates, the numerically
// closest survive, every neighbor is told about the newcomer, and
// entries the newcomer now owns are pulled over. A failed RPC on the
// bootstrap aborts the join and leaves the node Dead.
func (n *PastryNode) Join(bootstrap NodeInfo) error {
	if n.currentState() == stateDead {
		return ErrBadState
	}
	n.setState(stateJoining)

	var ls leafSetMsg
	if err := n.call(bootstrap, cmdGetLeafSet, struct{}{}, &ls); err != nil {
		n.log.Warn("join aborted", zap.Error(err))
		_ = n.shutdown()
		return errors.Wrap(err, "join: fetch leaf set")
	}
	candidates := append(ls.LeafSet, bootstrap)

	n.mu.Lock()
	for _, c := range candidates {
		n.incorporateLocked(c)
	}
	neighbors := append([]NodeInfo(nil), n.leaves...)
	n.mu.Unlock()

	// Announce: each neighbor incorporates us (and our view) into its
	// own tables. Unreachable neighbors are skipped, not fatal.
	self := n.self
	announce := append(append([]NodeInfo(nil), neighbors...), self)
	for _, peer := range neighbors {
		if err := n.call(peer, cmdUpdateLeafSet, leafSetMsg{LeafSet: announce}, nil); err != nil {
			n.log.Warn("announce failed", zap.Stringer("peer", peer.ID), zap.Error(err))
		}
	}

	// Pull every entry that is now numerically closer to us than to
	// its current holder.
	moved := 0
	for _, peer := range neighbors {
		var items entriesResult
		if err := n.call(peer, cmdTransferCloser, transferCloserArgs{Node: self}, &items); err != nil {
			n.log.Warn("key handoff failed", zap.Stringer("peer", peer.ID), zap.Error(err))
			continue
		}
		for _, e := range items.Items {
			n.store.put(e.Key, e.Data)
		}
		moved += len(items.Items)
	}

	n.setState(stateActive)
	n.log.Info("joined overlay", zap.Int("neighbors", len(neighbors)), zap.Int("keys", moved))
	return nil
}

// Leave withdraws this node: every local entry moves to the nearest
// neighbor, the neighbors drop this node from their tables, and the
// node goes Dead. With no neighbors the entries are dropped with the
// node, as the last member owns the whole space anyway.
func (n *PastryNode) Leave() error {
	if err := n.requireActive(); err != nil {
		return err
	}
	n.setState(stateDeparting)

	n.mu.RLock()
	neighbors := append([]NodeInfo(nil), n.leaves...)
	n.mu.RUnlock()

	if len(neighbors) > 0 {
		target := neighbors[0]
		for _, e := range n.store.snapshot() {
			if err := n.call(target, cmdInsertLocal, entryArgs{Key: e.Key, Data: e.Data}, nil); err != nil {
				n.log.Warn("key transfer failed", zap.Stringer("key", e.Key), zap.Error(err))
			}
		}
		self := n.self
		for _, peer := range neighbors {
			if err := n.call(peer, cmdRemovePeer, nodeArgs{Node: &self}, nil); err != nil {
				n.log.Debug("remove_peer failed", zap.Stringer("peer", peer.ID), zap.Error(err))
			}
		}
	}

	n.store.clear()
	n.log.Info("left overlay")
	return n.shutdown()
}

// Close stops the node without handing keys off.
func (n *PastryNode) Close() error {
	return n.shutdown()
}

// Insert stores data under hash(title) at the numerically closest
// node.
func (n *PastryNode) Insert(title string, data Value) error {
	if err := n.requireActive(); err != nil {
		return err
	}
	key := ident.Hash(title)
	res := n.lookupRecursive(key, 0)
	return n.call(res.Node, cmdInsertLocal, entryArgs{Key: key, Data: data}, nil)
}

// Update overwrites the value under hash(title). Update is insert.
func (n *PastryNode) Update(title string, data Value) error {
	return n.Insert(title, data)
}

// Delete removes the entry under hash(title) from its owner. It
// returns ErrNotFound when the owner has no such key.
func (n *PastryNode) Delete(title string) error {
	if err := n.requireActive(); err != nil {
		return err
	}
	key := ident.Hash(title)
	res := n.lookupRecursive(key, 0)
	var st statusResult
	if err := n.call(res.Node, cmdDeleteLocal, keyArgs{Key: key}, &st); err != nil {
		return err
	}
	if st.Status == statusNotFound {
		return ErrNotFound
	}
	return nil
}

// Lookup resolves hash(title) to its owner and fetches the value.
// It returns the value (nil when absent) and the routing hop count.
func (n *PastryNode) Lookup(title string) (Value, int, error) {
	if err := n.requireActive(); err != nil {
		return nil, 0, err
	}
	key := ident.Hash(title)
	res := n.lookupRecursive(key, 0)
	var lr lookupResult
	if err := n.call(res.Node, cmdLookupLocal, keyArgs{Key: key}, &lr); err != nil {
		return nil, res.Hops, err
	}
	return lr.Val, res.Hops + lr.Hops, nil
}

// Len returns the number of entries this node currently owns.
func (n *PastryNode) Len() int {
	return n.store.len()
}

// Entries returns a snapshot of this node's local index in key order.
func (n *PastryNode) Entries() []Entry {
	return n.store.snapshot()
}

// Persist snapshots the local index to the configured storage
// directory.
func (n *PastryNode) Persist() error {
	return n.store.sync()
}

// --- dispatched handlers ---

func (n *PastryNode) handleRoute(payload json.RawMessage) (any, error) {
	var args routeArgs
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, errors.Wrap(err, "route payload")
	}
	key, err := ident.ParseHex(args.KeyHex)
	if err != nil {
		return nil, err
	}
	return n.route(key), nil
}

func (n *PastryNode) handleLookupRecursive(payload json.RawMessage) (any, error) {
	var args lookupRecursiveArgs
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, errors.Wrap(err, "lookup_recursive payload")
	}
	key, err := ident.ParseHex(args.KeyHex)
	if err != nil {
		return nil, err
	}
	return n.lookupRecursive(key, args.Hops), nil
}

func (n *PastryNode) handleGetLeafSet(json.RawMessage) (any, error) {
	return leafSetMsg{LeafSet: n.LeafSet()}, nil
}

// handleUpdateLeafSet incorporates announced peers: the incoming set
// is merged with the current one and the numerically closest
// neighbors are kept.
func (n *PastryNode) handleUpdateLeafSet(payload json.RawMessage) (any, error) {
	var args leafSetMsg
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, errors.Wrap(err, "update_leaf_set payload")
	}
	n.mu.Lock()
	for _, p := range args.LeafSet {
		n.incorporateLocked(p)
	}
	n.mu.Unlock()
	return statusResult{Status: statusOK}, nil
}

// handleTransferCloser extracts every entry for which the given node
// is numerically closer than this one, the owner-side half of a
// prefix-overlay join.
func (n *PastryNode) handleTransferCloser(payload json.RawMessage) (any, error) {
	var args transferCloserArgs
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, errors.Wrap(err, "transfer_closer payload")
	}
	other := args.Node
	items := n.store.extract(func(k Id) bool {
		return ident.Distance(k, other.ID).Cmp(ident.Distance(k, n.self.ID)) < 0
	})
	n.log.Debug("transferred keys", zap.Int("count", len(items)), zap.Stringer("to", other.ID))
	return entriesResult{Items: items}, nil
}

func (n *PastryNode) handleRemovePeer(payload json.RawMessage) (any, error) {
	var args nodeArgs
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, errors.Wrap(err, "remove_peer payload")
	}
	if args.Node == nil {
		return nil, errors.New("remove_peer: node required")
	}
	n.mu.Lock()
	n.dropPeerLocked(*args.Node)
	n.mu.Unlock()
	return statusResult{Status: statusOK}, nil
}

func (n *PastryNode) handleInsertLocal(payload json.RawMessage) (any, error) {
	var args entryArgs
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, errors.Wrap(err, "insert_local payload")
	}
	n.store.put(args.Key, args.Data)
	return statusResult{Status: statusOK}, nil
}

func (n *PastryNode) handleLookupLocal(payload json.RawMessage) (any, error) {
	var args keyArgs
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, errors.Wrap(err, "lookup_local payload")
	}
	val, _ := n.store.get(args.Key)
	return lookupResult{Val: val, Hops: 0}, nil
}

func (n *PastryNode) handleDeleteLocal(payload json.RawMessage) (any, error) {
	var args keyArgs
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, errors.Wrap(err, "delete_local payload")
	}
	if !n.store.delete(args.Key) {
		return statusResult{Status: statusNotFound}, nil
	}
	return statusResult{Status: statusOK}, nil
}
