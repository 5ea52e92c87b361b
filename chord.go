// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package ringleaf

import (
	"sync"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dhtlab/ringleaf/internal/ident"
)

// ChordNode is one member of the ring overlay. It tracks its
// successor, an optional predecessor and a finger table of 160
// entries, and routes find_successor recursively: each hop forwards
// the query to its closest preceding finger.
//
// When the ring is quiescent, fingers[i] is the node responsible for
// (id + 2^i) mod 2^160, fingers[0] equals the successor, and the ring
// is a cycle over all live nodes by id.
type ChordNode struct {
	*core

	mu          sync.RWMutex
	successor   NodeInfo
	predecessor *NodeInfo
	fingers     [ident.Bits]NodeInfo
}

// NewChordNode starts a node listening on (host, port). The node
// comes up as a single-member ring, its own successor, and is Active
// immediately; Join moves it into an existing ring.
func NewChordNode(host string, port int, opts ...Option) (*ChordNode, error) {
	c, err := newCore(host, port, opts)
	if err != nil {
		return nil, err
	}
	n := &ChordNode{core: c}
	n.successor = c.self

	c.handle(cmdFindSuccessor, n.handleFindSuccessor)
	c.handle(cmdGetPredecessor, n.handleGetPredecessor)
	c.handle(cmdSetPredecessor, n.handleSetPredecessor)
	c.handle(cmdSetSuccessor, n.handleSetSuccessor)
	c.handle(cmdNotify, n.handleNotify)
	c.handle(cmdTransferKeys, n.handleTransferKeys)
	c.handle(cmdInsertLocal, n.handleInsertLocal)
	c.handle(cmdUpdate, n.handleInsertLocal)
	c.handle(cmdLookupLocal, n.handleLookupLocal)
	c.handle(cmdDeleteLocal, n.handleDeleteLocal)

	c.start()
	c.setState(stateActive)
	c.log.Info("chord node up")
	return n, nil
}

// Successor returns the current successor.
func (n *ChordNode) Successor() NodeInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.successor
}

// Predecessor returns the current predecessor, or nil when unset.
func (n *ChordNode) Predecessor() *NodeInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.predecessor == nil {
		return nil
	}
	p := *n.predecessor
	return &p
}

// SetSuccessor wires the successor directly. Used by harnesses that
// assemble a ring from global knowledge instead of joining.
func (n *ChordNode) SetSuccessor(succ NodeInfo) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.successor = succ
	n.fingers[0] = succ
}

// SetPredecessor wires the predecessor directly.
func (n *ChordNode) SetPredecessor(pred NodeInfo) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p := pred
	n.predecessor = &p
}

// SetFinger wires one finger table entry directly.
func (n *ChordNode) SetFinger(i int, peer NodeInfo) {
	if i < 0 || i >= ident.Bits {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fingers[i] = peer
	if i == 0 {
		n.successor = peer
	}
}

// findSuccessor resolves the node responsible for key. If the key
// falls between this node and its successor the successor is the
// owner; otherwise the query is forwarded to the closest preceding
// finger. A transport failure falls back to the local successor, a
// possibly stale but live answer.
func (n *ChordNode) findSuccessor(key Id, hops int) nodeHopsResult {
	succ := n.Successor()
	if ident.Between(key, n.self.ID, succ.ID, true) {
		return nodeHopsResult{Node: succ, Hops: hops + 1}
	}

	next := n.closestPreceding(key)
	if next.Same(n.self) {
		// No finger improves on us; the successor closes the loop.
		return nodeHopsResult{Node: succ, Hops: hops + 1}
	}

	var res nodeHopsResult
	if err := n.call(next, cmdFindSuccessor, findSuccessorArgs{Key: key, Hops: hops + 1}, &res); err != nil {
		n.log.Debug("find_successor forward failed", zap.Stringer("next", next.ID), zap.Error(err))
		return nodeHopsResult{Node: succ, Hops: hops + 1}
	}
	return res
}

// closestPreceding scans the finger table from the highest index
// downward and returns the first finger lying on the open arc
// (self, key); if none does, the node itself is returned.
func (n *ChordNode) closestPreceding(key Id) NodeInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for i := ident.Bits - 1; i >= 0; i-- {
		f := n.fingers[i]
		if f.IsZero() {
			continue
		}
		if ident.Between(f.ID, n.self.ID, key, false) {
			return f
		}
	}
	return n.self
}

// fixFingers recomputes the whole finger table by resolving the
// successor of every interval start.
func (n *ChordNode) fixFingers() {
	for i := 0; i < ident.Bits; i++ {
		res := n.findSuccessor(n.self.ID.FingerStart(i), 0)
		n.mu.Lock()
		n.fingers[i] = res.Node
		if i == 0 {
			n.successor = res.Node
		}
		n.mu.Unlock()
	}
}

// Join inserts this node into the ring known to bootstrap: locate the
// successor, adopt its predecessor, patch both neighbors directly,
// rebuild the finger table and pull the owned key range from the
// successor. A failed RPC aborts the join and leaves the node Dead.
func (n *ChordNode) Join(bootstrap NodeInfo) error {
	if n.currentState() == stateDead {
		return ErrBadState
	}
	n.setState(stateJoining)

	var res nodeHopsResult
	if err := n.call(bootstrap, cmdFindSuccessor, findSuccessorArgs{Key: n.self.ID}, &res); err != nil {
		return n.abortJoin(errors.Wrap(err, "locate successor"))
	}
	succ := res.Node

	var pred *NodeInfo
	if err := n.call(succ, cmdGetPredecessor, struct{}{}, &pred); err != nil {
		return n.abortJoin(errors.Wrap(err, "read successor predecessor"))
	}
	if pred == nil || pred.IsZero() {
		// Single-member ring: the successor is its own predecessor.
		p := succ
		pred = &p
	}

	self := n.self
	if err := n.call(succ, cmdSetPredecessor, nodeArgs{Node: &self}, nil); err != nil {
		return n.abortJoin(errors.Wrap(err, "patch successor"))
	}
	if err := n.call(*pred, cmdSetSuccessor, nodeArgs{Node: &self}, nil); err != nil {
		return n.abortJoin(errors.Wrap(err, "patch predecessor"))
	}

	n.mu.Lock()
	n.successor = succ
	n.predecessor = pred
	n.mu.Unlock()

	n.fixFingers()

	var items entriesResult
	if err := n.call(succ, cmdTransferKeys, transferKeysArgs{From: pred.ID, To: n.self.ID}, &items); err != nil {
		return n.abortJoin(errors.Wrap(err, "key handoff"))
	}
	for _, e := range items.Items {
		n.store.put(e.Key, e.Data)
	}

	n.setState(stateActive)
	n.log.Info("joined ring",
		zap.Stringer("successor", succ.ID),
		zap.Stringer("predecessor", pred.ID),
		zap.Int("keys", len(items.Items)))
	return nil
}

func (n *ChordNode) abortJoin(err error) error {
	n.log.Warn("join aborted", zap.Error(err))
	_ = n.shutdown()
	return errors.Wrap(err, "join")
}

// Leave withdraws this node from the ring: every local entry is
// pushed to the successor, both neighbors are patched around the
// node, and the node goes Dead. The total entry count across live
// nodes is unchanged.
func (n *ChordNode) Leave() error {
	if err := n.requireActive(); err != nil {
		return err
	}
	n.setState(stateDeparting)

	n.mu.RLock()
	succ := n.successor
	pred := n.predecessor
	n.mu.RUnlock()

	if !succ.Same(n.self) {
		for _, e := range n.store.snapshot() {
			if err := n.call(succ, cmdInsertLocal, entryArgs{Key: e.Key, Data: e.Data}, nil); err != nil {
				n.log.Warn("key transfer failed", zap.Stringer("key", e.Key), zap.Error(err))
			}
		}
		if pred != nil && !pred.Same(n.self) {
			if err := n.call(*pred, cmdSetSuccessor, nodeArgs{Node: &succ}, nil); err != nil {
				n.log.Warn("patch predecessor failed", zap.Error(err))
			}
		}
		if err := n.call(succ, cmdSetPredecessor, nodeArgs{Node: pred}, nil); err != nil {
			n.log.Warn("patch successor failed", zap.Error(err))
		}
	}

	n.store.clear()
	n.log.Info("left ring")
	return n.shutdown()
}

// Close stops the node without handing keys off. A node that already
// left is closed again without effect.
func (n *ChordNode) Close() error {
	return n.shutdown()
}

// Insert stores data under hash(title) at the responsible node.
func (n *ChordNode) Insert(title string, data Value) error {
	if err := n.requireActive(); err != nil {
		return err
	}
	key := ident.Hash(title)
	res := n.findSuccessor(key, 0)
	return n.call(res.Node, cmdInsertLocal, entryArgs{Key: key, Data: data}, nil)
}

// Update overwrites the value under hash(title). Update is insert.
func (n *ChordNode) Update(title string, data Value) error {
	return n.Insert(title, data)
}

// Delete removes the entry under hash(title) from its owner. It
// returns ErrNotFound when the owner has no such key.
func (n *ChordNode) Delete(title string) error {
	if err := n.requireActive(); err != nil {
		return err
	}
	key := ident.Hash(title)
	res := n.findSuccessor(key, 0)
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
// It returns the value (nil when absent) and the number of RPC hops
// taken to locate the owner plus the final fetch.
func (n *ChordNode) Lookup(title string) (Value, int, error) {
	if err := n.requireActive(); err != nil {
		return nil, 0, err
	}
	key := ident.Hash(title)
	res := n.findSuccessor(key, 0)
	var lr lookupResult
	if err := n.call(res.Node, cmdLookupLocal, keyArgs{Key: key}, &lr); err != nil {
		return nil, res.Hops, err
	}
	return lr.Val, res.Hops + lr.Hops, nil
}

// Len returns the number of entries this node currently owns.
func (n *ChordNode) Len() int {
	return n.store.len()
}

// Entries returns a snapshot of this node's local index in key order.
func (n *ChordNode) Entries() []Entry {
	return n.store.snapshot()
}

// Persist snapshots the local index to the configured storage
// directory.
func (n *ChordNode) Persist() error {
	return n.store.sync()
}

// --- dispatched handlers ---

func (n *ChordNode) handleFindSuccessor(payload json.RawMessage) (any, error) {
	var args findSuccessorArgs
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, errors.Wrap(err, "find_successor payload")
	}
	return n.findSuccessor(args.Key, args.Hops), nil
}

func (n *ChordNode) handleGetPredecessor(json.RawMessage) (any, error) {
	return n.Predecessor(), nil
}

func (n *ChordNode) handleSetPredecessor(payload json.RawMessage) (any, error) {
	var args nodeArgs
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, errors.Wrap(err, "set_predecessor payload")
	}
	n.mu.Lock()
	n.predecessor = args.Node
	n.mu.Unlock()
	return statusResult{Status: statusOK}, nil
}

func (n *ChordNode) handleSetSuccessor(payload json.RawMessage) (any, error) {
	var args nodeArgs
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, errors.Wrap(err, "set_successor payload")
	}
	if args.Node == nil {
		return nil, errors.New("set_successor: node required")
	}
	n.SetSuccessor(*args.Node)
	return statusResult{Status: statusOK}, nil
}

// handleNotify adopts the sender as predecessor when none is set or
// when it falls between the current predecessor and this node.
func (n *ChordNode) handleNotify(payload json.RawMessage) (any, error) {
	var args nodeArgs
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, errors.Wrap(err, "notify payload")
	}
	if args.Node == nil {
		return nil, errors.New("notify: node required")
	}
	n.mu.Lock()
	if n.predecessor == nil || ident.Between(args.Node.ID, n.predecessor.ID, n.self.ID, false) {
		n.predecessor = args.Node
	}
	n.mu.Unlock()
	return statusResult{Status: statusOK}, nil
}

// handleTransferKeys extracts every entry in the ring interval
// (from, to] for a joining node. The entries leave this index in the
// same critical section that copies them.
func (n *ChordNode) handleTransferKeys(payload json.RawMessage) (any, error) {
	var args transferKeysArgs
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, errors.Wrap(err, "transfer_keys payload")
	}
	items := n.store.extract(func(k Id) bool {
		return ident.Between(k, args.From, args.To, true)
	})
	n.log.Debug("transferred keys", zap.Int("count", len(items)))
	return entriesResult{Items: items}, nil
}

func (n *ChordNode) handleInsertLocal(payload json.RawMessage) (any, error) {
	var args entryArgs
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, errors.Wrap(err, "insert_local payload")
	}
	n.store.put(args.Key, args.Data)
	return statusResult{Status: statusOK}, nil
}

func (n *ChordNode) handleLookupLocal(payload json.RawMessage) (any, error) {
	var args keyArgs
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, errors.Wrap(err, "lookup_local payload")
	}
	val, _ := n.store.get(args.Key)
	return lookupResult{Val: val, Hops: 0}, nil
}

func (n *ChordNode) handleDeleteLocal(payload json.RawMessage) (any, error) {
	var args keyArgs
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, errors.Wrap(err, "delete_local payload")
	}
	if !n.store.delete(args.Key) {
		return statusResult{Status: statusNotFound}, nil
	}
	return statusResult{Status: statusOK}, nil
}
