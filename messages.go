// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package ringleaf

import (
	json "github.com/goccy/go-json"
)

// Value is the opaque payload stored under a key. The overlay never
// inspects it; the testbed stores JSON records keyed by title.
type Value = json.RawMessage

// Command verbs understood by the per-node dispatchers. The ring
// overlay and the prefix overlay each register the subset they serve;
// the local-index verbs are common to both.
const (
	cmdFindSuccessor  = "find_successor"
	cmdGetPredecessor = "get_predecessor"
	cmdSetPredecessor = "set_predecessor"
	cmdSetSuccessor   = "set_successor"
	cmdNotify         = "notify"
	cmdTransferKeys   = "transfer_keys"

	cmdRoute           = "route"
	cmdLookupRecursive = "lookup_recursive"
	cmdGetLeafSet      = "get_leaf_set"
	cmdUpdateLeafSet   = "update_leaf_set"
	cmdTransferCloser  = "transfer_closer"
	cmdRemovePeer      = "remove_peer"

	cmdInsertLocal = "insert_local"
	cmdUpdate      = "update"
	cmdLookupLocal = "lookup_local"
	cmdDeleteLocal = "delete_local"
)

const (
	statusOK       = "ok"
	statusNotFound = "not_found"
	statusError    = "error"
)

// findSuccessorArgs carries the target key and the hop count
// accumulated so far.
type findSuccessorArgs struct {
	Key  Id  `json:"key"`
	Hops int `json:"hops"`
}

// nodeHopsResult answers find_successor and lookup_recursive.
type nodeHopsResult struct {
	Node NodeInfo `json:"node"`
	Hops int      `json:"hops"`
}

// nodeArgs carries one NodeInfo; a null node clears the field on
// set_predecessor.
type nodeArgs struct {
	Node *NodeInfo `json:"node"`
}

type statusResult struct {
	Status string `json:"status"`
}

// Entry is one (key, value) pair of a local index, the unit of key
// handoff between nodes.
type Entry struct {
	Key  Id    `json:"key"`
	Data Value `json:"data"`
}

// entryArgs carries one entry for insert_local and update.
type entryArgs struct {
	Key  Id    `json:"key"`
	Data Value `json:"data"`
}

type keyArgs struct {
	Key Id `json:"key"`
}

// lookupResult answers lookup_local; Val is null when the key is
// absent.
type lookupResult struct {
	Val  Value `json:"val"`
	Hops int   `json:"hops"`
}

// transferKeysArgs asks the receiver to extract and return every
// entry whose key lies in the ring interval (From, To].
type transferKeysArgs struct {
	From Id `json:"from"`
	To   Id `json:"to"`
}

// transferCloserArgs asks the receiver to extract and return every
// entry for which Node is numerically closer than the receiver.
type transferCloserArgs struct {
	Node NodeInfo `json:"node"`
}

type entriesResult struct {
	Items []Entry `json:"items"`
}

type routeArgs struct {
	KeyHex string `json:"key_hex"`
}

type routeResult struct {
	Node    NodeInfo `json:"node"`
	Forward bool     `json:"forward"`
}

type lookupRecursiveArgs struct {
	KeyHex string `json:"key_hex"`
	Hops   int    `json:"hops"`
}

type leafSetMsg struct {
	LeafSet []NodeInfo `json:"leaf_set"`
}
