// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package ringleaf is a comparative distributed hash table testbed:
// two overlay routing protocols over one shared node core.
//
//   - ChordNode keeps a successor/predecessor ring plus a 160-entry
//     finger table and resolves owners with find_successor.
//   - PastryNode keeps a leaf set of numerically nearest neighbors
//     plus a hex-prefix routing table and resolves owners by prefix
//     match and numeric proximity.
//
// Both node kinds share the same identifier space (SHA-1, 160 bit),
// the same length-framed JSON RPC transport, the same per-node B+
// tree index and the same data API: Insert, Lookup, Update and
// Delete routed from any member to the responsible node, plus Join
// and Leave with key handoff.
//
// Peers are carried as small NodeInfo values, never as live
// references, so routing state is trivially serializable and a
// same-process target can bypass the socket through the dispatcher
// fast path. Harnesses may either join nodes through a bootstrap
// member or wire successor, predecessor, fingers and leaf sets
// directly from global knowledge.
package ringleaf
