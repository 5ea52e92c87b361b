// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package ringleaf

import (
	"net"
	"strconv"

	"github.com/dhtlab/ringleaf/internal/ident"
)

// Id is the canonical 160-bit identifier shared by both overlays.
type Id = ident.Id

// NodeInfo identifies one overlay member: its ring position and the
// address its RPC endpoint listens on. It is small, copied by value
// and carried verbatim in routing tables, leaf sets and RPC payloads;
// peers are never held as live references.
//
// Two NodeInfos denote the same node iff their ids are equal.
type NodeInfo struct {
	ID   Id     `json:"id"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr returns the host:port dial address.
func (n NodeInfo) Addr() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// Same reports whether n and other denote the same node.
func (n NodeInfo) Same(other NodeInfo) bool {
	return n.ID == other.ID
}

// IsZero reports whether n is the unset NodeInfo.
func (n NodeInfo) IsZero() bool {
	return n.Host == "" && n.Port == 0
}

// Peer derives the NodeInfo of the node listening at (host, port);
// the id is the hash of "host:port", exactly as the node itself
// computes it.
func Peer(host string, port int) NodeInfo {
	return NodeInfo{
		ID:   ident.Hash(host + ":" + strconv.Itoa(port)),
		Host: host,
		Port: port,
	}
}
