// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package ringleaf

import (
	"bytes"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/dhtlab/ringleaf/internal/ident"
	"github.com/dhtlab/ringleaf/internal/wire"
)

// rpcCall performs one remote exchange and decodes the response into
// out. The uniform server error body is surfaced as a transport
// error, matching how routing treats unknown-command replies.
func rpcCall(addr, command string, payload, out any, timeout time.Duration) error {
	raw, err := wire.Call(addr, command, payload, timeout)
	if err != nil {
		return &TransportError{Addr: addr, Err: err}
	}
	if bytes.Equal(raw, wire.ErrorBody) {
		return &TransportError{Addr: addr, Err: &ProtocolError{Command: command}}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &TransportError{Addr: addr, Err: errors.Wrapf(err, "decode %s response", command)}
	}
	return nil
}

// Client issues data operations against a running overlay from
// outside it: it resolves the owner of a key through an entry node's
// routing verbs and then talks to the owner directly. The seeding and
// shell tools are built on it.
type Client struct {
	entry   NodeInfo
	pastry  bool
	timeout time.Duration
}

// NewChordClient returns a client entering a ring overlay through the
// node listening at (host, port).
func NewChordClient(host string, port int) *Client {
	return &Client{entry: Peer(host, port), timeout: wire.DefaultTimeout}
}

// NewPastryClient returns a client entering a prefix overlay through
// the node listening at (host, port).
func NewPastryClient(host string, port int) *Client {
	return &Client{entry: Peer(host, port), pastry: true, timeout: wire.DefaultTimeout}
}

// SetTimeout overrides the per-RPC deadline.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// owner resolves the node responsible for key through the entry node.
func (c *Client) owner(key Id) (NodeInfo, int, error) {
	var res nodeHopsResult
	if c.pastry {
		args := lookupRecursiveArgs{KeyHex: key.Hex()}
		if err := rpcCall(c.entry.Addr(), cmdLookupRecursive, args, &res, c.timeout); err != nil {
			return NodeInfo{}, 0, err
		}
	} else {
		args := findSuccessorArgs{Key: key}
		if err := rpcCall(c.entry.Addr(), cmdFindSuccessor, args, &res, c.timeout); err != nil {
			return NodeInfo{}, 0, err
		}
	}
	return res.Node, res.Hops, nil
}

// Insert stores data under hash(title).
func (c *Client) Insert(title string, data Value) error {
	key := ident.Hash(title)
	node, _, err := c.owner(key)
	if err != nil {
		return err
	}
	return rpcCall(node.Addr(), cmdInsertLocal, entryArgs{Key: key, Data: data}, nil, c.timeout)
}

// Update overwrites the value under hash(title).
func (c *Client) Update(title string, data Value) error {
	return c.Insert(title, data)
}

// Lookup fetches the value under hash(title), nil when absent, along
// with the routing hop count.
func (c *Client) Lookup(title string) (Value, int, error) {
	key := ident.Hash(title)
	node, hops, err := c.owner(key)
	if err != nil {
		return nil, 0, err
	}
	var lr lookupResult
	if err := rpcCall(node.Addr(), cmdLookupLocal, keyArgs{Key: key}, &lr, c.timeout); err != nil {
		return nil, hops, err
	}
	return lr.Val, hops + lr.Hops, nil
}

// Delete removes the entry under hash(title); ErrNotFound when the
// owner has no such key.
func (c *Client) Delete(title string) error {
	key := ident.Hash(title)
	node, _, err := c.owner(key)
	if err != nil {
		return err
	}
	var st statusResult
	if err := rpcCall(node.Addr(), cmdDeleteLocal, keyArgs{Key: key}, &st, c.timeout); err != nil {
		return err
	}
	if st.Status == statusNotFound {
		return ErrNotFound
	}
	return nil
}
