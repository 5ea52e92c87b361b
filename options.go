// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package ringleaf

import (
	"time"

	"go.uber.org/zap"

	"github.com/dhtlab/ringleaf/internal/bptree"
	"github.com/dhtlab/ringleaf/internal/wire"
)

// DefaultLeafSetSize is the number of numerically nearest neighbors a
// Pastry node tracks. The nearest peers are kept whichever side of the
// node's own id they lie on; the set is not split into a lower and an
// upper half.
const DefaultLeafSetSize = 4

// options collects the tunables shared by both node kinds.
type options struct {
	logger      *zap.Logger
	timeout     time.Duration
	order       int
	leafSetSize int
	storageDir  string
}

func defaultOptions() options {
	return options{
		logger:      zap.NewNop(),
		timeout:     wire.DefaultTimeout,
		order:       bptree.DefaultOrder,
		leafSetSize: DefaultLeafSetSize,
	}
}

// Option customizes a node at construction time.
type Option func(*options)

// WithLogger sets the node's structured logger. The default discards
// all output.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTimeout overrides the per-RPC deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithOrder overrides the local index branching factor.
func WithOrder(order int) Option {
	return func(o *options) {
		if order > 0 {
			o.order = order
		}
	}
}

// WithLeafSetSize overrides the leaf set size of a Pastry node.
func WithLeafSetSize(l int) Option {
	return func(o *options) {
		if l > 0 {
			o.leafSetSize = l
		}
	}
}

// WithStorageDir enables best-effort persistence of the local index
// under dir, in a file named after the node id. The file is
// rebuildable and removed when the node shuts down.
func WithStorageDir(dir string) Option {
	return func(o *options) {
		o.storageDir = dir
	}
}
