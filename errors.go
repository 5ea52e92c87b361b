// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package ringleaf

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotFound reports a key absent from the owner's local index.
var ErrNotFound = errors.New("key not found")

// ErrBadState reports an operation on a node that has left the
// overlay. Routing through a dead node is a caller bug.
var ErrBadState = errors.New("node is not active")

// TransportError wraps a failed RPC exchange: connection refused,
// read/write failure or timeout. Routing treats it as a soft failure
// and falls back to a best-effort answer; it is never retried.
type TransportError struct {
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error calling %s: %v", e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StorageError wraps a local index persistence failure. It is
// surfaced to the caller verbatim.
type StorageError struct {
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error on %s: %v", e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed message or unknown command. The
// server answers such requests with {"status":"error"}; clients treat
// that as transport-equivalent.
type ProtocolError struct {
	Command string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: command %q rejected", e.Command)
}
