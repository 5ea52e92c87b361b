// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package wire implements the point-to-point RPC framing shared by the
// overlays: one length-framed JSON request per connection, one framed
// JSON response back, then close.
//
// A frame is a 4-byte big-endian length header followed by the JSON
// body. The client opens a fresh connection per call and bounds the
// whole exchange with a single deadline; there is no pooling and no
// keep-alive.
package wire

import (
	"encoding/binary"
	"io"
	"net"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// DefaultTimeout bounds one RPC exchange end to end.
const DefaultTimeout = 5 * time.Second

// MaxFrame caps the size of a single message body. Bodies carry at
// most one key transfer batch, so 16 MiB is generous.
const MaxFrame = 16 << 20

// Request is the uniform RPC request envelope.
type Request struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload"`
}

// ErrorBody is the response a server sends for malformed or unknown
// requests.
var ErrorBody = []byte(`{"status":"error"}`)

// WriteFrame writes the length header and body as a single message.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrame {
		return errors.Errorf("wire: frame too large: %d bytes", len(body))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "wire: write header")
	}
	_, err := w.Write(body)
	return errors.Wrap(err, "wire: write body")
}

// ReadFrame reads one length-framed message body.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.Wrap(err, "wire: read header")
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrame {
		return nil, errors.Errorf("wire: frame too large: %d bytes", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, errors.Wrap(err, "wire: read body")
	}
	return body, nil
}

// WriteRequest frames and writes one request envelope.
func WriteRequest(w io.Writer, command string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "wire: marshal %s payload", command)
	}
	body, err := json.Marshal(Request{Command: command, Payload: raw})
	if err != nil {
		return errors.Wrapf(err, "wire: marshal %s request", command)
	}
	return WriteFrame(w, body)
}

// ReadRequest reads and decodes one request envelope.
func ReadRequest(r io.Reader) (Request, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return Request{}, err
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return Request{}, errors.Wrap(err, "wire: decode request")
	}
	return req, nil
}

// Call performs one RPC exchange with the node listening at addr: it
// dials, writes the request, reads the response body and closes. The
// deadline covers dial, write and read together; zero timeout means
// DefaultTimeout. Any failure is a transport error to the caller.
func Call(addr, command string, payload any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "wire: dial %s", addr)
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return nil, errors.Wrap(err, "wire: set deadline")
	}
	if err := WriteRequest(conn, command, payload); err != nil {
		return nil, err
	}
	body, err := ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	return body, nil
}
