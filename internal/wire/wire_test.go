// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package wire_test

import (
	"bytes"
	"net"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/dhtlab/ringleaf/internal/wire"
)

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	for _, body := range [][]byte{
		[]byte(`{}`),
		[]byte(`{"command":"notify","payload":{}}`),
		bytes.Repeat([]byte("x"), 64*1024), // larger than any read buffer
		{},
	} {
		var buf bytes.Buffer
		require.NoError(t, wire.WriteFrame(&buf, body))
		got, err := wire.ReadFrame(&buf)
		require.NoError(t, err)
		require.Equal(t, body, got)
	}
}

func TestFrameTooLarge(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.Error(t, wire.WriteFrame(&buf, make([]byte, wire.MaxFrame+1)))

	// A forged oversized header is rejected before allocation.
	buf.Reset()
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	_, err := wire.ReadFrame(&buf)
	require.Error(t, err)
}

func TestFrameTruncated(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, wire.WriteFrame(&buf, []byte(`{"command":"x"}`)))
	half := buf.Bytes()[:buf.Len()-3]
	_, err := wire.ReadFrame(bytes.NewReader(half))
	require.Error(t, err)
}

func TestRequestRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, wire.WriteRequest(&buf, "lookup_local", map[string]string{"key": "42"}))

	req, err := wire.ReadRequest(&buf)
	require.NoError(t, err)
	require.Equal(t, "lookup_local", req.Command)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(req.Payload, &payload))
	require.Equal(t, "42", payload["key"])
}

// TestCall exchanges one request with a minimal one-shot server.
func TestCall(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		req, err := wire.ReadRequest(conn)
		if err != nil {
			return
		}
		_ = wire.WriteFrame(conn, []byte(`{"echo":"`+req.Command+`"}`))
	}()

	raw, err := wire.Call(ln.Addr().String(), "ping", struct{}{}, time.Second)
	require.NoError(t, err)
	require.JSONEq(t, `{"echo":"ping"}`, string(raw))
}

func TestCallConnectionRefused(t *testing.T) {
	t.Parallel()

	// Bind and immediately close to get a dead port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = wire.Call(addr, "ping", struct{}{}, 500*time.Millisecond)
	require.Error(t, err)
}

// TestCallTimeout verifies the deadline bounds a server that accepts
// but never answers.
func TestCallTimeout(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		<-done // hold the connection open, never respond
	}()

	start := time.Now()
	_, err = wire.Call(ln.Addr().String(), "ping", struct{}{}, 200*time.Millisecond)
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
}
