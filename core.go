// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package ringleaf

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dhtlab/ringleaf/internal/wire"
)

// Node lifecycle. A node is Joining until its routing state reflects
// its neighborhood, Active while it serves its key range, Departing
// while it hands its keys off, and Dead afterwards.
const (
	stateJoining int32 = iota
	stateActive
	stateDeparting
	stateDead
)

// handlerFunc serves one dispatched command. The returned value is
// marshaled as the response body.
type handlerFunc func(payload json.RawMessage) (any, error)

// core is the overlay-independent half of a node: the listening
// endpoint, the verb dispatcher, the RPC client primitive and the
// guarded local index. Both node kinds embed it and register their
// own command tables.
type core struct {
	self  NodeInfo
	log   *zap.Logger
	opts  options
	store *store

	handlers map[string]handlerFunc

	ln        net.Listener
	conns     errgroup.Group
	closeOnce sync.Once
	state     atomic.Int32
}

// newCore binds the listening socket and derives the node identity
// from the bound address. Port 0 is resolved to the kernel-assigned
// port before hashing, so the id always matches the reachable
// address.
func newCore(host string, port int, opts []Option) (*core, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrap(err, "bind listener")
	}
	if port == 0 {
		port = ln.Addr().(*net.TCPAddr).Port
	}

	self := Peer(host, port)
	log := o.logger.With(zap.Stringer("node", self.ID), zap.Int("port", port))

	c := &core{
		self:     self,
		log:      log,
		opts:     o,
		store:    newStore(o.order, o.storageDir, self.ID, log),
		handlers: make(map[string]handlerFunc),
		ln:       ln,
	}
	c.state.Store(stateJoining)
	return c, nil
}

// Info returns the node's own NodeInfo.
func (c *core) Info() NodeInfo {
	return c.self
}

// handle registers the handler for one command verb.
func (c *core) handle(command string, h handlerFunc) {
	c.handlers[command] = h
}

// start spawns the accept loop. Called once the command table is
// complete.
func (c *core) start() {
	go c.acceptLoop()
}

func (c *core) acceptLoop() {
	for {
		conn, err := c.ln.Accept()
		if err != nil {
			// Listener closed during shutdown.
			return
		}
		c.conns.Go(func() error {
			c.handleConn(conn)
			return nil
		})
	}
}

// handleConn serves one connection: one request in, one response out,
// close. The whole exchange shares a single deadline.
func (c *core) handleConn(conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.opts.timeout)); err != nil {
		return
	}
	req, err := wire.ReadRequest(conn)
	if err != nil {
		c.log.Debug("malformed request", zap.Error(err))
		_ = wire.WriteFrame(conn, wire.ErrorBody)
		return
	}
	body := c.dispatch(req)
	if err := wire.WriteFrame(conn, body); err != nil {
		c.log.Debug("write response", zap.String("command", req.Command), zap.Error(err))
	}
}

// dispatch resolves the verb and runs its handler. Unknown commands
// and handler failures answer with the uniform error body.
func (c *core) dispatch(req wire.Request) []byte {
	h, ok := c.handlers[req.Command]
	if !ok {
		c.log.Warn("unknown command", zap.String("command", req.Command))
		return wire.ErrorBody
	}
	res, err := h(req.Payload)
	if err != nil {
		c.log.Warn("handler failed", zap.String("command", req.Command), zap.Error(err))
		return wire.ErrorBody
	}
	body, err := json.Marshal(res)
	if err != nil {
		c.log.Warn("marshal response", zap.String("command", req.Command), zap.Error(err))
		return wire.ErrorBody
	}
	return body
}

// call performs one RPC against target, decoding the response into
// out (which may be nil). A target that is this node bypasses the
// socket and dispatches directly; the payload still round-trips
// through the codec so both paths are semantically identical.
func (c *core) call(target NodeInfo, command string, payload, out any) error {
	if target.Same(c.self) {
		return c.callLocal(command, payload, out)
	}
	return rpcCall(target.Addr(), command, payload, out, c.opts.timeout)
}

// callLocal is the same-process fast path.
func (c *core) callLocal(command string, payload, out any) error {
	h, ok := c.handlers[command]
	if !ok {
		return &ProtocolError{Command: command}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "marshal %s payload", command)
	}
	res, err := h(raw)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	body, err := json.Marshal(res)
	if err != nil {
		return errors.Wrapf(err, "marshal %s response", command)
	}
	return errors.Wrapf(json.Unmarshal(body, out), "decode %s response", command)
}

func (c *core) currentState() int32 {
	return c.state.Load()
}

func (c *core) setState(s int32) {
	c.state.Store(s)
}

// requireActive guards the public data operations.
func (c *core) requireActive() error {
	if c.state.Load() != stateActive {
		return ErrBadState
	}
	return nil
}

// shutdown closes the listener, drains in-flight handlers and drops
// the rebuildable on-disk index. Safe to call more than once.
func (c *core) shutdown() error {
	var err error
	c.closeOnce.Do(func() {
		c.setState(stateDead)
		err = c.ln.Close()
		_ = c.conns.Wait()
		c.store.discard()
		c.log.Info("node stopped")
	})
	return err
}
