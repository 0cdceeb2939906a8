// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/strongdm/filemq/mount"
	"github.com/strongdm/filemq/snapshot"
	"github.com/strongdm/filemq/wire"
)

// refreshInterval is the server actor's monitor-timer period: every tick,
// every mount is refreshed, and if any mount produced patches, every
// connected session is offered a chance to drain its patch queue.
const refreshInterval = 1000 * time.Millisecond

// PublishCmd implements the PUBLISH command-channel entry: create a mount
// and reply SUCCESS (nil) or FAILURE (err).
type PublishCmd struct {
	Location string
	Alias    string
	Opts     []snapshot.Option
	Reply    chan error
}

// BindCmd implements the BIND command-channel entry.
type BindCmd struct {
	Endpoint string
	Reply    chan BindReply
}

// BindReply carries the resolved listening port, or an error.
type BindReply struct {
	Port int
	Err  error
}

// VerboseCmd implements the VERBOSE command-channel entry. No reply.
type VerboseCmd struct{}

// TerminateCmd implements the $TERM command-channel entry: orderly
// shutdown. Done is closed once the actor loop has exited.
type TerminateCmd struct {
	Done chan struct{}
}

type command interface{}

// frameEvent carries one decoded frame from a connection's reader
// goroutine back to the actor's single event loop.
type frameEvent struct {
	id  uuid.UUID
	msg wire.Message
}

// connAcceptedEvent announces a newly accepted connection, already assigned
// its router identity.
type connAcceptedEvent struct {
	id   uuid.UUID
	conn net.Conn
}

// connClosedEvent announces that a connection's reader goroutine observed
// EOF or a transport error.
type connClosedEvent struct {
	id  uuid.UUID
	err error
}

// invalidFrameEvent announces a frame so malformed it could not be decoded
// at all (wrong magic/version, truncation). The session replies RTFM and
// terminates, per spec.
type invalidFrameEvent struct {
	id     uuid.UUID
	reason string
}

type connection struct {
	session *Session
	conn    net.Conn
}

// Metrics receives observability callbacks from the actor loop. All methods
// must return promptly since they run on the actor's own goroutine. A nil
// Metrics is valid and simply disables instrumentation.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	ChunkBytesSent(n int)
	PatchDispatched()
	CreditGranted(n uint64)
}

// Actor is the server-side event loop: it owns the mount registry, the set
// of live per-client sessions, the listening socket, and the periodic
// refresh timer. Every field below is touched only from Run's goroutine —
// no mutex guards them, because nothing else ever reaches in.
type Actor struct {
	registry *mount.Registry
	digestFn mount.DigestFunc
	logger   *slog.Logger
	metrics  Metrics

	listener net.Listener
	conns    map[uuid.UUID]*connection

	cmdCh   chan command
	eventCh chan any
}

// NewActor creates an Actor with an empty mount registry, dispatching
// digests via digestFn (see internal/digest.Sum for the production value).
func NewActor(digestFn mount.DigestFunc, logger *slog.Logger) *Actor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Actor{
		registry: mount.NewRegistry(),
		digestFn: digestFn,
		logger:   logger,
		conns:    make(map[uuid.UUID]*connection),
		cmdCh:    make(chan command, 16),
		eventCh:  make(chan any, 256),
	}
}

// Publish sends a PUBLISH command to the actor and waits for its reply.
func (a *Actor) Publish(location, alias string, opts ...snapshot.Option) error {
	reply := make(chan error, 1)
	a.cmdCh <- PublishCmd{Location: location, Alias: alias, Opts: opts, Reply: reply}
	return <-reply
}

// Bind sends a BIND command to the actor and waits for its reply.
func (a *Actor) Bind(endpoint string) (int, error) {
	reply := make(chan BindReply, 1)
	a.cmdCh <- BindCmd{Endpoint: endpoint, Reply: reply}
	r := <-reply
	return r.Port, r.Err
}

// Verbose sends a VERBOSE command. Fire-and-forget, per spec.
func (a *Actor) Verbose() {
	a.cmdCh <- VerboseCmd{}
}

// SetMetrics installs the observability sink. Must be called before Run;
// a nil Metrics (the default) disables instrumentation.
func (a *Actor) SetMetrics(m Metrics) {
	a.metrics = m
}

// Terminate sends $TERM and blocks until the actor loop has exited.
func (a *Actor) Terminate() {
	done := make(chan struct{})
	a.cmdCh <- TerminateCmd{Done: done}
	<-done
}

// Run drives the actor's event loop until ctx is cancelled or a
// TerminateCmd is processed. It is the only goroutine that mutates the
// actor's mounts, sessions, or connections.
func (a *Actor) Run(ctx context.Context) error {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return ctx.Err()

		case <-ticker.C:
			a.tick()

		case cmd := <-a.cmdCh:
			done, terminate := a.handleCommand(cmd)
			if terminate {
				close(done)
				return nil
			}

		case ev := <-a.eventCh:
			a.handleEvent(ev)
		}
	}
}

func (a *Actor) handleCommand(cmd command) (done chan struct{}, terminate bool) {
	switch c := cmd.(type) {
	case PublishCmd:
		_, err := a.registry.Publish(c.Location, c.Alias, c.Opts...)
		c.Reply <- err

	case BindCmd:
		l, err := net.Listen("tcp", c.Endpoint)
		if err != nil {
			c.Reply <- BindReply{Err: fmt.Errorf("server: bind %s: %w", c.Endpoint, err)}
			return nil, false
		}
		a.listener = l
		go a.acceptLoop(l)
		c.Reply <- BindReply{Port: l.Addr().(*net.TCPAddr).Port}

	case VerboseCmd:
		a.logger = a.logger.With("verbose", true)

	case TerminateCmd:
		a.shutdown()
		return c.Done, true
	}
	return nil, false
}

func (a *Actor) shutdown() {
	if a.listener != nil {
		a.listener.Close()
	}
	for _, c := range a.conns {
		c.session.Close()
		c.conn.Close()
	}
}

func (a *Actor) tick() {
	anyChanged := false
	for _, m := range a.registry.Mounts() {
		changed, err := m.Refresh(a.digestFn)
		if err != nil {
			a.logger.Error("mount refresh failed", "alias", m.Alias, "error", err)
			continue
		}
		if changed {
			anyChanged = true
		}
	}
	if !anyChanged {
		return
	}
	for id, c := range a.conns {
		msgs, err := c.session.Dispatch()
		if err != nil {
			a.logger.Error("dispatch failed", "session", id, "error", err)
			continue
		}
		a.send(id, msgs)
	}
}

func (a *Actor) handleEvent(ev any) {
	switch e := ev.(type) {
	case connAcceptedEvent:
		sess := NewSession(e.id, a.registry)
		a.conns[e.id] = &connection{session: sess, conn: e.conn}
		if a.metrics != nil {
			a.metrics.ConnectionOpened()
		}
		go a.readLoop(e.id, e.conn)

	case frameEvent:
		c, ok := a.conns[e.id]
		if !ok {
			return
		}
		if nom, ok := e.msg.(wire.Nom); ok && a.metrics != nil {
			a.metrics.CreditGranted(nom.Credit)
		}
		msgs, err := c.session.HandleFrame(e.msg)
		if err != nil {
			a.logger.Error("frame handling failed", "session", e.id, "error", err)
		}
		a.send(e.id, msgs)
		if c.session.State() == StateDisconnected {
			a.closeConn(e.id)
		}

	case connClosedEvent:
		if e.err != nil {
			a.logger.Warn("connection closed", "session", e.id, "error", e.err)
		}
		a.closeConn(e.id)

	case invalidFrameEvent:
		a.send(e.id, []wire.Message{wire.Rtfm{Reason: e.reason}})
		a.closeConn(e.id)
	}
}

func (a *Actor) send(id uuid.UUID, msgs []wire.Message) {
	c, ok := a.conns[id]
	if !ok {
		return
	}
	for _, m := range msgs {
		if err := wire.WriteFrame(c.conn, m); err != nil {
			a.logger.Warn("write frame failed", "session", id, "error", err)
			a.closeConn(id)
			return
		}
		if a.metrics == nil {
			continue
		}
		if cb, ok := m.(wire.Cheezburger); ok {
			if len(cb.Chunk) > 0 {
				a.metrics.ChunkBytesSent(len(cb.Chunk))
			}
			if cb.EOF {
				a.metrics.PatchDispatched()
			}
		}
	}
}

func (a *Actor) closeConn(id uuid.UUID) {
	c, ok := a.conns[id]
	if !ok {
		return
	}
	c.session.Close()
	c.conn.Close()
	delete(a.conns, id)
	if a.metrics != nil {
		a.metrics.ConnectionClosed()
	}
}

// acceptLoop accepts connections off l, minting a router identity for each
// before handing it to the event loop. Runs until l is closed.
func (a *Actor) acceptLoop(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		id := uuid.New()
		a.eventCh <- connAcceptedEvent{id: id, conn: conn}
	}
}

// readLoop turns blocking frame reads on conn into events on the actor's
// channel. It owns nothing but its own read buffer; all state mutation
// happens back on the actor goroutine.
func (a *Actor) readLoop(id uuid.UUID, conn net.Conn) {
	for {
		msg, err := wire.ReadFrame(conn)
		if err != nil {
			var invalid *wire.ErrInvalidFrame
			if errors.As(err, &invalid) {
				a.eventCh <- invalidFrameEvent{id: id, reason: invalid.Reason}
				return
			}
			a.eventCh <- connClosedEvent{id: id, err: err}
			return
		}
		a.eventCh <- frameEvent{id: id, msg: msg}
	}
}
