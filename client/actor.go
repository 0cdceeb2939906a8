// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/strongdm/filemq/internal/manifest"
	"github.com/strongdm/filemq/wire"
)

// manifestSaveInterval is how often the actor rewrites its digest-cache
// manifest to disk while running, bounding how much cache state a crash
// between saves can lose.
const manifestSaveInterval = 30 * time.Second

// ConnectCmd implements the CONNECT command-channel entry.
type ConnectCmd struct {
	Endpoint string
	Timeout  time.Duration
	Reply    chan error
}

// SetInboxCmd implements the SET INBOX command-channel entry.
type SetInboxCmd struct {
	Path  string
	Reply chan error
}

// SubscribeCmd implements the SUBSCRIBE command-channel entry. No
// synchronous reply, per spec.
type SubscribeCmd struct {
	Path string
}

// VerboseCmd implements the VERBOSE command-channel entry. No reply.
type VerboseCmd struct{}

// TerminateCmd implements the $TERM command-channel entry.
type TerminateCmd struct {
	Done chan struct{}
}

type command interface{}

type frameEvent struct {
	msg wire.Message
}

type invalidFrameEvent struct {
	reason string
}

type connClosedEvent struct {
	err error
}

// Actor hosts the client's single connection, its Session, and the command
// API. One event-loop goroutine plus one reader goroutine per connection,
// mirroring the server actor's concurrency shape: the reader goroutine
// turns blocking reads into events, and only Run's goroutine ever mutates
// the session or connection.
type Actor struct {
	session      *Session
	logger       *slog.Logger
	manifestPath string

	conn net.Conn

	cmdCh   chan command
	eventCh chan any
}

// NewActor creates an Actor with no connection yet established. digestFn
// feeds completed-transfer digests into the session's cache (see
// internal/digest.Sum for the production value; nil disables the cache).
func NewActor(digestFn DigestFunc, logger *slog.Logger) *Actor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Actor{
		session: NewSession(digestFn),
		logger:  logger,
		cmdCh:   make(chan command, 16),
		eventCh: make(chan any, 64),
	}
}

// SetManifestPath enables periodic and on-shutdown persistence of the
// session's digest cache to path via internal/manifest. Must be called
// before Run starts. An empty path (the default) disables persistence.
func (a *Actor) SetManifestPath(path string) {
	a.manifestPath = path
}

// Connect sends CONNECT and waits for the reply.
func (a *Actor) Connect(endpoint string, timeout time.Duration) error {
	reply := make(chan error, 1)
	a.cmdCh <- ConnectCmd{Endpoint: endpoint, Timeout: timeout, Reply: reply}
	return <-reply
}

// SetInbox sends SET INBOX and waits for the reply.
func (a *Actor) SetInbox(path string) error {
	reply := make(chan error, 1)
	a.cmdCh <- SetInboxCmd{Path: path, Reply: reply}
	return <-reply
}

// Subscribe sends SUBSCRIBE. No synchronous reply, per spec.
func (a *Actor) Subscribe(path string) {
	a.cmdCh <- SubscribeCmd{Path: path}
}

// Verbose sends VERBOSE. No reply.
func (a *Actor) Verbose() {
	a.cmdCh <- VerboseCmd{}
}

// LoadDigestCache seeds the session's digest cache from a previously
// persisted manifest. Must be called before Run starts, since it touches
// the session directly rather than through the command channel.
func (a *Actor) LoadDigestCache(cache map[string][]byte) {
	a.session.LoadDigestCache(cache)
}

// Terminate sends $TERM and blocks until the actor loop has exited.
func (a *Actor) Terminate() {
	done := make(chan struct{})
	a.cmdCh <- TerminateCmd{Done: done}
	<-done
}

// Run drives the actor's event loop until ctx is cancelled or a
// TerminateCmd is processed.
func (a *Actor) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if a.manifestPath != "" {
		ticker := time.NewTicker(manifestSaveInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return ctx.Err()

		case <-tick:
			a.saveManifest()

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

// saveManifest persists the session's current digest cache. Runs only on
// the actor's own goroutine, so it never races the handlers that mutate it.
func (a *Actor) saveManifest() {
	if a.manifestPath == "" {
		return
	}
	if err := manifest.Save(a.manifestPath, a.session.DigestCache()); err != nil {
		a.logger.Warn("manifest save failed", "error", err)
	}
}

func (a *Actor) handleCommand(cmd command) (done chan struct{}, terminate bool) {
	switch c := cmd.(type) {
	case ConnectCmd:
		c.Reply <- a.connect(c.Endpoint, c.Timeout)

	case SetInboxCmd:
		c.Reply <- a.session.SetInbox(c.Path)

	case SubscribeCmd:
		if req := a.session.Subscribe(c.Path); req != nil {
			a.send([]wire.Message{*req})
		}

	case VerboseCmd:
		a.logger = a.logger.With("verbose", true)

	case TerminateCmd:
		a.shutdown()
		return c.Done, true
	}
	return nil, false
}

func (a *Actor) connect(endpoint string, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", endpoint, timeout)
	if err != nil {
		return fmt.Errorf("client: connect %s: %w", endpoint, err)
	}
	a.conn = conn
	a.session.Connecting()
	go a.readLoop(conn)

	if err := wire.WriteFrame(conn, wire.Ohai{}); err != nil {
		conn.Close()
		return fmt.Errorf("client: send OHAI: %w", err)
	}
	return nil
}

func (a *Actor) shutdown() {
	if a.conn != nil {
		a.conn.Close()
	}
	a.saveManifest()
}

func (a *Actor) handleEvent(ev any) {
	switch e := ev.(type) {
	case frameEvent:
		msgs, err := a.session.HandleFrame(e.msg)
		if err != nil {
			a.logger.Error("protocol error, terminating session", "error", err)
			a.shutdown()
			return
		}
		a.send(msgs)

	case connClosedEvent:
		if e.err != nil {
			a.logger.Warn("connection closed", "error", e.err)
		}

	case invalidFrameEvent:
		a.logger.Error("received invalid frame, terminating session", "reason", e.reason)
		a.shutdown()
	}
}

func (a *Actor) send(msgs []wire.Message) {
	for _, m := range msgs {
		if err := wire.WriteFrame(a.conn, m); err != nil {
			a.logger.Warn("write frame failed", "error", err)
			return
		}
	}
}

func (a *Actor) readLoop(conn net.Conn) {
	for {
		msg, err := wire.ReadFrame(conn)
		if err != nil {
			var invalid *wire.ErrInvalidFrame
			if errors.As(err, &invalid) {
				a.eventCh <- invalidFrameEvent{reason: invalid.Reason}
				return
			}
			a.eventCh <- connClosedEvent{err: err}
			return
		}
		a.eventCh <- frameEvent{msg: msg}
	}
}
