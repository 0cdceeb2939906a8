// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package client implements the client side of FileMQ: the per-connection
// FSM that materializes incoming patches into a local inbox, and the Actor
// that hosts the connection, the inbox, and the command API.
package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/strongdm/filemq"
	"github.com/strongdm/filemq/wire"
)

// State is a Session's position in the client-side FSM.
type State int

const (
	StateStart State = iota
	StateConnecting
	StateConnected
	StateSubscribed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "START"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateSubscribed:
		return "SUBSCRIBED"
	case StateTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DigestFunc computes the content digest of the file at path, used to
// refresh the digest cache once a transfer completes (see internal/digest
// for the production BLAKE3 implementation).
type DigestFunc func(path string) ([]byte, error)

// Session is the per-connection client FSM. Driven exclusively by the
// owning Actor's event loop; it takes no lock on its own fields.
type Session struct {
	inbox    string
	inboxSet bool
	subs     []string

	state    State
	credit   uint64
	sequence uint64

	files       map[string]*os.File
	digestCache map[string][]byte

	digestFn DigestFunc
}

// NewSession creates a Session with no inbox yet configured (see SetInbox).
// digestFn may be nil, in which case completed transfers are never added to
// the digest cache.
func NewSession(digestFn DigestFunc) *Session {
	return &Session{
		files:       make(map[string]*os.File),
		digestCache: make(map[string][]byte),
		digestFn:    digestFn,
		state:       StateStart,
	}
}

// SetInbox configures the local directory transfers are materialized into.
// Implements the SET INBOX command: a second call fails with
// ErrInboxAlreadySet. Creates the directory and write-probes it
// synchronously so an unwritable inbox is a fatal, reported error here
// rather than a silent drop on the first CHEEZBURGER.
func (s *Session) SetInbox(path string) error {
	if s.inboxSet {
		return filemq.ErrInboxAlreadySet
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("client: create inbox %s: %w", path, err)
	}
	probe, err := os.CreateTemp(path, ".filemq-writeprobe-*")
	if err != nil {
		return fmt.Errorf("client: inbox %s not writable: %w", path, err)
	}
	probe.Close()
	os.Remove(probe.Name())

	s.inbox = path
	s.inboxSet = true
	return nil
}

// State returns the session's current FSM state.
func (s *Session) State() State { return s.state }

// Connecting transitions START → CONNECTING, called when the actor begins
// dialing the server.
func (s *Session) Connecting() { s.state = StateConnecting }

// DigestCache returns a copy of the vpath→digest cache accumulated from
// completed transfers, suitable for persisting via internal/manifest and
// for advertising on the next ICANHAZ after a restart.
func (s *Session) DigestCache() map[string][]byte {
	out := make(map[string][]byte, len(s.digestCache))
	for k, v := range s.digestCache {
		out[k] = v
	}
	return out
}

// LoadDigestCache seeds the session's digest cache, e.g. from a manifest
// persisted by a previous run.
func (s *Session) LoadDigestCache(cache map[string][]byte) {
	for k, v := range cache {
		s.digestCache[k] = v
	}
}

// Subscribe registers path as a subscription. If the session is already
// connected, returns the ICANHAZ frame to send immediately; otherwise the
// subscription is issued automatically once the handshake completes.
func (s *Session) Subscribe(path string) *wire.Icanhaz {
	s.subs = append(s.subs, path)
	if s.state == StateConnected || s.state == StateSubscribed {
		req := s.icanhazFor(path)
		return &req
	}
	return nil
}

func (s *Session) icanhazFor(path string) wire.Icanhaz {
	cache := make(map[string]string)
	for vpath, digest := range s.digestCache {
		if coversPath(path, vpath) {
			cache[vpath] = fmt.Sprintf("%x", digest)
		}
	}
	return wire.Icanhaz{Path: path, Cache: cache}
}

// coversPath reports whether subPath is vpath itself or a virtual ancestor
// of it. Mirrors mount.Covers on the server side; kept as a small
// standalone copy so the client package doesn't need to import the
// server-side mount registry.
func coversPath(subPath, vpath string) bool {
	if subPath == "/" {
		return true
	}
	if vpath == subPath {
		return true
	}
	return strings.HasPrefix(vpath, strings.TrimSuffix(subPath, "/")+"/")
}

// HandleFrame advances the FSM in response to one decoded frame from the
// server, returning the frames (if any) the actor should write back.
func (s *Session) HandleFrame(msg wire.Message) ([]wire.Message, error) {
	switch v := msg.(type) {
	case wire.OhaiOk:
		if s.state != StateConnecting {
			return nil, nil
		}
		s.state = StateConnected
		var out []wire.Message
		for _, path := range s.subs {
			out = append(out, s.icanhazFor(path))
		}
		out = append(out, s.refill()...)
		return out, nil

	case wire.IcanhazOk:
		if s.state == StateConnected {
			s.state = StateSubscribed
		}
		return nil, nil

	case wire.Cheezburger:
		if v.Sequence != s.sequence+1 {
			return nil, filemq.ErrSequenceGap
		}
		s.sequence = v.Sequence
		s.applyPatch(v)
		s.debitCredit(uint64(len(v.Chunk)))
		return s.refill(), nil

	case wire.Hugz:
		return []wire.Message{wire.HugzOk{}}, nil

	case wire.HugzOk:
		return nil, nil

	case wire.Srsly:
		return nil, nil // non-fatal, server rejected one frame

	case wire.Rtfm:
		s.state = StateTerminated
		return nil, &filemq.ProtocolError{Reason: v.Reason}

	default:
		return nil, nil
	}
}

// refill implements refill_credit_as_needed: while credit-outstanding is
// below CreditMinimum, issue NOM frames in CreditSlice units until back at
// quota.
func (s *Session) refill() []wire.Message {
	var noms []wire.Message
	for s.credit < uint64(filemq.CreditMinimum) {
		s.credit += uint64(filemq.CreditSlice)
		noms = append(noms, wire.Nom{Credit: uint64(filemq.CreditSlice), Sequence: s.sequence})
	}
	return noms
}

func (s *Session) debitCredit(n uint64) {
	if n > s.credit {
		s.credit = 0
		return
	}
	s.credit -= n
}

// applyPatch materializes one CHEEZBURGER into the inbox. I/O failures are
// transient per spec: the patch is dropped without terminating the session.
// The failure is not reported to the caller or logged.
func (s *Session) applyPatch(cb wire.Cheezburger) {
	path := filepath.Join(s.inbox, cb.Filename)

	if cb.Operation == wire.OpDelete {
		if f, ok := s.files[cb.Filename]; ok {
			f.Close()
			delete(s.files, cb.Filename)
		}
		os.Remove(path)
		return
	}

	if cb.Offset == 0 {
		if f, ok := s.files[cb.Filename]; ok {
			f.Close()
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return
		}
		f, err := os.Create(path)
		if err != nil {
			return
		}
		s.files[cb.Filename] = f
	}

	f, ok := s.files[cb.Filename]
	if !ok {
		return // chunk for a file we never saw offset 0 for; drop it
	}

	if len(cb.Chunk) > 0 {
		if _, err := f.WriteAt(cb.Chunk, int64(cb.Offset)); err != nil {
			return
		}
	}

	if cb.EOF || len(cb.Chunk) == 0 {
		f.Close()
		delete(s.files, cb.Filename)
		if s.digestFn != nil {
			if sum, err := s.digestFn(path); err == nil {
				s.digestCache[cb.Filename] = sum
			}
		}
	}
}
