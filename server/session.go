// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package server implements the server side of FileMQ: one Session per
// connected client (handshake, subscription, chunked dispatch, credit
// accounting) and the Actor that hosts the mount registry and fans
// dispatch events out to every session.
package server

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/strongdm/filemq"
	"github.com/strongdm/filemq/mount"
	"github.com/strongdm/filemq/wire"
)

// State is a Session's position in the server-side client FSM.
type State int

const (
	StateStart State = iota
	StateHandlingOhai
	StateConnected
	StateSendingChunk
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "START"
	case StateHandlingOhai:
		return "HANDLING_OHAI"
	case StateConnected:
		return "CONNECTED"
	case StateSendingChunk:
		return "SENDING_CHUNK"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is the per-client state machine on the server side. It is driven
// exclusively by the owning Actor's event loop; it takes no lock on its own
// fields because no other goroutine ever touches them.
type Session struct {
	id       uuid.UUID
	registry *mount.Registry

	state    State
	credit   uint64
	sequence uint64
	queue    []*filemq.Patch

	currentFile *os.File
	fileSize    int64
	offset      int64
}

// NewSession creates a Session identified by id, dispatching against the
// mounts in registry.
func NewSession(id uuid.UUID, registry *mount.Registry) *Session {
	return &Session{id: id, registry: registry, state: StateStart}
}

// ID implements mount.PatchSink.
func (s *Session) ID() mount.ClientID { return s.id }

// State returns the session's current FSM state.
func (s *Session) State() State { return s.state }

// EnqueuePatch implements mount.PatchSink: it appends patch to the
// session's dispatch queue. Called only from the mount registry's refresh
// path, which in turn only ever runs on the actor's own goroutine.
func (s *Session) EnqueuePatch(p *filemq.Patch) {
	s.queue = append(s.queue, p)
}

// RemoveQueued implements mount.PatchSink: it discards the first still-
// pending patch for vpath, if any, so a newer patch can supersede it.
// Never touches the in-flight current patch (which has already started
// streaming and cannot be un-sent).
func (s *Session) RemoveQueued(vpath string) bool {
	for i, p := range s.queue {
		if i == 0 && s.currentFile != nil {
			continue // queue head is the in-flight patch
		}
		if p.VPath == vpath {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Close releases any open file handle and purges this session's
// subscriptions from every mount. Safe to call from any state.
func (s *Session) Close() {
	if s.currentFile != nil {
		s.currentFile.Close()
		s.currentFile = nil
	}
	s.registry.Unsubscribe(s.id)
	s.state = StateDisconnected
}

// unexpected builds the SRSLY reply for a well-formed frame that is not
// valid in the session's current state. The session is not terminated.
func (s *Session) unexpected(msg wire.Message) []wire.Message {
	return []wire.Message{wire.Srsly{
		Reason: fmt.Sprintf("unexpected %s in state %s", msg.ID(), s.state),
	}}
}

// HandleFrame advances the FSM in response to one decoded frame from the
// client, returning the frames (if any) the actor should write back.
func (s *Session) HandleFrame(msg wire.Message) ([]wire.Message, error) {
	switch v := msg.(type) {
	case wire.Ohai:
		if s.state != StateStart {
			return s.unexpected(msg), nil
		}
		s.state = StateHandlingOhai
		return []wire.Message{wire.OhaiOk{}}, nil

	case wire.Icanhaz:
		if s.state != StateHandlingOhai && s.state != StateConnected {
			return s.unexpected(msg), nil
		}
		m, ok := s.mountFor(v.Path)
		if !ok {
			return []wire.Message{wire.Srsly{Reason: "no mount covers " + v.Path}}, nil
		}
		m.Subscribe(s, v.Path, v.Cache)
		s.state = StateConnected
		return []wire.Message{wire.IcanhazOk{}}, nil

	case wire.Nom:
		if s.state != StateConnected && s.state != StateSendingChunk {
			return s.unexpected(msg), nil
		}
		s.credit += v.Credit
		return s.drain()

	case wire.Hugz:
		return []wire.Message{wire.HugzOk{}}, nil

	case wire.HugzOk:
		return nil, nil

	case wire.Kthxbai:
		s.Close()
		return nil, nil

	default:
		return s.unexpected(msg), nil
	}
}

// mountFor finds the mount whose alias covers path, used to resolve an
// ICANHAZ request to the registry entry it subscribes against. Implements
// store_client_subscription's longest-alias-prefix match: when more than
// one published mount covers path, the one with the longest alias wins,
// so two overlapping mounts resolve deterministically instead of by
// registry iteration order.
func (s *Session) mountFor(path string) (*mount.Mount, bool) {
	var best *mount.Mount
	for _, m := range s.registry.Mounts() {
		if !mount.Covers(m.Alias, path) {
			continue
		}
		if best == nil || len(m.Alias) > len(best.Alias) {
			best = m
		}
	}
	return best, best != nil
}

// Dispatch implements the broadcast "dispatch" event: from CONNECTED, drive
// the patch queue until it empties or credit runs out. A no-op from any
// other state (in particular SENDING_CHUNK, which only a NOM can unblock).
func (s *Session) Dispatch() ([]wire.Message, error) {
	if s.state != StateConnected {
		return nil, nil
	}
	return s.drain()
}

// drain implements next_patch, called repeatedly until the queue is empty
// (state becomes CONNECTED) or the head-of-queue chunk needs more credit
// than is currently available (state becomes SENDING_CHUNK).
func (s *Session) drain() ([]wire.Message, error) {
	var msgs []wire.Message

	for {
		if len(s.queue) == 0 {
			s.state = StateConnected
			return msgs, nil
		}
		patch := s.queue[0]

		if patch.Op == filemq.Delete {
			s.sequence++
			msgs = append(msgs, wire.Cheezburger{
				Sequence:  s.sequence,
				Operation: wire.OpDelete,
				Filename:  patch.VPath,
				EOF:       true,
			})
			s.queue = s.queue[1:]
			continue
		}

		if s.currentFile == nil {
			f, err := patch.Handle.Open()
			if err != nil {
				// Transient I/O error: drop the patch without reporting it
				// and continue with the next one rather than unwinding the
				// session.
				s.queue = s.queue[1:]
				continue
			}
			s.currentFile = f
			s.fileSize = patch.Handle.Size
			s.offset = 0
		}

		remaining := s.fileSize - s.offset
		n := remaining
		if n > filemq.ChunkSize {
			n = filemq.ChunkSize
		}

		if n > 0 && uint64(n) > s.credit {
			s.state = StateSendingChunk
			return msgs, nil
		}

		var chunk []byte
		if n > 0 {
			chunk = make([]byte, n)
			if _, err := io.ReadFull(s.currentFile, chunk); err != nil {
				s.currentFile.Close()
				s.currentFile = nil
				s.queue = s.queue[1:]
				continue
			}
		}

		startOffset := s.offset
		s.offset += n
		s.credit -= uint64(n)
		s.sequence++
		eof := n == 0

		msgs = append(msgs, wire.Cheezburger{
			Sequence:  s.sequence,
			Operation: wire.OpCreate,
			Filename:  patch.VPath,
			Offset:    uint64(startOffset),
			EOF:       eof,
			Chunk:     chunk,
		})

		if eof {
			s.currentFile.Close()
			s.currentFile = nil
			s.queue = s.queue[1:]
		}
	}
}
