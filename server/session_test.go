// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/strongdm/filemq"
	"github.com/strongdm/filemq/mount"
	"github.com/strongdm/filemq/wire"
)

func writeTempFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newConnectedSession(t *testing.T, registry *mount.Registry) *Session {
	t.Helper()
	s := NewSession(uuid.New(), registry)
	if _, err := s.HandleFrame(wire.Ohai{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.HandleFrame(wire.Icanhaz{Path: "/photos"}); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateConnected {
		t.Fatalf("expected CONNECTED after handshake, got %s", s.State())
	}
	return s
}

func TestCreditSafetyNeverExceedsGranted(t *testing.T) {
	dir := t.TempDir()
	abs := writeTempFile(t, dir, "big.bin", 2_000_000)

	registry := mount.NewRegistry()
	if _, err := registry.Publish(dir, "/photos"); err != nil {
		t.Fatal(err)
	}
	s := newConnectedSession(t, registry)

	s.EnqueuePatch(filemq.NewCreate("/photos/big.bin", &filemq.FileHandle{AbsPath: abs, Size: 2_000_000}))

	granted := uint64(filemq.CreditMinimum)
	msgs, err := s.HandleFrame(wire.Nom{Credit: granted})
	if err != nil {
		t.Fatal(err)
	}

	var emitted uint64
	for _, m := range msgs {
		cb, ok := m.(wire.Cheezburger)
		if !ok {
			continue
		}
		emitted += uint64(len(cb.Chunk))
	}
	if emitted > granted {
		t.Fatalf("emitted %d bytes exceeds granted credit %d", emitted, granted)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected two 1MB chunks plus one zero-length EOF, got %d frames", len(msgs))
	}
	last := msgs[len(msgs)-1].(wire.Cheezburger)
	if len(last.Chunk) != 0 || !last.EOF {
		t.Fatalf("expected final frame to be a zero-length EOF, got %+v", last)
	}
}

func TestMonotonicSequence(t *testing.T) {
	dir := t.TempDir()
	abs1 := writeTempFile(t, dir, "a.txt", 10)
	abs2 := writeTempFile(t, dir, "b.txt", 10)

	registry := mount.NewRegistry()
	if _, err := registry.Publish(dir, "/photos"); err != nil {
		t.Fatal(err)
	}
	s := newConnectedSession(t, registry)

	s.EnqueuePatch(filemq.NewCreate("/photos/a.txt", &filemq.FileHandle{AbsPath: abs1, Size: 10}))
	s.EnqueuePatch(filemq.NewCreate("/photos/b.txt", &filemq.FileHandle{AbsPath: abs2, Size: 10}))

	msgs, err := s.HandleFrame(wire.Nom{Credit: uint64(filemq.CreditMinimum)})
	if err != nil {
		t.Fatal(err)
	}

	var lastSeq uint64
	for i, m := range msgs {
		cb, ok := m.(wire.Cheezburger)
		if !ok {
			t.Fatalf("frame %d: expected Cheezburger, got %T", i, m)
		}
		if i > 0 && cb.Sequence <= lastSeq {
			t.Fatalf("sequence did not strictly increase: %d then %d", lastSeq, cb.Sequence)
		}
		lastSeq = cb.Sequence
	}
}

func TestDeletePatchConsumesNoCredit(t *testing.T) {
	registry := mount.NewRegistry()
	if _, err := registry.Publish(t.TempDir(), "/photos"); err != nil {
		t.Fatal(err)
	}
	s := newConnectedSession(t, registry)
	s.EnqueuePatch(filemq.NewDelete("/photos/gone.txt"))

	msgs, err := s.Dispatch()
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected a single DELETE frame, got %d", len(msgs))
	}
	cb := msgs[0].(wire.Cheezburger)
	if cb.Operation != wire.OpDelete || cb.Filename != "/photos/gone.txt" {
		t.Fatalf("unexpected delete frame: %+v", cb)
	}
	if s.credit != 0 {
		t.Fatalf("delete should not touch credit, got %d", s.credit)
	}
}

func TestUnexpectedFrameEmitsSrslyWithoutTerminating(t *testing.T) {
	registry := mount.NewRegistry()
	s := NewSession(uuid.New(), registry)

	msgs, err := s.HandleFrame(wire.Nom{Credit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one reply, got %d", len(msgs))
	}
	if _, ok := msgs[0].(wire.Srsly); !ok {
		t.Fatalf("expected SRSLY, got %T", msgs[0])
	}
	if s.State() != StateStart {
		t.Fatalf("unexpected frame must not change state, got %s", s.State())
	}
}

func TestKthxbaiTerminatesSession(t *testing.T) {
	registry := mount.NewRegistry()
	if _, err := registry.Publish(t.TempDir(), "/photos"); err != nil {
		t.Fatal(err)
	}
	s := newConnectedSession(t, registry)

	if _, err := s.HandleFrame(wire.Kthxbai{}); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateDisconnected {
		t.Fatalf("expected DISCONNECTED after KTHXBAI, got %s", s.State())
	}
}
