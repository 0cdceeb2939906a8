// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/strongdm/filemq"
	"github.com/strongdm/filemq/wire"
)

func newTestSession(t *testing.T) (*Session, string) {
	t.Helper()
	inbox := t.TempDir()
	s := NewSession(nil)
	if err := s.SetInbox(inbox); err != nil {
		t.Fatal(err)
	}
	return s, inbox
}

func TestSetInboxFailsWhenPathCannotBeCreated(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewSession(nil)
	// blocker is a regular file, so MkdirAll underneath it must fail.
	if err := s.SetInbox(filepath.Join(blocker, "inbox")); err == nil {
		t.Fatal("expected SetInbox to fail for an uncreatable inbox path")
	}
}

func TestSetInboxSucceedsOnSecondCallFails(t *testing.T) {
	s, inbox := newTestSession(t)
	if err := s.SetInbox(inbox); err != filemq.ErrInboxAlreadySet {
		t.Fatalf("expected ErrInboxAlreadySet, got %v", err)
	}
}

func TestCreateAssemblesFileAcrossChunks(t *testing.T) {
	s, inbox := newTestSession(t)

	if _, err := s.HandleFrame(wire.Cheezburger{
		Sequence: 1, Operation: wire.OpCreate, Filename: "/a.txt", Offset: 0, Chunk: []byte("hel"),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.HandleFrame(wire.Cheezburger{
		Sequence: 2, Operation: wire.OpCreate, Filename: "/a.txt", Offset: 3, Chunk: []byte("lo"),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.HandleFrame(wire.Cheezburger{
		Sequence: 3, Operation: wire.OpCreate, Filename: "/a.txt", Offset: 5, EOF: true,
	}); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(inbox, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("expected assembled content %q, got %q", "hello", got)
	}
	if _, ok := s.files["/a.txt"]; ok {
		t.Fatal("expected writer to be closed after EOF")
	}
}

func TestDeleteRemovesFile(t *testing.T) {
	s, inbox := newTestSession(t)
	path := filepath.Join(inbox, "gone.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := s.HandleFrame(wire.Cheezburger{
		Sequence: 1, Operation: wire.OpDelete, Filename: "/gone.txt",
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file to be removed, stat err = %v", err)
	}
}

func TestDeleteOfAbsentFileIsIgnored(t *testing.T) {
	s, _ := newTestSession(t)
	if _, err := s.HandleFrame(wire.Cheezburger{
		Sequence: 1, Operation: wire.OpDelete, Filename: "/never-existed.txt",
	}); err != nil {
		t.Fatal(err)
	}
}

func TestSequenceGapIsFatal(t *testing.T) {
	s, _ := newTestSession(t)
	if _, err := s.HandleFrame(wire.Cheezburger{Sequence: 1, Operation: wire.OpCreate, Filename: "/a.txt", EOF: true}); err != nil {
		t.Fatal(err)
	}
	_, err := s.HandleFrame(wire.Cheezburger{Sequence: 1, Operation: wire.OpCreate, Filename: "/b.txt", EOF: true})
	if err != filemq.ErrSequenceGap {
		t.Fatalf("expected ErrSequenceGap for a non-increasing sequence, got %v", err)
	}
}

func TestRefillIssuesNomsUntilQuota(t *testing.T) {
	s, _ := newTestSession(t)
	msgs, err := s.HandleFrame(wire.Cheezburger{Sequence: 1, Operation: wire.OpCreate, Filename: "/a.txt", EOF: true})
	if err != nil {
		t.Fatal(err)
	}

	var totalCredit uint64
	for _, m := range msgs {
		nom, ok := m.(wire.Nom)
		if !ok {
			t.Fatalf("expected only NOM frames, got %T", m)
		}
		totalCredit += nom.Credit
	}
	if totalCredit < uint64(filemq.CreditMinimum) {
		t.Fatalf("expected refill to reach credit minimum %d, got %d", filemq.CreditMinimum, totalCredit)
	}
}

func TestHandshakeEmitsIcanhazPerSubscription(t *testing.T) {
	s := NewSession(nil)
	s.Connecting()
	s.Subscribe("/photos")
	s.Subscribe("/docs")

	msgs, err := s.HandleFrame(wire.OhaiOk{})
	if err != nil {
		t.Fatal(err)
	}

	var icanhaz int
	for _, m := range msgs {
		if _, ok := m.(wire.Icanhaz); ok {
			icanhaz++
		}
	}
	if icanhaz != 2 {
		t.Fatalf("expected one ICANHAZ per subscription, got %d", icanhaz)
	}
	if s.State() != StateConnected {
		t.Fatalf("expected CONNECTED after OHAI_OK, got %s", s.State())
	}
}
