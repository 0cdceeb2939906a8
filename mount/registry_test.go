// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package mount

import (
	"encoding/hex"
	"testing"

	"github.com/google/uuid"
	"github.com/strongdm/filemq"
)

// fakeSink is a minimal PatchSink recording every enqueue/remove call, used
// to test mount's coalescing and cache-elision logic without a real
// server.Session.
type fakeSink struct {
	id    ClientID
	queue []*filemq.Patch
}

func newFakeSink() *fakeSink { return &fakeSink{id: uuid.New()} }

func (s *fakeSink) ID() ClientID { return s.id }

func (s *fakeSink) EnqueuePatch(p *filemq.Patch) {
	s.queue = append(s.queue, p)
}

func (s *fakeSink) RemoveQueued(vpath string) bool {
	for i, p := range s.queue {
		if p.VPath == vpath {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return true
		}
	}
	return false
}

func constDigest(sum []byte) DigestFunc {
	return func(string) ([]byte, error) { return sum, nil }
}

func TestSubPatchAddCacheElision(t *testing.T) {
	sink := newFakeSink()
	m := New("/tmp/pub", "/photos")
	sub := m.Subscribe(sink, "/photos", map[string]string{
		"/photos/a.txt": hex.EncodeToString([]byte("digest-a")),
	})

	patch := filemq.NewCreate("/photos/a.txt", &filemq.FileHandle{AbsPath: "/tmp/pub/a.txt"})
	if err := SubPatchAdd(sub, patch, constDigest([]byte("digest-a"))); err != nil {
		t.Fatal(err)
	}
	if len(sink.queue) != 0 {
		t.Fatalf("expected cached file to be elided, got queue %v", sink.queue)
	}
}

func TestSubPatchAddQueuesChangedFile(t *testing.T) {
	sink := newFakeSink()
	m := New("/tmp/pub", "/photos")
	sub := m.Subscribe(sink, "/photos", map[string]string{
		"/photos/a.txt": hex.EncodeToString([]byte("old-digest")),
	})

	patch := filemq.NewCreate("/photos/a.txt", &filemq.FileHandle{AbsPath: "/tmp/pub/a.txt"})
	if err := SubPatchAdd(sub, patch, constDigest([]byte("new-digest"))); err != nil {
		t.Fatal(err)
	}
	if len(sink.queue) != 1 || sink.queue[0].VPath != "/photos/a.txt" {
		t.Fatalf("expected one queued patch for the changed file, got %v", sink.queue)
	}
}

func TestSubPatchAddCoalescesSameVpath(t *testing.T) {
	sink := newFakeSink()
	m := New("/tmp/pub", "/photos")
	sub := m.Subscribe(sink, "/photos", nil)

	first := filemq.NewCreate("/photos/a.txt", &filemq.FileHandle{AbsPath: "/tmp/pub/a.txt"})
	second := filemq.NewCreate("/photos/a.txt", &filemq.FileHandle{AbsPath: "/tmp/pub/a.txt"})

	digestFn := constDigest([]byte("digest"))
	if err := SubPatchAdd(sub, first, digestFn); err != nil {
		t.Fatal(err)
	}
	if err := SubPatchAdd(sub, second, digestFn); err != nil {
		t.Fatal(err)
	}

	if len(sink.queue) != 1 {
		t.Fatalf("expected only the most recent patch to survive, got %d queued", len(sink.queue))
	}
	if sink.queue[0].VPath != second.VPath {
		t.Fatalf("expected surviving patch to be the second one queued")
	}
}

func TestSubscribeCoalescing(t *testing.T) {
	sink := newFakeSink()
	m := New("/tmp/pub", "/photos")

	m.Subscribe(sink, "/photos", nil)
	m.Subscribe(sink, "/photos/2024", nil)
	if got := len(m.Subscriptions()); got != 1 {
		t.Fatalf("narrower subscription should be ignored, got %d subscriptions", got)
	}
	if m.Subscriptions()[0].Path != "/photos" {
		t.Fatalf("expected the broader subscription to remain, got %s", m.Subscriptions()[0].Path)
	}
}

func TestSubscribeSupersedesNarrower(t *testing.T) {
	sink := newFakeSink()
	m := New("/tmp/pub", "/photos")

	m.Subscribe(sink, "/photos/2024", nil)
	m.Subscribe(sink, "/photos", nil)
	if got := len(m.Subscriptions()); got != 1 {
		t.Fatalf("expected the narrower subscription to be superseded, got %d subscriptions", got)
	}
	if m.Subscriptions()[0].Path != "/photos" {
		t.Fatalf("expected the broader subscription to remain, got %s", m.Subscriptions()[0].Path)
	}
}

func TestUnsubscribePurgesAllPaths(t *testing.T) {
	sink := newFakeSink()
	m := New("/tmp/pub", "/photos")
	m.Subscribe(sink, "/photos", nil)
	m.Subscribe(sink, "/docs", nil)

	other := newFakeSink()
	m.Subscribe(other, "/photos/2024/private", nil)

	m.Unsubscribe(sink.ID())
	if got := len(m.Subscriptions()); got != 1 {
		t.Fatalf("expected only the departed client's subscriptions to be purged, got %d remaining", got)
	}
	if m.Subscriptions()[0].Client.ID() != other.ID() {
		t.Fatalf("expected the other client's subscription to survive")
	}
}
