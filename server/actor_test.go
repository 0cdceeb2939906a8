// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/strongdm/filemq/wire"
)

type fakeMetrics struct {
	opened, closed int
	chunkBytes     int
	patches        int
	creditsGranted uint64
}

func (m *fakeMetrics) ConnectionOpened()      { m.opened++ }
func (m *fakeMetrics) ConnectionClosed()      { m.closed++ }
func (m *fakeMetrics) ChunkBytesSent(n int)   { m.chunkBytes += n }
func (m *fakeMetrics) PatchDispatched()       { m.patches++ }
func (m *fakeMetrics) CreditGranted(n uint64) { m.creditsGranted += n }

func noopDigest(string) ([]byte, error) { return nil, nil }

func TestActorEndToEndDeliversFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	metrics := &fakeMetrics{}
	actor := NewActor(noopDigest, nil)
	actor.SetMetrics(metrics)

	if err := actor.Publish(dir, "/photos"); err != nil {
		t.Fatal(err)
	}
	port, err := actor.Bind("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- actor.Run(ctx) }()

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := wire.WriteFrame(conn, wire.Ohai{}); err != nil {
		t.Fatal(err)
	}
	if _, err := expectFrame[wire.OhaiOk](t, conn); err != nil {
		t.Fatal(err)
	}

	if err := wire.WriteFrame(conn, wire.Icanhaz{Path: "/photos"}); err != nil {
		t.Fatal(err)
	}
	if _, err := expectFrame[wire.IcanhazOk](t, conn); err != nil {
		t.Fatal(err)
	}

	if err := wire.WriteFrame(conn, wire.Nom{Credit: 1_000_000}); err != nil {
		t.Fatal(err)
	}

	var assembled []byte
	deadline := time.Now().Add(5 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		msg, err := wire.ReadFrame(conn)
		if err != nil {
			t.Fatalf("reading CHEEZBURGER: %v", err)
		}
		cb, ok := msg.(wire.Cheezburger)
		if !ok {
			t.Fatalf("expected Cheezburger, got %T", msg)
		}
		assembled = append(assembled, cb.Chunk...)
		if cb.EOF {
			break
		}
	}

	if string(assembled) != "hello world" {
		t.Fatalf("expected assembled content %q, got %q", "hello world", assembled)
	}

	cancel()
	<-runDone

	if metrics.opened != 1 {
		t.Fatalf("expected ConnectionOpened once, got %d", metrics.opened)
	}
	if metrics.patches != 1 {
		t.Fatalf("expected one patch dispatched, got %d", metrics.patches)
	}
	if metrics.chunkBytes != len("hello world") {
		t.Fatalf("expected %d chunk bytes recorded, got %d", len("hello world"), metrics.chunkBytes)
	}
	if metrics.creditsGranted != 1_000_000 {
		t.Fatalf("expected credit grant recorded, got %d", metrics.creditsGranted)
	}
}

func expectFrame[T wire.Message](t *testing.T, conn net.Conn) (T, error) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	msg, err := wire.ReadFrame(conn)
	if err != nil {
		var zero T
		return zero, err
	}
	v, ok := msg.(T)
	if !ok {
		t.Fatalf("expected %T, got %T", v, msg)
	}
	return v, nil
}
