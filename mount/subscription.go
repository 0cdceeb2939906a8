// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package mount

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"github.com/strongdm/filemq"
)

// ClientID identifies the client a Subscription belongs to. The server
// actor mints one per accepted connection; Subscription never holds a
// pointer to the session itself, only this identity plus a PatchSink to
// route patches through.
type ClientID = uuid.UUID

// PatchSink is the subset of a server-side client session a Subscription
// needs: its identity, and the ability to enqueue a patch onto (or discard
// one from) that session's patch queue. Implemented by server.Session.
type PatchSink interface {
	ID() ClientID
	EnqueuePatch(p *filemq.Patch)
	RemoveQueued(vpath string) bool
}

// Subscription is a client's declared interest in one virtual subtree of a
// Mount, plus the client's hint of which files under it are already cached.
type Subscription struct {
	Client PatchSink
	Path   string

	// digestCache maps vpath → digest for files the client has already
	// fetched. Keys are always absolute; a bare relative key advertised by
	// the client is canonicalized to Path + "/" + key when the
	// subscription is created.
	digestCache map[string][]byte
}

func newSubscription(client PatchSink, path string, cache map[string]string) *Subscription {
	sub := &Subscription{
		Client:      client,
		Path:        path,
		digestCache: make(map[string][]byte, len(cache)),
	}
	for key, digestHex := range cache {
		sum, err := hex.DecodeString(digestHex)
		if err != nil {
			continue // malformed cache hint; treat as "not cached"
		}
		vpath := key
		if !strings.HasPrefix(vpath, "/") {
			vpath = path + "/" + key
		}
		sub.digestCache[vpath] = sum
	}
	return sub
}

// covers reports whether vpath falls within sub's subtree.
func (sub *Subscription) covers(vpath string) bool {
	return Covers(sub.Path, vpath)
}

// Covers reports whether subPath is vpath itself, or a virtual ancestor
// directory of it ("/" covers everything). Used both for subscription
// matching and for resolving which mount an ICANHAZ path belongs to.
func Covers(subPath, vpath string) bool {
	if subPath == "/" {
		return true
	}
	if vpath == subPath {
		return true
	}
	return strings.HasPrefix(vpath, strings.TrimSuffix(subPath, "/")+"/")
}

// isAncestorOrEqual reports whether a is subPath equal to, or a virtual
// ancestor of, b — i.e. whether a subscription rooted at a already covers
// everything a subscription rooted at b would receive.
func isAncestorOrEqual(a, b string) bool {
	return Covers(a, b)
}

// Subscribe implements mount_sub_store: it coalesces m's subscription list
// for client so that no two stored subscriptions have one's path nested
// inside the other's.
//
//   - If an existing subscription's path already covers path (equal to it,
//     or a virtual ancestor), the new subscription is redundant and ignored.
//   - If path is itself an ancestor of an existing subscription's path, the
//     existing one is superseded and removed.
//   - Otherwise the new subscription is appended.
//
// Returns the subscription now in effect for (client, path): either the
// newly stored one, or the existing one that already covers it.
func (m *Mount) Subscribe(client PatchSink, path string, cache map[string]string) *Subscription {
	for _, existing := range m.subscriptions {
		if existing.Client.ID() != client.ID() {
			continue
		}
		if isAncestorOrEqual(existing.Path, path) {
			return existing
		}
	}

	kept := m.subscriptions[:0]
	for _, existing := range m.subscriptions {
		if existing.Client.ID() == client.ID() && isAncestorOrEqual(path, existing.Path) {
			continue // superseded by the broader new subscription
		}
		kept = append(kept, existing)
	}
	m.subscriptions = kept

	sub := newSubscription(client, path, cache)
	m.subscriptions = append(m.subscriptions, sub)
	return sub
}

// Unsubscribe implements mount_sub_purge: it removes every subscription
// belonging to client, regardless of path.
func (m *Mount) Unsubscribe(client ClientID) {
	kept := m.subscriptions[:0]
	for _, existing := range m.subscriptions {
		if existing.Client.ID() == client {
			continue
		}
		kept = append(kept, existing)
	}
	m.subscriptions = kept
}
