// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package mount

import (
	"bytes"
	"fmt"

	"github.com/strongdm/filemq"
	"github.com/strongdm/filemq/snapshot"
)

// DigestFunc computes the content digest of the file at path. Injected so
// Mount stays independent of any one hash algorithm (see internal/digest).
type DigestFunc func(path string) ([]byte, error)

// Mount pairs a physical directory with a virtual alias and owns every
// subscription against it. Created on PUBLISH, destroyed only when the
// server terminates; mutated only by the server actor's single refresh
// loop, so it carries no internal locking.
type Mount struct {
	Location string
	Alias    string

	tracker       *snapshot.Tracker
	subscriptions []*Subscription
}

// New creates a Mount publishing location under alias. opts configure the
// underlying snapshot capture (exclusions, symlink handling, and so on).
func New(location, alias string, opts ...snapshot.Option) *Mount {
	return &Mount{
		Location: location,
		Alias:    alias,
		tracker:  snapshot.NewTracker(location, alias, opts...),
	}
}

// Subscriptions returns the mount's current subscription list. Callers must
// not retain it past the next Subscribe/Unsubscribe/Refresh call.
func (m *Mount) Subscriptions() []*Subscription {
	return m.subscriptions
}

// Refresh implements mount_refresh: it captures a new snapshot, diffs it
// against the previous one, and fans the resulting patches out to every
// covering subscription via SubPatchAdd. Returns whether any patch was
// produced by the diff (regardless of how many subscriptions, if any, were
// actually interested). A patch that SubPatchAdd rejects with an error is
// dropped for that subscription; Refresh does not report or log it.
func (m *Mount) Refresh(digestFn DigestFunc) (bool, error) {
	patches, err := m.tracker.Refresh()
	if err != nil {
		return false, fmt.Errorf("mount %s: refresh: %w", m.Alias, err)
	}
	if len(patches) == 0 {
		return false, nil
	}

	for _, patch := range patches {
		for _, sub := range m.subscriptions {
			if !sub.covers(patch.VPath) {
				continue
			}
			SubPatchAdd(sub, patch, digestFn)
		}
	}
	return true, nil
}

// SubPatchAdd implements sub_patch_add, the most load-bearing registry
// operation: it computes the patch's digest, elides it if the subscriber's
// cache already holds an identical file at that vpath, discards any
// superseded patch already queued for the same vpath, updates the
// subscriber's digest cache for a Create, and finally enqueues a deep copy
// of the patch onto the subscriber's client.
//
// A digest computation failure is a transient I/O error: it is returned to
// the caller, and the patch is dropped rather than queued with an unknown
// digest.
func SubPatchAdd(sub *Subscription, patch *filemq.Patch, digestFn DigestFunc) error {
	digest, err := patch.Digest(digestFn)
	if err != nil {
		return fmt.Errorf("sub %s: digest %s: %w", sub.Path, patch.VPath, err)
	}

	if patch.Op == filemq.Create {
		if cached, ok := sub.digestCache[patch.VPath]; ok && bytes.Equal(cached, digest) {
			return nil // client already has this content
		}
	}

	sub.Client.RemoveQueued(patch.VPath) // newer patch supersedes any still-pending one

	if patch.Op == filemq.Create {
		if sub.digestCache == nil {
			sub.digestCache = make(map[string][]byte)
		}
		sub.digestCache[patch.VPath] = digest
	}

	sub.Client.EnqueuePatch(patch.Clone())
	return nil
}
