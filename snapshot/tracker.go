// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package snapshot

import "github.com/strongdm/filemq"

// Tracker holds the current snapshot for one mount and produces the patch
// list for each refresh. It has no internal locking: spec.md's concurrency
// model has a mount mutated only by the server's single refresh task, so a
// Tracker must only ever be driven from that one goroutine.
type Tracker struct {
	location string
	alias    string
	opts     []Option

	current *Snapshot
}

// NewTracker creates a tracker for incremental snapshots of location,
// published under alias.
func NewTracker(location, alias string, opts ...Option) *Tracker {
	return &Tracker{location: location, alias: alias, opts: opts}
}

// Current returns the most recently captured snapshot, or nil before the
// first Refresh.
func (t *Tracker) Current() *Snapshot {
	return t.current
}

// Refresh captures a new snapshot and diffs it against the previous one,
// replacing the tracker's current snapshot. Returns the ordered patch list
// produced by the diff (empty, not nil, if nothing changed).
func (t *Tracker) Refresh() ([]*filemq.Patch, error) {
	next, err := Capture(t.location, t.alias, t.opts...)
	if err != nil {
		return nil, err
	}
	patches := Diff(t.current, next)
	t.current = next
	return patches, nil
}
