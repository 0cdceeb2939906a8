// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package mount

import (
	"fmt"
	"sort"

	"github.com/strongdm/filemq/snapshot"
)

// Registry holds every Mount published on a server actor. Exclusively
// owned by the actor's single event loop; never accessed concurrently.
type Registry struct {
	byAlias map[string]*Mount
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byAlias: make(map[string]*Mount)}
}

// Publish creates a Mount for location under alias, implementing the
// server actor's PUBLISH command. Fails if alias is already published.
func (r *Registry) Publish(location, alias string, opts ...snapshot.Option) (*Mount, error) {
	if _, exists := r.byAlias[alias]; exists {
		return nil, fmt.Errorf("mount: alias %s already published", alias)
	}
	m := New(location, alias, opts...)
	r.byAlias[alias] = m
	return m, nil
}

// ByAlias returns the mount published under alias, if any.
func (r *Registry) ByAlias(alias string) (*Mount, bool) {
	m, ok := r.byAlias[alias]
	return m, ok
}

// Mounts returns every published mount, sorted by alias so callers that
// need a deterministic scan order (e.g. resolving an ICANHAZ subscription)
// don't depend on Go's randomized map iteration order.
func (r *Registry) Mounts() []*Mount {
	out := make([]*Mount, 0, len(r.byAlias))
	for _, m := range r.byAlias {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

// Unsubscribe removes client's subscriptions from every mount, implementing
// mount_sub_purge across the whole registry on client departure.
func (r *Registry) Unsubscribe(client ClientID) {
	for _, m := range r.byAlias {
		m.Unsubscribe(client)
	}
}
