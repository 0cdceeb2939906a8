// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package mount implements the server-side mount and subscription registry:
// the per-mount list of subscribers, each subscriber's patch queue
// coalescing, and cache-elision against a subscriber's advertised digest
// cache.
//
// A Mount pairs a physical directory with a virtual alias and the snapshot
// tracker that detects changes under it. Subscriptions are owned by their
// Mount; a Subscription references its client only through the PatchSink
// interface, a weak relation purged in full on client departure.
package mount
