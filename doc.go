// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package filemq provides the shared wire-independent data model for the
// FileMQ file-distribution protocol: virtual paths, patches, and the
// constants governing chunking and credit flow control.
//
// FileMQ publishes one or more local directory trees ("mounts") to many
// remote subscribers. A server periodically snapshots each mount, diffs it
// against the previous snapshot, and fans out the resulting create/delete
// patches to every subscription whose path matches. Patches are streamed to
// clients as fixed-size chunks gated by a client-advertised credit budget.
//
// Subpackages:
//
//   - wire: FILEMQ frame encoding/decoding
//   - snapshot: directory walking, digesting, and diffing
//   - mount: server-side mount/subscription registry
//   - server: per-client FSM and server actor
//   - client: per-connection FSM and client actor
package filemq

// ChunkSize is the maximum number of content bytes carried by a single
// CHEEZBURGER frame. A zero-length chunk signals end-of-file.
const ChunkSize = 1_000_000

// CreditSlice is the unit in which a client replenishes its credit.
const CreditSlice = 1_000_000

// CreditMinimum is the credit floor a healthy client session keeps itself
// above once past its first acknowledgement from the server.
const CreditMinimum = 4*CreditSlice + 1
