// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package manifest persists a client's virtual-path-to-digest cache across
// restarts, so a client that reconnects advertises the same cache it would
// have held had it never disconnected.
package manifest

import (
	"bytes"
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

// record is the on-disk shape: vpath -> raw digest bytes, msgpack-encoded
// with sorted keys for deterministic bytes across writes.
type record struct {
	Digests map[string][]byte `msgpack:"digests"`
}

// Save msgpack-encodes cache and writes it to path, replacing any existing
// file. Keys are sorted during encoding so repeated saves of an unchanged
// cache produce byte-identical files.
func Save(path string, cache map[string][]byte) error {
	buf := &bytes.Buffer{}
	enc := msgpack.NewEncoder(buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(record{Digests: cache}); err != nil {
		return fmt.Errorf("manifest: encode: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("manifest: write %s: %w", path, err)
	}
	return nil
}

// Load reads and decodes the digest cache at path. A missing file is not an
// error: it returns an empty cache, matching a client's first-ever run.
func Load(path string) (map[string][]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string][]byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}

	var rec record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("manifest: decode %s: %w", path, err)
	}
	if rec.Digests == nil {
		rec.Digests = map[string][]byte{}
	}
	return rec.Digests, nil
}
