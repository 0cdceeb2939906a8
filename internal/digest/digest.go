// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package digest computes the opaque content digests that the server's
// mount registry and the client session use (injected as a DigestFunc) to
// recognize unchanged files and to elide transfers a subscriber already
// has.
package digest

import (
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Size is the length in bytes of a digest produced by Sum.
const Size = 32

// Sum returns the BLAKE3-256 digest of the file at path.
func Sum(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("digest: open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("digest: read %s: %w", path, err)
	}
	sum := h.Sum(nil)
	return sum, nil
}
