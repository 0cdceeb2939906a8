// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameSize bounds a single frame read off the transport. A CHEEZBURGER
// carries at most one ChunkSize-sized chunk plus a small fixed overhead;
// this leaves generous headroom without trusting an arbitrary length
// prefix from the peer.
const maxFrameSize = 2 << 20

// WriteFrame encodes m and writes it to w prefixed by its own length, the
// length-prefixed-datagram framing the underlying transport is assumed to
// provide reliably and in order (see spec.md §6).
func WriteFrame(w io.Writer, m Message) error {
	body, err := Encode(m)
	if err != nil {
		return err
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r and decodes it.
func ReadFrame(r io.Reader) (Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxFrameSize {
		return nil, invalid("frame length exceeds maximum")
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("wire: read frame body: %w", err)
	}
	return Decode(body)
}
