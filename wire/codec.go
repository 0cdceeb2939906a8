// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"encoding/binary"
)

func writeShortString(buf *bytes.Buffer, s string) {
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
}

func writeLongString(buf *bytes.Buffer, s string) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(s)))
	buf.Write(length[:])
	buf.WriteString(s)
}

func writeChunk(buf *bytes.Buffer, b []byte) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(b)))
	buf.Write(length[:])
	buf.Write(b)
}

func writeNumber(buf *bytes.Buffer, n uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	buf.Write(b[:])
}

func writeMap(buf *bytes.Buffer, m map[string]string) {
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(m)))
	buf.Write(count[:])
	for k, v := range m {
		writeShortString(buf, k)
		writeLongString(buf, v)
	}
}

// decoder reads fixed- and variable-length fields off a byte slice,
// bounds-checking every read against what remains. It never allocates more
// than a declared field's length prefix promises.
type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) remaining() int { return len(d.buf) - d.pos }

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || d.remaining() < n {
		return nil, invalid("truncated field")
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) byte_() (byte, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *decoder) number() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, invalid("truncated number")
	}
	return binary.BigEndian.Uint64(b), nil
}

func (d *decoder) shortString() (string, error) {
	n, err := d.byte_()
	if err != nil {
		return "", invalid("truncated short-string length")
	}
	b, err := d.take(int(n))
	if err != nil {
		return "", invalid("truncated short-string")
	}
	return string(b), nil
}

func (d *decoder) longString() (string, error) {
	lenBytes, err := d.take(4)
	if err != nil {
		return "", invalid("truncated long-string length")
	}
	n := binary.BigEndian.Uint32(lenBytes)
	if int(n) > d.remaining() {
		return "", invalid("long-string length exceeds frame")
	}
	b, err := d.take(int(n))
	if err != nil {
		return "", invalid("truncated long-string")
	}
	return string(b), nil
}

func (d *decoder) chunk() ([]byte, error) {
	lenBytes, err := d.take(4)
	if err != nil {
		return nil, invalid("truncated chunk length")
	}
	n := binary.BigEndian.Uint32(lenBytes)
	if int(n) > d.remaining() {
		return nil, invalid("chunk length exceeds frame")
	}
	if n == 0 {
		return nil, nil
	}
	b, err := d.take(int(n))
	if err != nil {
		return nil, invalid("truncated chunk")
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (d *decoder) stringMap() (map[string]string, error) {
	countBytes, err := d.take(4)
	if err != nil {
		return nil, invalid("truncated map count")
	}
	count := binary.BigEndian.Uint32(countBytes)
	if count > maxMapEntries {
		return nil, invalid("map entry count overflow")
	}
	// Each entry needs at least 1 (short-string length) + 4 (long-string
	// length) bytes, so a declared count larger than what could possibly
	// fit in the remaining buffer is rejected up front rather than trusted
	// into a large allocation.
	if int(count) > d.remaining()/5 {
		return nil, invalid("map entry count exceeds frame")
	}
	if count == 0 {
		return nil, nil
	}

	m := make(map[string]string, count)
	for i := uint32(0); i < count; i++ {
		key, err := d.shortString()
		if err != nil {
			return nil, err
		}
		value, err := d.longString()
		if err != nil {
			return nil, err
		}
		m[key] = value
	}
	return m, nil
}
