// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"reflect"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cases := []Message{
		Ohai{},
		OhaiOk{},
		Icanhaz{
			Path:    "/photos",
			Options: map[string]string{"RESYNC": "false"},
			Cache:   map[string]string{"a.txt": "deadbeef"},
		},
		IcanhazOk{},
		Nom{Credit: 4_000_001, Sequence: 0},
		Cheezburger{
			Sequence:  1,
			Operation: OpCreate,
			Filename:  "/photos/a.txt",
			Offset:    0,
			EOF:       false,
			Headers:   map[string]string{"mtime": "1700000000"},
			Chunk:     []byte("hello"),
		},
		Cheezburger{
			Sequence:  2,
			Operation: OpDelete,
			Filename:  "/photos/b.txt",
		},
		Hugz{},
		HugzOk{},
		Kthxbai{},
		Srsly{Reason: "unexpected frame in state CONNECTED"},
		Rtfm{Reason: "bad magic"},
	}

	for _, m := range cases {
		encoded, err := Encode(m)
		if err != nil {
			t.Fatalf("Encode(%#v): %v", m, err)
		}
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("Decode after Encode(%#v): %v", m, err)
		}
		if !reflect.DeepEqual(m, decoded) {
			t.Errorf("round trip mismatch: got %#v, want %#v", decoded, m)
		}
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	buf := []byte("XXXX\x01\x01")
	if _, err := Decode(buf); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestDecodeRejectsTruncatedFrame(t *testing.T) {
	encoded, err := Encode(Icanhaz{Path: "/x", Options: map[string]string{"k": "v"}})
	if err != nil {
		t.Fatal(err)
	}
	truncated := encoded[:len(encoded)-2]
	if _, err := Decode(truncated); err == nil {
		t.Fatal("expected error for truncated frame")
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	encoded, err := Encode(Hugz{})
	if err != nil {
		t.Fatal(err)
	}
	encoded = append(encoded, 0xFF)
	if _, err := Decode(encoded); err == nil {
		t.Fatal("expected error for trailing bytes")
	}
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	encoded, err := Encode(Hugz{})
	if err != nil {
		t.Fatal(err)
	}
	encoded[4] = 2 // version byte
	if _, err := Decode(encoded); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	original := Cheezburger{
		Sequence:  7,
		Operation: OpCreate,
		Filename:  "/a/b.bin",
		Offset:    1_000_000,
		EOF:       true,
		Chunk:     nil,
	}
	if err := WriteFrame(buf, original); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(original, got) {
		t.Errorf("got %#v, want %#v", got, original)
	}
}
