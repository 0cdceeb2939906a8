// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the FILEMQ binary frame format: encoding and
// decoding of the protocol's message variants to and from byte buffers.
//
// Every frame begins with a 4-byte magic, a 1-byte version, and a 1-byte
// message id, followed by id-specific fields. Strings are length-prefixed
// (a 1-byte "short string" or a 4-byte "long string", as noted per field);
// a string→string map is a 4-byte big-endian entry count followed by that
// many (short-string key, long-string value) pairs; a chunk is a 4-byte
// big-endian length followed by that many content bytes; a number is an
// 8-byte big-endian unsigned integer.
package wire

import (
	"bytes"
	"fmt"
)

// Magic identifies a FILEMQ frame; Version is the only wire version this
// package speaks.
const (
	Magic   = "FMQ1"
	Version = 1
)

// ID identifies a FILEMQ message variant.
type ID uint8

const (
	IDOhai ID = iota + 1
	IDOhaiOk
	IDIcanhaz
	IDIcanhazOk
	IDNom
	IDCheezburger
	IDHugz
	IDHugzOk
	IDKthxbai
	IDSrsly
	IDRtfm
)

func (id ID) String() string {
	switch id {
	case IDOhai:
		return "OHAI"
	case IDOhaiOk:
		return "OHAI_OK"
	case IDIcanhaz:
		return "ICANHAZ"
	case IDIcanhazOk:
		return "ICANHAZ_OK"
	case IDNom:
		return "NOM"
	case IDCheezburger:
		return "CHEEZBURGER"
	case IDHugz:
		return "HUGZ"
	case IDHugzOk:
		return "HUGZ_OK"
	case IDKthxbai:
		return "KTHXBAI"
	case IDSrsly:
		return "SRSLY"
	case IDRtfm:
		return "RTFM"
	default:
		return fmt.Sprintf("ID(%d)", uint8(id))
	}
}

// Operation distinguishes a CHEEZBURGER carrying a create from one carrying
// a delete.
type Operation uint8

const (
	OpCreate Operation = iota
	OpDelete
)

// maxMapEntries bounds the entry count accepted from a string map field so
// a corrupt or hostile length prefix can't force an unbounded allocation.
const maxMapEntries = 1 << 16

// ErrInvalidFrame is returned for a wrong magic/version/id, a truncated
// frame, or a map/string length that overflows the remaining buffer.
type ErrInvalidFrame struct {
	Reason string
}

func (e *ErrInvalidFrame) Error() string {
	return fmt.Sprintf("wire: invalid frame: %s", e.Reason)
}

func invalid(reason string) error {
	return &ErrInvalidFrame{Reason: reason}
}

// Message is implemented by every FILEMQ message variant.
type Message interface {
	ID() ID
}

// Ohai is the client's opening handshake message. It carries no fields.
type Ohai struct{}

func (Ohai) ID() ID { return IDOhai }

// OhaiOk acknowledges Ohai. It carries no fields.
type OhaiOk struct{}

func (OhaiOk) ID() ID { return IDOhaiOk }

// Icanhaz declares interest in a virtual subtree, plus a hint of what the
// client already has cached.
type Icanhaz struct {
	Path    string
	Options map[string]string
	Cache   map[string]string
}

func (Icanhaz) ID() ID { return IDIcanhaz }

// IcanhazOk acknowledges Icanhaz. It carries no fields.
type IcanhazOk struct{}

func (IcanhazOk) ID() ID { return IDIcanhazOk }

// Nom replenishes a client's credit and advertises the sequence it last
// saw. The server session adds Credit and does not read Sequence.
type Nom struct {
	Credit   uint64
	Sequence uint64
}

func (Nom) ID() ID { return IDNom }

// Cheezburger carries one chunk of a file transfer: either a content range
// (Create) or a removal notice (Delete).
type Cheezburger struct {
	Sequence  uint64
	Operation Operation
	Filename  string
	Offset    uint64
	EOF       bool
	Headers   map[string]string
	Chunk     []byte
}

func (Cheezburger) ID() ID { return IDCheezburger }

// Hugz is a keepalive ping. It carries no fields.
type Hugz struct{}

func (Hugz) ID() ID { return IDHugz }

// HugzOk acknowledges Hugz. It carries no fields.
type HugzOk struct{}

func (HugzOk) ID() ID { return IDHugzOk }

// Kthxbai announces an orderly session close. It carries no fields.
type Kthxbai struct{}

func (Kthxbai) ID() ID { return IDKthxbai }

// Srsly reports that the peer sent an unexpected (but well-formed) frame
// for the current state; the session is not necessarily terminated.
type Srsly struct {
	Reason string
}

func (Srsly) ID() ID { return IDSrsly }

// Rtfm reports a frame so malformed the session must terminate.
type Rtfm struct {
	Reason string
}

func (Rtfm) ID() ID { return IDRtfm }

// Encode serializes m into a self-contained FILEMQ frame.
func Encode(m Message) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteString(Magic)
	buf.WriteByte(Version)
	buf.WriteByte(byte(m.ID()))

	switch v := m.(type) {
	case Ohai, OhaiOk, IcanhazOk, Hugz, HugzOk, Kthxbai:
		// no fields

	case Icanhaz:
		writeShortString(buf, v.Path)
		writeMap(buf, v.Options)
		writeMap(buf, v.Cache)

	case Nom:
		writeNumber(buf, v.Credit)
		writeNumber(buf, v.Sequence)

	case Cheezburger:
		writeNumber(buf, v.Sequence)
		buf.WriteByte(byte(v.Operation))
		writeShortString(buf, v.Filename)
		writeNumber(buf, v.Offset)
		if v.EOF {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		writeMap(buf, v.Headers)
		writeChunk(buf, v.Chunk)

	case Srsly:
		writeLongString(buf, v.Reason)

	case Rtfm:
		writeLongString(buf, v.Reason)

	default:
		return nil, fmt.Errorf("wire: unknown message type %T", m)
	}

	return buf.Bytes(), nil
}

// Decode parses a single FILEMQ frame from buf. buf must contain exactly
// one frame; trailing bytes are an error, since FILEMQ frames are always
// decoded individually off a length-prefixed transport (see ReadFrame).
func Decode(buf []byte) (Message, error) {
	d := &decoder{buf: buf}

	magic, err := d.take(4)
	if err != nil {
		return nil, invalid("truncated magic")
	}
	if string(magic) != Magic {
		return nil, invalid("bad magic")
	}

	version, err := d.byte_()
	if err != nil {
		return nil, invalid("truncated version")
	}
	if version != Version {
		return nil, invalid("unsupported version")
	}

	idByte, err := d.byte_()
	if err != nil {
		return nil, invalid("truncated id")
	}
	id := ID(idByte)

	var msg Message
	switch id {
	case IDOhai:
		msg = Ohai{}
	case IDOhaiOk:
		msg = OhaiOk{}
	case IDIcanhaz:
		path, err := d.shortString()
		if err != nil {
			return nil, err
		}
		options, err := d.stringMap()
		if err != nil {
			return nil, err
		}
		cache, err := d.stringMap()
		if err != nil {
			return nil, err
		}
		msg = Icanhaz{Path: path, Options: options, Cache: cache}
	case IDIcanhazOk:
		msg = IcanhazOk{}
	case IDNom:
		credit, err := d.number()
		if err != nil {
			return nil, err
		}
		sequence, err := d.number()
		if err != nil {
			return nil, err
		}
		msg = Nom{Credit: credit, Sequence: sequence}
	case IDCheezburger:
		sequence, err := d.number()
		if err != nil {
			return nil, err
		}
		opByte, err := d.byte_()
		if err != nil {
			return nil, invalid("truncated operation")
		}
		filename, err := d.shortString()
		if err != nil {
			return nil, err
		}
		offset, err := d.number()
		if err != nil {
			return nil, err
		}
		eofByte, err := d.byte_()
		if err != nil {
			return nil, invalid("truncated eof")
		}
		headers, err := d.stringMap()
		if err != nil {
			return nil, err
		}
		chunk, err := d.chunk()
		if err != nil {
			return nil, err
		}
		msg = Cheezburger{
			Sequence:  sequence,
			Operation: Operation(opByte),
			Filename:  filename,
			Offset:    offset,
			EOF:       eofByte != 0,
			Headers:   headers,
			Chunk:     chunk,
		}
	case IDHugz:
		msg = Hugz{}
	case IDHugzOk:
		msg = HugzOk{}
	case IDKthxbai:
		msg = Kthxbai{}
	case IDSrsly:
		reason, err := d.longString()
		if err != nil {
			return nil, err
		}
		msg = Srsly{Reason: reason}
	case IDRtfm:
		reason, err := d.longString()
		if err != nil {
			return nil, err
		}
		msg = Rtfm{Reason: reason}
	default:
		return nil, invalid(fmt.Sprintf("unknown message id %d", id))
	}

	if d.pos != len(d.buf) {
		return nil, invalid("trailing bytes after frame")
	}

	return msg, nil
}
