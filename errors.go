// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package filemq

import (
	"errors"
	"fmt"
)

// Common errors shared by the server and client FSMs.
var (
	// ErrClosed denotes an operation on a terminated session or actor. No
	// session or actor in this module returns it.
	ErrClosed = errors.New("filemq: closed")

	// ErrInboxAlreadySet is returned by the client actor's SET INBOX
	// command when an inbox path has already been configured.
	ErrInboxAlreadySet = errors.New("filemq: inbox already set")

	// ErrSequenceGap is returned when a client receives a CHEEZBURGER whose
	// sequence number is not exactly one more than the previous one on the
	// session (a gap or a repeat), indicating a protocol violation.
	ErrSequenceGap = errors.New("filemq: sequence gap")
)

// ProtocolError represents a FILEMQ-level protocol violation reported by
// the peer. The client session returns it when the server sends RTFM, and
// terminates. An unexpected but well-formed frame is answered with SRSLY
// instead and does not produce a ProtocolError.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("filemq: protocol violation: %s", e.Reason)
}

// ConfigError represents a synchronous command-channel configuration
// failure. The PUBLISH, BIND and SET INBOX commands in this module report
// their failures with other error values (wrapped errors, or
// ErrInboxAlreadySet), not with ConfigError.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("filemq: configuration error: %s", e.Reason)
}
