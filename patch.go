// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package filemq

import (
	"fmt"
	"os"
	"sync"
)

// Op identifies whether a Patch creates/overwrites or deletes a virtual
// path.
type Op uint8

const (
	// Create carries a handle to the file's current content. Applied both
	// for brand new files and for overwrites of an existing vpath.
	Create Op = iota
	// Delete removes a vpath. Carries no content.
	Delete
)

func (o Op) String() string {
	if o == Delete {
		return "delete"
	}
	return "create"
}

// FileHandle is an opaque reference to a file's on-disk content, created by
// a mount's snapshot and later opened by the server when it's ready to
// stream the content to a subscriber.
type FileHandle struct {
	// AbsPath is the physical path on disk.
	AbsPath string
	// Size is the file's size at the time the snapshot was taken.
	Size int64
}

// Open returns a reader positioned at the start of the file.
func (h *FileHandle) Open() (*os.File, error) {
	if h == nil {
		return nil, fmt.Errorf("filemq: nil file handle")
	}
	return os.Open(h.AbsPath)
}

// Patch is a single create-or-delete instruction for one virtual path.
// Immutable after construction except for its lazily computed digest.
type Patch struct {
	Op    Op
	VPath string

	// Handle is non-nil only for Create patches.
	Handle *FileHandle

	digestOnce sync.Once
	digest     []byte
	digestErr  error
}

// NewCreate builds a Create patch for vpath backed by handle.
func NewCreate(vpath string, handle *FileHandle) *Patch {
	return &Patch{Op: Create, VPath: vpath, Handle: handle}
}

// NewDelete builds a Delete patch for vpath.
func NewDelete(vpath string) *Patch {
	return &Patch{Op: Delete, VPath: vpath}
}

// Digest returns the content digest of this patch's file, computing it on
// first call via digestFn and memoizing the result. Delete patches always
// return a nil digest. digestFn is injected so the patch model stays
// independent of any particular hash algorithm (see internal/digest).
func (p *Patch) Digest(digestFn func(path string) ([]byte, error)) ([]byte, error) {
	if p.Op == Delete || p.Handle == nil {
		return nil, nil
	}
	p.digestOnce.Do(func() {
		p.digest, p.digestErr = digestFn(p.Handle.AbsPath)
	})
	return p.digest, p.digestErr
}

// Clone returns a deep copy of p, safe to enqueue on a subscription
// independent of the original (and of any other subscription's copy).
// The memoized digest, if already computed, is carried over so fan-out
// to N subscribers only hashes the file once.
func (p *Patch) Clone() *Patch {
	clone := &Patch{Op: p.Op, VPath: p.VPath}
	if p.Handle != nil {
		h := *p.Handle
		clone.Handle = &h
	}
	if p.digest != nil || p.digestErr != nil {
		clone.digest = append([]byte(nil), p.digest...)
		clone.digestErr = p.digestErr
		clone.digestOnce.Do(func() {})
	}
	return clone
}
