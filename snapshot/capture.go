// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"
)

// Common errors.
var (
	ErrTooManyFiles = errors.New("snapshot: too many files")
	ErrFileTooLarge = errors.New("snapshot: file too large")
	ErrCyclicLink   = errors.New("snapshot: cyclic symbolic link detected")
)

// Capture walks the tree rooted at location, producing a Snapshot whose
// file descriptors are sorted by virtual path (alias ⊕ relative path).
// Hidden (dot-prefixed) entries are included by default; digests are never
// computed here — spec.md requires them lazy, computed only when a patch
// built from this snapshot is first asked for its digest (see
// filemq.Patch.Digest and internal/digest).
func Capture(location, alias string, opts ...Option) (*Snapshot, error) {
	start := time.Now()

	absRoot, err := filepath.Abs(location)
	if err != nil {
		return nil, fmt.Errorf("snapshot: resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("snapshot: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("snapshot: root is not a directory: %s", absRoot)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	b := &builder{
		opts:    o,
		alias:   normalizeAlias(alias),
		visited: make(map[string]bool),
	}

	if err := b.walk(absRoot, ""); err != nil {
		return nil, err
	}

	sort.Slice(b.files, func(i, j int) bool {
		return b.files[i].VPath < b.files[j].VPath
	})

	return &Snapshot{
		Alias:      b.alias,
		Root:       absRoot,
		Files:      b.files,
		CapturedAt: start,
	}, nil
}

func normalizeAlias(alias string) string {
	if alias == "" {
		return "/"
	}
	if alias[0] != '/' {
		alias = "/" + alias
	}
	return path.Clean(alias)
}

type builder struct {
	opts    *options
	alias   string
	visited map[string]bool // resolved paths, for symlink cycle detection
	files   []FileDescriptor
}

func (b *builder) walk(absDir, relDir string) error {
	realPath, err := filepath.EvalSymlinks(absDir)
	if err == nil {
		if b.visited[realPath] {
			return ErrCyclicLink
		}
		b.visited[realPath] = true
		defer delete(b.visited, realPath)
	}

	entries, err := os.ReadDir(absDir)
	if err != nil {
		return fmt.Errorf("snapshot: read dir %s: %w", relDir, err)
	}

	for _, de := range entries {
		name := de.Name()
		childRel := path.Join(relDir, name)
		childAbs := filepath.Join(absDir, name)

		if b.opts.shouldExclude(childRel, de.IsDir()) {
			continue
		}

		var info fs.FileInfo
		if b.opts.followSymlinks {
			info, err = os.Stat(childAbs)
		} else {
			info, err = os.Lstat(childAbs)
		}
		if err != nil {
			continue // permission errors etc: skip, consistent with best-effort traversal
		}

		if info.Mode()&fs.ModeSymlink != 0 && !b.opts.followSymlinks {
			continue // symlinks not dereferenced are simply omitted
		}

		if info.IsDir() {
			if err := b.walk(childAbs, childRel); err != nil {
				if errors.Is(err, ErrCyclicLink) {
					continue
				}
				return err
			}
			continue
		}

		if b.opts.maxFiles > 0 && len(b.files) >= b.opts.maxFiles {
			return ErrTooManyFiles
		}
		if b.opts.maxFileSize > 0 && info.Size() > b.opts.maxFileSize {
			continue
		}

		vpath := path.Join(b.alias, childRel)

		b.files = append(b.files, FileDescriptor{
			VPath:   vpath,
			AbsPath: childAbs,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	return nil
}
