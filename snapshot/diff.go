// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"sort"

	"github.com/strongdm/filemq"
)

// Diff compares old and new snapshots of the same mount and returns the
// ordered list of patches that transforms old into new:
//
//   - vpath in new only            → Create(vpath, new handle)
//   - vpath in old only            → Delete(vpath)
//   - vpath in both, size/mtime differ → Create(vpath, new handle) (overwrite)
//   - otherwise                    → no patch
//
// Patches are ordered deletes-first, then creates, each sub-list sorted by
// vpath — deleting before re-creating avoids a transient name collision
// when a file is replaced by a directory (or vice versa) at the same vpath.
// old may be nil, in which case every file in new is a Create.
func Diff(old, new *Snapshot) []*filemq.Patch {
	oldByPath := make(map[string]FileDescriptor)
	if old != nil {
		for _, fd := range old.Files {
			oldByPath[fd.VPath] = fd
		}
	}
	newByPath := make(map[string]FileDescriptor)
	for _, fd := range new.Files {
		newByPath[fd.VPath] = fd
	}

	var deletes, creates []string
	for vpath := range oldByPath {
		if _, ok := newByPath[vpath]; !ok {
			deletes = append(deletes, vpath)
		}
	}
	for vpath, nfd := range newByPath {
		ofd, existed := oldByPath[vpath]
		if !existed {
			creates = append(creates, vpath)
			continue
		}
		if ofd.Size != nfd.Size || !ofd.ModTime.Equal(nfd.ModTime) {
			creates = append(creates, vpath)
		}
	}

	sort.Strings(deletes)
	sort.Strings(creates)

	patches := make([]*filemq.Patch, 0, len(deletes)+len(creates))
	for _, vpath := range deletes {
		patches = append(patches, filemq.NewDelete(vpath))
	}
	for _, vpath := range creates {
		fd := newByPath[vpath]
		patches = append(patches, filemq.NewCreate(vpath, &filemq.FileHandle{
			AbsPath: fd.AbsPath,
			Size:    fd.Size,
		}))
	}
	return patches
}
