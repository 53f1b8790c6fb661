// Package types provides shared value types used across the btrdedupe pipeline.
package types

import "time"

// MinDedupUnit is the kernel's minimum dedup granularity: 4096 bytes on
// Linux. Files smaller than this can never be deduplicated, and every
// same-extent request length is rounded down to a multiple of it.
const MinDedupUnit = 4096

// PathHandle is an immutable handle to a filesystem path.
//
// It is created once by the walker and from then on shared by pointer across
// hashing jobs, hash-match groups, and the dedup driver — never copied or
// mutated. Multiple goroutines may hold a reference to the same PathHandle
// concurrently; since the value never changes after construction, no
// synchronization is required to read it.
type PathHandle struct {
	path string
}

// NewPathHandle creates a handle for path.
func NewPathHandle(path string) *PathHandle {
	return &PathHandle{path: path}
}

// String returns the underlying path.
func (p *PathHandle) String() string {
	if p == nil {
		return ""
	}
	return p.path
}

// FileRef is the metadata the walker records for one regular file.
//
// It is the StatedPath of the design: besides the path it carries the
// size, inode, and modification time needed by hard-link collapsing and
// the hash cache key.
type FileRef struct {
	Path    *PathHandle
	Size    int64
	Inode   uint64
	ModTime time.Time
}

// HashMatchGroup is a set of FileRefs confirmed to share an identical
// content digest. Always len >= 2.
type HashMatchGroup []*FileRef
