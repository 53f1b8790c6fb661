package walker

import "github.com/ivoronin/btrdedupe/internal/types"

// SizeGroup is a set of distinct-inode files sharing the same byte size.
//
// Invariant: every entry in Paths has byte size equal to Size and a
// distinct inode. len(Paths) >= 2 — the walker never emits a group of one.
type SizeGroup struct {
	Size  int64
	Paths []*types.FileRef
}

// NotADirectoryError is returned by AddRoot when root is not a directory.
type NotADirectoryError struct {
	Path string
}

func (e *NotADirectoryError) Error() string {
	return e.Path + ": not a directory"
}

// WalkError wraps a non-fatal per-entry error encountered while walking a
// tree (a stat failure, a permission-denied directory) and sent through
// onErr. Distinguishing it from other errors on a shared error channel lets
// callers log it at a lower severity than a hard pipeline failure.
type WalkError struct {
	Path string
	Err  error
}

func (e *WalkError) Error() string {
	return e.Path + ": " + e.Err.Error()
}

func (e *WalkError) Unwrap() error {
	return e.Err
}
