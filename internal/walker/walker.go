// Package walker recursively scans directory trees for regular files,
// groups them by exact byte size, and collapses hard-linked duplicates
// within each size group.
//
// # Design
//
// AddRoot walks on the calling goroutine: an iterative depth-first
// traversal with an explicit directory stack, no fan-out. SizeGroups sends
// the sorted groups to its channel from one goroutine of its own.
// This stage is deliberately single-threaded so that the hash pipeline
// downstream is where all of the worker-pool concurrency lives.
//
// Hard-link collapsing happens per size bucket at SizeGroups() time: the
// first path seen for a given inode is kept, later paths sharing that
// inode are dropped. Deduplicating hard links is meaningless — they
// already share every extent — and would inflate reported byte counts.
package walker

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ivoronin/btrdedupe/internal/types"
)

// listBatchSize bounds memory when reading very large directories.
const listBatchSize = 1000

// Walker discovers candidate files and groups them by size.
//
// A Walker is single-use: create with New, call AddRoot for each root,
// then SizeGroups once to drain it.
type Walker struct {
	minFileSize int64
	excludes    []string
	onErr       func(error)
	bySize      map[int64][]*types.FileRef
}

// New creates a Walker. minFileSize is clamped up to types.MinDedupUnit.
// excludes are glob patterns (matched against the base name) to skip.
// onErr receives non-fatal per-entry errors encountered during the walk;
// it may be nil.
func New(minFileSize int64, excludes []string, onErr func(error)) *Walker {
	if minFileSize < types.MinDedupUnit {
		minFileSize = types.MinDedupUnit
	}
	return &Walker{
		minFileSize: minFileSize,
		excludes:    excludes,
		onErr:       onErr,
		bySize:      make(map[int64][]*types.FileRef),
	}
}

// AddRoot ingests one directory tree.
//
// Fails with *NotADirectoryError if root is not a directory. Per-entry
// I/O errors (stat failures, permission errors on subdirectories) are
// reported via onErr and the walk continues.
func (w *Walker) AddRoot(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	st, err := os.Lstat(abs)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return &NotADirectoryError{Path: abs}
	}

	stack := []string{abs}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		subdirs, err := w.listDirectory(dir)
		if err != nil {
			w.sendError(&WalkError{Path: dir, Err: err})
			continue
		}
		stack = append(stack, subdirs...)
	}

	return nil
}

// listDirectory reads one directory, recording matched files directly into
// bySize and returning the subdirectories discovered for the caller to push
// onto the traversal stack.
func (w *Walker) listDirectory(dir string) (subdirs []string, err error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	for {
		entries, err := f.ReadDir(listBatchSize)
		if len(entries) == 0 {
			if err != nil && err != io.EOF {
				return subdirs, err
			}
			break
		}

		for _, entry := range entries {
			full := filepath.Join(dir, entry.Name())
			if w.shouldExclude(full) {
				continue
			}

			if entry.IsDir() {
				subdirs = append(subdirs, full)
				continue
			}

			if entry.Type()&os.ModeSymlink != 0 || !entry.Type().IsRegular() {
				continue
			}

			ref, err := w.statFile(full)
			if err != nil {
				w.sendError(&WalkError{Path: full, Err: err})
				continue
			}
			if ref.Size < w.minFileSize {
				continue
			}
			w.bySize[ref.Size] = append(w.bySize[ref.Size], ref)
		}
	}

	return subdirs, nil
}

// statFile lstats a regular file via golang.org/x/sys/unix, which exposes
// the raw Stat_t fields (inode, size, mtime) this pipeline needs without
// going through os.FileInfo's platform-erased interface.
func (w *Walker) statFile(path string) (*types.FileRef, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return nil, &os.PathError{Op: "lstat", Path: path, Err: err}
	}
	return &types.FileRef{
		Path:    types.NewPathHandle(path),
		Size:    st.Size,
		Inode:   st.Ino,
		ModTime: time.Unix(st.Mtim.Sec, st.Mtim.Nsec),
	}, nil
}

func (w *Walker) shouldExclude(path string) bool {
	if len(w.excludes) == 0 {
		return false
	}
	base := filepath.Base(path)
	for _, pattern := range w.excludes {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}

func (w *Walker) sendError(err error) {
	if w.onErr != nil {
		w.onErr(err)
	}
}

// SizeGroups consumes the Walker and returns a channel streaming size
// groups ordered by descending size (largest candidate groups first;
// ties broken by map iteration order, which is unspecified). Hard-link
// duplicates are collapsed per group; groups collapsing to fewer than 2
// paths are dropped and never reach the channel.
func (w *Walker) SizeGroups() <-chan SizeGroup {
	sizes := make([]int64, 0, len(w.bySize))
	for size := range w.bySize {
		sizes = append(sizes, size)
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] > sizes[j] })

	out := make(chan SizeGroup)
	go func() {
		defer close(out)
		for _, size := range sizes {
			paths := collapseInodes(w.bySize[size])
			if len(paths) < 2 {
				continue
			}
			out <- SizeGroup{Size: size, Paths: paths}
		}
	}()
	return out
}

// collapseInodes keeps the first path seen for each inode and drops later
// paths sharing that inode (hard links).
func collapseInodes(files []*types.FileRef) []*types.FileRef {
	seen := make(map[uint64]bool, len(files))
	paths := make([]*types.FileRef, 0, len(files))
	for _, f := range files {
		if seen[f.Inode] {
			continue
		}
		seen[f.Inode] = true
		paths = append(paths, f)
	}
	return paths
}
