// Package testfs provides test infrastructure for exercising btrdedupe end
// to end.
//
// It supports two modes:
//   - Integration tests: Harness (build tag unix,!e2e) creates files under
//     t.TempDir(). This only exercises the real same-extent/FIEMAP ioctls
//     when TMPDIR happens to sit on btrfs; Assert skips gracefully otherwise.
//   - E2E tests: Harness (build tag e2e) runs inside a Docker container with
//     a loopback-mounted btrfs filesystem, so the ioctls always have a real
//     extent tree to operate on.
//
// # Unified FileTree Specification
//
// Tests use a single FileTree type for both setup and verification:
//
//	given := testfs.FileTree{
//	    Volumes: []Volume{
//	        {
//	            MountPoint: "/data",
//	            Files: []File{
//	                {Path: []string{"a.txt", "copy/a.txt"}, Chunks: []Chunk{{Pattern: 'A', Size: "1MiB"}}},
//	            },
//	        },
//	    },
//	}
//	then := testfs.FileTree{
//	    Volumes: []Volume{
//	        {
//	            MountPoint: "/data",
//	            Files: []File{
//	                {Path: []string{"a.txt", "copy/a.txt"}, Want: []fiemap.Result{fiemap.AlreadyDeduped}},
//	            },
//	        },
//	    },
//	}
//
// Path[0] is the dedup source; Path[1:] are sowed as byte-identical but
// independent files (never hardlinks, since the ioctls under test only do
// anything interesting when the destinations start out as separate extents).
// Subdirectories are created automatically from file paths (mkdir -p
// semantics). File paths are relative to the volume mount point.
//
//	h := testfs.New(t, given)
//	h.RunBtrdedupe("/data")
//	h.Assert(then)
//
// # Context-Dependent Field Usage
//
//	| Field       | Setup                   | Verification                           |
//	|-------------|-------------------------|-----------------------------------------|
//	| Volumes     | Creates mounts          | Scope for assertions                     |
//	| File.Path   | Create source + copies  | Pairs to run fiemap.Compare on            |
//	| File.Chunks | Generate content        | Ignored                                   |
//	| File.Want   | Ignored                 | Expected fiemap.Result per destination    |
//	| ExitCode    | Ignored                 | Assert matches                            |
package testfs

import (
	"github.com/dustin/go-humanize"

	"github.com/ivoronin/btrdedupe/internal/fiemap"
)

// -----------------------------------------------------------------------------
// FileTree Specification Types
// -----------------------------------------------------------------------------

// FileTree describes a filesystem state (used for both setup and verification).
type FileTree struct {
	// Volumes in the filesystem (each is a separate mount).
	Volumes []Volume `json:"volumes"`

	// ExitCode expected from btrdedupe (verification only, default 0).
	ExitCode int `json:"-"` // Not serialized - harness-only field
}

// Volume represents a separate filesystem mount.
type Volume struct {
	// MountPoint is the absolute path where this volume is mounted.
	MountPoint string `json:"mountPoint"`

	// Files in this volume.
	Files []File `json:"files,omitempty"`
}

// File defines a dedup source and its byte-identical copies.
//
// In setup context:
//   - Path[0] is created with content from Chunks.
//   - Each of Path[1:] gets an independent copy of the same content (same
//     bytes, distinct extents) so the same-extent ioctl has something to
//     collapse.
//
// In verification context:
//   - Path[0] must exist.
//   - Each of Path[1:] is compared against Path[0] via fiemap.Compare; the
//     result must match the corresponding entry in Want.
type File struct {
	// Path contains the source path followed by one or more destination
	// paths (relative to the volume).
	Path []string `json:"path"`

	// Chunks specifies file content as a sequence of filled regions.
	// Each chunk fills its size with the pattern byte.
	// Use IEC units for sizes: "1KiB", "1MiB", "1GiB".
	Chunks []Chunk `json:"chunks,omitempty"`

	// Want holds the expected fiemap.Result for each of Path[1:], in
	// order. Verification-only field.
	Want []fiemap.Result `json:"-"`
}

// Chunk defines a region of file content filled with a pattern byte.
type Chunk struct {
	// Pattern is the fill byte for this chunk region.
	Pattern rune `json:"pattern"`

	// Size in IEC units (1024-based): "1KiB", "1MiB", "1GiB".
	Size string `json:"size"`
}

// TotalSize calculates the sum of all chunk sizes in bytes.
func (f *File) TotalSize() int64 {
	var total int64
	for _, c := range f.Chunks {
		size, _ := humanize.ParseBytes(c.Size)
		total += int64(size)
	}
	return total
}

// -----------------------------------------------------------------------------
// Execution Result Types
// -----------------------------------------------------------------------------

// RunResult captures the results of a btrdedupe execution.
type RunResult struct {
	ExitCode int    // Process exit code
	Stdout   string // Standard output
	Stderr   string // Standard error
}

// -----------------------------------------------------------------------------
// Reap Types (comparisons captured from the real filesystem)
// -----------------------------------------------------------------------------

// ReapResult is the output format from the testfs-helper reap command.
type ReapResult struct {
	Volumes []ReapVolume `json:"volumes"`
}

// ReapVolume contains comparison results for a single volume.
type ReapVolume struct {
	Name  string     `json:"name"`
	Files []ReapFile `json:"files,omitempty"`
}

// ReapFile holds the fiemap comparison between a source and its destinations.
type ReapFile struct {
	Path    []string `json:"path"`              // Same entries as the FileTree's File.Path
	Results []string `json:"results,omitempty"` // fiemap.Result.String(), one per Path[1:]
	Size    int64    `json:"size"`
}
