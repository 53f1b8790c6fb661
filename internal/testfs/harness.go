//go:build unix && !e2e

package testfs

import (
	"testing"

	"github.com/ivoronin/btrdedupe/internal/fiemap"
)

// -----------------------------------------------------------------------------
// Harness - Integration Test API
// -----------------------------------------------------------------------------

// Harness provides integration test infrastructure using t.TempDir().
//
// Unlike the E2E Harness that runs inside a Docker container with a real
// btrfs mount, this Harness creates files directly under a temp dir on
// whatever filesystem backs the test runner. Most filesystems implement
// FIEMAP, but the same-extent ioctl and meaningful extent sharing only happen on btrfs:
// Assert skips the test (via t.Skip) if the backing filesystem doesn't
// implement FIEMAP at all, rather than failing.
//
// Usage:
//
//	given := testfs.FileTree{
//	    Volumes: []Volume{
//	        {MountPoint: "vol1", Files: []File{{Path: []string{"a.txt", "b.txt"}, Chunks: []Chunk{{Pattern: 'A', Size: "1MiB"}}}}},
//	    },
//	}
//	then := testfs.FileTree{
//	    Volumes: []Volume{
//	        {MountPoint: "vol1", Files: []File{{Path: []string{"a.txt", "b.txt"}, Want: []fiemap.Result{fiemap.AlreadyDeduped}}}},
//	    },
//	}
//	h := testfs.New(t, given)
//	dedup.Dedup(filepath.Join(h.Root(), "vol1/a.txt"), []string{filepath.Join(h.Root(), "vol1/b.txt")}, nil)
//	h.Assert(then)
type Harness struct {
	t     *testing.T
	root  string   // Temporary directory root
	given FileTree // Original spec
}

// New creates a new Harness with the given FileTree specification.
//
// The harness:
//  1. Creates a temporary directory via t.TempDir()
//  2. Creates subdirectories for each Volume's MountPoint
//  3. Creates the source file and its byte-identical destination copies
//
// The temporary directory is automatically cleaned up by t.TempDir() mechanics.
func New(t *testing.T, given FileTree) *Harness {
	t.Helper()

	root := t.TempDir()
	h := &Harness{
		t:     t,
		root:  root,
		given: given,
	}

	if err := SowFileTree(root, given); err != nil {
		t.Fatalf("failed to setup files: %v", err)
	}

	return h
}

// Root returns the temporary directory root path.
func (h *Harness) Root() string {
	return h.root
}

// Assert verifies the actual extent-sharing state matches the expected
// FileTree. Skips the test if the backing filesystem doesn't implement
// FIEMAP.
func (h *Harness) Assert(expected FileTree) {
	h.t.Helper()

	actual, err := ReapPaths(h.root, expected)
	if err != nil {
		if fiemap.IsUnsupported(err) {
			h.t.Skipf("FIEMAP unsupported on backing filesystem: %v", err)
		}
		h.t.Fatalf("reap: %v", err)
	}

	for i, vol := range expected.Volumes {
		AssertVolume(h.t, vol, actual.Volumes[i])
	}
}
