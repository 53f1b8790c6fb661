//go:build e2e

package internal

import (
	"strings"
	"testing"

	"github.com/ivoronin/btrdedupe/internal/fiemap"
	"github.com/ivoronin/btrdedupe/internal/testfs"
)

// =============================================================================
// Core E2E Tests
// =============================================================================

// TestE2EBasicCLIInvocation tests basic CLI invocation and exit codes against
// a real loopback-mounted btrfs filesystem.
func TestE2EBasicCLIInvocation(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"a.txt", "b.txt"}, Chunks: []testfs.Chunk{{Pattern: 'A', Size: "1MiB"}}},
				},
			},
		},
	}

	h := testfs.New(t, spec)
	result := h.RunBtrdedupe("/data")

	expected := testfs.FileTree{
		ExitCode: 0,
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"a.txt", "b.txt"}, Want: []fiemap.Result{fiemap.AlreadyDeduped}},
				},
			},
		},
	}
	h.Assert(expected)

	if !strings.Contains(result.Stdout, "Deduped") {
		t.Errorf("stdout missing dedup summary: %q", result.Stdout)
	}
}

// TestE2EDryRun tests that --dry-run leaves the filesystem untouched.
func TestE2EDryRun(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"a.txt", "b.txt"}, Chunks: []testfs.Chunk{{Pattern: 'A', Size: "1MiB"}}},
				},
			},
		},
	}

	h := testfs.New(t, spec)
	h.RunBtrdedupe("--dry-run", "/data")

	expected := testfs.FileTree{
		ExitCode: 0,
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"a.txt", "b.txt"}, Want: []fiemap.Result{fiemap.NotDeduped}},
				},
			},
		},
	}
	h.Assert(expected)
}

// TestE2EMinSizeFlag tests that --min-file-size excludes small files.
func TestE2EMinSizeFlag(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"a.txt", "b.txt"}, Chunks: []testfs.Chunk{{Pattern: 'A', Size: "8KiB"}}},
				},
			},
		},
	}

	h := testfs.New(t, spec)
	h.RunBtrdedupe("--min-file-size", "1MiB", "/data")

	expected := testfs.FileTree{
		ExitCode: 0,
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"a.txt", "b.txt"}, Want: []fiemap.Result{fiemap.NotDeduped}},
				},
			},
		},
	}
	h.Assert(expected)
}

// TestE2EExcludePattern tests that --exclude drops matching files before hashing.
func TestE2EExcludePattern(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"a.txt", "skip.tmp"}, Chunks: []testfs.Chunk{{Pattern: 'A', Size: "1MiB"}}},
				},
			},
		},
	}

	h := testfs.New(t, spec)
	h.RunBtrdedupe("--exclude", "*.tmp", "/data")

	expected := testfs.FileTree{
		ExitCode: 0,
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"a.txt", "skip.tmp"}, Want: []fiemap.Result{fiemap.NotDeduped}},
				},
			},
		},
	}
	h.Assert(expected)
}

// TestE2ENestedMounts tests scanning nested btrfs volumes without self-dedup
// of a file against itself when both paths are walked.
func TestE2ENestedMounts(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"root.txt"}, Chunks: []testfs.Chunk{{Pattern: 'R', Size: "1MiB"}}},
				},
			},
			{
				MountPoint: "/data/subdir",
				Files: []testfs.File{
					{Path: []string{"nested.txt"}, Chunks: []testfs.Chunk{{Pattern: 'R', Size: "1MiB"}}},
				},
			},
		},
	}

	h := testfs.New(t, spec)
	h.RunBtrdedupe("/data")

	expected := testfs.FileTree{
		ExitCode: 0,
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"root.txt", "/subdir/nested.txt"}, Want: []fiemap.Result{fiemap.AlreadyDeduped}},
				},
			},
		},
	}
	h.Assert(expected)
}
