//go:build unix && !e2e

package internal

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/ivoronin/btrdedupe/internal/cache"
	"github.com/ivoronin/btrdedupe/internal/dedup"
	"github.com/ivoronin/btrdedupe/internal/fiemap"
	"github.com/ivoronin/btrdedupe/internal/hasher"
	"github.com/ivoronin/btrdedupe/internal/testfs"
	"github.com/ivoronin/btrdedupe/internal/types"
	"github.com/ivoronin/btrdedupe/internal/walker"
)

// noCache is a disabled cache for tests (cache.Open("") returns a no-op cache).
var noCache, _ = cache.Open("")

// =============================================================================
// Full Pipeline Integration Tests
// =============================================================================

// runPipeline walks root, hashes candidates, and deduplicates each match
// group, returning the groups it produced along with whether the
// same-extent ioctl turned out to be unsupported on the backing filesystem
// (e.g. a non-btrfs tmpdir).
func runPipeline(t *testing.T, root string, excludes []string, minSize int64) ([]dedup.Result, bool) {
	t.Helper()

	var unsupported bool
	errs := make(chan error, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for err := range errs {
			var ierr *dedup.IoctlError
			if errors.As(err, &ierr) && errors.Is(ierr.Err, unix.ENOTTY) {
				unsupported = true
			}
		}
	}()

	w := walker.New(minSize, excludes, func(e error) { errs <- e })
	if err := w.AddRoot(root); err != nil {
		t.Fatalf("AddRoot: %v", err)
	}

	matches := hasher.New(2, noCache, false, errs).Run(w.SizeGroups())
	results := dedup.New(false, false, errs).Run(matches)

	var out []dedup.Result
	for r := range results {
		out = append(out, r)
	}
	close(errs)
	<-done

	return out, unsupported
}

func TestFullPipelineBasicDuplicates(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"a.txt", "b.txt"}, Chunks: []testfs.Chunk{{Pattern: 'D', Size: "1MiB"}}},
				},
			},
		},
	}

	h := testfs.New(t, spec)
	_, unsupported := runPipeline(t, h.Root(), nil, 0)
	if unsupported {
		t.Skip("BTRFS_IOC_FILE_EXTENT_SAME unsupported on backing filesystem")
	}

	expected := testfs.FileTree{
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
}

func TestFullPipelineMixedDuplicatesAndUnique(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"a.txt", "b.txt"}, Chunks: []testfs.Chunk{{Pattern: 'D', Size: "1MiB"}}},
					{Path: []string{"c.txt"}, Chunks: []testfs.Chunk{{Pattern: 'U', Size: "1MiB"}}},
				},
			},
		},
	}

	h := testfs.New(t, spec)
	results, unsupported := runPipeline(t, h.Root(), nil, 0)
	if unsupported {
		t.Skip("BTRFS_IOC_FILE_EXTENT_SAME unsupported on backing filesystem")
	}

	if len(results) != 1 {
		t.Fatalf("got %d dedup results, want 1 (c.txt has no match)", len(results))
	}
}

func TestFullPipelineMinSizeFilter(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"a.txt", "b.txt"}, Chunks: []testfs.Chunk{{Pattern: 'D', Size: "8KiB"}}},
				},
			},
		},
	}

	h := testfs.New(t, spec)
	results, _ := runPipeline(t, h.Root(), nil, types.MinDedupUnit*4)
	if len(results) != 0 {
		t.Errorf("got %d results, want 0 (files below --min-file-size)", len(results))
	}
}

func TestFullPipelineExcludePatterns(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{
				MountPoint: "/data",
				Files: []testfs.File{
					{Path: []string{"a.txt", "skip.tmp"}, Chunks: []testfs.Chunk{{Pattern: 'D', Size: "1MiB"}}},
				},
			},
		},
	}

	h := testfs.New(t, spec)
	results, _ := runPipeline(t, h.Root(), []string{"*.tmp"}, 0)
	if len(results) != 0 {
		t.Errorf("got %d results, want 0 (only a.txt survives the exclude filter)", len(results))
	}
}

func TestFullPipelineEmptyScenarios(t *testing.T) {
	spec := testfs.FileTree{
		Volumes: []testfs.Volume{
			{MountPoint: "/data", Files: []testfs.File{{Path: []string{"lonely.txt"}, Chunks: []testfs.Chunk{{Pattern: 'L', Size: "1MiB"}}}}},
		},
	}

	h := testfs.New(t, spec)
	results, _ := runPipeline(t, h.Root(), nil, 0)
	if len(results) != 0 {
		t.Errorf("got %d results, want 0 (a singleton file has nothing to dedup against)", len(results))
	}
}
