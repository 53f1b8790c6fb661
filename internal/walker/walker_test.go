package walker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ivoronin/btrdedupe/internal/types"
)

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll(%s): %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}

func drain(t *testing.T, ch <-chan SizeGroup) []SizeGroup {
	t.Helper()
	var groups []SizeGroup
	for g := range ch {
		groups = append(groups, g)
	}
	return groups
}

func TestAddRootNotADirectory(t *testing.T) {
	tmp := t.TempDir()
	file := filepath.Join(tmp, "file")
	writeFile(t, file, make([]byte, types.MinDedupUnit))

	w := New(0, nil, nil)
	err := w.AddRoot(file)

	var notDirErr *NotADirectoryError
	if err == nil {
		t.Fatal("AddRoot() on a regular file returned nil error")
	}
	if e, ok := err.(*NotADirectoryError); !ok {
		t.Fatalf("AddRoot() error type = %T, want *NotADirectoryError", err)
	} else {
		notDirErr = e
	}
	if notDirErr.Error() == "" {
		t.Error("NotADirectoryError.Error() is empty")
	}
}

func TestPerEntryErrorsWrappedAsWalkError(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("permission checks are bypassed for root")
	}

	tmp := t.TempDir()
	blocked := filepath.Join(tmp, "blocked")
	if err := os.Mkdir(blocked, 0o000); err != nil {
		t.Fatalf("Mkdir(%s): %v", blocked, err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	var errs []error
	w := New(0, nil, func(e error) { errs = append(errs, e) })
	if err := w.AddRoot(tmp); err != nil {
		t.Fatalf("AddRoot() failed: %v", err)
	}
	drain(t, w.SizeGroups())

	if len(errs) != 1 {
		t.Fatalf("got %d per-entry errors, want 1", len(errs))
	}
	var werr *WalkError
	if e, ok := errs[0].(*WalkError); !ok {
		t.Fatalf("per-entry error type = %T, want *WalkError", errs[0])
	} else {
		werr = e
	}
	if werr.Unwrap() == nil {
		t.Error("WalkError.Unwrap() is nil")
	}
}

func TestGroupsBySizeAndMinSizeClamp(t *testing.T) {
	tmp := t.TempDir()
	small := make([]byte, 10)
	big := make([]byte, types.MinDedupUnit)

	writeFile(t, filepath.Join(tmp, "a"), big)
	writeFile(t, filepath.Join(tmp, "b"), big)
	writeFile(t, filepath.Join(tmp, "tiny"), small)

	w := New(0, nil, nil) // clamps up to types.MinDedupUnit
	if err := w.AddRoot(tmp); err != nil {
		t.Fatalf("AddRoot() failed: %v", err)
	}

	groups := drain(t, w.SizeGroups())
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1 (tiny file below min size excluded)", len(groups))
	}
	if groups[0].Size != types.MinDedupUnit {
		t.Errorf("group size = %d, want %d", groups[0].Size, types.MinDedupUnit)
	}
	if len(groups[0].Paths) != 2 {
		t.Errorf("group has %d paths, want 2", len(groups[0].Paths))
	}
}

func TestSingletonGroupsDropped(t *testing.T) {
	tmp := t.TempDir()
	writeFile(t, filepath.Join(tmp, "only"), make([]byte, types.MinDedupUnit))

	w := New(types.MinDedupUnit, nil, nil)
	if err := w.AddRoot(tmp); err != nil {
		t.Fatalf("AddRoot() failed: %v", err)
	}

	groups := drain(t, w.SizeGroups())
	if len(groups) != 0 {
		t.Errorf("got %d groups, want 0 (singleton size group must be dropped)", len(groups))
	}
}

func TestExcludeGlob(t *testing.T) {
	tmp := t.TempDir()
	content := make([]byte, types.MinDedupUnit)
	writeFile(t, filepath.Join(tmp, "keep.txt"), content)
	writeFile(t, filepath.Join(tmp, "skip.tmp"), content)

	w := New(types.MinDedupUnit, []string{"*.tmp"}, nil)
	if err := w.AddRoot(tmp); err != nil {
		t.Fatalf("AddRoot() failed: %v", err)
	}

	groups := drain(t, w.SizeGroups())
	if len(groups) != 0 {
		t.Fatalf("got %d groups, want 0 (only one non-excluded file of that size)", len(groups))
	}
}

func TestCollapseInodes(t *testing.T) {
	tmp := t.TempDir()
	original := filepath.Join(tmp, "original")
	linked := filepath.Join(tmp, "linked")
	writeFile(t, original, make([]byte, types.MinDedupUnit))
	if err := os.Link(original, linked); err != nil {
		t.Skipf("hard links unsupported on this filesystem: %v", err)
	}

	w := New(types.MinDedupUnit, nil, nil)
	if err := w.AddRoot(tmp); err != nil {
		t.Fatalf("AddRoot() failed: %v", err)
	}

	groups := drain(t, w.SizeGroups())
	if len(groups) != 0 {
		t.Errorf("got %d groups, want 0 (hard-linked pair collapses to a single path)", len(groups))
	}
}

func TestSizeGroupsDescendingOrder(t *testing.T) {
	tmp := t.TempDir()
	writeFile(t, filepath.Join(tmp, "a1"), make([]byte, types.MinDedupUnit))
	writeFile(t, filepath.Join(tmp, "a2"), make([]byte, types.MinDedupUnit))
	writeFile(t, filepath.Join(tmp, "b1"), make([]byte, types.MinDedupUnit*2))
	writeFile(t, filepath.Join(tmp, "b2"), make([]byte, types.MinDedupUnit*2))

	w := New(types.MinDedupUnit, nil, nil)
	if err := w.AddRoot(tmp); err != nil {
		t.Fatalf("AddRoot() failed: %v", err)
	}

	groups := drain(t, w.SizeGroups())
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if groups[0].Size < groups[1].Size {
		t.Errorf("groups not in descending size order: %d before %d", groups[0].Size, groups[1].Size)
	}
}
