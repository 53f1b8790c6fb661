//go:build unix

package testfs

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ivoronin/btrdedupe/internal/fiemap"
)

// -----------------------------------------------------------------------------
// Reap Operations - Compare source/destination pairs against the real FS
// -----------------------------------------------------------------------------

// ReapPaths compares each source/destination pair declared by expected
// against the real filesystem rooted at root, using fiemap.Compare.
//
// The root parameter specifies the base directory to prefix onto each
// volume's MountPoint. For E2E tests, root is "" or "/" so MountPoints are
// used as-is. For integration tests, root is t.TempDir().
func ReapPaths(root string, expected FileTree) (*ReapResult, error) {
	result := &ReapResult{}

	for _, vol := range expected.Volumes {
		rv, err := reapVolume(root, vol)
		if err != nil {
			return nil, fmt.Errorf("reap %s: %w", vol.MountPoint, err)
		}
		result.Volumes = append(result.Volumes, rv)
	}

	return result, nil
}

// ReapFromReader reads a FileTree JSON (the same tree used for verification)
// from the reader and compares it against the real filesystem rooted at root.
// Used by testfs-helper CLI tool to read from stdin.
func ReapFromReader(r io.Reader, root string) (*ReapResult, error) {
	var expected FileTree
	if err := json.NewDecoder(r).Decode(&expected); err != nil {
		return nil, fmt.Errorf("decode spec: %w", err)
	}
	return ReapPaths(root, expected)
}

// ReapToWriter reads an expected FileTree from r, compares it against root,
// and writes the ReapResult as JSON to w. Used by testfs-helper CLI tool.
func ReapToWriter(r io.Reader, w io.Writer, root string) error {
	result, err := ReapFromReader(r, root)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// reapVolume compares every File entry declared in vol against the real
// filesystem.
func reapVolume(root string, vol Volume) (ReapVolume, error) {
	volPath := resolveVolumePath(root, vol.MountPoint)
	rv := ReapVolume{Name: vol.MountPoint}

	for _, ef := range vol.Files {
		rf, err := reapFile(volPath, ef)
		if err != nil {
			return rv, err
		}
		rv.Files = append(rv.Files, rf)
	}
	return rv, nil
}

// reapFile runs fiemap.Compare between a source and each of its declared
// destinations. A missing source or destination is not fatal here: it's
// reported through AssertFiles' result-count mismatch instead, so a single
// bad fixture doesn't abort the whole comparison run via a non-test.Errorf
// failure path. An unsupported-FIEMAP error is the one thing propagated,
// so Harness.Assert can skip the test instead of failing it.
func reapFile(volPath string, ef File) (ReapFile, error) {
	rf := ReapFile{Path: ef.Path}
	if len(ef.Path) == 0 {
		return rf, nil
	}

	srcPath := filepath.Join(volPath, ef.Path[0])
	st, err := os.Stat(srcPath)
	if err != nil {
		return rf, nil
	}
	rf.Size = st.Size()

	for _, p := range ef.Path[1:] {
		dstPath := filepath.Join(volPath, p)
		res, err := fiemap.Compare(srcPath, dstPath)
		if err != nil {
			if fiemap.IsUnsupported(err) {
				return rf, fmt.Errorf("compare %s %s: %w", srcPath, dstPath, err)
			}
			continue
		}
		rf.Results = append(rf.Results, res.String())
	}
	return rf, nil
}
