package testfs

import "testing"

// -----------------------------------------------------------------------------
// Assertion Functions - Shared between integration Harness and E2E Harness
// -----------------------------------------------------------------------------

// AssertVolume verifies the actual comparison results match expected.
func AssertVolume(t *testing.T, expected Volume, actual ReapVolume) {
	t.Helper()
	AssertFiles(t, expected.Files, actual.Files)
}

// AssertFiles verifies that every source/destination pair declared by
// expected collapsed onto shared extents the way its Want results declare.
func AssertFiles(t *testing.T, expected []File, actual []ReapFile) {
	t.Helper()

	pathToResults := buildPathToResultsMap(actual)

	for _, ef := range expected {
		if len(ef.Path) == 0 {
			continue
		}
		verifyFileEntry(t, ef, pathToResults)
	}
}

// -----------------------------------------------------------------------------
// Helper Functions (unexported)
// -----------------------------------------------------------------------------

// buildPathToResultsMap indexes actual comparison results by source path.
func buildPathToResultsMap(files []ReapFile) map[string][]string {
	m := make(map[string][]string)
	for _, rf := range files {
		if len(rf.Path) == 0 {
			continue
		}
		m[rf.Path[0]] = rf.Results
	}
	return m
}

// verifyFileEntry checks a single source against its declared Want results.
func verifyFileEntry(t *testing.T, ef File, pathToResults map[string][]string) {
	t.Helper()

	srcPath := ef.Path[0]
	results, ok := pathToResults[srcPath]
	if !ok {
		t.Errorf("expected file not found: %s", srcPath)
		return
	}
	if len(results) != len(ef.Want) {
		t.Errorf("%s: got %d comparison results, want %d", srcPath, len(results), len(ef.Want))
		return
	}

	for i, want := range ef.Want {
		if got := results[i]; got != want.String() {
			t.Errorf("%s vs %s: got %q, want %q", srcPath, ef.Path[i+1], got, want)
		}
	}
}
