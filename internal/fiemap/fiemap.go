// Package fiemap drives the kernel's FIEMAP ioctl to retrieve a file's
// extent map, and compares two files' extent maps to judge whether a
// prior dedup pass already shared their physical storage.
//
// It exists independently of the dedup package as a read-only oracle: the
// dedup driver issues the same-extent ioctl to perform sharing, while this
// package is used by tests (and, optionally, a pre-check before issuing a
// dedup request) to observe whether sharing already happened.
package fiemap

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/ivoronin/btrdedupe/internal/ioctlcode"
	"golang.org/x/sys/unix"
)

const (
	fiemapMagic = 'f'
	fiemapNR    = 11
)

var fiemapReq = ioctlcode.IOWR(fiemapMagic, fiemapNR, headerSize)

// Result classifies the relationship between two files' extent maps.
type Result int

const (
	// NotDeduped means the files' extent maps diverge before their last extent.
	NotDeduped Result = iota
	// PartiallyDeduped means every extent but the last is shared, but the
	// last extent (where any trailing unaligned remainder lives) is not.
	PartiallyDeduped
	// AlreadyDeduped means the files are already fully sharing extents.
	AlreadyDeduped
)

func (r Result) String() string {
	switch r {
	case AlreadyDeduped:
		return "already deduped"
	case PartiallyDeduped:
		return "partially deduped"
	default:
		return "not deduped"
	}
}

// IsUnsupported reports whether err came from issuing FIEMAP against a
// filesystem that doesn't implement it, as opposed to a real failure.
func IsUnsupported(err error) bool {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno == unix.ENOTTY || errno == unix.EOPNOTSUPP || errno == unix.ENOSYS
	}
	return false
}

// Compare opens pathA and pathB, fetches their extent maps, and judges
// whether they already share their underlying storage.
func Compare(pathA, pathB string) (Result, error) {
	extentsA, err := fetchExtents(pathA)
	if err != nil {
		return NotDeduped, fmt.Errorf("fiemap %s: %w", pathA, err)
	}
	extentsB, err := fetchExtents(pathB)
	if err != nil {
		return NotDeduped, fmt.Errorf("fiemap %s: %w", pathB, err)
	}

	initA, lastA := split(extentsA)
	initB, lastB := split(extentsB)

	initsMatch := extentsEqual(initA, initB)
	soloBoth := len(extentsA) == 1 && len(extentsB) == 1
	lastsMatch := lastsEqual(lastA, lastB)

	switch {
	case initsMatch && (lastsMatch || soloBoth):
		return AlreadyDeduped, nil
	case initsMatch:
		return PartiallyDeduped, nil
	default:
		return NotDeduped, nil
	}
}

// split divides extents into every extent but the last ("init") and the
// last extent. A single-extent file's only extent is returned as a
// one-element init and its last is nil, so that Compare can special-case
// files with exactly one extent each.
func split(extents []Extent) (init []Extent, last *Extent) {
	if len(extents) <= 1 {
		return extents, nil
	}
	lastIdx := len(extents) - 1
	l := extents[lastIdx]
	return extents[:lastIdx], &l
}

// extentsEqual reports whether two init slices describe identical extents
// in the same order.
func extentsEqual(a, b []Extent) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// lastsEqual reports whether two optional last-extents match. Two absent
// lasts (both files have exactly one extent, fully covered by "init")
// are handled by Compare's soloBoth case, not here.
func lastsEqual(a, b *Extent) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// fetchExtents retrieves the full extent vector for path using the
// standard two-call FIEMAP protocol: an initial call with extent_count=0
// discovers mapped_extents, then a second call with a right-sized tail
// retrieves the vector itself.
func fetchExtents(path string) ([]Extent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	probe := newRequestBuf(0)
	probe.header().Length = math.MaxUint64
	if err := ioctlcode.Do(int(f.Fd()), fiemapReq, probe.ptr()); err != nil {
		return nil, fmt.Errorf("fiemap probe: %w", err)
	}

	count := int(probe.header().MappedExtents)
	if count == 0 {
		return nil, nil
	}

	req := newRequestBuf(count)
	req.header().Length = math.MaxUint64
	req.header().ExtentCount = uint32(count)
	if err := ioctlcode.Do(int(f.Fd()), fiemapReq, req.ptr()); err != nil {
		return nil, fmt.Errorf("fiemap fetch: %w", err)
	}

	mapped := int(req.header().MappedExtents)
	if mapped > count {
		mapped = count
	}
	return append([]Extent(nil), req.extents()[:mapped]...), nil
}
