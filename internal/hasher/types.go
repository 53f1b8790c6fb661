package hasher

import "github.com/ivoronin/btrdedupe/internal/types"

// digestSize is the length of an MD5 digest. The hash is a pre-filter —
// the kernel's same-extent ioctl does its own byte-for-byte verification
// before sharing extents — so collision resistance is not load-bearing
// for correctness, only for how many false-positive groups reach the
// dedup driver.
const digestSize = 16

// digestJob identifies one file's hashing task within a size group.
// (groupID, pathID) is unique across a run.
type digestJob struct {
	groupID uint32
	pathID  uint32
	ref     *types.FileRef
}

// digestResult is the tagged outcome of hashing one digestJob.
type digestResult struct {
	groupID uint32
	pathID  uint32
	digest  [digestSize]byte
	err     error
}

// groupState is the aggregator's per-size-group accumulator. It is
// exclusively owned by the aggregator goroutine — never touched from a
// worker — so no locking is needed around it.
type groupState struct {
	paths     []*types.FileRef
	byDigest  map[[digestSize]byte][]uint32
	remaining uint32
}
