// Package hasher is the second pipeline stage: it consumes size groups from
// the walker, computes a whole-file MD5 digest for every path (skipping
// cache hits), and emits hash-match groups — the final candidate sets
// handed to the dedup driver.
//
// # Concurrency Model
//
// Two kinds of goroutines cooperate over two channels:
//
//  1. WORKERS (fixed pool) - read digestJob from jobCh, hash the file (or
//     pull the digest from cache), send a digestResult on resultCh.
//  2. AGGREGATOR (one goroutine, owned by Run) - the only goroutine that
//     touches per-group state. It reads size groups from the walker,
//     assigns each path a job, and tracks how many results are still
//     outstanding per group. When a group's outstanding count reaches
//     zero, its paths are split by digest and completed subsets (2+
//     paths sharing a digest) are emitted on outCh.
//
// Because only the aggregator touches groupState, none of it needs a lock.
//
// jobCh is closed as soon as the incoming size-group channel drains, not
// after resultCh drains - closing it any later would deadlock, since
// workers blocked reading jobCh would never see EOF, resultCh would never
// close, and the aggregator would block forever waiting on it.
package hasher

import (
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ivoronin/btrdedupe/internal/cache"
	"github.com/ivoronin/btrdedupe/internal/progress"
	"github.com/ivoronin/btrdedupe/internal/types"
	"github.com/ivoronin/btrdedupe/internal/walker"
)

// blockSize is the read buffer size used while hashing.
const blockSize = 64 * 1024

// stats tracks hashing progress for the progress bar.
type stats struct {
	totalBytes   uint64
	hashedBytes  atomic.Uint64
	cachedBytes  atomic.Uint64
	matchedFiles atomic.Int64
	startTime    time.Time
}

func (s *stats) String() string {
	elapsed := time.Since(s.startTime).Truncate(time.Millisecond)
	hashed := s.hashedBytes.Load()
	cached := s.cachedBytes.Load()
	total := hashed + cached
	pct := 0.0
	if s.totalBytes > 0 {
		pct = float64(total) / float64(s.totalBytes) * 100
	}
	return fmt.Sprintf("Hashed %s + cached %s out of %s (%.0f%%), %d candidates matched in %v",
		humanize.IBytes(hashed), humanize.IBytes(cached), humanize.IBytes(s.totalBytes),
		pct, s.matchedFiles.Load(), elapsed)
}

// Hasher computes content digests for size groups and emits hash-match groups.
//
// A Hasher is single-use: create with New, call Run once.
type Hasher struct {
	workers      int
	showProgress bool
	errCh        chan error
	cache        *cache.Cache
}

// New creates a Hasher. workers bounds concurrent file reads. hashCache may
// be a disabled cache (cache.Open("")) but never nil. errCh receives
// non-fatal per-file errors (permission denied, file vanished mid-walk);
// it may be nil.
func New(workers int, hashCache *cache.Cache, showProgress bool, errCh chan error) *Hasher {
	return &Hasher{
		workers:      workers,
		showProgress: showProgress,
		errCh:        errCh,
		cache:        hashCache,
	}
}

// Run consumes groups (typically walker.Walker.SizeGroups()) and returns a
// channel of confirmed hash-match groups. The returned channel closes once
// groups is drained and every in-flight digest job has been accounted for.
func (h *Hasher) Run(groups <-chan walker.SizeGroup) <-chan types.HashMatchGroup {
	jobCh := make(chan digestJob, 1000)
	resultCh := make(chan digestResult, 1000)
	outCh := make(chan types.HashMatchGroup, 100)

	st := &stats{startTime: time.Now()}
	bar := progress.New(h.showProgress, -1)
	bar.Describe(st)

	var workerWg sync.WaitGroup
	for i := 0; i < h.workers; i++ {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			for job := range jobCh {
				resultCh <- h.hashOne(job, st, bar)
			}
		}()
	}

	go func() {
		workerWg.Wait()
		close(resultCh)
	}()

	go h.aggregate(groups, jobCh, resultCh, outCh, st, bar)

	return outCh
}

// aggregate owns every groupState. It feeds jobCh from the incoming size
// groups, collects results from resultCh, and emits completed hash-match
// groups to outCh.
func (h *Hasher) aggregate(
	groups <-chan walker.SizeGroup,
	jobCh chan<- digestJob,
	resultCh <-chan digestResult,
	outCh chan<- types.HashMatchGroup,
	st *stats,
	bar *progress.Bar,
) {
	defer close(outCh)

	states := make(map[uint32]*groupState)
	var nextGroupID uint32

	groupsIn := groups
	jobs := jobCh
	results := resultCh

	for groupsIn != nil || results != nil {
		select {
		case g, ok := <-groupsIn:
			if !ok {
				groupsIn = nil
				close(jobs)
				continue
			}
			id := nextGroupID
			nextGroupID++
			st.totalBytes += uint64(g.Size) * uint64(len(g.Paths))

			state := &groupState{
				paths:     g.Paths,
				byDigest:  make(map[[digestSize]byte][]uint32),
				remaining: uint32(len(g.Paths)),
			}
			states[id] = state

			for pathID, ref := range g.Paths {
				jobs <- digestJob{groupID: id, pathID: uint32(pathID), ref: ref}
			}

		case r, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			if r.err != nil {
				h.sendError(r.err)
			} else {
				state := states[r.groupID]
				state.byDigest[r.digest] = append(state.byDigest[r.digest], r.pathID)
			}

			h.finishOne(states, r.groupID)
			if state := states[r.groupID]; state != nil && state.remaining == 0 {
				h.emitCompleted(state, outCh, st)
				bar.Describe(st)
				delete(states, r.groupID)
			}
		}
	}

	bar.Finish(st)
}

// finishOne decrements a group's outstanding-result counter.
func (h *Hasher) finishOne(states map[uint32]*groupState, groupID uint32) {
	if state := states[groupID]; state != nil {
		state.remaining--
	}
}

// emitCompleted splits a fully-hashed group by digest and pushes every
// subset with 2+ paths to outCh as a confirmed hash-match group.
func (h *Hasher) emitCompleted(state *groupState, outCh chan<- types.HashMatchGroup, st *stats) {
	for _, pathIDs := range state.byDigest {
		if len(pathIDs) < 2 {
			continue
		}
		match := make(types.HashMatchGroup, 0, len(pathIDs))
		for _, id := range pathIDs {
			match = append(match, state.paths[id])
		}
		st.matchedFiles.Add(int64(len(match)))
		outCh <- match
	}
}

// hashOne computes (or fetches from cache) the digest for one job.
func (h *Hasher) hashOne(job digestJob, st *stats, bar *progress.Bar) digestResult {
	if digest, ok := h.cache.Lookup(job.ref); ok {
		st.cachedBytes.Add(uint64(job.ref.Size))
		bar.Describe(st)
		return digestResult{groupID: job.groupID, pathID: job.pathID, digest: digest}
	}

	digest, err := hashFile(job.ref.Path.String())
	if err != nil {
		return digestResult{groupID: job.groupID, pathID: job.pathID, err: fmt.Errorf("%s: %w", job.ref.Path, err)}
	}

	if err := h.cache.Store(job.ref, digest); err != nil {
		h.sendError(fmt.Errorf("cache store %s: %w", job.ref.Path, err))
	}
	st.hashedBytes.Add(uint64(job.ref.Size))
	bar.Describe(st)

	return digestResult{groupID: job.groupID, pathID: job.pathID, digest: digest}
}

// sendError forwards a non-fatal error if the hasher has an errCh.
func (h *Hasher) sendError(err error) {
	if h.errCh != nil {
		h.errCh <- err
	}
}

// hashFile computes the whole-file MD5 digest of path.
func hashFile(path string) (digest [digestSize]byte, err error) {
	f, err := os.Open(path)
	if err != nil {
		return digest, err
	}
	defer func() { _ = f.Close() }()

	hasher := md5.New()
	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(hasher, f, buf); err != nil {
		return digest, err
	}

	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}
