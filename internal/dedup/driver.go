package dedup

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ivoronin/btrdedupe/internal/progress"
	"github.com/ivoronin/btrdedupe/internal/types"
)

// Result reports the outcome of deduplicating one hash-match group.
type Result struct {
	Source       string
	Destinations []string
	BytesSaved   uint64
}

// stats tracks driver progress for the progress bar.
type stats struct {
	groupsDone int
	groupsTot  int
	bytesSaved uint64
	startTime  time.Time
}

func (s *stats) String() string {
	pct := 0.0
	if s.groupsTot > 0 {
		pct = float64(s.groupsDone) / float64(s.groupsTot) * 100
	}
	return fmt.Sprintf("Deduped %d/%d groups (%.0f%%), saved %s in %v",
		s.groupsDone, s.groupsTot, pct,
		humanize.IBytes(s.bytesSaved), time.Since(s.startTime).Truncate(time.Millisecond))
}

// Driver runs Dedup over a stream of hash-match groups.
//
// A Driver is single-use: create with New, call Run once.
type Driver struct {
	dryRun       bool
	showProgress bool
	errCh        chan error
}

// New creates a Driver. When dryRun is true, Run reports the bytes that
// would be saved (min file size across the group times member count minus
// one source) without issuing any ioctl. errCh receives non-fatal
// per-group errors; it may be nil.
func New(dryRun, showProgress bool, errCh chan error) *Driver {
	return &Driver{dryRun: dryRun, showProgress: showProgress, errCh: errCh}
}

// Run consumes groups (typically hasher.Hasher.Run's output) and returns a
// channel of per-group Results. Within a group, the first path is the
// dedup source and the rest are destinations. The hasher orders a group's
// paths by the order their digests completed, so with more than one worker
// which path becomes the source can differ between runs.
func (d *Driver) Run(groups <-chan types.HashMatchGroup) <-chan Result {
	out := make(chan Result)

	st := &stats{startTime: time.Now()}
	bar := progress.New(d.showProgress, -1)
	bar.Describe(st)

	go func() {
		defer close(out)
		defer bar.Finish(st)

		for group := range groups {
			st.groupsTot++
			result := d.dedupGroup(group)
			st.groupsDone++
			st.bytesSaved += result.BytesSaved
			bar.Describe(st)
			out <- result
		}
	}()

	return out
}

// dedupGroup dedupes one hash-match group, treating its first member as
// the source and the rest as destinations.
func (d *Driver) dedupGroup(group types.HashMatchGroup) Result {
	source := group[0].Path.String()
	destPaths := make([]string, 0, len(group)-1)
	for _, ref := range group[1:] {
		destPaths = append(destPaths, ref.Path.String())
	}

	result := Result{Source: source, Destinations: destPaths}

	if d.dryRun {
		result.BytesSaved = uint64(group[0].Size) * uint64(len(destPaths))
		return result
	}

	saved, err := Dedup(source, destPaths, d.sendError)
	if err != nil {
		d.sendError(fmt.Errorf("%s: %w", source, err))
		return result
	}
	result.BytesSaved = saved
	return result
}

func (d *Driver) sendError(err error) {
	if d.errCh != nil && err != nil {
		d.errCh <- err
	}
}
