// Package dedup drives the kernel's btrfs same-extent ioctl
// (BTRFS_IOC_FILE_EXTENT_SAME) to share physical extents between a source
// file and one or more destination files with identical content.
//
// # Concurrency Model
//
// Unlike the hash pipeline, dedup work is not fanned out across a worker
// pool here - Driver.Run processes one hash-match group at a time on a
// single goroutine that Run starts (not on the calling goroutine),
// matching the source's destinations lockstep loop,
// which is itself inherently sequential (each ioctl call depends on the
// previous call's reported progress). Concurrency across groups, if
// wanted, is the caller's responsibility (cmd/btrdedupe runs one Driver
// per process).
package dedup

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ivoronin/btrdedupe/internal/ioctlcode"
	"github.com/ivoronin/btrdedupe/internal/types"
)

const (
	btrfsMagic  = 0x94
	sameExtentNR = 54
	dedupUnit   = types.MinDedupUnit
)

var sameExtentReq = ioctlcode.IOWR(btrfsMagic, sameExtentNR, headerSize)

// IoctlError wraps a failure from the same-extent ioctl call itself (as
// opposed to a per-destination status failure).
type IoctlError struct {
	Path string
	Err  error
}

func (e *IoctlError) Error() string { return fmt.Sprintf("extent-same ioctl on %s: %v", e.Path, e.Err) }
func (e *IoctlError) Unwrap() error { return e.Err }

// PerDestinationError records a destination the kernel rejected mid-loop
// (data differs, or a destination-specific error) via a nonzero status.
type PerDestinationError struct {
	Path   string
	Status int32
}

func (e *PerDestinationError) Error() string {
	return fmt.Sprintf("dedup of %s stopped: destination reported status %d", e.Path, e.Status)
}

// destination is one opened, surviving target of a dedup call.
type destination struct {
	path string
	file *os.File
}

// Dedup deduplicates source into every destination path with identical
// content, returning the total bytes deduplicated summed across
// destinations. Destinations that fail to open or lock are dropped and
// reported via onErr; if none remain, Dedup returns 0 with no error. Destinations are opened
// and filtered before the ioctl record is built so dest_count always
// matches what actually survives.
func Dedup(sourcePath string, destPaths []string, onErr func(error)) (uint64, error) {
	srcFile, err := os.Open(sourcePath)
	if err != nil {
		return 0, fmt.Errorf("open source %s: %w", sourcePath, err)
	}
	defer func() { _ = srcFile.Close() }()

	dests := openDestinations(destPaths, onErr)
	defer closeAll(dests)
	if len(dests) == 0 {
		return 0, nil
	}

	var st unix.Stat_t
	if err := unix.Fstat(int(srcFile.Fd()), &st); err != nil {
		return 0, fmt.Errorf("stat source %s: %w", sourcePath, err)
	}
	if st.Size < dedupUnit {
		return 0, nil
	}
	length := uint64(st.Size) - uint64(st.Size)%dedupUnit

	args := newSameArgsBuf(len(dests))
	hdr := args.header()
	hdr.LogicalOffset = 0
	hdr.Length = length
	hdr.DestCount = uint16(len(dests))

	infos := args.infos()
	for i, d := range dests {
		infos[i].FD = int64(d.file.Fd())
		infos[i].LogicalOffset = 0
	}

	return dedupLoop(srcFile, sourcePath, args, dests, onErr)
}

// dedupLoop runs the 8-step same-extent ioctl loop against a prepared
// sameArgsBuf until a stop condition is reached.
func dedupLoop(srcFile *os.File, sourcePath string, args *sameArgsBuf, dests []destination, onErr func(error)) (uint64, error) {
	var total uint64
	hdr := args.header()
	destCount := uint64(len(dests))

	for {
		if err := ioctlcode.Do(int(srcFile.Fd()), sameExtentReq, args.ptr()); err != nil {
			sendErr(onErr, &IoctlError{Path: sourcePath, Err: err})
			break
		}

		infos := args.infos()
		if failed, ok := firstNonzeroStatus(infos, dests); !ok {
			sendErr(onErr, failed)
			break
		}

		offset := infos[0].BytesDeduped
		if !allAgree(infos, offset) {
			break
		}

		total += offset * destCount

		if offset == 0 || hdr.Length < offset {
			break
		}

		hdr.LogicalOffset += offset
		hdr.Length -= offset
		if hdr.Length < 1 {
			break
		}

		for i := range infos {
			infos[i].LogicalOffset += offset
		}
	}

	return total, nil
}

// firstNonzeroStatus reports the first destination with a nonzero status,
// if any. ok is false when a stop condition was hit.
func firstNonzeroStatus(infos []sameExtentInfo, dests []destination) (error, bool) {
	for i, info := range infos {
		if info.Status != 0 {
			return &PerDestinationError{Path: dests[i].path, Status: info.Status}, false
		}
	}
	return nil, true
}

// allAgree reports whether every destination's bytes_deduped matches
// offset, per the kernel's guarantee of lockstep progress across
// destinations. A mismatch stops the loop cleanly rather than asserting.
func allAgree(infos []sameExtentInfo, offset uint64) bool {
	for _, info := range infos {
		if info.BytesDeduped != offset {
			return false
		}
	}
	return true
}

// openDestinations opens each path read-write and takes a non-blocking
// exclusive advisory lock on it, dropping (and reporting via onErr) any
// path that fails to open or is already locked by another process. The
// lock is held for the life of the destination's file descriptor,
// preventing another process from mutating it mid-loop.
func openDestinations(paths []string, onErr func(error)) []destination {
	dests := make([]destination, 0, len(paths))
	for _, p := range paths {
		f, err := os.OpenFile(p, os.O_RDWR, 0)
		if err != nil {
			sendErr(onErr, fmt.Errorf("open destination %s: %w", p, err))
			continue
		}
		if err := tryLockExclusive(f); err != nil {
			sendErr(onErr, fmt.Errorf("%s: %w", p, err))
			_ = f.Close()
			continue
		}
		dests = append(dests, destination{path: p, file: f})
	}
	return dests
}

func closeAll(dests []destination) {
	for _, d := range dests {
		_ = d.file.Close()
	}
}

func sendErr(onErr func(error), err error) {
	if onErr != nil && err != nil {
		onErr(err)
	}
}

// ErrFileInUse is returned when a target file could not be locked for
// exclusive access, signaling that another process may be modifying it.
var ErrFileInUse = errors.New("file in use (locked by another process)")

// tryLockExclusive acquires a non-blocking exclusive advisory lock on f,
// returning ErrFileInUse if another process already holds one. The caller
// is responsible for unlocking by closing f.
func tryLockExclusive(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return ErrFileInUse
		}
		return err
	}
	return nil
}
