//go:build e2e

package testfs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/docker/docker/api/types/container"
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

const (
	// baseImage must carry btrfs-progs (alpine's apk package works; nothing
	// is installed at image-build time, it's apk-added once per container).
	baseImage = "alpine:3.21"

	// Binary names and paths inside container.
	binaryName       = "btrdedupe"
	helperBinaryName = "testfs-helper"
	binaryPath       = "/tmp/" + binaryName
	helperBinaryPath = "/tmp/" + helperBinaryName

	// loopImageDir holds the backing sparse files for the per-volume
	// loopback btrfs filesystems.
	loopImageDir = "/btrfs-images"

	// loopImageSize is generous enough to hold the chunked fixtures tests
	// write while staying fast to mkfs.
	loopImageSize = "512M"
)

// -----------------------------------------------------------------------------
// Harness - Public API
// -----------------------------------------------------------------------------

// Harness provides E2E test infrastructure using a Docker container with a
// real btrfs filesystem.
//
// Each Volume is backed by its own loopback-mounted btrfs image rather than
// tmpfs: BTRFS_IOC_FILE_EXTENT_SAME and meaningful FIEMAP extent-sharing
// don't exist on tmpfs, so the container must provision real btrfs for the
// E2E suite to exercise anything.
//
// Usage:
//
//	given := testfs.FileTree{
//	    Volumes: []Volume{
//	        {MountPoint: "/vol1", Files: []File{{Path: []string{"a.txt", "b.txt"}, Chunks: []Chunk{{Pattern: 'A', Size: "1MiB"}}}}},
//	    },
//	}
//	then := testfs.FileTree{
//	    Volumes: []Volume{
//	        {MountPoint: "/vol1", Files: []File{{Path: []string{"a.txt", "b.txt"}, Want: []fiemap.Result{fiemap.AlreadyDeduped}}}},
//	    },
//	}
//	h := testfs.New(t, given)
//	h.RunBtrdedupe("/vol1")
//	h.Assert(then)
type Harness struct {
	t          *testing.T
	ctx        context.Context
	given      FileTree
	container  *Container
	lastResult *RunResult
}

// New creates a new Harness with the given FileTree specification.
//
// The harness:
//  1. Starts a privileged Docker container (loop-mounting btrfs requires it)
//  2. Bind-mounts pre-built btrdedupe/testfs-helper binaries into the container
//  3. Installs btrfs-progs, then formats and loop-mounts one btrfs image per
//     Volume in the spec
//  4. Creates the source file and its byte-identical destination copies
//
// Requires the BTRDEDUPE_E2E_BINDIR env var, naming a directory that holds
// pre-built btrdedupe and testfs-helper binaries.
// The container is automatically cleaned up when the test finishes via t.Cleanup().
func New(t *testing.T, given FileTree) *Harness {
	t.Helper()

	ctx := context.Background()
	h := &Harness{
		t:     t,
		ctx:   ctx,
		given: given,
	}

	cfg, hostCfg, err := h.buildContainerConfig()
	if err != nil {
		t.Fatalf("failed to build container config: %v", err)
	}

	c, err := NewContainer(ctx, cfg, hostCfg)
	if err != nil {
		t.Fatalf("failed to create container: %v", err)
	}
	h.container = c

	t.Cleanup(func() {
		h.Cleanup()
	})

	if err := h.provisionBtrfsVolumes(); err != nil {
		t.Fatalf("failed to provision btrfs volumes: %v", err)
	}

	if err := h.sowFileTree(); err != nil {
		t.Fatalf("failed to setup files: %v", err)
	}

	return h
}

// RunBtrdedupe executes the btrdedupe binary inside the container with the
// given arguments. The result (exit code, stdout, stderr) is stored for
// later assertion.
func (h *Harness) RunBtrdedupe(args ...string) *RunResult {
	h.t.Helper()

	cmd := append([]string{binaryPath}, args...)
	stdout, stderr, exitCode, err := h.container.Run(h.ctx, cmd, nil)
	if err != nil {
		h.t.Fatalf("failed to run btrdedupe: %v", err)
	}

	h.lastResult = &RunResult{
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
	}
	return h.lastResult
}

// Assert verifies the extent-sharing state matches the expected FileTree,
// and that the last RunBtrdedupe's exit code matches (if one was run).
func (h *Harness) Assert(expected FileTree) {
	h.t.Helper()

	if expected.ExitCode != 0 || h.lastResult != nil {
		if h.lastResult == nil {
			h.t.Fatal("Assert called before RunBtrdedupe")
		}
		if h.lastResult.ExitCode != expected.ExitCode {
			h.t.Errorf("exit code: got %d, want %d\nstdout: %s\nstderr: %s",
				h.lastResult.ExitCode, expected.ExitCode,
				h.lastResult.Stdout, h.lastResult.Stderr)
		}
	}

	actual, err := h.reapPaths(expected)
	if err != nil {
		h.t.Fatalf("reap: %v", err)
	}
	for i, vol := range expected.Volumes {
		AssertVolume(h.t, vol, actual.Volumes[i])
	}
}

// Cleanup terminates the container and releases resources.
func (h *Harness) Cleanup() {
	if h.container != nil {
		_ = h.container.Close(h.ctx)
		h.container = nil
	}
}

// -----------------------------------------------------------------------------
// Container Configuration
// -----------------------------------------------------------------------------

// buildContainerConfig creates Docker container and host configs for E2E tests.
func (h *Harness) buildContainerConfig() (*container.Config, *container.HostConfig, error) {
	binDir := os.Getenv("BTRDEDUPE_E2E_BINDIR")
	if binDir == "" {
		return nil, nil, fmt.Errorf("BTRDEDUPE_E2E_BINDIR not set - point it at a directory holding the %s and %s binaries", binaryName, helperBinaryName)
	}

	binds := []string{
		fmt.Sprintf("%s:%s:ro", filepath.Join(binDir, binaryName), binaryPath),
		fmt.Sprintf("%s:%s:ro", filepath.Join(binDir, helperBinaryName), helperBinaryPath),
	}

	cfg := &container.Config{
		Image: baseImage,
		Cmd:   []string{"sleep", "infinity"},
	}

	hostCfg := &container.HostConfig{
		Binds: binds,
		// Loop-mounting btrfs images needs CAP_SYS_ADMIN and access to
		// /dev/loop-control; the simplest way to grant both is Privileged.
		Privileged: true,
		AutoRemove: true,
	}

	return cfg, hostCfg, nil
}

// -----------------------------------------------------------------------------
// btrfs Volume Provisioning
// -----------------------------------------------------------------------------

// provisionBtrfsVolumes installs btrfs-progs, then formats and loop-mounts
// one sparse image per Volume in h.given so each MountPoint is backed by a
// real btrfs filesystem instead of tmpfs.
func (h *Harness) provisionBtrfsVolumes() error {
	if err := h.exec("apk add --no-cache btrfs-progs"); err != nil {
		return fmt.Errorf("install btrfs-progs: %w", err)
	}
	if err := h.exec(fmt.Sprintf("mkdir -p %s", loopImageDir)); err != nil {
		return err
	}

	mountPaths := make([]string, len(h.given.Volumes))
	for i, v := range h.given.Volumes {
		mountPaths[i] = v.MountPoint
	}
	sort.Strings(mountPaths) // parents before children

	for i, mp := range mountPaths {
		img := fmt.Sprintf("%s/vol%d.img", loopImageDir, i)
		script := fmt.Sprintf(
			"truncate -s %s %s && mkfs.btrfs -q %s && mkdir -p %s && mount -o loop %s %s",
			loopImageSize, img, img, mp, img, mp,
		)
		if err := h.exec(script); err != nil {
			return fmt.Errorf("provision volume %s: %w", mp, err)
		}
	}
	return nil
}

// exec runs a shell script inside the container and fails if it exits non-zero.
func (h *Harness) exec(script string) error {
	stdout, stderr, exitCode, err := h.container.Run(h.ctx, []string{"sh", "-c", script}, nil)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("exit %d: %s%s", exitCode, stdout, stderr)
	}
	return nil
}

// -----------------------------------------------------------------------------
// FileTree Operations
// -----------------------------------------------------------------------------

// sowFileTree creates filesystem from FileTree spec using testfs-helper.
func (h *Harness) sowFileTree() error {
	specJSON, err := json.Marshal(h.given)
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}

	cmd := []string{helperBinaryPath, "sow"}
	stdout, stderr, exitCode, err := h.container.Run(h.ctx, cmd, specJSON)
	if err != nil {
		return fmt.Errorf("run sow: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("sow failed (exit %d): %s%s", exitCode, stdout, stderr)
	}
	return nil
}

// reapPaths compares expected's source/destination pairs using testfs-helper.
func (h *Harness) reapPaths(expected FileTree) (*ReapResult, error) {
	specJSON, err := json.Marshal(expected)
	if err != nil {
		return nil, fmt.Errorf("marshal spec: %w", err)
	}

	cmd := []string{helperBinaryPath, "reap"}
	stdout, stderr, exitCode, err := h.container.Run(h.ctx, cmd, specJSON)
	if err != nil {
		return nil, fmt.Errorf("run reap: %w", err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("reap failed (exit %d): %s%s", exitCode, stdout, stderr)
	}

	var result ReapResult
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		return nil, fmt.Errorf("parse reap output: %w", err)
	}
	return &result, nil
}
