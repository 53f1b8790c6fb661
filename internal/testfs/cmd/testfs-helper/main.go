//go:build linux

// testfs-helper is a binary helper for E2E tests that runs inside containers.
//
// It provides two modes for filesystem operations:
//
//	testfs-helper sow   - Create filesystem from JSON spec (stdin)
//	testfs-helper reap  - Compare a FileTree's source/destination pairs via
//	                      FIEMAP and write the results as JSON (stdin -> stdout)
//
// This is a thin wrapper around the testfs package functions.
package main

import (
	"fmt"
	"os"

	"github.com/ivoronin/btrdedupe/internal/testfs"
)

func main() {
	if len(os.Args) < 2 {
		fatalf("usage: testfs-helper <sow|reap>")
	}

	switch os.Args[1] {
	case "sow":
		cmdSow()
	case "reap":
		cmdReap()
	default:
		fatalf("unknown command: %s (use 'sow' or 'reap')", os.Args[1])
	}
}

// cmdSow reads a FileTree JSON from stdin and creates the filesystem.
func cmdSow() {
	// Root is "/" since we're in a container with actual btrfs mounts
	if err := testfs.SowFromReader(os.Stdin, "/"); err != nil {
		fatalf("sow: %v", err)
	}
}

// cmdReap reads the expected FileTree JSON from stdin, compares every
// declared source/destination pair via FIEMAP, and writes a ReapResult.
func cmdReap() {
	if err := testfs.ReapToWriter(os.Stdin, os.Stdout, "/"); err != nil {
		fatalf("reap: %v", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "testfs-helper: "+format+"\n", args...)
	os.Exit(1)
}
