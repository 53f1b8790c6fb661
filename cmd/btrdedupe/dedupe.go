package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ivoronin/btrdedupe/internal/cache"
	"github.com/ivoronin/btrdedupe/internal/dedup"
	"github.com/ivoronin/btrdedupe/internal/hasher"
	"github.com/ivoronin/btrdedupe/internal/types"
	"github.com/ivoronin/btrdedupe/internal/walker"
)

// dedupeOptions holds the CLI flags for the root command.
type dedupeOptions struct {
	minSizeStr string
	excludes   []string
	workers    int
	noProgress bool
	dryRun     bool
	cacheFile  string
}

// newRootCmd builds the single-command CLI: btrdedupe walks the given
// paths, groups identical files, and deduplicates each group in place.
func newRootCmd() *cobra.Command {
	opts := &dedupeOptions{
		minSizeStr: fmt.Sprintf("%d", types.MinDedupUnit),
		workers:    4,
	}

	cmd := &cobra.Command{
		Use:     "btrdedupe [paths...]",
		Short:   "Find and deduplicate identical files on a btrfs filesystem",
		Version: version + " (" + commit + ")",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runDedupe(args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.minSizeStr, "min-file-size", "s", opts.minSizeStr, "Minimum file size in bytes (e.g., 4096, 1M, 1G)")
	cmd.Flags().StringSliceVarP(&opts.excludes, "exclude", "e", nil, "Glob patterns to exclude")
	cmd.Flags().IntVarP(&opts.workers, "worker-count", "w", opts.workers, "Hash pipeline worker pool size")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")
	cmd.Flags().BoolVarP(&opts.dryRun, "dry-run", "n", false, "Report what would be deduplicated without issuing ioctls")
	cmd.Flags().StringVar(&opts.cacheFile, "cache-file", "", "Path to a hash cache file (enables caching across runs)")

	return cmd
}

// drainErrors consumes errors from a channel and writes them to stderr.
// Walk errors are prefixed WARNING, everything else at error level,
// matching how per-stage errCh producers tag their own errors.
func drainErrors(errs <-chan error) {
	for err := range errs {
		var werr *walker.WalkError
		if errors.As(err, &werr) {
			fmt.Fprintf(os.Stderr, "\r\033[KWARNING: %v\n", err)
			continue
		}
		fmt.Fprintf(os.Stderr, "\r\033[Kerror: %v\n", err)
	}
}

// runDedupe executes the pipeline: walk → hash → dedup, then prints one
// block per deduplicated group to stdout.
func runDedupe(paths []string, opts *dedupeOptions) error {
	minSize, err := parseSize(opts.minSizeStr)
	if err != nil {
		return fmt.Errorf("invalid --min-file-size: %w", err)
	}
	if minSize < types.MinDedupUnit {
		fmt.Fprintf(os.Stderr, "WARNING: --min-file-size clamped up to %d\n", types.MinDedupUnit)
	}

	if err := validateGlobPatterns(opts.excludes); err != nil {
		return fmt.Errorf("invalid --exclude: %w", err)
	}

	showProgress := !opts.noProgress

	errs := make(chan error, 100)
	go drainErrors(errs)
	defer close(errs)

	w := walker.New(minSize, opts.excludes, func(e error) { errs <- e })
	for _, p := range paths {
		if err := w.AddRoot(p); err != nil {
			return err
		}
	}

	hashCache, err := cache.Open(opts.cacheFile)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer func() { _ = hashCache.Close() }()

	matches := hasher.New(opts.workers, hashCache, showProgress, errs).Run(w.SizeGroups())
	results := dedup.New(opts.dryRun, showProgress, errs).Run(matches)

	for r := range results {
		fmt.Printf("- %s\n", r.Source)
		for _, d := range r.Destinations {
			fmt.Printf("- %s\n", d)
		}
		fmt.Printf("Deduped %d bytes\n\n", r.BytesSaved)
	}

	return nil
}
