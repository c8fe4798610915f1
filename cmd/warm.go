package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-search/internal/config"
	"github.com/kozaktomas/face-search/internal/match"
)

var warmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Compute and cache face embeddings for the whole gallery",
	Long: `Extract face embeddings for every gallery photo that is not cached yet
(or changed since it was cached), so later searches only compare vectors.

Examples:
  face-search warm --root ~/Pictures

  # Also drop cache entries of photos that no longer exist
  face-search warm --prune`,
	RunE: runWarm,
}

func init() {
	rootCmd.AddCommand(warmCmd)

	addGalleryFlags(warmCmd)
	warmCmd.Flags().Bool("prune", false, "Remove cache entries of photos that no longer exist")
	warmCmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")
}

// WarmResult represents the result of a warm run
type WarmResult struct {
	match.Summary
	Pruned     int   `json:"pruned"`
	DurationMs int64 `json:"duration_ms"`
}

func runWarm(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	prune := mustGetBool(cmd, "prune")

	cfg := config.Load()
	applyFlags(cmd, cfg)
	if cfg.Gallery.Root == "" {
		return errors.New("GALLERY_ROOT is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	start := time.Now()

	var bar *progressbar.ProgressBar
	var progress func(match.TaskResult)
	if !jsonOutput {
		progress = func(match.TaskResult) {
			if bar != nil {
				_ = bar.Add(1)
			}
		}
	}

	a, err := newApp(ctx, cfg, progress)
	if err != nil {
		return err
	}
	defer a.Close()

	images, err := a.indexer.Index(ctx, cfg.Gallery.Root)
	if err != nil {
		return fmt.Errorf("index gallery: %w", err)
	}
	if !jsonOutput {
		fmt.Printf("Found %d images in %s\n\n", len(images), cfg.Gallery.Root)
		bar = newProgressBar(len(images), "Warming cache")
	}

	result := WarmResult{Summary: a.engine.Warm(ctx, images)}
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}

	if prune {
		pruned, err := a.cache.Prune(ctx, fileExists)
		if err != nil {
			return err
		}
		result.Pruned = pruned
	}
	result.DurationMs = time.Since(start).Milliseconds()

	if jsonOutput {
		return outputJSON(result)
	}

	fmt.Printf("\nWarmed %d images in %s: %d already cached, %d without a face, %d failed\n",
		result.Total, formatDuration(time.Since(start)), result.CacheHits, result.NoFace, result.Failed)
	if prune {
		fmt.Printf("Pruned %d stale cache entries\n", result.Pruned)
	}
	if result.Cancelled > 0 {
		return fmt.Errorf("interrupted, %d images not processed", result.Cancelled)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
