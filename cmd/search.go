package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-search/internal/config"
	"github.com/kozaktomas/face-search/internal/match"
	"github.com/kozaktomas/face-search/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search <query-image>",
	Short: "Find photos of the person in a query image",
	Long: `Search the gallery for photos of the person shown in the query image.

The first face detected in the query image is compared with every face in
every gallery photo. Photos closer than the strong threshold are strong
matches, photos closer than the doubtful threshold are doubtful matches.
Each person (by default: file name without extension) is reported once,
in the tier of their best photo. Matches are copied into the results
directory.

Examples:
  # Search the gallery configured in GALLERY_ROOT
  face-search search query.jpg

  # Search another directory with a stricter threshold
  face-search search query.jpg --root ~/Pictures/team --strong 0.3

  # JSON output for scripting
  face-search search query.jpg --json`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	addSearchFlags(searchCmd)
	searchCmd.Flags().Bool("json", false, "Output as JSON instead of tables")
}

func runSearch(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	cfg := config.Load()
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	query, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read query image: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var bar *progressbar.ProgressBar
	var progress func(match.TaskResult)
	if !jsonOutput {
		bar = newProgressBar(-1, "Matching")
		progress = func(match.TaskResult) { _ = bar.Add(1) }
	}

	a, err := newApp(ctx, cfg, progress)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, _, err := a.searchService()
	if err != nil {
		return err
	}

	if !jsonOutput {
		fmt.Printf("Searching %s (%d workers)...\n", cfg.Gallery.Root, a.engine.Workers())
	}

	resp, err := svc.Search(ctx, query)
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if err != nil {
		if errors.Is(err, search.ErrNoFaceDetected) {
			return fmt.Errorf("no face detected in %s", args[0])
		}
		return err
	}

	if jsonOutput {
		return outputJSON(resp)
	}

	printMatches("Strong matches", resp.Strong)
	printMatches("Doubtful matches", resp.Doubtful)

	s := resp.Stats
	fmt.Printf("\nProcessed %d images in %s (%.1f images/s, %d from cache)\n",
		s.Total, formatDuration(s.Elapsed), s.ImagesPerSecond, s.CacheHits)
	if s.NoFace > 0 || s.Failed > 0 {
		fmt.Printf("  %d without a face, %d failed\n", s.NoFace, s.Failed)
	}
	if s.Dropped > 0 {
		fmt.Printf("  %d matches could not be copied to %s\n", s.Dropped, cfg.Results.Dir)
	}
	return nil
}
