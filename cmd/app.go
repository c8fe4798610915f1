package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-search/internal/align"
	"github.com/kozaktomas/face-search/internal/cache"
	"github.com/kozaktomas/face-search/internal/config"
	"github.com/kozaktomas/face-search/internal/embedding"
	"github.com/kozaktomas/face-search/internal/facematch"
	"github.com/kozaktomas/face-search/internal/gallery"
	"github.com/kozaktomas/face-search/internal/match"
	"github.com/kozaktomas/face-search/internal/results"
	"github.com/kozaktomas/face-search/internal/search"
)

// addGalleryFlags registers the flags of commands that process the gallery.
func addGalleryFlags(cmd *cobra.Command) {
	cmd.Flags().String("root", "", "Gallery root directory (overrides GALLERY_ROOT)")
	cmd.Flags().Int("workers", 0, "Maximum parallel workers, capped at the CPU count (overrides MAX_WORKERS)")
	cmd.Flags().Bool("no-align", false, "Skip face alignment before extraction")
}

// addSearchFlags registers the flags of commands that run searches.
func addSearchFlags(cmd *cobra.Command) {
	addGalleryFlags(cmd)
	cmd.Flags().Float64("strong", 0, "Strong match threshold (overrides STRONG_THRESHOLD)")
	cmd.Flags().Float64("doubtful", 0, "Doubtful match threshold (overrides DOUBTFUL_THRESHOLD)")
	cmd.Flags().String("metric", "", "Distance metric: euclidean or cosine (overrides DISTANCE_METRIC)")
	cmd.Flags().String("identity-key", "", "Identity used for deduplication: stem, name or path (overrides IDENTITY_KEY)")
	cmd.Flags().String("results-dir", "", "Directory receiving copies of matches (overrides RESULTS_DIR)")
}

// applyFlags overrides configuration values with flags set on the command line.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if changed("root") {
		cfg.Gallery.Root = mustGetString(cmd, "root")
	}
	if changed("workers") {
		cfg.Match.MaxWorkers = mustGetInt(cmd, "workers")
	}
	if changed("no-align") {
		cfg.Embedding.Align = !mustGetBool(cmd, "no-align")
	}
	if changed("strong") {
		cfg.Match.StrongThreshold = mustGetFloat64(cmd, "strong")
	}
	if changed("doubtful") {
		cfg.Match.DoubtfulThreshold = mustGetFloat64(cmd, "doubtful")
	}
	if changed("metric") {
		cfg.Match.DistanceMetric = mustGetString(cmd, "metric")
	}
	if changed("identity-key") {
		cfg.Match.IdentityKey = mustGetString(cmd, "identity-key")
	}
	if changed("results-dir") {
		cfg.Results.Dir = mustGetString(cmd, "results-dir")
	}
}

// app holds the collaborators shared by the commands.
type app struct {
	cfg      *config.Config
	cache    *cache.Cache
	embedder *embedding.Client
	aligner  match.Aligner
	indexer  *gallery.Indexer
	engine   *match.Engine
}

// newApp opens the embedding cache and builds the match engine. progress may be nil.
func newApp(ctx context.Context, cfg *config.Config, progress func(match.TaskResult)) (*app, error) {
	metric, err := match.ParseMetric(cfg.Match.DistanceMetric)
	if err != nil {
		return nil, err
	}
	indexer, err := gallery.NewIndexer(cfg.Gallery.Extensions)
	if err != nil {
		return nil, fmt.Errorf("create gallery indexer: %w", err)
	}

	client := embedding.NewClient(cfg.Embedding.URL, time.Duration(cfg.Embedding.TimeoutSec)*time.Second)

	var aligner match.Aligner
	if cfg.Embedding.Align {
		aligner = align.New(client)
	}

	c, err := cache.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	engine, err := match.NewEngine(c, client, aligner, match.Options{
		MaxWorkers: cfg.Match.MaxWorkers,
		Metric:     metric,
		Progress:   progress,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("create match engine: %w", err)
	}

	return &app{
		cfg:      cfg,
		cache:    c,
		embedder: client,
		aligner:  aligner,
		indexer:  indexer,
		engine:   engine,
	}, nil
}

// searchService builds a search service writing matches into the results directory.
func (a *app) searchService() (*search.Service, *results.Materializer, error) {
	key, err := facematch.IdentityKey(a.cfg.Match.IdentityKey)
	if err != nil {
		return nil, nil, err
	}
	materializer, err := results.New(a.cfg.Results.Dir)
	if err != nil {
		return nil, nil, fmt.Errorf("prepare results directory: %w", err)
	}

	svc, err := search.NewService(search.Config{
		Root:         a.cfg.Gallery.Root,
		Extractor:    a.embedder,
		Aligner:      a.aligner,
		Indexer:      a.indexer,
		Engine:       a.engine,
		Materializer: materializer,
		Thresholds: facematch.Thresholds{
			Strong:   a.cfg.Match.StrongThreshold,
			Doubtful: a.cfg.Match.DoubtfulThreshold,
		},
		IdentityKey: key,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create search service: %w", err)
	}
	return svc, materializer, nil
}

func (a *app) Close() {
	if err := a.cache.Close(); err != nil {
		fmt.Printf("Warning: failed to close cache: %v\n", err)
	}
}
