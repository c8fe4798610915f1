// Package search runs one face search end to end: query embedding, gallery
// indexing, matching, classification and materialization of the results.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kozaktomas/face-search/internal/embedding"
	"github.com/kozaktomas/face-search/internal/facematch"
	"github.com/kozaktomas/face-search/internal/gallery"
	"github.com/kozaktomas/face-search/internal/match"
	"github.com/kozaktomas/face-search/internal/metrics"
)

// ErrNoFaceDetected is returned when the query image contains no face.
var ErrNoFaceDetected = errors.New("no face detected in query image")

// Stage names the steps of a search, in order.
type Stage string

const (
	StageIdle                    Stage = "idle"
	StageQueryEmbeddingExtracted Stage = "query_embedding_extracted"
	StageIndexed                 Stage = "indexed"
	StageMatched                 Stage = "matched"
	StageClassified              Stage = "classified"
	StageMaterialized            Stage = "materialized"
	StageDone                    Stage = "done"
)

// Match is one reported match.
type Match struct {
	Path         string  `json:"path"`
	OriginalName string  `json:"original_name"`
	Distance     float64 `json:"distance"`
	Source       string  `json:"source"`
}

// Stats describes how a search went.
type Stats struct {
	match.Summary
	Dropped         int              `json:"dropped"`
	Workers         int              `json:"workers"`
	Elapsed         time.Duration    `json:"-"`
	ElapsedMs       int64            `json:"elapsed_ms"`
	ImagesPerSecond float64          `json:"images_per_second"`
	Timings         map[Stage]string `json:"timings"`
}

// Response is the outcome of a successful search.
type Response struct {
	Strong   []Match `json:"strong"`
	Doubtful []Match `json:"doubtful"`
	Stats    Stats   `json:"stats"`
}

// Materializer publishes a classified match and returns its client path.
type Materializer interface {
	Materialize(ctx context.Context, m facematch.ClassifiedMatch) (string, error)
}

// Config holds the collaborators and policy of a Service.
type Config struct {
	Root         string
	Extractor    embedding.Extractor
	Aligner      match.Aligner
	Indexer      *gallery.Indexer
	Engine       *match.Engine
	Materializer Materializer
	Thresholds   facematch.Thresholds
	IdentityKey  facematch.IdentityKeyFunc
}

// Service coordinates searches against one gallery root. Searches may run
// concurrently; they share only the embedding cache inside the engine.
type Service struct {
	cfg    Config
	logger *slog.Logger
}

// NewService validates cfg and returns a Service.
func NewService(cfg Config) (*Service, error) {
	switch {
	case cfg.Extractor == nil:
		return nil, errors.New("extractor is required")
	case cfg.Indexer == nil:
		return nil, errors.New("indexer is required")
	case cfg.Engine == nil:
		return nil, errors.New("engine is required")
	case cfg.Materializer == nil:
		return nil, errors.New("materializer is required")
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if cfg.IdentityKey == nil {
		cfg.IdentityKey = facematch.ByStem
	}
	return &Service{cfg: cfg, logger: slog.Default().With("component", "search")}, nil
}

// Root returns the gallery root searched by this service.
func (s *Service) Root() string {
	return s.cfg.Root
}

// Search finds the gallery images showing the person in queryImage.
func (s *Service) Search(ctx context.Context, queryImage []byte) (*Response, error) {
	start := time.Now()
	tl := newTimeline(start)

	query, err := s.queryEmbedding(ctx, queryImage)
	if err != nil {
		if errors.Is(err, ErrNoFaceDetected) {
			metrics.SearchesTotal.WithLabelValues("no_face").Inc()
		} else {
			metrics.SearchesTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	tl.mark(StageQueryEmbeddingExtracted)

	images, err := s.cfg.Indexer.Index(ctx, s.cfg.Root)
	if err != nil {
		metrics.SearchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("index gallery: %w", err)
	}
	tl.mark(StageIndexed)
	s.logger.Debug("gallery indexed", "images", len(images))

	results, summary := s.cfg.Engine.Match(ctx, query, images)
	tl.mark(StageMatched)
	if err := ctx.Err(); err != nil {
		metrics.SearchesTotal.WithLabelValues("cancelled").Inc()
		return nil, fmt.Errorf("search cancelled after %d of %d images: %w",
			summary.Total-summary.Cancelled, summary.Total, err)
	}

	strong, doubtful := facematch.Classify(results, s.cfg.Thresholds, s.cfg.IdentityKey)
	if dups := facematch.CrossTierDuplicates(strong, doubtful, s.cfg.IdentityKey); len(dups) > 0 {
		s.logger.Error("identities reported in both tiers", "identities", dups)
	}
	tl.mark(StageClassified)

	strongOut, droppedStrong := s.materialize(ctx, strong)
	doubtfulOut, droppedDoubtful := s.materialize(ctx, doubtful)
	tl.mark(StageMaterialized)

	tl.mark(StageDone)

	elapsed := time.Since(start)
	stats := Stats{
		Summary:   summary,
		Dropped:   droppedStrong + droppedDoubtful,
		Workers:   s.cfg.Engine.Workers(),
		Elapsed:   elapsed,
		ElapsedMs: elapsed.Milliseconds(),
		Timings:   tl.durations(),
	}
	if secs := elapsed.Seconds(); secs > 0 {
		stats.ImagesPerSecond = float64(summary.Total) / secs
	}

	metrics.SearchesTotal.WithLabelValues("ok").Inc()
	metrics.MatchesTotal.WithLabelValues(string(facematch.TierStrong)).Add(float64(len(strongOut)))
	metrics.MatchesTotal.WithLabelValues(string(facematch.TierDoubtful)).Add(float64(len(doubtfulOut)))

	s.logger.Info("search finished",
		"images", summary.Total,
		"strong", len(strongOut),
		"doubtful", len(doubtfulOut),
		"no_face", summary.NoFace,
		"failed", summary.Failed,
		"cache_hits", summary.CacheHits,
		"dropped", stats.Dropped,
		"elapsed", elapsed.Round(time.Millisecond),
		"images_per_second", fmt.Sprintf("%.2f", stats.ImagesPerSecond),
	)

	return &Response{Strong: strongOut, Doubtful: doubtfulOut, Stats: stats}, nil
}

// queryEmbedding aligns the query and returns the embedding of its first face.
func (s *Service) queryEmbedding(ctx context.Context, queryImage []byte) ([]float32, error) {
	if len(queryImage) == 0 {
		return nil, errors.New("query image is empty")
	}
	data := queryImage
	if s.cfg.Aligner != nil {
		data = s.cfg.Aligner.Align(ctx, data)
	}
	resp, err := s.cfg.Extractor.ExtractFaces(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("extract query embedding: %w", err)
	}
	vectors := resp.Vectors()
	if len(vectors) == 0 {
		return nil, ErrNoFaceDetected
	}
	return vectors[0], nil
}

// materialize publishes matches with the same bounded concurrency as the
// engine, preserving order. Failed copies are logged and dropped.
func (s *Service) materialize(ctx context.Context, matches []facematch.ClassifiedMatch) ([]Match, int) {
	paths := make([]string, len(matches))
	sem := make(chan struct{}, max(1, s.cfg.Engine.Workers()))
	var wg sync.WaitGroup

	for i := range matches {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			p, err := s.cfg.Materializer.Materialize(ctx, matches[i])
			if err != nil {
				s.logger.Warn("failed to materialize match", "source", matches[i].SourcePath, "error", err)
				return
			}
			paths[i] = p
		}(i)
	}
	wg.Wait()

	out := make([]Match, 0, len(matches))
	for i, m := range matches {
		if paths[i] == "" {
			continue
		}
		matches[i].ResultPath = paths[i]
		out = append(out, Match{
			Path:         paths[i],
			OriginalName: m.Label,
			Distance:     m.BestDistance,
			Source:       m.RelPath,
		})
	}
	return out, len(matches) - len(out)
}

// timeline records when each stage was reached.
type timeline struct {
	last  time.Time
	stage map[Stage]time.Duration
}

func newTimeline(start time.Time) *timeline {
	return &timeline{last: start, stage: make(map[Stage]time.Duration)}
}

func (t *timeline) mark(s Stage) {
	now := time.Now()
	d := now.Sub(t.last)
	t.last = now
	t.stage[s] = d
	metrics.SearchStageDuration.WithLabelValues(string(s)).Observe(d.Seconds())
}

func (t *timeline) durations() map[Stage]string {
	out := make(map[Stage]string, len(t.stage))
	for s, d := range t.stage {
		out[s] = d.Round(time.Microsecond).String()
	}
	return out
}
