// Package match computes, for every gallery image, the smallest distance
// between the query face and the faces found in that image.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/kozaktomas/face-search/internal/cache"
	"github.com/kozaktomas/face-search/internal/constants"
	"github.com/kozaktomas/face-search/internal/embedding"
	"github.com/kozaktomas/face-search/internal/gallery"
	"github.com/kozaktomas/face-search/internal/metrics"
)

// Outcome is the typed result of processing one gallery image.
type Outcome int

const (
	OutcomeMatched Outcome = iota
	OutcomeNoFace
	OutcomeFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMatched:
		return "matched"
	case OutcomeNoFace:
		return "no_face"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the best match found in one gallery image.
type Result struct {
	SourcePath   string  `json:"source_path"`
	RelPath      string  `json:"rel_path"`
	Label        string  `json:"label"`
	BestDistance float64 `json:"distance"`
	FaceCount    int     `json:"face_count"`
	Cached       bool    `json:"cached"`
}

// TaskResult describes how one gallery image was processed. Result is only
// meaningful for OutcomeMatched; Err is set for OutcomeFailed and
// OutcomeCancelled.
type TaskResult struct {
	Image    gallery.Image
	Outcome  Outcome
	Result   Result
	Err      error
	CacheHit bool
}

// Summary aggregates task outcomes.
type Summary struct {
	Total     int `json:"total"`
	Matched   int `json:"matched"`
	NoFace    int `json:"no_face"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	CacheHits int `json:"cache_hits"`
}

// Cache is the embedding cache consulted before extraction.
type Cache interface {
	Lookup(ctx context.Context, path string) (cache.Entry, bool)
	Store(ctx context.Context, path string, embeddings [][]float32, label string) error
}

// Aligner prepares image bytes before extraction. It must never fail.
type Aligner interface {
	Align(ctx context.Context, imageData []byte) []byte
}

// Options configures an Engine.
type Options struct {
	// MaxWorkers caps the pool; the pool never exceeds runtime.NumCPU().
	MaxWorkers int
	Metric     Metric
	// Progress, if set, is called from worker goroutines after each task.
	Progress func(TaskResult)
}

// Engine runs per-image tasks on a bounded worker pool created per call.
type Engine struct {
	cache     Cache
	extractor embedding.Extractor
	aligner   Aligner
	metric    Metric
	workers   int
	progress  func(TaskResult)
	logger    *slog.Logger
}

// NewEngine creates an engine. The cache and aligner are optional.
func NewEngine(c Cache, extractor embedding.Extractor, aligner Aligner, opts Options) (*Engine, error) {
	if extractor == nil {
		return nil, errors.New("extractor is required")
	}
	metric := opts.Metric
	if metric == "" {
		metric = MetricEuclidean
	}
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	return &Engine{
		cache:     c,
		extractor: extractor,
		aligner:   aligner,
		metric:    metric,
		workers:   PoolSize(opts.MaxWorkers),
		progress:  opts.Progress,
		logger:    slog.Default().With("component", "match"),
	}, nil
}

// PoolSize returns min(NumCPU, maxWorkers); non-positive maxWorkers selects
// the default cap.
func PoolSize(maxWorkers int) int {
	if maxWorkers <= 0 {
		maxWorkers = constants.MaxWorkers
	}
	return max(1, min(runtime.NumCPU(), maxWorkers))
}

// Workers returns the pool size used for each call.
func (e *Engine) Workers() int {
	return e.workers
}

// Metric returns the distance metric in use.
func (e *Engine) Metric() Metric {
	return e.metric
}

// Match compares query against every image and returns one Result per image
// with at least one face, in the order of images.
func (e *Engine) Match(ctx context.Context, query []float32, images []gallery.Image) ([]Result, Summary) {
	tasks := e.Run(ctx, query, images)

	results := make([]Result, 0, len(tasks))
	for _, t := range tasks {
		if t.Outcome == OutcomeMatched {
			results = append(results, t.Result)
		}
	}
	return results, Summarize(tasks)
}

// Run processes every image and returns the task results in the order of
// images, regardless of completion order. One failing image never aborts
// the batch; once ctx is done the remaining images are marked cancelled.
func (e *Engine) Run(ctx context.Context, query []float32, images []gallery.Image) []TaskResult {
	return e.forEach(ctx, images, func(ctx context.Context, img gallery.Image) TaskResult {
		return e.compare(ctx, query, img)
	})
}

// Warm fills the cache for images without comparing anything. Matched in
// the returned summary counts images with at least one face.
func (e *Engine) Warm(ctx context.Context, images []gallery.Image) Summary {
	tasks := e.forEach(ctx, images, func(ctx context.Context, img gallery.Image) TaskResult {
		tr := TaskResult{Image: img}
		faces, _, hit, err := e.embeddings(ctx, img)
		tr.CacheHit = hit
		switch {
		case err != nil:
			tr.Outcome, tr.Err = failure(ctx, err)
		case len(faces) == 0:
			tr.Outcome = OutcomeNoFace
		default:
			tr.Outcome = OutcomeMatched
		}
		return tr
	})
	return Summarize(tasks)
}

// Summarize counts task outcomes.
func Summarize(tasks []TaskResult) Summary {
	s := Summary{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Outcome {
		case OutcomeMatched:
			s.Matched++
		case OutcomeNoFace:
			s.NoFace++
		case OutcomeFailed:
			s.Failed++
		case OutcomeCancelled:
			s.Cancelled++
		}
		if t.CacheHit {
			s.CacheHits++
		}
	}
	return s
}

func (e *Engine) forEach(ctx context.Context, images []gallery.Image, task func(context.Context, gallery.Image) TaskResult) []TaskResult {
	out := make([]TaskResult, len(images))
	if len(images) == 0 {
		return out
	}

	jobs := make(chan int, len(images))
	for i := range images {
		jobs <- i
	}
	close(jobs)

	// Each index is written by exactly one worker.
	var wg sync.WaitGroup
	for range min(e.workers, len(images)) {
		wg.Go(func() {
			for i := range jobs {
				var tr TaskResult
				if err := ctx.Err(); err != nil {
					tr = TaskResult{Image: images[i], Outcome: OutcomeCancelled, Err: err}
				} else {
					tr = task(ctx, images[i])
				}
				e.record(tr)
				out[i] = tr
				if e.progress != nil {
					e.progress(tr)
				}
			}
		})
	}
	wg.Wait()
	return out
}

func (e *Engine) compare(ctx context.Context, query []float32, img gallery.Image) TaskResult {
	tr := TaskResult{Image: img}

	faces, label, hit, err := e.embeddings(ctx, img)
	tr.CacheHit = hit
	if err != nil {
		tr.Outcome, tr.Err = failure(ctx, err)
		return tr
	}
	if len(faces) == 0 {
		tr.Outcome = OutcomeNoFace
		return tr
	}

	best, err := e.metric.MinDistance(query, faces)
	if err != nil {
		tr.Outcome = OutcomeFailed
		tr.Err = fmt.Errorf("compare %s: %w", img.Path, err)
		return tr
	}

	tr.Outcome = OutcomeMatched
	tr.Result = Result{
		SourcePath:   img.Path,
		RelPath:      img.RelPath,
		Label:        label,
		BestDistance: best,
		FaceCount:    len(faces),
		Cached:       hit,
	}
	return tr
}

// embeddings returns the face embeddings of img from the cache, or extracts
// and caches them on a miss.
func (e *Engine) embeddings(ctx context.Context, img gallery.Image) ([][]float32, string, bool, error) {
	if e.cache != nil {
		if entry, ok := e.cache.Lookup(ctx, img.Path); ok {
			label := entry.Label
			if label == "" {
				label = img.Label
			}
			return entry.Embeddings, label, true, nil
		}
	}

	start := time.Now()
	data, err := os.ReadFile(img.Path)
	if err != nil {
		return nil, "", false, fmt.Errorf("read %s: %w", img.Path, err)
	}
	if e.aligner != nil {
		data = e.aligner.Align(ctx, data)
	}
	resp, err := e.extractor.ExtractFaces(ctx, data)
	if err != nil {
		return nil, "", false, fmt.Errorf("extract %s: %w", img.Path, err)
	}
	faces := resp.Vectors()
	metrics.ExtractionDuration.Observe(time.Since(start).Seconds())

	// Face-less images are cached too so they are not re-extracted.
	if e.cache != nil {
		if err := e.cache.Store(ctx, img.Path, faces, img.Label); err != nil {
			e.logger.Warn("failed to cache embeddings", "path", img.Path, "error", err)
		}
	}
	return faces, img.Label, false, nil
}

func (e *Engine) record(tr TaskResult) {
	metrics.TasksTotal.WithLabelValues(tr.Outcome.String()).Inc()
	switch tr.Outcome {
	case OutcomeFailed:
		e.logger.Warn("image failed", "path", tr.Image.Path, "error", tr.Err)
	case OutcomeNoFace:
		e.logger.Debug("no face in image", "path", tr.Image.Path, "cached", tr.CacheHit)
	}
}

// failure classifies an error raised while ctx may have been cancelled.
func failure(ctx context.Context, err error) (Outcome, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return OutcomeCancelled, ctxErr
	}
	return OutcomeFailed, err
}
