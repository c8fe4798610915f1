package match

import (
	"fmt"
	"math"
	"strings"

	"github.com/viterin/vek/vek32"
)

// Metric selects how two embeddings are compared. Smaller is more similar.
type Metric string

const (
	// MetricEuclidean is the L2 distance, the native metric of 128-D face
	// embeddings and the one the default thresholds are calibrated for.
	MetricEuclidean Metric = "euclidean"
	// MetricCosine is 1 - cosine similarity.
	MetricCosine Metric = "cosine"
)

// ParseMetric parses a metric name; the empty string selects Euclidean.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case "", MetricEuclidean:
		return MetricEuclidean, nil
	case MetricCosine:
		return MetricCosine, nil
	default:
		return "", fmt.Errorf("unknown distance metric %q", s)
	}
}

// Distance compares two embeddings of equal length.
func (m Metric) Distance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("empty embedding")
	}

	switch m {
	case MetricCosine:
		na := vek32.Dot(a, a)
		nb := vek32.Dot(b, b)
		if na == 0 || nb == 0 {
			return 1, nil
		}
		sim := float64(vek32.Dot(a, b)) / math.Sqrt(float64(na)*float64(nb))
		return 1 - sim, nil
	default:
		return float64(vek32.Distance(a, b)), nil
	}
}

// MinDistance returns the smallest distance between query and any of faces.
func (m Metric) MinDistance(query []float32, faces [][]float32) (float64, error) {
	if len(faces) == 0 {
		return 0, fmt.Errorf("no faces to compare")
	}
	best := math.Inf(1)
	for i, f := range faces {
		d, err := m.Distance(query, f)
		if err != nil {
			return 0, fmt.Errorf("face %d: %w", i, err)
		}
		if d < best {
			best = d
		}
	}
	return best, nil
}
