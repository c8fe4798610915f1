// Package facematch turns per-image match results into the strong and
// doubtful tiers reported to users, with at most one entry per identity.
package facematch

import (
	"errors"
	"fmt"

	"github.com/kozaktomas/face-search/internal/constants"
	"github.com/kozaktomas/face-search/internal/match"
)

// Tier is the confidence class of a reported match.
type Tier string

const (
	TierStrong   Tier = "strong"
	TierDoubtful Tier = "doubtful"
)

// ClassifiedMatch is a match that made it into a tier. ResultPath is filled
// in once the source file has been materialized.
type ClassifiedMatch struct {
	match.Result
	Tier       Tier   `json:"tier"`
	ResultPath string `json:"path,omitempty"`
}

// Thresholds are inclusive upper bounds on the distance of each tier.
type Thresholds struct {
	Strong   float64 `json:"strong"`
	Doubtful float64 `json:"doubtful"`
}

// DefaultThresholds returns the thresholds calibrated for 128-D Euclidean
// face embeddings.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Strong:   constants.DefaultStrongThreshold,
		Doubtful: constants.DefaultDoubtfulThreshold,
	}
}

// Validate rejects negative or inverted thresholds.
func (t Thresholds) Validate() error {
	if t.Strong < 0 || t.Doubtful < 0 {
		return errors.New("thresholds must not be negative")
	}
	if t.Strong > t.Doubtful {
		return fmt.Errorf("strong threshold %.3f is above doubtful threshold %.3f", t.Strong, t.Doubtful)
	}
	return nil
}

// TierOf returns the tier for a distance, or false if it is excluded.
func (t Thresholds) TierOf(distance float64) (Tier, bool) {
	switch {
	case distance <= t.Strong:
		return TierStrong, true
	case distance <= t.Doubtful:
		return TierDoubtful, true
	default:
		return "", false
	}
}
