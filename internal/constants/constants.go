// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Face matching constants
const (
	// DefaultStrongThreshold is the maximum distance for a strong (confident) match.
	// Lower values = stricter matching
	DefaultStrongThreshold = 0.35

	// DefaultDoubtfulThreshold is the maximum distance for a doubtful match.
	// Anything above it is not reported at all.
	DefaultDoubtfulThreshold = 0.50
)

// Processing constants
const (
	// MaxWorkers caps the match worker pool regardless of CPU count,
	// extraction is CPU and memory heavy per task
	MaxWorkers = 8

	// AlignJPEGQuality is the JPEG quality used when re-encoding an aligned image
	AlignJPEGQuality = 95

	// MinAlignAngle is the smallest eye-line angle (degrees) worth rotating for
	MinAlignAngle = 0.1
)

// Results constants
const (
	// ResultsURLPrefix is the prefix of materialized result paths returned to clients
	ResultsURLPrefix = "results"

	// ResultTokenLength is the number of hex characters of the random token in result names
	ResultTokenLength = 8
)
