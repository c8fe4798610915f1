// Package constants provides shared constants used across the codebase.
package constants

// File upload constants
const (
	// MaxUploadSize is the default maximum upload size in bytes (32MB)
	MaxUploadSize = 32 << 20
)

// Cache constants
const (
	// DefaultHotCacheCounters is the number of keys ristretto tracks for admission
	DefaultHotCacheCounters = 1e6

	// DefaultHotCacheBufferItems is the ristretto Get buffer size
	DefaultHotCacheBufferItems = 64
)
