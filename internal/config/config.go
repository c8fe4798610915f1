package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Gallery   GalleryConfig
	Results   ResultsConfig
	Embedding EmbeddingConfig
	Cache     CacheConfig
	Database  DatabaseConfig
	Match     MatchConfig
	Log       LogConfig
	Web       WebConfig
}

type GalleryConfig struct {
	Root       string   // root directory of the photo gallery
	Extensions []string // lower-case extensions including the dot
}

type ResultsConfig struct {
	Dir string // directory receiving copies of matched photos (defaults to static/results)
}

type EmbeddingConfig struct {
	URL        string // defaults to http://localhost:8000
	TimeoutSec int    // per-request timeout (default 60)
	Align      bool   // align faces before extraction (default true)
}

type CacheConfig struct {
	Path       string // SQLite file used when DATABASE_URL is empty (default face_cache.db)
	HotMaxCost int64  // in-memory hot tier budget in bytes (default 64MB, 0 disables)
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL, switches the cache backend to PostgreSQL
	MaxOpenConns int    // Maximum open connections (default 10)
	MaxIdleConns int    // Maximum idle connections (default 2)
}

type MatchConfig struct {
	StrongThreshold   float64
	DoubtfulThreshold float64
	MaxWorkers        int
	DistanceMetric    string // euclidean or cosine
	IdentityKey       string // stem, name or path
}

type LogConfig struct {
	Level  string
	Format string // text or json
}

type WebConfig struct {
	Host           string
	Port           int
	MaxUploadMB    int
	AllowedOrigins []string // besides localhost, which is always allowed
}

// defaults mirrors defaults.yaml
type defaults struct {
	Extensions []string `yaml:"extensions"`
	Thresholds struct {
		Strong   float64 `yaml:"strong"`
		Doubtful float64 `yaml:"doubtful"`
	} `yaml:"thresholds"`
	Workers struct {
		Max int `yaml:"max"`
	} `yaml:"workers"`
	DistanceMetric string `yaml:"distance_metric"`
	IdentityKey    string `yaml:"identity_key"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a non-negative float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envBool reads an environment variable as a boolean ("1", "true", "false", ...).
func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envExtensions reads a comma separated list, normalizing extensions to ".ext" lower case.
func envExtensions(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var exts []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if !strings.HasPrefix(part, ".") {
			part = "." + part
		}
		exts = append(exts, part)
	}
	if len(exts) == 0 {
		return defaultVal
	}
	return exts
}

// envList reads a comma separated list, dropping empty items.
func envList(key string) []string {
	var out []string
	for part := range strings.SplitSeq(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func Load() *Config {
	var d defaults
	if err := yaml.Unmarshal(defaultsYAML, &d); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	return &Config{
		Gallery: GalleryConfig{
			Root:       os.Getenv("GALLERY_ROOT"),
			Extensions: envExtensions("GALLERY_EXTENSIONS", d.Extensions),
		},
		Results: ResultsConfig{
			Dir: envString("RESULTS_DIR", "static/results"),
		},
		Embedding: EmbeddingConfig{
			URL:        os.Getenv("EMBEDDING_URL"),
			TimeoutSec: envInt("EMBEDDING_TIMEOUT_SEC", 60),
			Align:      envBool("ALIGN_FACES", true),
		},
		Cache: CacheConfig{
			Path:       envString("CACHE_PATH", "face_cache.db"),
			HotMaxCost: int64(envInt("CACHE_HOT_MAX_COST", 64<<20)),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 2),
		},
		Match: MatchConfig{
			StrongThreshold:   envFloat("STRONG_THRESHOLD", d.Thresholds.Strong),
			DoubtfulThreshold: envFloat("DOUBTFUL_THRESHOLD", d.Thresholds.Doubtful),
			MaxWorkers:        envInt("MAX_WORKERS", d.Workers.Max),
			DistanceMetric:    strings.ToLower(envString("DISTANCE_METRIC", d.DistanceMetric)),
			IdentityKey:       strings.ToLower(envString("IDENTITY_KEY", d.IdentityKey)),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "text"),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 5000),
			MaxUploadMB:    envInt("MAX_UPLOAD_MB", 32),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
	}
}

// Validate checks the settings a search needs.
func (c *Config) Validate() error {
	if c.Gallery.Root == "" {
		return errors.New("GALLERY_ROOT is required")
	}
	if c.Match.StrongThreshold > c.Match.DoubtfulThreshold {
		return fmt.Errorf("strong threshold %.3f is above doubtful threshold %.3f",
			c.Match.StrongThreshold, c.Match.DoubtfulThreshold)
	}
	switch c.Match.DistanceMetric {
	case "euclidean", "cosine":
	default:
		return fmt.Errorf("unknown distance metric %q (use euclidean or cosine)", c.Match.DistanceMetric)
	}
	switch c.Match.IdentityKey {
	case "stem", "name", "path":
	default:
		return fmt.Errorf("unknown identity key %q (use stem, name or path)", c.Match.IdentityKey)
	}
	return nil
}
