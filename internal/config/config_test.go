package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"STRONG_THRESHOLD", "DOUBTFUL_THRESHOLD", "MAX_WORKERS", "GALLERY_EXTENSIONS", "DISTANCE_METRIC", "IDENTITY_KEY", "ALIGN_FACES"} {
		os.Unsetenv(key)
	}

	cfg := Load()

	if cfg.Match.StrongThreshold != 0.35 {
		t.Errorf("expected default strong threshold 0.35, got %f", cfg.Match.StrongThreshold)
	}
	if cfg.Match.DoubtfulThreshold != 0.50 {
		t.Errorf("expected default doubtful threshold 0.50, got %f", cfg.Match.DoubtfulThreshold)
	}
	if cfg.Match.MaxWorkers != 8 {
		t.Errorf("expected default max workers 8, got %d", cfg.Match.MaxWorkers)
	}
	if cfg.Match.DistanceMetric != "euclidean" {
		t.Errorf("expected default metric 'euclidean', got '%s'", cfg.Match.DistanceMetric)
	}
	if cfg.Match.IdentityKey != "stem" {
		t.Errorf("expected default identity key 'stem', got '%s'", cfg.Match.IdentityKey)
	}
	if !cfg.Embedding.Align {
		t.Error("expected alignment to be enabled by default")
	}

	expected := []string{".jpg", ".jpeg", ".png"}
	if len(cfg.Gallery.Extensions) != len(expected) {
		t.Fatalf("expected %d extensions, got %v", len(expected), cfg.Gallery.Extensions)
	}
	for i, ext := range expected {
		if cfg.Gallery.Extensions[i] != ext {
			t.Errorf("expected extension %s at %d, got %s", ext, i, cfg.Gallery.Extensions[i])
		}
	}
}

func TestLoad_CustomThresholds(t *testing.T) {
	t.Setenv("STRONG_THRESHOLD", "0.3")
	t.Setenv("DOUBTFUL_THRESHOLD", "0.6")

	cfg := Load()

	if cfg.Match.StrongThreshold != 0.3 {
		t.Errorf("expected strong threshold 0.3, got %f", cfg.Match.StrongThreshold)
	}
	if cfg.Match.DoubtfulThreshold != 0.6 {
		t.Errorf("expected doubtful threshold 0.6, got %f", cfg.Match.DoubtfulThreshold)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("STRONG_THRESHOLD", "abc")
	t.Setenv("DOUBTFUL_THRESHOLD", "-1")
	t.Setenv("MAX_WORKERS", "0")
	t.Setenv("ALIGN_FACES", "maybe")

	cfg := Load()

	if cfg.Match.StrongThreshold != 0.35 {
		t.Errorf("expected fallback strong threshold 0.35, got %f", cfg.Match.StrongThreshold)
	}
	if cfg.Match.DoubtfulThreshold != 0.50 {
		t.Errorf("expected fallback doubtful threshold 0.50, got %f", cfg.Match.DoubtfulThreshold)
	}
	if cfg.Match.MaxWorkers != 8 {
		t.Errorf("expected fallback max workers 8, got %d", cfg.Match.MaxWorkers)
	}
	if !cfg.Embedding.Align {
		t.Error("expected alignment fallback true for invalid bool")
	}
}

func TestLoad_Extensions(t *testing.T) {
	t.Setenv("GALLERY_EXTENSIONS", "JPG, .webp,,png")

	cfg := Load()

	expected := []string{".jpg", ".webp", ".png"}
	if len(cfg.Gallery.Extensions) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, cfg.Gallery.Extensions)
	}
	for i, ext := range expected {
		if cfg.Gallery.Extensions[i] != ext {
			t.Errorf("expected extension %s at %d, got %s", ext, i, cfg.Gallery.Extensions[i])
		}
	}
}

func TestLoad_AlignDisabled(t *testing.T) {
	t.Setenv("ALIGN_FACES", "false")

	cfg := Load()

	if cfg.Embedding.Align {
		t.Error("expected alignment to be disabled")
	}
}

func TestLoad_AllowedOrigins(t *testing.T) {
	t.Setenv("WEB_ALLOWED_ORIGINS", "https://faces.example.com, ,https://admin.example.com")

	cfg := Load()

	want := []string{"https://faces.example.com", "https://admin.example.com"}
	if len(cfg.Web.AllowedOrigins) != len(want) {
		t.Fatalf("expected %v, got %v", want, cfg.Web.AllowedOrigins)
	}
	for i := range want {
		if cfg.Web.AllowedOrigins[i] != want[i] {
			t.Errorf("origin %d: expected %q, got %q", i, want[i], cfg.Web.AllowedOrigins[i])
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing root", func(c *Config) { c.Gallery.Root = "" }, true},
		{"inverted thresholds", func(c *Config) { c.Match.StrongThreshold = 0.6 }, true},
		{"equal thresholds", func(c *Config) { c.Match.StrongThreshold = 0.5 }, false},
		{"unknown metric", func(c *Config) { c.Match.DistanceMetric = "manhattan" }, true},
		{"cosine metric", func(c *Config) { c.Match.DistanceMetric = "cosine" }, false},
		{"unknown identity key", func(c *Config) { c.Match.IdentityKey = "hash" }, true},
		{"path identity key", func(c *Config) { c.Match.IdentityKey = "path" }, false},
		{"name identity key", func(c *Config) { c.Match.IdentityKey = "name" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Gallery: GalleryConfig{Root: "/photos"},
				Match: MatchConfig{
					StrongThreshold:   0.35,
					DoubtfulThreshold: 0.5,
					DistanceMetric:    "euclidean",
					IdentityKey:       "stem",
				},
			}
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
