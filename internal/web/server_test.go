package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kozaktomas/face-search/internal/cache"
	"github.com/kozaktomas/face-search/internal/config"
	"github.com/kozaktomas/face-search/internal/search"
)

type stubSearcher struct{}

func (stubSearcher) Search(context.Context, []byte) (*search.Response, error) {
	return &search.Response{Strong: []search.Match{}, Doubtful: []search.Match{}}, nil
}

type stubResults struct{ dir string }

func (r stubResults) Clear() error { return nil }
func (r stubResults) Dir() string  { return r.dir }

type stubCache struct{}

func (stubCache) Stats(context.Context) (cache.Stats, error) { return cache.Stats{Entries: 1}, nil }

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

func testServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Gallery: config.GalleryConfig{Extensions: []string{".jpg", ".png"}},
		Web:     config.WebConfig{Host: "127.0.0.1", Port: 0, MaxUploadMB: 1},
	}
	s, err := NewServer(cfg, Deps{
		Searcher: stubSearcher{},
		Results:  stubResults{dir: dir},
		Cache:    stubCache{},
		Embedder: stubPinger{},
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s, dir
}

func TestNewServer_RequiresDeps(t *testing.T) {
	if _, err := NewServer(&config.Config{}, Deps{}); err == nil {
		t.Error("expected error for missing dependencies")
	}
}

func TestRoutes(t *testing.T) {
	s, dir := testServer(t)
	if err := os.WriteFile(filepath.Join(dir, "ab12cd34_alice.jpg"), []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"health", http.MethodGet, "/api/v1/health", http.StatusOK, `"ok"`},
		{"ready", http.MethodGet, "/api/v1/ready", http.StatusOK, `"embedding":"ok"`},
		{"cache stats", http.MethodGet, "/api/v1/cache/stats", http.StatusOK, `"entries":1`},
		{"result file", http.MethodGet, "/results/ab12cd34_alice.jpg", http.StatusOK, "jpeg"},
		{"missing result", http.MethodGet, "/results/missing.jpg", http.StatusNotFound, ""},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK, "go_goroutines"},
		{"index", http.MethodGet, "/", http.StatusOK, "Face Search"},
		{"search requires post", http.MethodGet, "/api/v1/search", http.StatusMethodNotAllowed, ""},
		{"unknown", http.MethodGet, "/nope", http.StatusNotFound, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Router().ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rec.Code)
			}
			if tc.wantBody != "" && !strings.Contains(rec.Body.String(), tc.wantBody) {
				t.Errorf("expected body to contain %q, got %q", tc.wantBody, rec.Body.String())
			}
		})
	}
}

func TestRoutes_SecurityHeaders(t *testing.T) {
	s, _ := testServer(t)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected X-Content-Type-Options header")
	}
}
