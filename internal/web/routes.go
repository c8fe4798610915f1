package web

import (
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kozaktomas/face-search/internal/web/handlers"
	"github.com/kozaktomas/face-search/internal/web/static"
)

func (s *Server) setupRoutes() {
	searchHandler := handlers.NewSearchHandler(
		s.deps.Searcher,
		s.deps.Results,
		int64(s.config.Web.MaxUploadMB)<<20,
		s.config.Gallery.Extensions,
	)
	resultsHandler := handlers.NewResultsHandler(s.deps.Results.Dir())
	cacheHandler := handlers.NewCacheHandler(s.deps.Cache)

	s.router.Get("/api/v1/health", handlers.HealthCheck)
	s.router.Get("/api/v1/ready", handlers.Readiness(s.deps.Embedder))
	s.router.Post("/api/v1/search", searchHandler.Search)
	s.router.Get("/api/v1/cache/stats", cacheHandler.Stats)

	s.router.Get("/results/{name}", resultsHandler.Get)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/", s.serveIndex)
}

// serveIndex serves the embedded upload page.
func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	f, err := static.Open("index.html")
	if err != nil {
		http.Error(w, "page not available", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f)
}
