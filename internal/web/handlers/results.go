package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// ResultsHandler serves materialized result files by name.
type ResultsHandler struct {
	dir string
}

// NewResultsHandler serves files from dir.
func NewResultsHandler(dir string) *ResultsHandler {
	return &ResultsHandler{dir: dir}
}

// Get serves /results/{name}. Only plain file names inside the results
// directory are served; there are no directory listings.
func (h *ResultsHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		respondError(w, http.StatusNotFound, "result not found")
		return
	}

	path := filepath.Join(h.dir, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		respondError(w, http.StatusNotFound, "result not found")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, path)
}
