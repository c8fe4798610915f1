package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/kozaktomas/face-search/internal/constants"
	"github.com/kozaktomas/face-search/internal/search"
)

// uploadFields are the multipart fields accepted for the query image, in
// order of preference.
var uploadFields = []string{"file", "image"}

// Searcher runs a face search for query image bytes.
type Searcher interface {
	Search(ctx context.Context, queryImage []byte) (*search.Response, error)
}

// ResultsArea is the directory materialized matches are written to.
type ResultsArea interface {
	Clear() error
}

// SearchHandler handles the upload-and-search endpoint.
type SearchHandler struct {
	searcher   Searcher
	results    ResultsArea
	maxUpload  int64
	extensions []string
	logger     *slog.Logger

	// Each search clears the shared results area first, so searches
	// through this handler run one at a time.
	mu sync.Mutex
}

// NewSearchHandler creates a search handler. maxUpload is in bytes, zero
// selects the default; extensions are lower-case with a leading dot.
func NewSearchHandler(searcher Searcher, results ResultsArea, maxUpload int64, extensions []string) *SearchHandler {
	if maxUpload <= 0 {
		maxUpload = constants.MaxUploadSize
	}
	return &SearchHandler{
		searcher:   searcher,
		results:    results,
		maxUpload:  maxUpload,
		extensions: extensions,
		logger:     slog.Default().With("component", "web"),
	}
}

// SearchResponse is the body of a search response.
type SearchResponse struct {
	Success  bool           `json:"success"`
	Error    string         `json:"error,omitempty"`
	Strong   []search.Match `json:"strong"`
	Doubtful []search.Match `json:"doubtful"`
	Stats    *search.Stats  `json:"stats,omitempty"`
}

// Search accepts a multipart upload and returns the strong and doubtful
// matches for the face in it.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxUpload {
		respondError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file too large (max %d MB)", h.maxUpload>>20))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("file too large (max %d MB)", h.maxUpload>>20))
			return
		}
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := h.formFile(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer file.Close()

	if header.Filename == "" {
		respondError(w, http.StatusBadRequest, "no file selected")
		return
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !slices.Contains(h.extensions, ext) {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("unsupported file type %q (allowed: %s)", ext, strings.Join(h.extensions, ", ")))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}
	if len(data) == 0 {
		respondError(w, http.StatusBadRequest, "uploaded file is empty")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.results.Clear(); err != nil {
		h.logger.Error("failed to clear results", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to prepare results area")
		return
	}

	h.logger.Info("search started", "filename", sanitizeForLog(header.Filename), "bytes", len(data))
	resp, err := h.searcher.Search(r.Context(), data)
	if err != nil {
		if errors.Is(err, search.ErrNoFaceDetected) {
			respondJSON(w, http.StatusUnprocessableEntity, SearchResponse{
				Error:    "no face detected in uploaded image",
				Strong:   []search.Match{},
				Doubtful: []search.Match{},
			})
			return
		}
		if errors.Is(err, context.Canceled) {
			h.logger.Info("search cancelled by client")
			return
		}
		h.logger.Error("search failed", "error", err)
		respondError(w, http.StatusInternalServerError, "search failed")
		return
	}

	respondJSON(w, http.StatusOK, SearchResponse{
		Success:  true,
		Strong:   resp.Strong,
		Doubtful: resp.Doubtful,
		Stats:    &resp.Stats,
	})
}

func (h *SearchHandler) formFile(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	for _, field := range uploadFields {
		file, header, err := r.FormFile(field)
		if err == nil {
			return file, header, nil
		}
		if !errors.Is(err, http.ErrMissingFile) {
			return nil, nil, fmt.Errorf("invalid upload: %w", err)
		}
	}
	return nil, nil, errors.New("no file uploaded")
}
