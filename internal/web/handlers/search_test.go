package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/face-search/internal/search"
)

var testExtensions = []string{".jpg", ".jpeg", ".png"}

func decodeSearchResponse(t *testing.T, rec *httptest.ResponseRecorder) SearchResponse {
	t.Helper()
	var resp SearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestSearch_Success(t *testing.T) {
	searcher := &fakeSearcher{resp: &search.Response{
		Strong: []search.Match{
			{Path: "results/ab12cd34_alice.jpg", OriginalName: "alice", Distance: 0.2, Source: "alice.jpg"},
		},
		Doubtful: []search.Match{
			{Path: "results/ef56ab78_bob.jpg", OriginalName: "bob", Distance: 0.45, Source: "bob.jpg"},
		},
	}}
	results := &fakeResults{}
	h := NewSearchHandler(searcher, results, 1<<20, testExtensions)

	rec := httptest.NewRecorder()
	h.Search(rec, multipartRequest(t, "file", "query.JPG", []byte("query-bytes")))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	resp := decodeSearchResponse(t, rec)
	if !resp.Success {
		t.Error("expected success true")
	}
	if len(resp.Strong) != 1 || resp.Strong[0].OriginalName != "alice" {
		t.Errorf("unexpected strong list: %+v", resp.Strong)
	}
	if len(resp.Doubtful) != 1 || resp.Doubtful[0].Distance != 0.45 {
		t.Errorf("unexpected doubtful list: %+v", resp.Doubtful)
	}
	if results.cleared != 1 {
		t.Errorf("expected results cleared once, got %d", results.cleared)
	}
	if string(searcher.query) != "query-bytes" {
		t.Errorf("searcher got %q", searcher.query)
	}
}

func TestSearch_ImageFieldFallback(t *testing.T) {
	searcher := &fakeSearcher{resp: &search.Response{Strong: []search.Match{}, Doubtful: []search.Match{}}}
	h := NewSearchHandler(searcher, &fakeResults{}, 1<<20, testExtensions)

	rec := httptest.NewRecorder()
	h.Search(rec, multipartRequest(t, "image", "query.png", []byte("png")))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	if searcher.calls.Load() != 1 {
		t.Errorf("expected one search, got %d", searcher.calls.Load())
	}
}

func TestSearch_NoFaceDetected(t *testing.T) {
	searcher := &fakeSearcher{err: fmt.Errorf("query: %w", search.ErrNoFaceDetected)}
	h := NewSearchHandler(searcher, &fakeResults{}, 1<<20, testExtensions)

	rec := httptest.NewRecorder()
	h.Search(rec, multipartRequest(t, "file", "query.jpg", []byte("x")))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status %d, got %d", http.StatusUnprocessableEntity, rec.Code)
	}
	resp := decodeSearchResponse(t, rec)
	if resp.Success {
		t.Error("expected success false")
	}
	if resp.Strong == nil || resp.Doubtful == nil {
		t.Error("expected empty lists, got null")
	}
	if !strings.Contains(resp.Error, "no face") {
		t.Errorf("unexpected error message %q", resp.Error)
	}
}

func TestSearch_ValidationErrors(t *testing.T) {
	tests := []struct {
		name       string
		req        func(t *testing.T) *http.Request
		wantStatus int
		wantError  string
	}{
		{
			name:       "missing file",
			req:        func(t *testing.T) *http.Request { return multipartRequest(t, "", "", nil) },
			wantStatus: http.StatusBadRequest,
			wantError:  "no file uploaded",
		},
		{
			name:       "empty filename",
			req:        func(t *testing.T) *http.Request { return multipartRequest(t, "file", "", []byte("x")) },
			wantStatus: http.StatusBadRequest,
			wantError:  "no file",
		},
		{
			name:       "disallowed extension",
			req:        func(t *testing.T) *http.Request { return multipartRequest(t, "file", "notes.txt", []byte("x")) },
			wantStatus: http.StatusBadRequest,
			wantError:  "unsupported file type",
		},
		{
			name:       "empty upload",
			req:        func(t *testing.T) *http.Request { return multipartRequest(t, "file", "q.jpg", nil) },
			wantStatus: http.StatusBadRequest,
			wantError:  "empty",
		},
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader("{}"))
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "multipart",
		},
		{
			name: "too large",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "file", "big.jpg", make([]byte, 4096))
			},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantError:  "too large",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			searcher := &fakeSearcher{resp: &search.Response{}}
			results := &fakeResults{}
			h := NewSearchHandler(searcher, results, 1024, testExtensions)

			rec := httptest.NewRecorder()
			h.Search(rec, tc.req(t))

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tc.wantStatus, rec.Code, rec.Body.String())
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if body["success"] != false {
				t.Errorf("expected success false, got %v", body["success"])
			}
			if msg, _ := body["error"].(string); !strings.Contains(msg, tc.wantError) {
				t.Errorf("expected error containing %q, got %q", tc.wantError, msg)
			}
			if searcher.calls.Load() != 0 {
				t.Error("search must not run for an invalid upload")
			}
			if results.cleared != 0 {
				t.Error("results must not be cleared for an invalid upload")
			}
		})
	}
}

func TestSearch_InternalErrors(t *testing.T) {
	tests := []struct {
		name     string
		searcher *fakeSearcher
		results  *fakeResults
		searched int32
	}{
		{"search fails", &fakeSearcher{err: errors.New("boom")}, &fakeResults{}, 1},
		{"clear fails", &fakeSearcher{resp: &search.Response{}}, &fakeResults{err: errors.New("read-only")}, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewSearchHandler(tc.searcher, tc.results, 1<<20, testExtensions)

			rec := httptest.NewRecorder()
			h.Search(rec, multipartRequest(t, "file", "q.jpg", []byte("x")))

			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, rec.Code)
			}
			if strings.Contains(rec.Body.String(), "boom") {
				t.Error("internal error details must not leak to the client")
			}
			if got := tc.searcher.calls.Load(); got != tc.searched {
				t.Errorf("expected %d searches, got %d", tc.searched, got)
			}
		})
	}
}
