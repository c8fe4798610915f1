package handlers

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-search/internal/search"
)

// fakeSearcher returns a canned response and records the query it saw.
type fakeSearcher struct {
	resp  *search.Response
	err   error
	calls atomic.Int32
	query []byte
}

func (f *fakeSearcher) Search(_ context.Context, query []byte) (*search.Response, error) {
	f.calls.Add(1)
	f.query = query
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

// fakeResults counts how often the results area was cleared.
type fakeResults struct {
	err     error
	cleared int
}

func (f *fakeResults) Clear() error {
	f.cleared++
	return f.err
}

// multipartRequest builds a POST with a single file field.
func multipartRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if field != "" {
		part, err := writer.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	} else if err := writer.WriteField("note", "no file"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
