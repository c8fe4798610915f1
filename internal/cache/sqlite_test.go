package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "nested", "cache.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_PutGet(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	got, err := s.Get(ctx, "/g/missing.jpg")
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil entry for missing path, got %+v", got)
	}

	cachedAt := time.Unix(1700000000, 500000000)
	want := &Entry{
		Path:        "/g/alice.jpg",
		Fingerprint: "123_456",
		Embeddings:  [][]float32{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}},
		Label:       "alice",
		CachedAt:    cachedAt,
	}
	if err := s.Put(ctx, want); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err = s.Get(ctx, want.Path)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("expected entry")
	}
	if got.Fingerprint != want.Fingerprint || got.Label != want.Label {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if len(got.Embeddings) != 2 || got.Embeddings[1][2] != 0.6 {
		t.Errorf("embeddings = %v", got.Embeddings)
	}
	if d := got.CachedAt.Sub(cachedAt); d > time.Millisecond || d < -time.Millisecond {
		t.Errorf("cached at = %v, want %v", got.CachedAt, cachedAt)
	}
}

func TestSQLiteStore_UpsertReplaces(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	first := &Entry{Path: "/g/a.jpg", Fingerprint: "1_1", Embeddings: [][]float32{{1}}, Label: "a"}
	second := &Entry{Path: "/g/a.jpg", Fingerprint: "2_2", Embeddings: [][]float32{{2}, {3}}, Label: "a"}
	if err := s.Put(ctx, first); err != nil {
		t.Fatalf("Put first: %v", err)
	}
	if err := s.Put(ctx, second); err != nil {
		t.Fatalf("Put second: %v", err)
	}

	entries, faces, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if entries != 1 || faces != 2 {
		t.Errorf("count = (%d, %d), want (1, 2)", entries, faces)
	}

	got, _ := s.Get(ctx, "/g/a.jpg")
	if got.Fingerprint != "2_2" || len(got.Embeddings) != 2 {
		t.Errorf("entry not replaced: %+v", got)
	}
}

func TestSQLiteStore_EmptyEmbeddings(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	if err := s.Put(ctx, &Entry{Path: "/g/landscape.jpg", Fingerprint: "1_1", Label: "landscape"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, "/g/landscape.jpg")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || len(got.Embeddings) != 0 {
		t.Errorf("expected entry with no embeddings, got %+v", got)
	}
}

func TestSQLiteStore_CorruptBlob(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO face_cache (image_path, face_encodings, face_count, file_hash, last_modified, original_name)
		VALUES (?, ?, 1, '1_1', 0, 'x')`, "/g/x.jpg", []byte("not gob"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := s.Get(ctx, "/g/x.jpg"); err == nil {
		t.Error("expected decode error for corrupt blob")
	}
}

func TestSQLiteStore_DeletePathsClear(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	for _, p := range []string{"/g/c.jpg", "/g/a.jpg", "/g/b.jpg"} {
		if err := s.Put(ctx, &Entry{Path: p, Fingerprint: "1_1", Label: "x"}); err != nil {
			t.Fatalf("Put %s: %v", p, err)
		}
	}

	paths, err := s.Paths(ctx)
	if err != nil {
		t.Fatalf("Paths: %v", err)
	}
	if fmt.Sprint(paths) != "[/g/a.jpg /g/b.jpg /g/c.jpg]" {
		t.Errorf("paths = %v", paths)
	}

	if err := s.Delete(ctx, []string{"/g/a.jpg", "/g/unknown.jpg"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n, _, _ := s.Count(ctx); n != 2 {
		t.Errorf("count after delete = %d, want 2", n)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n, _, _ := s.Count(ctx); n != 0 {
		t.Errorf("count after clear = %d, want 0", n)
	}
}

func TestSQLiteStore_ConcurrentPuts(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := range 64 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Half the writers race on the same path.
			p := fmt.Sprintf("/g/%d.jpg", i%32)
			errs <- s.Put(ctx, &Entry{Path: p, Fingerprint: "1_1", Embeddings: [][]float32{{float32(i)}}, Label: "x"})
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Put: %v", err)
		}
	}
	if n, faces, _ := s.Count(ctx); n != 32 || faces != 32 {
		t.Errorf("count = (%d, %d), want (32, 32)", n, faces)
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	s, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := s.Put(ctx, &Entry{Path: "/g/a.jpg", Fingerprint: "1_1", Embeddings: [][]float32{{1}}, Label: "a"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	s.Close()

	s, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, err := s.Get(ctx, "/g/a.jpg")
	if err != nil || got == nil {
		t.Fatalf("entry lost across reopen: %v %v", got, err)
	}
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	if _, err := OpenSQLite(context.Background(), ""); err == nil {
		t.Error("expected error for empty path")
	}
}
