package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-search/internal/cache/migrations"
	_ "modernc.org/sqlite"
)

const sqliteBusyTimeoutMs = 5000

// SQLiteStore is the default single-file backend.
type SQLiteStore struct {
	db *sql.DB
	// modernc/sqlite allows one writer at a time; serialize in-process
	// writers instead of spinning on SQLITE_BUSY.
	writeMu sync.Mutex
}

// OpenSQLite opens (creating if needed) the cache database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("cache path is required")
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, sqliteBusyTimeoutMs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	files, err := fs.Glob(migrations.SQLite, "sqlite/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)
	for _, file := range files {
		data, err := migrations.SQLite.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
	}
	return nil
}

// Get implements Backend.
func (s *SQLiteStore) Get(ctx context.Context, path string) (*Entry, error) {
	var (
		blob     []byte
		hash     string
		modified float64
		label    string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT face_encodings, file_hash, last_modified, original_name
		FROM face_cache WHERE image_path = ?`, path,
	).Scan(&blob, &hash, &modified, &label)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query entry: %w", err)
	}

	embeddings, err := decodeEmbeddings(blob)
	if err != nil {
		return nil, err
	}
	return &Entry{
		Path:        path,
		Fingerprint: hash,
		Embeddings:  embeddings,
		Label:       label,
		CachedAt:    fromUnixSeconds(modified),
	}, nil
}

// Put implements Backend.
func (s *SQLiteStore) Put(ctx context.Context, e *Entry) error {
	blob, err := encodeEmbeddings(e.Embeddings)
	if err != nil {
		return err
	}
	cachedAt := e.CachedAt
	if cachedAt.IsZero() {
		cachedAt = time.Now()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO face_cache (image_path, face_encodings, face_count, file_hash, last_modified, original_name)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(image_path) DO UPDATE SET
			face_encodings = excluded.face_encodings,
			face_count = excluded.face_count,
			file_hash = excluded.file_hash,
			last_modified = excluded.last_modified,
			original_name = excluded.original_name`,
		e.Path, blob, len(e.Embeddings), e.Fingerprint, toUnixSeconds(cachedAt), e.Label,
	)
	if err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}
	return nil
}

// Delete implements Backend.
func (s *SQLiteStore) Delete(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM face_cache WHERE image_path = ?")
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, p := range paths {
		if _, err := stmt.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("delete %s: %w", p, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// Paths implements Backend.
func (s *SQLiteStore) Paths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT image_path FROM face_cache ORDER BY image_path")
	if err != nil {
		return nil, fmt.Errorf("query paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan path: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate paths: %w", err)
	}
	return paths, nil
}

// Count implements Backend.
func (s *SQLiteStore) Count(ctx context.Context) (int, int, error) {
	var entries, faces int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(face_count), 0) FROM face_cache",
	).Scan(&entries, &faces)
	if err != nil {
		return 0, 0, fmt.Errorf("count entries: %w", err)
	}
	return entries, faces, nil
}

// Clear implements Backend.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM face_cache"); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	return nil
}

// Close implements Backend.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing cache database: %w", err)
	}
	return nil
}

func toUnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*float64(time.Second)))
}
