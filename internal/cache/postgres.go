package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"time"

	"github.com/kozaktomas/face-search/internal/cache/migrations"
	"github.com/kozaktomas/face-search/internal/config"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore keeps entries in PostgreSQL with one pgvector row per face.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to the database, verifies the connection and
// applies pending migrations.
func OpenPostgres(ctx context.Context, cfg *config.DatabaseConfig) (*PostgresStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

// Migrate applies all pending migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	files, err := fs.Glob(migrations.Postgres, "postgres/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		version := path.Base(file)
		if applied[version] {
			continue
		}
		content, err := migrations.Postgres.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", version, err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction for %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", version, err)
		}

		slog.Info("applied migration", "version", version)
	}
	return nil
}

// Get implements Backend.
func (s *PostgresStore) Get(ctx context.Context, imagePath string) (*Entry, error) {
	e := &Entry{Path: imagePath}
	err := s.db.QueryRowContext(ctx, `
		SELECT file_hash, original_name, last_modified
		FROM face_cache WHERE image_path = $1`, imagePath,
	).Scan(&e.Fingerprint, &e.Label, &e.CachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query entry: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT embedding FROM face_cache_faces
		WHERE image_path = $1 ORDER BY face_index`, imagePath)
	if err != nil {
		return nil, fmt.Errorf("query faces: %w", err)
	}
	defer rows.Close()

	e.Embeddings = [][]float32{}
	for rows.Next() {
		var vec pgvector.Vector
		if err := rows.Scan(&vec); err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		e.Embeddings = append(e.Embeddings, vec.Slice())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faces: %w", err)
	}
	return e, nil
}

// Put implements Backend. The entry row and its faces are replaced in one
// transaction; the row lock taken by the upsert orders concurrent writers
// of the same path.
func (s *PostgresStore) Put(ctx context.Context, e *Entry) error {
	cachedAt := e.CachedAt
	if cachedAt.IsZero() {
		cachedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO face_cache (image_path, file_hash, face_count, original_name, last_modified)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (image_path) DO UPDATE SET
			file_hash = EXCLUDED.file_hash,
			face_count = EXCLUDED.face_count,
			original_name = EXCLUDED.original_name,
			last_modified = EXCLUDED.last_modified`,
		e.Path, e.Fingerprint, len(e.Embeddings), e.Label, cachedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM face_cache_faces WHERE image_path = $1", e.Path); err != nil {
		return fmt.Errorf("delete old faces: %w", err)
	}
	for i, emb := range e.Embeddings {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO face_cache_faces (image_path, face_index, embedding)
			VALUES ($1, $2, $3)`,
			e.Path, i, pgvector.NewVector(emb),
		)
		if err != nil {
			return fmt.Errorf("insert face %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit entry: %w", err)
	}
	return nil
}

// Delete implements Backend.
func (s *PostgresStore) Delete(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range paths {
		if _, err := tx.ExecContext(ctx, "DELETE FROM face_cache WHERE image_path = $1", p); err != nil {
			return fmt.Errorf("delete %s: %w", p, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// Paths implements Backend.
func (s *PostgresStore) Paths(ctx context.Context) ([]string, error) {
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
func (s *PostgresStore) Count(ctx context.Context) (int, int, error) {
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
func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "TRUNCATE face_cache, face_cache_faces"); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	return nil
}

// Close implements Backend.
func (s *PostgresStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database connection: %w", err)
	}
	return nil
}
