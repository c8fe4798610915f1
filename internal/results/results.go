// Package results copies matched gallery files into the publicly served
// results area under unique names.
package results

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-search/internal/constants"
	"github.com/kozaktomas/face-search/internal/facematch"
)

const maxNameAttempts = 5

// ErrOutsideResults is returned for destinations that would escape the
// results directory.
var ErrOutsideResults = errors.New("destination outside results directory")

// Materializer writes copies into a single results directory. Distinct
// calls never write the same file, so it is safe for concurrent use.
type Materializer struct {
	dir string
}

// New creates the results directory if needed.
func New(dir string) (*Materializer, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("results directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve results directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create results directory: %w", err)
	}
	return &Materializer{dir: filepath.Clean(abs)}, nil
}

// Dir returns the absolute results directory.
func (m *Materializer) Dir() string {
	return m.dir
}

// Materialize copies the source file of match into the results directory
// and returns its client-facing path "results/<name>".
func (m *Materializer) Materialize(ctx context.Context, match facematch.ClassifiedMatch) (string, error) {
	return m.Copy(ctx, match.SourcePath)
}

// Copy copies src into the results directory under "<token>_<name>" and
// returns the client-facing path.
func (m *Materializer) Copy(ctx context.Context, src string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("source %s is not a regular file", src)
	}

	base := SanitizeFileName(filepath.Base(src))
	for range maxNameAttempts {
		name := newToken() + "_" + base
		dest, err := m.resolve(name)
		if err != nil {
			return "", err
		}

		out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create result file: %w", err)
		}

		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			os.Remove(dest)
			return "", fmt.Errorf("copy %s: %w", src, err)
		}
		if err := out.Close(); err != nil {
			os.Remove(dest)
			return "", fmt.Errorf("close result file: %w", err)
		}
		// Keep the source timestamp like a plain cp -p.
		_ = os.Chtimes(dest, info.ModTime(), info.ModTime())

		return path.Join(constants.ResultsURLPrefix, name), nil
	}
	return "", fmt.Errorf("no free result name for %s after %d attempts", src, maxNameAttempts)
}

// Clear removes every regular file in the results directory.
func (m *Materializer) Clear() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("read results directory: %w", err)
	}
	var errs []error
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("clear results directory: %w", err)
	}
	return nil
}

// resolve joins name onto the results directory and refuses anything that
// does not land directly inside it.
func (m *Materializer) resolve(name string) (string, error) {
	dest := filepath.Join(m.dir, name)
	rel, err := filepath.Rel(m.dir, dest)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || strings.ContainsRune(rel, filepath.Separator) {
		return "", fmt.Errorf("%w: %s", ErrOutsideResults, name)
	}
	return dest, nil
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:constants.ResultTokenLength]
}

// SanitizeFileName strips diacritics and replaces every character outside
// [A-Za-z0-9._-] with an underscore. The result is never empty and never
// starts with a dot.
func SanitizeFileName(name string) string {
	name = facematch.RemoveDiacritics(name)

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	out := strings.TrimLeft(b.String(), ".")
	if out == "" || strings.Trim(out, "_") == "" {
		return "image"
	}
	return out
}
