// Package gallery enumerates the image files of a gallery directory tree.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultExtensions is the allow-list used when none is configured.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png"}

var (
	// ErrEmptyRoot is returned when no gallery root was given.
	ErrEmptyRoot = errors.New("gallery root is empty")

	// ErrRootNotExist is returned when the gallery root does not exist.
	ErrRootNotExist = errors.New("gallery root does not exist")

	// ErrRootNotDirectory is returned when the gallery root is a file.
	ErrRootNotDirectory = errors.New("gallery root is not a directory")
)

// Image is a single gallery file discovered by the indexer.
type Image struct {
	Path    string `json:"path"`     // absolute, cleaned
	RelPath string `json:"rel_path"` // relative to the root, slash separated
	Label   string `json:"label"`    // base name without extension
}

// Indexer walks a gallery root and returns the images it contains.
type Indexer struct {
	extensions []string
	matcher    glob.Glob
	logger     *slog.Logger
}

// NewIndexer compiles the extension allow-list. Extensions are matched
// case-insensitively, with or without the leading dot.
func NewIndexer(extensions []string) (*Indexer, error) {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}

	normalized := make([]string, 0, len(extensions))
	seen := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		normalized = append(normalized, ext)
	}
	if len(normalized) == 0 {
		return nil, errors.New("no usable extensions")
	}

	quoted := make([]string, len(normalized))
	for i, ext := range normalized {
		quoted[i] = glob.QuoteMeta(ext)
	}
	pattern := "*{" + strings.Join(quoted, ",") + "}"
	matcher, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile extension pattern %q: %w", pattern, err)
	}

	return &Indexer{
		extensions: normalized,
		matcher:    matcher,
		logger:     slog.Default().With("component", "gallery"),
	}, nil
}

// Extensions returns the normalized allow-list.
func (ix *Indexer) Extensions() []string {
	return append([]string(nil), ix.extensions...)
}

// Matches reports whether the base name of path has an allowed extension.
func (ix *Indexer) Matches(path string) bool {
	return ix.matcher.Match(strings.ToLower(filepath.Base(path)))
}

// Index walks root recursively in lexical order and returns every image
// with an allowed extension. Each physical file is returned once, even if
// it is reachable through several symlinks.
func (ix *Indexer) Index(ctx context.Context, root string) ([]Image, error) {
	root, err := ResolveRoot(root)
	if err != nil {
		return nil, err
	}

	var images []Image
	seen := make(map[string]struct{})

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			ix.logger.Warn("skipping unreadable entry", "path", path, "error", walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !ix.Matches(d.Name()) {
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			info, err := os.Stat(path)
			if err != nil {
				ix.logger.Warn("skipping broken symlink", "path", path, "error", err)
				return nil
			}
			if !info.Mode().IsRegular() {
				return nil
			}
		} else if !d.Type().IsRegular() {
			return nil
		}

		path = filepath.Clean(path)
		key := path
		if resolved, err := filepath.EvalSymlinks(path); err == nil {
			key = resolved
		}
		if _, dup := seen[key]; dup {
			return nil
		}
		seen[key] = struct{}{}

		images = append(images, NewImage(root, path))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	ix.logger.Debug("gallery indexed", "root", root, "images", len(images))
	return images, nil
}

// ResolveRoot validates a gallery root and returns its absolute, cleaned form.
func ResolveRoot(root string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", ErrEmptyRoot
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrRootNotExist, abs)
		}
		return "", fmt.Errorf("stat %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrRootNotDirectory, abs)
	}
	// WalkDir does not descend into a symlinked root.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return filepath.Clean(abs), nil
}

// NewImage describes the image at path, which lies under root.
func NewImage(root, path string) Image {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(path)
	}
	return Image{
		Path:    path,
		RelPath: filepath.ToSlash(rel),
		Label:   Label(path),
	}
}

// Label returns the base file name without its extension.
func Label(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
