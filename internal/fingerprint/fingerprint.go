// Package fingerprint computes cheap content-identity fingerprints for gallery files.
package fingerprint

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Fingerprint identifies a file's content by modification time and size.
// It is a proxy for a content hash that does not require reading the file.
type Fingerprint struct {
	ModTime time.Time
	Size    int64
}

// String returns the stored form "<mtime unix nanos>_<size>".
func (f Fingerprint) String() string {
	return strconv.FormatInt(f.ModTime.UnixNano(), 10) + "_" + strconv.FormatInt(f.Size, 10)
}

// Equal reports whether both fingerprints describe the same content.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Size == other.Size && f.ModTime.Equal(other.ModTime)
}

// FromFileInfo builds a fingerprint from already available stat data.
func FromFileInfo(info os.FileInfo) Fingerprint {
	return Fingerprint{ModTime: info.ModTime(), Size: info.Size()}
}

// Compute stats the file at path and returns its fingerprint.
func Compute(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return Fingerprint{}, fmt.Errorf("%s is a directory", path)
	}
	return FromFileInfo(info), nil
}

// Parse parses the form produced by String.
func Parse(s string) (Fingerprint, error) {
	mtime, size, ok := strings.Cut(s, "_")
	if !ok {
		return Fingerprint{}, fmt.Errorf("invalid fingerprint %q", s)
	}
	nanos, err := strconv.ParseInt(mtime, 10, 64)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("invalid fingerprint mtime %q: %w", mtime, err)
	}
	n, err := strconv.ParseInt(size, 10, 64)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("invalid fingerprint size %q: %w", size, err)
	}
	return Fingerprint{ModTime: time.Unix(0, nanos), Size: n}, nil
}
