package facematch

import (
	"fmt"
	"path"
	"strings"

	"github.com/kozaktomas/face-search/internal/match"
)

// IdentityKeyFunc derives the identity two results must share to be
// considered the same person.
type IdentityKeyFunc func(r match.Result) string

// ByStem identifies results by base file name without extension, so
// "a/alice.jpg" and "b/alice.png" are the same identity.
func ByStem(r match.Result) string {
	return r.Label
}

// ByName is ByStem with case, diacritics and dashes normalized, so
// "Jan-Novák.jpg" and "jan novak.png" are the same identity.
func ByName(r match.Result) string {
	return NormalizePersonName(r.Label)
}

// ByPath identifies results by gallery-relative path without extension.
func ByPath(r match.Result) string {
	return strings.TrimSuffix(r.RelPath, path.Ext(r.RelPath))
}

// IdentityKey returns the key function registered under name.
func IdentityKey(name string) (IdentityKeyFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "stem":
		return ByStem, nil
	case "name":
		return ByName, nil
	case "path":
		return ByPath, nil
	default:
		return nil, fmt.Errorf("unknown identity key %q", name)
	}
}
