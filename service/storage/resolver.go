package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/tweag/asset-relay/service/status"
)

// Location is a path that passed canonicalization.
// Rel is slash-separated and relative to the storage root, Abs is the corresponding filesystem path.
// Only the Resolver creates Locations; downstream code never re-derives paths from raw input.
type Location struct {
	Rel string
	Abs string
}

// Bucket returns the first segment of the relative path.
func (l Location) Bucket() string {
	bucket, _, _ := strings.Cut(l.Rel, "/")
	return bucket
}

// Resolver maps caller-supplied relative paths to locations inside a fixed storage root.
type Resolver struct {
	root string
	// realRoot is root with all symlinks evaluated.
	realRoot string
}

// NewResolver creates a Resolver for the given root directory.
// The directory must exist.
func NewResolver(root string) (*Resolver, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return nil, fmt.Errorf("evaluating storage root %s: %w", absRoot, err)
	}
	return &Resolver{root: absRoot, realRoot: realRoot}, nil
}

func (r *Resolver) Root() string {
	return r.root
}

// Resolve canonicalizes relativePath and checks that it stays inside the storage root.
// Separators are normalized and redundant segments collapsed before the containment check.
// Traversal is rejected, never rewritten.
func (r *Resolver) Resolve(relativePath string) (Location, error) {
	if relativePath == "" {
		return Location{}, status.InvalidPath("path must not be empty")
	}
	if strings.ContainsRune(relativePath, 0) {
		return Location{}, status.InvalidPath("path contains a NUL byte")
	}
	slashed := strings.ReplaceAll(relativePath, `\`, "/")
	slashed = strings.TrimLeft(slashed, "/")
	cleaned := path.Clean(slashed)
	if cleaned == "." || cleaned == "" {
		return Location{}, status.InvalidPath("path must name a file below the storage root")
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return Location{}, status.InvalidPath("path escapes the storage root")
	}

	abs := filepath.Join(r.root, filepath.FromSlash(cleaned))
	if !contained(r.root, abs) {
		return Location{}, status.InvalidPath("path escapes the storage root")
	}
	return Location{Rel: cleaned, Abs: abs}, nil
}

// Stat checks that a resolved location exists as a regular file
// and that no symlink along the way leads out of the storage root.
func (r *Resolver) Stat(loc Location) (fs.FileInfo, error) {
	real, err := filepath.EvalSymlinks(loc.Abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, status.NotFound("not found")
	} else if err != nil {
		return nil, status.Internal(err)
	}
	if !contained(r.realRoot, real) {
		return nil, status.InvalidPath("path escapes the storage root")
	}
	info, err := os.Stat(real)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, status.NotFound("not found")
	} else if err != nil {
		return nil, status.Internal(err)
	}
	if !info.Mode().IsRegular() {
		return nil, status.NotFound("not found")
	}
	return info, nil
}

// contained reports whether target is strictly below root.
// Both paths must be absolute and clean.
func contained(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return strings.HasPrefix(target, strings.TrimSuffix(root, string(filepath.Separator))+string(filepath.Separator))
}
