package transform

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// entryPath returns the final location of a derived file.
// The cache is a flat directory: <dir>/<hex>.<format>
func (c *Cache) entryPath(hex, format string) string {
	return filepath.Join(c.dir, hex+"."+format)
}

// stagingFile creates a temporary file next to the cache directory.
// Staging lives on the same filesystem as the final location, so publishing is a single rename.
func (c *Cache) stagingFile(hex, format string) (*entryFinalizer, error) {
	tmpfile, err := os.CreateTemp(c.stagingDir, hex+"-")
	if err != nil {
		return nil, err
	}
	return &entryFinalizer{
		File:        tmpfile,
		stagingPath: tmpfile.Name(),
		finalPath:   c.entryPath(hex, format),
	}, nil
}

func (c *Cache) initializeCacheDir() error {
	// initialize the cache directory
	// <dir>/<hex>.<format>
	// <dir>/staging/
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	if err := os.Mkdir(c.stagingDir, 0o755); err != nil && !os.IsExist(err) {
		return err
	}
	// try to clean up the staging directory from any leftover files
	// (this assumes that the directory is only used by this process)
	files, err := os.ReadDir(c.stagingDir)
	if err != nil {
		return err
	}
	for _, file := range files {
		if err := os.Remove(filepath.Join(c.stagingDir, file.Name())); err != nil {
			return err
		}
	}
	return nil
}

// entryFinalizer is a staging file that becomes visible under finalPath only on Publish.
// Until then, readers of the cache cannot observe it.
type entryFinalizer struct {
	*os.File
	stagingPath string
	finalPath   string
}

// Publish flushes the staging file and renames it into place.
// The staging file is removed on failure.
func (f *entryFinalizer) Publish() (sizeBytes int64, err error) {
	defer func() {
		if err != nil {
			os.Remove(f.stagingPath)
		}
	}()
	if err := f.File.Sync(); err != nil {
		f.File.Close()
		return 0, fmt.Errorf("failed to flush staging file %s: %w", f.stagingPath, err)
	}
	info, err := f.File.Stat()
	if err != nil {
		f.File.Close()
		return 0, err
	}
	if err := f.File.Close(); err != nil {
		return 0, fmt.Errorf("failed to close staging file %s: %w", f.stagingPath, err)
	}
	if info.Size() == 0 {
		return 0, fmt.Errorf("refusing to publish empty file %s", f.finalPath)
	}
	if err := os.Rename(f.stagingPath, f.finalPath); err != nil {
		return 0, fmt.Errorf("failed to rename staging file %s to final entry %s: %w", f.stagingPath, f.finalPath, err)
	}
	return info.Size(), nil
}

// Discard drops the staging file without publishing anything.
func (f *entryFinalizer) Discard() {
	f.File.Close()
	os.Remove(f.stagingPath)
}

// parseEntryName splits "<hex>.<format>" as written by entryPath.
func parseEntryName(name string) (hex, format string, ok bool) {
	hex, format, ok = strings.Cut(name, ".")
	if !ok || hex == "" || format == "" || strings.Contains(format, ".") {
		return "", "", false
	}
	return hex, format, true
}
