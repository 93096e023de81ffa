package storage

import (
	"os"
	"path/filepath"

	"github.com/tweag/asset-relay/api"
)

// InitializeLayout creates the storage root and its buckets if they are missing.
// <root>/public/
// <root>/private/
// <root>/cache/
func InitializeLayout(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	for _, bucket := range []string{api.BucketPublic, api.BucketPrivate, api.BucketCache} {
		if err := os.Mkdir(filepath.Join(root, bucket), 0o755); err != nil && !os.IsExist(err) {
			return err
		}
	}
	return nil
}
