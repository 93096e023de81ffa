package asset

import (
	"context"

	"github.com/tweag/asset-relay/api"
	"github.com/tweag/asset-relay/service/storage"
)

// Catalog is the source of asset metadata (visibility and declared media type).
// Persisting metadata is the job of the upload flow; the delivery path only reads it.
type Catalog interface {
	Lookup(ctx context.Context, loc storage.Location) (api.Asset, error)
}
