package api

// Visibility decides whether fetching an asset requires a capability token.
type Visibility int

const (
	// Private assets are only served with a valid capability token.
	Private Visibility = iota
	// Public assets are served to anyone.
	Public
)

func (v Visibility) String() string {
	switch v {
	case Public:
		return "public"
	case Private:
		return "private"
	}
	return "unknown"
}

// Top-level partitions of the storage root.
// Assets live in the visibility buckets, derived files in the cache bucket.
const (
	BucketPublic  = "public"
	BucketPrivate = "private"
	BucketCache   = "cache"
)

// An asset is an immutable stored blob, addressed by its path relative to the storage root.
// This type does not include the actual data, but only metadata about it.
type Asset struct {
	// RelativePath is the canonical, slash-separated path below the storage root.
	RelativePath string
	Visibility   Visibility
	// MediaType is the declared media type used as Content-Type when serving the asset.
	MediaType string
}

// DefaultMediaType is served when nothing more specific is known about an asset.
const DefaultMediaType = "application/octet-stream"
