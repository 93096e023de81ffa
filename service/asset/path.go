package asset

import (
	"context"
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/tweag/asset-relay/api"
	"github.com/tweag/asset-relay/internal/logging"
	"github.com/tweag/asset-relay/service/storage"
)

// PathCatalog derives metadata from the storage layout alone.
// Visibility follows the bucket: only assets below public/ are public, everything else is private.
// The media type comes from the file extension, or from sniffing the content if the extension is unknown.
type PathCatalog struct {
	// Sniff enables content-based detection for unknown extensions.
	Sniff bool
}

func (c PathCatalog) Lookup(ctx context.Context, loc storage.Location) (api.Asset, error) {
	asset := api.Asset{
		RelativePath: loc.Rel,
		Visibility:   VisibilityOf(loc),
		MediaType:    MediaTypeByExtension(path.Ext(loc.Rel)),
	}
	if asset.MediaType == api.DefaultMediaType && c.Sniff {
		if detected, err := mimetype.DetectFile(loc.Abs); err == nil {
			asset.MediaType = detected.String()
		} else {
			logging.Debugf("sniffing media type of %s: %v", loc.Rel, err)
		}
	}
	return asset, nil
}

// VisibilityOf is purely lexical, so it can be decided before touching the filesystem.
func VisibilityOf(loc storage.Location) api.Visibility {
	if loc.Bucket() == api.BucketPublic {
		return api.Public
	}
	return api.Private
}

// MediaTypeByExtension prefers the well-known upload types over the system mime database.
func MediaTypeByExtension(ext string) string {
	ext = strings.ToLower(ext)
	if mediaType, ok := knownExtensions[ext]; ok {
		return mediaType
	}
	if mediaType := mime.TypeByExtension(ext); mediaType != "" {
		return mediaType
	}
	return api.DefaultMediaType
}

// Upload types of images, gifs, videos, audio and documents.
var knownExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".heic": "image/heic",
	".avif": "image/avif",
	".gif":  "image/gif",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".aac":  "audio/aac",
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

var _ Catalog = PathCatalog{}
