package transform

import (
	"context"
	"io"
)

// Transformer is the image codec.
// Transform reads the complete source from src and writes the derived image to dst.
// It must return an error for input it cannot decode and must stop early when ctx is cancelled.
type Transformer interface {
	Transform(ctx context.Context, src io.Reader, opts Options, dst io.Writer) error
	SupportsFormat(format string) bool
}

// Entry is a published derived file.
type Entry struct {
	// Key is the hex digest of the normalized request.
	Key       string
	Path      string
	MediaType string
	SizeBytes int64
}
