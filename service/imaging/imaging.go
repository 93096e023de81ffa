package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/webp"
	_ "golang.org/x/image/webp" // webp decoder for image.Decode

	"github.com/tweag/asset-relay/service/transform"
)

const (
	DefaultQuality = 80
	// DefaultMaxSourcePixels rejects sources that would take too much memory once decoded.
	DefaultMaxSourcePixels = 64 << 20
	// DefaultMaxSourceBytes bounds how much of a source file is read.
	DefaultMaxSourceBytes = 256 << 20
)

var ErrSourceTooLarge = errors.New("source image is too large")

// Backend resizes and re-encodes images in process.
type Backend struct {
	// Quality applies to lossy encoders (jpeg, webp).
	Quality         int
	Filter          imaging.ResampleFilter
	MaxSourcePixels int
	MaxSourceBytes  int64
}

func New() *Backend {
	return &Backend{
		Quality:         DefaultQuality,
		Filter:          imaging.Lanczos,
		MaxSourcePixels: DefaultMaxSourcePixels,
		MaxSourceBytes:  DefaultMaxSourceBytes,
	}
}

func (b *Backend) SupportsFormat(format string) bool {
	switch format {
	case "webp", "jpeg", "png", "gif", "tiff", "bmp":
		return true
	}
	return false
}

func (b *Backend) Transform(ctx context.Context, src io.Reader, opts transform.Options, dst io.Writer) error {
	data, err := io.ReadAll(io.LimitReader(src, b.MaxSourceBytes+1))
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}
	if int64(len(data)) > b.MaxSourceBytes {
		return ErrSourceTooLarge
	}
	config, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decoding source header: %w", err)
	}
	if config.Width*config.Height > b.MaxSourcePixels {
		return fmt.Errorf("%w: %dx%d", ErrSourceTooLarge, config.Width, config.Height)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decoding source: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	img = b.resize(img, opts)
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.encode(dst, img, opts.Format)
}

func (b *Backend) resize(img image.Image, opts transform.Options) image.Image {
	w, h := opts.Width, opts.Height
	if w == 0 && h == 0 {
		return img
	}
	if w == 0 || h == 0 {
		// a single dimension always keeps the aspect ratio
		return imaging.Resize(img, w, h, b.Filter)
	}

	bounds := img.Bounds()
	scaleX := float64(w) / float64(bounds.Dx())
	scaleY := float64(h) / float64(bounds.Dy())
	switch opts.Fit {
	case transform.FitFill:
		return imaging.Resize(img, w, h, b.Filter)
	case transform.FitInside:
		return b.scale(img, math.Min(scaleX, scaleY))
	case transform.FitOutside:
		return b.scale(img, math.Max(scaleX, scaleY))
	case transform.FitContain:
		canvas := imaging.New(w, h, color.NRGBA{})
		return imaging.PasteCenter(canvas, b.scale(img, math.Min(scaleX, scaleY)))
	default:
		return imaging.Fill(img, w, h, imaging.Center, b.Filter)
	}
}

func (b *Backend) scale(img image.Image, factor float64) image.Image {
	bounds := img.Bounds()
	w := max(1, int(math.Round(float64(bounds.Dx())*factor)))
	h := max(1, int(math.Round(float64(bounds.Dy())*factor)))
	return imaging.Resize(img, w, h, b.Filter)
}

func (b *Backend) encode(dst io.Writer, img image.Image, format string) error {
	switch format {
	case "webp":
		return webp.Encode(dst, img, webp.Options{Quality: b.Quality})
	case "jpeg":
		return imaging.Encode(dst, img, imaging.JPEG, imaging.JPEGQuality(b.Quality))
	case "png":
		return imaging.Encode(dst, img, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression))
	case "gif":
		return imaging.Encode(dst, img, imaging.GIF)
	case "tiff":
		return imaging.Encode(dst, img, imaging.TIFF)
	case "bmp":
		return imaging.Encode(dst, img, imaging.BMP)
	}
	return fmt.Errorf("unsupported format %q", format)
}

var _ transform.Transformer = (*Backend)(nil)
