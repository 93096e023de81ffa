package transform

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tweag/asset-relay/service/status"
)

const (
	DefaultFormat = "webp"
	DefaultFit    = FitCover
)

// Fit modes, with the same meaning as in common image pipelines:
// cover crops to fill the box, contain letterboxes, fill stretches,
// inside and outside keep the aspect ratio and stay within / cover the box.
const (
	FitCover   = "cover"
	FitContain = "contain"
	FitFill    = "fill"
	FitInside  = "inside"
	FitOutside = "outside"
)

// Options describe a derived image.
// A zero Width or Height means "not set".
type Options struct {
	Width  int
	Height int
	Fit    string
	Format string
}

// ParseDimension turns a query value into a dimension.
// Anything that is not a positive integer counts as absent.
func ParseDimension(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

// Normalize maps semantically identical options to identical values:
// defaults are filled in, names are lowercased and aliases resolved.
// Fit is meaningless without a target size and is dropped in that case.
func (o Options) Normalize() Options {
	if o.Width < 0 {
		o.Width = 0
	}
	if o.Height < 0 {
		o.Height = 0
	}
	o.Format = strings.ToLower(strings.TrimSpace(o.Format))
	switch o.Format {
	case "":
		o.Format = DefaultFormat
	case "jpg":
		o.Format = "jpeg"
	case "tif":
		o.Format = "tiff"
	}
	o.Fit = strings.ToLower(strings.TrimSpace(o.Fit))
	if o.Fit == "" {
		o.Fit = DefaultFit
	}
	if !o.Resizes() {
		o.Fit = ""
	}
	return o
}

func (o Options) Resizes() bool {
	return o.Width > 0 || o.Height > 0
}

// MediaType of the derived file.
func (o Options) MediaType() string {
	return "image/" + o.Format
}

// Validate rejects normalized options no backend could satisfy.
// The format becomes part of a file name, so it is restricted to a safe alphabet.
func (o Options) Validate(maxDimension int) error {
	if len(o.Format) == 0 || len(o.Format) > 8 || strings.IndexFunc(o.Format, notAlnum) >= 0 {
		return status.Transform(fmt.Errorf("invalid format %q", o.Format))
	}
	switch o.Fit {
	case "", FitCover, FitContain, FitFill, FitInside, FitOutside:
	default:
		return status.Transform(fmt.Errorf("unsupported fit %q", o.Fit))
	}
	if maxDimension > 0 && (o.Width > maxDimension || o.Height > maxDimension) {
		return status.Transform(fmt.Errorf("requested size %dx%d exceeds the limit of %d", o.Width, o.Height, maxDimension))
	}
	return nil
}

// canonical renders normalized options together with the source path.
// The layout is versioned so keys can be invalidated wholesale by bumping it.
func canonical(sourceRel string, o Options) string {
	var b strings.Builder
	b.WriteString("v1")
	b.WriteString("|src=")
	b.WriteString(sourceRel)
	b.WriteString("|w=")
	b.WriteString(dimension(o.Width))
	b.WriteString("|h=")
	b.WriteString(dimension(o.Height))
	b.WriteString("|fit=")
	b.WriteString(o.Fit)
	b.WriteString("|format=")
	b.WriteString(o.Format)
	return b.String()
}

func dimension(n int) string {
	if n <= 0 {
		return "-"
	}
	return strconv.Itoa(n)
}

func notAlnum(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
}
