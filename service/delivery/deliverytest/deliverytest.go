// Package deliverytest builds a complete delivery.Service on a temporary storage root.
package deliverytest

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tweag/asset-relay/internal/metrics"
	"github.com/tweag/asset-relay/service/asset"
	"github.com/tweag/asset-relay/service/capability"
	"github.com/tweag/asset-relay/service/delivery"
	"github.com/tweag/asset-relay/service/imaging"
	"github.com/tweag/asset-relay/service/storage"
	"github.com/tweag/asset-relay/service/transform"
)

// Now is the frozen time seen by the fixture's signer.
var Now = time.Unix(1_700_000_000, 0)

const Secret = "fixture-secret-0123456789"

type Fixture struct {
	Root     string
	Resolver *storage.Resolver
	Signer   *capability.Signer
	Cache    *transform.Cache
	Metrics  *metrics.Metrics
	Service  *delivery.Service
}

// New creates the fixture. The cache is closed when the test ends.
func New(t testing.TB) *Fixture {
	t.Helper()
	root := t.TempDir()
	if err := storage.InitializeLayout(root); err != nil {
		t.Fatal(err)
	}
	resolver, err := storage.NewResolver(root)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := capability.NewSigner([]byte(Secret), 5*time.Minute, capability.WithClock(func() time.Time { return Now }))
	if err != nil {
		t.Fatal(err)
	}
	m := metrics.NewUnregistered()
	cache, err := transform.New(transform.Config{
		Dir:          filepath.Join(root, "cache"),
		Workers:      2,
		MaxDimension: 512,
		Backend:      imaging.New(),
		Metrics:      m,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(cache.Close)
	service, err := delivery.New(delivery.Config{
		Resolver: resolver,
		Catalog:  asset.PathCatalog{},
		Signer:   signer,
		Cache:    cache,
		Metrics:  m,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &Fixture{
		Root:     root,
		Resolver: resolver,
		Signer:   signer,
		Cache:    cache,
		Metrics:  m,
		Service:  service,
	}
}

// WriteFile stores data at the slash-separated path rel below the storage root.
func (f *Fixture) WriteFile(t testing.TB, rel string, data []byte) {
	t.Helper()
	p := filepath.Join(f.Root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

// WritePNG stores a width x height gradient at rel.
func (f *Fixture) WritePNG(t testing.TB, rel string, width, height int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	f.WriteFile(t, rel, buf.Bytes())
}

// Pattern returns size deterministic bytes.
func Pattern(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}
