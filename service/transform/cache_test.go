package transform_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tweag/asset-relay/integrity"
	"github.com/tweag/asset-relay/service/status"
	"github.com/tweag/asset-relay/service/storage"
	"github.com/tweag/asset-relay/service/transform"
)

// fakeBackend renders a description of the request instead of an image.
type fakeBackend struct {
	calls atomic.Int32
	// started receives one value per call, if set.
	started chan struct{}
	// gate blocks every call after writing the first half of the output, if set.
	gate chan struct{}
	fail error
}

func (b *fakeBackend) Transform(ctx context.Context, src io.Reader, opts transform.Options, dst io.Writer) error {
	b.calls.Add(1)
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	if b.fail != nil {
		return b.fail
	}
	out := fmt.Sprintf("%s|w=%d|h=%d|fit=%s|format=%s", data, opts.Width, opts.Height, opts.Fit, opts.Format)
	half := len(out) / 2
	if _, err := io.WriteString(dst, out[:half]); err != nil {
		return err
	}
	if f, ok := dst.(interface{ Flush() error }); ok {
		f.Flush()
	}
	if b.started != nil {
		b.started <- struct{}{}
	}
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	_, err = io.WriteString(dst, out[half:])
	return err
}

func (b *fakeBackend) SupportsFormat(format string) bool {
	return format == "webp" || format == "png" || format == "jpeg"
}

type fixture struct {
	cache    *transform.Cache
	backend  *fakeBackend
	resolver *storage.Resolver
	root     string
}

func newFixture(t *testing.T, backend *fakeBackend) *fixture {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, storage.InitializeLayout(root))
	require.NoError(t, os.WriteFile(filepath.Join(root, "public", "cat.png"), []byte("cat"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "private", "dog.png"), []byte("dog"), 0o644))
	resolver, err := storage.NewResolver(root)
	require.NoError(t, err)

	cache, err := transform.New(transform.Config{
		Dir:            filepath.Join(root, "cache"),
		DigestFunction: integrity.SHA256,
		Workers:        4,
		MaxDimension:   4096,
		Backend:        backend,
	})
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	return &fixture{cache: cache, backend: backend, resolver: resolver, root: root}
}

func (f *fixture) location(t *testing.T, rel string) storage.Location {
	t.Helper()
	loc, err := f.resolver.Resolve(rel)
	require.NoError(t, err)
	return loc
}

// published lists the entries of the cache directory, ignoring the staging directory.
func (f *fixture) published(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.cache.Dir())
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if e.Name() != "staging" {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestEquivalentRequestsShareKey(t *testing.T) {
	f := newFixture(t, &fakeBackend{})
	src := f.location(t, "public/cat.png")

	same := [][2]transform.Options{
		{{}, {Fit: "cover", Format: "webp"}},
		{{Width: 100}, {Width: 100, Fit: "COVER", Format: " WebP "}},
		{{Width: 100, Format: "jpg"}, {Width: 100, Format: "jpeg"}},
		{{Format: "png"}, {Format: "png", Fit: "contain"}},
		{{Width: -5}, {}},
	}
	for _, pair := range same {
		assert.Equal(t, f.cache.Key(src, pair[0]), f.cache.Key(src, pair[1]), "%+v", pair)
	}

	different := [][2]transform.Options{
		{{Width: 100}, {Width: 101}},
		{{Width: 100}, {Height: 100}},
		{{Width: 100}, {Width: 100, Fit: "contain"}},
		{{Width: 100}, {Width: 100, Format: "png"}},
	}
	for _, pair := range different {
		assert.NotEqual(t, f.cache.Key(src, pair[0]), f.cache.Key(src, pair[1]), "%+v", pair)
	}

	other := f.location(t, "private/dog.png")
	assert.NotEqual(t, f.cache.Key(src, transform.Options{}), f.cache.Key(other, transform.Options{}))
}

func TestResolveIsDeterministic(t *testing.T) {
	f := newFixture(t, &fakeBackend{})
	src := f.location(t, "public/cat.png")
	ctx := context.Background()

	first, err := f.cache.Resolve(ctx, src, transform.Options{Width: 100})
	require.NoError(t, err)
	firstBytes, err := os.ReadFile(first.Path)
	require.NoError(t, err)

	second, err := f.cache.Resolve(ctx, src, transform.Options{Width: 100, Fit: "cover", Format: "webp"})
	require.NoError(t, err)
	secondBytes, err := os.ReadFile(second.Path)
	require.NoError(t, err)

	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, firstBytes, secondBytes)
	assert.Equal(t, "cat|w=100|h=0|fit=cover|format=webp", string(firstBytes))
	assert.Equal(t, int64(len(firstBytes)), second.SizeBytes)
	assert.Equal(t, "image/webp", first.MediaType)
	assert.Equal(t, filepath.Join(f.cache.Dir(), first.Key+".webp"), first.Path)
	assert.Len(t, first.Key, 64)
	assert.Equal(t, int32(1), f.backend.calls.Load(), "second resolution must be a cache hit")

	wider, err := f.cache.Resolve(ctx, src, transform.Options{Width: 200})
	require.NoError(t, err)
	assert.NotEqual(t, first.Key, wider.Key)
	widerBytes, err := os.ReadFile(wider.Path)
	require.NoError(t, err)
	assert.NotEqual(t, firstBytes, widerBytes)
}

func TestExistingEntryIsReusedAfterRestart(t *testing.T) {
	f := newFixture(t, &fakeBackend{})
	src := f.location(t, "public/cat.png")
	entry, err := f.cache.Resolve(context.Background(), src, transform.Options{})
	require.NoError(t, err)

	backend := &fakeBackend{}
	restarted, err := transform.New(transform.Config{Dir: f.cache.Dir(), Backend: backend})
	require.NoError(t, err)
	defer restarted.Close()

	again, err := restarted.Resolve(context.Background(), src, transform.Options{})
	require.NoError(t, err)
	assert.Equal(t, entry.Path, again.Path)
	assert.Zero(t, backend.calls.Load())
}

func TestConcurrentResolutionCoalesces(t *testing.T) {
	backend := &fakeBackend{started: make(chan struct{}, 1), gate: make(chan struct{})}
	f := newFixture(t, backend)
	src := f.location(t, "public/cat.png")

	const callers = 16
	var wg sync.WaitGroup
	entries := make([]transform.Entry, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entries[i], errs[i] = f.cache.Resolve(context.Background(), src, transform.Options{Width: 64, Height: 64})
		}()
	}

	<-backend.started
	// the computation is halfway through: nothing may be visible yet
	assert.Empty(t, f.published(t))
	close(backend.gate)
	wg.Wait()

	want := "cat|w=64|h=64|fit=cover|format=webp"
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, entries[0].Path, entries[i].Path)
		data, err := os.ReadFile(entries[i].Path)
		require.NoError(t, err)
		assert.Equal(t, want, string(data), "caller %d saw a partial file", i)
	}
	assert.Equal(t, int32(1), backend.calls.Load())
	assert.Len(t, f.published(t), 1)
}

func TestDistinctKeysRunIndependently(t *testing.T) {
	f := newFixture(t, &fakeBackend{})
	src := f.location(t, "public/cat.png")

	var wg sync.WaitGroup
	for w := 1; w <= 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.cache.Resolve(context.Background(), src, transform.Options{Width: w * 10})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(8), f.backend.calls.Load())
	assert.Len(t, f.published(t), 8)
}

func TestFailureDoesNotPublish(t *testing.T) {
	backend := &fakeBackend{fail: errors.New("corrupt image")}
	f := newFixture(t, backend)
	src := f.location(t, "public/cat.png")

	_, err := f.cache.Resolve(context.Background(), src, transform.Options{Width: 10})
	require.Error(t, err)
	assert.Equal(t, status.Status_TRANSFORM, status.CodeOf(err))
	assert.Empty(t, f.published(t))
	staging, err := os.ReadDir(filepath.Join(f.cache.Dir(), "staging"))
	require.NoError(t, err)
	assert.Empty(t, staging)

	// failures are not cached: the next request tries again
	backend.fail = nil
	_, err = f.cache.Resolve(context.Background(), src, transform.Options{Width: 10})
	require.NoError(t, err)
	assert.Equal(t, int32(2), backend.calls.Load())
}

func TestRejectedOptions(t *testing.T) {
	f := newFixture(t, &fakeBackend{})
	src := f.location(t, "public/cat.png")

	for _, opts := range []transform.Options{
		{Format: "avif"},
		{Format: "../../etc"},
		{Format: "png.exe"},
		{Width: 10, Fit: "stretchy"},
		{Width: 5000},
	} {
		_, err := f.cache.Resolve(context.Background(), src, opts)
		require.Error(t, err, "%+v", opts)
		assert.Equal(t, status.Status_TRANSFORM, status.CodeOf(err), "%+v", opts)
	}
	assert.Zero(t, f.backend.calls.Load())
	assert.Empty(t, f.published(t))
}

func TestMissingSource(t *testing.T) {
	f := newFixture(t, &fakeBackend{})
	src := f.location(t, "public/missing.png")
	_, err := f.cache.Resolve(context.Background(), src, transform.Options{})
	assert.Equal(t, status.Status_NOT_FOUND, status.CodeOf(err))
}

func TestCallerCancellationStillPublishes(t *testing.T) {
	backend := &fakeBackend{started: make(chan struct{}, 1), gate: make(chan struct{})}
	f := newFixture(t, backend)
	src := f.location(t, "public/cat.png")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.cache.Resolve(ctx, src, transform.Options{Width: 32})
		done <- err
	}()
	<-backend.started
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(backend.gate)
	require.Eventually(t, func() bool { return len(f.published(t)) == 1 }, 5*time.Second, 10*time.Millisecond)

	entry, err := f.cache.Resolve(context.Background(), src, transform.Options{Width: 32})
	require.NoError(t, err)
	data, err := os.ReadFile(entry.Path)
	require.NoError(t, err)
	assert.Equal(t, "cat|w=32|h=0|fit=cover|format=webp", string(data))
	assert.Equal(t, int32(1), backend.calls.Load())
}

func TestCloseCancelsWithoutPublishing(t *testing.T) {
	backend := &fakeBackend{started: make(chan struct{}, 1), gate: make(chan struct{})}
	f := newFixture(t, backend)
	src := f.location(t, "public/cat.png")

	done := make(chan error, 1)
	go func() {
		_, err := f.cache.Resolve(context.Background(), src, transform.Options{Width: 32})
		done <- err
	}()
	<-backend.started
	f.cache.Close()

	err := <-done
	require.Error(t, err)
	assert.Equal(t, status.Status_TRANSFORM, status.CodeOf(err))
	assert.Empty(t, f.published(t))

	_, err = f.cache.Resolve(context.Background(), src, transform.Options{Width: 48})
	assert.Error(t, err, "a closed cache accepts no new work")
}

func TestInvalidateRebuildsVanishedEntry(t *testing.T) {
	f := newFixture(t, &fakeBackend{})
	src := f.location(t, "public/cat.png")

	entry, err := f.cache.Resolve(context.Background(), src, transform.Options{})
	require.NoError(t, err)
	require.NoError(t, os.Remove(entry.Path))

	f.cache.Invalidate(entry)
	again, err := f.cache.Resolve(context.Background(), src, transform.Options{})
	require.NoError(t, err)
	assert.FileExists(t, again.Path)
	assert.Equal(t, int32(2), f.backend.calls.Load())
}

func TestThumbnail(t *testing.T) {
	f := newFixture(t, &fakeBackend{})
	entry, err := f.cache.Thumbnail(context.Background(), f.location(t, "private/dog.png"))
	require.NoError(t, err)
	data, err := os.ReadFile(entry.Path)
	require.NoError(t, err)
	assert.Equal(t, "dog|w=300|h=0|fit=cover|format=webp", string(data))
}

func TestStagingLeftoversAreRemoved(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "staging"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "staging", "abc-123"), []byte("partial"), 0o644))

	c, err := transform.New(transform.Config{Dir: dir, Backend: &fakeBackend{}})
	require.NoError(t, err)
	defer c.Close()

	leftovers, err := os.ReadDir(filepath.Join(dir, "staging"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}
