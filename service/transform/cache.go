package transform

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tweag/asset-relay/integrity"
	"github.com/tweag/asset-relay/internal/logging"
	"github.com/tweag/asset-relay/internal/metrics"
	"github.com/tweag/asset-relay/service/status"
	"github.com/tweag/asset-relay/service/storage"
)

// ThumbnailWidth is the width of images produced by Thumbnail.
const ThumbnailWidth = 300

type Config struct {
	// Dir is the flat directory holding derived files.
	Dir string
	// DigestFunction derives cache keys. Default: SHA256
	DigestFunction integrity.Algorithm
	// Workers bounds concurrent transformations.
	Workers int
	// MaxDimension limits the requested width and height. Zero disables the limit.
	MaxDimension int
	Backend      Transformer
	Metrics      *metrics.Metrics
}

// Cache maps transform requests to derived files on disk.
// Every distinct request is computed at most once at a time: concurrent callers share one computation.
// Results are published atomically, so a derived file is either absent or complete.
type Cache struct {
	dir            string
	stagingDir     string
	digestFunction integrity.Algorithm
	maxDimension   int
	backend        Transformer
	index          *Index
	flights        singleflight.Group
	queue          *workQueue[job, int64]
	metrics        *metrics.Metrics
	cancel         context.CancelFunc
}

type job struct {
	source storage.Location
	opts   Options
	digest integrity.Digest
	hex    string
}

// New creates the cache directory (if needed) and starts the worker pool.
// Call Close to stop it.
func New(cfg Config) (*Cache, error) {
	if cfg.Backend == nil {
		return nil, errors.New("transform cache needs a backend")
	}
	if cfg.Dir == "" {
		return nil, errors.New("transform cache needs a directory")
	}
	if cfg.DigestFunction == (integrity.Algorithm{}) {
		cfg.DigestFunction = integrity.SHA256
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewUnregistered()
	}
	c := &Cache{
		dir:            cfg.Dir,
		stagingDir:     filepath.Join(cfg.Dir, "staging"),
		digestFunction: cfg.DigestFunction,
		maxDimension:   cfg.MaxDimension,
		backend:        cfg.Backend,
		index:          NewIndex(),
		metrics:        cfg.Metrics,
	}
	if err := c.initializeCacheDir(); err != nil {
		return nil, fmt.Errorf("initializing cache directory %s: %w", cfg.Dir, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.queue = newWorkQueue(c.materialize, cfg.Workers)
	c.queue.Start(ctx)
	return c, nil
}

// Close cancels running transformations and waits for the workers to exit.
// Cancelled transformations never publish.
func (c *Cache) Close() {
	c.cancel()
	c.queue.Stop()
}

func (c *Cache) Dir() string {
	return c.dir
}

// Key is the digest of the normalized request.
func (c *Cache) Key(source storage.Location, opts Options) integrity.Digest {
	return c.digestFunction.DigestString(canonical(source.Rel, opts.Normalize()))
}

// Resolve returns the derived file for source and opts, building it if necessary.
// If ctx is cancelled while waiting, Resolve returns early; the computation continues
// and publishes its result for later callers.
func (c *Cache) Resolve(ctx context.Context, source storage.Location, opts Options) (Entry, error) {
	opts = opts.Normalize()
	if err := opts.Validate(c.maxDimension); err != nil {
		c.metrics.CacheLookups.WithLabelValues(metrics.OutcomeError).Inc()
		return Entry{}, err
	}
	if !c.backend.SupportsFormat(opts.Format) {
		c.metrics.CacheLookups.WithLabelValues(metrics.OutcomeError).Inc()
		return Entry{}, status.Transform(fmt.Errorf("unsupported format %q", opts.Format))
	}

	digest := c.Key(source, opts)
	hex := digest.Hex(c.digestFunction)
	entry := Entry{
		Key:       hex,
		Path:      c.entryPath(hex, opts.Format),
		MediaType: opts.MediaType(),
	}
	if size, ok := c.published(digest, entry.Path); ok {
		c.metrics.CacheLookups.WithLabelValues(metrics.OutcomeHit).Inc()
		entry.SizeBytes = size
		return entry, nil
	}

	result := c.flights.DoChan(hex, func() (any, error) {
		return c.build(job{source: source, opts: opts, digest: digest, hex: hex})
	})
	select {
	case res := <-result:
		if res.Err != nil {
			c.metrics.CacheLookups.WithLabelValues(metrics.OutcomeError).Inc()
			return Entry{}, res.Err
		}
		if res.Shared {
			c.metrics.CacheLookups.WithLabelValues(metrics.OutcomeCoalesced).Inc()
		} else {
			c.metrics.CacheLookups.WithLabelValues(metrics.OutcomeMiss).Inc()
		}
		entry.SizeBytes = res.Val.(int64)
		return entry, nil
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	}
}

// Thumbnail is a small webp, cropped to cover.
func (c *Cache) Thumbnail(ctx context.Context, source storage.Location) (Entry, error) {
	return c.Resolve(ctx, source, Options{Width: ThumbnailWidth, Fit: FitCover, Format: "webp"})
}

// build hands the job to the worker pool and waits for it.
func (c *Cache) build(j job) (int64, error) {
	type buildResult struct {
		size int64
		err  error
	}
	done := make(chan buildResult, 1)
	err := c.queue.Enqueue(j, func(_ job, size int64, err error) {
		done <- buildResult{size, err}
	})
	if err != nil {
		return 0, status.Internal(err)
	}
	r := <-done
	return r.size, r.err
}

// materialize runs on a worker.
func (c *Cache) materialize(ctx context.Context, j job) (int64, error) {
	finalPath := c.entryPath(j.hex, j.opts.Format)
	// an earlier flight or another process may have published in the meantime
	if size, ok := c.published(j.digest, finalPath); ok {
		return size, nil
	}

	start := time.Now()
	c.metrics.TransformsInFlight.Inc()
	defer c.metrics.TransformsInFlight.Dec()

	src, err := os.Open(j.source.Abs)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, status.NotFound("not found")
	} else if err != nil {
		return 0, status.Internal(err)
	}
	defer src.Close()

	staging, err := c.stagingFile(j.hex, j.opts.Format)
	if err != nil {
		return 0, status.Transform(fmt.Errorf("creating staging file: %w", err))
	}
	out := bufio.NewWriter(staging)
	if err := c.backend.Transform(ctx, bufio.NewReader(src), j.opts, out); err != nil {
		staging.Discard()
		return 0, status.Transform(fmt.Errorf("transforming %s: %w", j.source.Rel, err))
	}
	if err := out.Flush(); err != nil {
		staging.Discard()
		return 0, status.Transform(fmt.Errorf("writing %s: %w", finalPath, err))
	}
	if err := ctx.Err(); err != nil {
		staging.Discard()
		return 0, status.Transform(err)
	}
	size, err := staging.Publish()
	if err != nil {
		return 0, status.Transform(err)
	}
	c.index.Put(j.digest, c.digestFunction, size)
	c.metrics.TransformDuration.Observe(time.Since(start).Seconds())
	logging.Debugf("published %s (%d bytes) for %s", filepath.Base(finalPath), size, j.source.Rel)
	return size, nil
}

// published reports whether an entry exists, consulting the index before the disk.
func (c *Cache) published(digest integrity.Digest, finalPath string) (int64, bool) {
	if size, ok := c.index.Get(digest, c.digestFunction); ok {
		return size, true
	}
	info, err := os.Stat(finalPath)
	if err != nil || !info.Mode().IsRegular() {
		return 0, false
	}
	c.index.Put(digest, c.digestFunction, info.Size())
	return info.Size(), true
}

// forget drops an entry from the index after its file vanished.
func (c *Cache) forget(name string) {
	hex, _, ok := parseEntryName(name)
	if !ok {
		return
	}
	digest, err := integrity.DigestFromHex(hex, 0, c.digestFunction)
	if err != nil {
		return
	}
	if c.index.Delete(digest, c.digestFunction) {
		c.metrics.CacheEvictions.Inc()
		logging.Debugf("cache entry %s was removed", name)
	}
}

// Invalidate forgets a published entry, e.g. after its file turned out to be missing.
func (c *Cache) Invalidate(e Entry) {
	c.forget(filepath.Base(e.Path))
}
