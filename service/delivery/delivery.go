package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tweag/asset-relay/api"
	"github.com/tweag/asset-relay/internal/logging"
	"github.com/tweag/asset-relay/internal/metrics"
	"github.com/tweag/asset-relay/service/asset"
	"github.com/tweag/asset-relay/service/capability"
	"github.com/tweag/asset-relay/service/status"
	"github.com/tweag/asset-relay/service/storage"
	"github.com/tweag/asset-relay/service/stream"
	"github.com/tweag/asset-relay/service/transform"
)

// Surface labels for delivery metrics.
const (
	SurfaceHTTP = "http"
	SurfaceGRPC = "grpc"
)

// FetchRequest carries the raw parameters of a fetch.
type FetchRequest struct {
	Path    string
	Token   string
	Expires string
	// Range is the raw Range header, empty if absent.
	Range string
}

// TransformQuery carries the raw parameters of a transform request.
// Width and Height are strings because invalid values count as absent.
type TransformQuery struct {
	Path    string
	Token   string
	Expires string
	Width   string
	Height  string
	Format  string
	Fit     string
}

// Access describes a read from a surface that streams by itself.
type Access struct {
	Path    string
	Token   string
	Expires string
}

// Handle is an authorized, open asset.
type Handle struct {
	*os.File
	Asset api.Asset
	Size  int64
}

type Config struct {
	Resolver *storage.Resolver
	Catalog  asset.Catalog
	Signer   *capability.Signer
	Cache    *transform.Cache
	Streamer *stream.Streamer
	Metrics  *metrics.Metrics
}

// Service glues path resolution, capability checks, the transform cache and streaming together.
// Every entry point checks the capability before doing any work on the requested resource.
type Service struct {
	resolver *storage.Resolver
	catalog  asset.Catalog
	signer   *capability.Signer
	cache    *transform.Cache
	streamer *stream.Streamer
	metrics  *metrics.Metrics
}

func New(cfg Config) (*Service, error) {
	if cfg.Resolver == nil || cfg.Signer == nil || cfg.Cache == nil {
		return nil, errors.New("delivery needs a resolver, a signer and a transform cache")
	}
	if cfg.Catalog == nil {
		cfg.Catalog = asset.PathCatalog{}
	}
	if cfg.Streamer == nil {
		cfg.Streamer = stream.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewUnregistered()
	}
	return &Service{
		resolver: cfg.Resolver,
		catalog:  cfg.Catalog,
		signer:   cfg.Signer,
		cache:    cfg.Cache,
		streamer: cfg.Streamer,
		metrics:  cfg.Metrics,
	}, nil
}

// FetchPrivate streams a stored asset, honoring a single byte range.
func (s *Service) FetchPrivate(ctx context.Context, w http.ResponseWriter, req FetchRequest) (stream.Result, error) {
	loc, a, err := s.authorize(ctx, req.Path, req.Token, req.Expires)
	if err != nil {
		return stream.Result{}, err
	}
	if _, err := s.resolver.Stat(loc); err != nil {
		return stream.Result{}, err
	}
	res, err := s.streamer.Serve(ctx, w, loc.Abs, a.MediaType, req.Range)
	s.account(SurfaceHTTP, res)
	return res, err
}

// TransformAndServe streams the derived image for q, building it on first use.
// Range headers are not honored here.
func (s *Service) TransformAndServe(ctx context.Context, w http.ResponseWriter, q TransformQuery) (stream.Result, error) {
	opts := transform.Options{
		Width:  transform.ParseDimension(q.Width),
		Height: transform.ParseDimension(q.Height),
		Format: q.Format,
		Fit:    q.Fit,
	}
	access := Access{Path: q.Path, Token: q.Token, Expires: q.Expires}
	return s.serveDerived(ctx, w, access, func(loc storage.Location) (transform.Entry, error) {
		return s.cache.Resolve(ctx, loc, opts)
	})
}

// ThumbnailAndServe streams the cached thumbnail of an image.
// Authorization is the same as for TransformAndServe.
func (s *Service) ThumbnailAndServe(ctx context.Context, w http.ResponseWriter, access Access) (stream.Result, error) {
	return s.serveDerived(ctx, w, access, func(loc storage.Location) (transform.Entry, error) {
		return s.cache.Thumbnail(ctx, loc)
	})
}

func (s *Service) serveDerived(ctx context.Context, w http.ResponseWriter, access Access, derive func(storage.Location) (transform.Entry, error)) (stream.Result, error) {
	loc, _, err := s.authorize(ctx, access.Path, access.Token, access.Expires)
	if err != nil {
		return stream.Result{}, err
	}
	if _, err := s.resolver.Stat(loc); err != nil {
		return stream.Result{}, err
	}

	// The entry may vanish between lookup and open if someone cleans the cache directory.
	// In that case, forget it and build once more.
	for attempt := 0; ; attempt++ {
		entry, err := derive(loc)
		if err != nil {
			return stream.Result{}, err
		}
		res, err := s.streamer.Serve(ctx, w, entry.Path, entry.MediaType, "")
		if res.State == stream.Idle && status.CodeOf(err) == status.Status_NOT_FOUND && attempt == 0 {
			logging.Warningf("derived file %s disappeared, rebuilding", entry.Key)
			s.cache.Invalidate(entry)
			continue
		}
		s.account(SurfaceHTTP, res)
		return res, err
	}
}

// Issue mints a capability for the canonical form of relativePath.
// A non-positive ttl selects the configured default.
func (s *Service) Issue(relativePath string, ttl time.Duration) (capability.Capability, error) {
	if relativePath == "" {
		return capability.Capability{}, status.Validation("missing path")
	}
	loc, err := s.resolver.Resolve(relativePath)
	if err != nil {
		return capability.Capability{}, err
	}
	return s.signer.Sign(loc.Rel, ttl), nil
}

// Open authorizes a read and opens the asset.
// The caller must close the handle.
func (s *Service) Open(ctx context.Context, access Access) (*Handle, error) {
	loc, a, err := s.authorize(ctx, access.Path, access.Token, access.Expires)
	if err != nil {
		return nil, err
	}
	info, err := s.resolver.Stat(loc)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(loc.Abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, status.NotFound("not found")
	} else if err != nil {
		return nil, status.Internal(fmt.Errorf("opening %s: %w", loc.Rel, err))
	}
	return &Handle{File: f, Asset: a, Size: info.Size()}, nil
}

// Account records what a stream wrote.
func (s *Service) Account(surface string, bytes int64, aborted bool) {
	s.metrics.BytesServed.WithLabelValues(surface).Add(float64(bytes))
	if aborted {
		s.metrics.StreamAborts.WithLabelValues(surface).Inc()
	}
}

func (s *Service) account(surface string, res stream.Result) {
	s.Account(surface, res.Bytes, res.State == stream.Aborted)
}

// authorize resolves rawPath and, if the asset is private, checks the capability.
// Paths outside the public bucket are checked before the filesystem is touched.
func (s *Service) authorize(ctx context.Context, rawPath, token, expires string) (storage.Location, api.Asset, error) {
	if rawPath == "" {
		return storage.Location{}, api.Asset{}, status.Validation("missing path")
	}
	loc, err := s.resolver.Resolve(rawPath)
	if err != nil {
		return storage.Location{}, api.Asset{}, err
	}
	verified := false
	if asset.VisibilityOf(loc) == api.Private {
		if err := s.verify(loc, token, expires); err != nil {
			return storage.Location{}, api.Asset{}, err
		}
		verified = true
	}
	a, err := s.catalog.Lookup(ctx, loc)
	if err != nil {
		return storage.Location{}, api.Asset{}, err
	}
	if a.Visibility == api.Private && !verified {
		if err := s.verify(loc, token, expires); err != nil {
			return storage.Location{}, api.Asset{}, err
		}
	}
	if a.MediaType == "" {
		a.MediaType = api.DefaultMediaType
	}
	return loc, a, nil
}

func (s *Service) verify(loc storage.Location, token, expires string) error {
	if !s.signer.Verify(loc.Rel, token, expires) {
		s.metrics.TokenChecks.WithLabelValues("denied").Inc()
		logging.Debugf("capability check failed for %s", loc.Rel)
		return status.Auth()
	}
	s.metrics.TokenChecks.WithLabelValues("granted").Inc()
	return nil
}

// SignedURL renders the fetch URL of c below baseURL.
func SignedURL(baseURL string, c capability.Capability) string {
	query := url.Values{}
	query.Set("path", c.Path)
	query.Set("token", c.Token)
	query.Set("expires", strconv.FormatInt(c.ExpiresAt, 10))
	return strings.TrimSuffix(baseURL, "/") + "/private?" + query.Encode()
}
