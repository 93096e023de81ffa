package serve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/tweag/asset-relay/api"
	"github.com/tweag/asset-relay/cmd/internal/cmdhelper"
	"github.com/tweag/asset-relay/integrity"
	"github.com/tweag/asset-relay/internal/logging"
	"github.com/tweag/asset-relay/internal/metrics"
	"github.com/tweag/asset-relay/server/bytestream"
	"github.com/tweag/asset-relay/server/web"
	"github.com/tweag/asset-relay/service/asset"
	"github.com/tweag/asset-relay/service/capability"
	"github.com/tweag/asset-relay/service/delivery"
	"github.com/tweag/asset-relay/service/imaging"
	"github.com/tweag/asset-relay/service/storage"
	"github.com/tweag/asset-relay/service/transform"
)

// ShutdownTimeout bounds how long in-flight requests may finish after a signal.
const ShutdownTimeout = 15 * time.Second

func Command() *cobra.Command {
	var flags *cmdhelper.GlobalFlags
	command := &cobra.Command{
		Use:   "serve",
		Short: "Serves assets over HTTP (and optionally gRPC)",
		Example: `  asset-relay serve --storage_root /srv/assets
  ASSET_RELAY_SIGNING_SECRET=... asset-relay serve --listen :8080 --grpc_listen :8081`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := flags.Configure()
			if err != nil {
				return err
			}
			return Run(cmd.Context(), config)
		},
	}
	flags = cmdhelper.RegisterGlobalFlags(command.Flags(), cmdhelper.FlagPresetServer|cmdhelper.FlagPresetTransform)
	return command
}

// Run serves until ctx is cancelled or the process receives SIGINT or SIGTERM.
func Run(ctx context.Context, config api.GlobalConfig) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := storage.InitializeLayout(config.StorageRoot); err != nil {
		return fmt.Errorf("initializing storage root %s: %w", config.StorageRoot, err)
	}
	resolver, err := storage.NewResolver(config.StorageRoot)
	if err != nil {
		return err
	}
	signer, err := capability.NewSigner([]byte(config.SigningSecret), config.DefaultTokenTTL())
	if err != nil {
		return err
	}
	digestFunction, ok := integrity.AlgorithmFromString(config.DigestFunction)
	if !ok {
		return fmt.Errorf("unknown digest function %q", config.DigestFunction)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	cache, err := transform.New(transform.Config{
		Dir:            config.CacheDir(),
		DigestFunction: digestFunction,
		Workers:        config.Workers(),
		MaxDimension:   config.MaxDimension,
		Backend:        imaging.New(),
		Metrics:        m,
	})
	if err != nil {
		return err
	}
	defer cache.Close()

	var wg sync.WaitGroup
	defer wg.Wait()
	watcher, err := transform.NewWatcher(cache)
	if err != nil {
		return fmt.Errorf("creating cache watcher: %w", err)
	}
	if err := watcher.Start(ctx, &wg); err != nil {
		watcher.Stop()
		return fmt.Errorf("watching cache directory: %w", err)
	}

	service, err := delivery.New(delivery.Config{
		Resolver: resolver,
		Catalog:  asset.PathCatalog{Sniff: true},
		Signer:   signer,
		Cache:    cache,
		Metrics:  m,
	})
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	opts := web.Options{
		Service:       service,
		Metrics:       m,
		Logger:        logging.Logger(),
		Gatherer:      registry,
		PublicBaseURL: config.PublicBaseURL,
	}
	public := web.NewServer("public server", config.ListenAddress, web.NewPublicRouter(opts), 0)
	var management *web.Server
	if config.ManagementListenAddress != "" {
		management = web.NewServer("management server", config.ManagementListenAddress, web.NewManagementRouter(opts), 30*time.Second)
	}
	var grpcServer *grpc.Server
	var grpcListener net.Listener
	if config.GRPCListenAddress != "" {
		grpcListener, err = net.Listen("tcp", config.GRPCListenAddress)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", config.GRPCListenAddress, err)
		}
		grpcServer = bytestream.NewGRPCServer(bytestream.New(service))
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(public.ListenAndServe)
	if management != nil {
		group.Go(management.ListenAndServe)
	}
	if grpcServer != nil {
		group.Go(func() error {
			logging.Basicf("gRPC server listening on %s", grpcListener.Addr())
			if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			return nil
		})
	}
	group.Go(func() error {
		<-gctx.Done()
		logging.Basicf("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		errs := []error{public.Shutdown(shutdownCtx)}
		if management != nil {
			errs = append(errs, management.Shutdown(shutdownCtx))
		}
		if grpcServer != nil {
			stopGRPC(shutdownCtx, grpcServer)
		}
		watcher.Stop()
		return errors.Join(errs...)
	})
	return group.Wait()
}

// stopGRPC drains streams until ctx expires, then closes them.
func stopGRPC(ctx context.Context, s *grpc.Server) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logging.Warningf("gRPC server forced to shut down")
		s.Stop()
	}
}
