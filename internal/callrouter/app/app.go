package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"

	types "github.com/sebas/callrouter/api/types/v1"
	"github.com/sebas/callrouter/internal/callrouter/api"
	"github.com/sebas/callrouter/internal/callrouter/ari"
	"github.com/sebas/callrouter/internal/callrouter/config"
	"github.com/sebas/callrouter/internal/callrouter/directory"
	"github.com/sebas/callrouter/internal/callrouter/dispatcher"
	"github.com/sebas/callrouter/internal/callrouter/events"
	"github.com/sebas/callrouter/internal/callrouter/notify"
)

// Router wires the gateway, directory, dispatcher and notification
// surfaces of one call router instance.
type Router struct {
	config     *config.Config
	gateway    *ari.Client
	lookup     directory.Lookup
	cache      *directory.CachedLookup
	dispatcher *dispatcher.Dispatcher
	hub        *notify.Hub
	publisher  events.Publisher
	apiServer  *api.Server
	grpcServer *grpc.Server
	logger     *slog.Logger
}

// NewRouter builds a router from cfg. Nothing is started.
func NewRouter(cfg *config.Config, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gw, err := ari.New(ari.Config{
		URL:        cfg.ARIURL,
		Username:   cfg.ARIUser,
		Password:   cfg.ARIPassword,
		App:        cfg.ARIApp,
		Technology: cfg.Technology,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create ARI client: %w", err)
	}

	r := &Router{config: cfg, gateway: gw, logger: logger}

	// Directory lookup: HTTP, optionally cached
	if cfg.DirectoryURL != "" {
		httpLookup, err := directory.NewHTTPLookup(directory.Config{
			URL:     cfg.DirectoryURL,
			Timeout: cfg.DirectoryTimeout,
		}, logger)
		if err != nil {
			gw.Close()
			return nil, fmt.Errorf("failed to create directory lookup: %w", err)
		}
		r.lookup = httpLookup
		if cfg.DirectoryCacheTTL > 0 {
			r.cache = directory.NewCachedLookup(httpLookup, cfg.DirectoryCacheTTL)
			r.lookup = r.cache
		}
	}

	// Notifications: live watchers plus the log
	r.hub = notify.NewHub(func() []types.Session { return r.dispatcher.Snapshots() }, logger)
	r.publisher = events.NewMultiPublisher(logger, events.NewLoggingPublisher(logger), r.hub)

	r.dispatcher = dispatcher.New(dispatcher.Config{
		Session: cfg.Office.SessionConfig(cfg.ARIApp, cfg.Technology),
		NodeID:  cfg.NodeID,
	}, gw, r.lookup, r.publisher, logger)

	r.apiServer = api.NewServer(cfg.APIAddr, r.dispatcher, gw, r.hub, logger)

	if cfg.GRPCAddr != "" {
		r.grpcServer = grpc.NewServer()
		notify.Register(r.grpcServer, r.hub)
	}

	return r, nil
}

// Start runs the router until ctx is cancelled. Live sessions are ended
// before it returns.
func (r *Router) Start(ctx context.Context) error {
	if err := r.apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	var wg sync.WaitGroup
	if r.grpcServer != nil {
		listener, err := net.Listen("tcp", r.config.GRPCAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", r.config.GRPCAddr, err)
		}
		r.logger.Info("[gRPC] Watch stream listening", "address", listener.Addr().String())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				r.logger.Error("[gRPC] Server error", "error", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := r.gateway.Run(ctx); err != nil {
			r.logger.Error("[ARI] Event stream stopped", "error", err)
		}
	}()

	err := r.dispatcher.Run(ctx)

	// Sessions are gone; tell watchers and close the listeners.
	r.hub.Close()
	if r.grpcServer != nil {
		r.grpcServer.GracefulStop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if stopErr := r.apiServer.Stop(shutdownCtx); stopErr != nil {
		r.logger.Warn("[API] Shutdown error", "error", stopErr)
	}
	wg.Wait()
	return err
}

// Close releases resources not owned by Start.
func (r *Router) Close() {
	if r.cache != nil {
		r.cache.Close()
	}
	if err := r.publisher.Close(); err != nil {
		r.logger.Warn("[Events] Publisher close error", "error", err)
	}
	r.gateway.Close()
}
