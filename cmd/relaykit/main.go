// Package main implements the entry point for the RelayKit gateway: a
// GraphQL server that serves cursor-paginated connections from a normalized
// cache and reconciles optimistic mutations against an authoritative store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/relaykit/auth"
	"github.com/c360/relaykit/cache"
	"github.com/c360/relaykit/config"
	"github.com/c360/relaykit/connection"
	"github.com/c360/relaykit/coordinator"
	"github.com/c360/relaykit/gateway/graphql"
	"github.com/c360/relaykit/metric"
	"github.com/c360/relaykit/reconcile"
	"github.com/c360/relaykit/storage/memstore"
	"github.com/c360/relaykit/transport"
	"github.com/c360/relaykit/transport/local"
	"github.com/c360/relaykit/transport/natsmut"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "relaykit"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.LogLevel != "" {
		cfg.Logging.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Logging.Format = cliCfg.LogFormat
	}

	if cliCfg.Validate {
		fmt.Println("configuration is valid")
		return nil
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	slog.Info("Starting RelayKit gateway",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"transport", cfg.Transport.Mode)

	registry := metric.NewMetricsRegistry()
	metrics := registry.CoreMetrics()

	store := memstore.New(memstore.WithLogger(logger))

	tr, handler, err := setupTransport(cfg, store, logger)
	if err != nil {
		return err
	}
	if handler != nil {
		defer func() { _ = handler.Close() }()
	}

	coord, err := setupCoordinator(cfg, store, tr, registry, metrics, logger)
	if err != nil {
		return err
	}

	srv, err := setupGateway(cfg, coord, registry, logger)
	if err != nil {
		return err
	}

	return runWithSignalHandling(coord, srv, cfg.Server.ShutdownTimeout.Std())
}

// setupTransport builds the mutation transport selected by the config. In
// nats mode a store-side handler is mounted in-process as well, so a single
// binary serves both roles; run it with the handler disabled by pointing the
// URLs at a cluster where another instance owns the store.
func setupTransport(
	cfg *config.Config,
	store *memstore.Store,
	logger *slog.Logger,
) (transport.Transport, *natsmut.Handler, error) {
	if cfg.Transport.Mode == config.TransportLocal {
		return local.New(store, local.WithLogger(logger)), nil, nil
	}

	connCfg := natsmut.ConnConfig{
		URLs:          cfg.NATS.URLs,
		MaxReconnects: cfg.NATS.MaxReconnects,
		ReconnectWait: cfg.NATS.ReconnectWait.Std(),
		Username:      cfg.NATS.Username,
		Password:      cfg.NATS.Password,
		Token:         cfg.NATS.Token,
		Name:          appName,
	}

	handler, err := natsmut.NewHandler(connCfg, store,
		natsmut.WithHandlerLogger(logger),
		natsmut.WithExecTimeout(cfg.Mutation.Timeout.Std()))
	if err != nil {
		return nil, nil, fmt.Errorf("start mutation handler: %w", err)
	}

	tr, err := natsmut.New(connCfg, natsmut.WithLogger(logger))
	if err != nil {
		handler.Close()
		return nil, nil, fmt.Errorf("connect mutation transport: %w", err)
	}
	return tr, handler, nil
}

// setupCoordinator assembles the cache, resolver, and reconciler around the
// transport.
func setupCoordinator(
	cfg *config.Config,
	store *memstore.Store,
	tr transport.Transport,
	registry *metric.MetricsRegistry,
	metrics *metric.Metrics,
	logger *slog.Logger,
) (*coordinator.Coordinator, error) {
	cacheStore := cache.NewStore(
		cache.WithLogger(logger),
		cache.WithMetrics(metrics),
		cache.WithSubscriptionBuffer(cfg.Cache.SubscriptionBuffer))

	resolver := connection.NewResolver(store,
		connection.WithLogger(logger),
		connection.WithMetrics(metrics),
		connection.WithDefaultPageSize(cfg.Pagination.DefaultPageSize),
		connection.WithMaxPageSize(cfg.Pagination.MaxPageSize))

	reconciler := reconcile.New(cacheStore, tr,
		reconcile.WithLogger(logger),
		reconcile.WithMetrics(metrics),
		reconcile.WithMetricsRegistry(registry),
		reconcile.WithDefaultTimeout(cfg.Mutation.Timeout.Std()),
		reconcile.WithWorkers(cfg.Mutation.Workers, cfg.Mutation.QueueSize))

	opts := []coordinator.Option{coordinator.WithLogger(logger)}
	if cfg.Auth.Enabled && len(cfg.Auth.Roles) > 0 {
		opts = append(opts, coordinator.WithAuthorizer(auth.NewRolePolicy(cfg.Auth.Roles)))
	}

	return coordinator.New(resolver, reconciler, cacheStore, tr, opts...), nil
}

// setupGateway builds the HTTP server and mounts the metrics endpoint.
func setupGateway(
	cfg *config.Config,
	coord *coordinator.Coordinator,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*graphql.Server, error) {
	serverCfg := graphql.Config{
		Addr:             cfg.Server.Addr,
		EnablePlayground: cfg.Server.Playground,
		RateLimit:        cfg.Server.RateLimit,
		RateBurst:        cfg.Server.RateBurst,
	}

	opts := []graphql.ServerOption{graphql.WithServerLogger(logger)}
	if cfg.Auth.Enabled {
		authority, err := auth.NewTokenAuthority(
			[]byte(cfg.Auth.Secret), cfg.Auth.Issuer, cfg.Auth.TTL.Std())
		if err != nil {
			return nil, fmt.Errorf("build token authority: %w", err)
		}
		opts = append(opts, graphql.WithVerifier(authority))
	}

	srv, err := graphql.NewServer(serverCfg, coord, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gateway: %w", err)
	}

	srv.Handle("/metrics", metric.Handler(registry))

	if err := srv.Setup(); err != nil {
		return nil, fmt.Errorf("setup gateway: %w", err)
	}
	return srv, nil
}

// runWithSignalHandling starts the coordinator and gateway and blocks until
// a shutdown signal arrives or the server fails.
func runWithSignalHandling(
	coord *coordinator.Coordinator,
	srv *graphql.Server,
	shutdownTimeout time.Duration,
) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := coord.Start(signalCtx); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}

	ready := make(chan struct{})
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(signalCtx, ready)
	}()

	select {
	case <-ready:
		slog.Info("RelayKit gateway started")
	case err := <-serverErr:
		stopCoordinator(coord, shutdownTimeout)
		return fmt.Errorf("gateway failed to start: %w", err)
	}

	select {
	case <-signalCtx.Done():
		slog.Info("Received shutdown signal")
	case err := <-serverErr:
		stopCoordinator(coord, shutdownTimeout)
		return fmt.Errorf("gateway failed: %w", err)
	}

	// Server.Start shuts the listener down itself when the context is
	// cancelled; wait for it before draining in-flight mutations.
	if err := <-serverErr; err != nil {
		slog.Error("Gateway shutdown error", "error", err)
	}
	stopCoordinator(coord, shutdownTimeout)

	slog.Info("RelayKit shutdown complete")
	return nil
}

func stopCoordinator(coord *coordinator.Coordinator, timeout time.Duration) {
	if err := coord.Stop(timeout); err != nil {
		slog.Error("Coordinator shutdown error", "error", err)
	}
}
