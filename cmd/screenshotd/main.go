// Package main runs the screenshot HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/screenshot-service/internal/api"
	"github.com/JakeFAU/screenshot-service/internal/clock/system"
	"github.com/JakeFAU/screenshot-service/internal/config"
	"github.com/JakeFAU/screenshot-service/internal/engine"
	"github.com/JakeFAU/screenshot-service/internal/events"
	"github.com/JakeFAU/screenshot-service/internal/events/sinks"
	"github.com/JakeFAU/screenshot-service/internal/logging"
	pubsubpublisher "github.com/JakeFAU/screenshot-service/internal/publisher/pubsub"
	"github.com/JakeFAU/screenshot-service/internal/render"
	"github.com/JakeFAU/screenshot-service/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)

	code := run(cfg, logger)
	_ = logger.Sync()
	os.Exit(code)
}

func run(cfg config.Config, logger *zap.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	eventSinks, closeSinks, err := buildSinks(ctx, cfg.Events, logger.Named("events"))
	if err != nil {
		logger.Error("event sinks init failed", zap.Error(err))
		return 1
	}
	defer closeSinks()
	hub := events.NewHub(events.Config{
		BufferSize:   cfg.Events.BufferSize,
		MaxBatch:     cfg.Events.MaxBatch,
		MaxBatchWait: cfg.Events.MaxBatchWait,
		Logger:       logger.Named("events"),
	}, eventSinks...)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("events hub close failed", zap.Error(err))
		}
	}()

	launcher := engine.NewChromeLauncher(engine.ChromeConfig{
		ExecPath:   cfg.Engine.ExecPath,
		ExtraFlags: cfg.Engine.ExtraFlags,
		Logger:     logger.Named("chrome"),
	})
	supervisor, err := engine.NewSupervisor(launcher, engine.Config{
		LaunchTimeout: cfg.Engine.LaunchTimeout,
		Logger:        logger.Named("engine"),
		Events:        hub,
		Clock:         clock,
	})
	if err != nil {
		logger.Error("engine supervisor init failed", zap.Error(err))
		return 1
	}
	defer func() {
		if err := supervisor.Close(); err != nil {
			logger.Warn("engine close failed", zap.Error(err))
		}
	}()
	if err := supervisor.Start(ctx); err != nil {
		logger.Error("engine launch failed", zap.Error(err))
		return 1
	}

	renderer, err := render.NewRenderer(supervisor, render.Config{
		Logger:            logger.Named("render"),
		Events:            hub,
		Clock:             clock,
		NavigationTimeout: cfg.Render.NavigationTimeout,
		CleanupTimeout:    cfg.Render.CleanupTimeout,
		MaxSurfaces:       cfg.Render.MaxConcurrentSurfaces,
	})
	if err != nil {
		logger.Error("renderer init failed", zap.Error(err))
		return 1
	}
	apiServer, err := api.NewServer(renderer, supervisor, cfg.Render, logger.Named("api"))
	if err != nil {
		logger.Error("api server init failed", zap.Error(err))
		return 1
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case err := <-serveErr:
		logger.Error("http server error", zap.Error(err))
		return 1
	default:
	}
	logger.Info("shutdown complete")
	return 0
}

// buildSinks assembles the configured event sinks. The returned func releases
// clients the sinks depend on and must run after the hub is closed.
func buildSinks(ctx context.Context, cfg config.EventsConfig, logger *zap.Logger) ([]events.Sink, func(), error) {
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, nil, fmt.Errorf("prometheus sink: %w", err)
	}
	out := []events.Sink{sinks.NewLogSink(logger), promSink}
	// closers run after the hub; abort additionally releases what the hub
	// would have closed had construction succeeded.
	var closers, aborts []func()
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	abort := func(err error) ([]events.Sink, func(), error) {
		release()
		for _, fn := range aborts {
			fn()
		}
		return nil, nil, err
	}

	if cfg.DB.DSN != "" {
		store, err := postgres.NewRenderStore(ctx, postgres.RenderStoreConfig{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("render store: %w", err)
		}
		aborts = append(aborts, store.Close)
		out = append(out, sinks.NewStoreSink(store))
		logger.Info("render audit sink enabled", zap.String("table", cfg.DB.Table))
	}

	if cfg.PubSub.Enabled() {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return abort(fmt.Errorf("pubsub client: %w", err))
		}
		publisher, err := pubsubpublisher.New(client)
		if err != nil {
			_ = client.Close()
			return abort(fmt.Errorf("pubsub publisher: %w", err))
		}
		closers = append(closers, func() {
			publisher.Close()
			if err := client.Close(); err != nil {
				logger.Warn("pubsub client close failed", zap.Error(err))
			}
		})
		sink, err := sinks.NewPublisherSink(publisher, cfg.PubSub.Topic)
		if err != nil {
			return abort(fmt.Errorf("publisher sink: %w", err))
		}
		out = append(out, sink)
		logger.Info("pubsub sink enabled", zap.String("topic", cfg.PubSub.Topic))
	}
	return out, release, nil
}
