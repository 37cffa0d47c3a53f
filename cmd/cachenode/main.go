// Command cachenode runs the oracle data-package cache node.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	app "github.com/feedmesh/cachenode/internal/app"
	"github.com/feedmesh/cachenode/internal/app/httpapi"
	"github.com/feedmesh/cachenode/internal/app/registry"
	"github.com/feedmesh/cachenode/internal/app/services/broadcast"
	"github.com/feedmesh/cachenode/internal/app/storage/postgres"
	"github.com/feedmesh/cachenode/internal/config"
	"github.com/feedmesh/cachenode/internal/httputil"
	"github.com/feedmesh/cachenode/internal/middleware"
	"github.com/feedmesh/cachenode/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the node configuration file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("main").Errorf("load configuration: %v", err)
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Module: "cachenode",
	})

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("node exited with error")
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores := app.Stores{}
	if cfg.Postgres.DSN != "" {
		store, err := postgres.Open(cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		stores.Packages = store
		log.Info("using postgres package store")
	} else {
		log.Warn("no postgres DSN configured; using in-memory package store")
	}

	reg, err := registry.NewFileProvider(cfg.Registry.File, cfg.RegistryRefresh(), log.WithField("component", "registry"))
	if err != nil {
		return err
	}
	if err := reg.Start(ctx); err != nil {
		return err
	}
	defer reg.Stop(context.Background())

	var sinks []broadcast.Sink
	if cfg.Broadcast.RedisURL != "" {
		stream := cfg.Broadcast.RedisStream
		if stream == "" {
			stream = "data-packages"
		}
		redisSink, err := broadcast.NewRedisSink(cfg.Broadcast.RedisURL, stream)
		if err != nil {
			return err
		}
		defer redisSink.Close()
		sinks = append(sinks, redisSink)
	}
	if len(cfg.Broadcast.WebhookURLs) > 0 {
		client := httputil.NewClient(httputil.ClientConfig{Timeout: 15 * time.Second})
		for _, url := range cfg.Broadcast.WebhookURLs {
			sinks = append(sinks, broadcast.NewWebhookSink(client, url))
		}
	}

	application := app.New(stores, reg, sinks, app.Config{
		CacheTTL:        cfg.CacheTTL(),
		MaxAllowedDelay: cfg.MaxAllowedDelay(),
	}, log)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           limiter.Handler(httpapi.NewHandler(application)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
