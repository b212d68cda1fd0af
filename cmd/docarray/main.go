package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docarray/internal/array"
	"github.com/kailas-cloud/docarray/internal/codec"
	"github.com/kailas-cloud/docarray/internal/config"
	dbRedis "github.com/kailas-cloud/docarray/internal/db/redis"
	logpkg "github.com/kailas-cloud/docarray/internal/logger"
	"github.com/kailas-cloud/docarray/internal/metrics"
	"github.com/kailas-cloud/docarray/internal/snapshot"
	"github.com/kailas-cloud/docarray/internal/storage/factory"
	chiTransport "github.com/kailas-cloud/docarray/internal/transport/chi"
	"github.com/kailas-cloud/docarray/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting docarray API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("backend", cfg.Storage.Backend),
		zap.String("snapshot_driver", cfg.Snapshot.Driver),
	)

	// Register metrics explicitly (no init())
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Fatal("Failed to register metrics", zap.Error(err))
	}

	ctx := context.Background()
	docs, err := openArray(ctx, &cfg.Storage, logger)
	if err != nil {
		logger.Fatal("Failed to open document array", zap.Error(err))
	}
	logger.Info("Document array ready", zap.Int("documents", docs.Len()))

	snapshots, closeSnapshots, err := buildSnapshotStore(ctx, &cfg.Snapshot, logger)
	if err != nil {
		logger.Fatal("Failed to create snapshot store", zap.Error(err))
	}
	defer closeSnapshots()

	server := chiTransport.NewServer(docs, snapshots, logger)

	r := chi.NewRouter()
	r.Use(chiTransport.Recoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(chiTransport.RequestLogger(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	// Close flushes pending offset meta.
	if err := docs.Close(shutdownCtx); err != nil {
		logger.Error("Error closing document array", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// openArray opens the configured backend, seeding it from a saved file when
// load_from is set.
func openArray(ctx context.Context, cfg *config.StorageConfig, logger *zap.Logger) (*array.Array, error) {
	opts := []array.Option{array.WithLogger(logger)}
	if cfg.EagerFlush {
		opts = append(opts, array.WithEagerFlush())
	}
	if cfg.LoadFrom == "" {
		return array.Open(ctx, factory.Open, cfg.Backend, &cfg.Options, opts...)
	}

	format, err := array.ParseFormat(cfg.LoadFormat)
	if err != nil {
		return nil, err
	}
	logger.Info("Loading documents", zap.String("path", cfg.LoadFrom), zap.String("format", string(format)))
	return array.Load(ctx, factory.Open, cfg.Backend, &cfg.Options, cfg.LoadFrom, format, codec.EncodingUTF8, opts...)
}

// buildSnapshotStore returns nil when push is disabled. The returned func
// releases any connection the store holds.
func buildSnapshotStore(
	ctx context.Context, cfg *config.SnapshotConfig, logger *zap.Logger,
) (snapshot.Store, func(), error) {
	noop := func() {}
	switch cfg.Driver {
	case "":
		return nil, noop, nil
	case "fs":
		st, err := snapshot.NewFSStore(cfg.Dir, logger)
		return st, noop, err
	case "s3":
		st, err := snapshot.NewS3Store(cfg.S3, logger)
		return st, noop, err
	case "redis":
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("snapshot redis: %w", err)
		}
		if err := store.WaitForReady(ctx, 10*time.Second); err != nil {
			store.Close()
			return nil, noop, fmt.Errorf("snapshot redis not ready: %w", err)
		}
		ttl := time.Duration(cfg.Redis.TTLSec) * time.Second
		return snapshot.NewRedisStore(store, cfg.Redis.KeyPrefix, ttl, logger), store.Close, nil
	}
	return nil, noop, fmt.Errorf("unknown snapshot driver %q", cfg.Driver)
}
