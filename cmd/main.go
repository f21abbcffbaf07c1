package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rivelle/assetcache/internal/cache"
	"github.com/rivelle/assetcache/internal/clock"
	"github.com/rivelle/assetcache/internal/config"
	"github.com/rivelle/assetcache/internal/keypath"
	"github.com/rivelle/assetcache/internal/logging"
	"github.com/rivelle/assetcache/internal/metrics"
	"github.com/rivelle/assetcache/internal/mirror"
	"github.com/rivelle/assetcache/internal/orchestrator"
	"github.com/rivelle/assetcache/internal/policy"
	"github.com/rivelle/assetcache/internal/preload"
	"github.com/rivelle/assetcache/internal/progress"
	"github.com/rivelle/assetcache/internal/server"
	"github.com/rivelle/assetcache/internal/watch"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to daemon configuration file")
		envPrefix  = flag.String("env-prefix", "ASSETCACHE", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	if strings.TrimSpace(cfg.Content.Folder) == "" {
		logger.Error("content folder not configured")
		os.Exit(1)
	}
	resolver, err := keypath.NewResolver(cfg.Content.Folder, cfg.Content.PathTemplate)
	if err != nil {
		logger.Error("content path template invalid", slog.Any("error", err))
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(promRegistry)
	agg := metrics.NewAggregate()

	mirrorStore := buildMirror(logger.With(slog.String("component", "mirror")), cfg.Mirror)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := mirrorStore.Close(shutdownCtx); err != nil {
			logger.Error("mirror shutdown failed", slog.Any("error", err))
		}
	}()

	store := cache.NewStore[[]byte](cache.Options{
		MaxSizeBytes:          cfg.Cache.MaxSizeBytes,
		DefaultTTL:            cfg.Cache.DefaultTTL(),
		EvictionBatchFraction: cfg.Cache.EvictionBatchFraction,
	}, mirrorStore, clock.System(), logger, recorder)

	fileLoader := newFileLoader(resolver)
	scheduler := preload.NewScheduler[[]byte](fileLoader, cfg.Preload.Delays(), logger, agg, recorder)
	tracker := progress.NewTracker(clock.System())

	admission, err := policy.Compile(cfg.Admission.Expression, logger)
	if err != nil {
		logger.Error("admission expression invalid", slog.Any("error", err))
		os.Exit(1)
	}

	orch := orchestrator.New[[]byte](store, scheduler, tracker, admission, orchestrator.Config{
		LoadingTimeout: cfg.Resolve.LoadingTimeout(),
	}, logger, agg, recorder)
	defer orch.Wait()

	if cfg.Content.Watch {
		watcher, err := watch.Content(ctx, cfg.Content.Folder, func(keys []string) {
			task := preload.Task{Priority: preload.PriorityMedium, ResourceKeys: keys}
			if err := orch.Preload(ctx, task); err != nil {
				logger.Warn("content preload failed", slog.Any("error", err))
			}
		}, func(err error) {
			if err != nil {
				logger.Error("content watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("content watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	handler := server.NewAdminHandler(orch, recorder.Handler())
	srv, err := server.New(cfg, logger, handler)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("daemon shutdown complete")
}

// newFileLoader reads assets from disk through the key-to-path resolver.
func newFileLoader(resolver *keypath.Resolver) preload.Loader[[]byte] {
	return func(ctx context.Context, key string) ([]byte, int64, error) {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		path, err := resolver.Resolve(key)
		if err != nil {
			return nil, 0, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, 0, fmt.Errorf("load %s: %w", key, err)
		}
		return data, int64(len(data)), nil
	}
}

func buildMirror(logger *slog.Logger, cfg config.MirrorConfig) mirror.Store {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		if logger != nil {
			logger.Info("using memory mirror")
		}
		return mirror.NewMemory()
	case "redis":
		redisMirror, err := mirror.NewRedis(mirror.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: mirror.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			if logger != nil {
				logger.Error("redis mirror initialization failed", slog.Any("error", err))
				logger.Info("falling back to memory mirror")
			}
			return mirror.NewMemory()
		}
		if logger != nil {
			logger.Info("using redis mirror", slog.String("address", cfg.Redis.Address))
		}
		return redisMirror
	default:
		if logger != nil {
			logger.Warn("unsupported mirror backend, defaulting to memory", slog.String("backend", cfg.Backend))
		}
		return mirror.NewMemory()
	}
}
