package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trafficgeo/accident-etl/internal/adapter/gdb"
	httpadapter "github.com/trafficgeo/accident-etl/internal/adapter/http"
	kafkaadapter "github.com/trafficgeo/accident-etl/internal/adapter/kafka"
	"github.com/trafficgeo/accident-etl/internal/cache"
	"github.com/trafficgeo/accident-etl/internal/config"
	"github.com/trafficgeo/accident-etl/internal/correlate"
	"github.com/trafficgeo/accident-etl/internal/domain"
	"github.com/trafficgeo/accident-etl/internal/geofilter"
	"github.com/trafficgeo/accident-etl/internal/observability"
	"github.com/trafficgeo/accident-etl/internal/pipeline"
	"github.com/trafficgeo/accident-etl/internal/strategy"
)

func main() {
	configPath := flag.String("config", envOr("CONFIG_PATH", "config.json"), "path to the pipeline definition file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	registry := strategy.NewDefaultRegistry(logger)
	if err := registry.Validate(cfg); err != nil {
		logger.Error("pipeline definition references unknown strategies", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	region, err := geofilter.LoadRegion(ctx, cfg)
	if err != nil {
		logger.Error("region polygon could not be resolved", "error", err)
		os.Exit(1)
	}

	cacheStore, err := cache.New(cfg.CacheDir, logger)
	if err != nil {
		logger.Error("cache directory unavailable", "error", err)
		os.Exit(1)
	}

	loaders, err := buildLoaders(cfg, registry)
	if err != nil {
		logger.Error("loader construction failed", "error", err)
		os.Exit(1)
	}
	defer closeLoaders(loaders, logger)

	var notifier domain.ChangeNotifier
	if cfg.KafkaEnabled {
		n := kafkaadapter.NewNotifier(cfg, logger)
		defer func() {
			if err := n.Close(); err != nil {
				logger.Error("kafka notifier close error", "error", err)
			}
		}()
		notifier = n
		logger.Info("table change notifications enabled", "topic", cfg.KafkaTopic)
	} else {
		logger.Info("table change notifications disabled")
	}

	if cfg.Correlate.Enabled {
		if err := wireCorrelation(cfg, loaders, notifier, logger, metrics); err != nil {
			logger.Error("correlation engine could not be wired", "error", err)
			os.Exit(1)
		}
	}

	orch := pipeline.New(cfg, registry, cacheStore, region, loaders, notifier, logger, metrics)
	srv := httpadapter.NewServer(cfg.HTTPAddr, orch, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		if err := orch.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}

func buildLoaders(cfg *config.Config, registry *strategy.Registry) (map[string]domain.Loader, error) {
	loaders := make(map[string]domain.Loader, len(cfg.Loaders))
	for name, lc := range cfg.Loaders {
		factory, err := registry.Loader(lc.Backend)
		if err != nil {
			return nil, err
		}
		l, err := factory(cfg, name, lc)
		if err != nil {
			return nil, err
		}
		loaders[name] = l
	}
	return loaders, nil
}

func closeLoaders(loaders map[string]domain.Loader, logger *slog.Logger) {
	for name, l := range loaders {
		if c, ok := l.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				logger.Error("loader close error", "loader", name, "error", err)
			}
		}
	}
}

// wireCorrelation hooks the correlation engine onto the geodatabase the
// pipeline loads into. The terminal edit of each batch run triggers one
// recomputation, and the resulting statistics are written back through the
// same store.
func wireCorrelation(
	cfg *config.Config,
	loaders map[string]domain.Loader,
	notifier domain.ChangeNotifier,
	logger *slog.Logger,
	metrics *observability.Metrics,
) error {
	store, ok := loaders[cfg.Correlate.Loader].(*gdb.Store)
	if !ok {
		return errors.New("correlate loader must be a gdb backend")
	}

	engine := correlate.New(correlate.NewStoreSource(store, cfg.Correlate, logger), cfg.Correlate, logger)
	store.RegisterEditHook("", func(ctx context.Context, edit gdb.FeatureEdit) {
		start := time.Now()
		instr, ok, err := engine.HandleEdit(ctx, edit.Terminal)
		if err != nil {
			logger.Error("camera statistics recomputation failed", "error", err)
			return
		}
		if !ok {
			return
		}
		if err := store.ApplyEdits(ctx, instr); err != nil {
			logger.Error("camera statistics write-back failed", "error", err)
			return
		}
		metrics.CorrelationDuration.Observe(time.Since(start).Seconds())

		if notifier != nil {
			change := domain.TableChange{
				Table:      instr.Table,
				Updated:    len(instr.Updates),
				OccurredAt: domain.Now().UTC(),
			}
			if err := notifier.NotifyTableChanged(ctx, change); err != nil {
				logger.Warn("change notification failed", "table", instr.Table, "error", err)
			}
		}
	})
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
