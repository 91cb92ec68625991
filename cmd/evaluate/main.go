// Command evaluate runs the flood-skill evaluation: it compares National Water
// Model simulations against USGS observations at gauged sites, scores each
// site's flood detection and aggregates the scores by county.
//
// Stage results are cached (SQLite by default), so an interrupted or repeated
// run resumes from the last completed stage. Results are served over HTTP and
// optionally published to Kafka.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/flood-skill-eval/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/flood-skill-eval/internal/adapter/kafka"
	"github.com/couchcryptid/flood-skill-eval/internal/adapter/nwis"
	"github.com/couchcryptid/flood-skill-eval/internal/adapter/nwm"
	"github.com/couchcryptid/flood-skill-eval/internal/adapter/svi"
	"github.com/couchcryptid/flood-skill-eval/internal/cache"
	"github.com/couchcryptid/flood-skill-eval/internal/config"
	"github.com/couchcryptid/flood-skill-eval/internal/observability"
	"github.com/couchcryptid/flood-skill-eval/internal/pipeline"
)

func main() {
	config.LoadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	os.Exit(run(cfg))
}

func run(cfg *config.Config) int {
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := cache.Open(ctx, cache.Options{
		Backend:       cfg.CacheBackend,
		Path:          cfg.CachePath,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisPrefix:   cache.DefaultRedisPrefix,
		DatabaseURL:   cfg.CacheDatabaseURL,
		MemoryEntries: cfg.CacheMemoryEntries,
	})
	if err != nil {
		logger.Error("failed to open cache", "backend", cfg.CacheBackend, "error", err)
		return 1
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error("cache close error", "error", err)
		}
	}()
	logger.Info("cache opened", "backend", cfg.CacheBackend, "memory_entries", cfg.CacheMemoryEntries)

	nwisClient := nwis.NewClient(cfg.NWISBaseURL, cfg.NWISPeakURL, cfg.HTTPTimeout, logger)
	sources := pipeline.Sources{
		Simulation:    nwm.NewReader(cfg.NWMDataDir, cfg.NWMConfiguration, logger),
		Sites:         nwisClient,
		Peaks:         nwisClient,
		Observations:  nwisClient,
		Vulnerability: svi.NewClient(cfg.SVIBaseURL, cfg.HTTPTimeout, logger),
	}

	evaluator := pipeline.New(cache.NewMemo(backend, logger, metrics), sources, pipeline.Options{
		Start:             cfg.EvalStart,
		End:               cfg.EvalEnd,
		ReferenceHour:     cfg.ReferenceHour,
		Partitions:        cfg.Partitions,
		SiteChunkSize:     cfg.SiteChunkSize,
		ThresholdQuantile: cfg.ThresholdQuantile,
		SVIScale:          cfg.SVIScale,
		SVIYear:           cfg.SVIYear,
	}, logger, metrics, nil)

	var publisher *kafkaadapter.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaResultsTopic, logger, metrics)
		logger.Info("result publishing enabled", "topic", cfg.KafkaResultsTopic)
	}

	var srv *httpadapter.Server
	if cfg.HTTPAddr != "" {
		srv = httpadapter.NewServer(cfg.HTTPAddr, evaluator, evaluator, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	exitCode := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		ev, err := evaluator.Run(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Error("evaluation failed", "error", err)
				exitCode = 1
			}
			stop()
			return
		}
		if publisher != nil {
			if err := publisher.Publish(ctx, ev); err != nil {
				logger.Error("result publishing failed", "error", err)
				exitCode = 1
			}
		}
		if cfg.ExitOnComplete || srv == nil {
			stop()
		}
	}()

	<-ctx.Done()
	<-done
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}

	logger.Info("shutdown complete", "exit_code", exitCode)
	return exitCode
}
