// Command refresher keeps the seven-day Mumbai flood forecast dataset fresh.
// It fetches every locality's forecast on a daily schedule, merges the
// results with the previous dataset and publishes the file atomically.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	httpadapter "github.com/couchcryptid/flood-forecast-refresh/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/flood-forecast-refresh/internal/adapter/kafka"
	"github.com/couchcryptid/flood-forecast-refresh/internal/adapter/localitystore"
	"github.com/couchcryptid/flood-forecast-refresh/internal/adapter/openmeteo"
	"github.com/couchcryptid/flood-forecast-refresh/internal/config"
	"github.com/couchcryptid/flood-forecast-refresh/internal/dataset"
	"github.com/couchcryptid/flood-forecast-refresh/internal/domain"
	"github.com/couchcryptid/flood-forecast-refresh/internal/observability"
	"github.com/couchcryptid/flood-forecast-refresh/internal/pipeline"
	"github.com/couchcryptid/flood-forecast-refresh/internal/runlog"
	"github.com/couchcryptid/flood-forecast-refresh/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, "flood-refresher")
	metrics := observability.NewRefreshMetrics()
	clock := clockwork.NewRealClock()
	loc := cfg.Refresh.Location()

	schedule, err := cfg.Refresh.Schedule()
	if err != nil {
		logger.Error("invalid schedule", "error", err)
		os.Exit(1)
	}

	var source domain.ForecastSource = openmeteo.NewClient(cfg.Forecast, cfg.Refresh.Timezone, logger,
		openmeteo.WithMetrics(metrics), openmeteo.WithClock(clock))
	if cfg.Forecast.CacheSize > 0 {
		source = openmeteo.NewCachedSource(source, cfg.Forecast.CacheSize, clock, loc, metrics)
		logger.Info("forecast cache enabled", "cache_size", cfg.Forecast.CacheSize)
	}

	localities := localitystore.New(cfg.Refresh.LocalitiesPath)
	publisher := dataset.NewPublisher(cfg.Refresh.DatasetPath, cfg.Refresh.BackupDir,
		cfg.Refresh.PublishRenameRetries, clock, logger)
	logger.Info("refresher configured",
		"localities", localities.Path(),
		"dataset", publisher.Path(),
		"timezone", loc.String(),
		"concurrency", cfg.Refresh.FetchConcurrency,
	)
	refresher := pipeline.New(localities, source, publisher, cfg.Refresh.FetchConcurrency, clock, logger, metrics)

	var (
		sinks   []scheduler.OutcomeSink
		history httpadapter.RunHistory
	)
	if cfg.Refresh.RunLogPath != "" {
		runs, err := runlog.Open(cfg.Refresh.RunLogPath)
		if err != nil {
			logger.Error("failed to open run log", "path", cfg.Refresh.RunLogPath, "error", err)
			os.Exit(1)
		}
		defer runs.Close()
		sinks = append(sinks, runs)
		history = runs
		logger.Info("run log enabled", "path", cfg.Refresh.RunLogPath)
	}
	var writer *kafkaadapter.Writer
	if cfg.Kafka.Enabled() {
		writer = kafkaadapter.NewWriter(cfg.Kafka, logger)
		sinks = append(sinks, writer)
		logger.Info("kafka outcome publishing enabled", "topic", cfg.Kafka.RunsTopic)
	}

	sched := scheduler.New(refresher, scheduler.Options{
		Schedule:   schedule,
		Location:   loc,
		RunOnStart: cfg.Refresh.RunOnStart,
	}, clock, logger, metrics, sinks...)

	srv := httpadapter.NewServer(cfg.HTTPAddr, sched, logger,
		httpadapter.NewRefresherHandler(sched, history, logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sched.Run(ctx); err != nil {
			logger.Error("scheduler error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	waited := make(chan struct{})
	go func() {
		<-done
		sched.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-shutdownCtx.Done():
		logger.Warn("refresh run did not finish before shutdown timeout")
	}

	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
