// Command monitor polls the flood Prediction Service and serves its health
// verdict and history over HTTP.
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
	"github.com/couchcryptid/flood-forecast-refresh/internal/config"
	"github.com/couchcryptid/flood-forecast-refresh/internal/monitor"
	"github.com/couchcryptid/flood-forecast-refresh/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, "flood-health-monitor")
	metrics := observability.NewMonitorMetrics()

	mon := monitor.New(cfg.Monitor, cfg.Refresh.Location(), clockwork.NewRealClock(), logger, metrics)
	srv := httpadapter.NewServer(cfg.Monitor.HTTPAddr, nil, logger,
		httpadapter.NewMonitorHandler(mon, cfg.Monitor.ExportDir, logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		if err := mon.Run(ctx); err != nil {
			logger.Error("monitor error", "error", err)
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
