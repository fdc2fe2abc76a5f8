package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/risk-signal-service/internal/app"
	"github.com/kjstillabower/risk-signal-service/internal/cache"
	"github.com/kjstillabower/risk-signal-service/internal/config"
	"github.com/kjstillabower/risk-signal-service/internal/lifecycle"
	"github.com/kjstillabower/risk-signal-service/internal/observability"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	lifecycle.SetPhase(lifecycle.PhaseStarting)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("assemble service", zap.Error(err))
	}

	observability.RegisterWindowGauges(cfg.OverloadWindow)
	names := make([]string, 0, len(cfg.TrackedPoints))
	for _, p := range cfg.TrackedPoints {
		names = append(names, p.Name)
	}
	observability.SetTrackedPlaces(names)

	ln, err := net.Listen("tcp", ":"+cfg.ServerPort)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}
	if err := serve(ctx, ln, a, logger); err != nil {
		logger.Fatal("server", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// serve answers on ln while loading history and warming the lunar cache, marks
// the process ready, and on ctx cancellation drains requests and closes a.
func serve(ctx context.Context, ln net.Listener, a *app.App, logger *zap.Logger) error {
	cfg := a.Config
	srv := &http.Server{
		Handler:      a.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// /health answers "starting" until history is loaded.
	report, err := a.LoadHistory(ctx)
	if err != nil {
		logger.Warn("historical data not loaded", zap.Error(err))
	} else {
		logger.Info("historical data loaded",
			zap.Int("sources", len(report.Sources)),
			zap.Int("failed", len(report.Failed())),
			zap.Int("records", report.Records))
	}

	points := a.TrackedPoints()
	if len(points) > 0 {
		warmer := cache.NewCacheWarmer(a.Moon, nil, logger)
		warmCtx, warmCancel := context.WithTimeout(ctx, 30*time.Second)
		if err := warmer.Warm(warmCtx, points); err != nil {
			logger.Warn("lunar cache warming failed", zap.Error(err))
		}
		warmCancel()
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(ctx, points, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("periodic lunar cache warming stopped", zap.Error(err))
				}
			}()
		}
	}

	if cfg.ReadyDelay > 0 {
		select {
		case <-time.After(cfg.ReadyDelay):
		case <-ctx.Done():
		}
	}
	if ctx.Err() == nil {
		lifecycle.SetPhase(lifecycle.PhaseReady)
		logger.Info("service ready")
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("graceful shutdown triggered")
	case runErr = <-serveErr:
		logger.Error("server stopped", zap.Error(runErr))
	}

	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", a.InFlight.Count()))
	if err := a.InFlight.Drain(shutdownCtx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", a.InFlight.Count()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	if err := a.Close(); err != nil {
		logger.Error("close caches and stores", zap.Error(err))
	}
	return runErr
}
