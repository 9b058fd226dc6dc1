package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"followup-escalator/internal/clock"
	"followup-escalator/internal/config"
	"followup-escalator/internal/scheduler"
	"followup-escalator/internal/telemetry"
	"followup-escalator/internal/wire"
)

func main() {
	cfg := config.Load()
	logger := telemetry.NewLogger(cfg.Env, cfg.LogLevel, os.Stdout)

	if err := run(cfg, logger); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := wire.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	if err := app.Migrate(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	sched := scheduler.New(app.Scanner, scheduler.CronTickerFactory(cfg.ScanSchedule), cfg.ScanOnStart, clock.Real{}, logger)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler %q: %w", cfg.ScanSchedule, err)
	}
	defer sched.Stop()

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           telemetry.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		return metricsServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return ignoreCanceled(app.Processor.Run(gctx))
	})
	g.Go(func() error {
		return ignoreCanceled(app.Janitor.Run(gctx, cfg.JanitorInterval))
	})

	logger.Info("worker started",
		"concurrency", cfg.WorkerConcurrency,
		"schedule", cfg.ScanSchedule,
		"visibility", cfg.VisibilityTimeout,
		"rate_limit", cfg.RateLimitMax,
		"rate_window", cfg.RateLimitWindow,
	)
	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
