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

	"followup-escalator/internal/api"
	"followup-escalator/internal/config"
	"followup-escalator/internal/telemetry"
	"followup-escalator/internal/wire"
)

func main() {
	cfg := config.Load()
	logger := telemetry.NewLogger(cfg.Env, cfg.LogLevel, os.Stdout)

	if err := run(cfg, logger); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := wire.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	server := api.New(api.Deps{
		Ledger:      app.Ledger,
		Queue:       app.Queue,
		DeadLetters: app.Producer,
		Scanner:     app.Scanner,
		Checks: map[string]api.Pinger{
			"redis":  app.Queue,
			"ledger": app.Ledger,
		},
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:         logger,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("api listening", "port", cfg.HTTPPort)
	listenErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	return httpServer.Shutdown(shutdownCtx)
}
