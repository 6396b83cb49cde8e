package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpadapter "github.com/nimbuslabs/cityair-etl-service/internal/adapter/http"
	"github.com/nimbuslabs/cityair-etl-service/internal/adapter/postgres"
	"github.com/nimbuslabs/cityair-etl-service/internal/config"
	"github.com/nimbuslabs/cityair-etl-service/internal/domain"
	"github.com/nimbuslabs/cityair-etl-service/internal/observability"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cityair",
		Short:         "City weather and air quality ETL service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newFetchCmd(),
		newIngestCmd(),
		newTransformCmd(),
		newServeCmd(),
		newValidateCmd(),
	)
	return root
}

// app bundles the pieces every run mode starts from.
type app struct {
	cfg     *config.Config
	rules   domain.Rules
	logger  *slog.Logger
	metrics *observability.Metrics
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	rules, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:     cfg,
		rules:   rules,
		logger:  observability.NewLogger(cfg.LogLevel, cfg.LogFormat),
		metrics: observability.NewMetrics(),
	}, nil
}

// openStore connects to Postgres and ensures the schemas exist.
func (a *app) openStore(ctx context.Context) (*postgres.Store, error) {
	store, err := postgres.Open(ctx, a.cfg.DatabaseURL, a.logger)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// runUntilSignal starts the HTTP server plus an optional background loop,
// waits for SIGINT/SIGTERM, then drains the server within the shutdown
// timeout.
func (a *app) runUntilSignal(ctx context.Context, srv *httpadapter.Server, run func(ctx context.Context)) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", "error", err)
		}
	}()

	if run != nil {
		go run(ctx)
	}

	<-ctx.Done()
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", "error", err)
	}
}

func formatElapsed(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
