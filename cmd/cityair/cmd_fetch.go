package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nimbuslabs/cityair-etl-service/internal/adapter/airnow"
	"github.com/nimbuslabs/cityair-etl-service/internal/adapter/openweather"
	"github.com/nimbuslabs/cityair-etl-service/internal/domain"
	"github.com/nimbuslabs/cityair-etl-service/internal/pipeline"
)

func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Run one acquisition pass over the configured cities",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.cfg.RequireFetch(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					a.logger.Error("store close error", "error", err)
				}
			}()

			weather := openweather.NewClient(
				a.cfg.OpenWeatherAPIKey, a.cfg.OpenWeatherBaseURL, a.cfg.ProviderTimeout, a.logger, a.metrics)

			var air pipeline.AirClient
			if a.cfg.AirNowAPIKey != "" {
				air = airnow.NewClient(
					a.cfg.AirNowAPIKey, a.cfg.AirNowBaseURL, a.cfg.AirNowRadiusMiles, a.cfg.ProviderTimeout, a.logger, a.metrics)
			} else {
				a.logger.Info("airnow disabled, collecting weather only")
			}

			cities := make([]domain.EntityKey, 0, len(a.cfg.FetchCities))
			for _, c := range a.cfg.FetchCities {
				cities = append(cities, c.Key())
			}

			fetcher := pipeline.NewFetcher(weather, air, store, a.logger, a.cfg.FetchConcurrency)
			summary, err := fetcher.Run(ctx, cities)
			if err != nil {
				return err
			}

			fmt.Printf("fetched %d/%d cities (%d weather-only, %d failed) in %s\n",
				summary.Stored, summary.Cities, summary.WeatherOnly, summary.Failed, formatElapsed(summary.Elapsed))
			return nil
		},
	}
}
