package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/nimbuslabs/cityair-etl-service/internal/adapter/openweather"
	"github.com/nimbuslabs/cityair-etl-service/internal/domain"
)

// WeatherClient fetches the current weather snapshot for a city.
type WeatherClient interface {
	FetchCurrent(ctx context.Context, city, country string) (openweather.CurrentWeather, error)
}

// AirClient fetches the current air-quality snapshot near coordinates.
type AirClient interface {
	FetchCurrent(ctx context.Context, lat, lon float64) ([]byte, error)
}

// FetchSummary reports the outcome of one acquisition pass.
type FetchSummary struct {
	Cities      int
	Stored      int
	WeatherOnly int
	Failed      int
	Elapsed     time.Duration
}

// Fetcher runs one acquisition pass over the configured cities and writes
// the collected snapshots to the raw store. Cities fan out concurrently up
// to the configured limit; one city's failure never aborts the pass.
type Fetcher struct {
	weather     WeatherClient
	air         AirClient // nil disables air-quality acquisition
	store       RawStore
	logger      *slog.Logger
	concurrency int
	clock       clockwork.Clock
}

// NewFetcher creates a Fetcher. Pass a nil air client to collect
// weather-only snapshots.
func NewFetcher(weather WeatherClient, air AirClient, store RawStore, logger *slog.Logger, concurrency int) *Fetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Fetcher{
		weather:     weather,
		air:         air,
		store:       store,
		logger:      logger,
		concurrency: concurrency,
		clock:       clockwork.NewRealClock(),
	}
}

// SetClock swaps the time source. Pass nil to reset to real time.
func (f *Fetcher) SetClock(c clockwork.Clock) {
	if c == nil {
		f.clock = clockwork.NewRealClock()
		return
	}
	f.clock = c
}

// Run fetches every city once and upserts the results as a single batch.
func (f *Fetcher) Run(ctx context.Context, cities []domain.EntityKey) (FetchSummary, error) {
	start := f.clock.Now()
	f.logger.Info("fetch started", "cities", len(cities), "concurrency", f.concurrency)

	results := make([]*domain.RawObservation, len(cities))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, city := range cities {
		i, city := i, city // per-iteration copies; required under go 1.21 loop semantics
		g.Go(func() error {
			obs, err := f.fetchCity(gctx, city)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				f.logger.Warn("city fetch failed", "city", city.String(), "error", err)
				return nil
			}
			results[i] = obs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return FetchSummary{}, err
	}

	summary := FetchSummary{Cities: len(cities)}
	batch := make([]domain.RawObservation, 0, len(cities))
	for _, obs := range results {
		if obs == nil {
			summary.Failed++
			continue
		}
		if len(obs.AirPayload) == 0 {
			summary.WeatherOnly++
		}
		batch = append(batch, *obs)
	}

	if len(batch) > 0 {
		stored, err := f.store.UpsertRawObservations(ctx, batch)
		if err != nil {
			return summary, fmt.Errorf("store observations: %w", err)
		}
		summary.Stored = stored
	}

	summary.Elapsed = f.clock.Now().Sub(start)
	f.logger.Info("fetch finished",
		"stored", summary.Stored,
		"weather_only", summary.WeatherOnly,
		"failed", summary.Failed,
		"elapsed", summary.Elapsed,
	)
	return summary, nil
}

// fetchCity collects one city's snapshot. A failed air call degrades the
// snapshot to weather-only.
func (f *Fetcher) fetchCity(ctx context.Context, key domain.EntityKey) (*domain.RawObservation, error) {
	current, err := f.weather.FetchCurrent(ctx, key.City, key.Country)
	if err != nil {
		return nil, err
	}

	obs := &domain.RawObservation{
		City:            key.City,
		Country:         key.Country,
		Latitude:        current.Latitude,
		Longitude:       current.Longitude,
		ObservationTime: current.ObservedAt,
		WeatherPayload:  current.Body,
		CollectedAt:     f.clock.Now().UTC(),
	}
	if obs.ObservationTime.IsZero() {
		obs.ObservationTime = obs.CollectedAt
	}

	if f.air == nil || current.Latitude == nil || current.Longitude == nil {
		return obs, nil
	}

	air, err := f.air.FetchCurrent(ctx, *current.Latitude, *current.Longitude)
	if err != nil {
		f.logger.Warn("air fetch failed, keeping weather only", "city", key.String(), "error", err)
		return obs, nil
	}
	obs.AirPayload = air
	return obs, nil
}
