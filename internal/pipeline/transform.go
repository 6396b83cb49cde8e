package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nimbuslabs/cityair-etl-service/internal/domain"
	"github.com/nimbuslabs/cityair-etl-service/internal/observability"
)

// RawSource reads stored raw observations for a transform run.
type RawSource interface {
	ListRawSince(ctx context.Context, since time.Time) ([]domain.RawObservation, error)
	ListRawAll(ctx context.Context) ([]domain.RawObservation, error)
}

// MartWriter persists computed facts and dimensions.
type MartWriter interface {
	UpsertDailyFacts(ctx context.Context, facts []domain.DailyFact) (int, error)
	UpsertDimensions(ctx context.Context, dims []domain.EntityDimension) (int, error)
}

// FactPublisher emits computed facts downstream.
type FactPublisher interface {
	PublishFacts(ctx context.Context, facts []domain.DailyFact) error
}

// TransformReport summarizes one transform run.
type TransformReport struct {
	RawRead    int
	Valid      int
	Invalid    int
	Facts      int
	Dimensions int
	Published  int
	Elapsed    time.Duration
}

// Transformer executes the raw-to-marts batch: normalize, reconcile,
// aggregate, classify, trend, and dimension building, then upserts the
// results. Each run reads its raw window and recomputes every derived row
// inside it, so reruns are idempotent.
type Transformer struct {
	source    RawSource
	marts     MartWriter
	publisher FactPublisher // nil disables fact publishing
	rules     domain.Rules
	logger    *slog.Logger
	metrics   *observability.Metrics
	clock     clockwork.Clock
}

// NewTransformer creates a Transformer. Pass a nil publisher to skip the
// facts topic.
func NewTransformer(source RawSource, marts MartWriter, publisher FactPublisher, rules domain.Rules, logger *slog.Logger, metrics *observability.Metrics) *Transformer {
	return &Transformer{
		source:    source,
		marts:     marts,
		publisher: publisher,
		rules:     rules,
		logger:    logger,
		metrics:   metrics,
		clock:     clockwork.NewRealClock(),
	}
}

// SetClock swaps the time source. Pass nil to reset to real time.
func (t *Transformer) SetClock(c clockwork.Clock) {
	if c == nil {
		t.clock = clockwork.NewRealClock()
		return
	}
	t.clock = c
}

// Run executes one batch over the raw rows collected after since; a zero
// since reprocesses the full table. Trend fields look back only within the
// run's window, so the window's first day per city reports a "new" trend.
func (t *Transformer) Run(ctx context.Context, since time.Time) (TransformReport, error) {
	start := t.clock.Now()

	var (
		raws []domain.RawObservation
		err  error
	)
	if since.IsZero() {
		raws, err = t.source.ListRawAll(ctx)
	} else {
		raws, err = t.source.ListRawSince(ctx, since)
	}
	if err != nil {
		return TransformReport{}, fmt.Errorf("read raw observations: %w", err)
	}

	report := TransformReport{RawRead: len(raws)}

	var (
		weather  []domain.WeatherRecord
		air      []domain.AirRecord
		statuses []domain.ObservationStatus
	)
	for _, raw := range raws {
		norm, err := domain.Normalize(raw, t.rules)
		if err != nil {
			report.Invalid++
			t.metrics.ObservationsInvalid.Inc()
			t.logger.Warn("observation rejected", "city", raw.City, "country", raw.Country, "error", err)
			// Invalid rows still count toward the entity's data quality,
			// except rows with no identity to charge them to.
			if norm.Status.Key.City != "" {
				statuses = append(statuses, norm.Status)
			}
			continue
		}
		report.Valid++
		weather = append(weather, norm.Weather)
		air = append(air, norm.Air...)
		statuses = append(statuses, norm.Status)
	}

	reconciled := domain.Reconcile(weather, air, t.rules)
	weatherDaily := domain.BuildWeatherDaily(reconciled)
	airDaily := domain.BuildAirDaily(air)
	facts := domain.ApplyTrends(domain.BuildDailyFacts(weatherDaily, airDaily, t.rules), t.rules)
	dims := domain.BuildDimensions(statuses, t.clock.Now().UTC(), t.rules)

	if len(facts) > 0 {
		n, err := t.marts.UpsertDailyFacts(ctx, facts)
		if err != nil {
			return report, fmt.Errorf("upsert facts: %w", err)
		}
		report.Facts = n
		t.metrics.FactsUpserted.Add(float64(n))
	}

	if len(dims) > 0 {
		n, err := t.marts.UpsertDimensions(ctx, dims)
		if err != nil {
			return report, fmt.Errorf("upsert dimensions: %w", err)
		}
		report.Dimensions = n
		t.metrics.DimensionsUpserted.Add(float64(n))
	}

	if t.publisher != nil && len(facts) > 0 {
		if err := t.publisher.PublishFacts(ctx, facts); err != nil {
			// The marts already hold the facts; the next run republishes.
			t.logger.Error("publish facts failed", "count", len(facts), "error", err)
		} else {
			report.Published = len(facts)
			t.metrics.MessagesProduced.Add(float64(len(facts)))
		}
	}

	report.Elapsed = t.clock.Now().Sub(start)
	t.metrics.TransformDuration.Observe(report.Elapsed.Seconds())

	t.logger.Info("transform finished",
		"raw_read", report.RawRead,
		"valid", report.Valid,
		"invalid", report.Invalid,
		"facts", report.Facts,
		"dimensions", report.Dimensions,
		"published", report.Published,
		"elapsed", report.Elapsed,
	)
	return report, nil
}
