package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nimbuslabs/cityair-etl-service/internal/domain"
	"github.com/nimbuslabs/cityair-etl-service/internal/observability"
)

// BatchExtractor reads up to batchSize raw messages from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawMessage, error)
}

// RawStore persists collector snapshots into the raw table.
type RawStore interface {
	UpsertRawObservations(ctx context.Context, obs []domain.RawObservation) (int, error)
}

// Ingestor orchestrates the Kafka-to-raw-store loop: extract a micro-batch,
// parse each envelope, upsert the parsed observations, commit offsets.
type Ingestor struct {
	extractor BatchExtractor
	store     RawStore
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
	batchSize int
}

// NewIngestor creates an Ingestor with the given stages and observability.
func NewIngestor(e BatchExtractor, store RawStore, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Ingestor {
	return &Ingestor{
		extractor: e,
		store:     store,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// CheckReadiness returns nil if the ingestor has stored at least one message,
// or an error describing why the service is not yet ready.
func (p *Ingestor) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("ingestor has not stored any messages yet")
	}
	return nil
}

// Run executes the ingest loop until the context is cancelled.
func (p *Ingestor) Run(ctx context.Context) error {
	p.logger.Info("ingest started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	// Keeps retry storms short while avoiding tight loops during Kafka or
	// database outages.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("ingest stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processBatch runs one extract-parse-store cycle. Returns false if the loop should stop.
func (p *Ingestor) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	start := time.Now()

	rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.MessagesConsumed.Add(float64(len(rawBatch)))
	p.metrics.BatchSize.Observe(float64(len(rawBatch)))
	*backoff = 200 * time.Millisecond

	stored, ok := p.parseAndStore(ctx, rawBatch, backoff, maxBackoff)
	if !ok {
		return false
	}

	if stored > 0 {
		p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
		p.ready.Store(true)
	}
	return true
}

// parseAndStore parses each message in the batch, upserts the successes, and
// commits offsets. Malformed envelopes commit immediately; offsets for parsed
// messages commit only after the store accepted the batch. Returns the number
// of stored observations and false if the loop should stop.
func (p *Ingestor) parseAndStore(ctx context.Context, rawBatch []domain.RawMessage, backoff *time.Duration, maxBackoff time.Duration) (int, bool) {
	obsBatch := make([]domain.RawObservation, 0, len(rawBatch))
	parsedMsgs := make([]domain.RawMessage, 0, len(rawBatch))

	for _, msg := range rawBatch {
		obs, err := domain.ParseRawMessage(msg)
		if err != nil {
			p.logger.Warn("parse failed, skipping message",
				"error", err,
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
			p.metrics.TransformErrors.Inc()
			p.commitOffset(ctx, msg)
			continue
		}
		obsBatch = append(obsBatch, obs)
		parsedMsgs = append(parsedMsgs, msg)
	}

	if len(obsBatch) == 0 {
		return 0, true
	}

	if _, err := p.store.UpsertRawObservations(ctx, obsBatch); err != nil {
		p.logger.Error("store batch failed", "error", err, "batch_size", len(obsBatch))
		return 0, p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	for _, msg := range parsedMsgs {
		p.commitOffset(ctx, msg)
	}

	return len(obsBatch), true
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the loop should stop.
func (p *Ingestor) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Ingestor) commitOffset(ctx context.Context, msg domain.RawMessage) {
	if msg.Commit == nil {
		return
	}
	if err := msg.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
