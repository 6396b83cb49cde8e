package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbuslabs/cityair-etl-service/internal/domain"
	"github.com/nimbuslabs/cityair-etl-service/internal/observability"
	"github.com/nimbuslabs/cityair-etl-service/internal/pipeline"
)

// --- mocks ---

type mockBatchExtractor struct {
	failFirst bool
	batches   [][]domain.RawMessage
	calls     atomic.Int64
}

func (m *mockBatchExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawMessage, error) {
	call := int(m.calls.Add(1))
	if m.failFirst && call == 1 {
		return nil, errors.New("broker unreachable")
	}
	next := call - 1
	if m.failFirst {
		next--
	}
	if next >= len(m.batches) {
		// out of data; wait for shutdown like a real consumer would
		<-ctx.Done()
		return nil, nil
	}
	return m.batches[next], nil
}

type mockRawStore struct {
	mu           sync.Mutex
	stored       []domain.RawObservation
	failuresLeft int
	calls        int
}

func (m *mockRawStore) UpsertRawObservations(_ context.Context, obs []domain.RawObservation) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failuresLeft > 0 {
		m.failuresLeft--
		return 0, errors.New("connection reset")
	}
	m.stored = append(m.stored, obs...)
	return len(obs), nil
}

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- tests ---

func TestIngestor_Run_HappyPath(t *testing.T) {
	ext := &mockBatchExtractor{batches: [][]domain.RawMessage{{
		makeRawMessage(t, "Chicago", "US"),
		makeRawMessage(t, "Paris", "FR"),
	}}}
	store := &mockRawStore{}

	p := pipeline.NewIngestor(ext, store, discardLogger(), newTestMetrics(), 50)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	require.NoError(t, err)
	require.Len(t, store.stored, 2)
	assert.Equal(t, "Chicago", store.stored[0].City)
	assert.Equal(t, "US", store.stored[0].Country)
	assert.Equal(t, "Paris", store.stored[1].City)
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestIngestor_Run_ContextCancellation(t *testing.T) {
	ext := &mockBatchExtractor{}
	store := &mockRawStore{}

	p := pipeline.NewIngestor(ext, store, discardLogger(), newTestMetrics(), 50)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	err := p.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, store.stored)
}

func TestIngestor_Run_SkipsMalformedEnvelope(t *testing.T) {
	var badCommits atomic.Int64
	bad := domain.RawMessage{
		Value:  []byte("not json"),
		Topic:  "raw-observations",
		Commit: func(_ context.Context) error { badCommits.Add(1); return nil },
	}

	ext := &mockBatchExtractor{batches: [][]domain.RawMessage{{
		bad,
		makeRawMessage(t, "Chicago", "US"),
	}}}
	store := &mockRawStore{}

	p := pipeline.NewIngestor(ext, store, discardLogger(), newTestMetrics(), 50)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	require.NoError(t, err)
	require.Len(t, store.stored, 1)
	assert.Equal(t, "Chicago", store.stored[0].City)
	assert.Equal(t, int64(1), badCommits.Load(), "malformed messages must still commit")
}

func TestIngestor_Run_CommitsAfterStore(t *testing.T) {
	var commits atomic.Int64
	msg := makeRawMessage(t, "Chicago", "US")
	msg.Commit = func(_ context.Context) error { commits.Add(1); return nil }

	ext := &mockBatchExtractor{batches: [][]domain.RawMessage{{msg}}}
	store := &mockRawStore{}

	p := pipeline.NewIngestor(ext, store, discardLogger(), newTestMetrics(), 50)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), commits.Load())
	assert.Len(t, store.stored, 1)
}

func TestIngestor_Run_NoCommitWhenStoreFails(t *testing.T) {
	var commits atomic.Int64
	msg := makeRawMessage(t, "Chicago", "US")
	msg.Commit = func(_ context.Context) error { commits.Add(1); return nil }

	ext := &mockBatchExtractor{batches: [][]domain.RawMessage{{msg}}}
	store := &mockRawStore{failuresLeft: 1}

	p := pipeline.NewIngestor(ext, store, discardLogger(), newTestMetrics(), 50)

	ctx, cancel := context.WithTimeout(context.Background(), 600*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, commits.Load(), "offsets must not commit before the store accepts the batch")
	assert.Empty(t, store.stored)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestIngestor_Run_RetriesAfterStoreFailure(t *testing.T) {
	// The same message arrives twice, standing in for the redelivery a real
	// consumer sees after offsets go uncommitted.
	var commits atomic.Int64
	msg := makeRawMessage(t, "Chicago", "US")
	msg.Commit = func(_ context.Context) error { commits.Add(1); return nil }

	ext := &mockBatchExtractor{batches: [][]domain.RawMessage{{msg}, {msg}}}
	store := &mockRawStore{failuresLeft: 1}

	p := pipeline.NewIngestor(ext, store, discardLogger(), newTestMetrics(), 50)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), commits.Load())
	assert.Len(t, store.stored, 1)
	assert.Equal(t, 2, store.calls)
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestIngestor_Run_ExtractFailureRecovers(t *testing.T) {
	ext := &mockBatchExtractor{
		failFirst: true,
		batches:   [][]domain.RawMessage{{makeRawMessage(t, "Chicago", "US")}},
	}
	store := &mockRawStore{}

	p := pipeline.NewIngestor(ext, store, discardLogger(), newTestMetrics(), 50)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := p.Run(ctx)
	require.NoError(t, err)
	assert.Len(t, store.stored, 1)
}

func TestIngestor_CheckReadiness_NotReadyBeforeFirstStore(t *testing.T) {
	p := pipeline.NewIngestor(&mockBatchExtractor{}, &mockRawStore{}, discardLogger(), newTestMetrics(), 50)

	err := p.CheckReadiness(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not stored any messages")
}

// --- helpers ---

func makeRawMessage(t *testing.T, city, country string) domain.RawMessage {
	t.Helper()
	value, err := json.Marshal(domain.RawEnvelope{
		City:            city,
		Country:         country,
		ObservationTime: time.Date(2026, time.August, 20, 14, 0, 0, 0, time.UTC),
		Weather:         json.RawMessage(`{"main":{"temp":21.5,"humidity":60}}`),
	})
	require.NoError(t, err)
	return domain.RawMessage{
		Key:       []byte(city),
		Value:     value,
		Topic:     "raw-observations",
		Timestamp: time.Date(2026, time.August, 20, 14, 1, 0, 0, time.UTC),
	}
}
