//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/nimbuslabs/cityair-etl-service/internal/adapter/kafka"
	"github.com/nimbuslabs/cityair-etl-service/internal/config"
	"github.com/nimbuslabs/cityair-etl-service/internal/domain"
	"github.com/nimbuslabs/cityair-etl-service/internal/observability"
	"github.com/nimbuslabs/cityair-etl-service/internal/pipeline"
)

const (
	testRawTopic   = "test-raw-observations"
	testFactsTopic = "test-daily-facts"
)

var testObservedAt = time.Date(2026, time.August, 20, 14, 0, 0, 0, time.UTC)

// startKafka launches a single-node KRaft broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("cityair-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err, "resolve kafka brokers")
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err, "dial broker")
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err, "resolve controller")

	ctrlConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err, "dial controller")
	defer ctrlConn.Close()

	require.NoError(t, ctrlConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(broker, group string) *config.Config {
	return &config.Config{
		KafkaBrokers:       []string{broker},
		KafkaRawTopic:      testRawTopic,
		KafkaFactsTopic:    testFactsTopic,
		KafkaGroupID:       fmt.Sprintf("%s-%d", group, time.Now().UnixNano()),
		BatchFlushInterval: 5 * time.Second,
	}
}

func rawEnvelopeJSON(t *testing.T, city, country string, observedAt time.Time, tempC, aqi float64) []byte {
	t.Helper()

	weather := fmt.Sprintf(`{"coord":{"lat":41.88,"lon":-87.63},"main":{"temp":%g,"humidity":60,"pressure":1015},"wind":{"speed":4.2},"weather":[{"main":"Clear","description":"clear sky"}]}`, tempC)
	air := fmt.Sprintf(`{"observations":[{"ParameterName":"PM2.5","AQI":%g,"Latitude":41.88,"Longitude":-87.63,"ReportingArea":"Metro","StateCode":"IL"}]}`, aqi)

	data, err := json.Marshal(domain.RawEnvelope{
		City:            city,
		Country:         country,
		ObservationTime: observedAt,
		Weather:         json.RawMessage(weather),
		AirQuality:      json.RawMessage(air),
	})
	require.NoError(t, err)
	return data
}

func publishRaw(ctx context.Context, t *testing.T, broker string, msgs ...kafkago.Message) {
	t.Helper()

	producer := &kafkago.Writer{
		Addr:  kafkago.TCP(broker),
		Topic: testRawTopic,
	}
	defer func() { _ = producer.Close() }()

	require.NoError(t, producer.WriteMessages(ctx, msgs...))
}

// factMessage holds a deserialized message read from the facts topic.
type factMessage struct {
	Fact    domain.DailyFact
	Key     string
	Headers map[string]string
}

// readFact reads a single message from the facts consumer and deserializes it.
func readFact(ctx context.Context, t *testing.T, consumer *kafkago.Reader) factMessage {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from facts topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var fact domain.DailyFact
	require.NoError(t, json.Unmarshal(msg.Value, &fact), "unmarshal fact message")

	return factMessage{Fact: fact, Key: string(msg.Key), Headers: headers}
}

// memStore is an in-memory pipeline.RawStore; these tests spin up Kafka but
// not Postgres.
type memStore struct {
	mu   sync.Mutex
	rows []domain.RawObservation
}

func (s *memStore) UpsertRawObservations(_ context.Context, obs []domain.RawObservation) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, obs...)
	return len(obs), nil
}

func (s *memStore) snapshot() []domain.RawObservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RawObservation(nil), s.rows...)
}

// TestKafkaReaderWriter verifies the adapter layer: kafka.Reader correctly
// extracts a raw envelope and kafka.Writer round-trips a daily fact through
// the facts topic.
func TestKafkaReaderWriter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)

	createTopic(t, broker, testRawTopic)
	createTopic(t, broker, testFactsTopic)

	cfg := testConfig(broker, "test-reader")

	envelope := rawEnvelopeJSON(t, "Chicago", "US", testObservedAt, 21.5, 42)
	publishRaw(ctx, t, broker, kafkago.Message{
		Key:   []byte("Chicago,US"),
		Value: envelope,
		Time:  testObservedAt.Add(time.Minute),
	})

	// Extract via kafka.Reader.
	// Retry because the consumer group may need time to rebalance before
	// partitions are assigned and messages become available.
	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	var batch []domain.RawMessage
	for {
		var err error
		batch, err = reader.ExtractBatch(ctx, 1)
		require.NoError(t, err)
		if len(batch) > 0 {
			break
		}
		if ctx.Err() != nil {
			t.Fatal("timed out waiting for message from raw topic")
		}
	}
	require.Len(t, batch, 1)
	raw := batch[0]
	assert.Equal(t, []byte("Chicago,US"), raw.Key)
	assert.Equal(t, envelope, raw.Value)
	assert.Equal(t, testRawTopic, raw.Topic)
	require.NotNil(t, raw.Commit, "commit callback should be set")

	require.NoError(t, raw.Commit(ctx))

	// Run the observation through the actual transformation chain.
	obs, err := domain.ParseRawMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, "Chicago", obs.City)
	assert.True(t, obs.ObservationTime.Equal(testObservedAt))

	rules := domain.DefaultRules()
	norm, err := domain.Normalize(obs, rules)
	require.NoError(t, err)

	reconciled := domain.Reconcile([]domain.WeatherRecord{norm.Weather}, norm.Air, rules)
	facts := domain.ApplyTrends(
		domain.BuildDailyFacts(domain.BuildWeatherDaily(reconciled), domain.BuildAirDaily(norm.Air), rules),
		rules,
	)
	require.Len(t, facts, 1)

	// Load via kafka.Writer.
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	require.NoError(t, writer.PublishFacts(ctx, facts))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testFactsTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	fm := readFact(ctx, t, consumer)
	assert.Equal(t, "Chicago,US", fm.Key)
	assert.Equal(t, "2026-08-20", fm.Headers["fact_date"])
	require.Contains(t, fm.Headers, "computed_at")
	_, err = time.Parse(time.RFC3339, fm.Headers["computed_at"])
	assert.NoError(t, err, "computed_at should be valid RFC3339")

	assert.Equal(t, "Chicago", fm.Fact.City)
	assert.Equal(t, "US", fm.Fact.Country)
	assert.Regexp(t, `^fact-[0-9a-f]{16}$`, fm.Fact.FactKey)
	require.NotNil(t, fm.Fact.TempAvgC)
	assert.Equal(t, 21.5, *fm.Fact.TempAvgC)
	require.NotNil(t, fm.Fact.OverallAQI)
	assert.Equal(t, 42.0, *fm.Fact.OverallAQI)
	assert.Equal(t, "Good", fm.Fact.AQICategory)
	assert.Equal(t, "PM2.5", fm.Fact.PrimaryPollutant)
}

// TestIngestEndToEnd wires the ingest loop (Reader → Ingestor → store) with
// real Kafka and verifies every published envelope lands in the raw store.
func TestIngestEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testRawTopic)

	cfg := testConfig(broker, "test-ingest")

	cities := []struct {
		city, country string
	}{
		{"Chicago", "US"},
		{"Paris", "FR"},
		{"Oslo", "NO"},
	}
	msgs := make([]kafkago.Message, 0, len(cities)*2)
	for i, c := range cities {
		for j := 0; j < 2; j++ {
			observedAt := testObservedAt.Add(time.Duration(j) * time.Hour)
			msgs = append(msgs, kafkago.Message{
				Key:   []byte(c.city + "," + c.country),
				Value: rawEnvelopeJSON(t, c.city, c.country, observedAt, 15+float64(i), 30+float64(j)),
				Time:  observedAt.Add(time.Minute),
			})
		}
	}
	publishRaw(ctx, t, broker, msgs...)

	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	store := &memStore{}
	ingestor := pipeline.NewIngestor(reader, store, discardLogger(), observability.NewMetricsForTesting(), 10)

	ingestCtx, stopIngest := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- ingestor.Run(ingestCtx) }()

	require.Eventually(t, func() bool {
		return len(store.snapshot()) >= len(msgs)
	}, 90*time.Second, 500*time.Millisecond, "waiting for all envelopes to be stored")

	stopIngest()
	require.NoError(t, <-errCh)

	rows := store.snapshot()
	require.Len(t, rows, len(msgs))

	byCity := map[string]int{}
	for _, row := range rows {
		byCity[row.City]++
		assert.NotEmpty(t, row.WeatherPayload, "weather payload must survive ingestion")
		assert.False(t, row.ObservationTime.IsZero(), "observation time must be set")
		assert.False(t, row.CollectedAt.IsZero(), "collected_at must be set")
	}
	for _, c := range cities {
		assert.Equal(t, 2, byCity[c.city], "expected two observations for %s", c.city)
	}

	assert.NoError(t, ingestor.CheckReadiness(ctx), "ingestor should be ready after storing")
}

// TestIngestSkipsMalformedEnvelope verifies that a poison pill is skipped and
// the ingest loop continues processing valid messages.
func TestIngestSkipsMalformedEnvelope(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testRawTopic)

	cfg := testConfig(broker, "test-poison")

	publishRaw(ctx, t, broker,
		kafkago.Message{Key: []byte("bad"), Value: []byte("not-json{{{"), Time: testObservedAt},
		kafkago.Message{Key: []byte("Chicago,US"), Value: rawEnvelopeJSON(t, "Chicago", "US", testObservedAt, 21.5, 42), Time: testObservedAt},
	)

	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	store := &memStore{}
	ingestor := pipeline.NewIngestor(reader, store, discardLogger(), observability.NewMetricsForTesting(), 10)

	ingestCtx, stopIngest := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- ingestor.Run(ingestCtx) }()

	require.Eventually(t, func() bool {
		return len(store.snapshot()) >= 1
	}, 60*time.Second, 500*time.Millisecond, "waiting for the valid envelope to be stored")

	// Give the loop a moment to prove the poison pill stays out of the store.
	time.Sleep(2 * time.Second)

	stopIngest()
	require.NoError(t, <-errCh)

	rows := store.snapshot()
	require.Len(t, rows, 1, "only the valid envelope should be stored")
	assert.Equal(t, "Chicago", rows[0].City)

	assert.NoError(t, ingestor.CheckReadiness(ctx))
}
