package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/nimbuslabs/cityair-etl-service/internal/config"
	"github.com/nimbuslabs/cityair-etl-service/internal/domain"
)

// Writer produces daily facts to the facts topic.
// It implements pipeline.FactPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured facts topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaFactsTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishFacts serializes and publishes daily facts to the facts topic in a
// single WriteMessages call for efficiency.
func (w *Writer) PublishFacts(ctx context.Context, facts []domain.DailyFact) error {
	if len(facts) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(facts))
	for i := range facts {
		msg, err := serializeFact(facts[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeFact marshals a DailyFact into a Kafka message keyed by entity so
// one city's facts always land on the same partition.
func serializeFact(fact domain.DailyFact) (kafkago.Message, error) {
	data, err := json.Marshal(fact)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize daily fact: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(fact.Key().String()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "fact_date", Value: []byte(fact.FactDate.Format("2006-01-02"))},
			{Key: "computed_at", Value: []byte(fact.ComputedAt.Format(time.RFC3339))},
		},
	}, nil
}
