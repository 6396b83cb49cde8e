package kafka

import (
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbuslabs/cityair-etl-service/internal/domain"
)

func TestMapMessageToRaw(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("Chicago,US"),
		Value:     []byte(`{"city":"Chicago"}`),
		Topic:     "raw-observations",
		Partition: 2,
		Offset:    42,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte("collector")},
		},
	}

	raw := mapMessageToRaw(msg)

	assert.Equal(t, []byte("Chicago,US"), raw.Key)
	assert.JSONEq(t, `{"city":"Chicago"}`, string(raw.Value))
	assert.Equal(t, "raw-observations", raw.Topic)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(42), raw.Offset)
	assert.Equal(t, now, raw.Timestamp)
	assert.Equal(t, "collector", raw.Headers["source"])
	assert.Nil(t, raw.Commit, "plain conversion must not attach a commit callback")
}

func TestSerializeFact(t *testing.T) {
	computed := time.Date(2026, 8, 21, 3, 0, 0, 0, time.UTC)
	fact := domain.DailyFact{
		FactKey:     "fact-0011223344556677",
		City:        "Chicago",
		Country:     "US",
		FactDate:    time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		AQICategory: "Moderate",
		ComputedAt:  computed,
	}

	msg, err := serializeFact(fact)
	require.NoError(t, err)

	assert.Equal(t, []byte("Chicago,US"), msg.Key)
	assert.Contains(t, string(msg.Value), `"fact_key":"fact-0011223344556677"`)
	assert.Contains(t, string(msg.Value), `"aqi_category":"Moderate"`)
	assert.Len(t, msg.Headers, 2)
	assert.Equal(t, "fact_date", msg.Headers[0].Key)
	assert.Equal(t, []byte("2026-08-20"), msg.Headers[0].Value)
	assert.Equal(t, "computed_at", msg.Headers[1].Key)
	assert.Equal(t, []byte(computed.Format(time.RFC3339)), msg.Headers[1].Value)
}

func TestSerializeFact_CityOnlyKey(t *testing.T) {
	fact := domain.DailyFact{
		FactKey:  "fact-8899aabbccddeeff",
		City:     "Paris",
		FactDate: time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
	}

	msg, err := serializeFact(fact)
	require.NoError(t, err)
	assert.Equal(t, []byte("Paris"), msg.Key)
}
