package domain

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// EntityKey identifies one observed city. All records, aggregates, and
// dimensions are partitioned by it. Matching is case-insensitive; the
// original spelling is preserved for display.
type EntityKey struct {
	City    string `json:"city"`
	Country string `json:"country"`
}

// canonical returns the lowercase, trimmed form used for grouping and for
// surrogate key derivation. "Chicago , US" and "chicago,us" are the same city.
func (k EntityKey) canonical() string {
	return strings.ToLower(strings.TrimSpace(k.City)) + "|" + strings.ToLower(strings.TrimSpace(k.Country))
}

// String renders the key as "City,CC" for logs and Kafka message keys.
func (k EntityKey) String() string {
	if k.Country == "" {
		return k.City
	}
	return k.City + "," + k.Country
}

// RawObservation is one collector snapshot for a city: the verbatim provider
// payloads plus identity and timing. Rows are append-only and may arrive out
// of order or duplicated on (city, country, observation_time).
type RawObservation struct {
	ID              int64     `db:"id"`
	City            string    `db:"city"`
	Country         string    `db:"country"`
	Latitude        *float64  `db:"latitude"`
	Longitude       *float64  `db:"longitude"`
	ObservationTime time.Time `db:"observation_time"`
	WeatherPayload  []byte    `db:"weather_payload"`
	AirPayload      []byte    `db:"air_payload"`
	CollectedAt     time.Time `db:"collected_at"`
}

// Key returns the observation's entity key.
func (r RawObservation) Key() EntityKey {
	return EntityKey{City: r.City, Country: r.Country}
}

// RawEnvelope is the JSON shape collectors publish to the raw-observations
// topic. Weather carries the OpenWeatherMap current-weather response
// verbatim; AirQuality carries the wrapped AirNow observation list.
type RawEnvelope struct {
	City            string          `json:"city"`
	Country         string          `json:"country"`
	Latitude        *float64        `json:"latitude,omitempty"`
	Longitude       *float64        `json:"longitude,omitempty"`
	ObservationTime time.Time       `json:"observation_time"`
	Weather         json.RawMessage `json:"weather"`
	AirQuality      json.RawMessage `json:"air_quality,omitempty"`
}

// RawMessage represents an unprocessed message from the raw-observations topic.
type RawMessage struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// WeatherRecord is the typed form of one weather payload. Measurement fields
// are nil when missing from the payload or nulled by range validation;
// derived fields (TempF, WindSpeedKMH) are nil whenever their source is.
type WeatherRecord struct {
	Key        EntityKey
	ObservedAt time.Time
	Lat        *float64
	Lon        *float64

	TempC       *float64
	FeelsLikeC  *float64
	TempMinC    *float64
	TempMaxC    *float64
	HumidityPct *float64
	PressureHPa *float64
	WindSpeedMS *float64
	WindDeg     *float64
	CloudsPct   *float64
	VisibilityM *float64

	TempF        *float64
	WindSpeedKMH *float64

	// Condition holds the canonical label ("Rain", "Fog", ...); ConditionRaw
	// always preserves the provider's original value.
	Condition    string
	ConditionRaw string
	Description  string
}

// AirRecord is the typed form of one pollutant entry from an air-quality
// payload. One payload yields one record per reported pollutant.
type AirRecord struct {
	Key        EntityKey
	ObservedAt time.Time
	Lat        *float64
	Lon        *float64

	// Pollutant holds the canonical code ("PM2.5", "O3", ...); PollutantRaw
	// preserves the provider's parameter name.
	Pollutant     string
	PollutantRaw  string
	AQI           *float64
	ReportingArea string
	StateCode     string
}

// ObservationStatus is the per-input bookkeeping row the normalizer emits for
// every RawObservation, valid or not. The dimension builder derives quality
// and freshness from these.
type ObservationStatus struct {
	Key        EntityKey
	ObservedAt time.Time
	Valid      bool
	Issues     []string
	Lat        *float64
	Lon        *float64
}

// NormalizedObservation bundles everything one RawObservation normalizes to.
type NormalizedObservation struct {
	Weather WeatherRecord
	Air     []AirRecord
	Status  ObservationStatus
}

// ReconciledObservation pairs a weather record with the nearest in-window
// air-quality reading for the same entity. Air fields stay nil when no
// reading matched; the weather record always survives.
type ReconciledObservation struct {
	Weather WeatherRecord

	AirAQI        *float64
	AirPollutant  string
	AirObservedAt *time.Time
	AirDistanceKM *float64
}

// WeatherDailyAggregate summarizes one entity's weather records for one UTC
// calendar date. Numeric aggregates cover non-nil values only; a field with
// no usable samples stays nil.
type WeatherDailyAggregate struct {
	Key  EntityKey
	Date time.Time

	TempAvgC       *float64
	TempMinC       *float64
	TempMaxC       *float64
	FeelsLikeAvgC  *float64
	HumidityAvgPct *float64
	PressureAvgHPa *float64
	WindAvgMS      *float64
	WindMaxMS      *float64

	// ConditionMode is the most frequent canonical condition; ties resolve
	// to the lexicographically smallest label.
	ConditionMode string

	SampleCount      int
	AirMatchCount    int
	AirDistanceAvgKM *float64
	FirstObservedAt  time.Time
	LastObservedAt   time.Time
}

// PollutantDailyAggregate summarizes one pollutant for one entity and date.
type PollutantDailyAggregate struct {
	Pollutant   string   `json:"pollutant"`
	AQIAvg      *float64 `json:"aqi_avg"`
	AQIMin      *float64 `json:"aqi_min"`
	AQIMax      *float64 `json:"aqi_max"`
	SampleCount int      `json:"sample_count"`
}

// AirDailySummary rolls the per-pollutant aggregates for one entity and date
// up to an overall reading: the worst pollutant dominates.
type AirDailySummary struct {
	Key  EntityKey
	Date time.Time

	OverallAQI       *float64
	PrimaryPollutant string
	Pollutants       []PollutantDailyAggregate

	SampleCount     int
	FirstObservedAt time.Time
	LastObservedAt  time.Time
}

// DailyFact is the externally visible row: one per (entity, UTC date), keyed
// by a deterministic surrogate key so reruns upsert instead of duplicating.
// Weather-only and air-only days both produce a fact; the missing side's
// fields stay nil.
type DailyFact struct {
	FactKey  string    `json:"fact_key" db:"fact_key"`
	City     string    `json:"city" db:"city"`
	Country  string    `json:"country" db:"country"`
	FactDate time.Time `json:"fact_date" db:"fact_date"`

	TempAvgC       *float64 `json:"temp_avg_c" db:"temp_avg_c"`
	TempMinC       *float64 `json:"temp_min_c" db:"temp_min_c"`
	TempMaxC       *float64 `json:"temp_max_c" db:"temp_max_c"`
	HumidityAvgPct *float64 `json:"humidity_avg_pct" db:"humidity_avg_pct"`
	PressureAvgHPa *float64 `json:"pressure_avg_hpa" db:"pressure_avg_hpa"`
	WindAvgMS      *float64 `json:"wind_avg_ms" db:"wind_avg_ms"`
	WindMaxMS      *float64 `json:"wind_max_ms" db:"wind_max_ms"`
	ConditionMode  string   `json:"condition_mode,omitempty" db:"condition_mode"`
	WeatherSamples int      `json:"weather_samples" db:"weather_samples"`

	OverallAQI       *float64                  `json:"overall_aqi" db:"overall_aqi"`
	PrimaryPollutant string                    `json:"primary_pollutant,omitempty" db:"primary_pollutant"`
	AQICategory      string                    `json:"aqi_category" db:"aqi_category"`
	AQIColor         string                    `json:"aqi_color" db:"aqi_color"`
	SeverityTier     int                       `json:"severity_tier" db:"severity_tier"`
	HealthAdvice     string                    `json:"health_advice" db:"health_advice"`
	AirSamples       int                       `json:"air_samples" db:"air_samples"`
	AirDistanceKM    *float64                  `json:"air_distance_km" db:"air_distance_km"`
	Pollutants       []PollutantDailyAggregate `json:"pollutants,omitempty" db:"-"`

	PrevTempAvgC *float64 `json:"prev_temp_avg_c" db:"prev_temp_avg_c"`
	TempDeltaC   *float64 `json:"temp_delta_c" db:"temp_delta_c"`
	TempTrend    string   `json:"temp_trend" db:"temp_trend"`
	TempRollingC *float64 `json:"temp_rolling_avg_c" db:"temp_rolling_avg_c"`

	PrevOverallAQI *float64 `json:"prev_overall_aqi" db:"prev_overall_aqi"`
	AQIDelta       *float64 `json:"aqi_delta" db:"aqi_delta"`
	AQITrend       string   `json:"aqi_trend" db:"aqi_trend"`
	AQIRollingAvg  *float64 `json:"aqi_rolling_avg" db:"aqi_rolling_avg"`

	FirstObservedAt time.Time `json:"first_observed_at" db:"first_observed_at"`
	LastObservedAt  time.Time `json:"last_observed_at" db:"last_observed_at"`
	ComputedAt      time.Time `json:"computed_at" db:"computed_at"`
}

// Key returns the fact's entity key.
func (f DailyFact) Key() EntityKey {
	return EntityKey{City: f.City, Country: f.Country}
}

// EntityDimension is the per-city dimension row, recomputed from the full
// observation history whenever new observations arrive. Entities persist
// once seen.
type EntityDimension struct {
	CityKey   string   `json:"city_key" db:"city_key"`
	City      string   `json:"city" db:"city"`
	Country   string   `json:"country" db:"country"`
	Latitude  *float64 `json:"latitude" db:"latitude"`
	Longitude *float64 `json:"longitude" db:"longitude"`

	ClimateZone    string `json:"climate_zone" db:"climate_zone"`
	Hemisphere     string `json:"hemisphere" db:"hemisphere"`
	UTCOffsetHours *int   `json:"utc_offset_hours" db:"utc_offset_hours"`

	FirstSeen        time.Time `json:"first_seen" db:"first_seen"`
	LastSeen         time.Time `json:"last_seen" db:"last_seen"`
	ObservationCount int       `json:"observation_count" db:"observation_count"`
	ValidCount       int       `json:"valid_count" db:"valid_count"`
	InvalidCount     int       `json:"invalid_count" db:"invalid_count"`

	QualityPct    float64 `json:"quality_pct" db:"quality_pct"`
	QualityTier   string  `json:"quality_tier" db:"quality_tier"`
	FreshnessTier string  `json:"freshness_tier" db:"freshness_tier"`
	IsActive      bool    `json:"is_active" db:"is_active"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
