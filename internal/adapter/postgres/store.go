package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/nimbuslabs/cityair-etl-service/internal/domain"
)

const (
	connectTimeout  = 10 * time.Second
	maxOpenConns    = 10
	maxIdleConns    = 5
	connMaxLifetime = 30 * time.Minute
)

// Store persists raw observations and the transformed marts in Postgres.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open connects to Postgres, verifies the connection, and returns a Store.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewStore(db, logger), nil
}

// NewStore wraps an existing connection. Tests inject a mock through here.
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CheckReadiness reports whether the database connection is usable.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const schemaDDL = `
CREATE SCHEMA IF NOT EXISTS raw;
CREATE SCHEMA IF NOT EXISTS marts;

CREATE TABLE IF NOT EXISTS raw.weather_observations (
	id               bigserial PRIMARY KEY,
	city             text NOT NULL,
	country          text NOT NULL DEFAULT '',
	latitude         double precision,
	longitude        double precision,
	observation_time timestamptz NOT NULL,
	weather_payload  jsonb,
	air_payload      jsonb,
	collected_at     timestamptz NOT NULL,
	UNIQUE (city, country, observation_time)
);

CREATE INDEX IF NOT EXISTS weather_observations_collected_at_idx
	ON raw.weather_observations (collected_at);

CREATE TABLE IF NOT EXISTS marts.daily_air_quality (
	fact_key           text PRIMARY KEY,
	city               text NOT NULL,
	country            text NOT NULL DEFAULT '',
	fact_date          date NOT NULL,
	temp_avg_c         double precision,
	temp_min_c         double precision,
	temp_max_c         double precision,
	humidity_avg_pct   double precision,
	pressure_avg_hpa   double precision,
	wind_avg_ms        double precision,
	wind_max_ms        double precision,
	condition_mode     text NOT NULL DEFAULT '',
	weather_samples    integer NOT NULL DEFAULT 0,
	overall_aqi        double precision,
	primary_pollutant  text NOT NULL DEFAULT '',
	aqi_category       text NOT NULL DEFAULT '',
	aqi_color          text NOT NULL DEFAULT '',
	severity_tier      integer NOT NULL DEFAULT 0,
	health_advice      text NOT NULL DEFAULT '',
	air_samples        integer NOT NULL DEFAULT 0,
	air_distance_km    double precision,
	pollutants         jsonb,
	prev_temp_avg_c    double precision,
	temp_delta_c       double precision,
	temp_trend         text NOT NULL DEFAULT '',
	temp_rolling_avg_c double precision,
	prev_overall_aqi   double precision,
	aqi_delta          double precision,
	aqi_trend          text NOT NULL DEFAULT '',
	aqi_rolling_avg    double precision,
	first_observed_at  timestamptz NOT NULL,
	last_observed_at   timestamptz NOT NULL,
	computed_at        timestamptz NOT NULL
);

CREATE INDEX IF NOT EXISTS daily_air_quality_city_date_idx
	ON marts.daily_air_quality (city, country, fact_date);

CREATE TABLE IF NOT EXISTS marts.city_dimension (
	city_key          text PRIMARY KEY,
	city              text NOT NULL,
	country           text NOT NULL DEFAULT '',
	latitude          double precision,
	longitude         double precision,
	climate_zone      text NOT NULL DEFAULT '',
	hemisphere        text NOT NULL DEFAULT '',
	utc_offset_hours  integer,
	first_seen        timestamptz NOT NULL,
	last_seen         timestamptz NOT NULL,
	observation_count integer NOT NULL DEFAULT 0,
	valid_count       integer NOT NULL DEFAULT 0,
	invalid_count     integer NOT NULL DEFAULT 0,
	quality_pct       double precision NOT NULL DEFAULT 0,
	quality_tier      text NOT NULL DEFAULT '',
	freshness_tier    text NOT NULL DEFAULT '',
	is_active         boolean NOT NULL DEFAULT false,
	updated_at        timestamptz NOT NULL
);
`

// EnsureSchema creates the raw and marts schemas and tables if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// UpsertRawObservations writes a batch of raw observations, refreshing the
// payloads of rows that already exist for (city, country, observation_time).
func (s *Store) UpsertRawObservations(ctx context.Context, obs []domain.RawObservation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}
	return s.retryOnDuplicate(ctx, "raw observations", func(ctx context.Context) (int, error) {
		return s.upsertRaw(ctx, obs)
	})
}

func (s *Store) upsertRaw(ctx context.Context, obs []domain.RawObservation) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO raw.weather_observations
			(city, country, latitude, longitude, observation_time, weather_payload, air_payload, collected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (city, country, observation_time) DO UPDATE SET
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			weather_payload = EXCLUDED.weather_payload,
			air_payload = EXCLUDED.air_payload,
			collected_at = EXCLUDED.collected_at`)
	if err != nil {
		return 0, fmt.Errorf("prepare raw upsert: %w", err)
	}
	defer stmt.Close()

	for _, o := range obs {
		if _, err := stmt.ExecContext(ctx,
			o.City, o.Country, o.Latitude, o.Longitude, o.ObservationTime,
			nullableJSON(o.WeatherPayload), nullableJSON(o.AirPayload), o.CollectedAt,
		); err != nil {
			return 0, fmt.Errorf("upsert raw observation %s: %w", o.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit raw upsert: %w", err)
	}
	return len(obs), nil
}

// UpsertDailyFacts writes a batch of daily facts keyed by fact_key.
func (s *Store) UpsertDailyFacts(ctx context.Context, facts []domain.DailyFact) (int, error) {
	if len(facts) == 0 {
		return 0, nil
	}
	return s.retryOnDuplicate(ctx, "daily facts", func(ctx context.Context) (int, error) {
		return s.upsertFacts(ctx, facts)
	})
}

func (s *Store) upsertFacts(ctx context.Context, facts []domain.DailyFact) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO marts.daily_air_quality (
			fact_key, city, country, fact_date,
			temp_avg_c, temp_min_c, temp_max_c, humidity_avg_pct, pressure_avg_hpa,
			wind_avg_ms, wind_max_ms, condition_mode, weather_samples,
			overall_aqi, primary_pollutant, aqi_category, aqi_color, severity_tier,
			health_advice, air_samples, air_distance_km, pollutants,
			prev_temp_avg_c, temp_delta_c, temp_trend, temp_rolling_avg_c,
			prev_overall_aqi, aqi_delta, aqi_trend, aqi_rolling_avg,
			first_observed_at, last_observed_at, computed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
			$31, $32, $33
		)
		ON CONFLICT (fact_key) DO UPDATE SET
			city = EXCLUDED.city,
			country = EXCLUDED.country,
			fact_date = EXCLUDED.fact_date,
			temp_avg_c = EXCLUDED.temp_avg_c,
			temp_min_c = EXCLUDED.temp_min_c,
			temp_max_c = EXCLUDED.temp_max_c,
			humidity_avg_pct = EXCLUDED.humidity_avg_pct,
			pressure_avg_hpa = EXCLUDED.pressure_avg_hpa,
			wind_avg_ms = EXCLUDED.wind_avg_ms,
			wind_max_ms = EXCLUDED.wind_max_ms,
			condition_mode = EXCLUDED.condition_mode,
			weather_samples = EXCLUDED.weather_samples,
			overall_aqi = EXCLUDED.overall_aqi,
			primary_pollutant = EXCLUDED.primary_pollutant,
			aqi_category = EXCLUDED.aqi_category,
			aqi_color = EXCLUDED.aqi_color,
			severity_tier = EXCLUDED.severity_tier,
			health_advice = EXCLUDED.health_advice,
			air_samples = EXCLUDED.air_samples,
			air_distance_km = EXCLUDED.air_distance_km,
			pollutants = EXCLUDED.pollutants,
			prev_temp_avg_c = EXCLUDED.prev_temp_avg_c,
			temp_delta_c = EXCLUDED.temp_delta_c,
			temp_trend = EXCLUDED.temp_trend,
			temp_rolling_avg_c = EXCLUDED.temp_rolling_avg_c,
			prev_overall_aqi = EXCLUDED.prev_overall_aqi,
			aqi_delta = EXCLUDED.aqi_delta,
			aqi_trend = EXCLUDED.aqi_trend,
			aqi_rolling_avg = EXCLUDED.aqi_rolling_avg,
			first_observed_at = EXCLUDED.first_observed_at,
			last_observed_at = EXCLUDED.last_observed_at,
			computed_at = EXCLUDED.computed_at`)
	if err != nil {
		return 0, fmt.Errorf("prepare fact upsert: %w", err)
	}
	defer stmt.Close()

	for _, f := range facts {
		pollutants, err := marshalPollutants(f.Pollutants)
		if err != nil {
			return 0, fmt.Errorf("marshal pollutants for %s: %w", f.FactKey, err)
		}
		if _, err := stmt.ExecContext(ctx,
			f.FactKey, f.City, f.Country, f.FactDate,
			f.TempAvgC, f.TempMinC, f.TempMaxC, f.HumidityAvgPct, f.PressureAvgHPa,
			f.WindAvgMS, f.WindMaxMS, f.ConditionMode, f.WeatherSamples,
			f.OverallAQI, f.PrimaryPollutant, f.AQICategory, f.AQIColor, f.SeverityTier,
			f.HealthAdvice, f.AirSamples, f.AirDistanceKM, pollutants,
			f.PrevTempAvgC, f.TempDeltaC, f.TempTrend, f.TempRollingC,
			f.PrevOverallAQI, f.AQIDelta, f.AQITrend, f.AQIRollingAvg,
			f.FirstObservedAt, f.LastObservedAt, f.ComputedAt,
		); err != nil {
			return 0, fmt.Errorf("upsert fact %s: %w", f.FactKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit fact upsert: %w", err)
	}
	return len(facts), nil
}

// UpsertDimensions writes a batch of city dimension rows keyed by city_key.
func (s *Store) UpsertDimensions(ctx context.Context, dims []domain.EntityDimension) (int, error) {
	if len(dims) == 0 {
		return 0, nil
	}
	return s.retryOnDuplicate(ctx, "city dimensions", func(ctx context.Context) (int, error) {
		return s.upsertDimensions(ctx, dims)
	})
}

func (s *Store) upsertDimensions(ctx context.Context, dims []domain.EntityDimension) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO marts.city_dimension (
			city_key, city, country, latitude, longitude,
			climate_zone, hemisphere, utc_offset_hours,
			first_seen, last_seen, observation_count, valid_count, invalid_count,
			quality_pct, quality_tier, freshness_tier, is_active, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
		)
		ON CONFLICT (city_key) DO UPDATE SET
			city = EXCLUDED.city,
			country = EXCLUDED.country,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			climate_zone = EXCLUDED.climate_zone,
			hemisphere = EXCLUDED.hemisphere,
			utc_offset_hours = EXCLUDED.utc_offset_hours,
			first_seen = EXCLUDED.first_seen,
			last_seen = EXCLUDED.last_seen,
			observation_count = EXCLUDED.observation_count,
			valid_count = EXCLUDED.valid_count,
			invalid_count = EXCLUDED.invalid_count,
			quality_pct = EXCLUDED.quality_pct,
			quality_tier = EXCLUDED.quality_tier,
			freshness_tier = EXCLUDED.freshness_tier,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at`)
	if err != nil {
		return 0, fmt.Errorf("prepare dimension upsert: %w", err)
	}
	defer stmt.Close()

	for _, d := range dims {
		if _, err := stmt.ExecContext(ctx,
			d.CityKey, d.City, d.Country, d.Latitude, d.Longitude,
			d.ClimateZone, d.Hemisphere, d.UTCOffsetHours,
			d.FirstSeen, d.LastSeen, d.ObservationCount, d.ValidCount, d.InvalidCount,
			d.QualityPct, d.QualityTier, d.FreshnessTier, d.IsActive, d.UpdatedAt,
		); err != nil {
			return 0, fmt.Errorf("upsert dimension %s: %w", d.CityKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit dimension upsert: %w", err)
	}
	return len(dims), nil
}

const rawColumns = `id, city, country, latitude, longitude, observation_time, weather_payload, air_payload, collected_at`

// ListRawSince returns raw observations collected after the given time,
// oldest first.
func (s *Store) ListRawSince(ctx context.Context, since time.Time) ([]domain.RawObservation, error) {
	var obs []domain.RawObservation
	err := s.db.SelectContext(ctx, &obs, `
		SELECT `+rawColumns+`
		FROM raw.weather_observations
		WHERE collected_at > $1
		ORDER BY collected_at, id`, since)
	if err != nil {
		return nil, fmt.Errorf("list raw observations since %s: %w", since.Format(time.RFC3339), err)
	}
	return obs, nil
}

// ListRawAll returns the full raw observation set, oldest first. Used by
// full rebuilds.
func (s *Store) ListRawAll(ctx context.Context) ([]domain.RawObservation, error) {
	var obs []domain.RawObservation
	err := s.db.SelectContext(ctx, &obs, `
		SELECT `+rawColumns+`
		FROM raw.weather_observations
		ORDER BY collected_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list raw observations: %w", err)
	}
	return obs, nil
}

const factColumns = `fact_key, city, country, fact_date,
	temp_avg_c, temp_min_c, temp_max_c, humidity_avg_pct, pressure_avg_hpa,
	wind_avg_ms, wind_max_ms, condition_mode, weather_samples,
	overall_aqi, primary_pollutant, aqi_category, aqi_color, severity_tier,
	health_advice, air_samples, air_distance_km, pollutants,
	prev_temp_avg_c, temp_delta_c, temp_trend, temp_rolling_avg_c,
	prev_overall_aqi, aqi_delta, aqi_trend, aqi_rolling_avg,
	first_observed_at, last_observed_at, computed_at`

// factRow carries the jsonb pollutants column alongside the fact fields.
type factRow struct {
	domain.DailyFact
	PollutantsJSON []byte `db:"pollutants"`
}

func (r factRow) fact() (domain.DailyFact, error) {
	f := r.DailyFact
	if len(r.PollutantsJSON) > 0 {
		if err := json.Unmarshal(r.PollutantsJSON, &f.Pollutants); err != nil {
			return f, fmt.Errorf("unmarshal pollutants for %s: %w", f.FactKey, err)
		}
	}
	return f, nil
}

// ListFacts returns up to days facts for a city, newest first. Matching is
// case-insensitive; an empty country matches any.
func (s *Store) ListFacts(ctx context.Context, city, country string, days int) ([]domain.DailyFact, error) {
	var rows []factRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+factColumns+`
		FROM marts.daily_air_quality
		WHERE lower(city) = lower($1) AND ($2 = '' OR lower(country) = lower($2))
		ORDER BY fact_date DESC
		LIMIT $3`, city, country, days)
	if err != nil {
		return nil, fmt.Errorf("list facts for %s: %w", city, err)
	}

	facts := make([]domain.DailyFact, 0, len(rows))
	for _, r := range rows {
		f, err := r.fact()
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, nil
}

// LatestFact returns the most recent fact for a city, or nil when the city
// has none.
func (s *Store) LatestFact(ctx context.Context, city, country string) (*domain.DailyFact, error) {
	var row factRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+factColumns+`
		FROM marts.daily_air_quality
		WHERE lower(city) = lower($1) AND ($2 = '' OR lower(country) = lower($2))
		ORDER BY fact_date DESC
		LIMIT 1`, city, country)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest fact for %s: %w", city, err)
	}

	f, err := row.fact()
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListDimensions returns all city dimension rows ordered by city key.
func (s *Store) ListDimensions(ctx context.Context) ([]domain.EntityDimension, error) {
	var dims []domain.EntityDimension
	err := s.db.SelectContext(ctx, &dims, `
		SELECT city_key, city, country, latitude, longitude,
			climate_zone, hemisphere, utc_offset_hours,
			first_seen, last_seen, observation_count, valid_count, invalid_count,
			quality_pct, quality_tier, freshness_tier, is_active, updated_at
		FROM marts.city_dimension
		ORDER BY city_key`)
	if err != nil {
		return nil, fmt.Errorf("list dimensions: %w", err)
	}
	return dims, nil
}

// retryOnDuplicate reruns a batch write once when a concurrent writer raced
// it to a unique key; the rerun lands as an update.
func (s *Store) retryOnDuplicate(ctx context.Context, op string, fn func(context.Context) (int, error)) (int, error) {
	n, err := fn(ctx)
	if !isUniqueViolation(err) {
		return n, err
	}
	s.logger.Warn("duplicate key race, retrying batch", "op", op, "error", err)
	return fn(ctx)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func marshalPollutants(pollutants []domain.PollutantDailyAggregate) ([]byte, error) {
	if len(pollutants) == 0 {
		return nil, nil
	}
	return json.Marshal(pollutants)
}

// nullableJSON maps an empty payload to NULL so jsonb columns never see ''.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
