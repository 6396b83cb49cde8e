// Package domain turns raw city observation snapshots into daily facts and
// per-city dimensions: normalization, cross-source reconciliation, daily
// aggregation, trend analysis, and band classification.
//
// # Data Sources
//
// Each RawObservation carries up to two verbatim provider payloads captured
// by the collector in one pass:
//
//	Weather:     OpenWeatherMap current-weather response (units=metric).
//	             Fields of interest: main.{temp,feels_like,temp_min,temp_max,
//	             humidity,pressure}, wind.{speed,deg}, clouds.all, visibility,
//	             weather[0].{main,description}, coord.{lat,lon}, dt.
//	Air quality: AirNow current observations by lat/lon, wrapped as
//	             {"observations": [...]}. One entry per reported pollutant
//	             (ParameterName, AQI, station coordinates, ReportingArea).
//
// # Normalization Policy
//
// Missing or non-coercible fields null out individually; only absent identity
// (city, observation time) or an unparsable weather payload invalidates the
// whole record. Range validation nulls out-of-window values instead of
// clamping them: a 200°C reading becomes nil temperature, never 60°C.
// Every nulled field is recorded as an issue on the ObservationStatus so
// data-quality percentages stay honest.
//
// Categorical values standardize by ordered substring matching, first match
// wins: weather conditions collapse to Clear/Clouds/Rain/Drizzle/
// Thunderstorm/Snow/Fog, pollutant parameter names to PM2.5/PM10/Ozone/NO2/
// SO2/CO. Unmatched values keep their raw label in a separate field and are
// never dropped.
//
// # Daily Grain
//
// The aggregation grain is the UTC calendar date of the observation time.
// Aggregates are recomputed from scratch each run and replace prior rows;
// nothing mutates in place, so reruns are idempotent.
//
// # Banding
//
// Classification uses ordered band tables: contiguous, non-overlapping,
// closed-open except the last band (the US EPA AQI table [0,50] Good,
// [51,100] Moderate, ... [301,500] Hazardous). Null and out-of-table values
// map to an explicit Unknown category so lookups are total and never fail.
// Band tables load from the rules file and are structurally validated at
// startup; see [Rules.Validate].
//
// # Key Generation
//
// Fact and dimension keys are deterministic SHA-256 hashes of the canonical
// grouping keys (never of aggregate values), enabling idempotent upserts and
// replay safety without coordination. See [FactKey] and [CityKey].
package domain
