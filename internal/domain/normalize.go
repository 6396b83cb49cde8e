package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseRawMessage deserializes a raw-observations topic message into a
// RawObservation. It expects the envelope JSON produced by the collector
// service; the provider payloads inside stay opaque until normalization.
// A zero observation_time falls back to the Kafka message timestamp.
func ParseRawMessage(msg RawMessage) (RawObservation, error) {
	var env RawEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return RawObservation{}, fmt.Errorf("parse raw message: %w", err)
	}

	obsTime := env.ObservationTime
	if obsTime.IsZero() {
		obsTime = msg.Timestamp
	}

	return RawObservation{
		City:            strings.TrimSpace(env.City),
		Country:         strings.TrimSpace(env.Country),
		Latitude:        env.Latitude,
		Longitude:       env.Longitude,
		ObservationTime: obsTime.UTC(),
		WeatherPayload:  env.Weather,
		AirPayload:      env.AirQuality,
		CollectedAt:     msg.Timestamp.UTC(),
	}, nil
}

// Normalize turns one RawObservation into typed weather and air records plus
// a status row. A non-nil error marks the whole record invalid (missing
// identity, no usable timestamp, unparsable weather payload); the Status in
// the returned bundle is still populated so invalid records count toward
// data quality. Field-level problems never fail the record: they null the
// field and append an issue.
func Normalize(raw RawObservation, rules Rules) (NormalizedObservation, error) {
	key := EntityKey{City: strings.TrimSpace(raw.City), Country: strings.TrimSpace(raw.Country)}
	status := ObservationStatus{
		Key:        key,
		ObservedAt: raw.ObservationTime.UTC(),
		Lat:        raw.Latitude,
		Lon:        raw.Longitude,
	}

	if key.City == "" {
		status.Issues = append(status.Issues, "missing city")
		return NormalizedObservation{Status: status}, errors.New("normalize: missing city")
	}

	payload, err := decodeObject(raw.WeatherPayload)
	if err != nil {
		status.Issues = append(status.Issues, "weather payload unparsable")
		return NormalizedObservation{Status: status}, fmt.Errorf("normalize %s: weather payload: %w", key, err)
	}

	observedAt := raw.ObservationTime.UTC()
	if observedAt.IsZero() {
		if dt := numberAt(payload, "dt"); dt != nil {
			observedAt = time.Unix(int64(*dt), 0).UTC()
		}
	}
	if observedAt.IsZero() {
		status.Issues = append(status.Issues, "missing observation time")
		return NormalizedObservation{Status: status}, fmt.Errorf("normalize %s: missing observation time", key)
	}
	status.ObservedAt = observedAt

	w := WeatherRecord{Key: key, ObservedAt: observedAt, Lat: raw.Latitude, Lon: raw.Longitude}
	if w.Lat == nil {
		w.Lat = numberAt(payload, "coord", "lat")
	}
	if w.Lon == nil {
		w.Lon = numberAt(payload, "coord", "lon")
	}
	status.Lat, status.Lon = w.Lat, w.Lon

	issues := &status.Issues
	w.TempC = round1p(rangeCheck("temp_c", numberAt(payload, "main", "temp"), rules.Ranges.TempC, issues))
	w.FeelsLikeC = round1p(rangeCheck("feels_like_c", numberAt(payload, "main", "feels_like"), rules.Ranges.TempC, issues))
	w.TempMinC = round1p(rangeCheck("temp_min_c", numberAt(payload, "main", "temp_min"), rules.Ranges.TempC, issues))
	w.TempMaxC = round1p(rangeCheck("temp_max_c", numberAt(payload, "main", "temp_max"), rules.Ranges.TempC, issues))
	w.HumidityPct = round0p(rangeCheck("humidity_pct", numberAt(payload, "main", "humidity"), rules.Ranges.HumidityPct, issues))
	w.PressureHPa = round0p(rangeCheck("pressure_hpa", numberAt(payload, "main", "pressure"), rules.Ranges.PressureHPa, issues))
	w.WindSpeedMS = round1p(rangeCheck("wind_speed_ms", numberAt(payload, "wind", "speed"), rules.Ranges.WindSpeedMS, issues))
	w.WindDeg = round0p(rangeCheck("wind_deg", numberAt(payload, "wind", "deg"), Range{Min: 0, Max: 360}, issues))
	w.CloudsPct = round0p(rangeCheck("clouds_pct", numberAt(payload, "clouds", "all"), Range{Min: 0, Max: 100}, issues))
	w.VisibilityM = round0p(rangeCheck("visibility_m", numberAt(payload, "visibility"), Range{Min: 0, Max: 100000}, issues))

	// Derived conversions depend on the validated value, so an out-of-range
	// source also nulls its conversions.
	w.TempF = round1p(cToF(w.TempC))
	w.WindSpeedKMH = round1p(msToKMH(w.WindSpeedMS))

	if arr := arrayAt(payload, "weather"); len(arr) > 0 {
		if entry, ok := arr[0].(map[string]any); ok {
			w.ConditionRaw = stringAt(entry, "main")
			w.Description = stringAt(entry, "description")
		}
	}
	w.Condition = canonicalCondition(w.ConditionRaw)

	air, airIssues := normalizeAir(raw.AirPayload, key, observedAt, rules)
	status.Issues = append(status.Issues, airIssues...)
	status.Valid = true

	return NormalizedObservation{Weather: w, Air: air, Status: status}, nil
}

// normalizeAir expands the wrapped AirNow observation list into one AirRecord
// per pollutant row. Air payload problems degrade to issues, never to record
// invalidity: the weather half still aggregates. Records adopt the snapshot's
// observation time so same-pass readings pair trivially during
// reconciliation.
func normalizeAir(payload []byte, key EntityKey, observedAt time.Time, rules Rules) ([]AirRecord, []string) {
	if len(payload) == 0 {
		return nil, nil
	}

	obj, err := decodeObject(payload)
	if err != nil {
		return nil, []string{"air payload unparsable"}
	}

	var issues []string
	rows := arrayAt(obj, "observations")
	recs := make([]AirRecord, 0, len(rows))
	for _, row := range rows {
		entry, ok := row.(map[string]any)
		if !ok {
			issues = append(issues, "air observation is not an object")
			continue
		}

		rec := AirRecord{
			Key:           key,
			ObservedAt:    observedAt,
			PollutantRaw:  stringAt(entry, "ParameterName"),
			Lat:           numberAt(entry, "Latitude"),
			Lon:           numberAt(entry, "Longitude"),
			ReportingArea: stringAt(entry, "ReportingArea"),
			StateCode:     stringAt(entry, "StateCode"),
		}
		rec.Pollutant = canonicalPollutant(rec.PollutantRaw)
		if rec.Pollutant == "" {
			issues = append(issues, "air observation missing parameter name")
			continue
		}
		// AirNow reports -999 for missing readings; range validation nulls it.
		rec.AQI = round0p(rangeCheck("aqi", numberAt(entry, "AQI"), rules.Ranges.AQI, &issues))

		recs = append(recs, rec)
	}

	return recs, issues
}

// conditionLabels is the ordered canonical condition list. Matching is by
// substring against the lowercased raw value; first match wins, so compound
// descriptions like "thunderstorm with light rain" resolve to Thunderstorm.
var conditionLabels = []struct {
	label   string
	aliases []string
}{
	{"Thunderstorm", []string{"thunder", "storm"}},
	{"Drizzle", []string{"drizzle"}},
	{"Rain", []string{"rain", "shower"}},
	{"Snow", []string{"snow", "sleet", "blizzard"}},
	{"Fog", []string{"fog", "mist", "haze", "smoke"}},
	{"Clouds", []string{"cloud", "overcast"}},
	{"Clear", []string{"clear", "sun"}},
}

// ConditionOther is the canonical fallback for unmatched condition values.
// The raw label survives on WeatherRecord.ConditionRaw.
const ConditionOther = "Other"

func canonicalCondition(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return ""
	}
	for _, c := range conditionLabels {
		for _, alias := range c.aliases {
			if strings.Contains(value, alias) {
				return c.label
			}
		}
	}
	return ConditionOther
}

// pollutantLabels is the ordered canonical pollutant list. Order doubles as
// the fixed tie-break ranking for the dominance rule. CO sits last because
// "co" is the most collision-prone substring.
var pollutantLabels = []struct {
	label   string
	aliases []string
}{
	{"PM2.5", []string{"pm2.5", "pm25", "pm 2.5"}},
	{"PM10", []string{"pm10", "pm 10"}},
	{"Ozone", []string{"ozone", "o3"}},
	{"NO2", []string{"no2", "nitrogen"}},
	{"SO2", []string{"so2", "sulfur"}},
	{"CO", []string{"co", "carbon"}},
}

// canonicalPollutant maps a provider parameter name to its canonical label.
// Unmatched names pass through uppercased so unexpected pollutants stay
// groupable instead of vanishing; empty input returns "".
func canonicalPollutant(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return ""
	}
	for _, p := range pollutantLabels {
		for _, alias := range p.aliases {
			if strings.Contains(value, alias) {
				return p.label
			}
		}
	}
	return strings.ToUpper(strings.TrimSpace(raw))
}

// pollutantRank orders pollutants for dominance tie-breaks: canonical labels
// rank by table position, pass-through labels after them.
func pollutantRank(label string) int {
	for i, p := range pollutantLabels {
		if p.label == label {
			return i
		}
	}
	return len(pollutantLabels)
}

func decodeObject(payload []byte) (map[string]any, error) {
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.New("null payload")
	}
	return m, nil
}

// valueAt walks nested JSON objects. Missing keys and JSON nulls report !ok.
func valueAt(m map[string]any, path ...string) (any, bool) {
	var cur any = m
	for _, p := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[p]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// numberAt coerces the value at path to a float64. JSON numbers and numeric
// strings coerce; anything else (booleans, objects, word strings) is nil.
func numberAt(m map[string]any, path ...string) *float64 {
	v, ok := valueAt(m, path...)
	if !ok {
		return nil
	}
	switch n := v.(type) {
	case float64:
		return &n
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

func stringAt(m map[string]any, path ...string) string {
	v, ok := valueAt(m, path...)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func arrayAt(m map[string]any, key string) []any {
	arr, _ := m[key].([]any)
	return arr
}

// rangeCheck nulls values outside the validity window and records the
// violation as an issue. Nil input passes through untouched; values are
// nulled, never clamped.
func rangeCheck(field string, v *float64, r Range, issues *[]string) *float64 {
	if v == nil {
		return nil
	}
	if !r.contains(*v) {
		*issues = append(*issues, fmt.Sprintf("%s out of range [%g,%g]: %g", field, r.Min, r.Max, *v))
		return nil
	}
	return v
}

// cToF converts Celsius to Fahrenheit; nil in, nil out.
func cToF(c *float64) *float64 {
	if c == nil {
		return nil
	}
	f := *c*9/5 + 32
	return &f
}

// msToKMH converts meters per second to kilometers per hour; nil in, nil out.
func msToKMH(ms *float64) *float64 {
	if ms == nil {
		return nil
	}
	v := *ms * 3.6
	return &v
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round0p(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := math.Round(*v)
	return &r
}

func round1p(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := round1(*v)
	return &r
}

func round2p(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := round2(*v)
	return &r
}
