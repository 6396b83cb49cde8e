package domain

import (
	"math"
	"sort"
	"time"
)

// BuildDimensions derives one EntityDimension per entity from the full status
// history, relative to an explicit as-of timestamp: reruns over the same
// history and as-of reproduce identical rows. Output sorts by entity.
func BuildDimensions(statuses []ObservationStatus, asOf time.Time, rules Rules) []EntityDimension {
	byEntity := make(map[string][]ObservationStatus)
	for _, s := range statuses {
		c := s.Key.canonical()
		byEntity[c] = append(byEntity[c], s)
	}

	dims := make([]EntityDimension, 0, len(byEntity))
	for _, history := range byEntity {
		if d, ok := BuildDimension(history, asOf, rules); ok {
			dims = append(dims, d)
		}
	}
	sort.Slice(dims, func(i, j int) bool { return dims[i].CityKey < dims[j].CityKey })
	return dims
}

// BuildDimension computes one entity's dimension row from its status history:
// quality ratio and tier, freshness relative to asOf, geographic tags from
// the latest known coordinates, and the is_active conjunction of recency and
// quality. ok is false for an empty history.
func BuildDimension(history []ObservationStatus, asOf time.Time, rules Rules) (EntityDimension, bool) {
	if len(history) == 0 {
		return EntityDimension{}, false
	}

	key := history[0].Key
	first, last := history[0].ObservedAt, history[0].ObservedAt
	var (
		lat, lon *float64
		coordAt  time.Time
		valid    int
	)
	for _, s := range history {
		if s.ObservedAt.Before(first) {
			first = s.ObservedAt
		}
		if s.ObservedAt.After(last) {
			last = s.ObservedAt
		}
		if s.Valid {
			valid++
		}
		if s.Lat != nil && s.Lon != nil && (lat == nil || s.ObservedAt.After(coordAt)) {
			lat, lon, coordAt = s.Lat, s.Lon, s.ObservedAt
		}
	}

	total := len(history)
	pct := round1(float64(valid) / float64(total) * 100)
	hours := asOf.Sub(last).Hours()

	return EntityDimension{
		CityKey:          CityKey(key),
		City:             key.City,
		Country:          key.Country,
		Latitude:         lat,
		Longitude:        lon,
		ClimateZone:      ClassifyClimateZone(rules.ClimateZones, lat),
		Hemisphere:       hemisphere(lat),
		UTCOffsetHours:   utcOffset(lon),
		FirstSeen:        first.UTC(),
		LastSeen:         last.UTC(),
		ObservationCount: total,
		ValidCount:       valid,
		InvalidCount:     total - valid,
		QualityPct:       pct,
		QualityTier:      classifyLabel(rules.QualityBands, pct, UnknownCategory.Label),
		FreshnessTier:    classifyLabel(rules.FreshnessBands, hours, UnknownCategory.Label),
		IsActive:         hours <= rules.ActiveMaxAgeHours && pct >= rules.ActiveMinQualityPct,
		UpdatedAt:        asOf.UTC(),
	}, true
}

// hemisphere names the side of the equator; the equator itself counts as
// Northern.
func hemisphere(lat *float64) string {
	if lat == nil {
		return ""
	}
	if *lat < 0 {
		return "Southern"
	}
	return "Northern"
}

// utcOffset estimates the timezone offset from longitude alone, 15° per
// hour. Ignores political timezone boundaries; no geocoder involved.
func utcOffset(lon *float64) *int {
	if lon == nil {
		return nil
	}
	off := int(math.Round(*lon / 15))
	return &off
}
