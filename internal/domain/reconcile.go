package domain

import (
	"math"
	"sort"
	"time"
)

// stationSnapshot groups the air records one station reported at one instant.
// AirNow returns every pollutant for a location in a single response, so the
// rows of one fetch share entity, coordinates, and observation time.
type stationSnapshot struct {
	at   time.Time
	lat  *float64
	lon  *float64
	recs []AirRecord
}

// Reconcile pairs each weather record with the nearest in-window air-quality
// snapshot for the same entity: nearest in time first, ties broken by smaller
// station distance, then by earlier snapshot. Weather records always survive;
// an unmatched record keeps nil air fields. Output order follows input order.
func Reconcile(weather []WeatherRecord, air []AirRecord, rules Rules) []ReconciledObservation {
	snapshots := groupSnapshots(air)

	out := make([]ReconciledObservation, 0, len(weather))
	for _, w := range weather {
		rec := ReconciledObservation{Weather: w}
		if snap, dist, ok := matchSnapshot(w, snapshots[w.Key.canonical()], rules.Reconcile); ok {
			aqi, pollutant := dominantReading(snap.recs)
			at := snap.at
			rec.AirAQI = aqi
			rec.AirPollutant = pollutant
			rec.AirObservedAt = &at
			rec.AirDistanceKM = dist
		}
		out = append(out, rec)
	}
	return out
}

func groupSnapshots(air []AirRecord) map[string][]stationSnapshot {
	type slot struct {
		entity string
		at     int64
	}
	grouped := make(map[slot]*stationSnapshot)
	for _, a := range air {
		s := slot{entity: a.Key.canonical(), at: a.ObservedAt.Unix()}
		snap, ok := grouped[s]
		if !ok {
			snap = &stationSnapshot{at: a.ObservedAt}
			grouped[s] = snap
		}
		if snap.lat == nil {
			snap.lat, snap.lon = a.Lat, a.Lon
		}
		snap.recs = append(snap.recs, a)
	}

	byEntity := make(map[string][]stationSnapshot)
	for s, snap := range grouped {
		byEntity[s.entity] = append(byEntity[s.entity], *snap)
	}
	for _, snaps := range byEntity {
		sort.Slice(snaps, func(i, j int) bool { return snaps[i].at.Before(snaps[j].at) })
	}
	return byEntity
}

// matchSnapshot selects the qualifying snapshot for one weather record.
// Snapshots outside the time gap are out; snapshots with a known distance
// above the cap are out. Unknown distances (either side missing coordinates)
// qualify on time alone.
func matchSnapshot(w WeatherRecord, snaps []stationSnapshot, rules ReconcileRules) (stationSnapshot, *float64, bool) {
	var (
		best     stationSnapshot
		bestDist *float64
		bestGap  time.Duration
		found    bool
	)
	for _, snap := range snaps {
		gap := w.ObservedAt.Sub(snap.at)
		if gap < 0 {
			gap = -gap
		}
		if gap > rules.maxGap() {
			continue
		}

		var dist *float64
		if w.Lat != nil && w.Lon != nil && snap.lat != nil && snap.lon != nil {
			d := round1(approxDistanceKM(*w.Lat, *w.Lon, *snap.lat, *snap.lon))
			if rules.MaxDistanceKM > 0 && d > rules.MaxDistanceKM {
				continue
			}
			dist = &d
		}

		if !found || gap < bestGap || (gap == bestGap && closer(dist, bestDist)) {
			best, bestDist, bestGap, found = snap, dist, gap, true
		}
	}
	return best, bestDist, found
}

// closer reports whether a beats b for the distance tie-break. A known
// distance beats an unknown one; two unknowns keep the incumbent.
func closer(a, b *float64) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return *a < *b
}

// dominantReading picks the snapshot's worst reading: highest AQI wins,
// ties going to the pollutant ranked earlier in the canonical ordering.
func dominantReading(recs []AirRecord) (*float64, string) {
	var (
		best      *float64
		pollutant string
	)
	for _, r := range recs {
		if r.AQI == nil {
			continue
		}
		if best == nil || *r.AQI > *best ||
			(*r.AQI == *best && pollutantRank(r.Pollutant) < pollutantRank(pollutant)) {
			best, pollutant = r.AQI, r.Pollutant
		}
	}
	return best, pollutant
}

const kmPerDegree = 111.32

// approxDistanceKM computes the flat-Earth distance in kilometers between two
// coordinate pairs, compressing longitude by the cosine of the mean latitude.
// Accurate to a few percent at station-matching scale.
func approxDistanceKM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := lat2 - lat1
	meanLat := (lat1 + lat2) / 2 * math.Pi / 180
	dLon := (lon2 - lon1) * math.Cos(meanLat)
	return math.Sqrt(dLat*dLat+dLon*dLon) * kmPerDegree
}
