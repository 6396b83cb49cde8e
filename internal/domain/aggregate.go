package domain

import (
	"sort"
	"time"
)

// dateOf truncates a timestamp to its UTC calendar date, the aggregation grain.
func dateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// accumulator tracks sum/min/max over the non-nil samples of one field.
// A field with zero usable samples aggregates to nil, never to zero.
type accumulator struct {
	sum, lo, hi float64
	n           int
}

func (a *accumulator) add(v *float64) {
	if v == nil {
		return
	}
	if a.n == 0 || *v < a.lo {
		a.lo = *v
	}
	if a.n == 0 || *v > a.hi {
		a.hi = *v
	}
	a.sum += *v
	a.n++
}

func (a accumulator) avg() *float64 {
	if a.n == 0 {
		return nil
	}
	v := a.sum / float64(a.n)
	return &v
}

func (a accumulator) min() *float64 {
	if a.n == 0 {
		return nil
	}
	v := a.lo
	return &v
}

func (a accumulator) max() *float64 {
	if a.n == 0 {
		return nil
	}
	v := a.hi
	return &v
}

// modeOf returns the most frequent label; ties resolve to the
// lexicographically smallest so reruns stay deterministic.
func modeOf(counts map[string]int) string {
	var best string
	bestN := 0
	for label, n := range counts {
		if n > bestN || (n == bestN && (best == "" || label < best)) {
			best, bestN = label, n
		}
	}
	return best
}

type weatherGroup struct {
	key  EntityKey
	date time.Time

	temp, feels, tempLo, tempHi accumulator
	humidity, pressure, wind    accumulator
	airDist                     accumulator
	conditions                  map[string]int
	count, airMatches           int
	first, last                 time.Time
}

// BuildWeatherDaily groups reconciled observations by (entity, UTC date) and
// aggregates the weather side of the daily grain. No input for a group means
// no row; a group never materializes empty.
func BuildWeatherDaily(recs []ReconciledObservation) []WeatherDailyAggregate {
	type gk struct {
		entity string
		date   time.Time
	}
	groups := make(map[gk]*weatherGroup)

	for _, r := range recs {
		w := r.Weather
		k := gk{w.Key.canonical(), dateOf(w.ObservedAt)}
		g, ok := groups[k]
		if !ok {
			g = &weatherGroup{
				key:        w.Key,
				date:       k.date,
				conditions: make(map[string]int),
				first:      w.ObservedAt,
				last:       w.ObservedAt,
			}
			groups[k] = g
		}

		g.temp.add(w.TempC)
		g.feels.add(w.FeelsLikeC)
		// Daily extremes cover both the spot reading and the provider's
		// reported area min/max for that reading.
		g.tempLo.add(w.TempC)
		g.tempLo.add(w.TempMinC)
		g.tempHi.add(w.TempC)
		g.tempHi.add(w.TempMaxC)
		g.humidity.add(w.HumidityPct)
		g.pressure.add(w.PressureHPa)
		g.wind.add(w.WindSpeedMS)
		if w.Condition != "" {
			g.conditions[w.Condition]++
		}
		g.count++
		if w.ObservedAt.Before(g.first) {
			g.first = w.ObservedAt
		}
		if w.ObservedAt.After(g.last) {
			g.last = w.ObservedAt
		}
		if r.AirObservedAt != nil {
			g.airMatches++
		}
		g.airDist.add(r.AirDistanceKM)
	}

	rows := make([]WeatherDailyAggregate, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, WeatherDailyAggregate{
			Key:              g.key,
			Date:             g.date,
			TempAvgC:         round1p(g.temp.avg()),
			TempMinC:         round1p(g.tempLo.min()),
			TempMaxC:         round1p(g.tempHi.max()),
			FeelsLikeAvgC:    round1p(g.feels.avg()),
			HumidityAvgPct:   round0p(g.humidity.avg()),
			PressureAvgHPa:   round0p(g.pressure.avg()),
			WindAvgMS:        round1p(g.wind.avg()),
			WindMaxMS:        round1p(g.wind.max()),
			ConditionMode:    modeOf(g.conditions),
			SampleCount:      g.count,
			AirMatchCount:    g.airMatches,
			AirDistanceAvgKM: round1p(g.airDist.avg()),
			FirstObservedAt:  g.first,
			LastObservedAt:   g.last,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if ci, cj := rows[i].Key.canonical(), rows[j].Key.canonical(); ci != cj {
			return ci < cj
		}
		return rows[i].Date.Before(rows[j].Date)
	})
	return rows
}

type airGroup struct {
	key         EntityKey
	date        time.Time
	pollutants  map[string]*pollutantAgg
	count       int
	first, last time.Time
}

type pollutantAgg struct {
	aqi accumulator
	n   int
}

// BuildAirDaily groups air records by (entity, UTC date, pollutant),
// aggregates AQI per pollutant, and rolls pollutants up with the dominance
// rule: overall AQI is the worst per-pollutant average, and the primary
// pollutant is the one achieving it, ties going to canonical pollutant order.
func BuildAirDaily(recs []AirRecord) []AirDailySummary {
	type gk struct {
		entity string
		date   time.Time
	}
	groups := make(map[gk]*airGroup)

	for _, a := range recs {
		k := gk{a.Key.canonical(), dateOf(a.ObservedAt)}
		g, ok := groups[k]
		if !ok {
			g = &airGroup{
				key:        a.Key,
				date:       k.date,
				pollutants: make(map[string]*pollutantAgg),
				first:      a.ObservedAt,
				last:       a.ObservedAt,
			}
			groups[k] = g
		}

		p, ok := g.pollutants[a.Pollutant]
		if !ok {
			p = &pollutantAgg{}
			g.pollutants[a.Pollutant] = p
		}
		p.aqi.add(a.AQI)
		p.n++
		g.count++
		if a.ObservedAt.Before(g.first) {
			g.first = a.ObservedAt
		}
		if a.ObservedAt.After(g.last) {
			g.last = a.ObservedAt
		}
	}

	summaries := make([]AirDailySummary, 0, len(groups))
	for _, g := range groups {
		labels := make([]string, 0, len(g.pollutants))
		for label := range g.pollutants {
			labels = append(labels, label)
		}
		sort.Slice(labels, func(i, j int) bool {
			if ri, rj := pollutantRank(labels[i]), pollutantRank(labels[j]); ri != rj {
				return ri < rj
			}
			return labels[i] < labels[j]
		})

		pols := make([]PollutantDailyAggregate, 0, len(labels))
		var overall *float64
		primary := ""
		for _, label := range labels {
			p := g.pollutants[label]
			pol := PollutantDailyAggregate{
				Pollutant:   label,
				AQIAvg:      round1p(p.aqi.avg()),
				AQIMin:      round0p(p.aqi.min()),
				AQIMax:      round0p(p.aqi.max()),
				SampleCount: p.n,
			}
			pols = append(pols, pol)
			// Strict > keeps the first pollutant in rank order on ties.
			if pol.AQIAvg != nil && (overall == nil || *pol.AQIAvg > *overall) {
				overall, primary = pol.AQIAvg, label
			}
		}

		summaries = append(summaries, AirDailySummary{
			Key:              g.key,
			Date:             g.date,
			OverallAQI:       round0p(overall),
			PrimaryPollutant: primary,
			Pollutants:       pols,
			SampleCount:      g.count,
			FirstObservedAt:  g.first,
			LastObservedAt:   g.last,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if ci, cj := summaries[i].Key.canonical(), summaries[j].Key.canonical(); ci != cj {
			return ci < cj
		}
		return summaries[i].Date.Before(summaries[j].Date)
	})
	return summaries
}

// BuildDailyFacts outer-joins the two daily aggregate sets on (entity, date),
// derives the surrogate key, and classifies the overall AQI. Weather-only and
// air-only days both produce a fact; the missing side's fields stay nil and
// an absent AQI classifies as Unknown. Trend fields stay empty until
// ApplyTrends.
func BuildDailyFacts(weather []WeatherDailyAggregate, air []AirDailySummary, rules Rules) []DailyFact {
	type gk struct {
		entity string
		date   time.Time
	}
	facts := make(map[gk]*DailyFact)
	ensure := func(key EntityKey, date time.Time) *DailyFact {
		k := gk{key.canonical(), date}
		f, ok := facts[k]
		if !ok {
			f = &DailyFact{City: key.City, Country: key.Country, FactDate: date}
			facts[k] = f
		}
		return f
	}

	for _, w := range weather {
		f := ensure(w.Key, w.Date)
		f.TempAvgC = w.TempAvgC
		f.TempMinC = w.TempMinC
		f.TempMaxC = w.TempMaxC
		f.HumidityAvgPct = w.HumidityAvgPct
		f.PressureAvgHPa = w.PressureAvgHPa
		f.WindAvgMS = w.WindAvgMS
		f.WindMaxMS = w.WindMaxMS
		f.ConditionMode = w.ConditionMode
		f.WeatherSamples = w.SampleCount
		f.AirDistanceKM = w.AirDistanceAvgKM
		f.FirstObservedAt = w.FirstObservedAt
		f.LastObservedAt = w.LastObservedAt
	}

	for _, a := range air {
		f := ensure(a.Key, a.Date)
		f.OverallAQI = a.OverallAQI
		f.PrimaryPollutant = a.PrimaryPollutant
		f.Pollutants = a.Pollutants
		f.AirSamples = a.SampleCount
		if f.FirstObservedAt.IsZero() || a.FirstObservedAt.Before(f.FirstObservedAt) {
			f.FirstObservedAt = a.FirstObservedAt
		}
		if a.LastObservedAt.After(f.LastObservedAt) {
			f.LastObservedAt = a.LastObservedAt
		}
	}

	now := clock.Now().UTC()
	out := make([]DailyFact, 0, len(facts))
	for _, f := range facts {
		cat := ClassifyAQI(rules.AQIBands, f.OverallAQI)
		f.AQICategory = cat.Label
		f.AQIColor = cat.Color
		f.SeverityTier = cat.Tier
		f.HealthAdvice = cat.Advice
		f.FactKey = FactKey(f.Key(), f.FactDate)
		f.ComputedAt = now
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if ci, cj := out[i].Key().canonical(), out[j].Key().canonical(); ci != cj {
			return ci < cj
		}
		return out[i].FactDate.Before(out[j].FactDate)
	})
	return out
}
