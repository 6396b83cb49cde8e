package domain

import "sort"

// ApplyTrends computes the sequential enrichment for each entity's fact
// history: lag delta against the previous row, rolling average over the
// trailing window, and a banded trend label, independently for average
// temperature and overall AQI. Facts partition strictly by entity and fold in
// date order; two entities' histories never mix.
//
// Lag is defined by sequence adjacency, not literal day difference: after a
// date gap the delta compares against the last existing day. The first row of
// a history keeps nil deltas and a rolling average equal to its own value.
// Rows whose metric is nil contribute nothing to the window average but still
// occupy a window slot.
func ApplyTrends(facts []DailyFact, rules Rules) []DailyFact {
	out := make([]DailyFact, len(facts))
	copy(out, facts)
	sort.Slice(out, func(i, j int) bool {
		if ci, cj := out[i].Key().canonical(), out[j].Key().canonical(); ci != cj {
			return ci < cj
		}
		return out[i].FactDate.Before(out[j].FactDate)
	})

	window := rules.RollingWindowDays
	var (
		entity            string
		prevTemp, prevAQI *float64
		tempWin, aqiWin   []*float64
	)
	for i := range out {
		f := &out[i]
		if key := f.Key().canonical(); key != entity {
			entity = key
			prevTemp, prevAQI = nil, nil
			tempWin, aqiWin = nil, nil
		}

		f.PrevTempAvgC = prevTemp
		f.TempDeltaC = round1p(deltaOf(f.TempAvgC, prevTemp))
		f.TempTrend = ClassifyTrend(rules.Trend, f.TempDeltaC)
		tempWin = pushWindow(tempWin, f.TempAvgC, window)
		f.TempRollingC = round2p(windowAvg(tempWin))

		f.PrevOverallAQI = prevAQI
		f.AQIDelta = round1p(deltaOf(f.OverallAQI, prevAQI))
		f.AQITrend = ClassifyTrend(rules.Trend, f.AQIDelta)
		aqiWin = pushWindow(aqiWin, f.OverallAQI, window)
		f.AQIRollingAvg = round2p(windowAvg(aqiWin))

		prevTemp = f.TempAvgC
		prevAQI = f.OverallAQI
	}
	return out
}

// deltaOf subtracts prev from cur; nil when either side is missing.
func deltaOf(cur, prev *float64) *float64 {
	if cur == nil || prev == nil {
		return nil
	}
	d := *cur - *prev
	return &d
}

// pushWindow appends the row's value (nil included) and trims to the trailing
// n slots, so the window always spans the last n rows of the sequence.
func pushWindow(win []*float64, v *float64, n int) []*float64 {
	win = append(win, v)
	if len(win) > n {
		win = win[len(win)-n:]
	}
	return win
}

// windowAvg averages the non-nil values in the window. Partial windows
// average whatever exists; an all-nil window is nil, never zero.
func windowAvg(win []*float64) *float64 {
	sum, n := 0.0, 0
	for _, v := range win {
		if v == nil {
			continue
		}
		sum += *v
		n++
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}
