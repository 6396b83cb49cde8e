package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trendFact(city string, date time.Time, temp, aqi *float64) DailyFact {
	return DailyFact{
		City:       city,
		Country:    "US",
		FactDate:   date,
		TempAvgC:   temp,
		OverallAQI: aqi,
	}
}

func TestApplyTrends(t *testing.T) {
	rules := DefaultRules()
	day := func(n int) time.Time {
		return time.Date(2026, 8, n, 0, 0, 0, 0, time.UTC)
	}

	t.Run("first row has no prior data", func(t *testing.T) {
		out := ApplyTrends([]DailyFact{trendFact("Riverton", day(1), f64(10), nil)}, rules)
		require.Len(t, out, 1)

		f := out[0]
		assert.Nil(t, f.PrevTempAvgC)
		assert.Nil(t, f.TempDeltaC)
		assert.Equal(t, TrendNoPrior, f.TempTrend)
		assert.Equal(t, f64(10), f.TempRollingC)
		assert.Nil(t, f.AQIDelta)
		assert.Equal(t, TrendNoPrior, f.AQITrend)
		assert.Nil(t, f.AQIRollingAvg)
	})

	t.Run("day-over-day delta and label", func(t *testing.T) {
		out := ApplyTrends([]DailyFact{
			trendFact("Riverton", day(1), f64(10), nil),
			trendFact("Riverton", day(2), f64(18), nil),
		}, rules)
		require.Len(t, out, 2)

		f := out[1]
		assert.Equal(t, f64(10), f.PrevTempAvgC)
		assert.Equal(t, f64(8), f.TempDeltaC)
		assert.Equal(t, TrendWorse, f.TempTrend)
		assert.Equal(t, f64(14), f.TempRollingC)
	})

	t.Run("lag follows sequence adjacency across date gaps", func(t *testing.T) {
		out := ApplyTrends([]DailyFact{
			trendFact("Riverton", day(1), f64(10), nil),
			trendFact("Riverton", day(2), f64(12), nil),
			trendFact("Riverton", day(7), f64(13), nil),
		}, rules)
		require.Len(t, out, 3)

		f := out[2]
		assert.Equal(t, f64(12), f.PrevTempAvgC)
		assert.Equal(t, f64(1), f.TempDeltaC)
		assert.Equal(t, TrendStable, f.TempTrend)
	})

	t.Run("rolling window keeps the trailing rows", func(t *testing.T) {
		windowed := rules
		windowed.RollingWindowDays = 3
		out := ApplyTrends([]DailyFact{
			trendFact("Riverton", day(1), f64(1), nil),
			trendFact("Riverton", day(2), f64(2), nil),
			trendFact("Riverton", day(3), f64(3), nil),
			trendFact("Riverton", day(4), f64(4), nil),
			trendFact("Riverton", day(5), f64(5), nil),
		}, windowed)
		require.Len(t, out, 5)

		assert.Equal(t, f64(2), out[2].TempRollingC)
		assert.Equal(t, f64(3), out[3].TempRollingC)
		assert.Equal(t, f64(4), out[4].TempRollingC)
	})

	t.Run("nil metric breaks deltas on both sides", func(t *testing.T) {
		out := ApplyTrends([]DailyFact{
			trendFact("Riverton", day(1), f64(20), nil),
			trendFact("Riverton", day(2), nil, nil),
			trendFact("Riverton", day(3), f64(30), nil),
		}, rules)
		require.Len(t, out, 3)

		assert.Nil(t, out[1].TempDeltaC)
		assert.Equal(t, TrendNoPrior, out[1].TempTrend)
		assert.Equal(t, f64(20), out[1].TempRollingC)

		assert.Nil(t, out[2].PrevTempAvgC)
		assert.Nil(t, out[2].TempDeltaC)
		assert.Equal(t, TrendNoPrior, out[2].TempTrend)
		assert.Equal(t, f64(25), out[2].TempRollingC)
	})

	t.Run("entities fold independently", func(t *testing.T) {
		out := ApplyTrends([]DailyFact{
			trendFact("Boston", day(1), f64(10), nil),
			trendFact("Albany", day(2), f64(30), nil),
			trendFact("Boston", day(2), f64(12), nil),
		}, rules)
		require.Len(t, out, 3)

		assert.Equal(t, "Albany", out[0].City)
		assert.Nil(t, out[0].TempDeltaC)

		assert.Equal(t, "Boston", out[1].City)
		assert.Nil(t, out[1].TempDeltaC)
		assert.Equal(t, "Boston", out[2].City)
		assert.Equal(t, f64(2), out[2].TempDeltaC)
		assert.Equal(t, f64(11), out[2].TempRollingC)
	})

	t.Run("aqi trends ride the same fold", func(t *testing.T) {
		out := ApplyTrends([]DailyFact{
			trendFact("Riverton", day(1), nil, f64(50)),
			trendFact("Riverton", day(2), nil, f64(150)),
		}, rules)
		require.Len(t, out, 2)

		f := out[1]
		assert.Equal(t, f64(50), f.PrevOverallAQI)
		assert.Equal(t, f64(100), f.AQIDelta)
		assert.Equal(t, TrendSignificantlyWorse, f.AQITrend)
		assert.Equal(t, f64(100), f.AQIRollingAvg)
	})

	t.Run("input order never matters", func(t *testing.T) {
		ordered := []DailyFact{
			trendFact("Riverton", day(1), f64(10), nil),
			trendFact("Riverton", day(2), f64(18), nil),
		}
		shuffled := []DailyFact{ordered[1], ordered[0]}

		assert.Equal(t, ApplyTrends(ordered, rules), ApplyTrends(shuffled, rules))
	})

	t.Run("input slice stays untouched", func(t *testing.T) {
		in := []DailyFact{trendFact("Riverton", day(1), f64(10), nil)}
		_ = ApplyTrends(in, rules)

		assert.Empty(t, in[0].TempTrend)
		assert.Nil(t, in[0].TempRollingC)
	})
}
