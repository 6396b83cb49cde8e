package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func obsStatus(city string, at time.Time, valid bool) ObservationStatus {
	return ObservationStatus{
		Key:        EntityKey{City: city, Country: "US"},
		ObservedAt: at,
		Valid:      valid,
	}
}

func TestBuildDimension(t *testing.T) {
	rules := DefaultRules()
	asOf := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	t.Run("empty history yields nothing", func(t *testing.T) {
		_, ok := BuildDimension(nil, asOf, rules)
		assert.False(t, ok)
	})

	t.Run("counts, quality, and freshness", func(t *testing.T) {
		history := []ObservationStatus{
			obsStatus("Chicago", asOf.Add(-72*time.Hour), true),
			obsStatus("Chicago", asOf.Add(-48*time.Hour), true),
			obsStatus("Chicago", asOf.Add(-24*time.Hour), false),
			obsStatus("Chicago", asOf.Add(-10*time.Hour), true),
		}

		dim, ok := BuildDimension(history, asOf, rules)
		require.True(t, ok)

		assert.Equal(t, CityKey(EntityKey{City: "Chicago", Country: "US"}), dim.CityKey)
		assert.Equal(t, "Chicago", dim.City)
		assert.Equal(t, asOf.Add(-72*time.Hour), dim.FirstSeen)
		assert.Equal(t, asOf.Add(-10*time.Hour), dim.LastSeen)
		assert.Equal(t, 4, dim.ObservationCount)
		assert.Equal(t, 3, dim.ValidCount)
		assert.Equal(t, 1, dim.InvalidCount)
		assert.Equal(t, 75.0, dim.QualityPct)
		assert.Equal(t, "Bronze", dim.QualityTier)
		assert.Equal(t, "Fresh", dim.FreshnessTier)
		assert.True(t, dim.IsActive)
		assert.Equal(t, asOf, dim.UpdatedAt)
	})

	t.Run("quality percentage rounds to one decimal", func(t *testing.T) {
		history := []ObservationStatus{
			obsStatus("Chicago", asOf.Add(-3*time.Hour), true),
			obsStatus("Chicago", asOf.Add(-2*time.Hour), true),
			obsStatus("Chicago", asOf.Add(-1*time.Hour), false),
		}

		dim, ok := BuildDimension(history, asOf, rules)
		require.True(t, ok)
		assert.Equal(t, 66.7, dim.QualityPct)
	})

	t.Run("stale history is inactive", func(t *testing.T) {
		history := []ObservationStatus{obsStatus("Chicago", asOf.Add(-100*time.Hour), true)}

		dim, ok := BuildDimension(history, asOf, rules)
		require.True(t, ok)
		assert.Equal(t, "Stale", dim.FreshnessTier)
		assert.False(t, dim.IsActive)
	})

	t.Run("poor quality is inactive even when fresh", func(t *testing.T) {
		history := []ObservationStatus{
			obsStatus("Chicago", asOf.Add(-2*time.Hour), false),
			obsStatus("Chicago", asOf.Add(-1*time.Hour), false),
			obsStatus("Chicago", asOf.Add(-30*time.Minute), true),
		}

		dim, ok := BuildDimension(history, asOf, rules)
		require.True(t, ok)
		assert.Equal(t, "Fresh", dim.FreshnessTier)
		assert.Equal(t, "Poor", dim.QualityTier)
		assert.False(t, dim.IsActive)
	})

	t.Run("latest known coordinates win", func(t *testing.T) {
		older := obsStatus("Chicago", asOf.Add(-3*time.Hour), true)
		older.Lat, older.Lon = f64(41.0), f64(-88.0)
		newer := obsStatus("Chicago", asOf.Add(-2*time.Hour), true)
		newer.Lat, newer.Lon = f64(41.85), f64(-87.65)
		newestNoCoords := obsStatus("Chicago", asOf.Add(-1*time.Hour), true)

		dim, ok := BuildDimension([]ObservationStatus{older, newestNoCoords, newer}, asOf, rules)
		require.True(t, ok)
		assert.Equal(t, f64(41.85), dim.Latitude)
		assert.Equal(t, f64(-87.65), dim.Longitude)
	})

	t.Run("geographic tags from coordinates", func(t *testing.T) {
		s := obsStatus("Sydney", asOf.Add(-time.Hour), true)
		s.Lat, s.Lon = f64(-33.87), f64(151.21)

		dim, ok := BuildDimension([]ObservationStatus{s}, asOf, rules)
		require.True(t, ok)
		assert.Equal(t, "Subtropical", dim.ClimateZone)
		assert.Equal(t, "Southern", dim.Hemisphere)
		require.NotNil(t, dim.UTCOffsetHours)
		assert.Equal(t, 10, *dim.UTCOffsetHours)
	})

	t.Run("no coordinates anywhere in history", func(t *testing.T) {
		dim, ok := BuildDimension([]ObservationStatus{obsStatus("Chicago", asOf.Add(-time.Hour), true)}, asOf, rules)
		require.True(t, ok)

		assert.Nil(t, dim.Latitude)
		assert.Equal(t, "Unknown", dim.ClimateZone)
		assert.Empty(t, dim.Hemisphere)
		assert.Nil(t, dim.UTCOffsetHours)
	})

	t.Run("reruns reproduce identical rows", func(t *testing.T) {
		history := []ObservationStatus{
			obsStatus("Chicago", asOf.Add(-2*time.Hour), true),
			obsStatus("Chicago", asOf.Add(-1*time.Hour), false),
		}

		first, ok := BuildDimension(history, asOf, rules)
		require.True(t, ok)
		second, ok := BuildDimension(history, asOf, rules)
		require.True(t, ok)
		assert.Equal(t, first, second)
	})
}

func TestBuildDimensions(t *testing.T) {
	rules := DefaultRules()
	asOf := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	statuses := []ObservationStatus{
		obsStatus("Boston", asOf.Add(-2*time.Hour), true),
		obsStatus("Albany", asOf.Add(-1*time.Hour), true),
		obsStatus("boston", asOf.Add(-1*time.Hour), false),
	}

	dims := BuildDimensions(statuses, asOf, rules)
	require.Len(t, dims, 2)

	byCity := map[string]EntityDimension{}
	for _, d := range dims {
		byCity[d.City] = d
	}

	require.Contains(t, byCity, "Boston")
	assert.Equal(t, 2, byCity["Boston"].ObservationCount)
	assert.Equal(t, 50.0, byCity["Boston"].QualityPct)
	require.Contains(t, byCity, "Albany")
	assert.Equal(t, 1, byCity["Albany"].ObservationCount)

	t.Run("sorted by city key", func(t *testing.T) {
		assert.True(t, dims[0].CityKey < dims[1].CityKey)
	})
}
