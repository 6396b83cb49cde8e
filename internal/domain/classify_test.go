package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyAQI(t *testing.T) {
	bands := DefaultRules().AQIBands

	tests := []struct {
		name          string
		value         *float64
		expectedLabel string
		expectedColor string
		expectedTier  int
	}{
		{"nil value", nil, "Unknown", "Gray", 0},
		{"below table", f64(-1), "Unknown", "Gray", 0},
		{"above table", f64(501), "Unknown", "Gray", 0},
		{"good lower bound", f64(0), "Good", "Green", 1},
		{"good upper bound", f64(50), "Good", "Green", 1},
		{"between integer steps rounds up", f64(50.5), "Moderate", "Yellow", 2},
		{"moderate lower bound", f64(51), "Moderate", "Yellow", 2},
		{"moderate upper bound", f64(100), "Moderate", "Yellow", 2},
		{"sensitive groups", f64(120), "Unhealthy for Sensitive Groups", "Orange", 3},
		{"unhealthy lower bound", f64(151), "Unhealthy", "Red", 4},
		{"very unhealthy", f64(250), "Very Unhealthy", "Purple", 5},
		{"hazardous lower bound", f64(301), "Hazardous", "Maroon", 6},
		{"hazardous upper bound", f64(500), "Hazardous", "Maroon", 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyAQI(bands, tt.value)
			assert.Equal(t, tt.expectedLabel, got.Label)
			assert.Equal(t, tt.expectedColor, got.Color)
			assert.Equal(t, tt.expectedTier, got.Tier)
			assert.NotEmpty(t, got.Advice)
		})
	}

	t.Run("empty table falls back to unknown", func(t *testing.T) {
		assert.Equal(t, UnknownCategory, ClassifyAQI(nil, f64(42)))
	})
}

func TestClassifyTrend(t *testing.T) {
	thresholds := DefaultRules().Trend

	tests := []struct {
		name     string
		delta    *float64
		expected string
	}{
		{"nil delta", nil, TrendNoPrior},
		{"far below significant", f64(-15), TrendSignificantlyBetter},
		{"exactly minus significant", f64(-10), TrendSignificantlyBetter},
		{"exactly minus minor", f64(-2), TrendBetter},
		{"just inside stable low", f64(-1.9), TrendStable},
		{"zero", f64(0), TrendStable},
		{"just inside stable high", f64(1.9), TrendStable},
		{"exactly minor", f64(2), TrendWorse},
		{"mid worse", f64(8), TrendWorse},
		{"just below significant", f64(9.9), TrendWorse},
		{"exactly significant", f64(10), TrendSignificantlyWorse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyTrend(thresholds, tt.delta))
		})
	}
}

func TestClassifyLabel(t *testing.T) {
	rules := DefaultRules()

	t.Run("bands are closed-open", func(t *testing.T) {
		assert.Equal(t, "Fresh", classifyLabel(rules.FreshnessBands, 0, "Unknown"))
		assert.Equal(t, "Fresh", classifyLabel(rules.FreshnessBands, 23.9, "Unknown"))
		assert.Equal(t, "Lagging", classifyLabel(rules.FreshnessBands, 24, "Unknown"))
		assert.Equal(t, "Stale", classifyLabel(rules.FreshnessBands, 100, "Unknown"))
	})

	t.Run("last band includes its upper bound", func(t *testing.T) {
		assert.Equal(t, "Gold", classifyLabel(rules.QualityBands, 100, "Unknown"))
		assert.Equal(t, "Dormant", classifyLabel(rules.FreshnessBands, 87600, "Unknown"))
	})

	t.Run("outside the table returns the fallback", func(t *testing.T) {
		assert.Equal(t, "Unknown", classifyLabel(rules.QualityBands, -1, "Unknown"))
		assert.Equal(t, "Unknown", classifyLabel(rules.FreshnessBands, 87601, "Unknown"))
	})
}

func TestClassifyClimateZone(t *testing.T) {
	zones := DefaultRules().ClimateZones

	tests := []struct {
		name     string
		lat      *float64
		expected string
	}{
		{"nil latitude", nil, "Unknown"},
		{"equator", f64(0), "Tropical"},
		{"southern hemisphere uses absolute latitude", f64(-33.9), "Subtropical"},
		{"mid latitude", f64(41.85), "Temperate"},
		{"arctic circle boundary", f64(66.5), "Polar"},
		{"pole", f64(90), "Polar"},
		{"beyond valid latitude", f64(91), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyClimateZone(zones, tt.lat))
		})
	}
}
