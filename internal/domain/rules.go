package domain

import (
	"errors"
	"fmt"
	"time"
)

// Range bounds one measurement's physically plausible window, inclusive on
// both ends. Values outside it are nulled during normalization.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

func (r Range) contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// RangeRules holds the per-field validity windows.
type RangeRules struct {
	TempC       Range `yaml:"temp_c"`
	HumidityPct Range `yaml:"humidity_pct"`
	PressureHPa Range `yaml:"pressure_hpa"`
	WindSpeedMS Range `yaml:"wind_speed_ms"`
	AQI         Range `yaml:"aqi"`
}

// ReconcileRules bound the cross-source match: an air reading pairs with a
// weather record only within the time gap, and only if the station distance
// (when both coordinate pairs are known) stays under the cap.
type ReconcileRules struct {
	MaxTimeGapMinutes int     `yaml:"max_time_gap_minutes"`
	MaxDistanceKM     float64 `yaml:"max_distance_km"`
}

func (r ReconcileRules) maxGap() time.Duration {
	return time.Duration(r.MaxTimeGapMinutes) * time.Minute
}

// Rules is the complete tunable rule set consumed by the pipeline: validity
// ranges, band tables, trend thresholds, reconciliation bounds, and window
// sizes. DefaultRules covers production use; deployments override via the
// YAML rules file. A Rules value is immutable once validated.
type Rules struct {
	Ranges              RangeRules      `yaml:"ranges"`
	AQIBands            []AQIBand       `yaml:"aqi_bands"`
	Trend               TrendThresholds `yaml:"trend"`
	FreshnessBands      []LabelBand     `yaml:"freshness_bands"`
	QualityBands        []LabelBand     `yaml:"quality_bands"`
	ClimateZones        []LabelBand     `yaml:"climate_zones"`
	Reconcile           ReconcileRules  `yaml:"reconcile"`
	RollingWindowDays   int             `yaml:"rolling_window_days"`
	ActiveMaxAgeHours   float64         `yaml:"active_max_age_hours"`
	ActiveMinQualityPct float64         `yaml:"active_min_quality_pct"`
}

// DefaultRules returns the production defaults: US EPA AQI breakpoints,
// world-record-informed validity ranges, a 7-day rolling window, and a
// 90-minute / 100 km reconciliation bound.
func DefaultRules() Rules {
	return Rules{
		Ranges: RangeRules{
			TempC:       Range{Min: -90, Max: 60},
			HumidityPct: Range{Min: 0, Max: 100},
			PressureHPa: Range{Min: 800, Max: 1100},
			WindSpeedMS: Range{Min: 0, Max: 120},
			AQI:         Range{Min: 0, Max: 500},
		},
		AQIBands: []AQIBand{
			{Min: 0, Max: 50, Label: "Good", Color: "Green", Tier: 1,
				Advice: "Air quality is satisfactory; enjoy outdoor activities."},
			{Min: 51, Max: 100, Label: "Moderate", Color: "Yellow", Tier: 2,
				Advice: "Unusually sensitive people should consider reducing prolonged outdoor exertion."},
			{Min: 101, Max: 150, Label: "Unhealthy for Sensitive Groups", Color: "Orange", Tier: 3,
				Advice: "Sensitive groups should reduce prolonged or heavy outdoor exertion."},
			{Min: 151, Max: 200, Label: "Unhealthy", Color: "Red", Tier: 4,
				Advice: "Everyone should reduce prolonged or heavy outdoor exertion."},
			{Min: 201, Max: 300, Label: "Very Unhealthy", Color: "Purple", Tier: 5,
				Advice: "Everyone should avoid prolonged outdoor exertion; sensitive groups should stay indoors."},
			{Min: 301, Max: 500, Label: "Hazardous", Color: "Maroon", Tier: 6,
				Advice: "Everyone should avoid all outdoor activity."},
		},
		Trend: TrendThresholds{Minor: 2, Significant: 10},
		FreshnessBands: []LabelBand{
			{Min: 0, Max: 24, Label: "Fresh"},
			{Min: 24, Max: 72, Label: "Lagging"},
			{Min: 72, Max: 168, Label: "Stale"},
			{Min: 168, Max: 87600, Label: "Dormant"},
		},
		QualityBands: []LabelBand{
			{Min: 0, Max: 50, Label: "Poor"},
			{Min: 50, Max: 80, Label: "Bronze"},
			{Min: 80, Max: 95, Label: "Silver"},
			{Min: 95, Max: 100, Label: "Gold"},
		},
		ClimateZones: []LabelBand{
			{Min: 0, Max: 23.5, Label: "Tropical"},
			{Min: 23.5, Max: 35, Label: "Subtropical"},
			{Min: 35, Max: 50, Label: "Temperate"},
			{Min: 50, Max: 66.5, Label: "Subarctic"},
			{Min: 66.5, Max: 90, Label: "Polar"},
		},
		Reconcile:           ReconcileRules{MaxTimeGapMinutes: 90, MaxDistanceKM: 100},
		RollingWindowDays:   7,
		ActiveMaxAgeHours:   72,
		ActiveMinQualityPct: 50,
	}
}

// Validate checks structural soundness. Band-table defects (gaps, overlaps,
// reversed bounds) are configuration errors and abort startup; nothing
// downstream re-checks them.
func (r Rules) Validate() error {
	if err := validateAQIBands(r.AQIBands); err != nil {
		return fmt.Errorf("aqi_bands: %w", err)
	}
	for name, bands := range map[string][]LabelBand{
		"freshness_bands": r.FreshnessBands,
		"quality_bands":   r.QualityBands,
		"climate_zones":   r.ClimateZones,
	} {
		if err := validateLabelBands(bands); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	for name, rng := range map[string]Range{
		"temp_c":        r.Ranges.TempC,
		"humidity_pct":  r.Ranges.HumidityPct,
		"pressure_hpa":  r.Ranges.PressureHPa,
		"wind_speed_ms": r.Ranges.WindSpeedMS,
		"aqi":           r.Ranges.AQI,
	} {
		if rng.Min >= rng.Max {
			return fmt.Errorf("ranges.%s: min %v must be below max %v", name, rng.Min, rng.Max)
		}
	}
	if r.Trend.Minor <= 0 || r.Trend.Significant <= r.Trend.Minor {
		return errors.New("trend: want 0 < minor < significant")
	}
	if r.RollingWindowDays < 1 {
		return errors.New("rolling_window_days: must be at least 1")
	}
	if r.Reconcile.MaxTimeGapMinutes < 1 {
		return errors.New("reconcile.max_time_gap_minutes: must be at least 1")
	}
	if r.Reconcile.MaxDistanceKM < 0 {
		return errors.New("reconcile.max_distance_km: must not be negative")
	}
	if r.ActiveMaxAgeHours <= 0 {
		return errors.New("active_max_age_hours: must be positive")
	}
	if r.ActiveMinQualityPct < 0 || r.ActiveMinQualityPct > 100 {
		return errors.New("active_min_quality_pct: must be within [0,100]")
	}
	return nil
}

// validateAQIBands enforces the inclusive integer-step convention:
// ascending, non-overlapping, no gap wider than one AQI point.
func validateAQIBands(bands []AQIBand) error {
	if len(bands) == 0 {
		return errors.New("table is empty")
	}
	for i, b := range bands {
		if b.Min > b.Max {
			return fmt.Errorf("band %q: min %v above max %v", b.Label, b.Min, b.Max)
		}
		if b.Label == "" {
			return fmt.Errorf("band %d: missing label", i)
		}
		if i == 0 {
			continue
		}
		prev := bands[i-1]
		if b.Min <= prev.Max {
			return fmt.Errorf("band %q overlaps %q", b.Label, prev.Label)
		}
		if b.Min-prev.Max > 1 {
			return fmt.Errorf("gap between %q and %q", prev.Label, b.Label)
		}
	}
	return nil
}

// validateLabelBands enforces the closed-open chaining convention: each
// band's Min equals the previous band's Max.
func validateLabelBands(bands []LabelBand) error {
	if len(bands) == 0 {
		return errors.New("table is empty")
	}
	for i, b := range bands {
		if b.Min >= b.Max {
			return fmt.Errorf("band %q: min %v not below max %v", b.Label, b.Min, b.Max)
		}
		if b.Label == "" {
			return fmt.Errorf("band %d: missing label", i)
		}
		if i > 0 && b.Min != bands[i-1].Max {
			return fmt.Errorf("band %q does not chain from %q", b.Label, bands[i-1].Label)
		}
	}
	return nil
}
