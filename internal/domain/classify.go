package domain

// AQIBand is one row of the AQI classification table. Min and Max are both
// inclusive; bands step in whole AQI points ([0,50], [51,100], ...) following
// the US EPA breakpoint convention.
type AQIBand struct {
	Min    float64 `yaml:"min"`
	Max    float64 `yaml:"max"`
	Label  string  `yaml:"label"`
	Color  string  `yaml:"color"`
	Tier   int     `yaml:"tier"`
	Advice string  `yaml:"advice"`
}

// AQICategory is the result of an AQI band lookup.
type AQICategory struct {
	Label  string
	Color  string
	Tier   int
	Advice string
}

// UnknownCategory is the fallback for nil and out-of-table values. Tier 0
// sorts below every real band.
var UnknownCategory = AQICategory{
	Label:  "Unknown",
	Color:  "Gray",
	Tier:   0,
	Advice: "No air quality data available.",
}

// ClassifyAQI maps a value to its AQI category. Total: nil, below-table, and
// above-table inputs all return UnknownCategory. A value falling between two
// integer-stepped bands (e.g. 50.5) classifies into the higher band.
func ClassifyAQI(bands []AQIBand, v *float64) AQICategory {
	if v == nil || len(bands) == 0 || *v < bands[0].Min {
		return UnknownCategory
	}
	for _, b := range bands {
		if *v <= b.Max {
			return AQICategory{Label: b.Label, Color: b.Color, Tier: b.Tier, Advice: b.Advice}
		}
	}
	return UnknownCategory
}

// LabelBand is one row of a label-only band table (freshness, quality,
// climate zone). Bands are closed-open [Min,Max); the last band includes its
// upper bound.
type LabelBand struct {
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`
	Label string  `yaml:"label"`
}

// classifyLabel looks v up in an ordered label-band table, returning fallback
// for values outside it.
func classifyLabel(bands []LabelBand, v float64, fallback string) string {
	for i, b := range bands {
		last := i == len(bands)-1
		if v >= b.Min && (v < b.Max || (last && v <= b.Max)) {
			return b.Label
		}
	}
	return fallback
}

// Trend labels, worst to best, plus the sentinel for rows with no usable delta.
const (
	TrendSignificantlyWorse  = "Significantly Worse"
	TrendWorse               = "Worse"
	TrendStable              = "Stable"
	TrendBetter              = "Better"
	TrendSignificantlyBetter = "Significantly Better"
	TrendNoPrior             = "No Prior Data"
)

// TrendThresholds band lag deltas symmetrically around zero. Minor is the
// half-width of the Stable band; Significant is where Worse escalates to
// Significantly Worse (and Better to Significantly Better).
type TrendThresholds struct {
	Minor       float64 `yaml:"minor"`
	Significant float64 `yaml:"significant"`
}

// ClassifyTrend bands a lag delta. Sign convention: positive delta = worse
// (hotter, more polluted). Nil deltas (first day of history, missing values)
// label as TrendNoPrior.
func ClassifyTrend(t TrendThresholds, delta *float64) string {
	if delta == nil {
		return TrendNoPrior
	}
	d := *delta
	switch {
	case d <= -t.Significant:
		return TrendSignificantlyBetter
	case d <= -t.Minor:
		return TrendBetter
	case d < t.Minor:
		return TrendStable
	case d < t.Significant:
		return TrendWorse
	default:
		return TrendSignificantlyWorse
	}
}

// ClassifyClimateZone bands the absolute latitude (Tropical through Polar).
// Nil coordinates return the Unknown label.
func ClassifyClimateZone(zones []LabelBand, lat *float64) string {
	if lat == nil {
		return UnknownCategory.Label
	}
	abs := *lat
	if abs < 0 {
		abs = -abs
	}
	return classifyLabel(zones, abs, UnknownCategory.Label)
}
