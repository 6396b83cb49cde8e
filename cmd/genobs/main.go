// Command genobs generates synthetic raw observation fixtures and the daily
// facts they transform into. It runs the actual pipeline domain package so
// the fixture output matches real transformation behavior.
//
// Usage:
//
//	go run ./cmd/genobs \
//	  -cities "Chicago,US;Phoenix,US;Oslo,NO" \
//	  -days 5 -per-day 4 -seed 1 \
//	  -raw-out testdata/raw_observations.json \
//	  -facts-out testdata/daily_facts.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nimbuslabs/cityair-etl-service/internal/config"
	"github.com/nimbuslabs/cityair-etl-service/internal/domain"
)

var baseDate = time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)

// cityProfile seeds plausible coordinates and baselines for well-known
// cities; unknown cities derive a profile from their name.
type cityProfile struct {
	lat, lon  float64
	baseTempC float64
	baseAQI   float64
	stateCode string
}

var cityProfiles = map[string]cityProfile{
	"chicago|us":   {lat: 41.88, lon: -87.63, baseTempC: 11, baseAQI: 42, stateCode: "IL"},
	"phoenix|us":   {lat: 33.45, lon: -112.07, baseTempC: 27, baseAQI: 58, stateCode: "AZ"},
	"denver|us":    {lat: 39.74, lon: -104.99, baseTempC: 9, baseAQI: 48, stateCode: "CO"},
	"oslo|no":      {lat: 59.91, lon: 10.75, baseTempC: 4, baseAQI: 18},
	"paris|fr":     {lat: 48.86, lon: 2.35, baseTempC: 13, baseAQI: 35},
	"sao paulo|br": {lat: -23.55, lon: -46.63, baseTempC: 21, baseAQI: 52},
	"singapore|sg": {lat: 1.35, lon: 103.82, baseTempC: 29, baseAQI: 40},
}

var conditions = []struct{ main, desc string }{
	{"Clear", "clear sky"},
	{"Clear", "clear sky"},
	{"Clouds", "scattered clouds"},
	{"Clouds", "overcast clouds"},
	{"Rain", "light rain"},
	{"Rain", "moderate rain"},
	{"Drizzle", "light intensity drizzle"},
	{"Thunderstorm", "thunderstorm with rain"},
	{"Mist", "mist"},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cityList := flag.String("cities", "Chicago,US;Phoenix,US;Oslo,NO", "semicolon-separated City,CC list")
	days := flag.Int("days", 5, "number of calendar days to generate")
	perDay := flag.Int("per-day", 4, "observations per city per day")
	seed := flag.Int64("seed", 1, "random seed")
	rawOut := flag.String("raw-out", "", "output path for the raw envelope JSON fixture")
	factsOut := flag.String("facts-out", "", "output path for the transformed daily facts fixture")
	flag.Parse()

	if *rawOut == "" || *factsOut == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -raw-out, -facts-out")
	}

	cities, err := config.ParseCities(*cityList)
	if err != nil {
		return err
	}
	if len(cities) == 0 {
		return fmt.Errorf("no cities parsed from %q", *cityList)
	}

	// Freeze the clock just after the generated window so ComputedAt,
	// UpdatedAt, and freshness tiers come out reproducible.
	asOf := baseDate.AddDate(0, 0, *days).Add(6 * time.Hour)
	domain.SetClock(clockwork.NewFakeClockAt(asOf))
	defer domain.SetClock(nil)

	rng := rand.New(rand.NewSource(*seed))
	rules := domain.DefaultRules()

	var envelopes []domain.RawEnvelope
	var weather []domain.WeatherRecord
	var air []domain.AirRecord
	var statuses []domain.ObservationStatus

	for _, city := range cities {
		profile := profileFor(city)
		walk := 0.0
		for d := 0; d < *days; d++ {
			walk += rng.NormFloat64() * 2
			for s := 0; s < *perDay; s++ {
				env := makeEnvelope(rng, city, profile, d, s, *perDay, walk)
				envelopes = append(envelopes, env)

				value, err := json.Marshal(env)
				if err != nil {
					return fmt.Errorf("marshal envelope: %w", err)
				}

				// Run the actual transformation chain.
				raw, err := domain.ParseRawMessage(domain.RawMessage{
					Value:     value,
					Timestamp: env.ObservationTime.Add(2 * time.Minute),
				})
				if err != nil {
					return fmt.Errorf("parse envelope: %w", err)
				}
				norm, err := domain.Normalize(raw, rules)
				if err != nil {
					return fmt.Errorf("normalize %s: %w", city.Key(), err)
				}
				weather = append(weather, norm.Weather)
				air = append(air, norm.Air...)
				statuses = append(statuses, norm.Status)
			}
		}
		log.Printf("%s: %d observations", city.Key(), *days**perDay)
	}

	reconciled := domain.Reconcile(weather, air, rules)
	facts := domain.ApplyTrends(
		domain.BuildDailyFacts(domain.BuildWeatherDaily(reconciled), domain.BuildAirDaily(air), rules),
		rules,
	)
	dims := domain.BuildDimensions(statuses, asOf, rules)

	log.Printf("total: %d envelopes, %d facts, %d dimensions", len(envelopes), len(facts), len(dims))

	if err := writeJSON(*rawOut, envelopes); err != nil {
		return fmt.Errorf("writing raw fixture: %w", err)
	}
	log.Printf("wrote raw fixture: %s", *rawOut)

	if err := writeJSON(*factsOut, facts); err != nil {
		return fmt.Errorf("writing facts fixture: %w", err)
	}
	log.Printf("wrote facts fixture: %s", *factsOut)

	printStats(facts, dims)
	return nil
}

// profileFor looks up a known city or derives a stable pseudo-profile from
// the name so unknown cities still generate plausible, reproducible data.
func profileFor(city config.City) cityProfile {
	key := strings.ToLower(city.Name) + "|" + strings.ToLower(city.Country)
	if p, ok := cityProfiles[key]; ok {
		return p
	}
	var sum int
	for _, b := range []byte(key) {
		sum += int(b)
	}
	lat := float64(sum%120) - 60
	return cityProfile{
		lat:       lat,
		lon:       float64(sum%360) - 180,
		baseTempC: 28 - math.Abs(lat)/3,
		baseAQI:   float64(20 + sum%40),
	}
}

func makeEnvelope(rng *rand.Rand, city config.City, p cityProfile, day, sample, perDay int, walk float64) domain.RawEnvelope {
	obsTime := baseDate.AddDate(0, 0, day).
		Add(time.Duration(24*sample/perDay)*time.Hour + time.Duration(rng.Intn(60))*time.Minute)

	temp := p.baseTempC + walk + rng.NormFloat64()*1.5
	cond := conditions[rng.Intn(len(conditions))]

	weatherPayload := map[string]any{
		"coord": map[string]any{"lat": p.lat, "lon": p.lon},
		"main": map[string]any{
			"temp":       round1(temp),
			"feels_like": round1(temp - 1.5),
			"temp_min":   round1(temp - 2),
			"temp_max":   round1(temp + 2),
			"humidity":   40 + rng.Intn(50),
			"pressure":   1000 + rng.Intn(30),
		},
		"wind":       map[string]any{"speed": round1(rng.Float64() * 12), "deg": rng.Intn(360)},
		"clouds":     map[string]any{"all": rng.Intn(101)},
		"visibility": 10000,
		"weather":    []map[string]any{{"main": cond.main, "description": cond.desc}},
		"dt":         obsTime.Unix(),
	}
	weatherJSON, _ := json.Marshal(weatherPayload)

	env := domain.RawEnvelope{
		City:            city.Name,
		Country:         city.Country,
		Latitude:        ptr(p.lat),
		Longitude:       ptr(p.lon),
		ObservationTime: obsTime,
		Weather:         weatherJSON,
	}

	// Roughly one in five snapshots stays weather-only, matching what a
	// collector sees when the air provider has no nearby station.
	if rng.Intn(5) > 0 {
		env.AirQuality = makeAirPayload(rng, p, day, walk)
	}
	return env
}

func makeAirPayload(rng *rand.Rand, p cityProfile, day int, walk float64) json.RawMessage {
	area := "Metro"
	aqi := p.baseAQI + walk*2 + rng.NormFloat64()*6
	if aqi < 5 {
		aqi = 5
	}
	rows := []map[string]any{{
		"ParameterName": "PM2.5",
		"AQI":           int(aqi),
		"Latitude":      p.lat + rng.NormFloat64()*0.05,
		"Longitude":     p.lon + rng.NormFloat64()*0.05,
		"ReportingArea": area,
		"StateCode":     p.stateCode,
	}}
	if rng.Intn(2) == 0 {
		rows = append(rows, map[string]any{
			"ParameterName": "O3",
			"AQI":           int(aqi * 0.7),
			"Latitude":      p.lat,
			"Longitude":     p.lon,
			"ReportingArea": area,
			"StateCode":     p.stateCode,
		})
	}
	payload, _ := json.Marshal(map[string]any{"observations": rows})
	return payload
}

func ptr(v float64) *float64 { return &v }

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

// statsResult holds aggregated counts for printStats reporting.
type statsResult struct {
	cityCounts     map[string]int
	categoryCounts map[string]int
	tempTrends     map[string]int
	aqiTrends      map[string]int
	withAir        int
	firstDate      time.Time
	lastDate       time.Time
	maxAQI         float64
	maxAQIFact     string
}

func collectStats(facts []domain.DailyFact) statsResult {
	s := statsResult{
		cityCounts:     map[string]int{},
		categoryCounts: map[string]int{},
		tempTrends:     map[string]int{},
		aqiTrends:      map[string]int{},
	}
	for i := range facts {
		f := &facts[i]
		s.cityCounts[f.Key().String()]++
		s.categoryCounts[f.AQICategory]++
		s.tempTrends[f.TempTrend]++
		s.aqiTrends[f.AQITrend]++

		if f.OverallAQI != nil {
			s.withAir++
			if *f.OverallAQI > s.maxAQI {
				s.maxAQI = *f.OverallAQI
				s.maxAQIFact = fmt.Sprintf("%s %s", f.Key(), f.FactDate.Format("2006-01-02"))
			}
		}
		if s.firstDate.IsZero() || f.FactDate.Before(s.firstDate) {
			s.firstDate = f.FactDate
		}
		if f.FactDate.After(s.lastDate) {
			s.lastDate = f.FactDate
		}
	}
	return s
}

type labelCount struct {
	label string
	count int
}

func printStats(facts []domain.DailyFact, dims []domain.EntityDimension) {
	stats := collectStats(facts)

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Facts: %d (%s .. %s)\n", len(facts),
		stats.firstDate.Format("2006-01-02"), stats.lastDate.Format("2006-01-02"))
	fmt.Printf("With air data: %d\n", stats.withAir)
	fmt.Printf("Max AQI: %g (%s)\n", stats.maxAQI, stats.maxAQIFact)

	printCounts("By city", stats.cityCounts)
	printCounts("AQI categories", stats.categoryCounts)
	printCounts("Temp trends", stats.tempTrends)
	printCounts("AQI trends", stats.aqiTrends)
	printDimensions(dims)
	printFirstFact(facts)
}

func printCounts(name string, counts map[string]int) {
	lc := make([]labelCount, 0, len(counts))
	for l, c := range counts {
		lc = append(lc, labelCount{l, c})
	}
	sort.Slice(lc, func(i, j int) bool {
		if lc[i].count != lc[j].count {
			return lc[i].count > lc[j].count
		}
		return lc[i].label < lc[j].label
	})
	fmt.Printf("%s: ", name)
	for _, e := range lc {
		fmt.Printf("%s=%d ", e.label, e.count)
	}
	fmt.Println()
}

func printDimensions(dims []domain.EntityDimension) {
	fmt.Println("\nDimensions:")
	for i := range dims {
		d := &dims[i]
		fmt.Printf("  %s,%s: %s, %d obs, quality %.0f%% (%s), %s, active=%v\n",
			d.City, d.Country, d.ClimateZone, d.ObservationCount,
			d.QualityPct, d.QualityTier, d.FreshnessTier, d.IsActive)
	}
}

func printFirstFact(facts []domain.DailyFact) {
	if len(facts) == 0 {
		return
	}
	f := &facts[0]
	fmt.Printf("\nFirst fact:\n")
	fmt.Printf("  FactKey: %s\n", f.FactKey)
	fmt.Printf("  City: %s, Date: %s\n", f.Key(), f.FactDate.Format("2006-01-02"))
	if f.TempAvgC != nil {
		fmt.Printf("  TempAvgC: %g (trend %s)\n", *f.TempAvgC, f.TempTrend)
	}
	if f.OverallAQI != nil {
		fmt.Printf("  OverallAQI: %g %s (trend %s)\n", *f.OverallAQI, f.AQICategory, f.AQITrend)
	}
	fmt.Printf("  Samples: weather=%d air=%d\n", f.WeatherSamples, f.AirSamples)
	fmt.Printf("  ComputedAt: %s\n", f.ComputedAt.Format(time.RFC3339))
}
