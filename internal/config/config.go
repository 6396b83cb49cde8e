package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nimbuslabs/cityair-etl-service/internal/domain"
)

// City is one acquisition target from FETCH_CITIES.
type City struct {
	Name    string
	Country string
}

// Key returns the city's entity key.
func (c City) Key() domain.EntityKey {
	return domain.EntityKey{City: c.Name, Country: c.Country}
}

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers    []string
	KafkaRawTopic   string
	KafkaFactsTopic string
	KafkaGroupID    string
	PublishFacts    bool

	DatabaseURL string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Provider acquisition configuration.
	OpenWeatherAPIKey  string
	OpenWeatherBaseURL string
	AirNowAPIKey       string
	AirNowBaseURL      string
	ProviderTimeout    time.Duration
	FetchCities        []City
	FetchConcurrency   int
	AirNowRadiusMiles  int

	// RulesPath points at the optional YAML rules file; empty means built-in
	// defaults.
	RulesPath string
}

// Load reads configuration from environment variables, applying defaults
// where unset. A .env file in the working directory is merged first, best
// effort.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := parsePositiveDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	providerTimeout, err := parsePositiveDuration("PROVIDER_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	batchSize, err := parseBoundedInt("BATCH_SIZE", 50, 1, 1000)
	if err != nil {
		return nil, err
	}

	flushInterval, err := parsePositiveDuration("BATCH_FLUSH_INTERVAL", "500ms")
	if err != nil {
		return nil, err
	}

	fetchConcurrency, err := parseBoundedInt("FETCH_CONCURRENCY", 4, 1, 64)
	if err != nil {
		return nil, err
	}

	airnowRadius, err := parseBoundedInt("AIRNOW_RADIUS_MILES", 25, 1, 500)
	if err != nil {
		return nil, err
	}

	cities, err := ParseCities(os.Getenv("FETCH_CITIES"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:    parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaRawTopic:   envOrDefault("KAFKA_RAW_TOPIC", "raw-observations"),
		KafkaFactsTopic: envOrDefault("KAFKA_FACTS_TOPIC", "daily-facts"),
		KafkaGroupID:    envOrDefault("KAFKA_GROUP_ID", "cityair-etl"),
		PublishFacts:    envOrDefault("KAFKA_PUBLISH_FACTS", "true") == "true",

		DatabaseURL: envOrDefault("DATABASE_URL", "postgres://localhost:5432/cityair?sslmode=disable"),

		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		OpenWeatherAPIKey:  os.Getenv("OPENWEATHER_API_KEY"),
		OpenWeatherBaseURL: envOrDefault("OPENWEATHER_BASE_URL", "https://api.openweathermap.org"),
		AirNowAPIKey:       os.Getenv("AIRNOW_API_KEY"),
		AirNowBaseURL:      envOrDefault("AIRNOW_BASE_URL", "https://www.airnowapi.org"),
		ProviderTimeout:    providerTimeout,
		FetchCities:        cities,
		FetchConcurrency:   fetchConcurrency,
		AirNowRadiusMiles:  airnowRadius,

		RulesPath: os.Getenv("RULES_PATH"),
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaRawTopic == "" {
		return nil, errors.New("KAFKA_RAW_TOPIC is required")
	}
	if cfg.KafkaFactsTopic == "" {
		return nil, errors.New("KAFKA_FACTS_TOPIC is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	return cfg, nil
}

// RequireFetch checks the settings only the fetch mode needs.
func (c *Config) RequireFetch() error {
	if c.OpenWeatherAPIKey == "" {
		return errors.New("OPENWEATHER_API_KEY is required for fetch")
	}
	if len(c.FetchCities) == 0 {
		return errors.New("FETCH_CITIES is required for fetch")
	}
	return nil
}

// ParseCities parses the FETCH_CITIES format: semicolon-separated
// "City,CC" entries, e.g. "Chicago,US;Springfield,US". The country code is
// optional per entry.
func ParseCities(s string) ([]City, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var cities []City
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, country, _ := strings.Cut(entry, ",")
		name = strings.TrimSpace(name)
		country = strings.TrimSpace(country)
		if name == "" {
			return nil, fmt.Errorf("FETCH_CITIES: entry %q has no city name", entry)
		}
		cities = append(cities, City{Name: name, Country: country})
	}
	return cities, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func parsePositiveDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseBoundedInt(key string, fallback, min, max int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < min || n > max {
		return 0, fmt.Errorf("invalid %s: want an integer in [%d,%d]", key, min, max)
	}
	return n, nil
}

// LoadRules returns the pipeline rule set: built-in defaults when path is
// empty, otherwise the YAML file at path decoded over the defaults so partial
// files override only what they name. The result is validated either way.
func LoadRules(path string) (domain.Rules, error) {
	rules := domain.DefaultRules()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return domain.Rules{}, fmt.Errorf("read rules file: %w", err)
		}
		if err := yaml.Unmarshal(data, &rules); err != nil {
			return domain.Rules{}, fmt.Errorf("parse rules file %s: %w", path, err)
		}
	}
	if err := rules.Validate(); err != nil {
		return domain.Rules{}, fmt.Errorf("invalid rules: %w", err)
	}
	return rules, nil
}
