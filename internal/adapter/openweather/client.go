package openweather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/nimbuslabs/cityair-etl-service/internal/adapter/provider"
	"github.com/nimbuslabs/cityair-etl-service/internal/observability"
)

// Name is the provider label used in logs and metrics.
const Name = "openweather"

// ErrNotFound marks a city OpenWeatherMap does not know. Terminal for that
// city; callers move on instead of retrying.
var ErrNotFound = errors.New("city not found")

// CurrentWeather is one fetched current-conditions snapshot: the verbatim
// response body plus the envelope fields the collector needs.
type CurrentWeather struct {
	Body       []byte
	Latitude   *float64
	Longitude  *float64
	ObservedAt time.Time
}

// Client fetches current conditions from the OpenWeatherMap API.
type Client struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	transport  *provider.Transport
}

// NewClient creates an OpenWeatherMap client.
func NewClient(apiKey, baseURL string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:   baseURL,
		logger:    logger,
		transport: provider.NewTransport(Name, metrics, logger),
	}
}

// FetchCurrent retrieves current conditions for a city. Unauthorized and
// unknown-city responses fail immediately; rate limits and server errors are
// retried with exponential backoff under the circuit breaker.
func (c *Client) FetchCurrent(ctx context.Context, city, country string) (CurrentWeather, error) {
	query := city
	if country != "" {
		query = city + "," + country
	}
	params := url.Values{
		"q":     {query},
		"units": {"metric"},
		"appid": {c.apiKey},
	}
	fullURL := c.baseURL + "/data/2.5/weather?" + params.Encode()

	body, err := c.transport.Fetch(ctx, func() ([]byte, error) {
		return c.doRequest(ctx, fullURL)
	})
	if err != nil {
		var se *provider.StatusError
		if errors.As(err, &se) && se.Status == http.StatusNotFound {
			return CurrentWeather{}, fmt.Errorf("%w: %q", ErrNotFound, query)
		}
		return CurrentWeather{}, err
	}

	current, err := parseCurrent(body)
	if err != nil {
		return CurrentWeather{}, err
	}
	c.logger.Debug("fetched current weather", "query", query, "bytes", len(body))
	return current, nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openweather request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &provider.StatusError{Provider: Name, Status: resp.StatusCode, Body: body}
	}
	return body, nil
}

// parseCurrent extracts the envelope fields from a current-weather body. The
// body itself is carried verbatim; the transform stage parses the rest.
func parseCurrent(body []byte) (CurrentWeather, error) {
	var resp currentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return CurrentWeather{}, fmt.Errorf("decode openweather response: %w", err)
	}

	current := CurrentWeather{
		Body:      body,
		Latitude:  resp.Coord.Lat,
		Longitude: resp.Coord.Lon,
	}
	if resp.DT > 0 {
		current.ObservedAt = time.Unix(resp.DT, 0).UTC()
	}
	return current, nil
}

// currentResponse is the slice of the OpenWeatherMap response the collector
// reads; everything else rides along in the stored payload.
type currentResponse struct {
	Coord struct {
		Lat *float64 `json:"lat"`
		Lon *float64 `json:"lon"`
	} `json:"coord"`
	DT int64 `json:"dt"`
}
