package airnow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nimbuslabs/cityair-etl-service/internal/adapter/provider"
	"github.com/nimbuslabs/cityair-etl-service/internal/observability"
)

// Name is the provider label used in logs and metrics.
const Name = "airnow"

// Client fetches current air quality observations from the AirNow API.
type Client struct {
	apiKey      string
	httpClient  *http.Client
	baseURL     string
	radiusMiles int
	logger      *slog.Logger
	transport   *provider.Transport
}

// NewClient creates an AirNow client. radiusMiles bounds the station search
// around the queried coordinate.
func NewClient(apiKey, baseURL string, radiusMiles int, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:     baseURL,
		radiusMiles: radiusMiles,
		logger:      logger,
		transport:   provider.NewTransport(Name, metrics, logger),
	}
}

// FetchCurrent retrieves current observations near a coordinate and wraps
// the raw array as {"observations": [...]} for storage. An empty array is a
// valid payload: no station reported, not an error.
func (c *Client) FetchCurrent(ctx context.Context, lat, lon float64) ([]byte, error) {
	params := url.Values{
		"format":    {"application/json"},
		"latitude":  {fmt.Sprintf("%.4f", lat)},
		"longitude": {fmt.Sprintf("%.4f", lon)},
		"distance":  {strconv.Itoa(c.radiusMiles)},
		"API_KEY":   {c.apiKey},
	}
	fullURL := c.baseURL + "/aq/observation/latLong/current/?" + params.Encode()

	body, err := c.transport.Fetch(ctx, func() ([]byte, error) {
		return c.doRequest(ctx, fullURL)
	})
	if err != nil {
		return nil, err
	}

	wrapped, rows, err := wrapObservations(body)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("fetched air quality", "lat", lat, "lon", lon, "rows", rows)
	return wrapped, nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("airnow request: %w", err)
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

// wrapObservations validates that the body is a JSON array and splices it
// into the envelope shape the transform stage expects, leaving the
// observation rows byte-for-byte intact.
func wrapObservations(body []byte) ([]byte, int, error) {
	trimmed := bytes.TrimSpace(body)

	var rows []json.RawMessage
	if err := json.Unmarshal(trimmed, &rows); err != nil {
		return nil, 0, fmt.Errorf("decode airnow response: %w", err)
	}

	wrapped := make([]byte, 0, len(trimmed)+len(`{"observations":}`))
	wrapped = append(wrapped, `{"observations":`...)
	wrapped = append(wrapped, trimmed...)
	wrapped = append(wrapped, '}')
	return wrapped, len(rows), nil
}
