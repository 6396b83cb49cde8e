package airnow

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbuslabs/cityair-etl-service/internal/observability"
)

const testAPIKey = "test-airnow-key"

const chicagoRows = `[{"DateObserved":"2026-08-20","HourObserved":12,"LocalTimeZone":"CST","ReportingArea":"Chicago","StateCode":"IL","Latitude":41.9,"Longitude":-87.7,"ParameterName":"PM2.5","AQI":45,"Category":{"Number":1,"Name":"Good"}},{"DateObserved":"2026-08-20","HourObserved":12,"LocalTimeZone":"CST","ReportingArea":"Chicago","StateCode":"IL","Latitude":41.9,"Longitude":-87.7,"ParameterName":"O3","AQI":52,"Category":{"Number":2,"Name":"Moderate"}}]`

func testClient(baseURL string) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(testAPIKey, baseURL, 25, 5*time.Second, logger, observability.NewMetricsForTesting())
}

func TestClient_FetchCurrent_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/aq/observation/latLong/current/", r.URL.Path)
		assert.Equal(t, "application/json", r.URL.Query().Get("format"))
		assert.Equal(t, "41.8500", r.URL.Query().Get("latitude"))
		assert.Equal(t, "-87.6500", r.URL.Query().Get("longitude"))
		assert.Equal(t, "25", r.URL.Query().Get("distance"))
		assert.Equal(t, testAPIKey, r.URL.Query().Get("API_KEY"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chicagoRows))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	payload, err := c.FetchCurrent(context.Background(), 41.85, -87.65)
	require.NoError(t, err)

	assert.Equal(t, []byte(`{"observations":`+chicagoRows+`}`), payload,
		"rows must stay byte-for-byte intact inside the envelope")
	assert.JSONEq(t, `{"observations":`+chicagoRows+`}`, string(payload))
}

func TestClient_FetchCurrent_EmptyArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(` [] `))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	payload, err := c.FetchCurrent(context.Background(), 41.85, -87.65)
	require.NoError(t, err, "no station in range is a valid empty payload")
	assert.Equal(t, []byte(`{"observations":[]}`), payload)
}

func TestClient_FetchCurrent_Unauthorized(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"WebServiceError":[{"Message":"Invalid API key"}]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.FetchCurrent(context.Background(), 41.85, -87.65)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load(), "unauthorized must not be retried")
}

func TestClient_FetchCurrent_RetriesServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(chicagoRows))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	payload, err := c.FetchCurrent(context.Background(), 41.85, -87.65)
	require.NoError(t, err)
	assert.JSONEq(t, `{"observations":`+chicagoRows+`}`, string(payload))
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_FetchCurrent_NotAnArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"WebServiceError":[{"Message":"Parameter error"}]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.FetchCurrent(context.Background(), 41.85, -87.65)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode airnow response")
}
