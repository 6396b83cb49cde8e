package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/nimbuslabs/cityair-etl-service/internal/observability"
)

const (
	maxAttempts    = 3
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second

	breakerTimeout  = 30 * time.Second
	breakerInterval = time.Minute
)

// StatusError is a non-200 response from an upstream API.
type StatusError struct {
	Provider string
	Status   int
	Body     []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error: status %d: %s", e.Provider, e.Status, e.Body)
}

// Transport wraps calls to one upstream API with retry, circuit breaking,
// and metrics. Each provider client owns one Transport.
type Transport struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewTransport creates the retry/breaker wrapper for a named provider.
func NewTransport(name string, metrics *observability.Metrics, logger *slog.Logger) *Transport {
	return &Transport{
		name:    name,
		breaker: newBreaker(name, metrics),
		metrics: metrics,
		logger:  logger,
	}
}

// Fetch runs one logical fetch under the circuit breaker, retrying transient
// failures with exponential backoff. do performs a single HTTP attempt.
// While the breaker is open the fetch is skipped without touching the
// upstream.
func (t *Transport) Fetch(ctx context.Context, do func() ([]byte, error)) ([]byte, error) {
	start := time.Now()
	defer func() {
		t.metrics.ProviderDuration.WithLabelValues(t.name).Observe(time.Since(start).Seconds())
	}()

	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		body, err := t.breaker.Execute(func() (any, error) {
			return do()
		})
		if err == nil {
			t.metrics.ProviderRequests.WithLabelValues(t.name, "success").Inc()
			return body.([]byte), nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			t.metrics.ProviderRequests.WithLabelValues(t.name, "skipped").Inc()
			return nil, fmt.Errorf("%s circuit open: %w", t.name, err)
		}
		lastErr = err
		if !Retryable(err) || attempt == maxAttempts {
			break
		}
		t.logger.Warn("provider request failed, retrying",
			"provider", t.name, "attempt", attempt, "backoff", backoff, "error", err)
		if !sleepWithContext(ctx, backoff) {
			break
		}
		backoff = nextBackoff(backoff)
	}

	t.metrics.ProviderRequests.WithLabelValues(t.name, "error").Inc()
	return nil, lastErr
}

// Retryable reports whether a request error is worth another attempt. Rate
// limits, server errors, and transport timeouts are transient; other API
// statuses and context cancellation are terminal.
func Retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status == http.StatusTooManyRequests || se.Status >= http.StatusInternalServerError
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// newBreaker builds the circuit breaker for one provider. It opens after
// three consecutive failures, or when more than half of at least ten
// requests in the rolling interval failed, and probes again after 30s.
// A 404 is a healthy "no such resource" answer, not an upstream failure.
func newBreaker(name string, metrics *observability.Metrics) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:     name,
		Interval: breakerInterval,
		Timeout:  breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 3 {
				return true
			}
			return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.5
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			open := 0.0
			if to == gobreaker.StateOpen {
				open = 1.0
			}
			metrics.ProviderBreakerOpen.WithLabelValues(name).Set(open)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var se *StatusError
			return errors.As(err, &se) && se.Status == http.StatusNotFound
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
