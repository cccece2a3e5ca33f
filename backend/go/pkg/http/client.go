package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ragdesk/backend/go/internal/config"
	"ragdesk/backend/go/pkg/circuitbreaker"
)

// ErrUpstreamUnavailable is returned when the request could not reach the
// upstream or the breaker is open.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// Client wraps http.Client with a request timeout and an optional circuit breaker.
type Client struct {
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
	isFailure  func(status int) bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithFailureStatus decides which response codes count against the breaker.
// By default every status of 500 or above does.
func WithFailureStatus(fn func(status int) bool) ClientOption {
	return func(c *Client) { c.isFailure = fn }
}

// NewClient creates a Client. A disabled breaker config yields a plain timeout-bounded client.
func NewClient(timeout time.Duration, cfg config.CircuitBreakerConfig, opts ...ClientOption) (*Client, error) {
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		isFailure:  func(status int) bool { return status >= http.StatusInternalServerError },
	}
	if cfg.Enabled {
		breaker, err := createCircuitBreaker(cfg)
		if err != nil {
			return nil, err
		}
		c.breaker = breaker
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Do sends req. Responses are always returned to the caller, including those
// counted as failures; only transport errors and an open breaker yield an error.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
		}
		return resp, nil
	}

	var resp *http.Response
	err := c.breaker.Execute(req.Context(), func(ctx context.Context) error {
		var err error
		resp, err = c.httpClient.Do(req.WithContext(ctx))
		if err != nil {
			return err
		}
		if c.isFailure(resp.StatusCode) {
			return fmt.Errorf("server error: received status code %d", resp.StatusCode)
		}
		return nil
	})
	if resp != nil && !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return resp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	return resp, nil
}

// createCircuitBreaker initializes a circuit breaker based on the configuration.
func createCircuitBreaker(cfg config.CircuitBreakerConfig) (*circuitbreaker.Breaker, error) {
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid circuit breaker timeout duration: %w", err)
	}
	return circuitbreaker.New(cfg.FailureThreshold, cfg.SuccessThreshold, timeout), nil
}
