// Package upstream holds the HTTP clients of the catalog and shop
// services.  Missing entities are returned as nil values, never as errors.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ErrUnavailable marks every failed upstream call.
var ErrUnavailable = errors.New("upstream unavailable")

// StatusError is a non-2xx answer other than 404.
type StatusError struct {
	Service string
	Path    string
	Status  int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s GET %s: status %d", e.Service, e.Path, e.Status)
}

func (e *StatusError) Unwrap() error { return ErrUnavailable }

func (e *StatusError) retryable() bool { return e.Status >= 500 || e.Status == http.StatusTooManyRequests }

// Client is a small JSON-over-HTTP client with a single retry for reads and
// a circuit breaker that fails fast while the service is down.
type Client struct {
	service    string
	baseURL    string
	http       *http.Client
	breaker    *gobreaker.CircuitBreaker
	retryDelay time.Duration
	log        zerolog.Logger
}

// NewClient creates a client for the service at baseURL.  timeout bounds
// one attempt.
func NewClient(service, baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	c := &Client{
		service:    service,
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: timeout},
		retryDelay: 100 * time.Millisecond,
		log:        log.With().Str("component", service+"_client").Logger(),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        service,
		MaxRequests: 1,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var se *StatusError
			return err == nil || (errors.As(err, &se) && !se.retryable())
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return c
}

// getJSON fetches path into out.  It returns false when the service
// answers 404.
func (c *Client) getJSON(ctx context.Context, path string, out any) (bool, error) {
	found := false
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), 1), ctx)
	err := backoff.Retry(func() error {
		_, err := c.breaker.Execute(func() (interface{}, error) {
			var err error
			found, err = c.fetch(ctx, path, out)
			return nil, err
		})
		var se *StatusError
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(fmt.Errorf("%s: %w: %w", c.service, ErrUnavailable, err))
		case errors.As(err, &se) && !se.retryable():
			return backoff.Permanent(err)
		}
		return err
	}, b)
	if err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("upstream call failed")
		return false, err
	}
	return found, nil
}

func (c *Client) fetch(ctx context.Context, path string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	res, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s GET %s: %w: %w", c.service, path, ErrUnavailable, err)
	}
	defer res.Body.Close()
	switch {
	case res.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, res.Body)
		return false, nil
	case res.StatusCode < 200 || res.StatusCode > 299:
		_, _ = io.Copy(io.Discard, res.Body)
		return false, &StatusError{Service: c.service, Path: path, Status: res.StatusCode}
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(out); err != nil {
		return false, fmt.Errorf("%s GET %s: decode: %w: %w", c.service, path, ErrUnavailable, err)
	}
	return true, nil
}
