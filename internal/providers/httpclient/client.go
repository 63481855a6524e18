// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

// Package httpclient is the HTTP client shared by the enrichment providers.
//
// Errors fall into two classes. A response that can never be used for the
// row that asked for it (4xx other than 429, or a payload the provider marks
// as an error) wraps ErrUnusableResponse; callers dead-letter the row.
// Everything else (transport errors, 5xx, 429, an open breaker, and
// ErrShapeMismatch) fails the whole enrichment cycle.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/waymark/internal/config"
	"github.com/tomtom215/waymark/internal/logging"
	"github.com/tomtom215/waymark/internal/metrics"
)

var (
	// ErrUnusableResponse marks a response that will never succeed for this input.
	ErrUnusableResponse = errors.New("unusable response")

	// ErrShapeMismatch marks a payload that decodes but breaks the provider's
	// documented contract, such as series whose lengths disagree.
	ErrShapeMismatch = errors.New("response shape mismatch")
)

// maxBodySize bounds a response body. A larger body fails the call.
const maxBodySize = 8 << 20

// maxErrorBodySize bounds the body excerpt kept in a StatusError.
const maxErrorBodySize = 512

// StatusError reports a non-200 HTTP status.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Unwrap classifies client errors as unusable. 429 is a pacing problem, not
// a property of the request, so it is not.
func (e *StatusError) Unwrap() error {
	if e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests {
		return ErrUnusableResponse
	}
	return nil
}

// Client issues GET requests for one provider behind a circuit breaker.
type Client struct {
	name      string
	userAgent string
	http      *http.Client
	cb        *gobreaker.CircuitBreaker[[]byte]
	log       zerolog.Logger
	maxBody   int64
}

// New creates a client for the named provider.
func New(name string, cfg *config.ProvidersConfig) *Client {
	return NewWithHTTPClient(name, cfg, &http.Client{Timeout: cfg.Timeout})
}

// NewWithHTTPClient is New with a caller-supplied *http.Client.
func NewWithHTTPClient(name string, cfg *config.ProvidersConfig, hc *http.Client) *Client {
	log := logging.WithComponent("httpclient").With().Str("provider", name).Logger()
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	maxFailures := cfg.BreakerMaxFailures
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// An unusable response means the API is healthy and said no.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnusableResponse)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &Client{
		name:      name,
		userAgent: cfg.UserAgent,
		http:      hc,
		cb:        cb,
		log:       log,
		maxBody:   maxBodySize,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return c.name
}

// GetJSON fetches baseURL?params and decodes the JSON body into out.
// A body that is not valid JSON is unusable.
func (c *Client) GetJSON(ctx context.Context, baseURL string, params url.Values, out any) error {
	body, err := c.Get(ctx, baseURL, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode: %v: %w", c.name, err, ErrUnusableResponse)
	}
	return nil
}

// Get fetches baseURL?params and returns the body of a 200 response.
func (c *Client) Get(ctx context.Context, baseURL string, params url.Values) ([]byte, error) {
	reqURL := baseURL
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	start := time.Now()
	body, err := c.cb.Execute(func() ([]byte, error) {
		return c.do(ctx, reqURL)
	})
	elapsed := time.Since(start)

	switch {
	case err == nil:
		metrics.RecordAPICall(c.name, "ok", elapsed)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordAPICall(c.name, "rejected", elapsed)
		return nil, fmt.Errorf("%s: %w", c.name, err)
	case errors.Is(err, ErrUnusableResponse):
		metrics.RecordAPICall(c.name, "unusable", elapsed)
	default:
		metrics.RecordAPICall(c.name, "error", elapsed)
	}
	if err != nil {
		c.log.Debug().Err(err).Dur("elapsed", elapsed).Msg("Request failed")
	}
	return body, err
}

func (c *Client) do(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", c.name, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, &StatusError{Provider: c.name, StatusCode: resp.StatusCode, Body: string(excerpt)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", c.name, err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("%s: body exceeds %d bytes: %w", c.name, c.maxBody, ErrShapeMismatch)
	}
	return body, nil
}

// State returns the breaker state.
func (c *Client) State() gobreaker.State {
	return c.cb.State()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
