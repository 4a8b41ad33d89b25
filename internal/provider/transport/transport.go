// Package transport is the retrying HTTP layer shared by the provider adapters.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"activity-provider-sync/internal/metrics"
	"activity-provider-sync/internal/provider"
)

const (
	defaultMaxRetries   = 5
	defaultInitialDelay = 1 * time.Second
	defaultMaxDelay     = 5 * time.Minute
	defaultTimeout      = 30 * time.Second
)

// StatusError is returned for non-retryable HTTP failures
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	switch e.StatusCode {
	case http.StatusForbidden:
		return "forbidden (403) - insufficient permissions"
	case http.StatusNotFound:
		return "not found (404)"
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 response
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Client performs provider API requests with retry and backoff
type Client struct {
	Provider provider.ID
	BaseURL  string
	HTTP     *http.Client
	Logger   *slog.Logger

	// Authorize decorates every attempt, e.g. with a session header
	Authorize func(req *http.Request)

	// OnResponse observes response headers of every attempt
	OnResponse func(h http.Header)

	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// New creates a client with the default retry policy
func New(id provider.ID, baseURL string, logger *slog.Logger) *Client {
	return &Client{
		Provider:     id,
		BaseURL:      strings.TrimRight(baseURL, "/"),
		HTTP:         &http.Client{Timeout: defaultTimeout},
		Logger:       logger,
		MaxRetries:   defaultMaxRetries,
		InitialDelay: defaultInitialDelay,
		MaxDelay:     defaultMaxDelay,
	}
}

// Request describes one API call. Body is resent on every attempt.
type Request struct {
	Operation   string
	Method      string
	Path        string // relative to BaseURL unless absolute
	Query       url.Values
	Body        []byte
	ContentType string
	Header      http.Header
}

// JSONBody marshals v as the request body
func (r Request) JSONBody(v any) (Request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return r, fmt.Errorf("failed to marshal request: %w", err)
	}
	r.Body = body
	r.ContentType = "application/json"
	return r, nil
}

func (c *Client) url(r Request) string {
	u := r.Path
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = c.BaseURL + u
	}
	if len(r.Query) > 0 {
		u += "?" + r.Query.Encode()
	}
	return u
}

// Do performs the request and returns the body of the first 2xx response.
// 429 and 5xx responses are retried with exponential backoff, honouring
// Retry-After. 401 fails with provider.ErrAuthentication.
func (c *Client) Do(ctx context.Context, r Request) ([]byte, error) {
	timer := prometheus.NewTimer(metrics.ProviderRequestDuration.WithLabelValues(string(c.Provider), r.Operation))
	defer timer.ObserveDuration()

	var lastErr error
	delay := c.InitialDelay

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			c.Logger.Info("Retrying request", "provider", c.Provider, "operation", r.Operation, "attempt", attempt, "delay_ms", delay.Milliseconds())
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = min(delay*2, c.MaxDelay)
		}

		var body io.Reader
		if r.Body != nil {
			body = bytes.NewReader(r.Body)
		}
		req, err := http.NewRequestWithContext(ctx, r.Method, c.url(r), body)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		for k, vs := range r.Header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if r.ContentType != "" {
			req.Header.Set("Content-Type", r.ContentType)
		}
		if c.Authorize != nil {
			c.Authorize(req)
		}

		start := time.Now()
		resp, err := c.HTTP.Do(req)
		duration := time.Since(start)

		if err != nil {
			// Token source failures surface here for OAuth clients
			if errors.Is(err, provider.ErrAuthentication) {
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			metrics.ProviderRequestsTotal.WithLabelValues(string(c.Provider), r.Operation, "error").Inc()
			lastErr = err
			c.Logger.Error("Request failed", "provider", c.Provider, "method", r.Method, "path", r.Path, "error", err, "attempt", attempt)
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		metrics.ProviderRequestsTotal.WithLabelValues(string(c.Provider), r.Operation, strconv.Itoa(resp.StatusCode)).Inc()
		if c.OnResponse != nil {
			c.OnResponse(resp.Header)
		}

		c.Logger.Debug("Provider API request", "provider", c.Provider, "method", r.Method, "path", r.Path, "status", resp.StatusCode, "duration_ms", duration.Milliseconds())

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if readErr != nil {
				return nil, fmt.Errorf("failed to read response: %w", readErr)
			}
			return respBody, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			if retryAfter := ParseRetryAfter(resp.Header); retryAfter > 0 {
				delay = retryAfter
			}
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error (%d)", resp.StatusCode)
			continue
		case resp.StatusCode == http.StatusUnauthorized:
			return nil, fmt.Errorf("%w: unauthorized (401)", provider.ErrAuthentication)
		default:
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// DoJSON performs the request and decodes the response into out
func (c *Client) DoJSON(ctx context.Context, r Request, out any) error {
	body, err := c.Do(ctx, r)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: failed to decode %s response: %v", provider.ErrMapping, r.Operation, err)
	}
	return nil
}

// ParseRetryAfter extracts the retry delay from a Retry-After header
func ParseRetryAfter(headers http.Header) time.Duration {
	retryAfter := headers.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	seconds, err := strconv.Atoi(retryAfter)
	if err != nil {
		return 0
	}

	return time.Duration(seconds) * time.Second
}
