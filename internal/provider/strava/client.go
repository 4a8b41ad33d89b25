// Package strava implements the Strava API v3 provider.
package strava

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"activity-provider-sync/internal/cache"
	"activity-provider-sync/internal/metrics"
	"activity-provider-sync/internal/provider"
	"activity-provider-sync/internal/provider/transport"
)

const (
	DefaultBaseURL  = "https://www.strava.com/api/v3"
	DefaultTokenURL = "https://www.strava.com/oauth/token"

	// Tokens are refreshed this long before Strava expires them
	tokenExpiryDelta = 60 * time.Second
	maxPerPage       = 200
)

// Options configures a Strava client
type Options struct {
	BaseURL     string
	TokenURL    string
	HTTPClient  *http.Client // base transport for API and token calls
	Cache       cache.Cache
	Concurrency int
	Limiter     *rate.Limiter
	PerPage     int
	Logger      *slog.Logger

	// Upload status polling
	PollInterval time.Duration
	MaxPolls     int
}

// Client is the Strava provider
type Client struct {
	api         *transport.Client
	tokenURL    string
	baseHTTP    *http.Client
	cache       cache.Cache
	pool        provider.PoolOptions
	perPage     int
	rateLimiter *RateLimiter

	pollInterval time.Duration
	maxPolls     int
	logger       *slog.Logger

	mu          sync.Mutex
	tokenSource oauth2.TokenSource
}

var _ provider.Client = (*Client)(nil)

// New creates a Strava client. Connect must be called before use.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.TokenURL == "" {
		opts.TokenURL = DefaultTokenURL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.PerPage < 1 || opts.PerPage > maxPerPage {
		opts.PerPage = maxPerPage
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxPolls <= 0 {
		opts.MaxPolls = defaultMaxPolls
	}

	logger := opts.Logger.With("provider", provider.Strava)
	c := &Client{
		api:         transport.New(provider.Strava, opts.BaseURL, logger),
		tokenURL:    opts.TokenURL,
		baseHTTP:    opts.HTTPClient,
		cache:       opts.Cache,
		perPage:     opts.PerPage,
		rateLimiter: NewRateLimiter(),
		logger:      logger,

		pollInterval: opts.PollInterval,
		maxPolls:     opts.MaxPolls,
		pool: provider.PoolOptions{
			Provider:    provider.Strava,
			Concurrency: opts.Concurrency,
			Limiter:     opts.Limiter,
			Logger:      logger,
		},
	}
	c.api.OnResponse = c.rateLimiter.UpdateFromHeaders
	return c
}

// API exposes the underlying transport so callers can tune retries
func (c *Client) API() *transport.Client {
	return c.api
}

func (c *Client) ID() provider.ID {
	return provider.Strava
}

// Connect sets up the token source and validates it against the athlete profile
func (c *Client) Connect(ctx context.Context, creds provider.Credentials) error {
	if !creds.HasOAuth() {
		return fmt.Errorf("%w: strava requires client id, client secret and refresh token", provider.ErrAuthentication)
	}

	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURI,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	// Token refreshes outlive the Connect call, so they get their own context
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, c.baseHTTP)
	src := &refresher{
		ctx:          tokenCtx,
		conf:         conf,
		refreshToken: creds.RefreshToken,
		logger:       c.logger,
	}
	ts := oauth2.ReuseTokenSourceWithExpiry(nil, src, tokenExpiryDelta)

	c.mu.Lock()
	c.tokenSource = ts
	c.api.HTTP = &http.Client{
		Timeout: c.baseHTTP.Timeout,
		Transport: &oauth2.Transport{
			Source: ts,
			Base:   c.baseHTTP.Transport,
		},
	}
	c.mu.Unlock()

	var athlete struct {
		ID int64 `json:"id"`
	}
	if err := c.api.DoJSON(ctx, transport.Request{Operation: metrics.OpProfile, Method: http.MethodGet, Path: "/athlete"}, &athlete); err != nil {
		return fmt.Errorf("failed to load strava athlete: %w", err)
	}

	c.logger.Info("Connected", "athlete_id", athlete.ID)
	return nil
}

// Token returns the current access token, refreshing it if needed
func (c *Client) Token() (*oauth2.Token, error) {
	c.mu.Lock()
	ts := c.tokenSource
	c.mu.Unlock()
	if ts == nil {
		return nil, provider.ErrNotInitialized
	}
	return ts.Token()
}

// GetRateLimitStatus returns the current rate limit status
func (c *Client) GetRateLimitStatus() RateLimitStatus {
	return c.rateLimiter.Status()
}

// refresher exchanges the refresh token on every call. It is wrapped in a
// ReuseTokenSource, which serializes calls and caches the access token.
type refresher struct {
	ctx          context.Context
	conf         *oauth2.Config
	refreshToken string
	logger       *slog.Logger
}

func (r *refresher) Token() (*oauth2.Token, error) {
	start := time.Now()
	tok, err := r.conf.TokenSource(r.ctx, &oauth2.Token{RefreshToken: r.refreshToken}).Token()
	duration := time.Since(start)

	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			status := 0
			if re.Response != nil {
				status = re.Response.StatusCode
			}
			metrics.ProviderRequestsTotal.WithLabelValues(string(provider.Strava), metrics.OpRefreshToken, fmt.Sprint(status)).Inc()
			if status == http.StatusBadRequest || status == http.StatusUnauthorized || re.ErrorCode == "invalid_grant" {
				r.logger.Error("Token refresh rejected", "status", status, "duration_ms", duration.Milliseconds())
				return nil, fmt.Errorf("%w: token refresh rejected (%d)", provider.ErrAuthentication, status)
			}
		}
		r.logger.Error("Token refresh failed", "error", err, "duration_ms", duration.Milliseconds())
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	metrics.ProviderRequestsTotal.WithLabelValues(string(provider.Strava), metrics.OpRefreshToken, "200").Inc()
	r.logger.Info("Token refreshed", "expires_at", tok.Expiry, "duration_ms", duration.Milliseconds())

	// Strava rotates refresh tokens
	if tok.RefreshToken != "" {
		r.refreshToken = tok.RefreshToken
	}
	return tok, nil
}
