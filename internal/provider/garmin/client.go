// Package garmin implements the Garmin Connect provider.
package garmin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"activity-provider-sync/internal/cache"
	"activity-provider-sync/internal/metrics"
	"activity-provider-sync/internal/provider"
	"activity-provider-sync/internal/provider/transport"
)

const (
	DefaultBaseURL = "https://connectapi.garmin.com"
	DefaultSSOURL  = "https://sso.garmin.com/sso"

	defaultPageSize = 20
)

// Options configures a Garmin client
type Options struct {
	BaseURL     string
	SSOURL      string
	HTTPClient  *http.Client
	Cache       cache.Cache
	Concurrency int
	Limiter     *rate.Limiter
	PageSize    int
	Logger      *slog.Logger

	// TempDir holds generated FIT files for manual activities
	TempDir string
}

// Client is the Garmin Connect provider. One login session is held for
// the lifetime of the client.
type Client struct {
	api      *transport.Client
	ssoURL   string
	cache    cache.Cache
	pool     provider.PoolOptions
	pageSize int
	tempDir  string
	logger   *slog.Logger

	mu        sync.RWMutex
	token     string
	profileID string
}

var _ provider.Client = (*Client)(nil)

// New creates a Garmin client. Connect must be called before use.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.SSOURL == "" {
		opts.SSOURL = DefaultSSOURL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PageSize < 1 {
		opts.PageSize = defaultPageSize
	}

	logger := opts.Logger.With("provider", provider.Garmin)
	c := &Client{
		api:      transport.New(provider.Garmin, opts.BaseURL, logger),
		ssoURL:   opts.SSOURL,
		cache:    opts.Cache,
		pageSize: opts.PageSize,
		tempDir:  opts.TempDir,
		logger:   logger,
		pool: provider.PoolOptions{
			Provider:    provider.Garmin,
			Concurrency: opts.Concurrency,
			Limiter:     opts.Limiter,
			Logger:      logger,
		},
	}
	if opts.HTTPClient != nil {
		c.api.HTTP = opts.HTTPClient
	}
	c.api.Authorize = c.authorize
	return c
}

// API exposes the underlying transport so callers can tune retries
func (c *Client) API() *transport.Client {
	return c.api
}

func (c *Client) ID() provider.ID {
	return provider.Garmin
}

func (c *Client) authorize(req *http.Request) {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("NK", "NT")
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

type socialProfile struct {
	ProfileID   int64  `json:"profileId"`
	DisplayName string `json:"displayName"`
}

// Connect logs in once and loads the profile number used by gear queries
func (c *Client) Connect(ctx context.Context, creds provider.Credentials) error {
	if !creds.HasPassword() {
		return fmt.Errorf("%w: garmin requires username and password", provider.ErrAuthentication)
	}

	req, err := transport.Request{
		Operation: metrics.OpLogin,
		Method:    http.MethodPost,
		Path:      c.ssoURL + "/api/login",
	}.JSONBody(map[string]string{"username": creds.Username, "password": creds.Password})
	if err != nil {
		return err
	}

	var login loginResponse
	if err := c.api.DoJSON(ctx, req, &login); err != nil {
		var se *transport.StatusError
		if errors.As(err, &se) && se.StatusCode < 500 {
			return fmt.Errorf("%w: garmin login rejected (%d)", provider.ErrAuthentication, se.StatusCode)
		}
		return fmt.Errorf("failed to log in to garmin: %w", err)
	}
	if login.AccessToken == "" {
		return fmt.Errorf("%w: garmin login returned no access token", provider.ErrAuthentication)
	}

	c.mu.Lock()
	c.token = login.AccessToken
	c.mu.Unlock()

	var profile socialProfile
	err = c.api.DoJSON(ctx, transport.Request{
		Operation: metrics.OpProfile,
		Method:    http.MethodGet,
		Path:      "/userprofile-service/socialProfile",
	}, &profile)
	if err != nil {
		return fmt.Errorf("failed to load garmin profile: %w", err)
	}

	c.mu.Lock()
	c.profileID = strconv.FormatInt(profile.ProfileID, 10)
	c.mu.Unlock()

	c.logger.Info("Connected", "profile_id", profile.ProfileID, "display_name", profile.DisplayName)
	return nil
}

func (c *Client) profile() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return "", provider.ErrNotInitialized
	}
	return c.profileID, nil
}
