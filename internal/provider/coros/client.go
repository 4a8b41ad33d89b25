// Package coros implements the Coros Training Hub provider.
package coros

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"activity-provider-sync/internal/cache"
	"activity-provider-sync/internal/metrics"
	"activity-provider-sync/internal/provider"
	"activity-provider-sync/internal/provider/transport"
)

const (
	DefaultBaseURL = "https://teamapi.coros.com"

	// Coros rate limits more aggressively than the other providers
	defaultConcurrency = 3
	defaultPageSize    = 20

	resultOK          = "0000"
	resultAuthExpired = "1019"

	accountTypeEmail = 2
)

// Options configures a Coros client
type Options struct {
	BaseURL     string
	HTTPClient  *http.Client
	Cache       cache.Cache
	Concurrency int
	Limiter     *rate.Limiter
	PageSize    int
	Logger      *slog.Logger
}

// Client is the Coros provider. One login session is held for the
// lifetime of the client.
type Client struct {
	api      *transport.Client
	cache    cache.Cache
	pool     provider.PoolOptions
	pageSize int
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.RWMutex
	token  string
	userID string
}

var _ provider.Client = (*Client)(nil)

// New creates a Coros client. Connect must be called before use.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.PageSize < 1 {
		opts.PageSize = defaultPageSize
	}

	logger := opts.Logger.With("provider", provider.Coros)
	c := &Client{
		api:      transport.New(provider.Coros, opts.BaseURL, logger),
		cache:    opts.Cache,
		pageSize: opts.PageSize,
		logger:   logger,
		now:      time.Now,
		pool: provider.PoolOptions{
			Provider:    provider.Coros,
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
	return provider.Coros
}

func (c *Client) authorize(req *http.Request) {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("accesstoken", token)
	}
}

func (c *Client) session() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return provider.ErrNotInitialized
	}
	return nil
}

// envelope wraps every Coros response. HTTP status is 200 even for failures.
type envelope struct {
	Result  string          `json:"result"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// data performs r and returns the envelope data of a successful result
func (c *Client) data(ctx context.Context, r transport.Request) (json.RawMessage, error) {
	var env envelope
	if err := c.api.DoJSON(ctx, r, &env); err != nil {
		return nil, err
	}
	switch env.Result {
	case resultOK:
		return env.Data, nil
	case resultAuthExpired:
		return nil, fmt.Errorf("%w: coros session expired", provider.ErrAuthentication)
	}
	return nil, fmt.Errorf("coros %s failed: %s (%s)", r.Operation, env.Message, env.Result)
}

// call performs r and decodes the envelope data into out
func (c *Client) call(ctx context.Context, r transport.Request, out any) error {
	data, err := c.data(ctx, r)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: failed to decode %s data: %v", provider.ErrMapping, r.Operation, err)
	}
	return nil
}

type loginData struct {
	AccessToken string `json:"accessToken"`
	UserID      string `json:"userId"`
}

// hashPassword is the digest the Coros web login sends instead of the password
func hashPassword(password string) string {
	sum := md5.Sum([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Connect logs in once with the account email and password
func (c *Client) Connect(ctx context.Context, creds provider.Credentials) error {
	if !creds.HasPassword() {
		return fmt.Errorf("%w: coros requires username and password", provider.ErrAuthentication)
	}

	req, err := transport.Request{
		Operation: metrics.OpLogin,
		Method:    http.MethodPost,
		Path:      "/account/login",
	}.JSONBody(map[string]any{
		"account":     creds.Username,
		"accountType": accountTypeEmail,
		"pwd":         hashPassword(creds.Password),
	})
	if err != nil {
		return err
	}

	var env envelope
	if err := c.api.DoJSON(ctx, req, &env); err != nil {
		return fmt.Errorf("failed to log in to coros: %w", err)
	}
	if env.Result != resultOK {
		return fmt.Errorf("%w: coros login rejected: %s (%s)", provider.ErrAuthentication, env.Message, env.Result)
	}

	var login loginData
	if err := json.Unmarshal(env.Data, &login); err != nil || login.AccessToken == "" {
		return fmt.Errorf("%w: coros login returned no access token", provider.ErrAuthentication)
	}

	c.mu.Lock()
	c.token = login.AccessToken
	c.userID = login.UserID
	c.mu.Unlock()

	c.logger.Info("Connected", "user_id", login.UserID)
	return nil
}
