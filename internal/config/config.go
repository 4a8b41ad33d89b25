package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"activity-provider-sync/internal/provider"
)

// Cache backends
const (
	CacheMemory = "memory"
	CacheDisk   = "disk"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Host string
	Port int

	// Database configuration
	DatabasePath string

	// Internal API configuration
	InternalAPIKey string

	// Logging configuration
	LogLevel string
	LogFile  string

	// Metrics configuration
	MetricsEnabled bool
	MetricsHost    string
	MetricsPort    int

	// Detail cache
	CacheBackend string
	CacheMaxAge  time.Duration // 0 keeps entries forever

	// Detail fetching. A zero concurrency leaves the provider default.
	DetailConcurrency   int
	DetailRatePerSecond float64

	// Provider credentials, from env vars and optionally CREDENTIALS_FILE
	CredentialsFile string
	Credentials     map[provider.ID]provider.Credentials
}

// Load reads configuration from environment variables.
// It fails fast if any value is invalid.
func Load() (*Config, error) {
	cfg := &Config{
		// Optional values with defaults
		Host:            getEnv("HOST", "localhost"),
		DatabasePath:    getEnv("DATABASE_PATH", "./data.db"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFile:         os.Getenv("LOG_FILE"),
		InternalAPIKey:  os.Getenv("INTERNAL_API_KEY"),
		MetricsHost:     getEnv("METRICS_HOST", "localhost"),
		CacheBackend:    getEnv("CACHE_BACKEND", CacheDisk),
		CredentialsFile: os.Getenv("CREDENTIALS_FILE"),
	}

	var invalidVars []string
	var err error

	if cfg.Port, err = getEnvInt("PORT", 4101); err != nil {
		invalidVars = append(invalidVars, "PORT")
	}
	if cfg.MetricsEnabled, err = getEnvBool("METRICS_ENABLED", true); err != nil {
		invalidVars = append(invalidVars, "METRICS_ENABLED")
	}
	if cfg.MetricsPort, err = getEnvInt("METRICS_PORT", 4102); err != nil {
		invalidVars = append(invalidVars, "METRICS_PORT")
	}
	if cfg.CacheMaxAge, err = getEnvDuration("CACHE_MAX_AGE", 0); err != nil || cfg.CacheMaxAge < 0 {
		invalidVars = append(invalidVars, "CACHE_MAX_AGE")
	}
	if cfg.DetailConcurrency, err = getEnvInt("DETAIL_CONCURRENCY", 0); err != nil ||
		cfg.DetailConcurrency < 0 || cfg.DetailConcurrency > 4 {
		invalidVars = append(invalidVars, "DETAIL_CONCURRENCY")
	}
	if cfg.DetailRatePerSecond, err = getEnvFloat("DETAIL_RATE_PER_SECOND", 0); err != nil || cfg.DetailRatePerSecond < 0 {
		invalidVars = append(invalidVars, "DETAIL_RATE_PER_SECOND")
	}
	if cfg.CacheBackend != CacheMemory && cfg.CacheBackend != CacheDisk {
		invalidVars = append(invalidVars, "CACHE_BACKEND")
	}

	if len(invalidVars) > 0 {
		return nil, fmt.Errorf("invalid environment variables: %v", invalidVars)
	}

	cfg.Credentials = map[provider.ID]provider.Credentials{
		provider.Strava: {
			ClientID:     os.Getenv("STRAVA_CLIENT_ID"),
			ClientSecret: os.Getenv("STRAVA_CLIENT_SECRET"),
			RefreshToken: os.Getenv("STRAVA_REFRESH_TOKEN"),
			RedirectURI:  os.Getenv("STRAVA_REDIRECT_URI"),
		},
		provider.Garmin: {
			Username: os.Getenv("GARMIN_USERNAME"),
			Password: os.Getenv("GARMIN_PASSWORD"),
		},
		provider.Coros: {
			Username: os.Getenv("COROS_USERNAME"),
			Password: os.Getenv("COROS_PASSWORD"),
		},
	}

	if cfg.CredentialsFile != "" {
		if err := cfg.loadCredentialsFile(cfg.CredentialsFile); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadCredentialsFile overlays non-empty values from a YAML file keyed by provider id
func (c *Config) loadCredentialsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read credentials file: %w", err)
	}

	var file map[string]provider.Credentials
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse credentials file: %w", err)
	}

	for name, in := range file {
		id, err := provider.ParseID(name)
		if err != nil {
			return fmt.Errorf("credentials file: %w", err)
		}
		c.Credentials[id] = overlay(c.Credentials[id], in)
	}
	return nil
}

func overlay(base, in provider.Credentials) provider.Credentials {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&base.Username, in.Username)
	set(&base.Password, in.Password)
	set(&base.ClientID, in.ClientID)
	set(&base.ClientSecret, in.ClientSecret)
	set(&base.RefreshToken, in.RefreshToken)
	set(&base.RedirectURI, in.RedirectURI)
	return base
}

// Enabled lists the providers whose credentials are complete, sorted
func (c *Config) Enabled() []provider.ID {
	var ids []provider.ID
	for id, creds := range c.Credentials {
		if c.complete(id, creds) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *Config) complete(id provider.ID, creds provider.Credentials) bool {
	if id == provider.Strava {
		return creds.HasOAuth()
	}
	return creds.HasPassword()
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(valueStr)
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	return strconv.ParseFloat(valueStr, 64)
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	return strconv.ParseBool(valueStr)
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	return time.ParseDuration(valueStr)
}
