package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"activity-provider-sync/internal/provider"
)

func TestLoadConfigWithDefaults(t *testing.T) {
	setTestEnv(t, map[string]string{})

	config, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Host != "localhost" {
		t.Errorf("Expected default host 'localhost', got %s", config.Host)
	}
	if config.Port != 4101 {
		t.Errorf("Expected default port 4101, got %d", config.Port)
	}
	if config.DatabasePath != "./data.db" {
		t.Errorf("Expected default database path './data.db', got %s", config.DatabasePath)
	}
	if config.LogLevel != "info" {
		t.Errorf("Expected default log level 'info', got %s", config.LogLevel)
	}
	if !config.MetricsEnabled || config.MetricsPort != 4102 {
		t.Errorf("Expected metrics on port 4102, got enabled=%v port=%d", config.MetricsEnabled, config.MetricsPort)
	}
	if config.CacheBackend != CacheDisk || config.CacheMaxAge != 0 {
		t.Errorf("Expected disk cache without max age, got %s %v", config.CacheBackend, config.CacheMaxAge)
	}
	if config.DetailConcurrency != 0 {
		t.Errorf("Expected provider default concurrency, got %d", config.DetailConcurrency)
	}
	if len(config.Enabled()) != 0 {
		t.Errorf("Expected no enabled providers, got %v", config.Enabled())
	}
}

func TestLoadConfigFromEnvVars(t *testing.T) {
	setTestEnv(t, map[string]string{
		"HOST":                   "0.0.0.0",
		"PORT":                   "8080",
		"DATABASE_PATH":          "/tmp/test.db",
		"LOG_LEVEL":              "debug",
		"LOG_FILE":               "/tmp/sync.log",
		"INTERNAL_API_KEY":       "custom_api_key",
		"METRICS_ENABLED":        "false",
		"CACHE_BACKEND":          "memory",
		"CACHE_MAX_AGE":          "24h",
		"DETAIL_CONCURRENCY":     "2",
		"DETAIL_RATE_PER_SECOND": "1.5",
		"STRAVA_CLIENT_ID":       "custom_client_id",
		"STRAVA_CLIENT_SECRET":   "custom_client_secret",
		"STRAVA_REFRESH_TOKEN":   "custom_refresh_token",
		"GARMIN_USERNAME":        "runner@example.com",
		"GARMIN_PASSWORD":        "secret",
		"COROS_USERNAME":         "runner@example.com",
	})

	config, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Host != "0.0.0.0" {
		t.Errorf("Expected host '0.0.0.0', got %s", config.Host)
	}
	if config.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", config.Port)
	}
	if config.DatabasePath != "/tmp/test.db" {
		t.Errorf("Expected database path '/tmp/test.db', got %s", config.DatabasePath)
	}
	if config.LogLevel != "debug" || config.LogFile != "/tmp/sync.log" {
		t.Errorf("Unexpected logging config: %s %s", config.LogLevel, config.LogFile)
	}
	if config.InternalAPIKey != "custom_api_key" {
		t.Errorf("Expected INTERNAL_API_KEY 'custom_api_key', got %s", config.InternalAPIKey)
	}
	if config.MetricsEnabled {
		t.Error("Expected metrics disabled")
	}
	if config.CacheBackend != CacheMemory || config.CacheMaxAge != 24*time.Hour {
		t.Errorf("Unexpected cache config: %s %v", config.CacheBackend, config.CacheMaxAge)
	}
	if config.DetailConcurrency != 2 || config.DetailRatePerSecond != 1.5 {
		t.Errorf("Unexpected detail config: %d %v", config.DetailConcurrency, config.DetailRatePerSecond)
	}
	if config.Credentials[provider.Strava].RefreshToken != "custom_refresh_token" {
		t.Errorf("Expected strava refresh token, got %+v", config.Credentials[provider.Strava])
	}

	// Coros is missing its password
	want := []provider.ID{provider.Garmin, provider.Strava}
	if got := config.Enabled(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected enabled %v, got %v", want, got)
	}
}

func TestLoadCredentialsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	content := `
garmin:
  password: from_file
coros:
  username: coros@example.com
  password: coros_secret
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write credentials file: %v", err)
	}

	setTestEnv(t, map[string]string{
		"CREDENTIALS_FILE": path,
		"GARMIN_USERNAME":  "env@example.com",
		"GARMIN_PASSWORD":  "from_env",
	})

	config, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	garmin := config.Credentials[provider.Garmin]
	if garmin.Username != "env@example.com" || garmin.Password != "from_file" {
		t.Errorf("Expected file to override only the password, got %+v", garmin)
	}
	want := []provider.ID{provider.Coros, provider.Garmin}
	if got := config.Enabled(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected enabled %v, got %v", want, got)
	}
}

func TestLoadCredentialsFileErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("Missing", func(t *testing.T) {
		setTestEnv(t, map[string]string{"CREDENTIALS_FILE": filepath.Join(dir, "missing.yaml")})
		if _, err := Load(); err == nil {
			t.Error("Expected error for missing credentials file")
		}
	})

	t.Run("UnknownProvider", func(t *testing.T) {
		path := filepath.Join(dir, "unknown.yaml")
		os.WriteFile(path, []byte("polar:\n  username: x\n"), 0o600)
		setTestEnv(t, map[string]string{"CREDENTIALS_FILE": path})
		if _, err := Load(); err == nil {
			t.Error("Expected error for unknown provider")
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		os.WriteFile(path, []byte("garmin: [unclosed"), 0o600)
		setTestEnv(t, map[string]string{"CREDENTIALS_FILE": path})
		if _, err := Load(); err == nil {
			t.Error("Expected error for malformed YAML")
		}
	})
}

func TestValidationInvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"PORT", "not_a_number"},
		{"METRICS_ENABLED", "maybe"},
		{"METRICS_PORT", "x"},
		{"CACHE_BACKEND", "redis"},
		{"CACHE_MAX_AGE", "forever"},
		{"CACHE_MAX_AGE", "-1h"},
		{"DETAIL_CONCURRENCY", "5"},
		{"DETAIL_CONCURRENCY", "-1"},
		{"DETAIL_RATE_PER_SECOND", "fast"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			setTestEnv(t, map[string]string{tt.key: tt.value})
			if _, err := Load(); err == nil {
				t.Errorf("Expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

// Helper function to set environment variables for a test
func setTestEnv(t *testing.T, vars map[string]string) {
	t.Helper()

	// Clear all relevant env vars first
	clearTestEnv(t)

	for key, value := range vars {
		t.Setenv(key, value)
	}
}

// Helper function to clear all config-related environment variables
func clearTestEnv(t *testing.T) {
	t.Helper()

	envVars := []string{
		"HOST", "PORT", "DATABASE_PATH", "LOG_LEVEL", "LOG_FILE",
		"INTERNAL_API_KEY", "METRICS_ENABLED", "METRICS_HOST", "METRICS_PORT",
		"CACHE_BACKEND", "CACHE_MAX_AGE", "DETAIL_CONCURRENCY", "DETAIL_RATE_PER_SECOND",
		"STRAVA_CLIENT_ID", "STRAVA_CLIENT_SECRET", "STRAVA_REFRESH_TOKEN", "STRAVA_REDIRECT_URI",
		"GARMIN_USERNAME", "GARMIN_PASSWORD", "COROS_USERNAME", "COROS_PASSWORD",
		"CREDENTIALS_FILE",
	}

	for _, key := range envVars {
		// t.Setenv restores the original value after the test
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}
