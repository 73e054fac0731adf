package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "carrier-scraper.db", cfg.Store.SQLitePath)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "cloud", cfg.Browser.Provider)
	assert.Equal(t, 60, cfg.Browser.AcquireTimeoutSecs)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "GTL", cfg.Scraper.DefaultCarrier)
	assert.Equal(t, 30, cfg.Scraper.LoginTimeoutMins)
	assert.Equal(t, 500, cfg.Scraper.MaxPagesCap)
	assert.Equal(t, 2, cfg.Scraper.MaxExtractionFailures)
	assert.Equal(t, 2000, cfg.Scraper.DefaultRateLimitMs)
	assert.Equal(t, "@every 1m", cfg.Scraper.SweepSchedule)
	assert.Empty(t, cfg.Redis.URL)
	assert.Equal(t, 2, cfg.Retry.MaxAttempts)
	assert.InDelta(t, 2.0, cfg.Retry.Multiplier, 0.001)
	assert.Equal(t, 3, cfg.Circuit.FailureThreshold)
	assert.InDelta(t, 0.25, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.Empty(t, cfg.Monitoring.WebhookURL)
	assert.Empty(t, cfg.CarriersFile)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/scraper
log:
  level: debug
  format: console
server:
  port: 9090
  cors_origins:
    - https://ops.example.com
browser:
  provider: local
  profile_dir: /var/lib/profiles
carriers_file: carriers.yaml
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/scraper", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://ops.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "local", cfg.Browser.Provider)
	assert.Equal(t, "/var/lib/profiles", cfg.Browser.ProfileDir)
	assert.Equal(t, "carriers.yaml", cfg.CarriersFile)
	// Defaults still apply for unset values
	assert.Equal(t, 500, cfg.Scraper.MaxPagesCap)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("SCRAPER_STORE_DRIVER", "postgres")
	t.Setenv("SCRAPER_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("SCRAPER_SERVER_PORT", "3000")
	t.Setenv("SCRAPER_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("SCRAPER_SCRAPER_LOGIN_TIMEOUT_MINS", "45")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 45, cfg.Scraper.LoginTimeoutMins)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLitePath = "test.db"
	cfg.Server.Port = 8080
	cfg.Browser.Provider = "cloud"
	cfg.Browser.BaseURL = "http://127.0.0.1:40080"
	cfg.Scraper.MaxExtractionFailures = 2
	cfg.Scraper.LoginTimeoutMins = 30
	return cfg
}

func TestValidateServe_Defaults(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("serve"))
}

func TestValidateStore_Postgres(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"

	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/scraper"
	assert.NoError(t, cfg.Validate("store"))
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be sqlite or postgres")
}

func TestValidateServe_Browser(t *testing.T) {
	cfg := validDefaults()
	cfg.Browser.Provider = "firefox"
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be cloud or local")

	cfg.Browser.Provider = "cloud"
	cfg.Browser.BaseURL = ""
	err = cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "browser.base_url")

	cfg.Browser.Provider = "local"
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateServe_CollectsAllErrors(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0
	cfg.Scraper.MaxExtractionFailures = 0
	cfg.Scraper.LoginTimeoutMins = 0
	cfg.Monitoring.FailureRateThreshold = 1.5

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
	assert.Contains(t, err.Error(), "max_extraction_failures")
	assert.Contains(t, err.Error(), "login_timeout_mins")
	assert.Contains(t, err.Error(), "failure_rate_threshold")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
