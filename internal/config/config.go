package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig      `yaml:"store" mapstructure:"store"`
	Log          LogConfig        `yaml:"log" mapstructure:"log"`
	Server       ServerConfig     `yaml:"server" mapstructure:"server"`
	Browser      BrowserConfig    `yaml:"browser" mapstructure:"browser"`
	Scraper      ScraperConfig    `yaml:"scraper" mapstructure:"scraper"`
	Redis        RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Retry        RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit      CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Monitoring   MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	CarriersFile string           `yaml:"carriers_file" mapstructure:"carriers_file"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	CORSOrigins         []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// BrowserConfig selects and tunes the remote browser provider.
type BrowserConfig struct {
	// Provider is "cloud" (hosted profile API) or "local" (Chrome on this host).
	Provider           string  `yaml:"provider" mapstructure:"provider"`
	BaseURL            string  `yaml:"base_url" mapstructure:"base_url"`
	Token              string  `yaml:"token" mapstructure:"token"`
	RequestsPerSec     float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	ChromeBin          string  `yaml:"chrome_bin" mapstructure:"chrome_bin"`
	Headless           bool    `yaml:"headless" mapstructure:"headless"`
	ProfileDir         string  `yaml:"profile_dir" mapstructure:"profile_dir"`
	AcquireTimeoutSecs int     `yaml:"acquire_timeout_secs" mapstructure:"acquire_timeout_secs"`
	ReleaseTimeoutSecs int     `yaml:"release_timeout_secs" mapstructure:"release_timeout_secs"`
	ElementTimeoutSecs int     `yaml:"element_timeout_secs" mapstructure:"element_timeout_secs"`
}

// ScraperConfig tunes the session workflow.
type ScraperConfig struct {
	DefaultCarrier        string `yaml:"default_carrier" mapstructure:"default_carrier"`
	LoginTimeoutMins      int    `yaml:"login_timeout_mins" mapstructure:"login_timeout_mins"`
	MaxPagesCap           int    `yaml:"max_pages_cap" mapstructure:"max_pages_cap"`
	MaxExtractionFailures int    `yaml:"max_extraction_failures" mapstructure:"max_extraction_failures"`
	DefaultRateLimitMs    int    `yaml:"default_rate_limit_ms" mapstructure:"default_rate_limit_ms"`
	SweepSchedule         string `yaml:"sweep_schedule" mapstructure:"sweep_schedule"`
}

// RedisConfig enables shared stop flags. Empty URL keeps them in memory.
type RedisConfig struct {
	URL           string `yaml:"url" mapstructure:"url"`
	CancelTTLMins int    `yaml:"cancel_ttl_mins" mapstructure:"cancel_ttl_mins"`
}

// RetryConfig configures browser acquisition retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures the per-profile circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// MonitoringConfig configures session health alerting. Alerts are only sent
// when WebhookURL is set.
type MonitoringConfig struct {
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold  float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	LoginTimeoutThreshold int     `yaml:"login_timeout_threshold" mapstructure:"login_timeout_threshold"`
	StallMinutes          int     `yaml:"stall_minutes" mapstructure:"stall_minutes"`
	LookbackWindowHours   int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "carrier-scraper.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout_secs", 30)
	v.SetDefault("browser.provider", "cloud")
	v.SetDefault("browser.base_url", "http://127.0.0.1:40080")
	v.SetDefault("browser.token", "")
	v.SetDefault("browser.chrome_bin", "")
	v.SetDefault("browser.requests_per_sec", 2)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.profile_dir", "profiles")
	v.SetDefault("browser.acquire_timeout_secs", 60)
	v.SetDefault("browser.release_timeout_secs", 30)
	v.SetDefault("browser.element_timeout_secs", 30)
	v.SetDefault("scraper.default_carrier", "GTL")
	v.SetDefault("scraper.login_timeout_mins", 30)
	v.SetDefault("scraper.max_pages_cap", 500)
	v.SetDefault("scraper.max_extraction_failures", 2)
	v.SetDefault("scraper.default_rate_limit_ms", 2000)
	v.SetDefault("scraper.sweep_schedule", "@every 1m")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.cancel_ttl_mins", 1440)
	v.SetDefault("retry.max_attempts", 2)
	v.SetDefault("retry.initial_backoff_ms", 1000)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.2)
	v.SetDefault("circuit.failure_threshold", 3)
	v.SetDefault("circuit.reset_timeout_secs", 60)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.login_timeout_threshold", 3)
	v.SetDefault("monitoring.stall_minutes", 15)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("carriers_file", "")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is "serve" for the API
// server or "store" for commands that only touch the database.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for sqlite")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}

	switch mode {
	case "store":
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		switch c.Browser.Provider {
		case "cloud":
			if c.Browser.BaseURL == "" {
				errs = append(errs, "browser.base_url is required for the cloud provider")
			}
		case "local":
		default:
			errs = append(errs, fmt.Sprintf("browser.provider %q must be cloud or local", c.Browser.Provider))
		}
		if c.Scraper.MaxExtractionFailures < 1 {
			errs = append(errs, "scraper.max_extraction_failures must be >= 1")
		}
		if c.Scraper.LoginTimeoutMins < 1 {
			errs = append(errs, "scraper.login_timeout_mins must be >= 1")
		}
		if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
			errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
