package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/carrier-scraper/internal/browser"
	"github.com/sells-group/carrier-scraper/internal/carrier"
	"github.com/sells-group/carrier-scraper/internal/config"
	"github.com/sells-group/carrier-scraper/internal/monitoring"
	"github.com/sells-group/carrier-scraper/internal/portal"
	"github.com/sells-group/carrier-scraper/internal/resilience"
	"github.com/sells-group/carrier-scraper/internal/session"
	"github.com/sells-group/carrier-scraper/internal/store"
)

// appEnv holds the store, browser controller and session manager needed by
// the serve command.
type appEnv struct {
	Store      store.Store
	Carriers   *carrier.Registry
	Controller *browser.Controller
	Manager    *session.Manager
	Sweeper    *session.Sweeper
	// Checker is nil unless monitoring.webhook_url is set.
	Checker *monitoring.Checker
	redis   *redis.Client
}

// Close releases resources held by the environment. Call after the manager
// has shut down.
func (e *appEnv) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		return store.NewSQLite(c.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context, c *config.Config) (store.Store, error) {
	if err := c.Validate("store"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initProvider(c config.BrowserConfig) browser.Provider {
	if c.Provider == "local" {
		return browser.NewLocalProvider(browser.LocalConfig{
			Bin:        c.ChromeBin,
			Headless:   c.Headless,
			ProfileDir: c.ProfileDir,
		})
	}
	return browser.NewCloudProvider(browser.CloudConfig{
		BaseURL:        c.BaseURL,
		Token:          c.Token,
		RequestsPerSec: c.RequestsPerSec,
		Timeout:        secs(c.AcquireTimeoutSecs) + 30*time.Second,
	})
}

func initCanceller(ctx context.Context, c config.RedisConfig) (session.Canceller, *redis.Client, error) {
	if c.URL == "" {
		return session.NewMemoryCanceller(), nil, nil
	}
	rdb, err := session.NewRedisClient(ctx, c.URL)
	if err != nil {
		return nil, nil, err
	}
	return session.NewRedisCanceller(rdb, time.Duration(c.CancelTTLMins)*time.Minute), rdb, nil
}

// initApp wires the serve command's dependencies. Callers should defer
// env.Close().
func initApp(ctx context.Context, c *config.Config) (*appEnv, error) {
	if err := c.Validate("serve"); err != nil {
		return nil, err
	}

	registry, err := carrier.Load(c.CarriersFile)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, c)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st, Carriers: registry}

	canceller, rdb, err := initCanceller(ctx, c.Redis)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.redis = rdb

	provider := initProvider(c.Browser)
	env.Controller = browser.NewController(provider, browser.Config{
		AcquireTimeout: secs(c.Browser.AcquireTimeoutSecs),
		ReleaseTimeout: secs(c.Browser.ReleaseTimeoutSecs),
		ElementTimeout: secs(c.Browser.ElementTimeoutSecs),
		Retry: resilience.FromRetryConfig(c.Retry.MaxAttempts, c.Retry.InitialBackoffMs,
			c.Retry.MaxBackoffMs, c.Retry.Multiplier, c.Retry.JitterFraction),
		Circuit: resilience.FromCircuitConfig(c.Circuit.FailureThreshold, c.Circuit.ResetTimeoutSecs),
	})

	env.Manager = session.NewManager(session.Deps{
		Store:     st,
		Carriers:  registry,
		Browsers:  env.Controller,
		Portal:    portal.NewDriver(time.Duration(c.Scraper.DefaultRateLimitMs) * time.Millisecond),
		Canceller: canceller,
	}, session.Config{
		DefaultCarrier:        c.Scraper.DefaultCarrier,
		LoginTimeout:          time.Duration(c.Scraper.LoginTimeoutMins) * time.Minute,
		MaxPagesCap:           c.Scraper.MaxPagesCap,
		MaxExtractionFailures: c.Scraper.MaxExtractionFailures,
	})
	env.Sweeper = session.NewSweeper(env.Manager, c.Scraper.SweepSchedule)
	if c.Monitoring.WebhookURL != "" {
		collector := monitoring.NewCollector(st, time.Duration(c.Monitoring.StallMinutes)*time.Minute)
		env.Checker = monitoring.NewChecker(collector, monitoring.NewAlerter(c.Monitoring), c.Monitoring)
	}

	zap.L().Info("app initialized",
		zap.String("store", c.Store.Driver),
		zap.String("browser", provider.Name()),
		zap.Int("carriers", len(registry.List())),
		zap.Bool("shared_cancel", rdb != nil),
		zap.Bool("alerts", env.Checker != nil),
	)
	return env, nil
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }
