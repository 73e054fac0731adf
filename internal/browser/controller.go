package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/carrier-scraper/internal/apperr"
	"github.com/sells-group/carrier-scraper/internal/portal"
	"github.com/sells-group/carrier-scraper/internal/resilience"
)

// MinAcquireTimeout is the floor for a single profile start attempt.
const MinAcquireTimeout = 60 * time.Second

// Config controls acquisition and page behavior.
type Config struct {
	AcquireTimeout time.Duration
	ReleaseTimeout time.Duration
	ElementTimeout time.Duration
	Retry          resilience.RetryConfig
	Circuit        resilience.CircuitBreakerConfig
}

// Handle is an acquired browser profile. It is released at most once.
type Handle struct {
	ProfileID string
	Endpoint  string

	mu      sync.Mutex
	browser *rod.Browser
	page    portal.Page
	cancel  context.CancelFunc
	once    sync.Once
}

// Controller acquires, connects and releases browser profiles through a Provider.
type Controller struct {
	provider Provider
	cfg      Config
	breakers *resilience.Breakers
}

// NewController creates a Controller. AcquireTimeout is raised to
// MinAcquireTimeout when lower.
func NewController(p Provider, cfg Config) *Controller {
	if cfg.AcquireTimeout < MinAcquireTimeout {
		cfg.AcquireTimeout = MinAcquireTimeout
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = 30 * time.Second
	}
	return &Controller{
		provider: p,
		cfg:      cfg,
		breakers: resilience.NewBreakers(cfg.Circuit),
	}
}

// Acquire starts profileID. An attempt that exceeds AcquireTimeout is an
// AcquisitionTimeout and is retried once; no other failure is retried. Every
// failed attempt stops the profile, and every failure is reported as a
// BrowserAcquisition error.
func (c *Controller) Acquire(ctx context.Context, profileID string) (*Handle, error) {
	cb := c.breakers.Get(c.provider.Name() + ":" + profileID)

	retry := c.cfg.Retry
	retry.MaxAttempts = 2
	retry.ShouldRetry = func(err error) bool {
		return apperr.KindOf(err) == apperr.AcquisitionTimeout
	}
	retry.OnRetry = resilience.RetryLogger("browser", "acquire")

	endpoint, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (string, error) {
		return resilience.ExecuteVal(ctx, cb, func(ctx context.Context) (string, error) {
			return c.startAttempt(ctx, profileID)
		})
	})
	if err != nil {
		if apperr.Is(err, apperr.BrowserAcquisition) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.BrowserAcquisition, err,
			fmt.Sprintf("acquire browser profile %s via %s", profileID, c.provider.Name()))
	}

	zap.L().Info("browser: profile acquired",
		zap.String("provider", c.provider.Name()),
		zap.String("profile", profileID),
	)
	return &Handle{ProfileID: profileID, Endpoint: endpoint}, nil
}

func (c *Controller) startAttempt(ctx context.Context, profileID string) (string, error) {
	actx, cancel := context.WithTimeout(ctx, c.cfg.AcquireTimeout)
	defer cancel()

	endpoint, err := c.provider.Start(actx, profileID)
	if err == nil {
		return endpoint, nil
	}
	// The provider may have launched the profile before failing or timing out.
	c.stopQuietly(ctx, profileID)
	if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return "", apperr.Wrap(apperr.AcquisitionTimeout, err,
			fmt.Sprintf("browser profile %s did not start within %s", profileID, c.cfg.AcquireTimeout))
	}
	return "", err
}

// stopQuietly stops a profile left behind by a failed start. Its own failure
// is only logged.
func (c *Controller) stopQuietly(ctx context.Context, profileID string) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ReleaseTimeout)
	defer cancel()
	if err := c.provider.Stop(sctx, profileID); err != nil {
		zap.L().Warn("browser: stop after failed start",
			zap.String("provider", c.provider.Name()),
			zap.String("profile", profileID),
			zap.Error(err),
		)
	}
}

// Connect attaches to the handle's browser and returns its first tab, opening
// one if none exists. Repeated calls return the same page.
func (c *Controller) Connect(ctx context.Context, h *Handle) (portal.Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.page != nil {
		return h.page, nil
	}

	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := rod.New().ControlURL(h.Endpoint).Context(bctx)
	if err := b.Connect(); err != nil {
		cancel()
		return nil, apperr.Wrap(apperr.BrowserAcquisition, eris.Wrap(err, "browser: connect"),
			"connect to browser profile "+h.ProfileID)
	}

	pages, err := b.Pages()
	if err != nil {
		cancel()
		return nil, apperr.Wrap(apperr.BrowserAcquisition, eris.Wrap(err, "browser: list pages"),
			"connect to browser profile "+h.ProfileID)
	}
	var tab *rod.Page
	if len(pages) > 0 {
		tab = pages.First()
	} else if tab, err = b.Page(proto.TargetCreateTarget{}); err != nil {
		cancel()
		return nil, apperr.Wrap(apperr.BrowserAcquisition, eris.Wrap(err, "browser: open page"),
			"connect to browser profile "+h.ProfileID)
	}

	h.browser = b
	h.cancel = cancel
	h.page = portal.NewRodPage(tab, c.cfg.ElementTimeout)
	return h.page, nil
}

// Release disconnects from and stops the handle's profile. It is safe to call
// more than once; failures are logged, never returned.
func (c *Controller) Release(ctx context.Context, h *Handle) {
	if h == nil {
		return
	}
	h.once.Do(func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ReleaseTimeout)
		defer cancel()

		h.mu.Lock()
		if h.page != nil {
			if err := h.page.Close(); err != nil {
				zap.L().Debug("browser: close page", zap.String("profile", h.ProfileID), zap.Error(err))
			}
		}
		if h.cancel != nil {
			h.cancel()
		}
		h.browser, h.page, h.cancel = nil, nil, nil
		h.mu.Unlock()

		if err := c.provider.Stop(rctx, h.ProfileID); err != nil {
			zap.L().Warn("browser: release failed",
				zap.String("profile", h.ProfileID),
				zap.Error(err),
			)
			return
		}
		zap.L().Info("browser: profile released", zap.String("profile", h.ProfileID))
	})
}

// Circuits reports breaker state per provider profile.
func (c *Controller) Circuits() map[string]string {
	out := make(map[string]string)
	for k, s := range c.breakers.States() {
		out[k] = s.String()
	}
	return out
}
