package portal

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/carrier-scraper/internal/apperr"
	"github.com/sells-group/carrier-scraper/internal/model"
)

// DefaultRateLimit is the pause between pages when a carrier sets none.
const DefaultRateLimit = 2 * time.Second

// LoginOutcome reports how Login handled authentication.
type LoginOutcome string

const (
	LoginSubmitted LoginOutcome = "submitted"
	LoginManual    LoginOutcome = "manual"
)

// Driver runs portal interactions described by a ScraperConfig. It holds no
// per-session state and is safe for concurrent use.
type Driver struct {
	defaultPause time.Duration
}

// NewDriver creates a Driver. A non-positive defaultPause uses DefaultRateLimit.
func NewDriver(defaultPause time.Duration) *Driver {
	if defaultPause <= 0 {
		defaultPause = DefaultRateLimit
	}
	return &Driver{defaultPause: defaultPause}
}

// Login submits credentials for automatic-login carriers. Manual carriers
// are left for an operator and report LoginManual.
func (d *Driver) Login(ctx context.Context, page Page, cfg model.ScraperConfig) (LoginOutcome, error) {
	if cfg.Mode() == model.LoginManual {
		return LoginManual, nil
	}
	if err := page.SetHeaders(ctx, cfg.Headers); err != nil {
		return "", err
	}
	if err := page.Navigate(ctx, cfg.LoginURL); err != nil {
		return "", eris.Wrapf(err, "portal: open login page for %s", cfg.Carrier)
	}
	if err := page.Fill(ctx, cfg.UsernameSelector, cfg.Username); err != nil {
		return "", eris.Wrap(err, "portal: fill username")
	}
	if err := page.Fill(ctx, cfg.PasswordSelector, cfg.Password); err != nil {
		return "", eris.Wrap(err, "portal: fill password")
	}
	if err := page.Click(ctx, cfg.LoginButtonSelector); err != nil {
		return "", eris.Wrap(err, "portal: submit login")
	}
	if err := page.WaitNavigation(ctx); err != nil {
		return "", eris.Wrap(err, "portal: wait after login")
	}
	zap.L().Info("portal: login submitted", zap.String("carrier", cfg.Carrier))
	return LoginSubmitted, nil
}

// Open navigates to the policy listing.
func (d *Driver) Open(ctx context.Context, page Page, cfg model.ScraperConfig) error {
	if err := page.SetHeaders(ctx, cfg.Headers); err != nil {
		return err
	}
	if err := page.Navigate(ctx, cfg.PortalURL); err != nil {
		return eris.Wrapf(err, "portal: open policy list for %s", cfg.Carrier)
	}
	return nil
}

// ExtractPage reads every policy row on the current page. A missing table, a
// bot challenge or a table without matching rows is an Extraction error.
func (d *Driver) ExtractPage(ctx context.Context, page Page, cfg model.ScraperConfig) ([]model.RawRow, error) {
	found, err := page.Exists(ctx, cfg.PolicyTableSelector)
	if err != nil {
		return nil, apperr.Wrap(apperr.Extraction, err, "look up policy table")
	}
	if !found {
		if body, err := page.Body(ctx); err == nil {
			if block := DetectBlock(body); block != BlockNone {
				return nil, apperr.New(apperr.Extraction, "portal returned a "+string(block)+" challenge")
			}
		}
		return nil, apperr.New(apperr.Extraction, "policy table not found: "+cfg.PolicyTableSelector)
	}

	html, err := page.HTML(ctx, cfg.PolicyTableSelector)
	if err != nil {
		return nil, apperr.Wrap(apperr.Extraction, err, "read policy table")
	}
	rows, err := parseTable(html, cfg.HeaderSelector, cfg.PolicyRowSelector)
	if err != nil {
		return nil, apperr.Wrap(apperr.Extraction, err, "parse policy table")
	}
	if len(rows) == 0 {
		return nil, apperr.New(apperr.Extraction, "no rows matched "+cfg.PolicyRowSelector)
	}
	return rows, nil
}

// HasNextPage reports whether another page can be visited after pageNum.
func (d *Driver) HasNextPage(ctx context.Context, page Page, cfg model.ScraperConfig, pageNum int) (bool, error) {
	if cfg.NextPageSelector == "" {
		return false, nil
	}
	if cfg.MaxPages > 0 && pageNum >= cfg.MaxPages {
		return false, nil
	}
	found, err := page.Exists(ctx, cfg.NextPageSelector)
	if err != nil || !found {
		return false, err
	}
	html, err := page.HTML(ctx, cfg.NextPageSelector)
	if err != nil {
		return false, err
	}
	return !isDisabled(html), nil
}

// GoToNextPage clicks the pagination control and waits for the new page.
func (d *Driver) GoToNextPage(ctx context.Context, page Page, cfg model.ScraperConfig) error {
	if err := page.Click(ctx, cfg.NextPageSelector); err != nil {
		return eris.Wrap(err, "portal: next page")
	}
	return eris.Wrap(page.WaitNavigation(ctx), "portal: wait next page")
}

// Pause idles for the carrier's rate limit. It returns early with ctx.Err()
// when ctx is done.
func (d *Driver) Pause(ctx context.Context, cfg model.ScraperConfig) error {
	wait := d.defaultPause
	if cfg.RateLimitMs > 0 {
		wait = time.Duration(cfg.RateLimitMs) * time.Millisecond
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
