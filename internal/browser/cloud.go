package browser

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/carrier-scraper/internal/resilience"
)

// CloudConfig configures the cloud profile API client.
type CloudConfig struct {
	BaseURL        string
	Token          string
	RequestsPerSec float64
	Timeout        time.Duration
}

// CloudProvider starts profiles through a hosted browser-profile API.
type CloudProvider struct {
	client *resty.Client
}

type startResponse struct {
	WsURL string `json:"wsUrl"`
}

// NewCloudProvider creates a provider for cfg.BaseURL. Requests are paced to
// cfg.RequestsPerSec (default 2).
func NewCloudProvider(cfg CloudConfig) *CloudProvider {
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 2
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.Token).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)

	limiter := rate.NewLimiter(rate.Limit(rps), 1)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	return &CloudProvider{client: client}
}

func (p *CloudProvider) Name() string { return "cloud" }

// Start launches the profile and returns its websocket endpoint.
func (p *CloudProvider) Start(ctx context.Context, profileID string) (string, error) {
	var out startResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("profile", profileID).
		SetResult(&out).
		Post("/browser/{profile}/web")
	if err != nil {
		return "", eris.Wrapf(err, "cloud: start profile %s", profileID)
	}
	if err := statusError(resp, "start", profileID); err != nil {
		return "", err
	}
	if out.WsURL == "" {
		return "", eris.Errorf("cloud: start profile %s: response has no wsUrl", profileID)
	}
	return out.WsURL, nil
}

// Stop shuts the profile down. A profile that is not running is not an error.
func (p *CloudProvider) Stop(ctx context.Context, profileID string) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("profile", profileID).
		Delete("/browser/{profile}/web")
	if err != nil {
		return eris.Wrapf(err, "cloud: stop profile %s", profileID)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil
	}
	return statusError(resp, "stop", profileID)
}

func statusError(resp *resty.Response, op, profileID string) error {
	if !resp.IsError() {
		return nil
	}
	body := resp.String()
	if len(body) > 200 {
		body = body[:200]
	}
	err := eris.Errorf("cloud: %s profile %s: status %d: %s", op, profileID, resp.StatusCode(), body)
	if resilience.IsTransientHTTPStatus(resp.StatusCode()) {
		return resilience.NewTransientError(err, resp.StatusCode())
	}
	return err
}
