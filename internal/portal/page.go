// Package portal drives a carrier web portal through a browser tab: login,
// table extraction and pagination.
package portal

import (
	"context"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rotisserie/eris"
)

// Page is a single browser tab.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	WaitNavigation(ctx context.Context) error
	// HTML returns the outer HTML of the first element matching selector.
	HTML(ctx context.Context, selector string) (string, error)
	Exists(ctx context.Context, selector string) (bool, error)
	// Body returns the full document HTML.
	Body(ctx context.Context) (string, error)
	SetHeaders(ctx context.Context, headers map[string]string) error
	Close() error
}

// RodPage implements Page over a rod tab. Element lookups are bounded by
// timeout.
type RodPage struct {
	page    *rod.Page
	timeout time.Duration

	clearHeaders func()
}

// NewRodPage wraps p. A non-positive timeout defaults to 30s.
func NewRodPage(p *rod.Page, timeout time.Duration) *RodPage {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RodPage{page: p, timeout: timeout}
}

func (p *RodPage) bound(ctx context.Context) *rod.Page {
	return p.page.Context(ctx).Timeout(p.timeout)
}

func (p *RodPage) Navigate(ctx context.Context, url string) error {
	pg := p.bound(ctx)
	if err := pg.Navigate(url); err != nil {
		return eris.Wrapf(err, "portal: navigate %s", url)
	}
	return eris.Wrapf(pg.WaitLoad(), "portal: wait load %s", url)
}

func (p *RodPage) Fill(ctx context.Context, selector, value string) error {
	el, err := p.bound(ctx).Element(selector)
	if err != nil {
		return eris.Wrapf(err, "portal: find %s", selector)
	}
	if err := el.SelectAllText(); err != nil {
		return eris.Wrapf(err, "portal: select %s", selector)
	}
	return eris.Wrapf(el.Input(value), "portal: input %s", selector)
}

func (p *RodPage) Click(ctx context.Context, selector string) error {
	el, err := p.bound(ctx).Element(selector)
	if err != nil {
		return eris.Wrapf(err, "portal: find %s", selector)
	}
	return eris.Wrapf(el.Click(proto.InputMouseButtonLeft, 1), "portal: click %s", selector)
}

func (p *RodPage) WaitNavigation(ctx context.Context) error {
	return eris.Wrap(p.bound(ctx).WaitStable(500*time.Millisecond), "portal: wait navigation")
}

func (p *RodPage) HTML(ctx context.Context, selector string) (string, error) {
	el, err := p.bound(ctx).Element(selector)
	if err != nil {
		return "", eris.Wrapf(err, "portal: find %s", selector)
	}
	html, err := el.HTML()
	return html, eris.Wrapf(err, "portal: html %s", selector)
}

func (p *RodPage) Exists(ctx context.Context, selector string) (bool, error) {
	has, _, err := p.page.Context(ctx).Has(selector)
	return has, eris.Wrapf(err, "portal: has %s", selector)
}

func (p *RodPage) Body(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	return html, eris.Wrap(err, "portal: body")
}

// SetHeaders replaces the extra request headers sent by the tab.
func (p *RodPage) SetHeaders(ctx context.Context, headers map[string]string) error {
	if p.clearHeaders != nil {
		p.clearHeaders()
		p.clearHeaders = nil
	}
	if len(headers) == 0 {
		return nil
	}
	dict := make([]string, 0, len(headers)*2)
	for k, v := range headers {
		dict = append(dict, k, v)
	}
	cleanup, err := p.page.Context(ctx).SetExtraHeaders(dict)
	if err != nil {
		return eris.Wrap(err, "portal: set headers")
	}
	p.clearHeaders = cleanup
	return nil
}

func (p *RodPage) Close() error {
	return eris.Wrap(p.page.Close(), "portal: close page")
}
