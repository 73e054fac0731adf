// Package monitoring watches session outcomes and posts webhook alerts when
// scraping health degrades.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/carrier-scraper/internal/model"
	"github.com/sells-group/carrier-scraper/internal/session"
	"github.com/sells-group/carrier-scraper/internal/store"
)

// MetricsSnapshot holds a point-in-time view of session health.
type MetricsSnapshot struct {
	// Sessions updated within the lookback window.
	SessionsTotal     int     `json:"sessions_total"`
	SessionsCompleted int     `json:"sessions_completed"`
	SessionsFailed    int     `json:"sessions_failed"`
	SessionsWaiting   int     `json:"sessions_waiting"`
	SessionsScraping  int     `json:"sessions_scraping"`
	FailRate          float64 `json:"fail_rate"`
	LoginTimeouts     int     `json:"login_timeouts"`
	RecordsScraped    int     `json:"records_scraped"`

	// Scraping sessions with no progress for longer than the stall window,
	// regardless of lookback.
	Stalled []string `json:"stalled,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// SessionLister is the store subset the collector reads.
type SessionLister interface {
	ListSessions(ctx context.Context, filter store.SessionFilter) ([]model.Session, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	store SessionLister
	stall time.Duration
	now   func() time.Time
}

// NewCollector creates a metrics collector. A scraping session whose last
// update is older than stall counts as stalled (default 15m).
func NewCollector(st SessionLister, stall time.Duration) *Collector {
	if stall <= 0 {
		stall = 15 * time.Minute
	}
	return &Collector{store: st, stall: stall, now: time.Now}
}

// Collect gathers a snapshot of session metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	sessions, err := c.store.ListSessions(ctx, store.SessionFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list sessions")
	}

	for _, s := range sessions {
		if s.Status == model.SessionScraping && now.Sub(s.UpdatedAt) > c.stall {
			snap.Stalled = append(snap.Stalled, s.ID)
		}
		if s.UpdatedAt.Before(cutoff) {
			continue
		}
		snap.SessionsTotal++
		snap.RecordsScraped += s.ScrapedCount
		switch s.Status {
		case model.SessionCompleted:
			snap.SessionsCompleted++
		case model.SessionFailed:
			snap.SessionsFailed++
			if s.ErrorMessage == session.LoginTimedOut {
				snap.LoginTimeouts++
			}
		case model.SessionWaitingForLogin, model.SessionReady:
			snap.SessionsWaiting++
		case model.SessionScraping:
			snap.SessionsScraping++
		}
	}

	if finished := snap.SessionsCompleted + snap.SessionsFailed; finished > 0 {
		snap.FailRate = float64(snap.SessionsFailed) / float64(finished)
	}
	return snap, nil
}
