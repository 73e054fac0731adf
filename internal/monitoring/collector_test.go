package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/carrier-scraper/internal/model"
	"github.com/sells-group/carrier-scraper/internal/session"
	"github.com/sells-group/carrier-scraper/internal/store"
)

type fakeLister struct {
	sessions []model.Session
	err      error
}

func (f *fakeLister) ListSessions(context.Context, store.SessionFilter) ([]model.Session, error) {
	return f.sessions, f.err
}

func TestCollector_Collect(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	lister := &fakeLister{sessions: []model.Session{
		{ID: "c1", Status: model.SessionCompleted, ScrapedCount: 40, UpdatedAt: now.Add(-time.Hour)},
		{ID: "c2", Status: model.SessionCompleted, ScrapedCount: 10, UpdatedAt: now.Add(-2 * time.Hour)},
		{ID: "f1", Status: model.SessionFailed, ErrorMessage: session.LoginTimedOut, UpdatedAt: now.Add(-3 * time.Hour)},
		{ID: "f2", Status: model.SessionFailed, ErrorMessage: model.StoppedByUser, UpdatedAt: now.Add(-4 * time.Hour)},
		{ID: "w1", Status: model.SessionWaitingForLogin, UpdatedAt: now.Add(-5 * time.Minute)},
		{ID: "s1", Status: model.SessionScraping, ScrapedCount: 5, UpdatedAt: now.Add(-time.Minute)},
		{ID: "s2", Status: model.SessionScraping, UpdatedAt: now.Add(-time.Hour)},
		{ID: "old", Status: model.SessionFailed, UpdatedAt: now.Add(-48 * time.Hour)},
	}}

	c := NewCollector(lister, 15*time.Minute)
	c.now = func() time.Time { return now }

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 7, snap.SessionsTotal)
	assert.Equal(t, 2, snap.SessionsCompleted)
	assert.Equal(t, 2, snap.SessionsFailed)
	assert.Equal(t, 1, snap.SessionsWaiting)
	assert.Equal(t, 2, snap.SessionsScraping)
	assert.Equal(t, 1, snap.LoginTimeouts)
	assert.Equal(t, 55, snap.RecordsScraped)
	assert.InDelta(t, 0.5, snap.FailRate, 0.001)
	assert.Equal(t, []string{"s2"}, snap.Stalled)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, now, snap.CollectedAt)
}

func TestCollector_Empty(t *testing.T) {
	snap, err := NewCollector(&fakeLister{}, 0).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.SessionsTotal)
	assert.Zero(t, snap.FailRate)
	assert.Empty(t, snap.Stalled)
}

func TestCollector_StoreError(t *testing.T) {
	_, err := NewCollector(&fakeLister{err: errors.New("db down")}, 0).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list sessions")
}
