package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/carrier-scraper/internal/config"
)

func thresholds() config.MonitoringConfig {
	return config.MonitoringConfig{
		FailureRateThreshold:  0.25,
		LoginTimeoutThreshold: 3,
		StallMinutes:          15,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &MetricsSnapshot{
		SessionsTotal:     20,
		SessionsCompleted: 18,
		SessionsFailed:    2,
		FailRate:          0.1,
		LoginTimeouts:     1,
		LookbackHours:     24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &MetricsSnapshot{
		SessionsCompleted: 6,
		SessionsFailed:    4,
		FailRate:          0.4,
		LookbackHours:     24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertSessionFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_SmallSampleIgnored(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &MetricsSnapshot{SessionsCompleted: 1, SessionsFailed: 3, FailRate: 0.75}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_LoginTimeouts(t *testing.T) {
	a := NewAlerter(thresholds())

	alerts := a.Evaluate(&MetricsSnapshot{LoginTimeouts: 3, LookbackHours: 24})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLoginTimeouts, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "3 session(s)")
}

func TestAlerter_Evaluate_Stalled(t *testing.T) {
	a := NewAlerter(thresholds())

	alerts := a.Evaluate(&MetricsSnapshot{Stalled: []string{"s1", "s2"}})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStalledScrape, alerts[0].Type)
	assert.Equal(t, []string{"s1", "s2"}, alerts[0].Details["session_ids"])
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received atomic.Int32
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := thresholds()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertStalledScrape, Severity: "high", Message: "stuck"}})
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(1), received.Load())
	assert.Equal(t, AlertStalledScrape, got.Type)
	assert.Equal(t, "stuck", got.Message)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := thresholds()
	cfg.WebhookURL = srv.URL
	sent := NewAlerter(cfg).SendAlerts(context.Background(), []Alert{{Type: AlertLoginTimeouts}})
	assert.Zero(t, sent)
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	sent := NewAlerter(thresholds()).SendAlerts(context.Background(), []Alert{{Type: AlertLoginTimeouts}})
	assert.Zero(t, sent)
}
