package browser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/carrier-scraper/internal/resilience"
)

func TestCloudProvider_Start(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/browser/prof-1/web", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "success", "wsUrl": "ws://127.0.0.1:9222/devtools/browser/abc"})
	}))
	defer srv.Close()

	p := NewCloudProvider(CloudConfig{BaseURL: srv.URL, Token: "tok", RequestsPerSec: 100})
	ws, err := p.Start(context.Background(), "prof-1")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/abc", ws)
	assert.Equal(t, "cloud", p.Name())
}

func TestCloudProvider_Start_TransientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewCloudProvider(CloudConfig{BaseURL: srv.URL, RequestsPerSec: 100})
	_, err := p.Start(context.Background(), "prof-1")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "503")
}

func TestCloudProvider_Start_ClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such profile", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewCloudProvider(CloudConfig{BaseURL: srv.URL, RequestsPerSec: 100})
	_, err := p.Start(context.Background(), "prof-1")
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func TestCloudProvider_Start_MissingWsURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	p := NewCloudProvider(CloudConfig{BaseURL: srv.URL, RequestsPerSec: 100})
	_, err := p.Start(context.Background(), "prof-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no wsUrl")
}

func TestCloudProvider_Stop(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodDelete, r.Method)
		if r.URL.Path == "/browser/gone/web" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewCloudProvider(CloudConfig{BaseURL: srv.URL, RequestsPerSec: 100})
	require.NoError(t, p.Stop(context.Background(), "prof-1"))
	require.NoError(t, p.Stop(context.Background(), "gone"))
	assert.Equal(t, 2, calls)
}
