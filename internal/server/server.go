// Package server exposes the scraping session workflow over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/carrier-scraper/internal/carrier"
	"github.com/sells-group/carrier-scraper/internal/model"
	"github.com/sells-group/carrier-scraper/internal/session"
)

// Sessions drives session lifecycles.
type Sessions interface {
	Start(ctx context.Context, req session.StartRequest) (*session.StartResult, error)
	ConfirmReady(ctx context.Context, sessionID string) error
	Scrape(ctx context.Context, sessionID string) error
	Status(ctx context.Context, sessionID string) (*model.SessionWithJob, error)
	Stop(ctx context.Context, sessionID string) error
}

// Jobs reads jobs and their scraped policies.
type Jobs interface {
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListPolicies(ctx context.Context, jobID string) ([]model.PolicyRecord, error)
	Ping(ctx context.Context) error
}

// Carriers lists configured carriers.
type Carriers interface {
	List() []carrier.Carrier
	Priority(carrier, category string) string
	ActionRequired(carrier, category string) bool
}

// Config holds listener and CORS settings.
type Config struct {
	Port            int
	CORSOrigins     []string
	ShutdownTimeout time.Duration
	// Circuits, when set, reports browser circuit breaker states on /health.
	Circuits func() map[string]string
}

// Server is the HTTP API.
type Server struct {
	sessions Sessions
	jobs     Jobs
	carriers Carriers
	cfg      Config
}

// New creates a Server.
func New(sessions Sessions, jobs Jobs, carriers Carriers, cfg Config) *Server {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	return &Server{sessions: sessions, jobs: jobs, carriers: carriers, cfg: cfg}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/carriers", s.handleCarriers)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.handleStart)
		r.Post("/confirm-ready", s.handleConfirmReady)
		r.Post("/scrape", s.handleScrape)
		r.Get("/{id}/status", s.handleStatus)
		r.Post("/{id}/stop", s.handleStop)
	})

	r.Route("/jobs/{id}", func(r chi.Router) {
		r.Get("/", s.handleJob)
		r.Get("/export", s.handleExport)
	})
	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("server: listening", zap.Int("port", s.cfg.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return eris.Wrap(err, "server: listen")
	case <-ctx.Done():
	}

	zap.L().Info("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server: shutdown")
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			zap.L().Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
