package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/carrier-scraper/internal/apperr"
	"github.com/sells-group/carrier-scraper/internal/carrier"
	"github.com/sells-group/carrier-scraper/internal/export"
	"github.com/sells-group/carrier-scraper/internal/session"
)

type startRequest struct {
	JobName   string `json:"job_name"`
	Carrier   string `json:"carrier"`
	UserEmail string `json:"user_email"`
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Ping(r.Context()); err != nil {
		zap.L().Warn("server: health check", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	body := map[string]any{"status": "ok"}
	if s.cfg.Circuits != nil {
		body["circuits"] = s.cfg.Circuits()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleCarriers(w http.ResponseWriter, _ *http.Request) {
	type carrierView struct {
		Name       string                      `json:"name"`
		LoginMode  string                      `json:"login_mode"`
		PortalURL  string                      `json:"portal_url"`
		Categories map[string]carrier.Category `json:"categories,omitempty"`
	}
	list := s.carriers.List()
	out := make([]carrierView, 0, len(list))
	for _, c := range list {
		v := carrierView{Name: c.Name, LoginMode: string(c.Config.Mode()), PortalURL: c.Config.PortalURL}
		if len(c.Categories) > 0 {
			v.Categories = make(map[string]carrier.Category, len(c.Categories))
			for name := range c.Categories {
				v.Categories[name] = carrier.Category{
					Priority:       s.carriers.Priority(c.Name, name),
					ActionRequired: s.carriers.ActionRequired(c.Name, name),
				}
			}
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.sessions.Start(r.Context(), session.StartRequest{
		JobName:     req.JobName,
		Carrier:     req.Carrier,
		RequestedBy: req.UserEmail,
	})
	if err != nil {
		if res != nil && res.SessionID != "" {
			writeErrorWith(w, err, map[string]string{
				"session_id": res.SessionID,
				"job_id":     res.JobID,
				"status":     string(res.Status),
			})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleConfirmReady(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.sessions.ConfirmReady(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session ready. Start the scrape when convenient."})
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.sessions.Scrape(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Scrape started. Poll the session status for progress."})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if sess.Job != nil {
		sess.Job.Config = sess.Job.Config.Redacted()
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Stop(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session stopped."})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	job.Config = job.Config.Redacted()
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, err)
		return
	}
	job, err := s.jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	records, err := s.jobs.ListPolicies(r.Context(), job.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, records); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", export.ContentType(format))
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName(job.ID, format)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func sessionID(r *http.Request) (string, error) {
	var req sessionRequest
	if err := decode(r, &req); err != nil {
		return "", err
	}
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		return "", apperr.New(apperr.Validation, "session_id is required")
	}
	return id, nil
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.New(apperr.Validation, "request body is required")
		}
		return apperr.Wrap(apperr.Validation, err, "invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorWith(w, err, nil)
}

// writeErrorWith adds fields to the {"error": ...} body.
func writeErrorWith(w http.ResponseWriter, err error, fields map[string]string) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("server: request failed", zap.Int("status", status), zap.Error(err))
	}
	body := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["error"] = err.Error()
	writeJSON(w, status, body)
}
