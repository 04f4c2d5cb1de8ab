package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"contentsync/internal/delivery"
	csync "contentsync/internal/sync"
	logx "contentsync/pkg/logx"
)

type submitRequest struct {
	DocumentID    string   `json:"document_id"`
	Channels      []string `json:"channels,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
	ScheduleTime  string   `json:"schedule_time,omitempty"` // RFC3339
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Service) router(token string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(withAuth(token))
		r.Post("/sync", s.handleSubmit)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Post("/jobs/{id}/retry", s.handleRetryJob)
		r.Get("/stats", s.handleStats)
	})

	return r
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body submitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req := csync.SubmitRequest{
		DocumentID:    body.DocumentID,
		CorrelationID: body.CorrelationID,
	}
	for _, raw := range body.Channels {
		ch, err := delivery.ParseChannel(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Channels = append(req.Channels, ch)
	}
	if ts := strings.TrimSpace(body.ScheduleTime); ts != "" {
		at, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			writeError(w, http.StatusBadRequest, "schedule_time must be RFC3339")
			return
		}
		req.ScheduleTime = at
	}

	job, err := s.orch.Submit(req)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	s.log.Debug("sync submitted via api", logx.String("job", job.ID), logx.String("document", job.DocumentID))
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Service) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.orch.Job(chi.URLParam(r, "id"))
	if err != nil {
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Service) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 50
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	var filter csync.JobFilter
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		filter.Status = csync.Status(raw)
	}
	if raw := strings.TrimSpace(q.Get("channel")); raw != "" {
		ch, err := delivery.ParseChannel(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Channel = ch
	}

	jobs := s.orch.RecentJobs(limit, filter)
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (s *Service) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.orch.RetryJob(chi.URLParam(r, "id"))
	if err != nil {
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Service) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Statistics())
}

// writeSyncError maps orchestrator sentinels onto HTTP statuses.
func writeSyncError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, csync.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, csync.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, csync.ErrNoDocument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, csync.ErrQueueFull), errors.Is(err, csync.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func withAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const p = "Bearer "
			ah := r.Header.Get("Authorization")
			if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}
