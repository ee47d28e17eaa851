package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"anthem-pipeline/internal/anthem"
	"anthem-pipeline/internal/config"
	"anthem-pipeline/internal/models"
	"anthem-pipeline/internal/queue"
	"anthem-pipeline/internal/ratelimit"
	"anthem-pipeline/internal/storage"
	"anthem-pipeline/internal/store"
	"anthem-pipeline/internal/telemetry"
)

// Server wires the HTTP surface: generation trigger plus read-side
// introspection of anthems, jobs, and queues.
type Server struct {
	cfg     config.Config
	store   *store.Store
	anthems *anthem.Service
	queue   *queue.Service
	limiter *ratelimit.Limiter
	signer  *storage.Signer
}

// New constructs the API server.
func New(cfg config.Config, st *store.Store, svc *anthem.Service, q *queue.Service, limiter *ratelimit.Limiter, signer *storage.Signer) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		anthems: svc,
		queue:   q,
		limiter: limiter,
		signer:  signer,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Get("/anthems", s.handleListAnthems)
	r.Get("/anthems/today", s.handleTodayAnthem)
	r.Get("/anthems/{date}", s.handleGetAnthem)
	r.Get("/anthems/{date}/segments", s.handleGetSegments)
	r.Get("/anthems/{date}/download", s.handleDownloadURL)
	r.Post("/anthems/{date}/generate", s.handleGenerate)

	r.Get("/jobs/{id}", s.handleGetJob)
	r.Get("/queue/stats", s.handleQueueStats)
	r.Post("/queue/cleanup", s.handleCleanup)
	return r
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(r.Context(), callerKey(r))
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	req, err := s.anthems.RequestGeneration(r.Context(), chi.URLParam(r, "date"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

func (s *Server) handleTodayAnthem(w http.ResponseWriter, r *http.Request) {
	s.renderAnthemByDate(w, r, time.Now().UTC().Format(models.DateFormat))
}

func (s *Server) handleGetAnthem(w http.ResponseWriter, r *http.Request) {
	s.renderAnthemByDate(w, r, chi.URLParam(r, "date"))
}

func (s *Server) renderAnthemByDate(w http.ResponseWriter, r *http.Request, date string) {
	a, err := s.store.GetAnthemByDate(r.Context(), date)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if a == nil {
		http.Error(w, "anthem not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleListAnthems(w http.ResponseWriter, r *http.Request) {
	page := intQuery(r, "page", 1)
	limit := intQuery(r, "limit", 10)
	anthems, err := s.store.ListRecentAnthems(r.Context(), page, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"anthems": anthems, "page": page})
}

func (s *Server) handleGetSegments(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	segments, err := s.store.GetAnthemSegments(r.Context(), models.AnthemID(date))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"segments": segments})
}

func (s *Server) handleDownloadURL(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	a, err := s.store.GetAnthemByDate(r.Context(), date)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if a == nil || a.Status != models.AnthemCompleted {
		http.Error(w, "no completed anthem for date", http.StatusNotFound)
		return
	}
	signed := s.signer.DownloadURL(a.AnthemID, a.AnthemID+".mp3", s.cfg.DownloadTTL)
	writeJSON(w, http.StatusOK, signed)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context(), r.URL.Query().Get("type"))
	if err != nil {
		if errors.Is(err, queue.ErrUnknownJobType) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	maxAge := s.cfg.CleanupMaxAge
	if raw := r.URL.Query().Get("max_age"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			http.Error(w, "invalid max_age", http.StatusBadRequest)
			return
		}
		maxAge = d
	}
	removed, err := s.queue.Cleanup(r.Context(), maxAge)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func writeDomainError(w http.ResponseWriter, err error) {
	var transition *models.InvalidTransitionError
	switch {
	case errors.Is(err, anthem.ErrAnthemCompleted):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &transition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, queue.ErrQueueUnavailable):
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func callerKey(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func intQuery(r *http.Request, key string, def int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return def
}
