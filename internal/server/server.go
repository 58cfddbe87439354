package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"dresscode/internal/auth"
	"dresscode/internal/classify"
	"dresscode/internal/config"
	"dresscode/internal/detect"
	"dresscode/internal/middleware"
	"dresscode/internal/pipeline"
	"dresscode/internal/ws"
)

// Job is one pipeline run managed by the server.
type Job struct {
	ID        string    `json:"id"`
	VideoPath string    `json:"video_path"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`

	pipe *pipeline.Pipeline
}

// Server exposes the job control API: start, stop, pause, resume and live
// status over websocket. Review/CRUD surfaces live elsewhere.
type Server struct {
	baseCfg config.RunConfig
	auth    *auth.Authenticator
	hub     *ws.StatusHub
	cache   *classify.Cache

	mu   sync.RWMutex
	jobs map[string]*Job
}

// New creates a server. The cache is shared by all jobs and owned by the
// caller.
func New(baseCfg config.RunConfig, cache *classify.Cache) *Server {
	return &Server{
		baseCfg: baseCfg,
		auth:    auth.NewAuthenticator(),
		hub:     ws.NewStatusHub(),
		cache:   cache,
		jobs:    make(map[string]*Job),
	}
}

// Handler builds the HTTP routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	protect := middleware.Auth(s.auth)

	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.Handle("POST /api/jobs", protect(http.HandlerFunc(s.handleStartJob)))
	mux.Handle("GET /api/jobs", protect(http.HandlerFunc(s.handleListJobs)))
	mux.Handle("GET /api/jobs/{id}", protect(http.HandlerFunc(s.handleGetJob)))
	mux.Handle("POST /api/jobs/{id}/stop", protect(http.HandlerFunc(s.handleJobControl("stop"))))
	mux.Handle("POST /api/jobs/{id}/pause", protect(http.HandlerFunc(s.handleJobControl("pause"))))
	mux.Handle("POST /api/jobs/{id}/resume", protect(http.HandlerFunc(s.handleJobControl("resume"))))
	mux.Handle("/ws/status/", ws.NewHandler(s.hub))

	return mux
}

// ListenAndServe runs the control API until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[Server] Control API listening on %s (auth enabled: %v)", addr, s.auth.IsEnabled())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control server failed: %w", err)
	}
	return nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, expiresAt, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		if err == auth.ErrAuthDisabled {
			writeError(w, http.StatusBadRequest, "authentication is disabled")
			return
		}
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt,
	})
}

// handleStartJob launches a pipeline run for a video. The request may
// override the video path and zones of the server's base configuration.
func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VideoPath string        `json:"video_path"`
		Zones     *config.Zones `json:"zones,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg := s.baseCfg
	if req.VideoPath != "" {
		cfg.VideoPath = req.VideoPath
	}
	if req.Zones != nil {
		cfg.Zones = *req.Zones
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID := uuid.NewString()
	detector := detect.NewHTTPDetector(cfg.DetectorEndpoint)
	classifier := classify.NewClient(cfg, s.cache)
	sink := &ws.JobSink{Hub: s.hub, JobID: jobID}
	pipe := pipeline.New(cfg, detector, classifier, sink)

	job := &Job{
		ID:        jobID,
		VideoPath: cfg.VideoPath,
		Status:    pipeline.StatusRunning,
		StartedAt: time.Now().UTC(),
		pipe:      pipe,
	}

	s.mu.Lock()
	s.jobs[jobID] = job
	view := *job
	s.mu.Unlock()

	go func() {
		defer detector.Close()

		err := pipe.Run(context.Background())

		s.mu.Lock()
		if err != nil {
			job.Status = pipeline.StatusFailed
		} else {
			job.Status = pipeline.StatusCompleted
		}
		s.mu.Unlock()
	}()

	log.Printf("[Server] Started job %s for %s", jobID, cfg.VideoPath)
	writeJSON(w, http.StatusAccepted, view)
}

// Handlers encode value copies taken under s.mu: job status is written by
// the run goroutine, so a *Job must never be encoded outside the lock.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	job, ok := s.jobs[r.PathValue("id")]
	var view Job
	if ok {
		view = *job
	}
	s.mu.RUnlock()

	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleJobControl(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		job, ok := s.jobs[r.PathValue("id")]
		s.mu.RUnlock()

		if !ok {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}

		switch action {
		case "stop":
			job.pipe.Stop()
		case "pause":
			job.pipe.Pause()
		case "resume":
			job.pipe.Resume()
		}

		log.Printf("[Server] Job %s: %s", job.ID, action)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
