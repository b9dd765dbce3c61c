// Package api exposes the read-only status/health/metrics surface and the
// two human-operator control endpoints (§6.4: retry/skip verification)
// over HTTP, matching the teacher's net/http-stdlib-mux wiring rather than
// a router dependency.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/antigravity-dev/cortex/internal/config"
	"github.com/antigravity-dev/cortex/internal/projects"
	"github.com/antigravity-dev/cortex/internal/store"
)

// TickStatus reports whether a periodic.Service is mid-cycle, for the
// /status endpoint. main wires this to periodic.Service.IsRunning.
type TickStatus struct {
	Name      string
	Running   bool
	Interval  time.Duration
}

// Server serves the HTTP control surface (§6.4).
type Server struct {
	cfg     *config.Config
	repo    *projects.Repository
	store   *store.Store
	auth    *AuthMiddleware
	logger  *slog.Logger
	started time.Time
	ticks   func() []TickStatus

	httpServer *http.Server
}

// NewServer builds a Server. ticks may be nil if the caller has no
// periodic.Service handles to report on yet.
func NewServer(cfg *config.Config, repo *projects.Repository, st *store.Store, logger *slog.Logger, ticks func() []TickStatus) (*Server, error) {
	auth, err := NewAuthMiddleware(&cfg.API.Security, logger)
	if err != nil {
		return nil, fmt.Errorf("api: build auth middleware: %w", err)
	}
	if ticks == nil {
		ticks = func() []TickStatus { return nil }
	}
	return &Server{
		cfg:     cfg,
		repo:    repo,
		store:   st,
		auth:    auth,
		logger:  logger,
		started: time.Now(),
		ticks:   ticks,
	}, nil
}

// Start binds and serves the HTTP surface until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.auth.RequireAuth(s.handleStatus))
	mux.HandleFunc("/health", s.auth.RequireAuth(s.handleHealth))
	mux.HandleFunc("/metrics", s.auth.RequireAuth(s.handleMetrics))
	mux.HandleFunc("/projects", s.auth.RequireAuth(s.handleProjects))
	mux.HandleFunc("/projects/", s.auth.RequireAuth(s.handleProjectRoute))

	s.httpServer = &http.Server{
		Addr:    s.cfg.API.Bind,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api: listening", "addr", s.cfg.API.Bind)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// Close releases the auth middleware's audit log handle.
func (s *Server) Close() error {
	return s.auth.Close()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusResponse struct {
	Uptime       string          `json:"uptime"`
	ProjectCount int             `json:"projectCount"`
	ByStatus     map[string]int  `json:"byStatus"`
	Ticks        []TickStatus    `json:"ticks,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	all := s.repo.List("")
	byStatus := make(map[string]int)
	for _, p := range all {
		byStatus[string(p.Status)]++
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Uptime:       time.Since(s.started).String(),
		ProjectCount: len(all),
		ByStatus:     byStatus,
		Ticks:        s.ticks(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics emits a Prometheus text-exposition document, following the
// teacher's hand-built-text convention rather than a client library.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}

	var b strings.Builder
	all := s.repo.List("")
	byStatus := make(map[projects.Status]int)
	for _, p := range all {
		byStatus[p.Status]++
	}

	b.WriteString("# HELP cortex_projects_total Number of projects by status.\n")
	b.WriteString("# TYPE cortex_projects_total gauge\n")
	for status, count := range byStatus {
		fmt.Fprintf(&b, "cortex_projects_total{status=%q} %d\n", status, count)
	}

	if s.store != nil {
		velocity, err := s.store.Velocity(time.Now().Add(-24 * time.Hour))
		if err != nil {
			s.logger.Warn("api: metrics velocity query failed", "error", err)
		} else {
			b.WriteString("# HELP cortex_kobold_runs_total Completed Kobold runs in the last 24h, by project.\n")
			b.WriteString("# TYPE cortex_kobold_runs_total gauge\n")
			b.WriteString("# HELP cortex_kobold_success_rate Kobold success rate in the last 24h, by project.\n")
			b.WriteString("# TYPE cortex_kobold_success_rate gauge\n")
			for _, v := range velocity {
				fmt.Fprintf(&b, "cortex_kobold_runs_total{project=%q} %d\n", v.ProjectID, v.RunCount)
				fmt.Fprintf(&b, "cortex_kobold_success_rate{project=%q} %f\n", v.ProjectID, v.SuccessRate)
			}
		}
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	status := projects.Status(r.URL.Query().Get("status"))
	writeJSON(w, http.StatusOK, s.repo.List(status))
}

// handleProjectRoute dispatches /projects/{id} and /projects/{id}/verification/{retry,skip}.
func (s *Server) handleProjectRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/projects/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "missing project id")
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.getProject(w, id)
	case len(parts) == 3 && parts[1] == "verification" && parts[2] == "retry" && r.Method == http.MethodPost:
		s.retryVerification(w, id)
	case len(parts) == 3 && parts[1] == "verification" && parts[2] == "skip" && r.Method == http.MethodPost:
		s.skipVerification(w, id)
	default:
		writeError(w, http.StatusNotFound, "unknown route")
	}
}

func (s *Server) getProject(w http.ResponseWriter, id string) {
	p, err := s.repo.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// retryVerification mirrors dragon's retry_verification tool (§6.4): it
// re-queues a project for verification by moving it back to
// AwaitingVerification and resetting its verification sub-state.
func (s *Server) retryVerification(w http.ResponseWriter, id string) {
	p, err := s.repo.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := s.repo.SetStatus(p.ID, projects.StatusAwaitingVerification); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err := s.repo.SetVerification(p.ID, projects.VerificationState{Status: projects.VerificationNotStarted}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "re-queued for verification"})
}

// skipVerification mirrors dragon's skip_verification tool (§6.4): marks
// verification Skipped and advances the project straight to Completed.
func (s *Server) skipVerification(w http.ResponseWriter, id string) {
	p, err := s.repo.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := s.repo.SetVerification(p.ID, projects.VerificationState{Status: projects.VerificationSkipped}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.repo.SetStatus(p.ID, projects.StatusCompleted); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "verification skipped, project completed"})
}
