// Package statusserver exposes a read-only local HTTP view of a running agent:
// health, Prometheus metrics and JSON snapshots of the mirror.
package statusserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	kiddoalert "github.com/johnnydev0/front-kiddo-alert"
)

const shutdownTimeout = 10 * time.Second

// Mirror is the part of the reconciler the server reads from.
type Mirror interface {
	Snapshot() *kiddoalert.Snapshot
	Session() kiddoalert.AuthState
	Role() kiddoalert.Role
	Regions() []kiddoalert.Region
	Polling() bool
	LastError() error
}

// Server serves the status endpoints.
type Server struct {
	mirror  Mirror
	logger  *slog.Logger
	handler http.Handler
}

// New builds the router. A nil logger uses slog.Default().
func New(mirror Mirror, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{mirror: mirror, logger: logger}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logging(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(CORS())
	r.Use(Metrics())

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Get("/children", s.children)
		r.Get("/children/{id}", s.child)
		r.Get("/alerts", s.alerts)
		r.Get("/history", s.history)
		r.Get("/regions", s.regions)
	})

	s.handler = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("status server stopped")
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusView summarizes the session and sync state.
type statusView struct {
	Auth      string `json:"auth"`
	UserID    string `json:"user_id,omitempty"`
	Role      string `json:"role"`
	Plan      string `json:"plan,omitempty"`
	Polling   bool   `json:"polling"`
	Children  int    `json:"children"`
	Alerts    int    `json:"alerts"`
	History   int    `json:"history"`
	Regions   int    `json:"regions"`
	LastError string `json:"last_error,omitempty"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	snap := s.mirror.Snapshot()
	session := s.mirror.Session()

	view := statusView{
		Auth:     session.Status.String(),
		Role:     string(s.mirror.Role()),
		Polling:  s.mirror.Polling(),
		Children: len(snap.Children),
		Alerts:   len(snap.Alerts),
		History:  len(snap.History),
		Regions:  len(s.mirror.Regions()),
	}
	if session.Authenticated() {
		view.UserID = session.Profile.UserID
		view.Plan = session.Profile.Plan
	}
	if err := s.mirror.LastError(); err != nil {
		view.LastError = err.Error()
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) children(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.mirror.Snapshot().Children)
}

func (s *Server) child(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, c := range s.mirror.Snapshot().Children {
		if c.ID == id {
			writeJSON(w, http.StatusOK, c)
			return
		}
	}
	writeError(w, http.StatusNotFound, "not_found", "child not found")
}

func (s *Server) alerts(w http.ResponseWriter, r *http.Request) {
	alerts := s.mirror.Snapshot().Alerts
	childID := r.URL.Query().Get("child_id")
	if childID == "" {
		writeJSON(w, http.StatusOK, alerts)
		return
	}
	filtered := make([]kiddoalert.Alert, 0, len(alerts))
	for _, a := range alerts {
		if a.ChildID == childID {
			filtered = append(filtered, a)
		}
	}
	writeJSON(w, http.StatusOK, filtered)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	events := s.mirror.Snapshot().History
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		if limit < len(events) {
			events = events[:limit]
		}
	}
	writeJSON(w, http.StatusOK, events)
}

// regionView is the JSON shape of a monitored region.
type regionView struct {
	ID       string                `json:"id"`
	Name     string                `json:"name"`
	Center   kiddoalert.Coordinate `json:"center"`
	Radius   float64               `json:"radius"`
	Schedule *kiddoalert.Schedule  `json:"schedule,omitempty"`
	Inside   bool                  `json:"inside"`
}

func (s *Server) regions(w http.ResponseWriter, _ *http.Request) {
	regions := s.mirror.Regions()
	views := make([]regionView, 0, len(regions))
	for _, rg := range regions {
		views = append(views, regionView{
			ID:       rg.ID,
			Name:     rg.Name,
			Center:   rg.Center,
			Radius:   rg.Radius,
			Schedule: rg.Schedule,
			Inside:   rg.Inside,
		})
	}
	writeJSON(w, http.StatusOK, views)
}
