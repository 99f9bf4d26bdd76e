// Package server provides the HTTP server and handlers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/bryan-buckman/homedash/internal/calendar"
	"github.com/bryan-buckman/homedash/internal/database"
	"github.com/bryan-buckman/homedash/internal/model"
	"github.com/bryan-buckman/homedash/internal/telegram"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxBodySize bounds request bodies for config, notes and OPML uploads.
const maxBodySize = 5 << 20

// Options wires the server to its collaborators.
type Options struct {
	Store     database.Store
	Unread    *telegram.Unread
	Calendar  *calendar.Aggregator
	StaticDir string
	Clock     clockwork.Clock
	Logger    *slog.Logger
}

// Server is the main HTTP server.
type Server struct {
	store     database.Store
	unread    *telegram.Unread
	calendar  *calendar.Aggregator
	staticDir string
	clock     clockwork.Clock
	logger    *slog.Logger
	router    chi.Router
	http      *http.Server
}

// New creates a new server.
func New(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		store:     opts.Store,
		unread:    opts.Unread,
		calendar:  opts.Calendar,
		staticDir: opts.StaticDir,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
	s.setupRoutes()
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Route("/api", func(r chi.Router) {
		r.Get("/dashboards", s.handleDashboards)
		r.Get("/whoami", s.handleWhoami)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Get("/config/{id}", s.handleGetConfig)
			r.Post("/config/{id}", s.handleSaveConfig)
			r.Get("/notes/{id}", s.handleGetNotes)
			r.Post("/notes/{id}", s.handleSaveNotes)
			r.Get("/events/{id}", s.handleEvents)
			r.Get("/opml/{id}", s.handleExportOPML)
			r.Post("/opml/{id}", s.handleImportOPML)
		})

		r.With(s.requireDocument, s.requireAuth).Get("/telegram", s.handleTelegram)
		r.With(s.requireDocument, s.requireAuth).Get("/telegram/{id}", s.handleTelegram)

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusNotFound, "Not found")
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/*", s.handleStatic)

	s.router = r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http.Addr = addr
	s.logger.Info("Server starting", "addr", addr, "storage", s.store.DatabaseType())
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// --- Helpers ---

func dashboardID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	if id == "" {
		return model.DefaultDashboard
	}
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// logError reports a handler failure. Cancelled and timed-out requests are
// routine and only logged at debug level.
func (s *Server) logError(r *http.Request, msg string, err error) {
	level := slog.LevelError
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		level = slog.LevelDebug
	}
	s.logger.Log(r.Context(), level, msg,
		"dashboard", dashboardID(r),
		"request_id", middleware.GetReqID(r.Context()),
		"error", err)
}
