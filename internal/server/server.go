// Package server exposes markers, purges and the ActionLog as a JSON API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/treefix50/markerguard/internal/editor"
	"github.com/treefix50/markerguard/internal/markers"
	"github.com/treefix50/markerguard/internal/purge"
)

type Options struct {
	Addr string
	CORS bool
	// RateLimitRequests per RateLimitWindow per client IP on /api; 0 disables.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// ActionQuerier is the read side of the ActionLog.
type ActionQuerier interface {
	QueryByScope(ctx context.Context, scope markers.Scope) ([]markers.Action, error)
	Between(ctx context.Context, from, to time.Time) ([]markers.Action, error)
}

type Server struct {
	opts    Options
	editor  *editor.Service
	purges  *purge.Service
	actions ActionQuerier
	http    *http.Server
}

// New wires the API. actions may be nil when backups are disabled.
func New(opts Options, ed *editor.Service, purges *purge.Service, actions ActionQuerier) *Server {
	s := &Server{
		opts:    opts,
		editor:  ed,
		purges:  purges,
		actions: actions,
	}
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) Addr() string { return s.http.Addr }

// Start blocks serving HTTP until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimiddleware.RealIP)
	r.Use(accessLog)
	r.Use(chimiddleware.Recoverer)
	if s.opts.CORS {
		r.Use(corsMiddleware())
	}

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rateLimit(s.opts.RateLimitRequests, s.opts.RateLimitWindow))

		r.Get("/sections", s.handleSections)
		r.Route("/markers", func(r chi.Router) {
			r.Get("/", s.handleQueryMarkers)
			r.Post("/", s.handleAddMarker)
			r.Patch("/{id}", s.handleEditMarker)
			r.Delete("/{id}", s.handleDeleteMarker)
		})
		r.Get("/purges/{metadataId}", s.handlePurgeCheck)
		r.Route("/sections/{sectionId}", func(r chi.Router) {
			r.Get("/purges", s.handleSectionPurges)
			r.Post("/purges/restore", s.handleRestore)
			r.Post("/purges/ignore", s.handleIgnore)
			r.Delete("/purges/{level}/{id}", s.handleEvict)
			r.Get("/breakdown", s.handleBreakdown)
		})
		r.Get("/actions", s.handleActionsBetween)
		r.Get("/actions/{metadataId}", s.handleActionsByScope)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
