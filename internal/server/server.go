// Package server exposes the REST control surface and the SSE event stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/agora-circle/agora/internal/app"
	"github.com/agora-circle/agora/internal/health"
	"github.com/agora-circle/agora/internal/observe"
)

// Shutdown grace period for in-flight requests.
const shutdownTimeout = 10 * time.Second

// Server is the HTTP front of one ServerContext.
type Server struct {
	ctx    *app.ServerContext
	health *health.Handler
}

// New builds the server and wires the readiness checks.
func New(appCtx *app.ServerContext) *Server {
	h := health.New()
	h.AddReadiness("llm-backend", func(ctx context.Context) error {
		if !appCtx.Client.IsRunning(ctx) {
			return errors.New("backend unreachable")
		}
		return nil
	})
	return &Server{ctx: appCtx, health: h}
}

// Handler assembles the full route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.health.Live)
	r.Get("/readyz", s.health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/status", s.handleStatus)
	r.Get("/agents", s.handleAgents)
	r.Get("/personas", s.handlePersonas)
	r.Get("/personas/{id}", s.handlePersona)
	r.Get("/templates", s.handleTemplates)
	r.Get("/templates/{id}", s.handleTemplate)

	r.Post("/session/start", s.handleSessionStart)
	r.Route("/session/{id}", func(r chi.Router) {
		r.Get("/state", s.handleSessionState)
		r.Get("/stream", s.handleStream)
		r.Post("/pause", s.control(controlPause))
		r.Post("/resume", s.control(controlResume))
		r.Post("/human", s.handleHuman)
		r.Post("/invoke", s.handleInvoke)
		r.Post("/inject", s.handleInject)
		r.Post("/continue", s.control(controlContinue))
		r.Post("/end", s.handleEnd)
	})

	r.Get("/sessions", s.handleSessions)
	r.Get("/sessions/{id}/analysis", s.handleAnalysis)
	r.Get("/sessions/{id}/dialogue", s.handleDialogue)

	c := cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return observe.HTTPMiddleware(s.ctx.Metrics, c.Handler(r))
}

func (s *Server) corsOrigins() []string {
	if len(s.ctx.Cfg.Server.CORSOrigins) == 0 {
		return []string{"*"}
	}
	return s.ctx.Cfg.Server.CORSOrigins
}

// Run serves until ctx is cancelled, then drains in-flight requests and ends
// all sessions.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.ctx.Cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		s.ctx.EndAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "err", err)
	}
}

// writeError writes the structured error envelope.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
