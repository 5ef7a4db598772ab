// Package server provides the HTTP server and routing for the fund API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/tierindex/internal/clients/paper"
	"github.com/aristath/tierindex/internal/config"
	"github.com/aristath/tierindex/internal/core"
	"github.com/aristath/tierindex/internal/database"
	"github.com/aristath/tierindex/internal/events"
	activetierhandlers "github.com/aristath/tierindex/internal/modules/activetier/handlers"
	gracehandlers "github.com/aristath/tierindex/internal/modules/grace/handlers"
	indexhandlers "github.com/aristath/tierindex/internal/modules/index/handlers"
	rebalancinghandlers "github.com/aristath/tierindex/internal/modules/rebalancing/handlers"
	registryhandlers "github.com/aristath/tierindex/internal/modules/registry/handlers"
	tierhandlers "github.com/aristath/tierindex/internal/modules/tiers/handlers"
	"github.com/aristath/tierindex/internal/reliability"
	"github.com/aristath/tierindex/internal/scheduler"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// JobRunner is the scheduler surface the API exposes
type JobRunner interface {
	Statuses() []scheduler.Status
	RunNow(name string) error
}

// BackupManager is the backup surface the API exposes
type BackupManager interface {
	Backup(ctx context.Context) (string, error)
	ListBackups(ctx context.Context) ([]reliability.BackupInfo, error)
}

// Config holds server configuration. Scheduler, Backups, Swap and Staking
// are optional; their endpoints answer 503 when unset.
type Config struct {
	Log       zerolog.Logger
	Config    *config.Config
	DB        *database.DB
	Core      *core.Core
	Bus       *events.Bus
	Events    *events.Manager
	Scheduler JobRunner
	Backups   BackupManager
	Swap      *paper.Swap
	Staking   *paper.Staking
}

// Server represents the HTTP server
type Server struct {
	router        *chi.Mux
	server        *http.Server
	log           zerolog.Logger
	cfg           Config
	system        *SystemHandlers
	stream        *EventsStreamHandler
	statusMonitor *StatusMonitor
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg,
	}

	s.system = NewSystemHandlers(cfg, s.log)
	s.stream = NewEventsStreamHandler(cfg.Bus, cfg.Config.DevMode, s.log)
	if cfg.Events != nil {
		s.statusMonitor = NewStatusMonitor(cfg.Events, s.system, s.log)
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the event stream is long-lived; API routes carry their own timeout
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	fund := s.cfg.Config.Fund
	s.router.Route("/api", func(r chi.Router) {
		r.Use(NewAuthenticator(s.cfg.Config.Auth.Tokens(), s.log).Middleware)

		// long-lived, so outside the timeout and compression group
		r.Get("/events/stream", s.stream.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			if !s.cfg.Config.DevMode {
				r.Use(middleware.Compress(5))
			}

			r.Get("/whoami", s.handleWhoAmI)

			registryhandlers.NewHandler(s.cfg.Core, s.log).RegisterRoutes(r)
			tierhandlers.NewHandler(s.cfg.Core, fund.SampleBatch, s.log).RegisterRoutes(r)
			gracehandlers.NewHandler(s.cfg.Core, fund.RefreshBatch, s.log).RegisterRoutes(r)
			activetierhandlers.NewHandler(s.cfg.Core, s.log).RegisterRoutes(r)
			indexhandlers.NewHandler(s.cfg.Core, s.log).RegisterRoutes(r)
			rebalancinghandlers.NewHandler(s.cfg.Core, fund.RebalanceSteps, s.log).RegisterRoutes(r)

			s.system.RegisterRoutes(r)
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	if s.statusMonitor != nil {
		s.statusMonitor.Start(60 * time.Second)
		s.log.Info().Msg("Status monitor started")
	}

	s.log.Info().Int("port", s.cfg.Config.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	if s.statusMonitor != nil {
		s.statusMonitor.Stop()
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		event := s.log.Debug()
		if ww.Status() >= http.StatusInternalServerError {
			event = s.log.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
