package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/fantasbr/hookline/internal/config"
	"github.com/fantasbr/hookline/internal/enqueue"
	"github.com/fantasbr/hookline/internal/keys"
	"github.com/fantasbr/hookline/internal/registry"
	"github.com/fantasbr/hookline/internal/storage"
)

// Permissions gating the route groups. The wildcard "*" satisfies all of
// them.
const (
	PermEventsPublish       = "events:publish"
	PermSubscriptionsManage = "subscriptions:manage"
	PermSubscriptionsRead   = "subscriptions:read"
)

type Server struct {
	cfg      config.ServerConfig
	store    storage.Storage
	registry *registry.Registry
	enqueuer *enqueue.Enqueuer
	issuer   *keys.Issuer
	metrics  http.Handler
	router   *chi.Mux
	log      zerolog.Logger
	http     *http.Server
}

func NewServer(cfg config.ServerConfig, store storage.Storage, reg *registry.Registry, enqueuer *enqueue.Enqueuer, issuer *keys.Issuer, metricsHandler http.Handler, log zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		registry: reg,
		enqueuer: enqueuer,
		issuer:   issuer,
		metrics:  metricsHandler,
		log:      log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	keyHandler := NewAPIKeyHandler(s.store, s.issuer)
	subHandler := NewSubscriptionHandler(s.store, s.registry)
	evtHandler := NewEventHandler(s.enqueuer)
	dlvHandler := NewDeliveryHandler(s.store)
	statsHandler := NewStatsHandler(s.store)

	// Health check — no auth
	r.Get("/health", statsHandler.Health)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Key management — operator/admin surface, no bearer auth
		r.Post("/keys", keyHandler.Create)
		r.Get("/keys", keyHandler.List)
		r.Delete("/keys/{id}", keyHandler.Revoke)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(s.store))

			r.Group(func(r chi.Router) {
				r.Use(RequirePermission(PermSubscriptionsManage))
				r.Post("/subscriptions", subHandler.Create)
				r.Patch("/subscriptions/{id}", subHandler.Update)
				r.Post("/subscriptions/{id}/rotate-secret", subHandler.RotateSecret)
				r.Post("/subscriptions/{id}/activate", subHandler.Activate)
				r.Post("/subscriptions/{id}/deactivate", subHandler.Deactivate)
				r.Delete("/subscriptions/{id}", subHandler.Delete)
			})

			r.Group(func(r chi.Router) {
				r.Use(RequirePermission(PermSubscriptionsRead))
				r.Get("/subscriptions", subHandler.List)
				r.Get("/subscriptions/{id}", subHandler.Get)
				r.Get("/subscriptions/{id}/deliveries", subHandler.ListDeliveries)
				r.Get("/subscriptions/{id}/logs", subHandler.ListLogs)
				r.Get("/deliveries/{id}", dlvHandler.Get)
				r.Get("/deliveries/{id}/logs", dlvHandler.ListLogs)
				r.Get("/stats", statsHandler.Stats)
			})

			r.Group(func(r chi.Router) {
				r.Use(RequirePermission(PermEventsPublish))
				r.Post("/events", evtHandler.Publish)
			})
		})
	})

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
