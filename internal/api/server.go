package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/scribesync/hookd/internal/config"
	"github.com/scribesync/hookd/internal/dispatch"
	"github.com/scribesync/hookd/internal/storage"
)

type Server struct {
	cfg        config.ServerConfig
	store      storage.Storage
	dispatcher *dispatch.Dispatcher
	tester     *dispatch.TestSender
	batchSize  int
	webhookCfg config.WebhookConfig
	router     *chi.Mux
	log        zerolog.Logger
	http       *http.Server
}

func NewServer(
	cfg config.ServerConfig,
	webhookCfg config.WebhookConfig,
	batchSize int,
	store storage.Storage,
	dispatcher *dispatch.Dispatcher,
	tester *dispatch.TestSender,
	log zerolog.Logger,
) *Server {
	s := &Server{
		cfg:        cfg,
		store:      store,
		dispatcher: dispatcher,
		tester:     tester,
		batchSize:  batchSize,
		webhookCfg: webhookCfg,
		log:        log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	userHandler := NewUserHandler(s.store)
	whHandler := NewWebhookHandler(s.store, s.tester, s.webhookCfg)
	evtHandler := NewEventHandler(s.store)
	dlvHandler := NewDeliveryHandler(s.store)
	dspHandler := NewDispatchHandler(s.dispatcher, s.batchSize)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "hookd",
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Admin routes — no bearer auth
		r.Post("/users", userHandler.Create)
		r.Get("/users", userHandler.List)
		r.Post("/users/{id}/rotate-key", userHandler.RotateKey)
		r.Post("/dispatch/run", dspHandler.Run)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(s.store))

			// Webhooks
			r.Post("/webhooks", whHandler.Create)
			r.Get("/webhooks", whHandler.List)
			r.Get("/webhooks/{id}", whHandler.Get)
			r.Put("/webhooks/{id}", whHandler.Update)
			r.Delete("/webhooks/{id}", whHandler.Delete)
			r.Patch("/webhooks/{id}/toggle", whHandler.Toggle)
			r.Post("/webhooks/{id}/test", whHandler.Test)
			r.Get("/webhooks/{id}/deliveries", dlvHandler.ListByWebhook)

			// Events
			r.Post("/events", evtHandler.Ingest)

			// Deliveries
			r.Get("/deliveries/{id}", dlvHandler.Get)
			r.Get("/deliveries/{id}/attempts", dlvHandler.ListAttempts)

			// Stats
			r.Get("/stats", whHandler.Stats)
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
