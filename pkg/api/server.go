package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/gridpull/gridpull/pkg/events"
	"github.com/gridpull/gridpull/pkg/log"
	"github.com/gridpull/gridpull/pkg/metrics"
	"github.com/gridpull/gridpull/pkg/protocol"
	"github.com/gridpull/gridpull/pkg/registry"
	"github.com/gridpull/gridpull/pkg/storage"
)

// Kicker wakes the scheduler when a task arrives or is requeued
type Kicker interface {
	Kick()
}

// Config holds the server's listen address and policy knobs
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string
	APIKeyRequired bool
	APIKeys        []string
}

// Server is the REST and websocket front of the dispatcher
type Server struct {
	cfg      Config
	store    storage.Store
	registry *registry.Registry
	broker   *events.Broker
	protocol *protocol.Handler
	kicker   Kicker
	logger   zerolog.Logger
	http     *http.Server
	failOpen sync.Once
}

// NewServer wires the handlers. kicker may be nil when no scheduler
// runs, as in tests.
func NewServer(cfg Config, store storage.Store, reg *registry.Registry, broker *events.Broker, handler *protocol.Handler, kicker Kicker) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		registry: reg,
		broker:   broker,
		protocol: handler,
		kicker:   kicker,
		logger:   log.WithComponent("api"),
	}
	s.http = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: s.Router(),
	}
	return s
}

// Router builds the full route tree. Exposed so tests can drive the
// server through httptest without binding a port.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware)

	// operational endpoints stay outside the API-key gate
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/ws/worker/{worker_id}", s.handleWorkerChannel)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.handleCreateTask)
			r.Get("/", s.handleListTasks)
			r.Get("/{id}", s.handleGetTask)
			r.Put("/{id}", s.handleUpdateTask)
			r.Delete("/{id}", s.handleDeleteTask)
			r.Post("/{id}/pause", s.handlePauseTask)
			r.Post("/{id}/resume", s.handleResumeTask)
		})

		r.Route("/workers", func(r chi.Router) {
			r.Post("/", s.handleRegisterWorker)
			r.Get("/", s.handleListWorkers)
			r.Get("/{id}", s.handleGetWorker)
			r.Put("/{id}", s.handleUpdateWorker)
			r.Delete("/{id}", s.handleDeleteWorker)
		})

		r.Get("/status", s.handleStatus)
		r.Get("/api/status", s.handleStatus)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// Start blocks serving HTTP until Shutdown or a listener error
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("api server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) kick() {
	if s.kicker != nil {
		s.kicker.Kick()
	}
}

// respondJSON writes v with the given status
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

// respondStoreError maps store sentinels onto HTTP statuses
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrInvalidStatus), errors.Is(err, storage.ErrNoCapacity):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
