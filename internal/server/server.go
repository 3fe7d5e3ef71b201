package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/me/atomsched/internal/config"
	"github.com/me/atomsched/internal/dispatch"
	"github.com/me/atomsched/internal/gpu"
	"github.com/me/atomsched/internal/trace"
	"github.com/me/atomsched/pkg/model"
)

// Server is the atomsched REST API server. It owns the connection, semaphore
// and atom registries; all scheduling work goes through the dispatch loop,
// so handlers never touch scheduler state from their own goroutines.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	loop      *dispatch.Loop
	device    *gpu.SimDevice
	traces    trace.Store  // optional; nil disables /events
	metrics   http.Handler // optional; nil disables /metrics
	stream    *Broadcaster // optional; nil disables /events/stream

	mu          sync.RWMutex
	connections map[string]*model.Connection
	semaphores  map[uint64]*model.Semaphore
	atoms       map[uint64]*model.Atom
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithTraceStore sets the event store backing the /events endpoints.
func WithTraceStore(st trace.Store) Option {
	return func(s *Server) {
		s.traces = st
	}
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithBroadcaster sets the live event feed backing /events/stream.
func WithBroadcaster(b *Broadcaster) Option {
	return func(s *Server) {
		s.stream = b
	}
}

// New creates a Server with all routes registered. The dispatch loop must be
// started separately; handlers that reach the scheduler block until it runs.
func New(cfg config.ServerConfig, loop *dispatch.Loop, device *gpu.SimDevice, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		logger:      logger.With("component", "server"),
		config:      cfg,
		startTime:   time.Now(),
		loop:        loop,
		device:      device,
		connections: make(map[string]*model.Connection),
		semaphores:  make(map[uint64]*model.Semaphore),
		atoms:       make(map[uint64]*model.Atom),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	// API routes (JSON)
	r.Route("/api/v1", func(r chi.Router) {
		// Discovery
		r.Get("/", s.handleDiscovery)

		// Health and scheduler status
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		// Connections
		r.Route("/connections", func(r chi.Router) {
			r.Get("/", s.handleListConnections)
			r.Post("/", s.handleCreateConnection)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetConnection)
				r.Delete("/", s.handleCancelConnection)
				// Atoms are submitted against their owning connection
				r.Post("/atoms", s.handleSubmitAtoms)
			})
		})

		// Atoms
		r.Route("/atoms", func(r chi.Router) {
			r.Get("/", s.handleListAtoms)
			r.Get("/{id}", s.handleGetAtom)
		})

		// Semaphores
		r.Route("/semaphores", func(r chi.Router) {
			r.Get("/", s.handleListSemaphores)
			r.Post("/", s.handleCreateSemaphore)
			r.Route("/{key}", func(r chi.Router) {
				r.Get("/", s.handleGetSemaphore)
				r.Put("/signal", s.handleSignalSemaphore)
				r.Put("/reset", s.handleResetSemaphore)
			})
		})

		// Trace events
		r.Route("/events", func(r chi.Router) {
			r.Get("/", s.handleListEvents)
			r.Get("/summary", s.handleEventSummary)
			r.Get("/stream", s.handleEventStream)
		})
	})
}

// connection returns the registered connection with the given ID, or nil.
func (s *Server) connection(id string) *model.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connections[id]
}

// semaphore returns the registered semaphore with the given key, or nil.
func (s *Server) semaphore(key uint64) *model.Semaphore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.semaphores[key]
}

// atom returns the registered atom with the given ID, or nil. The registry
// keeps atoms after they retire from the scheduler so /atoms/{id} can report
// final results.
func (s *Server) atom(id uint64) *model.Atom {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.atoms[id]
}
