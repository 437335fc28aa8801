// Package httpapi serves the local HTTP control surface: record and
// conflict queries, free-slot search, manual sync kicks, a websocket
// event feed, and Prometheus metrics. The server binds localhost; the
// engine has no remote surface.
package httpapi

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/daybridge/daybridge/internal/daemon"
	"github.com/daybridge/daybridge/internal/model"
	"github.com/daybridge/daybridge/internal/schedule"
	"github.com/daybridge/daybridge/internal/store"
	daysync "github.com/daybridge/daybridge/internal/sync"
)

// Config holds server configuration.
type Config struct {
	// Addr to bind, e.g. "127.0.0.1:7180".
	Addr string
	// Mask restricts free-slot answers to working hours; nil allows all.
	Mask *schedule.HoursMask
	// Logger for server activity.
	Logger *log.Logger
}

// Server is the HTTP control surface over one engine instance.
type Server struct {
	store     *store.Store
	daemon    *daemon.Daemon
	resolvers map[model.Kind]*daysync.Orchestrator
	hub       *Hub
	config    *Config

	http     *http.Server
	listener net.Listener
}

// New assembles the server. resolvers maps each kind to the
// orchestrator that owns its conflict resolution.
func New(st *store.Store, d *daemon.Daemon, resolvers map[model.Kind]*daysync.Orchestrator, hub *Hub, config *Config) (*Server, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config == nil {
		config = &Config{}
	}
	if config.Addr == "" {
		config.Addr = "127.0.0.1:7180"
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[http] ", log.LstdFlags)
	}
	if hub == nil {
		hub = NewHub(config.Logger)
	}
	return &Server{
		store:     st,
		daemon:    d,
		resolvers: resolvers,
		hub:       hub,
		config:    config,
	}, nil
}

// Hub returns the websocket hub, for wiring into orchestrator options.
func (s *Server) Hub() *Hub { return s.hub }

// Router builds the route table. Exposed for handler tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.HealthCheck(ctx); err != nil {
			http.Error(w, "unready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/metrics", metricsHandler().ServeHTTP)
	r.Get("/ws", s.hub.handleWS)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/records", s.handleListRecords)
		r.Get("/records/{id}", s.handleGetRecord)
		r.Delete("/records/{id}", s.handleDeleteRecord)
		r.Post("/records/{id}/resolve", s.handleResolve)
		r.Get("/conflicts", s.handleConflicts)
		r.Get("/free-slots", s.handleFreeSlots)
		r.Post("/sync", s.handleTriggerSync)
	})
	return r
}

// Start begins serving; it returns once the listener is up.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = ln
	s.hub.Start()

	s.http = &http.Server{
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		s.config.Logger.Printf("listening on %s", ln.Addr())
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.config.Logger.Printf("server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.config.Addr
	}
	return s.listener.Addr().String()
}

// Stop drains connections and shuts the feed down.
func (s *Server) Stop() error {
	s.hub.Stop()
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
