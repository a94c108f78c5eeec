// Package server implements the gorelay UDP chat relay.
package server

import (
	"context"
	"net"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/store"
)

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store store.CredentialStore
	// Tokens mints session tokens. Defaults to a crypto.Generator.
	Tokens TokenSource
}

// Server is the relay: one UDP socket, the session registry, the router and
// the timeout monitor.
type Server struct {
	cfg      Config
	sessions *SessionManager
	router   *Router
	monitor  *TimeoutMonitor
	metrics  *Metrics
	store    store.CredentialStore
	conn     *net.UDPConn
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	tokens := deps.Tokens
	if tokens == nil {
		tokens = crypto.NewGenerator()
	}

	metrics := NewMetrics()
	sessions := NewSessionManager(tokens)

	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		monitor:  NewTimeoutMonitor(sessions, cfg.SweepInterval, cfg.IdleLimit, metrics),
		metrics:  metrics,
		store:    deps.Store,
		ctx:      ctx,
		cancel:   cancel,
	}
	if deps.Store != nil {
		s.router = NewRouter(sessions, deps.Store, metrics)
	}
	return s
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Router returns the message router.
func (s *Server) Router() *Router {
	return s.router
}

// Monitor returns the timeout monitor.
func (s *Server) Monitor() *TimeoutMonitor {
	return s.monitor
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}
