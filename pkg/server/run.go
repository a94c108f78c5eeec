package server

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Run starts the server and blocks until a shutdown signal or a fatal
// receive error.
func (s *Server) Run() error {
	if s.store == nil {
		return fmt.Errorf("server: missing store dependency")
	}
	st := s.store
	defer func() { _ = st.Close() }()

	if err := s.cfg.Validate(); err != nil {
		return err
	}

	users, err := st.Count()
	if err != nil {
		return fmt.Errorf("server: count users: %w", err)
	}
	if users == 0 {
		slog.Warn("credential store is empty, no user can log in")
	}

	if err := s.Listen(); err != nil {
		return err
	}

	slog.Info("gorelay server running",
		"listen", s.cfg.ListenAddr,
		"users", users,
		"sweep_interval", s.cfg.SweepInterval,
		"idle_limit", s.cfg.IdleLimit,
	)

	// Start Prometheus metrics HTTP endpoint
	s.StartMetricsHTTP()

	// Start periodic metrics logging (every 60s)
	s.metrics.StartPeriodicLog(60*time.Second, s.sessions.Count, s.ctx.Done())

	s.monitor.Start(s.ctx, s.send)

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Serve() }()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		slog.Info("shutting down...")
		s.Shutdown()
		return <-serveErr
	case err := <-serveErr:
		slog.Error("receive loop stopped", "err", err)
		s.Shutdown()
		return err
	}
}

// Shutdown stops the monitor and closes the socket. It is safe to call
// more than once.
func (s *Server) Shutdown() {
	s.cancel()
	s.monitor.Stop()
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
