package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StartMetricsHTTP starts a lightweight HTTP server that exposes /metrics
// in Prometheus text exposition format and a /healthz probe. It runs in the
// background and shuts down when the server context is cancelled.
func (s *Server) StartMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return // metrics endpoint disabled
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}

func (s *Server) metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("gorelay_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("gorelay_sessions_active", "Current logged-in sessions.", "gauge",
		int64(s.sessions.Count()))
	write("gorelay_auth_success_total", "Logins that created a session.", "counter",
		m.SuccessfulAuths.Load())
	write("gorelay_auth_failed_total", "Logins rejected for bad credentials.", "counter",
		m.FailedAuths.Load())
	write("gorelay_logoffs_total", "Sessions closed by the client.", "counter",
		m.Logoffs.Load())
	write("gorelay_evictions_total", "Sessions closed for idleness.", "counter",
		m.Evictions.Load())

	write("gorelay_datagrams_in_total", "Datagrams received.", "counter",
		m.DatagramsIn.Load())
	write("gorelay_datagrams_out_total", "Datagrams sent.", "counter",
		m.DatagramsOut.Load())
	write("gorelay_bytes_in_total", "Bytes received.", "counter",
		m.BytesIn.Load())
	write("gorelay_bytes_out_total", "Bytes sent.", "counter",
		m.BytesOut.Load())
	write("gorelay_read_errors_total", "Failed receives.", "counter",
		m.ReadErrors.Load())
	write("gorelay_send_errors_total", "Failed sends.", "counter",
		m.SendErrors.Load())

	write("gorelay_messages_relayed_total", "Messages forwarded to a live destination.", "counter",
		m.MessagesRelayed.Load())
	write("gorelay_destination_offline_total", "Messages addressed to an offline user.", "counter",
		m.DestinationOffline.Load())
	write("gorelay_rejected_total", "Datagrams rejected by the router.", "counter",
		m.Rejected.Load())
}
