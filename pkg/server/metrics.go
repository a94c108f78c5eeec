package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks relay runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Session counters
	SuccessfulAuths atomic.Int64 // logins that created a session
	FailedAuths     atomic.Int64 // logins rejected for bad credentials
	Logoffs         atomic.Int64 // sessions closed by the client
	Evictions       atomic.Int64 // sessions closed for idleness

	// Datagram counters
	DatagramsIn  atomic.Int64 // datagrams received
	DatagramsOut atomic.Int64 // datagrams sent
	BytesIn      atomic.Int64 // bytes received
	BytesOut     atomic.Int64 // bytes sent
	ReadErrors   atomic.Int64 // failed receives
	SendErrors   atomic.Int64 // failed sends

	// Routing counters
	MessagesRelayed    atomic.Int64 // messages forwarded to a live destination
	DestinationOffline atomic.Int64 // messages addressed to an offline user
	Rejected           atomic.Int64 // malformed, unauthenticated or mismatched input
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveSessions  int64 `json:"active_sessions"`
	SuccessfulAuths int64 `json:"successful_auths"`
	FailedAuths     int64 `json:"failed_auths"`
	Logoffs         int64 `json:"logoffs"`
	Evictions       int64 `json:"evictions"`

	DatagramsIn  int64 `json:"datagrams_in"`
	DatagramsOut int64 `json:"datagrams_out"`
	BytesIn      int64 `json:"bytes_in"`
	BytesOut     int64 `json:"bytes_out"`
	ReadErrors   int64 `json:"read_errors"`
	SendErrors   int64 `json:"send_errors"`

	MessagesRelayed    int64 `json:"messages_relayed"`
	DestinationOffline int64 `json:"destination_offline"`
	Rejected           int64 `json:"rejected"`
}

// Snapshot returns a read-consistent snapshot of all metrics. The session
// gauge is supplied by the caller since the registry owns it.
func (m *Metrics) Snapshot(activeSessions int) MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:             uptime.Truncate(time.Second).String(),
		UptimeSeconds:      int64(uptime.Seconds()),
		ActiveSessions:     int64(activeSessions),
		SuccessfulAuths:    m.SuccessfulAuths.Load(),
		FailedAuths:        m.FailedAuths.Load(),
		Logoffs:            m.Logoffs.Load(),
		Evictions:          m.Evictions.Load(),
		DatagramsIn:        m.DatagramsIn.Load(),
		DatagramsOut:       m.DatagramsOut.Load(),
		BytesIn:            m.BytesIn.Load(),
		BytesOut:           m.BytesOut.Load(),
		ReadErrors:         m.ReadErrors.Load(),
		SendErrors:         m.SendErrors.Load(),
		MessagesRelayed:    m.MessagesRelayed.Load(),
		DestinationOffline: m.DestinationOffline.Load(),
		Rejected:           m.Rejected.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON(activeSessions int) string {
	data, err := json.MarshalIndent(m.Snapshot(activeSessions), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a metrics summary to the logger.
func (m *Metrics) LogSummary(activeSessions int) {
	s := m.Snapshot(activeSessions)
	slog.Info("metrics",
		"uptime", s.Uptime,
		"sessions", s.ActiveSessions,
		"datagrams_in", s.DatagramsIn,
		"datagrams_out", s.DatagramsOut,
		"relayed", s.MessagesRelayed,
		"rejected", s.Rejected,
		"evictions", s.Evictions,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, sessions func() int, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary(sessions())
			}
		}
	}()
}
