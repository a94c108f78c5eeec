package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/NicolasHaas/gorelay/pkg/protocol"
)

// TimeoutMonitor evicts sessions that stay idle for more than limit ticks.
type TimeoutMonitor struct {
	sessions *SessionManager
	metrics  *Metrics
	interval time.Duration
	limit    int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTimeoutMonitor creates a monitor ticking every interval. metrics may be nil.
func NewTimeoutMonitor(sessions *SessionManager, interval time.Duration, limit int, metrics *Metrics) *TimeoutMonitor {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &TimeoutMonitor{
		sessions: sessions,
		metrics:  metrics,
		interval: interval,
		limit:    limit,
	}
}

// Tick ages every session by one and returns a disconnect notice for each
// session evicted by it.
func (m *TimeoutMonitor) Tick() []Outbound {
	evicted := m.sessions.Sweep(m.limit)
	if len(evicted) == 0 {
		return nil
	}

	out := make([]Outbound, 0, len(evicted))
	for _, s := range evicted {
		slog.Info("disconnecting inactive user", "user", s.Username, "session", s.ShortID(), "idle", s.IdleMinutes)
		out = append(out, Outbound{To: s.Endpoint, Data: protocol.InactiveDisconnect(s.Username, s.Token)})
	}
	m.metrics.Evictions.Add(int64(len(evicted)))
	return out
}

// Start runs Tick on a ticker and hands each batch of notices to send. It
// returns immediately; the loop ends when ctx is cancelled or Stop is called.
func (m *TimeoutMonitor) Start(ctx context.Context, send func([]Outbound)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if out := m.Tick(); len(out) > 0 {
					send(out)
				}
			}
		}
	}(m.done)
}

// Stop cancels the loop started by Start and waits for it to exit.
func (m *TimeoutMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
