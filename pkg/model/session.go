package model

import (
	"errors"
	"net/netip"
	"time"

	"github.com/google/uuid"
)

// ErrSessionExists is returned when a session would share a username or an
// endpoint with a live session.
var ErrSessionExists = errors.New("session already exists")

// Session represents one authenticated client (in-memory only).
type Session struct {
	ID          uuid.UUID      // log correlation only, never sent on the wire
	Endpoint    netip.AddrPort // the peer's UDP address
	Username    string
	Token       string // 6-character secret required on every relay
	IdleMinutes int    // ticks since last accepted message
	CreatedAt   time.Time
}

// ShortID returns the first block of ID for compact log lines.
func (s Session) ShortID() string {
	return s.ID.String()[:8]
}
