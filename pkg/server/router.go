package server

import (
	"errors"
	"log/slog"
	"net/netip"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
	"github.com/NicolasHaas/gorelay/pkg/store"
)

// Outbound is a datagram the router wants sent. OnSuccess is sent after Data
// is handed to the network; OnFailure replaces it if that send fails.
type Outbound struct {
	To        netip.AddrPort
	Data      []byte
	OnSuccess *Outbound
	OnFailure *Outbound
}

// Result is the outcome of routing one datagram.
type Result struct {
	Kind model.ErrorKind
	Out  []Outbound
}

// Router turns inbound datagrams into session changes and outbound replies.
type Router struct {
	sessions *SessionManager
	creds    store.Verifier
	metrics  *Metrics
}

// NewRouter creates a router over the given registry and credential store.
// metrics may be nil.
func NewRouter(sessions *SessionManager, creds store.Verifier, metrics *Metrics) *Router {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Router{sessions: sessions, creds: creds, metrics: metrics}
}

// HandleDatagram routes data received from the given endpoint and returns
// the datagrams to send.
func (r *Router) HandleDatagram(from netip.AddrPort, data []byte) []Outbound {
	return r.Handle(from, data).Out
}

// Handle routes data received from the given endpoint.
func (r *Router) Handle(from netip.AddrPort, data []byte) Result {
	from = normalizeEndpoint(from)

	var res Result
	switch cmd := protocol.Decode(data).(type) {
	case protocol.Login:
		res = r.login(from, cmd)
	case protocol.Logoff:
		res = r.logoff(from, cmd)
	case protocol.Relay:
		res = r.relay(from, cmd)
	case protocol.LoginIncomplete:
		res = reply(model.KindMalformedCommand, from, protocol.MissingCredentials())
	case protocol.LogoffIncomplete:
		res = reply(model.KindMalformedCommand, from, protocol.IncorrectFormat(r.nameOf(from)))
	case protocol.Malformed:
		slog.Debug("malformed datagram", "remote", from, "reason", cmd.Reason)
		res = reply(model.KindMalformedCommand, from, protocol.IncorrectFormat(r.nameOf(from)))
	}

	if res.Kind != model.KindNone {
		r.metrics.Rejected.Add(1)
		slog.Debug("datagram rejected", "remote", from, "kind", res.Kind)
	}
	return res
}

// TransportFailure reports a failed receive to the session of the most
// recent sender, if it still has one.
func (r *Router) TransportFailure(last netip.AddrPort) []Outbound {
	sess, ok := r.sessions.FindByEndpoint(last)
	if !ok {
		return nil
	}
	return []Outbound{{To: sess.Endpoint, Data: protocol.PeerUnreachable(sess.Username, sess.Token)}}
}

func (r *Router) login(from netip.AddrPort, cmd protocol.Login) Result {
	if !r.creds.Verify(cmd.Username, cmd.Password) {
		r.metrics.FailedAuths.Add(1)
		slog.Info("login rejected", "user", cmd.Username, "remote", from)
		return reply(model.KindAuthenticationFailed, from, protocol.PasswordMismatch(cmd.Username))
	}
	if !protocol.IsServer(cmd.Destination) {
		return reply(model.KindInvalidDestination, from, protocol.InvalidDestination(cmd.Username, cmd.Destination))
	}
	if existing, ok := r.sessions.FindByEndpoint(from); ok {
		return reply(model.KindAlreadyLoggedIn, from, protocol.AlreadyLoggedIn(existing.Username, existing.Token))
	}

	sess, err := r.sessions.Create(cmd.Username, from)
	if errors.Is(err, model.ErrSessionExists) {
		return reply(model.KindAlreadyLoggedIn, from, protocol.AlreadyLoggedInElsewhere(cmd.Username))
	}
	if err != nil {
		slog.Error("create session failed", "user", cmd.Username, "err", err)
		return Result{Kind: model.KindNone}
	}

	r.metrics.SuccessfulAuths.Add(1)
	slog.Info("user logged in", "user", sess.Username, "session", sess.ShortID(), "remote", from)
	return reply(model.KindNone, from, protocol.LoginSuccess(sess.Username, sess.Token))
}

func (r *Router) logoff(from netip.AddrPort, cmd protocol.Logoff) Result {
	if !protocol.IsServer(cmd.Destination) {
		return reply(model.KindInvalidDestination, from, protocol.InvalidDestination(cmd.Username, cmd.Destination))
	}
	sess, ok := r.sessions.FindByEndpoint(from)
	if !ok {
		return reply(model.KindNotLoggedIn, from, protocol.NotLoggedIn(cmd.Username))
	}

	r.sessions.Remove(sess)
	r.metrics.Logoffs.Add(1)
	slog.Info("user logged off", "user", sess.Username, "session", sess.ShortID())
	return reply(model.KindNone, from, protocol.LogoffSuccess(sess.Username, sess.Token))
}

func (r *Router) relay(from netip.AddrPort, cmd protocol.Relay) Result {
	sess, ok := r.sessions.FindByEndpoint(from)
	if !ok {
		return reply(model.KindNotLoggedIn, from, protocol.RelayNotLoggedIn(cmd.Username, cmd.MessageID))
	}
	r.sessions.Touch(from)

	if cmd.Username != sess.Username {
		return reply(model.KindUsernameMismatch, from,
			protocol.UsernameError(sess.Username, sess.Token, cmd.MessageID))
	}
	if !crypto.EqualStrings(cmd.Token, sess.Token) {
		return reply(model.KindTokenMismatch, from,
			protocol.TokenError(sess.Username, sess.Token, cmd.MessageID))
	}

	dest, ok := r.sessions.FindByUsername(cmd.Destination)
	if !ok {
		r.metrics.DestinationOffline.Add(1)
		return reply(model.KindDestinationOffline, from,
			protocol.DestinationOffline(sess.Username, sess.Token, cmd.MessageID))
	}

	slog.Debug("relaying message", "from", sess.Username, "to", dest.Username, "id", cmd.MessageID)
	return Result{Out: []Outbound{{
		To:   dest.Endpoint,
		Data: protocol.Forward(sess.Username, dest.Username, dest.Token, cmd.MessageID, cmd.Payload),
		OnSuccess: &Outbound{
			To:   from,
			Data: protocol.RelaySuccess(sess.Username, sess.Token, cmd.MessageID, cmd.Payload),
		},
		OnFailure: &Outbound{
			To:   from,
			Data: protocol.DestinationOffline(sess.Username, sess.Token, cmd.MessageID),
		},
	}}}
}

// nameOf returns the username bound to endpoint, or "" when there is none.
func (r *Router) nameOf(endpoint netip.AddrPort) string {
	if sess, ok := r.sessions.FindByEndpoint(endpoint); ok {
		return sess.Username
	}
	return ""
}

func reply(kind model.ErrorKind, to netip.AddrPort, data []byte) Result {
	return Result{Kind: kind, Out: []Outbound{{To: to, Data: data}}}
}
