package server

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/store"
)

// seqTokens mints T00001, T00002, ...
type seqTokens struct {
	mu   sync.Mutex
	next int
}

func (s *seqTokens) NewToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("T%05d", s.next), nil
}

type failingTokens struct{}

func (failingTokens) NewToken() (string, error) { return "", errors.New("entropy exhausted") }

var addrPortComparer = cmp.Comparer(func(a, b netip.AddrPort) bool { return a == b })

func endpoint(port uint16) netip.AddrPort {
	return netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), port)
}

func newTestRouter(t *testing.T) (*Router, *SessionManager) {
	t.Helper()
	creds, err := store.NewMemoryWithUsers(map[string]string{
		"evan":  "hello24",
		"ethan": "pw|with|bars",
	})
	if err != nil {
		t.Fatalf("NewMemoryWithUsers: %v", err)
	}
	sessions := NewSessionManager(&seqTokens{})
	return NewRouter(sessions, creds, nil), sessions
}

// only asserts res carries exactly one plain reply to the given endpoint and
// returns its payload.
func only(t *testing.T, res Result, to netip.AddrPort) string {
	t.Helper()
	if len(res.Out) != 1 {
		t.Fatalf("expected 1 outbound, got %d: %+v", len(res.Out), res.Out)
	}
	o := res.Out[0]
	if o.To != to {
		t.Fatalf("reply addressed to %s, want %s", o.To, to)
	}
	if o.OnSuccess != nil || o.OnFailure != nil {
		t.Fatalf("plain reply should not chain: %+v", o)
	}
	return string(o.Data)
}

func TestRouterScenario(t *testing.T) {
	r, sessions := newTestRouter(t)
	evan := endpoint(4001)

	res := r.Handle(evan, []byte("evan->server#login<hello24>"))
	if res.Kind != model.KindNone {
		t.Fatalf("login kind = %s", res.Kind)
	}
	if got := only(t, res, evan); got != "server->evan#Success<T00001>" {
		t.Fatalf("login reply = %q", got)
	}

	res = r.Handle(evan, []byte("evan->ethan#<T00001><1234567890>hi"))
	if res.Kind != model.KindDestinationOffline {
		t.Fatalf("relay kind = %s, want destination_offline", res.Kind)
	}
	if got := only(t, res, evan); got != "server->evan#<T00001><1234567890>Error: destination offline!" {
		t.Fatalf("relay reply = %q", got)
	}
	if sessions.Count() != 1 {
		t.Fatalf("Count = %d, want 1", sessions.Count())
	}
}

func TestRouterLoginTwice(t *testing.T) {
	r, sessions := newTestRouter(t)
	evan := endpoint(4001)

	r.Handle(evan, []byte("evan->server#login<hello24>"))
	before, _ := sessions.FindByUsername("evan")

	res := r.Handle(evan, []byte("evan->server#login<hello24>"))
	if res.Kind != model.KindAlreadyLoggedIn {
		t.Fatalf("kind = %s, want already_logged_in", res.Kind)
	}
	if got := only(t, res, evan); got != "server->evan#<T00001>Error: already logged in" {
		t.Fatalf("reply = %q", got)
	}

	after, ok := sessions.FindByUsername("evan")
	if !ok {
		t.Fatalf("session disappeared")
	}
	if diff := cmp.Diff(before, after, addrPortComparer); diff != "" {
		t.Fatalf("session changed (-before +after):\n%s", diff)
	}
}

func TestRouterLoginElsewhere(t *testing.T) {
	r, sessions := newTestRouter(t)
	r.Handle(endpoint(4001), []byte("evan->server#login<hello24>"))

	other := endpoint(4002)
	res := r.Handle(other, []byte("evan->server#login<hello24>"))
	if res.Kind != model.KindAlreadyLoggedIn {
		t.Fatalf("kind = %s, want already_logged_in", res.Kind)
	}
	if got := only(t, res, other); got != "server->evan#Error: already logged in" {
		t.Fatalf("reply = %q", got)
	}
	if _, ok := sessions.FindByEndpoint(other); ok {
		t.Fatalf("second endpoint should not get a session")
	}
}

func TestRouterRejections(t *testing.T) {
	t.Parallel()

	type tcase struct {
		input string
		kind  model.ErrorKind
		want  string
	}

	tcases := map[string]tcase{
		"wrong_password": {
			input: "evan->server#login<nope>",
			kind:  model.KindAuthenticationFailed,
			want:  "server->evan#Error: Password does not match!",
		},
		"unknown_user": {
			input: "mallory->server#login<hello24>",
			kind:  model.KindAuthenticationFailed,
			want:  "server->mallory#Error: Password does not match!",
		},
		"login_invalid_destination": {
			input: "evan->ethan#login<hello24>",
			kind:  model.KindInvalidDestination,
			want:  `server->evan#Error: Invalid destination "ethan"`,
		},
		"login_missing_password": {
			input: "evan->server#login",
			kind:  model.KindMalformedCommand,
			want:  "server->client#Error: Please enter a username and password!",
		},
		"logoff_invalid_destination": {
			input: "evan->ethan#logoff",
			kind:  model.KindInvalidDestination,
			want:  `server->evan#Error: Invalid destination "ethan"`,
		},
		"logoff_not_logged_in": {
			input: "evan->server#logoff",
			kind:  model.KindNotLoggedIn,
			want:  "server->evan#Error: Not logged in",
		},
		"logoff_missing_header": {
			input: "logoff",
			kind:  model.KindMalformedCommand,
			want:  "server->client#Error: Incorrectly formatted command",
		},
		"relay_not_logged_in": {
			input: "evan->ethan#<T00001><1234567890>hi",
			kind:  model.KindNotLoggedIn,
			want:  "server->evan#<1234567890>Error: Not logged in!",
		},
		"relay_before_login": {
			input: "evan->ethan#<><1234567890>hi",
			kind:  model.KindNotLoggedIn,
			want:  "server->evan#<1234567890>Error: Not logged in!",
		},
		"garbage": {
			input: "hello there",
			kind:  model.KindMalformedCommand,
			want:  "server->client#Error: Incorrectly formatted command",
		},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			r, sessions := newTestRouter(t)
			from := endpoint(4001)

			res := r.Handle(from, []byte(tc.input))
			if res.Kind != tc.kind {
				t.Errorf("kind = %s, want %s", res.Kind, tc.kind)
			}
			if got := only(t, res, from); got != tc.want {
				t.Errorf("reply = %q, want %q", got, tc.want)
			}
			if sessions.Count() != 0 {
				t.Errorf("rejected input created a session")
			}
		})
	}
}

func TestRouterLogoff(t *testing.T) {
	r, sessions := newTestRouter(t)
	evan := endpoint(4001)

	r.Handle(evan, []byte("evan->server#login<hello24>"))
	res := r.Handle(evan, []byte("evan->server#logoff"))
	if res.Kind != model.KindNone {
		t.Fatalf("logoff kind = %s", res.Kind)
	}
	if got := only(t, res, evan); got != "server->evan#Success<T00001>" {
		t.Fatalf("logoff reply = %q", got)
	}
	if _, ok := sessions.FindByUsername("evan"); ok {
		t.Fatalf("session still registered after logoff")
	}
	if sessions.Count() != 0 {
		t.Fatalf("Count = %d, want 0", sessions.Count())
	}

	res = r.Handle(evan, []byte("evan->server#logoff"))
	if res.Kind != model.KindNotLoggedIn {
		t.Fatalf("second logoff kind = %s", res.Kind)
	}

	// A fresh login mints a new token.
	res = r.Handle(evan, []byte("evan->server#login<hello24>"))
	if got := only(t, res, evan); got != "server->evan#Success<T00002>" {
		t.Fatalf("relogin reply = %q", got)
	}
}

func TestRouterRelayDelivers(t *testing.T) {
	r, _ := newTestRouter(t)
	evan, ethan := endpoint(4001), endpoint(4002)

	r.Handle(evan, []byte("evan->server#login<hello24>"))
	r.Handle(ethan, []byte("ethan->server#login<pw|with|bars>"))

	res := r.Handle(evan, []byte("evan->ethan#<T00001><1234567890>hi <ethan> -> #1"))
	if res.Kind != model.KindNone {
		t.Fatalf("relay kind = %s", res.Kind)
	}

	want := []Outbound{{
		To:   ethan,
		Data: []byte("evan->ethan#<T00002><1234567890>hi <ethan> -> #1"),
		OnSuccess: &Outbound{
			To:   evan,
			Data: []byte("server->evan#<T00001><1234567890>Success: hi <ethan> -> #1"),
		},
		OnFailure: &Outbound{
			To:   evan,
			Data: []byte("server->evan#<T00001><1234567890>Error: destination offline!"),
		},
	}}
	if diff := cmp.Diff(want, res.Out, addrPortComparer); diff != "" {
		t.Fatalf("relay outbound mismatch (-want +got):\n%s", diff)
	}
}

func TestRouterTokenMismatch(t *testing.T) {
	r, sessions := newTestRouter(t)
	evan, ethan := endpoint(4001), endpoint(4002)

	r.Handle(evan, []byte("evan->server#login<hello24>"))
	r.Handle(ethan, []byte("ethan->server#login<pw|with|bars>"))
	before, _ := sessions.FindByUsername("ethan")

	res := r.Handle(evan, []byte("evan->ethan#<T00002><1234567890>hi"))
	if res.Kind != model.KindTokenMismatch {
		t.Fatalf("kind = %s, want token_mismatch", res.Kind)
	}
	if got := only(t, res, evan); got != "server->evan#<T00001><1234567890>Error: token error!" {
		t.Fatalf("reply = %q", got)
	}

	after, _ := sessions.FindByUsername("ethan")
	if diff := cmp.Diff(before, after, addrPortComparer); diff != "" {
		t.Fatalf("destination changed (-before +after):\n%s", diff)
	}
}

func TestRouterShortTokenMismatch(t *testing.T) {
	r, _ := newTestRouter(t)
	evan := endpoint(4001)
	r.Handle(evan, []byte("evan->server#login<hello24>"))

	for _, input := range []string{
		"evan->ethan#<T0><1234567890>hi",
		"evan->ethan#<><1234567890>hi",
	} {
		res := r.Handle(evan, []byte(input))
		if res.Kind != model.KindTokenMismatch {
			t.Fatalf("%q: kind = %s, want token_mismatch", input, res.Kind)
		}
		if got := only(t, res, evan); got != "server->evan#<T00001><1234567890>Error: token error!" {
			t.Fatalf("%q: reply = %q", input, got)
		}
	}
}

func TestRouterUsernameMismatch(t *testing.T) {
	r, _ := newTestRouter(t)
	evan := endpoint(4001)
	r.Handle(evan, []byte("evan->server#login<hello24>"))

	res := r.Handle(evan, []byte("ethan->evan#<T00001><1234567890>hi"))
	if res.Kind != model.KindUsernameMismatch {
		t.Fatalf("kind = %s, want username_mismatch", res.Kind)
	}
	if got := only(t, res, evan); got != "server->evan#<T00001><1234567890>Error: username error!" {
		t.Fatalf("reply = %q", got)
	}
}

func TestRouterRelayResetsIdle(t *testing.T) {
	r, sessions := newTestRouter(t)
	evan := endpoint(4001)
	r.Handle(evan, []byte("evan->server#login<hello24>"))

	sessions.Sweep(5)
	sessions.Sweep(5)
	if s, _ := sessions.FindByEndpoint(evan); s.IdleMinutes != 2 {
		t.Fatalf("IdleMinutes = %d, want 2", s.IdleMinutes)
	}

	r.Handle(evan, []byte("evan->ethan#<T00001><1234567890>anyone?"))
	if s, _ := sessions.FindByEndpoint(evan); s.IdleMinutes != 0 {
		t.Fatalf("IdleMinutes after relay = %d, want 0", s.IdleMinutes)
	}
}

func TestRouterMalformedFromSession(t *testing.T) {
	r, _ := newTestRouter(t)
	evan := endpoint(4001)
	r.Handle(evan, []byte("evan->server#login<hello24>"))

	for _, input := range []string{"evan->ethan#hello", "server logoff"} {
		res := r.Handle(evan, []byte(input))
		if res.Kind != model.KindMalformedCommand {
			t.Fatalf("%q: kind = %s", input, res.Kind)
		}
		if got := only(t, res, evan); got != "server->evan#Error: Incorrectly formatted command" {
			t.Fatalf("%q: reply = %q", input, got)
		}
	}
}

func TestRouterMappedEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	mapped := netip.AddrPortFrom(netip.MustParseAddr("::ffff:127.0.0.1"), 4001)

	r.Handle(mapped, []byte("evan->server#login<hello24>"))
	res := r.Handle(endpoint(4001), []byte("evan->server#logoff"))
	if res.Kind != model.KindNone {
		t.Fatalf("logoff from unmapped address kind = %s", res.Kind)
	}
}

func TestRouterTransportFailure(t *testing.T) {
	r, _ := newTestRouter(t)
	evan := endpoint(4001)

	if out := r.TransportFailure(evan); out != nil {
		t.Fatalf("no session: expected no outbound, got %+v", out)
	}

	r.Handle(evan, []byte("evan->server#login<hello24>"))
	out := r.TransportFailure(evan)
	if len(out) != 1 || out[0].To != evan {
		t.Fatalf("TransportFailure = %+v", out)
	}
	if got := string(out[0].Data); got != "server->evan#<T00001>Error: destination offline!" {
		t.Fatalf("notice = %q", got)
	}
}

func TestRouterTokenSourceFailure(t *testing.T) {
	creds := store.NewMemory()
	if err := creds.Add("evan", "hello24"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	sessions := NewSessionManager(failingTokens{})
	r := NewRouter(sessions, creds, nil)

	if out := r.HandleDatagram(endpoint(4001), []byte("evan->server#login<hello24>")); len(out) != 0 {
		t.Fatalf("expected no reply, got %+v", out)
	}
	if sessions.Count() != 0 {
		t.Fatalf("session created without a token")
	}
}

func TestRouterMetrics(t *testing.T) {
	creds, err := store.NewMemoryWithUsers(map[string]string{"evan": "hello24"})
	if err != nil {
		t.Fatalf("NewMemoryWithUsers: %v", err)
	}
	m := NewMetrics()
	r := NewRouter(NewSessionManager(&seqTokens{}), creds, m)
	evan := endpoint(4001)

	r.Handle(evan, []byte("evan->server#login<bad>"))
	r.Handle(evan, []byte("evan->server#login<hello24>"))
	r.Handle(evan, []byte("evan->ethan#<T00001><1234567890>hi"))
	r.Handle(evan, []byte("evan->server#logoff"))

	got := m.Snapshot(0)
	want := MetricsSnapshot{
		FailedAuths:        1,
		SuccessfulAuths:    1,
		Logoffs:            1,
		DestinationOffline: 1,
		Rejected:           2,
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(MetricsSnapshot{}, "Uptime", "UptimeSeconds")); diff != "" {
		t.Fatalf("metrics mismatch (-want +got):\n%s", diff)
	}
}
