// Package client implements the gorelay console client.
package client

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
)

// MessageIDSource mints message ids. *crypto.Generator satisfies it.
type MessageIDSource interface {
	NewMessageID() int64
}

// Engine is the client side of the relay: one UDP socket aimed at the
// server, the token from the most recent server datagram, and an id source
// for outgoing messages.
type Engine struct {
	mu    sync.RWMutex
	token string

	conn  *net.UDPConn
	ids   MessageIDSource
	out   io.Writer
	outMu sync.Mutex
	done  chan struct{}

	// OnLogin is called with the username of each successful login or
	// logoff reply.
	OnLogin func(username string)
}

// Dial creates an engine that talks to the relay at serverAddr and echoes
// every received datagram to out, one per line.
func Dial(serverAddr string, out io.Writer) (*Engine, error) {
	addr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return nil, fmt.Errorf("client: resolve server addr: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial: %w", err)
	}

	return &Engine{
		conn: conn,
		ids:  crypto.NewGenerator(),
		out:  out,
		done: make(chan struct{}),
	}, nil
}

// Token returns the current session token, or "" before the first login.
func (e *Engine) Token() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.token
}

// Prepare returns the datagram to send for a line of typed input. User
// messages ("user->dest#text") are stamped with the token and a fresh
// message id; everything else goes out unchanged for the server to judge.
func (e *Engine) Prepare(input string) string {
	if !protocol.LooksLikeMessage(input) {
		return input
	}
	return protocol.StampRelay(input, e.Token(), e.ids.NewMessageID())
}

// Send prepares input and writes it to the relay.
func (e *Engine) Send(input string) error {
	if _, err := e.conn.Write([]byte(e.Prepare(input))); err != nil {
		return fmt.Errorf("client: send: %w", err)
	}
	return nil
}

// StartReceiving starts reading datagrams from the relay. The loop ends
// when the socket is closed or the relay becomes unreachable; Done is
// closed then.
func (e *Engine) StartReceiving() {
	go func() {
		defer close(e.done)
		buf := make([]byte, protocol.MaxDatagram)

		for {
			n, err := e.conn.Read(buf)
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					slog.Error("receive failed, the relay is likely unreachable",
						"remote", e.conn.RemoteAddr().String(), "err", err)
				}
				return
			}
			e.handle(string(buf[:n]))
		}
	}()
}

// handle refreshes the token from a server datagram and echoes it.
func (e *Engine) handle(msg string) {
	// Message ids are all digits, which never form a valid token.
	if tok, ok := protocol.ExtractToken(msg); ok && crypto.ValidToken(tok) {
		e.mu.Lock()
		e.token = tok
		e.mu.Unlock()
	}

	if user, ok := successUser(msg); ok && e.OnLogin != nil {
		e.OnLogin(user)
	}

	e.outMu.Lock()
	_, _ = fmt.Fprintln(e.out, msg)
	e.outMu.Unlock()
}

// successUser extracts the username from "server-><user>#Success<token>".
func successUser(msg string) (string, bool) {
	rest, ok := strings.CutPrefix(msg, model.ServerName+protocol.Arrow)
	if !ok {
		return "", false
	}
	user, directive, ok := strings.Cut(rest, protocol.Directive)
	if !ok || user == "" || !strings.HasPrefix(directive, "Success"+protocol.Open) {
		return "", false
	}
	return user, true
}

// Done is closed when the receive loop has stopped.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Close closes the socket, which stops the receive loop.
func (e *Engine) Close() error {
	return e.conn.Close()
}
