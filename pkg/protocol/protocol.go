// Package protocol implements the relay's text wire format: decoding inbound
// datagrams into commands and building the reply and forward datagrams.
//
// Inbound shapes:
//
//	evan->server#login<hello24>
//	evan->server#logoff
//	evan->ethan#<T0k3n?><1301233542>hello there
//
// Every server reply starts with "server-><user>#". A client learns its token
// from the six characters after the first '<' in any reply.
package protocol

import (
	"bytes"
	"strings"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/model"
)

const (
	// MaxDatagram is the receive buffer size for one datagram.
	MaxDatagram = 1024

	Arrow     = "->"
	Directive = "#"
	Open      = "<"
	Close     = ">"

	keywordLogin  = "login"
	keywordLogoff = "logoff"

	// idFieldLen covers "<msgid>".
	idFieldLen = 1 + crypto.MessageIDLength + 1
)

// Command is a decoded datagram. The concrete types are Login, Logoff,
// Relay, LoginIncomplete, LogoffIncomplete and Malformed.
type Command interface {
	command()
}

// Login asks the server to create a session.
type Login struct {
	Username    string
	Destination string
	Password    string
}

// Logoff asks the server to drop the sender's session.
type Logoff struct {
	Username    string
	Destination string
}

// Relay carries a user message for Destination.
type Relay struct {
	Username    string
	Destination string
	Token       string
	MessageID   string
	Payload     string
}

// LoginIncomplete is a login attempt missing its header or password marker.
type LoginIncomplete struct {
	Raw string
}

// LogoffIncomplete is a logoff attempt missing its header.
type LogoffIncomplete struct {
	Raw string
}

// Malformed is anything else.
type Malformed struct {
	Raw    string
	Reason string
}

func (Login) command()            {}
func (Logoff) command()           {}
func (Relay) command()            {}
func (LoginIncomplete) command()  {}
func (LogoffIncomplete) command() {}
func (Malformed) command()        {}

// Decode classifies a raw datagram. It never fails: unrecognized input
// becomes Malformed.
func Decode(data []byte) Command {
	raw := string(bytes.TrimRight(data, "\r\n\x00"))

	user, dest, directive, ok := splitHeader(raw)
	if !ok {
		switch {
		case strings.Contains(raw, keywordLogin):
			return LoginIncomplete{Raw: raw}
		case strings.Contains(raw, keywordLogoff):
			return LogoffIncomplete{Raw: raw}
		default:
			return Malformed{Raw: raw, Reason: "missing header"}
		}
	}

	keyword := strings.TrimLeft(directive, " ")
	switch {
	case strings.HasPrefix(keyword, keywordLogoff):
		return Logoff{Username: user, Destination: dest}

	case strings.HasPrefix(keyword, keywordLogin):
		rest := keyword[len(keywordLogin):]
		if !strings.HasPrefix(rest, Open) {
			return LoginIncomplete{Raw: raw}
		}
		password := strings.TrimRight(rest[1:], Close)
		return Login{Username: user, Destination: dest, Password: password}

	case strings.HasPrefix(directive, Open):
		return decodeRelay(raw, user, dest, directive)

	default:
		return Malformed{Raw: raw, Reason: "unknown directive"}
	}
}

// splitHeader splits "user->dest#directive" at the first arrow and the
// first '#' after it. Names must pass validName.
func splitHeader(raw string) (user, dest, directive string, ok bool) {
	arrow := strings.Index(raw, Arrow)
	if arrow < 0 {
		return "", "", "", false
	}
	hash := strings.Index(raw[arrow+len(Arrow):], Directive)
	if hash < 0 {
		return "", "", "", false
	}
	hash += arrow + len(Arrow)

	user = raw[:arrow]
	dest = raw[arrow+len(Arrow) : hash]
	if !validName(user) || !validName(dest) {
		return "", "", "", false
	}
	return user, dest, raw[hash+1:], true
}

func validName(s string) bool {
	return s != "" && !strings.ContainsAny(s, "#<>")
}

// decodeRelay reads "<token><msgid>payload". The token is whatever sits
// before the first '>', so an empty or short token still decodes and is
// judged against the session.
func decodeRelay(raw, user, dest, directive string) Command {
	end := strings.Index(directive, Close)
	if end < 0 {
		return Malformed{Raw: raw, Reason: "bad token field"}
	}
	tok := directive[1:end]
	rest := directive[end+1:]
	if len(rest) < idFieldLen {
		return Malformed{Raw: raw, Reason: "short relay header"}
	}
	id := rest[1 : 1+crypto.MessageIDLength]
	if rest[:1] != Open || rest[idFieldLen-1:idFieldLen] != Close || !allDigits(id) {
		return Malformed{Raw: raw, Reason: "bad message id"}
	}
	return Relay{
		Username:    user,
		Destination: dest,
		Token:       tok,
		MessageID:   id,
		Payload:     rest[idFieldLen:],
	}
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// IsServer reports whether a destination names the relay itself.
func IsServer(dest string) bool {
	return dest == model.ServerName
}
