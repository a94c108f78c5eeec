// Package model defines the core domain types for the relay.
package model

// ErrorKind classifies the outcome of processing one datagram. Every kind
// except TransportFailure is a protocol-level result that is reported to the
// sender as a reply, never returned as a Go error.
type ErrorKind int

const (
	KindNone ErrorKind = iota // request succeeded
	KindMalformedCommand
	KindAuthenticationFailed
	KindInvalidDestination
	KindAlreadyLoggedIn
	KindNotLoggedIn
	KindUsernameMismatch
	KindTokenMismatch
	KindDestinationOffline
	KindTransportFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindMalformedCommand:
		return "malformed_command"
	case KindAuthenticationFailed:
		return "authentication_failed"
	case KindInvalidDestination:
		return "invalid_destination"
	case KindAlreadyLoggedIn:
		return "already_logged_in"
	case KindNotLoggedIn:
		return "not_logged_in"
	case KindUsernameMismatch:
		return "username_mismatch"
	case KindTokenMismatch:
		return "token_mismatch"
	case KindDestinationOffline:
		return "destination_offline"
	case KindTransportFailure:
		return "transport_failure"
	default:
		return "unknown"
	}
}
