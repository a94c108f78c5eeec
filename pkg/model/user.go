package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const MaxUsernameLength = 32

// ReservedMarkers are the protocol delimiters that may not appear in names.
const ReservedMarkers = "#<>|"

var ErrUsernameEmpty = errors.New("username must not be empty")
var ErrUsernameTooLong = fmt.Errorf("username must not exceed %d characters", MaxUsernameLength)
var ErrUsernameReserved = errors.New("username must not contain protocol markers (->, #, <, >, |)")
var ErrUsernameInvalidChars = errors.New("username must contain only printable ASCII characters")
var ErrUsernameServer = fmt.Errorf("username %q is reserved for the relay", ServerName)

// ServerName is the reserved destination for login and logoff, and the
// sender name on every server reply.
const ServerName = "server"

// User is a credential record as listed by the stores (never carries the
// password).
type User struct {
	ID        int64     `json:"id" yaml:"id"`
	Username  string    `json:"username" yaml:"username"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// ValidateUsername checks that a name is 1-32 printable ASCII characters and
// contains none of the protocol markers. The relay's own name is refused.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if name == ServerName {
		return ErrUsernameServer
	}
	if len(name) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	if strings.ContainsAny(name, ReservedMarkers) || strings.Contains(name, "->") {
		return ErrUsernameReserved
	}
	for i := 0; i < len(name); i++ {
		if name[i] <= ' ' || name[i] > '~' {
			return ErrUsernameInvalidChars
		}
	}
	return nil
}
