package protocol

import (
	"strings"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/model"
)

// AnonymousName addresses replies to peers without a session.
const AnonymousName = "client"

// fromServer builds "server-><user>#" followed by parts.
func fromServer(user string, parts ...string) []byte {
	var b strings.Builder
	b.WriteString(model.ServerName)
	b.WriteString(Arrow)
	b.WriteString(user)
	b.WriteString(Directive)
	for _, p := range parts {
		b.WriteString(p)
	}
	return []byte(b.String())
}

func bracket(s string) string {
	return Open + s + Close
}

// LoginSuccess: server-><user>#Success<token>
func LoginSuccess(user, token string) []byte {
	return fromServer(user, "Success", bracket(token))
}

// LogoffSuccess has the same shape as LoginSuccess.
func LogoffSuccess(user, token string) []byte {
	return fromServer(user, "Success", bracket(token))
}

// AlreadyLoggedIn answers a second login from the same endpoint.
func AlreadyLoggedIn(user, token string) []byte {
	return fromServer(user, bracket(token), "Error: already logged in")
}

// AlreadyLoggedInElsewhere answers a login for a name that holds a session
// at another endpoint. The live token is not disclosed.
func AlreadyLoggedInElsewhere(user string) []byte {
	return fromServer(user, "Error: already logged in")
}

func PasswordMismatch(user string) []byte {
	return fromServer(user, "Error: Password does not match!")
}

func InvalidDestination(user, dest string) []byte {
	return fromServer(user, `Error: Invalid destination "`, dest, `"`)
}

func MissingCredentials() []byte {
	return fromServer(AnonymousName, "Error: Please enter a username and password!")
}

// NotLoggedIn answers a logoff from an endpoint without a session.
func NotLoggedIn(user string) []byte {
	return fromServer(user, "Error: Not logged in")
}

// RelayNotLoggedIn answers a relay from an endpoint without a session.
func RelayNotLoggedIn(user, msgID string) []byte {
	return fromServer(user, bracket(msgID), "Error: Not logged in!")
}

// IncorrectFormat answers unrecognized input. An empty user is replaced by
// AnonymousName.
func IncorrectFormat(user string) []byte {
	if user == "" {
		user = AnonymousName
	}
	return fromServer(user, "Error: Incorrectly formatted command")
}

// Forward is the datagram delivered to the destination, stamped with the
// destination's own token.
func Forward(sender, dest, destToken, msgID, payload string) []byte {
	return []byte(sender + Arrow + dest + Directive + bracket(destToken) + bracket(msgID) + payload)
}

func RelaySuccess(user, token, msgID, payload string) []byte {
	return fromServer(user, bracket(token), bracket(msgID), "Success: ", payload)
}

func DestinationOffline(user, token, msgID string) []byte {
	return fromServer(user, bracket(token), bracket(msgID), "Error: destination offline!")
}

func TokenError(user, token, msgID string) []byte {
	return fromServer(user, bracket(token), bracket(msgID), "Error: token error!")
}

func UsernameError(user, token, msgID string) []byte {
	return fromServer(user, bracket(token), bracket(msgID), "Error: username error!")
}

// PeerUnreachable reports an asynchronous send failure to the last sender.
func PeerUnreachable(user, token string) []byte {
	return fromServer(user, bracket(token), "Error: destination offline!")
}

// InactiveDisconnect is sent to a session evicted for idleness.
func InactiveDisconnect(user, token string) []byte {
	return fromServer(user, bracket(token), "Notify: Disconnecting inactive user")
}

// ExtractToken returns the six characters after the first '<' in a server
// datagram, when there are at least six.
func ExtractToken(msg string) (string, bool) {
	i := strings.Index(msg, Open)
	if i < 0 || len(msg) < i+1+crypto.TokenLength {
		return "", false
	}
	return msg[i+1 : i+1+crypto.TokenLength], true
}

// LooksLikeMessage reports whether typed input is a user message (has a
// header and is neither a login nor a logoff).
func LooksLikeMessage(input string) bool {
	if strings.Contains(input, keywordLogin) || strings.Contains(input, keywordLogoff) {
		return false
	}
	_, _, _, ok := splitHeader(input)
	return ok
}

// StampRelay turns "user->dest#text" into "user->dest#<token><msgid>text".
// Input without a header is returned unchanged.
func StampRelay(input, token string, msgID int64) string {
	user, dest, text, ok := splitHeader(input)
	if !ok {
		return input
	}
	return user + Arrow + dest + Directive + bracket(token) + bracket(crypto.FormatMessageID(msgID)) + text
}
