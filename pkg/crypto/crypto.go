// Package crypto generates session tokens and message ids, and hashes stored
// passwords.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	mrand "math/rand/v2"
	"strconv"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	// TokenLength is the number of characters in a session token.
	TokenLength = 6

	// TokenAlphabetStart and TokenAlphabetEnd bound token characters: [63,126),
	// i.e. '?' through '}'. None of the protocol markers fall in this range.
	TokenAlphabetStart = 63
	TokenAlphabetEnd   = 126

	// MessageIDMin and MessageIDMax bound message ids (10 decimal digits).
	MessageIDMin int64 = 1_000_000_000
	MessageIDMax int64 = 9_999_999_999

	// MessageIDLength is the number of digits in a formatted message id.
	MessageIDLength = 10

	saltSize = 16
)

// Generator mints session tokens and message ids. Tokens come from a
// cryptographically secure reader. Message ids come from a generator-scoped
// ChaCha8 stream; they are correlation tags, not secrets.
type Generator struct {
	tokens io.Reader

	mu  sync.Mutex
	ids *mrand.Rand
}

// NewGenerator returns a Generator backed by crypto/rand.
func NewGenerator() *Generator {
	var seed [32]byte
	if _, err := io.ReadFull(rand.Reader, seed[:]); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return NewGeneratorWithSource(rand.Reader, seed)
}

// NewGeneratorWithSource returns a Generator reading token bytes from tokens
// and seeding the message id stream with seed. Intended for tests.
func NewGeneratorWithSource(tokens io.Reader, seed [32]byte) *Generator {
	return &Generator{
		tokens: tokens,
		ids:    mrand.New(mrand.NewChaCha8(seed)),
	}
}

// NewToken returns a TokenLength-character token with each character drawn
// uniformly from [TokenAlphabetStart, TokenAlphabetEnd).
func (g *Generator) NewToken() (string, error) {
	const span = TokenAlphabetEnd - TokenAlphabetStart // 63
	const limit = 256 - 256%span                       // reject above to stay uniform

	out := make([]byte, 0, TokenLength)
	buf := make([]byte, TokenLength*2)
	for len(out) < TokenLength {
		if _, err := io.ReadFull(g.tokens, buf); err != nil {
			return "", fmt.Errorf("crypto: generate token: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, byte(TokenAlphabetStart+int(b)%span))
			if len(out) == TokenLength {
				break
			}
		}
	}
	return string(out), nil
}

// NewMessageID returns an id uniform in [MessageIDMin, MessageIDMax].
// Ids are independent draws and may repeat.
func (g *Generator) NewMessageID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return MessageIDMin + g.ids.Int64N(MessageIDMax-MessageIDMin+1)
}

// FormatMessageID renders an id as its 10-digit wire form.
func FormatMessageID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ValidToken reports whether s has the shape of a generated token.
func ValidToken(s string) bool {
	if len(s) != TokenLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < TokenAlphabetStart || s[i] >= TokenAlphabetEnd {
			return false
		}
	}
	return true
}

// NewSalt returns a random salt for HashPassword.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("crypto: generate salt: %w", err)
	}
	return salt, nil
}

// HashPassword hashes a password using Argon2id.
func HashPassword(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
}

// VerifyPassword compares password against a stored Argon2id hash in
// constant time.
func VerifyPassword(password string, salt, hash []byte) bool {
	return subtle.ConstantTimeCompare(HashPassword(password, salt), hash) == 1
}

// EqualStrings compares two secrets in constant time.
func EqualStrings(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
