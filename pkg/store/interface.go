// Package store provides credential stores for the relay: the plain-text
// users file and an in-memory store for tests.
package store

import "github.com/NicolasHaas/gorelay/pkg/model"

// Verifier is the only capability the router needs from a credential store.
type Verifier interface {
	// Verify reports whether password matches the stored password for
	// username. Unknown users never verify.
	Verify(username, password string) bool
}

// CredentialStore is a Verifier the server can also inspect and close.
// Implementations include FileStore, MemoryStore and the SQLite-backed
// datastore.ProviderFactory.
type CredentialStore interface {
	Verifier

	// Count returns the number of known users.
	Count() (int, error)

	// ListUsers returns all users ordered by username.
	ListUsers() ([]model.User, error)

	// Close releases the underlying resources.
	Close() error
}

// Compile-time checks.
var (
	_ CredentialStore = (*FileStore)(nil)
	_ CredentialStore = (*MemoryStore)(nil)
)
