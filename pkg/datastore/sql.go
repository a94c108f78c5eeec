// Package datastore provides a SQLite-backed credential store. Passwords are
// stored as Argon2id hashes with a per-user salt.
package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/store"
)

const dbTimeLayout = "2006-01-02 15:04:05"

var ErrUserNotFound = errors.New("datastore: user not found")

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type baseProvider struct {
	DB
}

type nonTxProvider struct {
	baseProvider
}

type txProvider struct {
	baseProvider
	tx *sql.Tx
}

func (c *txProvider) Rollback() error {
	return c.tx.Rollback()
}

func (c *txProvider) Commit() error {
	return c.tx.Commit()
}

// ProviderFactory owns the database handle and hands out transactional and
// non-transactional providers. It also satisfies store.CredentialStore so the
// server can use it in place of the users file.
type ProviderFactory struct {
	DB *sql.DB
}

var _ store.CredentialStore = (*ProviderFactory)(nil)

func (sf *ProviderFactory) NonTx() DataStore {
	return &nonTxProvider{
		baseProvider: baseProvider{
			DB: sf.DB,
		},
	}
}

func (sf *ProviderFactory) Tx(ctx context.Context) (DataStoreTx, error) {
	tx, err := sf.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("datastore: begin tx: %w", err)
	}

	return &txProvider{
		baseProvider: baseProvider{
			DB: tx,
		},
		tx: tx,
	}, nil
}

// NewProviderFactory opens (or creates) a SQLite database and runs migrations.
func NewProviderFactory(dbPath string) (*ProviderFactory, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open db: %w", err)
	}

	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &ProviderFactory{DB: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (sf *ProviderFactory) Close() error {
	return sf.DB.Close()
}

// Verify implements store.Verifier. Lookup errors are logged and treated as
// a failed verification.
func (sf *ProviderFactory) Verify(username, password string) bool {
	ok, err := sf.NonTx().CheckPassword(username, password)
	if err != nil {
		slog.Error("verify credentials", "user", username, "err", err)
		return false
	}
	return ok
}

// Count implements store.CredentialStore.
func (sf *ProviderFactory) Count() (int, error) {
	return sf.NonTx().CountUsers()
}

// ListUsers implements store.CredentialStore.
func (sf *ProviderFactory) ListUsers() ([]model.User, error) {
	return sf.NonTx().ListUsers()
}

// ImportFile loads a users file into the database in one transaction.
// Existing users get their password replaced. Returns the number of entries
// written.
func (sf *ProviderFactory) ImportFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path) //nolint:gosec // path from CLI
	if err != nil {
		return 0, fmt.Errorf("datastore: import: %w", err)
	}
	defer func() { _ = f.Close() }()

	entries, err := store.ParseUsers(f)
	if err != nil {
		return 0, fmt.Errorf("datastore: import: %w", err)
	}

	tx, err := sf.Tx(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range entries {
		existing, err := tx.GetUserByUsername(e.Username)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			err = tx.SetPassword(e.Username, e.Password)
		} else {
			_, err = tx.CreateUser(e.Username, e.Password)
		}
		if err != nil {
			return 0, fmt.Errorf("datastore: import %q: %w", e.Username, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("datastore: import commit: %w", err)
	}
	return len(entries), nil
}

func (sf *ProviderFactory) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		username      TEXT    NOT NULL UNIQUE CHECK(length(username) > 0 AND length(username) <= 32),
		password_hash BLOB    NOT NULL,
		salt          BLOB    NOT NULL,
		created_at    TEXT    NOT NULL DEFAULT (datetime('now'))
	);
	`
	if err := sf.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := sf.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version:    1,
			statements: []string{schema},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS idx_users_username ON users(username)",
			},
			ignoreErrors: true,
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := sf.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := sf.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (sf *ProviderFactory) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := sf.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := sf.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := sf.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (sf *ProviderFactory) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := sf.DB.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (sf *ProviderFactory) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := sf.DB.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func (sf *ProviderFactory) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := sf.DB.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// ---- Users ----

// CreateUser hashes the password and inserts a new user.
func (s *baseProvider) CreateUser(username, password string) (*model.User, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("datastore: create user: %w", err)
	}
	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, fmt.Errorf("datastore: create user: %w", err)
	}
	hash := crypto.HashPassword(password, salt)
	res, err := s.ExecContext(context.Background(),
		"INSERT INTO users (username, password_hash, salt) VALUES (?, ?, ?)", username, hash, salt)
	if err != nil {
		return nil, fmt.Errorf("datastore: create user: %w", err)
	}
	id, _ := res.LastInsertId()
	return &model.User{
		ID:        id,
		Username:  username,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}, nil
}

// GetUserByUsername retrieves a user. Returns (nil, nil) if not found.
func (s *baseProvider) GetUserByUsername(username string) (*model.User, error) {
	u := &model.User{}
	var createdAt string
	err := s.QueryRowContext(context.Background(), "SELECT id, username, created_at FROM users WHERE username = ?", username).
		Scan(&u.ID, &u.Username, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	parsed, err := parseDBTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	u.CreatedAt = parsed
	return u, nil
}

// ListUsers returns all users ordered by username.
func (s *baseProvider) ListUsers() ([]model.User, error) {
	rows, err := s.QueryContext(context.Background(), "SELECT id, username, created_at FROM users ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("datastore: list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []model.User
	for rows.Next() {
		var u model.User
		var createdAt string
		if err := rows.Scan(&u.ID, &u.Username, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan user: %w", err)
		}
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan user: %w", err)
		}
		u.CreatedAt = parsed
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountUsers returns the number of stored users.
func (s *baseProvider) CountUsers() (int, error) {
	var n int
	if err := s.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("datastore: count users: %w", err)
	}
	return n, nil
}

// CheckPassword compares password with the stored hash. Unknown users
// return (false, nil).
func (s *baseProvider) CheckPassword(username, password string) (bool, error) {
	var hash, salt []byte
	err := s.QueryRowContext(context.Background(), "SELECT password_hash, salt FROM users WHERE username = ?", username).
		Scan(&hash, &salt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("datastore: check password: %w", err)
	}
	return crypto.VerifyPassword(password, salt, hash), nil
}

// SetPassword replaces a user's password with a freshly salted hash.
func (s *baseProvider) SetPassword(username, password string) error {
	salt, err := crypto.NewSalt()
	if err != nil {
		return fmt.Errorf("datastore: set password: %w", err)
	}
	res, err := s.ExecContext(context.Background(),
		"UPDATE users SET password_hash = ?, salt = ? WHERE username = ?",
		crypto.HashPassword(password, salt), salt, username)
	if err != nil {
		return fmt.Errorf("datastore: set password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteUser removes a user by name.
func (s *baseProvider) DeleteUser(username string) error {
	res, err := s.ExecContext(context.Background(), "DELETE FROM users WHERE username = ?", username)
	if err != nil {
		return fmt.Errorf("datastore: delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}
