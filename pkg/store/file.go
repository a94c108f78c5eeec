package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/NicolasHaas/gorelay/pkg/crypto"
	"github.com/NicolasHaas/gorelay/pkg/model"
)

// FileStore holds credentials loaded once from a users file. Each line is
// "username|password"; the password is everything after the first '|'.
type FileStore struct {
	path  string
	users map[string]string
}

// Entry is one parsed line of a users file.
type Entry struct {
	Username string
	Password string
}

// LoadFile reads a users file. A missing file yields an empty store and a
// warning, not an error.
func LoadFile(path string) (*FileStore, error) {
	f, err := os.Open(path) //nolint:gosec // path from server config
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("users file not found, no user database to load from", "path", path)
		return &FileStore{path: path, users: make(map[string]string)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: open users file: %w", err)
	}
	defer func() { _ = f.Close() }()

	entries, err := ParseUsers(f)
	if err != nil {
		return nil, fmt.Errorf("store: read users file: %w", err)
	}

	s := &FileStore{path: path, users: make(map[string]string, len(entries))}
	for _, e := range entries {
		s.users[e.Username] = e.Password
	}
	slog.Info("loaded users file", "path", path, "users", len(s.users))
	return s, nil
}

// ParseUsers parses "username|password" lines. Lines without a '|' after a
// non-empty name are skipped, as are names that could never appear in a
// protocol header. The first entry for a duplicated name wins.
func ParseUsers(r io.Reader) ([]Entry, error) {
	var entries []Entry
	seen := make(map[string]bool)

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		bar := strings.IndexByte(line, '|')
		if bar <= 0 {
			continue
		}
		name, pass := line[:bar], line[bar+1:]
		if err := model.ValidateUsername(name); err != nil {
			slog.Warn("skipping user entry", "line", lineNo, "err", err)
			continue
		}
		if seen[name] {
			slog.Warn("duplicate user entry ignored", "line", lineNo, "user", name)
			continue
		}
		seen[name] = true
		entries = append(entries, Entry{Username: name, Password: pass})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Path returns the file the store was loaded from.
func (s *FileStore) Path() string {
	return s.path
}

// Verify reports whether password matches username's password.
func (s *FileStore) Verify(username, password string) bool {
	want, ok := s.users[username]
	return ok && crypto.EqualStrings(want, password)
}

// Count returns the number of users.
func (s *FileStore) Count() (int, error) {
	return len(s.users), nil
}

// ListUsers returns all users ordered by username. The file has no ids or
// timestamps; ID is the position in that order, starting at 1.
func (s *FileStore) ListUsers() ([]model.User, error) {
	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	sort.Strings(names)
	users := make([]model.User, len(names))
	for i, name := range names {
		users[i] = model.User{ID: int64(i + 1), Username: name}
	}
	return users, nil
}

// Close is a no-op; the file is read once at load.
func (s *FileStore) Close() error {
	return nil
}
