package datastore_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/NicolasHaas/gorelay/pkg/datastore"
	"github.com/NicolasHaas/gorelay/pkg/model"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func NewTestSqlConn(t *testing.T) (*datastore.ProviderFactory, error) {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	st, err := datastore.NewProviderFactory(dbPath)
	if err != nil {
		return nil, fmt.Errorf("store_test: failed to open db: %w", err)
	}

	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			fmt.Printf("Error closing database: %v\n", err)
		}
	})

	return st, nil
}

func TestCreateUser(t *testing.T) {
	t.Parallel()

	type tcase struct {
		username  string
		password  string
		expectErr bool
	}

	tcases := map[string]tcase{
		"minimum_required_fields": {
			username: "evan",
			password: "hello24",
		},
		"empty_password": {
			username: "ethan",
			password: "",
		},
		"injection_username": { // contains a space and quotes
			username:  "' OR '1'='1",
			password:  "x",
			expectErr: true,
		},
		"empty_username": {
			username:  "",
			password:  "x",
			expectErr: true,
		},
		"reserved_marker": {
			username:  "ev#an",
			password:  "x",
			expectErr: true,
		},
		"full_username": { // 65 characters is too long
			username:  "24433252080542468109190329288548376491503980265648043643151614656",
			password:  "x",
			expectErr: true,
		},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewTestSqlConn(t)
			if err != nil {
				t.Fatalf("failed to open test connection: %v", err)
			}

			got, err := store.NonTx().CreateUser(tc.username, tc.password)
			if tc.expectErr {
				if err == nil {
					t.Fatalf("CreateUser: expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateUser: unexpected error: %v", err)
			}

			want := &model.User{Username: tc.username}
			if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(model.User{}, "ID", "CreatedAt")); diff != "" {
				t.Errorf("CreateUser mismatch (-want +got):\n%s", diff)
			}

			if !store.Verify(tc.username, tc.password) {
				t.Errorf("Verify: expected stored password to verify")
			}
			if store.Verify(tc.username, tc.password+"x") {
				t.Errorf("Verify: wrong password verified")
			}
		})
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}
	if _, err := store.NonTx().CreateUser("evan", "hello24"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := store.NonTx().CreateUser("evan", "other"); err == nil {
		t.Fatalf("CreateUser: expected unique constraint error")
	}
}

func TestGetUserByUsername(t *testing.T) {
	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	seeded, err := store.NonTx().CreateUser("evan", "hello24")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	got, err := store.NonTx().GetUserByUsername("evan")
	if err != nil {
		t.Fatalf("GetUserByUsername: unexpected error: %v", err)
	}
	if got == nil || got.ID != seeded.ID {
		t.Fatalf("GetUserByUsername: want id %d, got %+v", seeded.ID, got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("GetUserByUsername: expected created_at to be set")
	}

	missing, err := store.NonTx().GetUserByUsername("ethan")
	if err != nil || missing != nil {
		t.Fatalf("GetUserByUsername(missing) = %+v, %v; want nil, nil", missing, err)
	}
}

func TestSetPasswordAndDelete(t *testing.T) {
	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}
	if _, err := store.NonTx().CreateUser("evan", "hello24"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	if err := store.NonTx().SetPassword("evan", "hello25"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if store.Verify("evan", "hello24") || !store.Verify("evan", "hello25") {
		t.Fatalf("Verify: password was not replaced")
	}
	if err := store.NonTx().SetPassword("ethan", "x"); !errors.Is(err, datastore.ErrUserNotFound) {
		t.Fatalf("SetPassword(missing) = %v, want ErrUserNotFound", err)
	}

	if err := store.NonTx().DeleteUser("evan"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if store.Verify("evan", "hello25") {
		t.Fatalf("Verify: deleted user verified")
	}
	if err := store.NonTx().DeleteUser("evan"); !errors.Is(err, datastore.ErrUserNotFound) {
		t.Fatalf("DeleteUser(missing) = %v, want ErrUserNotFound", err)
	}
}

func TestTxRollback(t *testing.T) {
	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	tx, err := store.Tx(context.Background())
	if err != nil {
		t.Fatalf("Tx: %v", err)
	}
	if _, err := tx.CreateUser("evan", "hello24"); err != nil {
		t.Fatalf("CreateUser in tx: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	n, err := store.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Fatalf("Count after rollback = %d, want 0", n)
	}
}

func TestImportFile(t *testing.T) {
	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}
	if _, err := store.NonTx().CreateUser("evan", "old"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	path := filepath.Join(t.TempDir(), "users.txt")
	if err := os.WriteFile(path, []byte("evan|hello24\nethan|pw|with|bars\nbad line\n"), 0600); err != nil {
		t.Fatalf("write users file: %v", err)
	}

	n, err := store.ImportFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ImportFile: %v", err)
	}
	if n != 2 {
		t.Fatalf("ImportFile imported %d entries, want 2", n)
	}

	if !store.Verify("evan", "hello24") {
		t.Errorf("Verify: evan password not updated by import")
	}
	if !store.Verify("ethan", "pw|with|bars") {
		t.Errorf("Verify: ethan not imported")
	}

	users, err := store.ListUsers()
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	var names []string
	for _, u := range users {
		names = append(names, u.Username)
	}
	if diff := cmp.Diff([]string{"ethan", "evan"}, names); diff != "" {
		t.Errorf("ListUsers mismatch (-want +got):\n%s", diff)
	}
}

func TestImportFileMissing(t *testing.T) {
	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}
	if _, err := store.ImportFile(context.Background(), filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Fatalf("ImportFile: expected error for missing file")
	}
}

func TestReopenKeepsSchemaVersion(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	first, err := datastore.NewProviderFactory(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := first.NonTx().CreateUser("evan", "hello24"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := datastore.NewProviderFactory(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })
	if !second.Verify("evan", "hello24") {
		t.Fatalf("Verify after reopen: expected match")
	}
}
