package datastore

import (
	"context"

	"github.com/NicolasHaas/gorelay/pkg/model"
)

type DataProviderFactory interface {
	NonTx() DataStore
	Tx(context.Context) (DataStoreTx, error)
}

type DataStoreTx interface {
	DataStore
	Rollback() error
	Commit() error
}

// DataStore is the persistence interface for credential records.
type DataStore interface {
	UserReadProvider
	UserWriteProvider
}

var _ DataProviderFactory = (*ProviderFactory)(nil)

type UserReadProvider interface {
	GetUserByUsername(username string) (*model.User, error)
	ListUsers() ([]model.User, error)
	CountUsers() (int, error)
	CheckPassword(username, password string) (bool, error)
}

type UserWriteProvider interface {
	CreateUser(username, password string) (*model.User, error)
	SetPassword(username, password string) error
	DeleteUser(username string) error
}
