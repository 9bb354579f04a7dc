// Package storage declares the contract every directory storage backend
// implements. The transaction handle is a *sql.Tx for the PostgreSQL
// backend; the file and memory backends accept and return nil transactions.
package storage

import (
	"context"
	"database/sql"

	"github.com/mvoronova/golinks/internal/models"
	"github.com/mvoronova/golinks/internal/user"
)

// Storage is the persistence contract of the directory. Uniqueness of
// usernames and short paths is enforced by the backend itself: the insert
// attempt is the source of truth, and a violation surfaces as
// models.ErrConflict.
type Storage interface {
	BeginTransaction() (*sql.Tx, error)

	RollbackTransaction(transaction *sql.Tx) error

	CommitTransaction(transaction *sql.Tx) error

	CreateUser(ctx context.Context, usr *user.User, transaction *sql.Tx) (string, error)

	FindUserByID(ctx context.Context, userID string) (*user.User, bool, error)

	FindUserByUsername(ctx context.Context, username string) (*user.User, bool, error)

	CountUsers(ctx context.Context, transaction *sql.Tx) (int64, error)

	// DeleteUser removes the user together with every link they own.
	DeleteUser(ctx context.Context, userID string, transaction *sql.Tx) error

	SetUserIsAdmin(ctx context.Context, userID string, isAdmin bool) error

	// ListUsers returns one offset/limit window of users ordered ascending
	// by username, plus the total number of users.
	ListUsers(ctx context.Context, offset, limit int) ([]user.User, int64, error)

	InsertLink(ctx context.Context, link *models.Link, transaction *sql.Tx) error

	FindLinkByShortPath(ctx context.Context, shortPath string) (*models.Link, bool, error)

	UpdateLinkTarget(ctx context.Context, shortPath, targetURL string) error

	DeleteLink(ctx context.Context, shortPath string) error

	// ListLinks returns one offset/limit window of links matching the
	// filter, ordered ascending by short path, plus the total match count.
	ListLinks(ctx context.Context, filter models.LinkFilter, offset, limit int) ([]models.Link, int64, error)

	CountLinks(ctx context.Context) (int64, error)

	Ping(ctx context.Context) error

	Close() error
}
