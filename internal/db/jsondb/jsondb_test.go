package jsondb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvoronova/golinks/internal/models"
	"github.com/mvoronova/golinks/internal/user"
)

func newTestDB(t *testing.T) *JSONDB {
	t.Helper()

	fileName := filepath.Join(t.TempDir(), "db_test.json")
	db, err := New(fileName)
	require.NoError(t, err, "The jsondb.New() should not return error")

	return db
}

func TestUsersRoundtrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	userID, err := db.CreateUser(ctx, &user.User{Username: "alice", PasswordHash: "x"}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, userID)

	_, err = db.CreateUser(ctx, &user.User{Username: "alice", PasswordHash: "y"}, nil)
	assert.True(t, errors.Is(err, models.ErrConflict), "duplicate username should conflict")

	usr, found, err := db.FindUserByID(ctx, userID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alice", usr.Username)

	byName, found, err := db.FindUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, userID, byName.ID)

	count, err := db.CountUsers(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, db.SetUserIsAdmin(ctx, userID, true))
	usr, _, err = db.FindUserByID(ctx, userID)
	require.NoError(t, err)
	assert.True(t, usr.IsAdmin)
}

func TestDeleteUserSweepsTheirLinks(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ownerID, err := db.CreateUser(ctx, &user.User{Username: "owner"}, nil)
	require.NoError(t, err)
	otherID, err := db.CreateUser(ctx, &user.User{Username: "other"}, nil)
	require.NoError(t, err)

	require.NoError(t, db.InsertLink(ctx, &models.Link{ShortPath: "mine", TargetURL: "https://a.example.com", OwnerID: ownerID}, nil))
	require.NoError(t, db.InsertLink(ctx, &models.Link{ShortPath: "theirs", TargetURL: "https://b.example.com", OwnerID: otherID}, nil))

	require.NoError(t, db.DeleteUser(ctx, ownerID, nil))

	_, found, err := db.FindLinkByShortPath(ctx, "mine")
	require.NoError(t, err)
	assert.False(t, found, "deleting a user should cascade to their links")

	_, found, err = db.FindLinkByShortPath(ctx, "theirs")
	require.NoError(t, err)
	assert.True(t, found, "other owners' links should survive")

	err = db.DeleteUser(ctx, ownerID, nil)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestListLinksFilterAndOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, link := range []models.Link{
		{ShortPath: "test1", TargetURL: "https://a.example.com", OwnerID: "u1"},
		{ShortPath: "other", TargetURL: "https://b.example.com", OwnerID: "u1"},
		{ShortPath: "mytest", TargetURL: "https://c.example.com", OwnerID: "u2"},
	} {
		link := link
		require.NoError(t, db.InsertLink(ctx, &link, nil))
	}

	links, total, err := db.ListLinks(ctx, models.LinkFilter{Query: "test"}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, links, 2)
	assert.Equal(t, "mytest", links[0].ShortPath, "results should be ordered ascending by short path")
	assert.Equal(t, "test1", links[1].ShortPath)

	links, total, err = db.ListLinks(ctx, models.LinkFilter{OwnerID: "u1"}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, links, 2)
	assert.Equal(t, "other", links[0].ShortPath)

	links, _, err = db.ListLinks(ctx, models.LinkFilter{Query: "TEST"}, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, links, "substring match is case-sensitive")

	links, _, err = db.ListLinks(ctx, models.LinkFilter{}, 30, 10)
	require.NoError(t, err)
	assert.Empty(t, links, "out-of-range window selects nothing")
}

func TestTransactionWindowIsExclusive(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	tx, err := db.BeginTransaction()
	require.NoError(t, err)

	entered := make(chan struct{})
	go func() {
		otherTx, err := db.BeginTransaction()
		assert.NoError(t, err)
		assert.NoError(t, db.CommitTransaction(otherTx))
		close(entered)
	}()

	count, err := db.CountUsers(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	select {
	case <-entered:
		t.Fatal("a second transaction entered while the first window was still open")
	default:
	}

	require.NoError(t, db.CommitTransaction(tx))
	require.NoError(t, db.RollbackTransaction(tx), "the deferred rollback after a commit must be a no-op")

	<-entered
}

func TestCloseFlushesToFile(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "db_test.json")

	db, err := New(fileName)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = db.CreateUser(ctx, &user.User{Username: "alice"}, nil)
	require.NoError(t, err)
	require.NoError(t, db.InsertLink(ctx, &models.Link{ShortPath: "wiki", TargetURL: "https://example.com"}, nil))
	require.NoError(t, db.Close())

	_, err = os.Stat(fileName)
	require.NoError(t, err)

	reopened, err := New(fileName)
	require.NoError(t, err)

	link, found, err := reopened.FindLinkByShortPath(ctx, "wiki")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "https://example.com", link.TargetURL)

	_, found, err = reopened.FindUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, found)
}
