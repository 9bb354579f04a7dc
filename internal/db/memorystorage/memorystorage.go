// Package memorystorage is the in-memory storage backend. It embeds the
// jsondb implementation without a backing file; Close discards the dataset.
package memorystorage

import (
	"context"

	"github.com/mvoronova/golinks/internal/db/jsondb"
	"github.com/mvoronova/golinks/internal/models"
	"github.com/mvoronova/golinks/internal/user"
)

type MemoryStorage struct {
	*jsondb.JSONDB
}

func New() (*MemoryStorage, error) {
	return &MemoryStorage{
		JSONDB: jsondb.NewEmpty(),
	}, nil
}

func (theStorage *MemoryStorage) Close() error {
	return nil
}

func (theStorage *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

// Seed inserts fixtures directly, bypassing the service rules. Test helper.
func (theStorage *MemoryStorage) Seed(users []user.User, links []models.Link) {
	for i := range users {
		theStorage.Cache.Users[users[i].ID] = &users[i]
	}
	for i := range links {
		theStorage.Cache.Links[links[i].ShortPath] = &links[i]
	}
}
