// Package jsondb provides a JSON-file-backed implementation of the
// directory storage. The whole dataset lives in memory behind a mutex and
// is flushed to the file on Close. Each storage call is atomic under the
// mutex; multi-call sequences such as the bootstrap-admin count-then-insert
// are serialized by the exclusive window BeginTransaction opens.
package jsondb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/thoas/go-funk"

	"github.com/mvoronova/golinks/internal/models"
	"github.com/mvoronova/golinks/internal/user"
)

// JSONDB is the file-backed storage backend.
type JSONDB struct {
	fileName string
	mu       sync.RWMutex
	txMu     sync.Mutex
	inTx     bool
	Cache    CacheStruct
}

// CacheStruct is the serialized shape of the database file. It is exported
// so the memory backend can embed JSONDB and seed it directly.
type CacheStruct struct {
	Users map[string]*user.User
	Links map[string]*models.Link
}

func initDBFile(fileName string) error {
	dbFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(dbFile, `{
	"Users": {},
	"Links": {}
}`)
	if err != nil {
		return err
	}
	return dbFile.Close()
}

func writeToJSONFile(fileName string, cache interface{}) error {
	jsonData, err := json.MarshalIndent(cache, "", "\t")
	if err != nil {
		return fmt.Errorf("error marshaling JSON: %s", err)
	}

	file, err2 := os.OpenFile(fileName, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0644)
	if err2 != nil {
		return fmt.Errorf("error opening file: %s", err2)
	}
	defer file.Close()

	_, err = file.Write(jsonData)
	if err != nil {
		return fmt.Errorf("error writing to file: %s", err)
	}

	return nil
}

func parseJSONFile(fileName string, cacheMap *CacheStruct) error {
	file, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	err = decoder.Decode(cacheMap)
	if err != nil {
		return err
	}

	return nil
}

// New loads the database file, creating it with an empty dataset when it
// does not exist yet.
func New(fileName string) (*JSONDB, error) {
	database := JSONDB{
		fileName: fileName,
		Cache:    CacheStruct{},
	}

	err := parseJSONFile(database.fileName, &database.Cache)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		err := initDBFile(fileName)
		if err != nil {
			return nil, err
		}
		err = parseJSONFile(database.fileName, &database.Cache)
		if err != nil {
			return nil, err
		}
	}

	if database.Cache.Users == nil {
		database.Cache.Users = map[string]*user.User{}
	}
	if database.Cache.Links == nil {
		database.Cache.Links = map[string]*models.Link{}
	}

	return &database, nil
}

// NewEmpty returns a JSONDB with an empty dataset and no backing file.
// It is the seam the memory backend builds on.
func NewEmpty() *JSONDB {
	return &JSONDB{
		Cache: CacheStruct{
			Users: map[string]*user.User{},
			Links: map[string]*models.Link{},
		},
	}
}

// BeginTransaction has no *sql.Tx to hand out; instead it opens an
// exclusive window over the store held until Commit or Rollback, so a
// count-then-insert sequence observes a stable dataset. This is the file
// backend's counterpart of the advisory lock the postgres backend takes.
func (db *JSONDB) BeginTransaction() (*sql.Tx, error) {
	db.txMu.Lock()
	db.inTx = true

	return nil, nil
}

func (db *JSONDB) RollbackTransaction(transaction *sql.Tx) error {
	db.endTransaction()

	return nil
}

func (db *JSONDB) CommitTransaction(transaction *sql.Tx) error {
	db.endTransaction()

	return nil
}

// endTransaction releases the window once; the deferred Rollback that runs
// after a successful Commit must stay a no-op.
func (db *JSONDB) endTransaction() {
	if db.inTx {
		db.inTx = false
		db.txMu.Unlock()
	}
}

// CreateUser inserts the user and returns the generated ID. A taken
// username yields models.ErrConflict.
func (db *JSONDB) CreateUser(ctx context.Context, usr *user.User, transaction *sql.Tx) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, existing := range db.Cache.Users {
		if existing.Username == usr.Username {
			return "", fmt.Errorf("username %q: %w", usr.Username, models.ErrConflict)
		}
	}

	stored := *usr
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	db.Cache.Users[stored.ID] = &stored

	return stored.ID, nil
}

func (db *JSONDB) FindUserByID(ctx context.Context, userID string) (*user.User, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	usr, found := db.Cache.Users[userID]
	if !found {
		return nil, false, nil
	}
	result := *usr

	return &result, true, nil
}

func (db *JSONDB) FindUserByUsername(ctx context.Context, username string) (*user.User, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, usr := range db.Cache.Users {
		if usr.Username == username {
			found := *usr
			return &found, true, nil
		}
	}

	return nil, false, nil
}

func (db *JSONDB) CountUsers(ctx context.Context, transaction *sql.Tx) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return int64(len(db.Cache.Users)), nil
}

// DeleteUser removes the user and sweeps every link they own in the same
// locked section, so no dangling owner reference is ever observable.
func (db *JSONDB) DeleteUser(ctx context.Context, userID string, transaction *sql.Tx) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, found := db.Cache.Users[userID]; !found {
		return fmt.Errorf("user %q: %w", userID, models.ErrNotFound)
	}
	delete(db.Cache.Users, userID)

	for shortPath, link := range db.Cache.Links {
		if link.OwnerID == userID {
			delete(db.Cache.Links, shortPath)
		}
	}

	return nil
}

func (db *JSONDB) SetUserIsAdmin(ctx context.Context, userID string, isAdmin bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	usr, found := db.Cache.Users[userID]
	if !found {
		return fmt.Errorf("user %q: %w", userID, models.ErrNotFound)
	}
	usr.IsAdmin = isAdmin

	return nil
}

// ListUsers returns one window of users ordered ascending by username.
func (db *JSONDB) ListUsers(ctx context.Context, offset, limit int) ([]user.User, int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	all := funk.Values(db.Cache.Users).([]*user.User)
	sort.Slice(all, func(i, j int) bool {
		return all[i].Username < all[j].Username
	})

	total := int64(len(all))
	window := pageWindow(len(all), offset, limit)

	result := make([]user.User, 0, len(window))
	for _, i := range window {
		result = append(result, *all[i])
	}

	return result, total, nil
}

// InsertLink inserts the link; a taken short path yields models.ErrConflict.
func (db *JSONDB) InsertLink(ctx context.Context, link *models.Link, transaction *sql.Tx) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.Cache.Links[link.ShortPath]; exists {
		return fmt.Errorf("short path %q: %w", link.ShortPath, models.ErrConflict)
	}

	stored := *link
	db.Cache.Links[stored.ShortPath] = &stored

	return nil
}

func (db *JSONDB) FindLinkByShortPath(ctx context.Context, shortPath string) (*models.Link, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	link, found := db.Cache.Links[shortPath]
	if !found {
		return nil, false, nil
	}
	result := *link

	return &result, true, nil
}

func (db *JSONDB) UpdateLinkTarget(ctx context.Context, shortPath, targetURL string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	link, found := db.Cache.Links[shortPath]
	if !found {
		return fmt.Errorf("short path %q: %w", shortPath, models.ErrNotFound)
	}
	link.TargetURL = targetURL

	return nil
}

func (db *JSONDB) DeleteLink(ctx context.Context, shortPath string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, found := db.Cache.Links[shortPath]; !found {
		return fmt.Errorf("short path %q: %w", shortPath, models.ErrNotFound)
	}
	delete(db.Cache.Links, shortPath)

	return nil
}

// ListLinks returns one window of links matching the filter, ordered
// ascending by short path. The query is a case-sensitive substring match
// against the short path or the target URL.
func (db *JSONDB) ListLinks(
	ctx context.Context,
	filter models.LinkFilter,
	offset, limit int,
) ([]models.Link, int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	matched := []*models.Link{}
	for _, link := range db.Cache.Links {
		if filter.OwnerID != "" && link.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Query != "" &&
			!strings.Contains(link.ShortPath, filter.Query) &&
			!strings.Contains(link.TargetURL, filter.Query) {
			continue
		}
		matched = append(matched, link)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ShortPath < matched[j].ShortPath
	})

	total := int64(len(matched))
	window := pageWindow(len(matched), offset, limit)

	result := make([]models.Link, 0, len(window))
	for _, i := range window {
		result = append(result, *matched[i])
	}

	return result, total, nil
}

func (db *JSONDB) CountLinks(ctx context.Context) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return int64(len(db.Cache.Links)), nil
}

func (db *JSONDB) Ping(ctx context.Context) error {
	return nil
}

// Close flushes the dataset to the database file.
func (db *JSONDB) Close() error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	err := writeToJSONFile(db.fileName, db.Cache)
	if err != nil {
		return err
	}

	return nil
}

// pageWindow clamps an offset/limit pair to the collection bounds and
// returns the selected index range. Out-of-range windows select nothing.
func pageWindow(length, offset, limit int) []int {
	if offset < 0 || limit <= 0 || offset >= length {
		return nil
	}
	end := offset + limit
	if end > length {
		end = length
	}

	result := make([]int, 0, end-offset)
	for i := offset; i < end; i++ {
		result = append(result, i)
	}

	return result
}
