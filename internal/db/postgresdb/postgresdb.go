// Package postgresdb provides the PostgreSQL-backed implementation of the
// directory storage. Uniqueness of usernames and short paths is enforced by
// the database's unique constraints; the insert attempt itself is the source
// of truth and a violation is reported as models.ErrConflict. The
// first-user-bootstrap count runs under an advisory transaction lock so two
// concurrent registrations can never both observe an empty users table.
package postgresdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mvoronova/golinks/internal/models"
	"github.com/mvoronova/golinks/internal/user"
)

// PostgresDB is the PostgreSQL storage backend.
type PostgresDB struct {
	database          *sql.DB
	connectionTimeout time.Duration
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type initOptions struct {
	DBPreReset bool
}

// InitOption defines a functional option for configuring database initialization.
type InitOption func(*initOptions)

// WithDBPreReset enables or disables resetting the database schema before migration.
// It can be used for test setups or development purposes.
func WithDBPreReset(value bool) InitOption {
	return func(options *initOptions) {
		options.DBPreReset = value
	}
}

const uniqueViolationCode = "23505"

// registrationLockID keys the advisory lock serializing the
// count-users-then-insert sequence of the bootstrap-admin rule.
const registrationLockID = 6_948_201

// New establishes a connection to the PostgreSQL database,
// runs schema migrations, and returns a configured PostgresDB instance.
func New(
	ctx context.Context,
	databaseDSN string,
	connectionTimeout time.Duration,
	migrationsDir string,
	optionsProto ...InitOption,
) (*PostgresDB, error) {
	options := &initOptions{
		DBPreReset: false,
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	database, err := sql.Open("pgx", databaseDSN)
	if err != nil {
		return nil, err
	}

	result := &PostgresDB{
		database:          database,
		connectionTimeout: connectionTimeout,
	}

	if options.DBPreReset {
		if err := result.resetDB(ctx); err != nil {
			return nil,
				fmt.Errorf(
					"in internal/db/postgresdb/postgresdb.go/New(): error while `result.resetDB()` calling: %w",
					err,
				)
		}
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return nil,
			fmt.Errorf(
				"in internal/db/postgresdb/postgresdb.go/New(): error while `goose.SetDialect()` calling: %w",
				err,
			)
	}

	if err := goose.Up(result.database, migrationsDir); err != nil {
		return nil,
			fmt.Errorf(
				"in internal/db/postgresdb/postgresdb.go/New(): error while `goose.Up()` calling: %w",
				err,
			)
	}

	return result, nil
}

// BeginTransaction starts a new SQL transaction and returns it.
// The caller is responsible for committing or rolling it back.
func (db *PostgresDB) BeginTransaction() (*sql.Tx, error) {
	return db.database.Begin()
}

// RollbackTransaction rolls back the given SQL transaction.
func (db *PostgresDB) RollbackTransaction(transaction *sql.Tx) error {
	return transaction.Rollback()
}

// CommitTransaction commits the given SQL transaction.
func (db *PostgresDB) CommitTransaction(transaction *sql.Tx) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic occurred while committing transaction: %v", r)
		}
	}()

	return transaction.Commit()
}

func (db *PostgresDB) queryerFor(transaction *sql.Tx) queryer {
	if transaction == nil {
		return db.database
	}
	return transaction
}

func (db *PostgresDB) executorFor(transaction *sql.Tx) executor {
	if transaction == nil {
		return db.database
	}
	return transaction
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// CreateUser inserts a new user record and returns its generated ID.
// A taken username surfaces as models.ErrConflict.
func (db *PostgresDB) CreateUser(ctx context.Context, usr *user.User, transaction *sql.Tx) (string, error) {
	row := db.queryerFor(transaction).QueryRowContext(
		ctx,
		`INSERT INTO users (username, password_hash, is_admin)
			VALUES ($1, $2, $3)
			RETURNING id`,
		usr.Username,
		usr.PasswordHash,
		usr.IsAdmin,
	)
	var userIDFromDB string
	err := row.Scan(&userIDFromDB)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("username %q: %w", usr.Username, models.ErrConflict)
		}
		return "", err
	}

	return userIDFromDB, nil
}

// FindUserByID fetches a user by their UUID.
func (db *PostgresDB) FindUserByID(ctx context.Context, userID string) (*user.User, bool, error) {
	row := db.database.QueryRowContext(
		ctx,
		`SELECT id, username, password_hash, is_admin FROM users WHERE id = $1`,
		userID,
	)

	return scanUser(row)
}

// FindUserByUsername fetches a user by their unique username.
func (db *PostgresDB) FindUserByUsername(ctx context.Context, username string) (*user.User, bool, error) {
	row := db.database.QueryRowContext(
		ctx,
		`SELECT id, username, password_hash, is_admin FROM users WHERE username = $1`,
		username,
	)

	return scanUser(row)
}

func scanUser(row *sql.Row) (*user.User, bool, error) {
	usr := &user.User{}
	err := row.Scan(&usr.ID, &usr.Username, &usr.PasswordHash, &usr.IsAdmin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return usr, true, nil
}

// CountUsers returns the total number of users. When called inside a
// transaction it first takes the registration advisory lock, so the
// count-then-insert sequence of the bootstrap-admin rule is serialized
// across concurrent registrations.
func (db *PostgresDB) CountUsers(ctx context.Context, transaction *sql.Tx) (int64, error) {
	database := db.queryerFor(transaction)

	if transaction != nil {
		if _, err := transaction.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, registrationLockID); err != nil {
			return 0, fmt.Errorf(
				"in internal/db/postgresdb/postgresdb.go/CountUsers(): error while `pg_advisory_xact_lock` taking: %w",
				err,
			)
		}
	}

	row := database.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

// DeleteUser removes the user; their links go with them via the
// ON DELETE CASCADE constraint on links.owner_id.
func (db *PostgresDB) DeleteUser(ctx context.Context, userID string, transaction *sql.Tx) error {
	result, err := db.executorFor(transaction).ExecContext(
		ctx,
		`DELETE FROM users WHERE id = $1`,
		userID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("user %q: %w", userID, models.ErrNotFound)
	}

	return nil
}

// SetUserIsAdmin updates the admin flag of the given user.
func (db *PostgresDB) SetUserIsAdmin(ctx context.Context, userID string, isAdmin bool) error {
	result, err := db.database.ExecContext(
		ctx,
		`UPDATE users SET is_admin = $2 WHERE id = $1`,
		userID,
		isAdmin,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("user %q: %w", userID, models.ErrNotFound)
	}

	return nil
}

// ListUsers returns one offset/limit window of users ordered ascending by
// username, plus the total user count.
func (db *PostgresDB) ListUsers(ctx context.Context, offset, limit int) ([]user.User, int64, error) {
	var total int64
	row := db.database.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`)
	if err := row.Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := db.database.QueryContext(
		ctx,
		`SELECT id, username, password_hash, is_admin
			FROM users
			ORDER BY username
			LIMIT $1 OFFSET $2`,
		limit,
		offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	result := []user.User{}
	for rows.Next() {
		var usr user.User
		if err := rows.Scan(&usr.ID, &usr.Username, &usr.PasswordHash, &usr.IsAdmin); err != nil {
			return nil, 0, err
		}
		result = append(result, usr)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return result, total, nil
}

// InsertLink creates a new short-path mapping. A taken short path surfaces
// as models.ErrConflict; there is no prior existence check, the unique
// constraint decides.
func (db *PostgresDB) InsertLink(ctx context.Context, link *models.Link, transaction *sql.Tx) error {
	_, err := db.executorFor(transaction).ExecContext(
		ctx,
		`INSERT INTO links (short_path, target_url, owner_id) VALUES ($1, $2, $3)`,
		link.ShortPath,
		link.TargetURL,
		link.OwnerID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("short path %q: %w", link.ShortPath, models.ErrConflict)
		}
		return err
	}

	return nil
}

// FindLinkByShortPath retrieves the link registered under the short path.
// The lookup is exact and case-sensitive.
func (db *PostgresDB) FindLinkByShortPath(ctx context.Context, shortPath string) (*models.Link, bool, error) {
	row := db.database.QueryRowContext(
		ctx,
		`SELECT short_path, target_url, owner_id FROM links WHERE short_path = $1`,
		shortPath,
	)
	link := &models.Link{}
	err := row.Scan(&link.ShortPath, &link.TargetURL, &link.OwnerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return link, true, nil
}

// UpdateLinkTarget replaces the target URL of an existing link in place.
func (db *PostgresDB) UpdateLinkTarget(ctx context.Context, shortPath, targetURL string) error {
	result, err := db.database.ExecContext(
		ctx,
		`UPDATE links SET target_url = $2 WHERE short_path = $1`,
		shortPath,
		targetURL,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("short path %q: %w", shortPath, models.ErrNotFound)
	}

	return nil
}

// DeleteLink removes the link registered under the short path.
func (db *PostgresDB) DeleteLink(ctx context.Context, shortPath string) error {
	result, err := db.database.ExecContext(
		ctx,
		`DELETE FROM links WHERE short_path = $1`,
		shortPath,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("short path %q: %w", shortPath, models.ErrNotFound)
	}

	return nil
}

// ListLinks returns one offset/limit window of links matching the filter,
// ordered ascending by short path, plus the total match count. The query is
// a case-sensitive substring match on the short path or the target URL.
func (db *PostgresDB) ListLinks(
	ctx context.Context,
	filter models.LinkFilter,
	offset, limit int,
) ([]models.Link, int64, error) {
	const matchCondition = `
		($1 = '' OR owner_id::text = $1)
		AND ($2 = '' OR POSITION($2 IN short_path) > 0 OR POSITION($2 IN target_url) > 0)`

	var total int64
	row := db.database.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM links WHERE `+matchCondition,
		filter.OwnerID,
		filter.Query,
	)
	if err := row.Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := db.database.QueryContext(
		ctx,
		`SELECT short_path, target_url, owner_id
			FROM links
			WHERE `+matchCondition+`
			ORDER BY short_path
			LIMIT $3 OFFSET $4`,
		filter.OwnerID,
		filter.Query,
		limit,
		offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	result := []models.Link{}
	for rows.Next() {
		var link models.Link
		if err := rows.Scan(&link.ShortPath, &link.TargetURL, &link.OwnerID); err != nil {
			return nil, 0, err
		}
		result = append(result, link)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return result, total, nil
}

// CountLinks returns the total number of registered links.
func (db *PostgresDB) CountLinks(ctx context.Context) (int64, error) {
	row := db.database.QueryRowContext(ctx, `SELECT COUNT(*) FROM links`)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

// Ping verifies connectivity with the PostgreSQL database within the configured timeout.
func (db *PostgresDB) Ping(ctx context.Context) error {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, db.connectionTimeout)
	defer cancel()

	return db.database.PingContext(ctxWithTimeout)
}

// Close closes the database connection and releases any associated resources.
func (db *PostgresDB) Close() error {
	return db.database.Close()
}

func (db *PostgresDB) resetDB(ctx context.Context) error {
	_, err := db.database.ExecContext(
		ctx,
		`
			DO $$
			DECLARE
				r RECORD;
			BEGIN
				FOR r IN (SELECT tablename FROM pg_tables WHERE schemaname = 'public') LOOP
					EXECUTE 'DROP TABLE IF EXISTS ' || quote_ident(r.tablename) || ' CASCADE';
				END LOOP;
			END $$;
		`,
	)
	if err != nil {
		return fmt.Errorf(
			"in internal/db/postgresdb/postgresdb.go/resetDB(): error while `db.database.ExecContext()` calling: %w",
			err,
		)
	}
	return nil
}
