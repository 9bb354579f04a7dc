// Package service implements the core of the go-link directory: resolution,
// the directory admin operations over links and users, and listing. Every
// operation takes the acting identity explicitly and consults the
// authorization policy before touching the stores.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	"github.com/mvoronova/golinks/internal/authz"
	"github.com/mvoronova/golinks/internal/models"
	"github.com/mvoronova/golinks/internal/user"
)

type transactioner interface {
	BeginTransaction() (*sql.Tx, error)

	RollbackTransaction(transaction *sql.Tx) error

	CommitTransaction(transaction *sql.Tx) error
}

type userKeeper interface {
	CreateUser(ctx context.Context, usr *user.User, transaction *sql.Tx) (string, error)

	FindUserByID(ctx context.Context, userID string) (*user.User, bool, error)

	CountUsers(ctx context.Context, transaction *sql.Tx) (int64, error)

	DeleteUser(ctx context.Context, userID string, transaction *sql.Tx) error

	SetUserIsAdmin(ctx context.Context, userID string, isAdmin bool) error

	ListUsers(ctx context.Context, offset, limit int) ([]user.User, int64, error)
}

type linkKeeper interface {
	InsertLink(ctx context.Context, link *models.Link, transaction *sql.Tx) error

	FindLinkByShortPath(ctx context.Context, shortPath string) (*models.Link, bool, error)

	UpdateLinkTarget(ctx context.Context, shortPath, targetURL string) error

	DeleteLink(ctx context.Context, shortPath string) error

	ListLinks(ctx context.Context, filter models.LinkFilter, offset, limit int) ([]models.Link, int64, error)

	CountLinks(ctx context.Context) (int64, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type storage interface {
	transactioner
	userKeeper
	linkKeeper
	pinger
}

// PageSize is the fixed number of records per listing page.
const PageSize = 10

// Service orchestrates the directory operations against the storage backend.
type Service struct {
	db storage
}

// New returns a Service backed by the given storage.
func New(db storage) *Service {
	return &Service{db: db}
}

// Resolve looks up the short path and returns its target URL. The lookup is
// exact and case-sensitive; found == false means the shell should redirect
// the visitor into the create flow with the path as a candidate.
func (s *Service) Resolve(ctx context.Context, shortPath string) (string, bool, error) {
	link, found, err := s.db.FindLinkByShortPath(ctx, shortPath)
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, nil
	}

	return link.TargetURL, true, nil
}

// CreateLink registers a new short path owned by the actor. The check order
// is fixed: presence, then URL shape, then uniqueness — a malformed URL on a
// taken path reports the malformed URL, not the conflict. Uniqueness is
// decided by the insert attempt itself, not by a prior existence check.
func (s *Service) CreateLink(
	ctx context.Context,
	actor user.Actor,
	shortPath, targetURL string,
) (*models.Link, error) {
	if !actor.IsAuthenticated {
		return nil, fmt.Errorf("link creation requires authentication: %w", models.ErrForbidden)
	}

	if shortPath == "" || targetURL == "" {
		return nil, fmt.Errorf("both short path and target URL are required: %w", models.ErrValidation)
	}

	if !isValidTargetURL(targetURL) {
		return nil, fmt.Errorf("target URL %q: %w", targetURL, models.ErrValidation)
	}

	link := &models.Link{
		ShortPath: shortPath,
		TargetURL: targetURL,
		OwnerID:   actor.ID,
	}
	if err := s.db.InsertLink(ctx, link, nil); err != nil {
		return nil, err
	}

	return link, nil
}

// EditLink replaces the target URL of an existing link in place. The short
// path and the owner are immutable.
func (s *Service) EditLink(
	ctx context.Context,
	actor user.Actor,
	shortPath, newTargetURL string,
) (*models.Link, error) {
	link, found, err := s.db.FindLinkByShortPath(ctx, shortPath)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("short path %q: %w", shortPath, models.ErrNotFound)
	}

	if !authz.CanMutateLink(actor, link) {
		return nil, fmt.Errorf("link %q belongs to another user: %w", shortPath, models.ErrForbidden)
	}

	if newTargetURL == "" || !isValidTargetURL(newTargetURL) {
		return nil, fmt.Errorf("target URL %q: %w", newTargetURL, models.ErrValidation)
	}

	if err := s.db.UpdateLinkTarget(ctx, shortPath, newTargetURL); err != nil {
		return nil, err
	}

	link.TargetURL = newTargetURL

	return link, nil
}

// DeleteLink removes the link irrevocably.
func (s *Service) DeleteLink(ctx context.Context, actor user.Actor, shortPath string) error {
	link, found, err := s.db.FindLinkByShortPath(ctx, shortPath)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("short path %q: %w", shortPath, models.ErrNotFound)
	}

	if !authz.CanMutateLink(actor, link) {
		return fmt.Errorf("link %q belongs to another user: %w", shortPath, models.ErrForbidden)
	}

	return s.db.DeleteLink(ctx, shortPath)
}

// RegisterUser creates a self-service account. The very first user of a
// fresh directory is granted admin; the count-then-insert sequence runs in
// one storage transaction so two concurrent first registrations cannot both
// claim the flag.
func (s *Service) RegisterUser(ctx context.Context, username, passwordHash string) (*user.User, error) {
	if username == "" || passwordHash == "" {
		return nil, fmt.Errorf("both username and password are required: %w", models.ErrValidation)
	}

	tx, err := s.db.BeginTransaction()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = s.db.RollbackTransaction(tx)
	}()

	count, err := s.db.CountUsers(ctx, tx)
	if err != nil {
		return nil, err
	}

	usr := &user.User{
		Username:     username,
		PasswordHash: passwordHash,
		IsAdmin:      count == 0,
	}
	usr.ID, err = s.db.CreateUser(ctx, usr, tx)
	if err != nil {
		return nil, err
	}

	if err := s.db.CommitTransaction(tx); err != nil {
		return nil, err
	}

	return usr, nil
}

// CreateUserAsAdmin creates an account on behalf of an admin, with the
// admin flag set explicitly rather than by the bootstrap rule.
func (s *Service) CreateUserAsAdmin(
	ctx context.Context,
	actor user.Actor,
	username, passwordHash string,
	grantAdmin bool,
) (*user.User, error) {
	if !authz.CanManageUsers(actor) {
		return nil, fmt.Errorf("user management requires admin: %w", models.ErrForbidden)
	}

	if username == "" || passwordHash == "" {
		return nil, fmt.Errorf("both username and password are required: %w", models.ErrValidation)
	}

	usr := &user.User{
		Username:     username,
		PasswordHash: passwordHash,
		IsAdmin:      grantAdmin,
	}
	userID, err := s.db.CreateUser(ctx, usr, nil)
	if err != nil {
		return nil, err
	}
	usr.ID = userID

	return usr, nil
}

// DeleteUser removes the target account together with every link it owns
// (cascade, in one transaction). Admins may never delete themselves.
func (s *Service) DeleteUser(ctx context.Context, actor user.Actor, targetID string) error {
	if !authz.CanManageUsers(actor) {
		return fmt.Errorf("user management requires admin: %w", models.ErrForbidden)
	}

	if !authz.CanTargetUser(actor, targetID) {
		return fmt.Errorf("deleting own account: %w", models.ErrSelfAction)
	}

	tx, err := s.db.BeginTransaction()
	if err != nil {
		return err
	}
	defer func() {
		_ = s.db.RollbackTransaction(tx)
	}()

	if err := s.db.DeleteUser(ctx, targetID, tx); err != nil {
		return err
	}

	return s.db.CommitTransaction(tx)
}

// ToggleAdmin flips the admin flag of the target account and returns the
// updated record. Admins may never toggle their own flag.
func (s *Service) ToggleAdmin(ctx context.Context, actor user.Actor, targetID string) (*user.User, error) {
	if !authz.CanManageUsers(actor) {
		return nil, fmt.Errorf("user management requires admin: %w", models.ErrForbidden)
	}

	if !authz.CanTargetUser(actor, targetID) {
		return nil, fmt.Errorf("toggling own admin flag: %w", models.ErrSelfAction)
	}

	usr, found, err := s.db.FindUserByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("user %q: %w", targetID, models.ErrNotFound)
	}

	if err := s.db.SetUserIsAdmin(ctx, targetID, !usr.IsAdmin); err != nil {
		return nil, err
	}
	usr.IsAdmin = !usr.IsAdmin

	return usr, nil
}

// ListLinks returns one page of links visible to the actor. ScopeMine
// restricts the listing to the actor's own links; the query filters by
// case-sensitive substring on short path or target URL. Pages are 1-based;
// out-of-range pages come back empty, never as an error.
func (s *Service) ListLinks(
	ctx context.Context,
	actor user.Actor,
	scope models.ListScope,
	query string,
	page int,
) (*models.LinkPage, error) {
	if !actor.IsAuthenticated {
		return nil, fmt.Errorf("listing requires authentication: %w", models.ErrForbidden)
	}

	filter := models.LinkFilter{Query: query}
	if scope == models.ScopeMine {
		filter.OwnerID = actor.ID
	}

	offset, limit := pageToWindow(page)
	links, total, err := s.db.ListLinks(ctx, filter, offset, limit)
	if err != nil {
		return nil, err
	}

	return &models.LinkPage{
		Links: links,
		Total: total,
		Page:  page,
	}, nil
}

// ListUsers returns one page of users ordered ascending by username.
// Admin only.
func (s *Service) ListUsers(ctx context.Context, actor user.Actor, page int) (*user.UserPage, error) {
	if !authz.CanManageUsers(actor) {
		return nil, fmt.Errorf("user management requires admin: %w", models.ErrForbidden)
	}

	offset, limit := pageToWindow(page)
	users, total, err := s.db.ListUsers(ctx, offset, limit)
	if err != nil {
		return nil, err
	}

	return &user.UserPage{
		Users: users,
		Total: total,
		Page:  page,
	}, nil
}

// Stats returns the total number of links and users in the directory.
func (s *Service) Stats(ctx context.Context) (models.StatsResponse, error) {
	links, err := s.db.CountLinks(ctx)
	if err != nil {
		return models.StatsResponse{}, err
	}

	users, err := s.db.CountUsers(ctx, nil)
	if err != nil {
		return models.StatsResponse{}, err
	}

	return models.StatsResponse{
		Links: links,
		Users: users,
	}, nil
}

// Ping checks the health of the storage layer.
func (s *Service) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// pageToWindow converts a 1-based page number into an offset/limit pair.
// Pages below 1 select an empty window; the total is still computed.
func pageToWindow(page int) (offset, limit int) {
	if page < 1 {
		return 0, 0
	}

	return (page - 1) * PageSize, PageSize
}

// isValidTargetURL accepts only absolute URLs with both a scheme and a host,
// mirroring the registration form's contract. `example.com` and `http://`
// are both rejected.
func isValidTargetURL(s string) bool {
	u, err := url.Parse(s)

	return err == nil && u.Scheme != "" && u.Host != ""
}
