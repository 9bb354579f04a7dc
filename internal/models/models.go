// Package models holds the link record, the list/page value types and the
// error taxonomy shared by the services and the storage backends.
package models

import "errors"

// Link maps a short path to its target URL. The short path is the routing
// key and is immutable after creation; OwnerID references the creating user.
type Link struct {
	ShortPath string `json:"short_path"`
	TargetURL string `json:"target_url"`
	OwnerID   string `json:"owner_id"`
}

// ListScope selects whose links a listing call returns.
type ListScope int

const (
	// ScopeMine restricts the listing to the acting user's own links.
	ScopeMine ListScope = iota

	// ScopeAll lists every link in the directory.
	ScopeAll
)

// LinkFilter narrows a link listing. An empty Query matches everything;
// a non-empty Query is a case-sensitive substring match against the short
// path or the target URL. An empty OwnerID means all owners.
type LinkFilter struct {
	OwnerID string
	Query   string
}

// LinkPage is one page of a link listing together with the total number of
// records matching the filter.
type LinkPage struct {
	Links []Link `json:"links"`
	Total int64  `json:"total"`
	Page  int    `json:"page"`
}

// CreateLinkRequest is the form payload of the create flow.
type CreateLinkRequest struct {
	ShortPath string `json:"short_path"`
	TargetURL string `json:"target_url"`
}

// EditLinkRequest is the form payload of the edit flow.
type EditLinkRequest struct {
	TargetURL string `json:"target_url"`
}

// StatsResponse carries the operator stats for the trusted-subnet endpoint.
type StatsResponse struct {
	Links int64 `json:"links"`
	Users int64 `json:"users"`
}

const (
	StorageTypeUnknown = iota
	StorageTypePostgresql
	StorageTypeFile
	StorageTypeMemory
)

// ErrValidation is returned when an input is missing or malformed, such as
// a target URL without a scheme or host.
var ErrValidation = errors.New("invalid input")

// ErrConflict is returned when a uniqueness rule is violated: the short path
// or the username is already taken.
var ErrConflict = errors.New("already exists")

// ErrForbidden is returned when the actor lacks rights over the target
// resource, including any unauthenticated mutation attempt.
var ErrForbidden = errors.New("forbidden")

// ErrSelfAction is returned when an admin targets their own account with an
// action that is disallowed regardless of admin status.
var ErrSelfAction = errors.New("action may not target own account")

// ErrNotFound is returned when the referenced link or user does not exist.
var ErrNotFound = errors.New("not found")
