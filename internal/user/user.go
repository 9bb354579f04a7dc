// Package user defines the user record and the Actor value every service
// call executes on behalf of.
package user

// User represents a registered account of the go-link directory.
type User struct {
	// ID is the unique identifier of the user, meaning a UUID.
	ID string `json:"id"`

	// Username is the unique, case-sensitive display name.
	Username string `json:"username"`

	// PasswordHash is the opaque credential blob. It is never compared in
	// plaintext; the auth shell owns hashing and verification.
	PasswordHash string `json:"-"`

	// IsAdmin grants the administrative override over links and users.
	IsAdmin bool `json:"is_admin"`
}

// Actor is the identity a request runs as. It is threaded explicitly into
// every service call; business logic never resolves the current user from
// ambient state.
type Actor struct {
	ID              string
	IsAuthenticated bool
	IsAdmin         bool
}

// Anonymous is the actor of an unauthenticated request.
func Anonymous() Actor {
	return Actor{}
}

// AsActor converts a loaded user record into an authenticated actor.
func (u *User) AsActor() Actor {
	return Actor{
		ID:              u.ID,
		IsAuthenticated: true,
		IsAdmin:         u.IsAdmin,
	}
}

// UserPage is one page of the user listing together with the total count.
type UserPage struct {
	Users []User `json:"users"`
	Total int64  `json:"total"`
	Page  int    `json:"page"`
}
