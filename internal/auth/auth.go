// Package auth is the credential and session shell around the directory
// core. It owns password hashing and verification and the JWT session
// cookie; the core only ever sees a pre-resolved Actor value and an opaque
// credential hash.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mvoronova/golinks/internal/logger"
	"github.com/mvoronova/golinks/internal/user"
)

type userKeeper interface {
	FindUserByID(ctx context.Context, userID string) (*user.User, bool, error)
	FindUserByUsername(ctx context.Context, username string) (*user.User, bool, error)
}

// ErrInvalidCredentials is returned by Login for an unknown username or a
// wrong password. The two cases are deliberately indistinguishable.
var ErrInvalidCredentials = errors.New("invalid username or password")

// Auth handles credential verification and JWT session management.
type Auth struct {
	// db is the interface to the user data storage.
	db userKeeper

	// authCookieName is the name of the cookie used to store the JWT.
	authCookieName string

	// authCookieSigningSecretKey is the key used to sign JWTs.
	authCookieSigningSecretKey []byte
}

// Claims represents the JWT claims used by the system.
// It embeds standard JWT claims and adds a user-specific identifier.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// ContextKey is a custom type for storing values in context to avoid collisions.
type ContextKey string

// ActorKey is the context key under which the resolved Actor travels.
const ActorKey ContextKey = "actor"

// New creates a new Auth handler with the given user data access layer,
// cookie name, and JWT signing secret.
func New(
	db userKeeper,
	authCookieName string,
	authCookieSigningSecretKey []byte,
) *Auth {
	return &Auth{
		db:                         db,
		authCookieName:             authCookieName,
		authCookieSigningSecretKey: authCookieSigningSecretKey,
	}
}

// HashPassword turns a plaintext password into the opaque credential blob
// the core stores.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// Login verifies the credentials and returns the matching user record.
// Unknown usernames and wrong passwords both yield ErrInvalidCredentials.
func (a *Auth) Login(ctx context.Context, username, password string) (*user.User, error) {
	usr, found, err := a.db.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(usr.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return usr, nil
}

// StartSession issues a signed JWT for the user and sets it as the session
// cookie on the response.
func (a *Auth) StartSession(response http.ResponseWriter, usr *user.User) error {
	JWTString, err := a.buildJWTString(&Claims{UserID: usr.ID})
	if err != nil {
		return err
	}

	http.SetCookie(
		response,
		&http.Cookie{
			Name:     a.authCookieName,
			Value:    JWTString,
			Path:     "/",
			HttpOnly: true,
		},
	)

	return nil
}

// EndSession expires the session cookie.
func (a *Auth) EndSession(response http.ResponseWriter) {
	http.SetCookie(
		response,
		&http.Cookie{
			Name:     a.authCookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
		},
	)
}

// AuthenticateUser is an HTTP middleware resolving the session token from
// the Authorization header or the session cookie into an Actor stored in
// the request context. A missing or invalid token yields the anonymous
// actor; flagging that as an error is each handler's policy decision.
func (a *Auth) AuthenticateUser(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		actor := user.Anonymous()

		userID := a.getUserIDFromAuthorizationHeaderOrCookie(request)
		if userID != "" {
			usr, found, err := a.db.FindUserByID(request.Context(), userID)
			if err != nil {
				logger.Log.Debugln("Error calling the `a.db.FindUserByID()`: ", zap.Error(err))
				response.WriteHeader(http.StatusInternalServerError)
				return
			}
			if found {
				actor = usr.AsActor()
			}
		}

		ctx := context.WithValue(request.Context(), ActorKey, actor)
		h.ServeHTTP(response, request.WithContext(ctx))
	}

	return http.HandlerFunc(middleware)
}

// ActorFromContext extracts the Actor placed by AuthenticateUser. Requests
// that never passed the middleware are anonymous.
func ActorFromContext(ctx context.Context) user.Actor {
	actor, ok := ctx.Value(ActorKey).(user.Actor)
	if !ok {
		return user.Anonymous()
	}

	return actor
}

func (a *Auth) getTokenStringFromAuthorizationHeaderOrCookie(request *http.Request) string {
	tokenString := request.Header.Get("Authorization")
	if tokenString != "" {
		return tokenString
	}
	cookie, err := request.Cookie(a.authCookieName)
	if err == nil {
		tokenString = cookie.Value
	}

	return tokenString
}

func (a *Auth) getUserIDFromAuthorizationHeaderOrCookie(request *http.Request) string {
	tokenString := a.getTokenStringFromAuthorizationHeaderOrCookie(request)
	if tokenString == "" {
		return ""
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return a.authCookieSigningSecretKey, nil
		},
	)
	if err != nil || !token.Valid {
		return ""
	}

	return claims.UserID
}

func (a *Auth) buildJWTString(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, *claims)

	tokenString, err := token.SignedString(a.authCookieSigningSecretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}
