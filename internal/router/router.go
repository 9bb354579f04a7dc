// Package router is the thin HTTP shell over the directory core. It parses
// forms and query strings, resolves the acting identity via the auth
// middleware, and maps the core's error kinds onto HTTP status codes and
// redirects. No business rule lives here.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mvoronova/golinks/internal/auth"
	"github.com/mvoronova/golinks/internal/gzippedhttp"
	"github.com/mvoronova/golinks/internal/ipchecker"
	"github.com/mvoronova/golinks/internal/logger"
	"github.com/mvoronova/golinks/internal/models"
	"github.com/mvoronova/golinks/internal/user"
)

type directory interface {
	Resolve(ctx context.Context, shortPath string) (string, bool, error)

	CreateLink(ctx context.Context, actor user.Actor, shortPath, targetURL string) (*models.Link, error)

	EditLink(ctx context.Context, actor user.Actor, shortPath, newTargetURL string) (*models.Link, error)

	DeleteLink(ctx context.Context, actor user.Actor, shortPath string) error

	RegisterUser(ctx context.Context, username, passwordHash string) (*user.User, error)

	CreateUserAsAdmin(ctx context.Context, actor user.Actor, username, passwordHash string, grantAdmin bool) (*user.User, error)

	DeleteUser(ctx context.Context, actor user.Actor, targetID string) error

	ToggleAdmin(ctx context.Context, actor user.Actor, targetID string) (*user.User, error)

	ListLinks(ctx context.Context, actor user.Actor, scope models.ListScope, query string, page int) (*models.LinkPage, error)

	ListUsers(ctx context.Context, actor user.Actor, page int) (*user.UserPage, error)

	Stats(ctx context.Context) (models.StatsResponse, error)

	Ping(ctx context.Context) error
}

type authenticator interface {
	Login(ctx context.Context, username, password string) (*user.User, error)
	StartSession(response http.ResponseWriter, usr *user.User) error
	EndSession(response http.ResponseWriter)
	AuthenticateUser(h http.Handler) http.Handler
}

// Router holds the handlers of the go-link directory HTTP surface.
type Router struct {
	svc       directory
	auth      authenticator
	ipChecker *ipchecker.IPChecker
}

// New assembles the chi mux with the full route table and middleware stack.
func New(svc directory, authHandler authenticator, ipChecker *ipchecker.IPChecker) *chi.Mux {
	theRouter := &Router{
		svc:       svc,
		auth:      authHandler,
		ipChecker: ipChecker,
	}

	mux := chi.NewRouter()
	mux.Use(logger.WithLoggingHTTPMiddleware)
	mux.Use(gzippedhttp.UngzipRequest)
	mux.Use(gzippedhttp.GzipResponse)
	mux.Use(authHandler.AuthenticateUser)

	mux.Get(`/`, theRouter.GetIndex)
	mux.Get(`/ping`, theRouter.GetPing)
	mux.Get(`/internal/stats`, theRouter.GetInternalStats)

	mux.Get(`/create`, theRouter.GetCreateLink)
	mux.Post(`/create`, theRouter.PostCreateLink)
	mux.Get(`/edit/{shortPath}`, theRouter.GetEditLink)
	mux.Post(`/edit/{shortPath}`, theRouter.PostEditLink)
	mux.Get(`/links`, theRouter.GetLinks)
	mux.Post(`/links/{shortPath}/delete`, theRouter.PostDeleteLink)

	mux.Get(`/users`, theRouter.GetUsers)
	mux.Post(`/users`, theRouter.PostUsers)
	mux.Post(`/users/{userID}/delete`, theRouter.PostDeleteUser)
	mux.Post(`/users/{userID}/toggle-admin`, theRouter.PostToggleAdmin)

	mux.Get(`/login`, theRouter.GetLogin)
	mux.Post(`/login`, theRouter.PostLogin)
	mux.Get(`/register`, theRouter.GetRegister)
	mux.Post(`/register`, theRouter.PostRegister)
	mux.Get(`/logout`, theRouter.GetLogout)

	// Everything else is a short path to resolve.
	mux.Get(`/{shortPath}`, theRouter.GetResolve)

	return mux
}

func statusForError(actor user.Actor, err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrForbidden):
		if !actor.IsAuthenticated {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case errors.Is(err, models.ErrSelfAction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (theRouter *Router) writeError(response http.ResponseWriter, actor user.Actor, err error) {
	status := statusForError(actor, err)
	if status == http.StatusInternalServerError {
		logger.Log.Errorln("storage failure: ", zap.Error(err))
		http.Error(response, "internal error", status)

		return
	}

	http.Error(response, err.Error(), status)
}

func writeJSON(response http.ResponseWriter, value interface{}) {
	response.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(response).Encode(value); err != nil {
		logger.Log.Debugln("Error encoding the response: ", zap.Error(err))
	}
}

// GetIndex sends authenticated visitors to their links and everyone else to
// the login flow.
func (theRouter *Router) GetIndex(response http.ResponseWriter, request *http.Request) {
	if auth.ActorFromContext(request.Context()).IsAuthenticated {
		http.Redirect(response, request, "/links", http.StatusFound)

		return
	}

	http.Redirect(response, request, "/login", http.StatusFound)
}

// GetResolve redirects a defined short path to its target with a found-style
// redirect (the mapping is mutable, downstream agents must not cache it
// permanently). An undefined path redirects into the create flow carrying
// the path as a pre-filled candidate.
func (theRouter *Router) GetResolve(response http.ResponseWriter, request *http.Request) {
	shortPath := chi.URLParam(request, "shortPath")

	target, found, err := theRouter.svc.Resolve(request.Context(), shortPath)
	if err != nil {
		theRouter.writeError(response, auth.ActorFromContext(request.Context()), err)

		return
	}
	if !found {
		http.Redirect(
			response,
			request,
			"/create?shortlink="+url.QueryEscape(shortPath),
			http.StatusFound,
		)

		return
	}

	http.Redirect(response, request, target, http.StatusFound)
}

// GetCreateLink echoes the pre-filled candidate path of the create flow.
func (theRouter *Router) GetCreateLink(response http.ResponseWriter, request *http.Request) {
	writeJSON(response, models.CreateLinkRequest{
		ShortPath: request.URL.Query().Get("shortlink"),
	})
}

// PostCreateLink registers a new link owned by the acting user. The
// candidate path may come from the form or from the `shortlink` query
// parameter the resolve-miss redirect carries.
func (theRouter *Router) PostCreateLink(response http.ResponseWriter, request *http.Request) {
	actor := auth.ActorFromContext(request.Context())

	shortPath := request.URL.Query().Get("shortlink")
	if formShortPath := request.PostFormValue("short_path"); formShortPath != "" {
		shortPath = formShortPath
	}
	targetURL := request.PostFormValue("target_url")

	link, err := theRouter.svc.CreateLink(request.Context(), actor, shortPath, targetURL)
	if err != nil {
		theRouter.writeError(response, actor, err)

		return
	}

	response.WriteHeader(http.StatusCreated)
	writeJSON(response, link)
}

// GetEditLink returns the current state of the link for the edit flow.
func (theRouter *Router) GetEditLink(response http.ResponseWriter, request *http.Request) {
	actor := auth.ActorFromContext(request.Context())
	shortPath := chi.URLParam(request, "shortPath")

	target, found, err := theRouter.svc.Resolve(request.Context(), shortPath)
	if err != nil {
		theRouter.writeError(response, actor, err)

		return
	}
	if !found {
		http.Error(response, "link not found", http.StatusNotFound)

		return
	}

	writeJSON(response, models.Link{ShortPath: shortPath, TargetURL: target})
}

// PostEditLink replaces the target URL of the link.
func (theRouter *Router) PostEditLink(response http.ResponseWriter, request *http.Request) {
	actor := auth.ActorFromContext(request.Context())
	shortPath := chi.URLParam(request, "shortPath")

	link, err := theRouter.svc.EditLink(request.Context(), actor, shortPath, request.PostFormValue("target_url"))
	if err != nil {
		theRouter.writeError(response, actor, err)

		return
	}

	writeJSON(response, link)
}

// PostDeleteLink removes the link.
func (theRouter *Router) PostDeleteLink(response http.ResponseWriter, request *http.Request) {
	actor := auth.ActorFromContext(request.Context())

	err := theRouter.svc.DeleteLink(request.Context(), actor, chi.URLParam(request, "shortPath"))
	if err != nil {
		theRouter.writeError(response, actor, err)

		return
	}

	response.WriteHeader(http.StatusNoContent)
}

func pageFromQuery(request *http.Request) int {
	page := 1
	if raw := request.URL.Query().Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return 0
		}
		page = parsed
	}

	return page
}

// GetLinks lists links. `user_only` defaults to true, matching the original
// behavior of the links page; `q` filters by substring, `page` paginates.
func (theRouter *Router) GetLinks(response http.ResponseWriter, request *http.Request) {
	actor := auth.ActorFromContext(request.Context())

	scope := models.ScopeMine
	if request.URL.Query().Get("user_only") == "false" {
		scope = models.ScopeAll
	}

	page, err := theRouter.svc.ListLinks(
		request.Context(),
		actor,
		scope,
		request.URL.Query().Get("q"),
		pageFromQuery(request),
	)
	if err != nil {
		theRouter.writeError(response, actor, err)

		return
	}

	writeJSON(response, page)
}

// GetUsers lists users, admin only.
func (theRouter *Router) GetUsers(response http.ResponseWriter, request *http.Request) {
	actor := auth.ActorFromContext(request.Context())

	page, err := theRouter.svc.ListUsers(request.Context(), actor, pageFromQuery(request))
	if err != nil {
		theRouter.writeError(response, actor, err)

		return
	}

	writeJSON(response, page)
}

// PostUsers creates a user on behalf of an admin; the `is_admin` checkbox
// grants the flag explicitly.
func (theRouter *Router) PostUsers(response http.ResponseWriter, request *http.Request) {
	actor := auth.ActorFromContext(request.Context())

	passwordHash, err := hashFormPassword(request)
	if err != nil {
		theRouter.writeError(response, actor, err)

		return
	}

	created, err := theRouter.svc.CreateUserAsAdmin(
		request.Context(),
		actor,
		request.PostFormValue("username"),
		passwordHash,
		request.PostFormValue("is_admin") == "on",
	)
	if err != nil {
		theRouter.writeError(response, actor, err)

		return
	}

	response.WriteHeader(http.StatusCreated)
	writeJSON(response, created)
}

// PostDeleteUser removes the target account and their links.
func (theRouter *Router) PostDeleteUser(response http.ResponseWriter, request *http.Request) {
	actor := auth.ActorFromContext(request.Context())

	err := theRouter.svc.DeleteUser(request.Context(), actor, chi.URLParam(request, "userID"))
	if err != nil {
		theRouter.writeError(response, actor, err)

		return
	}

	response.WriteHeader(http.StatusNoContent)
}

// PostToggleAdmin flips the target account's admin flag.
func (theRouter *Router) PostToggleAdmin(response http.ResponseWriter, request *http.Request) {
	actor := auth.ActorFromContext(request.Context())

	updated, err := theRouter.svc.ToggleAdmin(request.Context(), actor, chi.URLParam(request, "userID"))
	if err != nil {
		theRouter.writeError(response, actor, err)

		return
	}

	writeJSON(response, updated)
}

// GetLogin is the login flow entry point. Rendering is the client's
// concern; authenticated visitors are sent to their links.
func (theRouter *Router) GetLogin(response http.ResponseWriter, request *http.Request) {
	if auth.ActorFromContext(request.Context()).IsAuthenticated {
		http.Redirect(response, request, "/links", http.StatusFound)

		return
	}

	writeJSON(response, struct{}{})
}

// GetRegister is the registration flow entry point.
func (theRouter *Router) GetRegister(response http.ResponseWriter, request *http.Request) {
	writeJSON(response, struct{}{})
}

// PostRegister self-registers an account and redirects to the login flow.
func (theRouter *Router) PostRegister(response http.ResponseWriter, request *http.Request) {
	actor := auth.ActorFromContext(request.Context())

	passwordHash, err := hashFormPassword(request)
	if err != nil {
		theRouter.writeError(response, actor, err)

		return
	}

	_, err = theRouter.svc.RegisterUser(request.Context(), request.PostFormValue("username"), passwordHash)
	if err != nil {
		theRouter.writeError(response, actor, err)

		return
	}

	http.Redirect(response, request, "/login", http.StatusFound)
}

// PostLogin verifies the credentials and starts a session.
func (theRouter *Router) PostLogin(response http.ResponseWriter, request *http.Request) {
	usr, err := theRouter.auth.Login(
		request.Context(),
		request.PostFormValue("username"),
		request.PostFormValue("password"),
	)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			http.Error(response, err.Error(), http.StatusUnauthorized)

			return
		}
		theRouter.writeError(response, auth.ActorFromContext(request.Context()), err)

		return
	}

	if err := theRouter.auth.StartSession(response, usr); err != nil {
		theRouter.writeError(response, usr.AsActor(), err)

		return
	}

	http.Redirect(response, request, "/links", http.StatusFound)
}

// GetLogout ends the session.
func (theRouter *Router) GetLogout(response http.ResponseWriter, request *http.Request) {
	theRouter.auth.EndSession(response)
	http.Redirect(response, request, "/", http.StatusFound)
}

// GetPing checks the health of the storage layer.
func (theRouter *Router) GetPing(response http.ResponseWriter, request *http.Request) {
	if err := theRouter.svc.Ping(request.Context()); err != nil {
		theRouter.writeError(response, auth.ActorFromContext(request.Context()), err)

		return
	}

	response.WriteHeader(http.StatusOK)
}

// GetInternalStats serves the directory totals to callers inside the
// trusted subnet only.
func (theRouter *Router) GetInternalStats(response http.ResponseWriter, request *http.Request) {
	if theRouter.ipChecker.IsTrustedSubnetEmpty() {
		response.WriteHeader(http.StatusForbidden)

		return
	}

	clientIP, err := theRouter.ipChecker.GetClientIP(request)
	if err != nil || !theRouter.ipChecker.Check(clientIP) {
		response.WriteHeader(http.StatusForbidden)

		return
	}

	stats, err := theRouter.svc.Stats(request.Context())
	if err != nil {
		theRouter.writeError(response, auth.ActorFromContext(request.Context()), err)

		return
	}

	writeJSON(response, stats)
}

// hashFormPassword hashes the `password` form field. An empty password is
// passed through empty so the core reports the missing field.
func hashFormPassword(request *http.Request) (string, error) {
	password := request.PostFormValue("password")
	if password == "" {
		return "", nil
	}

	return auth.HashPassword(password)
}
