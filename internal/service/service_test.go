package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvoronova/golinks/internal/db/memorystorage"
	"github.com/mvoronova/golinks/internal/models"
	"github.com/mvoronova/golinks/internal/user"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	theStorage, err := memorystorage.New()
	require.NoError(t, err)

	return New(theStorage)
}

func registerActor(t *testing.T, svc *Service, username string) user.Actor {
	t.Helper()

	usr, err := svc.RegisterUser(context.Background(), username, "hash-"+username)
	require.NoError(t, err)

	return usr.AsActor()
}

func TestCreateThenResolve(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	actor := registerActor(t, svc, "alice")

	link, err := svc.CreateLink(ctx, actor, "wiki", "https://wiki.example.com")
	require.NoError(t, err)
	assert.Equal(t, actor.ID, link.OwnerID)

	target, found, err := svc.Resolve(ctx, "wiki")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "https://wiki.example.com", target)
}

func TestResolveMissIsNotAnError(t *testing.T) {
	svc := newTestService(t)

	target, found, err := svc.Resolve(context.Background(), "undefined")
	require.NoError(t, err, "an undefined alias is the entry point for defining it, not a failure")
	assert.False(t, found)
	assert.Empty(t, target)
}

func TestResolveIsCaseSensitiveAndExact(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	actor := registerActor(t, svc, "alice")

	_, err := svc.CreateLink(ctx, actor, "Wiki", "https://wiki.example.com")
	require.NoError(t, err)

	_, found, err := svc.Resolve(ctx, "wiki")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = svc.Resolve(ctx, "Wik")
	require.NoError(t, err)
	assert.False(t, found, "no prefix resolution")
}

func TestCreateLinkValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	actor := registerActor(t, svc, "alice")

	testCases := []struct {
		name      string
		shortPath string
		targetURL string
	}{
		{name: "empty short path", shortPath: "", targetURL: "https://example.com"},
		{name: "empty target URL", shortPath: "wiki", targetURL: ""},
		{name: "no scheme", shortPath: "wiki", targetURL: "example.com"},
		{name: "no host", shortPath: "wiki", targetURL: "http://"},
		{name: "scheme only https", shortPath: "wiki", targetURL: "https://"},
		{name: "plain text", shortPath: "wiki", targetURL: "not_a_url"},
		{name: "scheme without name", shortPath: "wiki", targetURL: "://example.com"},
		{name: "opaque scheme", shortPath: "wiki", targetURL: "javascript:alert(1)"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := svc.CreateLink(ctx, actor, testCase.shortPath, testCase.targetURL)
			assert.True(t, errors.Is(err, models.ErrValidation), "expected a validation rejection, got: %v", err)
		})
	}

	t.Run("valid absolute URLs pass", func(t *testing.T) {
		for i, validURL := range []string{
			"http://example.com",
			"https://sub.example.com/path?query=value",
			"http://localhost:8080",
			"http://192.168.1.1",
			"http://[::1]",
		} {
			_, err := svc.CreateLink(ctx, actor, fmt.Sprintf("valid%d", i), validURL)
			assert.NoError(t, err, "URL should be valid: %s", validURL)
		}
	})
}

func TestCreateLinkAnonymousIsForbidden(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateLink(context.Background(), user.Anonymous(), "wiki", "https://example.com")
	assert.True(t, errors.Is(err, models.ErrForbidden))
}

func TestCreateLinkConflictKeepsFirstWriter(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	alice := registerActor(t, svc, "alice")
	bob := registerActor(t, svc, "bob")

	_, err := svc.CreateLink(ctx, alice, "wiki", "https://first.example.com")
	require.NoError(t, err)

	_, err = svc.CreateLink(ctx, bob, "wiki", "https://second.example.com")
	assert.True(t, errors.Is(err, models.ErrConflict))

	target, found, err := svc.Resolve(ctx, "wiki")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "https://first.example.com", target, "the first writer's target must be unchanged")
}

func TestCreateLinkMalformedURLReportedBeforeConflict(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	actor := registerActor(t, svc, "alice")

	_, err := svc.CreateLink(ctx, actor, "wiki", "https://example.com")
	require.NoError(t, err)

	// Taken path plus malformed URL must still report the malformed URL.
	_, err = svc.CreateLink(ctx, actor, "wiki", "example.com")
	assert.True(t, errors.Is(err, models.ErrValidation))
	assert.False(t, errors.Is(err, models.ErrConflict))
}

func TestEditLink(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	owner := registerActor(t, svc, "owner")
	stranger := registerActor(t, svc, "stranger")

	_, err := svc.CreateLink(ctx, owner, "wiki", "https://old.example.com")
	require.NoError(t, err)

	_, err = svc.EditLink(ctx, owner, "missing", "https://new.example.com")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	_, err = svc.EditLink(ctx, stranger, "wiki", "https://new.example.com")
	assert.True(t, errors.Is(err, models.ErrForbidden))

	_, err = svc.EditLink(ctx, owner, "wiki", "no-scheme.example.com")
	assert.True(t, errors.Is(err, models.ErrValidation))

	link, err := svc.EditLink(ctx, owner, "wiki", "https://new.example.com")
	require.NoError(t, err)
	assert.Equal(t, "wiki", link.ShortPath, "short path is immutable")
	assert.Equal(t, owner.ID, link.OwnerID, "owner is immutable")

	target, _, err := svc.Resolve(ctx, "wiki")
	require.NoError(t, err)
	assert.Equal(t, "https://new.example.com", target)
}

func TestAdminOverridesOwnershipOnMutation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	admin := registerActor(t, svc, "first-is-admin")
	owner := registerActor(t, svc, "owner")

	_, err := svc.CreateLink(ctx, owner, "wiki", "https://example.com")
	require.NoError(t, err)

	_, err = svc.EditLink(ctx, admin, "wiki", "https://admin-updated.example.com")
	require.NoError(t, err)

	err = svc.DeleteLink(ctx, admin, "wiki")
	require.NoError(t, err)

	_, found, err := svc.Resolve(ctx, "wiki")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDeleteLinkGates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_ = registerActor(t, svc, "first-is-admin")
	owner := registerActor(t, svc, "owner")
	stranger := registerActor(t, svc, "stranger")

	_, err := svc.CreateLink(ctx, owner, "wiki", "https://example.com")
	require.NoError(t, err)

	err = svc.DeleteLink(ctx, owner, "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	err = svc.DeleteLink(ctx, stranger, "wiki")
	assert.True(t, errors.Is(err, models.ErrForbidden))

	err = svc.DeleteLink(ctx, owner, "wiki")
	require.NoError(t, err)
}

func TestBootstrapAdminRule(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.RegisterUser(ctx, "first", "hash")
	require.NoError(t, err)
	assert.True(t, first.IsAdmin, "the very first user is granted admin")

	second, err := svc.RegisterUser(ctx, "second", "hash")
	require.NoError(t, err)
	assert.False(t, second.IsAdmin, "every subsequent user starts as non-admin")

	third, err := svc.RegisterUser(ctx, "third", "hash")
	require.NoError(t, err)
	assert.False(t, third.IsAdmin)
}

func TestBootstrapAdminUnderConcurrentRegistration(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	const registrations = 16

	start := make(chan struct{})
	results := make(chan bool, registrations)
	errs := make(chan error, registrations)

	var wg sync.WaitGroup
	for i := 0; i < registrations; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start

			usr, err := svc.RegisterUser(ctx, fmt.Sprintf("user%02d", i), "hash")
			if err != nil {
				errs <- err
				return
			}
			results <- usr.IsAdmin
		}(i)
	}
	close(start)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	admins := 0
	for isAdmin := range results {
		if isAdmin {
			admins++
		}
	}
	assert.Equal(t, 1, admins, "exactly one concurrent registration may claim the bootstrap admin flag")
}

func TestRegisterUserConflict(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.RegisterUser(ctx, "alice", "hash")
	require.NoError(t, err)

	_, err = svc.RegisterUser(ctx, "alice", "other-hash")
	assert.True(t, errors.Is(err, models.ErrConflict))

	_, err = svc.RegisterUser(ctx, "", "hash")
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestCreateUserAsAdmin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	admin := registerActor(t, svc, "admin")
	regular := registerActor(t, svc, "regular")

	created, err := svc.CreateUserAsAdmin(ctx, admin, "newadmin", "hash", true)
	require.NoError(t, err)
	assert.True(t, created.IsAdmin, "admin may grant the flag explicitly")

	created, err = svc.CreateUserAsAdmin(ctx, admin, "newuser", "hash", false)
	require.NoError(t, err)
	assert.False(t, created.IsAdmin)

	_, err = svc.CreateUserAsAdmin(ctx, regular, "nope", "hash", false)
	assert.True(t, errors.Is(err, models.ErrForbidden))

	_, err = svc.CreateUserAsAdmin(ctx, admin, "newuser", "hash", false)
	assert.True(t, errors.Is(err, models.ErrConflict))
}

func TestSelfActionsAlwaysFail(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	admin := registerActor(t, svc, "admin")

	_, err := svc.ToggleAdmin(ctx, admin, admin.ID)
	assert.True(t, errors.Is(err, models.ErrSelfAction), "an admin may never toggle their own flag")

	err = svc.DeleteUser(ctx, admin, admin.ID)
	assert.True(t, errors.Is(err, models.ErrSelfAction), "an admin may never delete their own account")
}

func TestToggleAdmin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	admin := registerActor(t, svc, "admin")
	target := registerActor(t, svc, "target")
	regular := registerActor(t, svc, "regular")

	_, err := svc.ToggleAdmin(ctx, regular, target.ID)
	assert.True(t, errors.Is(err, models.ErrForbidden))

	_, err = svc.ToggleAdmin(ctx, admin, "no-such-user")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	updated, err := svc.ToggleAdmin(ctx, admin, target.ID)
	require.NoError(t, err)
	assert.True(t, updated.IsAdmin)

	updated, err = svc.ToggleAdmin(ctx, admin, target.ID)
	require.NoError(t, err)
	assert.False(t, updated.IsAdmin, "a second toggle flips the flag back")
}

func TestDeleteUserCascadesToLinks(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	admin := registerActor(t, svc, "admin")
	target := registerActor(t, svc, "target")

	_, err := svc.CreateLink(ctx, target, "theirs", "https://example.com")
	require.NoError(t, err)

	err = svc.DeleteUser(ctx, admin, "no-such-user")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	err = svc.DeleteUser(ctx, admin, target.ID)
	require.NoError(t, err)

	_, found, err := svc.Resolve(ctx, "theirs")
	require.NoError(t, err)
	assert.False(t, found, "the deleted user's links go with them")
}

func TestListLinksSearch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	actor := registerActor(t, svc, "alice")

	for shortPath, target := range map[string]string{
		"test1":  "https://a.example.com",
		"other":  "https://b.example.com",
		"mytest": "https://c.example.com",
	} {
		_, err := svc.CreateLink(ctx, actor, shortPath, target)
		require.NoError(t, err)
	}

	page, err := svc.ListLinks(ctx, actor, models.ScopeAll, "test", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	require.Len(t, page.Links, 2)
	assert.Equal(t, "mytest", page.Links[0].ShortPath)
	assert.Equal(t, "test1", page.Links[1].ShortPath)

	// The query also matches target URLs.
	page, err = svc.ListLinks(ctx, actor, models.ScopeAll, "b.example", 1)
	require.NoError(t, err)
	require.Len(t, page.Links, 1)
	assert.Equal(t, "other", page.Links[0].ShortPath)
}

func TestListLinksScope(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	alice := registerActor(t, svc, "alice")
	bob := registerActor(t, svc, "bob")

	_, err := svc.CreateLink(ctx, alice, "alices", "https://a.example.com")
	require.NoError(t, err)
	_, err = svc.CreateLink(ctx, bob, "bobs", "https://b.example.com")
	require.NoError(t, err)

	page, err := svc.ListLinks(ctx, alice, models.ScopeMine, "", 1)
	require.NoError(t, err)
	require.Len(t, page.Links, 1)
	assert.Equal(t, "alices", page.Links[0].ShortPath)

	page, err = svc.ListLinks(ctx, alice, models.ScopeAll, "", 1)
	require.NoError(t, err)
	assert.Len(t, page.Links, 2)

	_, err = svc.ListLinks(ctx, user.Anonymous(), models.ScopeMine, "", 1)
	assert.True(t, errors.Is(err, models.ErrForbidden))
}

func TestListLinksPagination(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	actor := registerActor(t, svc, "alice")

	for i := 0; i < 15; i++ {
		_, err := svc.CreateLink(ctx, actor, fmt.Sprintf("link%02d", i), "https://example.com")
		require.NoError(t, err)
	}

	page, err := svc.ListLinks(ctx, actor, models.ScopeAll, "", 1)
	require.NoError(t, err)
	assert.Len(t, page.Links, 10)
	assert.Equal(t, int64(15), page.Total)

	page, err = svc.ListLinks(ctx, actor, models.ScopeAll, "", 2)
	require.NoError(t, err)
	assert.Len(t, page.Links, 5)

	page, err = svc.ListLinks(ctx, actor, models.ScopeAll, "", 3)
	require.NoError(t, err)
	assert.Empty(t, page.Links, "a page beyond the last returns empty, not an error")

	page, err = svc.ListLinks(ctx, actor, models.ScopeAll, "", 0)
	require.NoError(t, err)
	assert.Empty(t, page.Links, "a page below 1 returns empty, not an error")
}

func TestListUsers(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	admin := registerActor(t, svc, "admin")
	regular := registerActor(t, svc, "bob")
	_ = registerActor(t, svc, "alice")

	_, err := svc.ListUsers(ctx, regular, 1)
	assert.True(t, errors.Is(err, models.ErrForbidden))

	page, err := svc.ListUsers(ctx, admin, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Users, 3)
	assert.Equal(t, "admin", page.Users[0].Username, "users are ordered ascending by username")
	assert.Equal(t, "alice", page.Users[1].Username)
	assert.Equal(t, "bob", page.Users[2].Username)
}

func TestStats(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	actor := registerActor(t, svc, "alice")

	_, err := svc.CreateLink(ctx, actor, "wiki", "https://example.com")
	require.NoError(t, err)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Links)
	assert.Equal(t, int64(1), stats.Users)
}
