package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bugtrail/bugtrail/internal/shared"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func requestWithUser(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess := &shared.Session{ID: "sess-1"}
	sess.SetUser(userID)
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

type cacheFactory struct {
	mu     sync.Mutex
	caches map[string]*memCache
}

func newCacheFactory() *cacheFactory {
	return &cacheFactory{caches: make(map[string]*memCache)}
}

func (f *cacheFactory) factory() RoleCacheFactory {
	return func(userID string) RoleCache {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.caches[userID]; ok {
			return c
		}
		c := &memCache{}
		f.caches[userID] = c
		return c
	}
}

func TestRequireUnauthenticated(t *testing.T) {
	mw := Middleware{Profiles: &stubProfiles{}, Logger: testLogger()}
	handler := mw.WithPrincipal(mw.Require(Guard{Roles: []Role{RoleAdmin}})(okHandler()))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Unauthorized", body["title"])
}

func TestRequireDeniedIsGeneric(t *testing.T) {
	mw := Middleware{
		Profiles: &stubProfiles{roles: map[string]string{"u1": "Tester"}},
		Logger:   testLogger(),
	}
	handler := mw.WithPrincipal(mw.RequireRoles(RoleAdmin)(okHandler()))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithUser("u1"))

	require.Equal(t, http.StatusForbidden, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Access Denied", body["title"])
	require.Equal(t, "You don't have permission to view this content.", body["detail"])
	// The body never names the missing role or permission.
	require.NotContains(t, rec.Body.String(), "Admin")
}

func TestRequirePermitted(t *testing.T) {
	mw := Middleware{
		Profiles: &stubProfiles{roles: map[string]string{"u1": "Developer"}},
		Logger:   testLogger(),
	}
	handler := mw.WithPrincipal(mw.RequirePermissions(ActionFinishBug)(okHandler()))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithUser("u1"))

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWithPrincipalAttachesRole(t *testing.T) {
	mw := Middleware{
		Profiles: &stubProfiles{roles: map[string]string{"u1": "Project Manager"}},
		Logger:   testLogger(),
	}

	var seen Principal
	handler := mw.WithPrincipal(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFromContext(r.Context())
	}))
	handler.ServeHTTP(httptest.NewRecorder(), requestWithUser("u1"))

	require.Equal(t, "u1", seen.UserID)
	require.Equal(t, RoleProjectManager, seen.Role)
	require.True(t, seen.Can(ActionViewAnalytics))
	require.False(t, seen.Can(ActionCreateBugs))
}

func TestResolveRoleCacheFastPath(t *testing.T) {
	caches := newCacheFactory()
	require.NoError(t, caches.factory()("u1").Set(context.Background(), "Admin"))

	profiles := &stubProfiles{err: errors.New("backend down")}
	mw := Middleware{Profiles: profiles, Cache: caches.factory(), Logger: testLogger()}

	role := mw.resolveRole(context.Background(), "u1")
	require.Equal(t, RoleAdmin, role)
	profiles.mu.Lock()
	require.Zero(t, profiles.calls)
	profiles.mu.Unlock()
}

func TestResolveRolePrimesCache(t *testing.T) {
	caches := newCacheFactory()
	profiles := &stubProfiles{roles: map[string]string{"u1": "Developer"}}
	mw := Middleware{Profiles: profiles, Cache: caches.factory(), Logger: testLogger()}

	role := mw.resolveRole(context.Background(), "u1")
	require.Equal(t, RoleDeveloper, role)

	val, set := caches.caches["u1"].snapshot()
	require.True(t, set)
	require.Equal(t, "Developer", val)
}

func TestResolveRoleFallsBackToDefault(t *testing.T) {
	mw := Middleware{Profiles: &stubProfiles{err: errors.New("down")}, Logger: testLogger()}
	require.Equal(t, DefaultRole, mw.resolveRole(context.Background(), "u1"))

	mw = Middleware{Profiles: &stubProfiles{roles: map[string]string{"u1": "Wizard"}}, Logger: testLogger()}
	require.Equal(t, DefaultRole, mw.resolveRole(context.Background(), "u1"))
}
