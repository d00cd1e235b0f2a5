package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/bugtrail/bugtrail/internal/rbac"
	"github.com/bugtrail/bugtrail/internal/shared"
	_ "github.com/bugtrail/bugtrail/testing"
)

type fakeAuthRepo struct {
	users    map[string]*User
	roles    map[string]string
	sessions map[string]string
}

func newFakeAuthRepo() *fakeAuthRepo {
	return &fakeAuthRepo{
		users:    make(map[string]*User),
		roles:    make(map[string]string),
		sessions: make(map[string]string),
	}
}

func (r *fakeAuthRepo) FindByEmail(ctx context.Context, email string) (*User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, errors.New("no such user")
}

func (r *fakeAuthRepo) FindByID(ctx context.Context, id string) (*User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, errors.New("no such user")
	}
	return u, nil
}

func (r *fakeAuthRepo) CreateSession(ctx context.Context, id string, userID string, expiresAt time.Time, ip, ua string) error {
	r.sessions[id] = userID
	return nil
}

func (r *fakeAuthRepo) DeleteSession(ctx context.Context, id string) error {
	delete(r.sessions, id)
	return nil
}

func (r *fakeAuthRepo) RoleByUserID(ctx context.Context, userID string) (string, error) {
	role, ok := r.roles[userID]
	if !ok {
		return "", errors.New("no profile")
	}
	return role, nil
}

type handlerFixture struct {
	handler *Handler
	repo    *fakeAuthRepo
	client  *redis.Client
	bus     *Bus
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newFakeAuthRepo()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	repo.users["u1"] = &User{ID: "u1", Email: "ana@example.com", Name: "Ana", PasswordHash: string(hash), IsActive: true}
	repo.roles["u1"] = "Admin"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := shared.NewSessionManager(client, "bugtrail_session", time.Hour, false)
	csrf := shared.NewCSRFManager("test-secret")
	bus := NewBus()
	roleCache := rbac.RoleCacheFactory(func(userID string) rbac.RoleCache {
		return rbac.NewRedisRoleCache(client, userID, time.Hour)
	})

	return &handlerFixture{
		handler: NewHandler(logger, NewService(repo), sessions, csrf, bus, roleCache),
		repo:    repo,
		client:  client,
		bus:     bus,
	}
}

func withSession(t *testing.T, req *http.Request, userID string) (*http.Request, *shared.Session) {
	t.Helper()
	sess := &shared.Session{ID: "sess-1"}
	if userID != "" {
		sess.SetUser(userID)
	}
	return req.WithContext(shared.ContextWithSession(req.Context(), sess)), sess
}

func TestLogin(t *testing.T) {
	f := newHandlerFixture(t)

	events, stop := f.bus.Subscribe()
	defer stop()

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"ana@example.com","password":"correct horse"}`))
	req, sess := withSession(t, req, "")

	rec := httptest.NewRecorder()
	f.handler.Login(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, true, resp["authenticated"])
	require.Equal(t, "Admin", resp["role"])
	require.Equal(t, true, resp["is_admin"])
	require.NotEmpty(t, resp["csrf_token"])

	require.Equal(t, "u1", sess.User())
	require.Equal(t, "u1", f.repo.sessions["sess-1"])

	cached, err := f.client.Get(context.Background(), "userRole:u1").Result()
	require.NoError(t, err)
	require.Equal(t, "Admin", cached)

	ev := receiveEvent(t, events)
	require.Equal(t, rbac.AuthSignedIn, ev.Kind)
	require.Equal(t, "u1", ev.Session.User.ID)
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"ana@example.com","password":"wrong"}`))
	req, _ = withSession(t, req, "")

	rec := httptest.NewRecorder()
	f.handler.Login(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	// The body never says whether the account exists.
	require.NotContains(t, rec.Body.String(), "user")
}

func TestLoginValidation(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"not-an-email","password":""}`))
	req, _ = withSession(t, req, "")

	rec := httptest.NewRecorder()
	f.handler.Login(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginInactiveAccount(t *testing.T) {
	f := newHandlerFixture(t)
	f.repo.users["u1"].IsActive = false

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"ana@example.com","password":"correct horse"}`))
	req, _ = withSession(t, req, "")

	rec := httptest.NewRecorder()
	f.handler.Login(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout(t *testing.T) {
	f := newHandlerFixture(t)
	f.repo.sessions["sess-1"] = "u1"
	require.NoError(t, f.client.Set(context.Background(), "userRole:u1", "Admin", 0).Err())

	events, stop := f.bus.SubscribeUser("u1")
	defer stop()

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req, _ = withSession(t, req, "u1")

	rec := httptest.NewRecorder()
	f.handler.Logout(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotContains(t, f.repo.sessions, "sess-1")

	err := f.client.Get(context.Background(), "userRole:u1").Err()
	require.ErrorIs(t, err, redis.Nil)

	ev := receiveEvent(t, events)
	require.Equal(t, rbac.AuthSignedOut, ev.Kind)
}

func TestLogoutAnonymous(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req, _ = withSession(t, req, "")

	rec := httptest.NewRecorder()
	f.handler.Logout(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSessionAnonymous(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req, _ = withSession(t, req, "")

	rec := httptest.NewRecorder()
	f.handler.Session(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, false, resp["authenticated"])
	require.Nil(t, resp["user"])
	// Anonymous callers still see the default display role.
	require.Equal(t, "Tester", resp["role"])
	require.Equal(t, true, resp["is_tester"])
}

func TestSessionAuthenticated(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req, _ = withSession(t, req, "u1")

	rec := httptest.NewRecorder()
	f.handler.Session(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, true, resp["authenticated"])
	require.Equal(t, "Admin", resp["role"])
}

func TestSessionUnknownProfileRoleFallsBack(t *testing.T) {
	f := newHandlerFixture(t)
	f.repo.roles["u1"] = "Wizard"

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req, _ = withSession(t, req, "u1")

	rec := httptest.NewRecorder()
	f.handler.Session(rec, req)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Tester", resp["role"])
}
