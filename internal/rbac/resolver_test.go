package rbac

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubSource struct {
	mu           sync.Mutex
	sess         *Session
	sessErr      error
	ch           chan AuthEvent
	unsubscribed bool
}

func newStubSource(sess *Session) *stubSource {
	return &stubSource{sess: sess, ch: make(chan AuthEvent, 8)}
}

func (s *stubSource) CurrentSession(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess, s.sessErr
}

func (s *stubSource) Subscribe() (<-chan AuthEvent, func()) {
	return s.ch, func() {
		s.mu.Lock()
		s.unsubscribed = true
		s.mu.Unlock()
	}
}

type stubProfiles struct {
	mu    sync.Mutex
	roles map[string]string
	err   error
	calls int
}

func (p *stubProfiles) RoleByUserID(ctx context.Context, userID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return p.roles[userID], nil
}

type memCache struct {
	mu  sync.Mutex
	val string
	set bool
}

func (c *memCache) Get(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.set {
		return "", ErrCacheMiss
	}
	return c.val, nil
}

func (c *memCache) Set(ctx context.Context, role string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.val, c.set = role, true
	return nil
}

func (c *memCache) Del(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.val, c.set = "", false
	return nil
}

func (c *memCache) snapshot() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.val, c.set
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startResolver(t *testing.T, cfg ResolverConfig) *Resolver {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	r := NewResolver(cfg)
	r.Start(context.Background())
	t.Cleanup(r.Stop)
	select {
	case <-r.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("resolver never became ready")
	}
	return r
}

func TestResolverColdStartAnonymous(t *testing.T) {
	source := newStubSource(nil)
	r := startResolver(t, ResolverConfig{
		Sessions: source,
		Profiles: &stubProfiles{},
		Cache:    &memCache{},
	})

	state := r.Snapshot()
	require.False(t, state.IsLoading)
	require.Equal(t, RoleTester, state.Role)
	require.True(t, state.IsTester)
	require.Nil(t, state.User)
	require.Nil(t, state.Session)

	// The display role holds capabilities, but without an identity every
	// check is denied.
	require.False(t, r.Can(ActionCreateBugs))
	require.False(t, r.Can(ActionViewCreatedBugs))
}

func TestResolverDevModeMockIdentity(t *testing.T) {
	source := newStubSource(nil)
	r := startResolver(t, ResolverConfig{
		Sessions: source,
		Profiles: &stubProfiles{},
		Cache:    &memCache{},
		DevMode:  true,
	})

	state := r.Snapshot()
	require.Equal(t, RoleAdmin, state.Role)
	require.True(t, state.IsAdmin)
	require.Nil(t, state.User)

	// The unauthenticated gate is skipped in dev mode.
	require.True(t, r.Can(ActionDeleteUser))
}

func TestResolverDevModeCustomMockRole(t *testing.T) {
	source := newStubSource(nil)
	r := startResolver(t, ResolverConfig{
		Sessions: source,
		Profiles: &stubProfiles{},
		DevMode:  true,
		MockRole: RoleDeveloper,
	})

	require.Equal(t, RoleDeveloper, r.Snapshot().Role)
	require.True(t, r.Can(ActionFinishBug))
	require.False(t, r.Can(ActionCreateBugs))
}

func TestResolverCachedRoleFastPath(t *testing.T) {
	cache := &memCache{}
	require.NoError(t, cache.Set(context.Background(), "Project Manager"))

	source := newStubSource(nil)
	r := startResolver(t, ResolverConfig{
		Sessions: source,
		Profiles: &stubProfiles{},
		Cache:    cache,
	})

	state := r.Snapshot()
	require.Equal(t, RoleProjectManager, state.Role)
	require.True(t, state.IsProjectManager)
	// Cached role is display-only without an identity.
	require.False(t, r.Can(ActionViewAnalytics))
}

func TestResolverCorruptCacheIgnored(t *testing.T) {
	cache := &memCache{}
	require.NoError(t, cache.Set(context.Background(), "Super Admin"))

	source := newStubSource(nil)
	r := startResolver(t, ResolverConfig{
		Sessions: source,
		Profiles: &stubProfiles{},
		Cache:    cache,
	})

	require.Equal(t, RoleTester, r.Snapshot().Role)
}

func TestResolverSessionAtStartup(t *testing.T) {
	sess := &Session{Token: "tok", User: Identity{ID: "u1", Email: "a@b.c", Name: "Ana"}}
	cache := &memCache{}
	r := startResolver(t, ResolverConfig{
		Sessions: newStubSource(sess),
		Profiles: &stubProfiles{roles: map[string]string{"u1": "Developer"}},
		Cache:    cache,
	})

	state := r.Snapshot()
	require.Equal(t, RoleDeveloper, state.Role)
	require.NotNil(t, state.User)
	require.Equal(t, "u1", state.User.ID)
	require.True(t, r.Can(ActionFinishBug))
	require.False(t, r.Can(ActionCreateBugs))

	val, set := cache.snapshot()
	require.True(t, set)
	require.Equal(t, "Developer", val)
}

func TestResolverSignedInEvent(t *testing.T) {
	source := newStubSource(nil)
	cache := &memCache{}
	r := startResolver(t, ResolverConfig{
		Sessions: source,
		Profiles: &stubProfiles{roles: map[string]string{"u1": "Admin"}},
		Cache:    cache,
	})

	require.False(t, r.Snapshot().IsAdmin)

	source.ch <- AuthEvent{
		Kind:    AuthSignedIn,
		Session: &Session{Token: "tok", User: Identity{ID: "u1", Name: "Ana"}},
	}

	require.Eventually(t, func() bool {
		return r.Snapshot().IsAdmin
	}, 2*time.Second, 10*time.Millisecond)

	require.True(t, r.Can(ActionDeleteUser))
	val, set := cache.snapshot()
	require.True(t, set)
	require.Equal(t, "Admin", val)
}

func TestResolverSignedOutEvent(t *testing.T) {
	sess := &Session{Token: "tok", User: Identity{ID: "u1"}}
	source := newStubSource(sess)
	cache := &memCache{}
	r := startResolver(t, ResolverConfig{
		Sessions: source,
		Profiles: &stubProfiles{roles: map[string]string{"u1": "Admin"}},
		Cache:    cache,
	})

	require.True(t, r.Snapshot().IsAdmin)

	source.ch <- AuthEvent{Kind: AuthSignedOut, Session: sess}

	require.Eventually(t, func() bool {
		state := r.Snapshot()
		return state.Role == RoleTester && state.User == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.False(t, r.Can(ActionDeleteUser))
	_, set := cache.snapshot()
	require.False(t, set)
}

func TestResolverLookupFailureKeepsLastKnownRole(t *testing.T) {
	sess := &Session{Token: "tok", User: Identity{ID: "u1"}}
	source := newStubSource(sess)
	profiles := &stubProfiles{roles: map[string]string{"u1": "Project Manager"}}
	r := startResolver(t, ResolverConfig{
		Sessions: source,
		Profiles: profiles,
		Cache:    &memCache{},
	})

	require.True(t, r.Snapshot().IsProjectManager)

	profiles.mu.Lock()
	profiles.err = errors.New("backend down")
	before := profiles.calls
	profiles.mu.Unlock()

	source.ch <- AuthEvent{Kind: AuthSignedIn, Session: sess}

	require.Eventually(t, func() bool {
		profiles.mu.Lock()
		defer profiles.mu.Unlock()
		return profiles.calls > before
	}, 2*time.Second, 10*time.Millisecond)

	state := r.Snapshot()
	require.Equal(t, RoleProjectManager, state.Role)
	require.NotNil(t, state.User)
}

func TestResolverUnparseableProfileRoleKept(t *testing.T) {
	sess := &Session{Token: "tok", User: Identity{ID: "u1"}}
	source := newStubSource(sess)
	profiles := &stubProfiles{roles: map[string]string{"u1": "Wizard"}}
	r := startResolver(t, ResolverConfig{
		Sessions: source,
		Profiles: profiles,
		Cache:    &memCache{},
	})

	// The bad value never replaces the default role.
	require.Equal(t, RoleTester, r.Snapshot().Role)
}

func TestResolverStopDiscardsLaterEvents(t *testing.T) {
	source := newStubSource(nil)
	profiles := &stubProfiles{roles: map[string]string{"u1": "Admin"}}
	r := startResolver(t, ResolverConfig{
		Sessions: source,
		Profiles: profiles,
		Cache:    &memCache{},
	})

	r.Stop()

	source.mu.Lock()
	require.True(t, source.unsubscribed)
	source.mu.Unlock()

	select {
	case source.ch <- AuthEvent{
		Kind:    AuthSignedIn,
		Session: &Session{Token: "tok", User: Identity{ID: "u1"}},
	}:
	default:
	}

	time.Sleep(50 * time.Millisecond)
	require.False(t, r.Snapshot().IsAdmin)
}

func TestResolverStartStopIdempotent(t *testing.T) {
	source := newStubSource(nil)
	r := NewResolver(ResolverConfig{
		Sessions: source,
		Profiles: &stubProfiles{},
		Logger:   testLogger(),
	})
	r.Start(context.Background())
	r.Start(context.Background())
	<-r.Ready()
	r.Stop()
	r.Stop()
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	r := NewResolver(ResolverConfig{
		Sessions: newStubSource(nil),
		Profiles: &stubProfiles{},
		Logger:   testLogger(),
	})

	finished := make(chan struct{})
	go func() {
		r.Stop()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked without a prior Start")
	}
}
