package rbac

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Identity is the read-only view of the signed-in user exposed to consumers.
type Identity struct {
	ID    string
	Email string
	Name  string
}

// Session pairs an identity with its backend session token.
type Session struct {
	Token     string
	User      Identity
	ExpiresAt time.Time
}

// AuthEventKind enumerates auth-state-change notifications.
type AuthEventKind string

const (
	AuthSignedIn  AuthEventKind = "SIGNED_IN"
	AuthSignedOut AuthEventKind = "SIGNED_OUT"
)

// AuthEvent is published by the auth layer whenever the session state changes.
type AuthEvent struct {
	Kind    AuthEventKind
	Session *Session
}

// SessionSource exposes the current session and a change-notification stream.
type SessionSource interface {
	CurrentSession(ctx context.Context) (*Session, error)
	Subscribe() (events <-chan AuthEvent, unsubscribe func())
}

// ProfileStore looks up the authoritative role for a user.
type ProfileStore interface {
	RoleByUserID(ctx context.Context, userID string) (string, error)
}

// RoleCache persists the last resolved role so a restart can show the correct
// role before the profile lookup completes. Never authoritative.
type RoleCache interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, role string) error
	Del(ctx context.Context) error
}

// ErrCacheMiss is returned by RoleCache implementations when no role is stored.
var ErrCacheMiss = errors.New("rbac: role cache miss")

// State is a read-only snapshot of the resolver.
type State struct {
	Role             Role
	IsAdmin          bool
	IsProjectManager bool
	IsDeveloper      bool
	IsTester         bool
	IsLoading        bool
	User             *Identity
	Session          *Session
}

// ResolverConfig collects resolver dependencies.
type ResolverConfig struct {
	Sessions SessionSource
	Profiles ProfileStore
	Cache    RoleCache
	Logger   *slog.Logger

	// DevMode enables the offline mock identity fallback and disables the
	// unauthenticated deny gate. Must stay false in production.
	DevMode bool
	// MockRole is the role assumed in dev mode when neither a session nor a
	// cached role exists.
	MockRole Role
}

// Resolver maintains the current actor's role, keeps it synchronized with the
// auth layer, and answers Can checks. All state transitions run on a single
// goroutine fed by the auth event channel, so a notification is never handled
// inline on the publisher's stack and updates apply in arrival order.
type Resolver struct {
	cfg    ResolverConfig
	logger *slog.Logger

	mu    sync.RWMutex
	state State

	events      <-chan AuthEvent
	unsubscribe func()
	cancel      context.CancelFunc
	done        chan struct{}
	ready       chan struct{}
	started     atomic.Bool
	startOnce   sync.Once
	stopOnce    sync.Once
}

// NewResolver constructs a Resolver. Call Start before reading state.
func NewResolver(cfg ResolverConfig) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MockRole == RoleUnknown {
		cfg.MockRole = RoleAdmin
	}
	r := &Resolver{
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
		ready:  make(chan struct{}),
	}
	r.state = State{IsLoading: true}
	r.setRoleLocked(DefaultRole)
	return r
}

// Start subscribes to auth events and runs the initial resolution. It is safe
// to call once per resolver; subsequent calls are no-ops.
func (r *Resolver) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		r.cancel = cancel
		r.events, r.unsubscribe = r.cfg.Sessions.Subscribe()
		r.started.Store(true)
		go r.run(ctx)
	})
}

// Stop unsubscribes and halts the resolver goroutine. Events or lookup results
// arriving afterwards are discarded. Without a prior Start it is a no-op.
func (r *Resolver) Stop() {
	r.stopOnce.Do(func() {
		if !r.started.Load() {
			return
		}
		r.unsubscribe()
		r.cancel()
		<-r.done
	})
}

// Ready is closed once the initial resolution has completed and IsLoading has
// transitioned to false.
func (r *Resolver) Ready() <-chan struct{} {
	return r.ready
}

// Snapshot returns a copy of the current state.
func (r *Resolver) Snapshot() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Can reports whether the current actor may perform action. An actor with no
// authenticated identity is denied everything outside dev mode, regardless of
// the display role.
func (r *Resolver) Can(action Action) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state.User == nil && !r.cfg.DevMode {
		return false
	}
	return Can(r.state.Role, action)
}

func (r *Resolver) run(ctx context.Context) {
	defer close(r.done)

	r.resolveInitial(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.events:
			if !ok {
				return
			}
			r.handleEvent(ctx, ev)
		}
	}
}

// resolveInitial applies the fallback chain in priority order: cached role as
// the optimistic fast path, then the authoritative profile lookup when a
// session exists, then the dev-mode mock role when offline.
func (r *Resolver) resolveInitial(ctx context.Context) {
	defer func() {
		r.mu.Lock()
		r.state.IsLoading = false
		r.mu.Unlock()
		close(r.ready)
	}()

	cached := r.cachedRole(ctx)
	if cached != RoleUnknown {
		r.mu.Lock()
		r.setRoleLocked(cached)
		r.mu.Unlock()
	}

	sess, err := r.cfg.Sessions.CurrentSession(ctx)
	if err != nil {
		r.logger.Error("rbac: session check failed", slog.Any("error", err))
		return
	}

	if sess != nil {
		r.applySession(ctx, sess)
		return
	}

	if r.cfg.DevMode && cached == RoleUnknown {
		r.mu.Lock()
		r.setRoleLocked(r.cfg.MockRole)
		r.mu.Unlock()
	}
}

func (r *Resolver) handleEvent(ctx context.Context, ev AuthEvent) {
	switch ev.Kind {
	case AuthSignedIn:
		if ev.Session == nil {
			return
		}
		r.applySession(ctx, ev.Session)
	case AuthSignedOut:
		if r.cfg.Cache != nil {
			if err := r.cfg.Cache.Del(ctx); err != nil && !errors.Is(err, ErrCacheMiss) {
				r.logger.Warn("rbac: clear role cache", slog.Any("error", err))
			}
		}
		r.mu.Lock()
		r.state.User = nil
		r.state.Session = nil
		r.setRoleLocked(DefaultRole)
		r.mu.Unlock()
	}
}

// applySession records the session identity and refreshes the role from the
// profile store. Lookup failures keep the last-known-good role.
func (r *Resolver) applySession(ctx context.Context, sess *Session) {
	user := sess.User

	r.mu.Lock()
	r.state.Session = sess
	r.state.User = &user
	r.mu.Unlock()

	raw, err := r.cfg.Profiles.RoleByUserID(ctx, user.ID)
	if err != nil {
		r.logger.Error("rbac: profile lookup failed",
			slog.String("user_id", user.ID), slog.Any("error", err))
		return
	}
	role, ok := ParseRole(raw)
	if !ok {
		r.logger.Error("rbac: profile returned unrecognized role",
			slog.String("user_id", user.ID), slog.String("role", raw))
		return
	}

	r.mu.Lock()
	r.setRoleLocked(role)
	r.mu.Unlock()

	if r.cfg.Cache != nil {
		if err := r.cfg.Cache.Set(ctx, string(role)); err != nil {
			r.logger.Warn("rbac: persist role cache", slog.Any("error", err))
		}
	}
}

// cachedRole reads the role cache, treating corruption as a miss.
func (r *Resolver) cachedRole(ctx context.Context) Role {
	if r.cfg.Cache == nil {
		return RoleUnknown
	}
	raw, err := r.cfg.Cache.Get(ctx)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			r.logger.Warn("rbac: read role cache", slog.Any("error", err))
		}
		return RoleUnknown
	}
	role, ok := ParseRole(raw)
	if !ok {
		return RoleUnknown
	}
	return role
}

func (r *Resolver) setRoleLocked(role Role) {
	r.state.Role = role
	r.state.IsAdmin = role == RoleAdmin
	r.state.IsProjectManager = role == RoleProjectManager
	r.state.IsDeveloper = role == RoleDeveloper
	r.state.IsTester = role == RoleTester
}
