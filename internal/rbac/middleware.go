package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/bugtrail/bugtrail/internal/platform/httpx"
	"github.com/bugtrail/bugtrail/internal/shared"
)

// Principal describes the authenticated actor attached to a request.
type Principal struct {
	UserID string
	Role   Role
}

// Can reports whether the principal's role grants action.
func (p Principal) Can(action Action) bool {
	return Can(p.Role, action)
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal, reporting whether one exists.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

// Middleware performs per-request role resolution and guard enforcement for
// the HTTP API.
type Middleware struct {
	Profiles ProfileStore
	Cache    RoleCacheFactory
	Logger   *slog.Logger
}

// RoleCacheFactory yields a role cache scoped to one user.
type RoleCacheFactory func(userID string) RoleCache

// WithPrincipal resolves the session user's role and attaches a Principal to
// the request context. Requests without a signed-in session pass through
// unchanged; guards downstream fail closed.
func (m Middleware) WithPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil || sess.User() == "" {
			next.ServeHTTP(w, r)
			return
		}
		userID := sess.User()
		role := m.resolveRole(r.Context(), userID)
		ctx := ContextWithPrincipal(r.Context(), Principal{UserID: userID, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Require enforces a guard on the wrapped routes. Unauthenticated requests get
// 401; authenticated requests failing the guard get a generic 403 that never
// names the missing permission.
func (m Middleware) Require(guard Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
				return
			}
			if !guard.Allows(p.Role, p.Can) {
				httpx.Problem(w, http.StatusForbidden, "Access Denied",
					"You don't have permission to view this content.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRoles guards routes by role membership.
func (m Middleware) RequireRoles(roles ...Role) func(http.Handler) http.Handler {
	return m.Require(Guard{Roles: roles})
}

// RequirePermissions guards routes by capability; any listed action suffices.
func (m Middleware) RequirePermissions(actions ...Action) func(http.Handler) http.Handler {
	return m.Require(Guard{Permissions: actions})
}

// resolveRole reads the per-user role cache first and falls back to the
// profile store. Failures resolve to the default role rather than an error so
// every request carries a usable role; guards still deny anything the default
// role is not granted.
func (m Middleware) resolveRole(ctx context.Context, userID string) Role {
	var cache RoleCache
	if m.Cache != nil {
		cache = m.Cache(userID)
	}

	if cache != nil {
		if raw, err := cache.Get(ctx); err == nil {
			if role, ok := ParseRole(raw); ok {
				return role
			}
		}
	}

	raw, err := m.Profiles.RoleByUserID(ctx, userID)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Error("rbac: profile lookup failed",
				slog.String("user_id", userID), slog.Any("error", err))
		}
		return DefaultRole
	}
	role, ok := ParseRole(raw)
	if !ok {
		if m.Logger != nil {
			m.Logger.Error("rbac: unrecognized role in profile",
				slog.String("user_id", userID), slog.String("role", raw))
		}
		return DefaultRole
	}

	if cache != nil {
		if err := cache.Set(ctx, string(role)); err != nil && m.Logger != nil {
			m.Logger.Warn("rbac: persist role cache", slog.Any("error", err))
		}
	}
	return role
}
