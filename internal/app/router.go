package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bugtrail/bugtrail/internal/analytics"
	"github.com/bugtrail/bugtrail/internal/auth"
	"github.com/bugtrail/bugtrail/internal/bugs"
	"github.com/bugtrail/bugtrail/internal/chat"
	"github.com/bugtrail/bugtrail/internal/observability"
	"github.com/bugtrail/bugtrail/internal/rbac"
	"github.com/bugtrail/bugtrail/internal/shared"
	"github.com/bugtrail/bugtrail/internal/users"
	"github.com/bugtrail/bugtrail/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Pool           *pgxpool.Pool
	RBACMiddleware rbac.Middleware

	AuthHandler      *auth.Handler
	BugsHandler      *bugs.Handler
	UsersHandler     *users.Handler
	AnalyticsHandler *analytics.Handler
	ChatHandler      *chat.Handler
	JobsHandler      *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with BugTrail defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	var pinger dbPinger
	if params.Pool != nil {
		pinger = params.Pool
	}
	r.Get("/healthz", healthHandler(pinger))

	r.Route("/api", func(r chi.Router) {
		r.Mount("/auth", params.AuthHandler.Routes())

		// Everything below carries a resolved principal; guards inside each
		// handler fail closed for anonymous or under-privileged requests.
		r.Group(func(r chi.Router) {
			r.Use(params.RBACMiddleware.WithPrincipal)
			r.Mount("/bugs", params.BugsHandler.Routes())
			r.Mount("/users", params.UsersHandler.Routes())
			r.Mount("/analytics", params.AnalyticsHandler.Routes())
			r.Mount("/chat", params.ChatHandler.Routes())
		})

		if params.JobsHandler != nil {
			r.Route("/jobs", params.JobsHandler.MountRoutes)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

type dbPinger interface {
	Ping(ctx context.Context) error
}

// healthHandler reports liveness, probing the database when one is wired.
func healthHandler(pinger dbPinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if pinger != nil {
			if err := pinger.Ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
