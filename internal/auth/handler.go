package auth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bugtrail/bugtrail/internal/platform/httpx"
	"github.com/bugtrail/bugtrail/internal/rbac"
	"github.com/bugtrail/bugtrail/internal/shared"
)

// Handler serves the authentication endpoints of the JSON API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	sessions  *shared.SessionManager
	csrf      *shared.CSRFManager
	bus       *Bus
	roleCache rbac.RoleCacheFactory
	validate  *validator.Validate
}

// NewHandler constructs the auth handler.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager, bus *Bus, roleCache rbac.RoleCacheFactory) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		sessions:  sessions,
		csrf:      csrf,
		bus:       bus,
		roleCache: roleCache,
		validate:  validator.New(),
	}
}

// Routes wires the auth endpoints. Login and logout are intentionally
// unguarded; session reports the current auth state to anonymous callers too.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/login", h.Login)
	r.Post("/logout", h.Logout)
	r.Get("/session", h.Session)
	return r
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type sessionResponse struct {
	Authenticated    bool          `json:"authenticated"`
	User             *userResponse `json:"user"`
	Role             string        `json:"role"`
	IsAdmin          bool          `json:"is_admin"`
	IsProjectManager bool          `json:"is_project_manager"`
	IsDeveloper      bool          `json:"is_developer"`
	IsTester         bool          `json:"is_tester"`
	CSRFToken        string        `json:"csrf_token,omitempty"`
}

// Login authenticates credentials and binds the session to the user.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "email and password are required")
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Invalid Credentials", "")
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	sess.SetUser(user.ID)

	expiresAt := time.Now().Add(h.sessions.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Error("register session", slog.Any("error", err))
	}

	role := h.lookupRole(r, user.ID)
	if h.roleCache != nil {
		if err := h.roleCache(user.ID).Set(r.Context(), string(role)); err != nil {
			h.logger.Warn("prime role cache", slog.Any("error", err))
		}
	}

	h.bus.Publish(rbac.AuthEvent{
		Kind: rbac.AuthSignedIn,
		Session: &rbac.Session{
			Token:     sess.ID,
			User:      rbac.Identity{ID: user.ID, Email: user.Email, Name: user.Name},
			ExpiresAt: expiresAt,
		},
	})

	token, _ := h.csrf.EnsureToken(r.Context(), sess)
	httpx.JSON(w, http.StatusOK, h.stateResponse(user, role, token))
}

// Logout tears down the session and broadcasts the sign-out.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.User() == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	userID := sess.User()

	if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
		h.logger.Warn("remove session", slog.Any("error", err))
	}
	if h.roleCache != nil {
		if err := h.roleCache(userID).Del(r.Context()); err != nil {
			h.logger.Warn("clear role cache", slog.Any("error", err))
		}
	}

	h.bus.Publish(rbac.AuthEvent{
		Kind: rbac.AuthSignedOut,
		Session: &rbac.Session{
			Token: sess.ID,
			User:  rbac.Identity{ID: userID},
		},
	})

	h.sessions.Destroy(sess)
	w.WriteHeader(http.StatusNoContent)
}

// Session reports the current authentication state. Anonymous callers still
// receive the default role for display purposes; guards deny them everything.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())

	var token string
	if sess != nil {
		token, _ = h.csrf.EnsureToken(r.Context(), sess)
	}

	if sess == nil || sess.User() == "" {
		resp := h.stateResponse(nil, rbac.DefaultRole, token)
		httpx.JSON(w, http.StatusOK, resp)
		return
	}

	user, err := h.service.UserByID(r.Context(), sess.User())
	if err != nil {
		h.logger.Error("load session user", slog.Any("error", err))
		httpx.JSON(w, http.StatusOK, h.stateResponse(nil, rbac.DefaultRole, token))
		return
	}

	role := h.lookupRole(r, user.ID)
	httpx.JSON(w, http.StatusOK, h.stateResponse(user, role, token))
}

// lookupRole fetches and parses the profile role, falling back to the default
// role on any failure so a usable role is always available.
func (h *Handler) lookupRole(r *http.Request, userID string) rbac.Role {
	raw, err := h.service.RoleByUserID(r.Context(), userID)
	if err != nil {
		h.logger.Error("profile role lookup", slog.String("user_id", userID), slog.Any("error", err))
		return rbac.DefaultRole
	}
	role, ok := rbac.ParseRole(raw)
	if !ok {
		h.logger.Error("unrecognized profile role", slog.String("user_id", userID), slog.String("role", raw))
		return rbac.DefaultRole
	}
	return role
}

func (h *Handler) stateResponse(user *User, role rbac.Role, csrfToken string) sessionResponse {
	resp := sessionResponse{
		Role:             string(role),
		IsAdmin:          role == rbac.RoleAdmin,
		IsProjectManager: role == rbac.RoleProjectManager,
		IsDeveloper:      role == rbac.RoleDeveloper,
		IsTester:         role == rbac.RoleTester,
		CSRFToken:        csrfToken,
	}
	if user != nil {
		resp.Authenticated = true
		resp.User = &userResponse{ID: user.ID, Email: user.Email, Name: user.Name}
	}
	return resp
}
