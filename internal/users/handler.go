package users

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bugtrail/bugtrail/internal/platform/httpx"
	"github.com/bugtrail/bugtrail/internal/rbac"
	"github.com/bugtrail/bugtrail/internal/shared"
)

// Handler serves the user management endpoints. Every route is guarded by an
// administrative capability.
type Handler struct {
	logger  *slog.Logger
	service *Service
	authz   rbac.Middleware
}

// NewHandler constructs the users handler.
func NewHandler(logger *slog.Logger, service *Service, authz rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, authz: authz}
}

// Routes wires the user management routes with their guards.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(h.authz.RequirePermissions(rbac.ActionViewUsers)).Get("/", h.List)
	r.With(h.authz.RequirePermissions(rbac.ActionViewUsers)).Get("/{id}", h.Get)
	r.With(h.authz.RequirePermissions(rbac.ActionAddUser)).Post("/", h.Create)
	r.With(h.authz.RequirePermissions(rbac.ActionUpdateUser)).Put("/{id}", h.Update)
	r.With(h.authz.RequirePermissions(rbac.ActionDeleteUser)).Delete("/{id}", h.Deactivate)
	r.With(h.authz.RequirePermissions(rbac.ActionExportUsers)).Get("/export", h.Export)
	r.With(h.authz.RequirePermissions(rbac.ActionImportUsers)).Post("/import", h.Import)

	return r
}

type userResponse struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	IsActive     bool   `json:"isActive"`
	CreatedAt    string `json:"createdAt"`
	LastSignInAt string `json:"lastSignInAt,omitempty"`
}

// List returns all users.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]userResponse, len(list))
	for i, user := range list {
		out[i] = toUserResponse(user)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": out, "total": len(out)})
}

// Get returns one user.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toUserResponse(user))
}

type createUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Create provisions a new account.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed request body")
		return
	}
	user, err := h.service.CreateUser(r.Context(), CreateUserInput{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toUserResponse(user))
}

type updateUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	IsActive bool   `json:"isActive"`
}

// Update edits account fields and role.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed request body")
		return
	}
	user, err := h.service.UpdateUser(r.Context(), chi.URLParam(r, "id"), UpdateUserInput{
		Email:    req.Email,
		Name:     req.Name,
		Role:     req.Role,
		IsActive: req.IsActive,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toUserResponse(user))
}

// Deactivate disables an account.
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeactivateUser(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Export streams selected user fields as a CSV download. Fields are selected
// with repeated "field" query parameters.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	fields := r.URL.Query()["field"]

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="users_export.csv"`)
	if err := h.service.ExportCSV(r.Context(), w, fields); err != nil {
		h.logger.Error("export users", slog.Any("error", err))
	}
}

// Import creates accounts from an uploaded CSV body.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.ImportCSV(r.Context(), r.Body)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid CSV", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
	case errors.Is(err, ErrUnknownRole), errors.As(err, &validationErrs):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("users handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func toUserResponse(user User) userResponse {
	resp := userResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      string(user.Role),
		IsActive:  user.IsActive,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
	}
	if user.LastSignInAt != nil {
		resp.LastSignInAt = user.LastSignInAt.Format(time.RFC3339)
	}
	return resp
}
