package bugs

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bugtrail/bugtrail/internal/platform/httpx"
	"github.com/bugtrail/bugtrail/internal/rbac"
	"github.com/bugtrail/bugtrail/internal/shared"
)

// Handler serves the bug endpoints of the JSON API.
type Handler struct {
	logger  *slog.Logger
	service *Service
	authz   rbac.Middleware
}

// NewHandler constructs the bugs handler.
func NewHandler(logger *slog.Logger, service *Service, authz rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, authz: authz}
}

// Routes wires the bug API routes with their guards.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequirePermissions(
			rbac.ActionViewCreatedBugs,
			rbac.ActionViewAssignedBugs,
			rbac.ActionMonitorBugs,
			rbac.ActionSearchBugs,
		))
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Get("/{id}/comments", h.ListComments)
		r.Post("/{id}/comments", h.AddComment)
	})

	r.With(h.authz.RequirePermissions(rbac.ActionCreateBugs)).Post("/", h.Create)
	r.With(h.authz.RequirePermissions(rbac.ActionCreateBugs, rbac.ActionMonitorBugs)).Put("/{id}", h.Update)
	r.With(h.authz.RequirePermissions(rbac.ActionAssignBugs)).Post("/{id}/assign", h.Assign)
	r.With(h.authz.RequirePermissions(rbac.ActionUpdateBugStatus)).Post("/{id}/status", h.UpdateStatus)
	r.With(h.authz.RequireRoles(rbac.RoleAdmin)).Delete("/{id}", h.Delete)

	return r
}

type bugResponse struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	StepsToReproduce string `json:"stepsToReproduce"`
	Status           string `json:"status"`
	Severity         string `json:"severity"`
	AssignedTo       string `json:"assignedTo,omitempty"`
	ReportedBy       string `json:"reportedBy"`
	GameArea         string `json:"gameArea"`
	Platform         string `json:"platform"`
	CreatedAt        string `json:"createdAt"`
	UpdatedAt        string `json:"updatedAt"`
}

type commentResponse struct {
	ID        string `json:"id"`
	BugID     string `json:"bugId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
}

// List returns bugs matching the query filters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := Filter{
		Search:     q.Get("search"),
		AssignedTo: q.Get("assignedTo"),
		Platform:   q.Get("platform"),
		GameArea:   q.Get("gameArea"),
	}
	for _, raw := range q["status"] {
		if status, ok := ParseStatus(raw); ok {
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	for _, raw := range q["severity"] {
		if severity, ok := ParseSeverity(raw); ok {
			filter.Severities = append(filter.Severities, severity)
		}
	}

	order := Sort{Field: SortField(q.Get("sort")), Asc: q.Get("dir") == "asc"}

	list, err := h.service.ListBugs(r.Context(), filter, order)
	if err != nil {
		h.respondError(w, err)
		return
	}

	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("perPage"))
	meta := shared.NewPagination(page, perPage, len(list))
	list = paginate(list, meta)

	out := make([]bugResponse, len(list))
	for i, bug := range list {
		out[i] = toBugResponse(bug)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"bugs":       out,
		"total":      meta.Total,
		"page":       meta.Page,
		"perPage":    meta.PerPage,
		"totalPages": meta.TotalPages,
	})
}

func paginate(list []Bug, meta shared.Pagination) []Bug {
	start := (meta.Page - 1) * meta.PerPage
	if start >= len(list) {
		return nil
	}
	end := start + meta.PerPage
	if end > len(list) {
		end = len(list)
	}
	return list[start:end]
}

// Get returns a single bug.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	bug, err := h.service.GetBug(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBugResponse(bug))
}

type createBugRequest struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	StepsToReproduce string `json:"stepsToReproduce"`
	Severity         string `json:"severity"`
	GameArea         string `json:"gameArea"`
	Platform         string `json:"platform"`
}

// Create files a new bug reported by the current principal.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	principal, _ := rbac.PrincipalFromContext(r.Context())

	var req createBugRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed request body")
		return
	}
	bug, err := h.service.CreateBug(r.Context(), CreateBugInput{
		Title:            req.Title,
		Description:      req.Description,
		StepsToReproduce: req.StepsToReproduce,
		Severity:         req.Severity,
		GameArea:         req.GameArea,
		Platform:         req.Platform,
		ReportedBy:       principal.UserID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toBugResponse(bug))
}

// Update replaces a bug's editable fields.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req createBugRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed request body")
		return
	}
	bug, err := h.service.UpdateBug(r.Context(), chi.URLParam(r, "id"), UpdateBugInput{
		Title:            req.Title,
		Description:      req.Description,
		StepsToReproduce: req.StepsToReproduce,
		Severity:         req.Severity,
		GameArea:         req.GameArea,
		Platform:         req.Platform,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBugResponse(bug))
}

type assignRequest struct {
	AssignedTo string `json:"assignedTo"`
}

// Assign hands a bug to a developer.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed request body")
		return
	}
	bug, err := h.service.AssignBug(r.Context(), chi.URLParam(r, "id"), req.AssignedTo)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBugResponse(bug))
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus moves a bug through its lifecycle. Terminal statuses require
// the finish capability on top of the status-update guard.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed request body")
		return
	}
	status, ok := ParseStatus(req.Status)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown status")
		return
	}
	if status.Terminal() {
		principal, _ := rbac.PrincipalFromContext(r.Context())
		if !principal.Can(rbac.ActionFinishBug) {
			httpx.Problem(w, http.StatusForbidden, "Access Denied",
				"You don't have permission to view this content.")
			return
		}
	}
	bug, err := h.service.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBugResponse(bug))
}

// Delete removes a bug entirely.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteBug(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListComments returns a bug's discussion thread.
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.service.Comments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]commentResponse, len(comments))
	for i, c := range comments {
		out[i] = toCommentResponse(c)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"comments": out})
}

type commentRequest struct {
	Content  string `json:"content"`
	UserName string `json:"userName"`
}

// AddComment appends a comment by the current principal.
func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	principal, _ := rbac.PrincipalFromContext(r.Context())

	var req commentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed request body")
		return
	}
	comment, err := h.service.AddComment(r.Context(), chi.URLParam(r, "id"), principal.UserID, req.UserName, req.Content)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toCommentResponse(comment))
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
	case errors.Is(err, ErrUnknownStatus), errors.Is(err, ErrUnknownSeverity), errors.As(err, &validationErrs):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("bugs handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func toBugResponse(bug Bug) bugResponse {
	return bugResponse{
		ID:               bug.ID,
		Title:            bug.Title,
		Description:      bug.Description,
		StepsToReproduce: bug.StepsToReproduce,
		Status:           string(bug.Status),
		Severity:         string(bug.Severity),
		AssignedTo:       bug.AssignedTo,
		ReportedBy:       bug.ReportedBy,
		GameArea:         bug.GameArea,
		Platform:         bug.Platform,
		CreatedAt:        bug.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        bug.UpdatedAt.Format(time.RFC3339),
	}
}

func toCommentResponse(c Comment) commentResponse {
	return commentResponse{
		ID:        c.ID,
		BugID:     c.BugID,
		UserID:    c.UserID,
		UserName:  c.UserName,
		Content:   c.Content,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
	}
}
