package analytics

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bugtrail/bugtrail/internal/platform/httpx"
	"github.com/bugtrail/bugtrail/internal/rbac"
)

// Handler serves the analytics endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	authz   rbac.Middleware
}

// NewHandler constructs the analytics handler.
func NewHandler(logger *slog.Logger, service *Service, authz rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, authz: authz}
}

// Routes wires the analytics routes behind the analytics capability.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.authz.RequirePermissions(rbac.ActionViewAnalytics, rbac.ActionViewReports))
	r.Get("/stats", h.Stats)
	r.Get("/trend", h.Trend)
	return r
}

// Stats returns the dashboard aggregates.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Statistics(r.Context())
	if err != nil {
		h.logger.Error("analytics stats", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

// Trend returns the reported/fixed counts for the trailing window.
func (h *Handler) Trend(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	points, err := h.service.Trend(r.Context(), days)
	if err != nil {
		h.logger.Error("analytics trend", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"points": points})
}
