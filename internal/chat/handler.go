package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"github.com/bugtrail/bugtrail/internal/platform/httpx"
	"github.com/bugtrail/bugtrail/internal/rbac"
	"github.com/bugtrail/bugtrail/internal/shared"
)

// IdentitySource fetches the display identity for a signed-in user.
type IdentitySource interface {
	IdentityByID(ctx context.Context, userID string) (rbac.Identity, error)
}

// SessionSourceFactory binds an established session to the auth event stream,
// yielding the session source a per-connection resolver consumes.
type SessionSourceFactory func(sess *rbac.Session) rbac.SessionSource

// Handler serves the chat rooms API and the room WebSocket endpoint.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	hub        *Hub
	authz      rbac.Middleware
	identities IdentitySource
	sources    SessionSourceFactory
	profiles   rbac.ProfileStore
	roleCache  rbac.RoleCacheFactory
	devMode    bool
}

// NewHandler constructs the chat handler.
func NewHandler(logger *slog.Logger, service *Service, hub *Hub, authz rbac.Middleware,
	identities IdentitySource, sources SessionSourceFactory, devMode bool) *Handler {
	return &Handler{
		logger:     logger,
		service:    service,
		hub:        hub,
		authz:      authz,
		identities: identities,
		sources:    sources,
		profiles:   authz.Profiles,
		roleCache:  authz.Cache,
		devMode:    devMode,
	}
}

// Routes wires the chat API routes with their guards.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequirePermissions(rbac.ActionJoinChat, rbac.ActionHostChat))
		r.Get("/rooms", h.ListRooms)
		r.Get("/rooms/{id}", h.GetRoom)
		r.Get("/rooms/{id}/messages", h.History)
		r.Get("/rooms/{id}/ws", h.Join)
	})

	r.With(h.authz.RequirePermissions(rbac.ActionHostChat)).Post("/rooms", h.CreateRoom)

	return r
}

type roomResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	BugID     string `json:"bugId,omitempty"`
	HostID    string `json:"hostId"`
	HostName  string `json:"hostName"`
	Occupancy int    `json:"occupancy"`
	CreatedAt string `json:"createdAt"`
}

// ListRooms returns every open room with its live occupancy.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.service.ListRooms(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]roomResponse, len(rooms))
	for i, room := range rooms {
		out[i] = h.toRoomResponse(room)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rooms": out})
}

// GetRoom returns a single room.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.service.GetRoom(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toRoomResponse(room))
}

type createRoomRequest struct {
	Name  string `json:"name"`
	BugID string `json:"bugId"`
}

// CreateRoom opens a new room hosted by the current principal.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	principal, _ := rbac.PrincipalFromContext(r.Context())

	var req createRoomRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed request body")
		return
	}

	identity, err := h.identities.IdentityByID(r.Context(), principal.UserID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	room, err := h.service.CreateRoom(r.Context(), CreateRoomInput{
		Name:     req.Name,
		BugID:    req.BugID,
		HostID:   identity.ID,
		HostName: identity.Name,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.toRoomResponse(room))
}

// History returns a room's recent messages, oldest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	messages, err := h.service.History(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if messages == nil {
		messages = []Message{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"messages": messages})
}

type inboundMessage struct {
	Content string `json:"content"`
}

// Join upgrades to a WebSocket and attaches the connection to the room. Each
// connection runs its own role resolver fed by the auth event stream, so a
// sign-out elsewhere closes the socket instead of leaving a live session with
// stale permissions.
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	principal, _ := rbac.PrincipalFromContext(r.Context())

	room, err := h.service.GetRoom(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	identity, err := h.identities.IdentityByID(r.Context(), principal.UserID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	sess := shared.SessionFromContext(r.Context())
	rbacSession := &rbac.Session{User: identity}
	if sess != nil {
		rbacSession.Token = sess.ID
	}
	source := h.sources(rbacSession)

	var cache rbac.RoleCache
	if h.roleCache != nil {
		cache = h.roleCache(identity.ID)
	}
	resolver := rbac.NewResolver(rbac.ResolverConfig{
		Sessions: source,
		Profiles: h.profiles,
		Cache:    cache,
		Logger:   h.logger,
		DevMode:  h.devMode,
	})
	resolver.Start(r.Context())
	defer resolver.Stop()

	select {
	case <-resolver.Ready():
	case <-r.Context().Done():
		return
	}
	if !resolver.Can(rbac.ActionJoinChat) && !resolver.Can(rbac.ActionHostChat) {
		httpx.Problem(w, http.StatusForbidden, "Access Denied",
			"You don't have permission to view this content.")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("chat: websocket accept", slog.Any("error", err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Close the socket as soon as this user signs out anywhere.
	events, stopEvents := source.Subscribe()
	defer stopEvents()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Kind == rbac.AuthSignedOut {
					conn.Close(websocket.StatusPolicyViolation, "signed out")
					cancel()
					return
				}
			}
		}
	}()

	sub, unsubscribe := h.hub.Subscribe(room.ID)
	defer unsubscribe()

	h.service.SystemMessage(ctx, room.ID, identity.Name+" joined the room")
	defer func() {
		lctx, lcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer lcancel()
		h.service.SystemMessage(lctx, room.ID, identity.Name+" left the room")
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub:
				if !ok {
					return
				}
				data, err := json.Marshal(msg)
				if err != nil {
					continue
				}
				if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var in inboundMessage
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}
		if !resolver.Can(rbac.ActionJoinChat) && !resolver.Can(rbac.ActionHostChat) {
			conn.Close(websocket.StatusPolicyViolation, "signed out")
			return
		}
		if _, err := h.service.PostMessage(ctx, room.ID, identity.ID, identity.Name, in.Content); err != nil {
			if !errors.Is(err, ErrEmptyMessage) {
				h.logger.Warn("chat: post message", slog.Any("error", err))
			}
		}
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
	case errors.Is(err, ErrEmptyRoomName):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("chat handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (h *Handler) toRoomResponse(room Room) roomResponse {
	return roomResponse{
		ID:        room.ID,
		Name:      room.Name,
		BugID:     room.BugID,
		HostID:    room.HostID,
		HostName:  room.HostName,
		Occupancy: h.hub.Occupancy(room.ID),
		CreatedAt: room.CreatedAt.Format(time.RFC3339),
	}
}
