package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEmptyRoomName rejects rooms created without a name.
	ErrEmptyRoomName = errors.New("chat: room name is required")
	// ErrEmptyMessage rejects blank chat messages.
	ErrEmptyMessage = errors.New("chat: message content is required")
)

// Service coordinates room persistence with live fan-out through the hub.
type Service struct {
	repo   RepositoryPort
	hub    *Hub
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the chat service.
func NewService(repo RepositoryPort, hub *Hub, logger *slog.Logger) *Service {
	return &Service{repo: repo, hub: hub, logger: logger, now: time.Now}
}

// CreateRoomInput carries the fields needed to open a room.
type CreateRoomInput struct {
	Name     string
	BugID    string
	HostID   string
	HostName string
}

// CreateRoom opens a new room hosted by the given user.
func (s *Service) CreateRoom(ctx context.Context, in CreateRoomInput) (Room, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Room{}, ErrEmptyRoomName
	}
	room := Room{
		ID:        uuid.NewString(),
		Name:      name,
		BugID:     in.BugID,
		HostID:    in.HostID,
		HostName:  in.HostName,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateRoom(ctx, room); err != nil {
		return Room{}, err
	}
	return room, nil
}

// ListRooms returns every open room.
func (s *Service) ListRooms(ctx context.Context) ([]Room, error) {
	return s.repo.ListRooms(ctx)
}

// GetRoom fetches a single room.
func (s *Service) GetRoom(ctx context.Context, id string) (Room, error) {
	return s.repo.GetRoom(ctx, id)
}

// History returns recent messages for a room, oldest first.
func (s *Service) History(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if _, err := s.repo.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, roomID, limit)
}

// PostMessage stores a user message and broadcasts it to the room.
func (s *Service) PostMessage(ctx context.Context, roomID, senderID, senderName, content string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, ErrEmptyMessage
	}
	msg := Message{
		ID:         uuid.NewString(),
		RoomID:     roomID,
		SenderID:   senderID,
		SenderName: senderName,
		Content:    content,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.AddMessage(ctx, msg); err != nil {
		return Message{}, err
	}
	s.hub.Broadcast(msg)
	return msg, nil
}

// SystemMessage stores and broadcasts an announcement such as a join or leave.
func (s *Service) SystemMessage(ctx context.Context, roomID, content string) {
	msg := Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Content:   content,
		IsSystem:  true,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.AddMessage(ctx, msg); err != nil {
		s.logger.Warn("chat: store system message", slog.Any("error", err))
	}
	s.hub.Broadcast(msg)
}
