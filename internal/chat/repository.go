package chat

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bugtrail/bugtrail/internal/shared"
)

// RepositoryPort defines data access methods for chat rooms and messages.
type RepositoryPort interface {
	CreateRoom(ctx context.Context, room Room) error
	ListRooms(ctx context.Context) ([]Room, error)
	GetRoom(ctx context.Context, id string) (Room, error)
	AddMessage(ctx context.Context, msg Message) error
	ListMessages(ctx context.Context, roomID string, limit int) ([]Message, error)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateRoom inserts a room.
func (r *Repository) CreateRoom(ctx context.Context, room Room) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_rooms (id, name, bug_id, host_id, host_name, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)`,
		room.ID, room.Name, room.BugID, room.HostID, room.HostName, room.CreatedAt)
	return err
}

// ListRooms returns all rooms, newest first.
func (r *Repository) ListRooms(ctx context.Context) ([]Room, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, COALESCE(bug_id, ''), host_id, host_name, created_at
		 FROM chat_rooms ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.Name, &room.BugID, &room.HostID, &room.HostName, &room.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, room)
	}
	return out, rows.Err()
}

// GetRoom fetches a room by id.
func (r *Repository) GetRoom(ctx context.Context, id string) (Room, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(bug_id, ''), host_id, host_name, created_at
		 FROM chat_rooms WHERE id = $1`, id)
	var room Room
	if err := row.Scan(&room.ID, &room.Name, &room.BugID, &room.HostID, &room.HostName, &room.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Room{}, shared.ErrNotFound
		}
		return Room{}, err
	}
	return room, nil
}

// AddMessage appends a message to a room's history.
func (r *Repository) AddMessage(ctx context.Context, msg Message) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, room_id, sender_id, sender_name, content, is_system, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.RoomID, msg.SenderID, msg.SenderName, msg.Content, msg.IsSystem, msg.CreatedAt)
	return err
}

// ListMessages returns the most recent messages, oldest first.
func (r *Repository) ListMessages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, room_id, sender_id, sender_name, content, is_system, created_at
		 FROM (
			SELECT id, room_id, sender_id, sender_name, content, is_system, created_at
			FROM chat_messages WHERE room_id = $1 ORDER BY created_at DESC LIMIT $2
		 ) recent ORDER BY created_at`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.SenderName, &msg.Content, &msg.IsSystem, &msg.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}
