package chat

import "time"

// Room is a discussion room, usually attached to a bug.
type Room struct {
	ID        string
	Name      string
	BugID     string
	HostID    string
	HostName  string
	CreatedAt time.Time
}

// Message is a single chat entry. System messages announce joins and leaves.
type Message struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"roomId"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	IsSystem   bool      `json:"isSystem,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
