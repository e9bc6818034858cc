package websocket

import (
	"encoding/json"
	"time"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Server -> Client event types
	TypeFeedSyncCompleted MessageType = "feed.sync_completed"
	TypeFeedSyncError     MessageType = "feed.sync_error"
	TypeBatchCompleted    MessageType = "sync.batch_completed"
	TypeDuplicatesRemoved MessageType = "duplicates.removed"
	TypeNotification      MessageType = "notification"

	// Client -> Server command types
	TypePing MessageType = "ping"

	// Server -> Client response types
	TypePong  MessageType = "pong"
	TypeError MessageType = "error"
)

// Message represents a WebSocket message envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the message to JSON bytes.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// FeedSyncPayload is the payload for feed.sync_completed events.
type FeedSyncPayload struct {
	FeedID    string    `json:"feed_id"`
	FeedName  string    `json:"feed_name"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	Created   int       `json:"created"`
	Updated   int       `json:"updated"`
	Deleted   int       `json:"deleted"`
	Protected int       `json:"protected"`
	SyncedAt  time.Time `json:"synced_at"`
}

// FeedSyncErrorPayload is the payload for feed.sync_error events.
type FeedSyncErrorPayload struct {
	FeedID   string `json:"feed_id"`
	FeedName string `json:"feed_name"`
	UserID   string `json:"user_id"`
	Error    string `json:"error"`
	Message  string `json:"message"`
}

// BatchPayload is the payload for sync.batch_completed events.
type BatchPayload struct {
	Trigger   string     `json:"trigger"` // "schedule" or "manual"
	Total     int        `json:"total"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
	Skipped   int        `json:"skipped"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

// DuplicatesPayload is the payload for duplicates.removed events.
type DuplicatesPayload struct {
	UserID  string `json:"user_id,omitempty"`
	Groups  int    `json:"groups"`
	Removed int    `json:"removed"`
}

// NotificationPayload is the payload for notification events.
type NotificationPayload struct {
	Level       string `json:"level"` // info, warning, error, success
	Title       string `json:"title"`
	Message     string `json:"message"`
	Dismissible bool   `json:"dismissible"`
}

// ErrorPayload is the payload for error messages.
type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	OriginalType string `json:"original_type,omitempty"`
}
