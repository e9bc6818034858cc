package websocket

import (
	"github.com/booking-manager/backend/internal/logger"
)

// EventBroadcaster handles broadcasting WebSocket events.
type EventBroadcaster struct {
	hub *Hub
	log logger.Logger
}

// NewEventBroadcaster creates a new event broadcaster.
func NewEventBroadcaster(hub *Hub, log logger.Logger) *EventBroadcaster {
	return &EventBroadcaster{hub: hub, log: log}
}

// BroadcastFeedSyncCompleted sends a feed sync completed event.
func (b *EventBroadcaster) BroadcastFeedSyncCompleted(payload FeedSyncPayload) {
	b.broadcast(NewMessage(TypeFeedSyncCompleted, payload))
}

// BroadcastFeedSyncError sends a feed sync error event. message is meant for
// the feed owner and must not carry secrets.
func (b *EventBroadcaster) BroadcastFeedSyncError(feedID, feedName, userID, message string) {
	b.broadcast(NewMessage(TypeFeedSyncError, FeedSyncErrorPayload{
		FeedID:   feedID,
		FeedName: feedName,
		UserID:   userID,
		Error:    "sync_error",
		Message:  message,
	}))
}

// BroadcastBatchCompleted sends a summary of a sync batch.
func (b *EventBroadcaster) BroadcastBatchCompleted(payload BatchPayload) {
	b.broadcast(NewMessage(TypeBatchCompleted, payload))
}

// BroadcastDuplicatesRemoved reports a duplicate cleanup.
func (b *EventBroadcaster) BroadcastDuplicatesRemoved(userID string, groups, removed int) {
	b.broadcast(NewMessage(TypeDuplicatesRemoved, DuplicatesPayload{
		UserID:  userID,
		Groups:  groups,
		Removed: removed,
	}))
}

// BroadcastNotification sends a notification to all connected clients.
func (b *EventBroadcaster) BroadcastNotification(level, title, message string) {
	b.broadcast(NewMessage(TypeNotification, NotificationPayload{
		Level:       level,
		Title:       title,
		Message:     message,
		Dismissible: true,
	}))
}

// broadcast sends a message to all connected clients.
func (b *EventBroadcaster) broadcast(msg Message) {
	data, err := msg.JSON()
	if err != nil {
		b.log.Error("encoding websocket message", logger.String("type", string(msg.Type)), logger.Error(err))
		return
	}

	b.hub.Broadcast(data)
}
