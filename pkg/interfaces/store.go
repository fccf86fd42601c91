package interfaces

import (
	"context"

	"adminchat/pkg/types"
)

// MessageStore is the durable, append-only record of chat messages.
// Ordering for "recent" queries is descending creation time with insertion
// order breaking ties; returned messages carry the display-ready sender
// snapshot taken at write time.
type MessageStore interface {
	// Append persists a new message. The message is never updated afterwards
	// except for its read flag.
	Append(ctx context.Context, msg *types.ChatMessage) error

	// RecentMessages returns the most recent messages across all senders,
	// newest first.
	RecentMessages(ctx context.Context, limit int) ([]*types.ChatMessage, error)

	// MessagesBySender returns the most recent messages from one sender,
	// newest first.
	MessagesBySender(ctx context.Context, senderID string, limit int) ([]*types.ChatMessage, error)

	// MarkOthersRead flags every unread message not authored by viewerID as
	// read and reports how many rows changed.
	MarkOthersRead(ctx context.Context, viewerID string) (int64, error)

	// UnreadCount counts unread messages not authored by viewerID.
	UnreadCount(ctx context.Context, viewerID string) (int, error)

	// HealthCheck verifies connectivity and basic read access.
	HealthCheck(ctx context.Context) error

	// Close flushes pending writes and closes the store.
	Close() error
}
