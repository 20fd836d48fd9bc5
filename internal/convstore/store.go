// Package convstore provides durable conversation storage: conversations,
// their ordered messages, and owner scoping. Messages are append-only and
// totally ordered per conversation by sequence number; wall-clock
// timestamps are advisory only.
package convstore

import (
	"errors"
	"time"
)

// Message roles. Internal roles (system, tool) never reach this store;
// only the user/assistant transcript is persisted.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrNotFound is returned when a conversation does not exist or is
	// not owned by the caller. The two cases are deliberately
	// indistinguishable so that probing for other users' conversation
	// ids reveals nothing.
	ErrNotFound = errors.New("conversation not found")

	// ErrValidation is returned for malformed input (empty content,
	// unknown role).
	ErrValidation = errors.New("invalid message")
)

// Conversation is a persisted chat session scoped to one owner.
type Conversation struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn inside a conversation. Once written it never
// changes; SequenceNumber is the canonical chronological order.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	SequenceNumber int       `json:"sequence_number"`
	CreatedAt      time.Time `json:"created_at"`
	// ToolInvocations holds the JSON-encoded invocation summary for
	// assistant messages that triggered tools. Empty otherwise.
	ToolInvocations string `json:"tool_invocations,omitempty"`
}

// Summary describes one conversation in a listing.
type Summary struct {
	ID                 int64     `json:"id"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	MessageCount       int       `json:"message_count"`
	LastMessagePreview string    `json:"last_message_preview,omitempty"`
}
