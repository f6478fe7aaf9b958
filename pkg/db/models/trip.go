package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/lib/pq"
)

// Thread is a conversation context. Threads are created on first contact and
// never mutated or deleted in normal operation.
type Thread struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one turn in a thread. Rows are append-only: the autoincrement
// primary key doubles as the polling cursor, so message ids within a thread
// are strictly increasing in creation order.
type Message struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	ThreadID uuid.UUID `json:"thread_id" gorm:"type:uuid;not null;index;uniqueIndex:idx_messages_thread_request;uniqueIndex:idx_messages_thread_source"`

	// Role is either "user" or "assistant".
	Role string `json:"role" gorm:"not null"`

	// Content is the discriminated union payload: plain text or a trip plan.
	Content pgtype.JSONB `json:"content" gorm:"type:jsonb;not null"`

	// RequestID is the client-supplied idempotency token on user messages.
	// The unique index rejects a second submission with the same token.
	RequestID *string `json:"request_id,omitempty" gorm:"uniqueIndex:idx_messages_thread_request"`

	// SourceMessageID links an assistant message to the user message whose
	// job produced it. The unique index caps replies at one per job even
	// when the queue redelivers.
	SourceMessageID *uint `json:"source_message_id,omitempty" gorm:"uniqueIndex:idx_messages_thread_source"`
}

// PointOfInterest is a catalog row used to ground generated itineraries.
type PointOfInterest struct {
	Model

	Name        string         `json:"name" gorm:"not null;index"`
	Description string         `json:"description"`
	RegionCode  string         `json:"region_code" gorm:"index"`
	Tags        pq.StringArray `json:"tags" gorm:"type:text[]"`
	Lodging     bool           `json:"lodging" gorm:"index"`
}
