package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrSelfConversation is returned when both sides of a conversation are the same user.
	ErrSelfConversation = errors.New("conversation requires two distinct users")
	// ErrPayloadNotFound is returned for unknown and expired payload ids alike.
	ErrPayloadNotFound = errors.New("payload not found")
)

// User represents a registered account.
type User struct {
	ID           string    `gorm:"type:uuid;primaryKey" json:"id"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `gorm:"not null" json:"-"`
	IsVerified   bool      `gorm:"not null;default:false" json:"is_verified"`
	CreatedAt    time.Time `json:"created_at"`
}

// Conversation pairs exactly two distinct users. The pair is stored in
// canonical order so that (A,B) and (B,A) map to the same row.
type Conversation struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	UserA     string    `gorm:"type:uuid;not null;uniqueIndex:idx_conversation_pair;check:chk_no_self_conversation,user_a <> user_b" json:"user_a"`
	UserB     string    `gorm:"type:uuid;not null;uniqueIndex:idx_conversation_pair" json:"user_b"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanonicalPair orders two user ids so an unordered pair always maps to the
// same conversation row.
func CanonicalPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// HasParticipant reports whether the user is one of the two sides.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.UserA == userID || c.UserB == userID
}

// OtherParticipant returns the opposite side of the conversation. ok is false
// when the given user is not a participant at all.
func (c *Conversation) OtherParticipant(userID string) (other string, ok bool) {
	switch userID {
	case c.UserA:
		return c.UserB, true
	case c.UserB:
		return c.UserA, true
	}
	return "", false
}

// Message is the durable metadata record of a message. The content itself
// lives in the payload store and is referenced by PayloadRef. Rows are
// append-only except IsRead and IsDeleted, which only flip false to true.
type Message struct {
	ID             string    `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID string    `gorm:"type:uuid;not null;index" json:"conversation_id"`
	SenderID       string    `gorm:"type:uuid;not null" json:"sender_id"`
	ReceiverID     string    `gorm:"type:uuid;not null;index" json:"receiver_id"`
	PayloadRef     string    `gorm:"uniqueIndex;not null" json:"payload_ref"`
	CreatedAt      time.Time `json:"created_at"`
	IsRead         bool      `gorm:"not null;default:false" json:"is_read"`
	IsDeleted      bool      `gorm:"not null;default:false" json:"is_deleted"`
}

// Payload is the ephemeral message content object held in the payload store
// until its TTL elapses.
type Payload struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// UserStore handles account persistence.
type UserStore interface {
	// CreateUser inserts a new user row.
	CreateUser(ctx context.Context, u *User) error

	// GetUserByID retrieves a user by id. Returns ErrNotFound when missing.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByEmail retrieves a user by email. Returns ErrNotFound when missing.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// ListVerified lists verified users excluding excludeID, optionally
	// filtered by a case-insensitive search over email, username and full name.
	ListVerified(ctx context.Context, excludeID, search string) ([]*User, error)
}

// ConversationStore is the conversation directory.
type ConversationStore interface {
	// GetOrCreate resolves the canonical conversation for an unordered user
	// pair, creating it on first contact. Concurrent first contacts converge
	// on one row via the pair uniqueness constraint and a retry, never a lock.
	GetOrCreate(ctx context.Context, userA, userB string) (conv *Conversation, created bool, err error)

	// GetConversation retrieves a conversation by id. Returns ErrNotFound when missing.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// ListConversations lists a user's conversations, most recently updated first.
	ListConversations(ctx context.Context, userID string) ([]*Conversation, error)

	// TouchConversation bumps updated_at to now.
	TouchConversation(ctx context.Context, id string) error
}

// MessageStore handles message metadata persistence.
type MessageStore interface {
	// CreateMessage appends a metadata row.
	CreateMessage(ctx context.Context, m *Message) error

	// GetMessageByPayloadRef retrieves the metadata row referencing a payload id.
	GetMessageByPayloadRef(ctx context.Context, payloadRef string) (*Message, error)

	// MarkConversationRead flips is_read on every unread message addressed to
	// receiverID in the conversation. Returns the number of rows updated.
	MarkConversationRead(ctx context.Context, conversationID, receiverID string) (int64, error)

	// MarkDeleted flips is_deleted on the row referencing payloadRef.
	MarkDeleted(ctx context.Context, payloadRef string) error

	// UnreadCount counts live unread messages addressed to receiverID in the conversation.
	UnreadCount(ctx context.Context, conversationID, receiverID string) (int64, error)
}

// PayloadStore is the ephemeral, TTL-bound content store.
type PayloadStore interface {
	// Put stores a fresh payload under an opaque id and appends it to the
	// conversation's time-ordered index, refreshing the index TTL.
	Put(ctx context.Context, conversationID, senderID, receiverID, content string) (*Payload, error)

	// Get retrieves a payload by id. Unknown and expired ids are
	// indistinguishable: both return ErrPayloadNotFound.
	Get(ctx context.Context, payloadID string) (*Payload, error)

	// ListByConversation returns a most-recent-first page of payloads. Index
	// entries whose payload has expired or been deleted are silently skipped.
	ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]*Payload, error)

	// Delete removes a payload and its index entry. Deleting an unknown id is a no-op.
	Delete(ctx context.Context, payloadID string) error
}

// Store aggregates the durable metadata interfaces.
type Store interface {
	UserStore
	ConversationStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
