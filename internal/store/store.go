package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("not found")

// User is an account in the user directory.
type User struct {
	ID           string // UUID
	Username     string
	PasswordHash string
	LastSeen     *time.Time
	CreatedAt    time.Time
}

// Conversation is a private two-party thread. Exactly one conversation
// exists per user pair; it is created lazily on first contact and never
// deleted by the messaging core.
type Conversation struct {
	ID            string // UUID
	ParticipantA  string
	ParticipantB  string
	LastMessageAt time.Time
	CreatedAt     time.Time
}

// Participants returns both member IDs.
func (c *Conversation) Participants() [2]string {
	return [2]string{c.ParticipantA, c.ParticipantB}
}

// HasParticipant reports whether userID belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// GlobalMessage is a persisted broadcast-room message.
type GlobalMessage struct {
	ID        string // UUID
	SenderID  string
	Content   string
	CreatedAt time.Time
}

// PrivateMessage is a persisted conversation message.
type PrivateMessage struct {
	ID             string // UUID
	ConversationID string
	SenderID       string
	Content        string
	CreatedAt      time.Time
}

// UserDirectory is the account lookup surface the core consumes.
type UserDirectory interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)
	UserByID(ctx context.Context, id string) (*User, error)
	UserByUsername(ctx context.Context, username string) (*User, error)
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
}

// ConversationDirectory resolves and lazily creates private conversations.
type ConversationDirectory interface {
	Conversation(ctx context.Context, id string) (*Conversation, error)
	// EnsureConversation returns the conversation for the pair, creating it
	// if the two users have never talked. Argument order does not matter.
	EnsureConversation(ctx context.Context, userA, userB string) (*Conversation, error)
	ConversationsFor(ctx context.Context, userID string) ([]Conversation, error)
}

// MessageStore is the durable append target for validated messages.
type MessageStore interface {
	AppendGlobal(ctx context.Context, msg *GlobalMessage) error
	// AppendPrivate persists the message and bumps the conversation's
	// last-message timestamp in the same transaction.
	AppendPrivate(ctx context.Context, msg *PrivateMessage) error
}

// Store is the full persistence surface.
type Store interface {
	UserDirectory
	ConversationDirectory
	MessageStore
	Close() error
}
