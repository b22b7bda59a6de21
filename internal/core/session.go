package core

import "github.com/google/uuid"

// Scope classifies what a session is connected for.
type Scope string

const (
	// ScopeGlobal sessions send and receive broadcast-room traffic.
	ScopeGlobal Scope = "global"
	// ScopePrivate sessions carry two-party conversation traffic. They keep
	// a global-topic subscription for presence but never receive room chatter.
	ScopePrivate Scope = "private"
)

// Session is one authenticated connection's identity. The gateway goroutine
// that created it is its only owner; it is gone when the connection closes.
type Session struct {
	ID       string
	UserID   string
	Username string
	Scope    Scope
}

// NewSession mints a session for an authenticated connection.
func NewSession(userID, username string, scope Scope) *Session {
	return &Session{
		ID:       uuid.NewString(),
		UserID:   userID,
		Username: username,
		Scope:    scope,
	}
}
