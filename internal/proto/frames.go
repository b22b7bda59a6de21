package proto

import (
	"encoding/json"
	"time"
)

// Client to server frame types.
const (
	FrameSendGlobal  = "send_global_message"
	FrameSendPrivate = "send_private_message"
	FrameHeartbeat   = "heartbeat"
	FrameTypingStart = "typing_start"
	FrameTypingStop  = "typing_stop"
)

// Server to client event types.
const (
	EventGlobalMessage   = "global_message"
	EventPrivateMessage  = "private_message"
	EventUserPresence    = "user_presence"
	EventTypingIndicator = "typing_indicator"
	EventError           = "error"
)

// Presence statuses carried by user_presence events.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Typing statuses carried by typing_indicator events.
const (
	TypingStarted = "typing"
	TypingStopped = "stopped"
)

// ClientFrame is the tagged envelope for frames coming from the client.
type ClientFrame struct {
	Type           string `json:"type"`
	Content        string `json:"content,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Sender identifies the author of a chat message on the wire.
type Sender struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// ChatMessage is the wire form of a delivered message.
type ChatMessage struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Sender         Sender `json:"sender"`
	Content        string `json:"content"`
	Timestamp      string `json:"timestamp"`
}

// ServerEvent is the tagged envelope for everything the server pushes to a
// client. One struct covers all event types; unused fields stay empty.
type ServerEvent struct {
	Type string `json:"type"`

	// Message payload for global_message / private_message.
	Message *ChatMessage `json:"message,omitempty"`

	// Presence and typing fields.
	UserID         string `json:"user_id,omitempty"`
	Username       string `json:"username,omitempty"`
	Status         string `json:"status,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`

	// Error fields.
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// ErrorEvent builds an error frame.
func ErrorEvent(code, detail string) ServerEvent {
	return ServerEvent{Type: EventError, Code: code, Detail: detail}
}

// Encode marshals the event for the wire or the fan-out bus.
func (e ServerEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Timestamp formats message timestamps the way the wire expects.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
