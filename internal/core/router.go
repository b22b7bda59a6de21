package core

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/liquidchat-server/internal/bus"
	"github.com/vovakirdan/liquidchat-server/internal/proto"
	"github.com/vovakirdan/liquidchat-server/internal/store"
)

// Router validates and classifies inbound frames, hands messages to the
// durable store, and only then publishes them on the fan-out bus. A
// subscriber therefore never observes a message the store does not have.
type Router struct {
	messages store.MessageStore
	convs    store.ConversationDirectory
	bus      bus.Bus
	maxLen   int
	policy   *bluemonday.Policy
	log      *zerolog.Logger
	now      func() time.Time
}

// NewRouter wires the router to its collaborators. maxLen bounds message
// content in runes.
func NewRouter(messages store.MessageStore, convs store.ConversationDirectory, b bus.Bus, maxLen int, logger *zerolog.Logger) *Router {
	return &Router{
		messages: messages,
		convs:    convs,
		bus:      b,
		maxLen:   maxLen,
		policy:   bluemonday.StrictPolicy(),
		log:      logger,
		now:      time.Now,
	}
}

// Route handles one recognized client frame for the given session. A nil
// return means the message was persisted and published (or the indicator
// forwarded); a non-nil CoreError is surfaced to the sender and nothing
// was published.
func (r *Router) Route(ctx context.Context, sess *Session, frame proto.ClientFrame) *CoreError {
	switch frame.Type {
	case proto.FrameSendGlobal:
		return r.routeGlobal(ctx, sess, frame.Content)
	case proto.FrameSendPrivate:
		return r.routePrivate(ctx, sess, frame.ConversationID, frame.Content)
	case proto.FrameTypingStart:
		return r.routeTyping(ctx, sess, frame.ConversationID, proto.TypingStarted)
	case proto.FrameTypingStop:
		return r.routeTyping(ctx, sess, frame.ConversationID, proto.TypingStopped)
	default:
		return coreError(ErrCodeProtocol, "unknown frame type")
	}
}

func (r *Router) routeGlobal(ctx context.Context, sess *Session, content string) *CoreError {
	content, cerr := r.cleanContent(content)
	if cerr != nil {
		return cerr
	}

	msg := &store.GlobalMessage{
		ID:        uuid.NewString(),
		SenderID:  sess.UserID,
		Content:   content,
		CreatedAt: r.now().UTC(),
	}
	if err := r.messages.AppendGlobal(ctx, msg); err != nil {
		r.log.Error().Err(err).Str("user_id", sess.UserID).Msg("append global message")
		return coreError(ErrCodePersistence, "message could not be stored")
	}

	r.publish(ctx, bus.TopicGlobal, proto.ServerEvent{
		Type: proto.EventGlobalMessage,
		Message: &proto.ChatMessage{
			ID:        msg.ID,
			Sender:    proto.Sender{ID: sess.UserID, Username: sess.Username},
			Content:   msg.Content,
			Timestamp: proto.Timestamp(msg.CreatedAt),
		},
	})
	return nil
}

func (r *Router) routePrivate(ctx context.Context, sess *Session, conversationID, content string) *CoreError {
	content, cerr := r.cleanContent(content)
	if cerr != nil {
		return cerr
	}

	conv, cerr := r.authorizedConversation(ctx, sess, conversationID)
	if cerr != nil {
		return cerr
	}

	msg := &store.PrivateMessage{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       sess.UserID,
		Content:        content,
		CreatedAt:      r.now().UTC(),
	}
	if err := r.messages.AppendPrivate(ctx, msg); err != nil {
		r.log.Error().Err(err).Str("conversation_id", conv.ID).Msg("append private message")
		return coreError(ErrCodePersistence, "message could not be stored")
	}

	// Scoped to the conversation topic only; non-participants are never
	// subscribed to it.
	r.publish(ctx, bus.ConversationTopic(conv.ID), proto.ServerEvent{
		Type: proto.EventPrivateMessage,
		Message: &proto.ChatMessage{
			ID:             msg.ID,
			ConversationID: conv.ID,
			Sender:         proto.Sender{ID: sess.UserID, Username: sess.Username},
			Content:        msg.Content,
			Timestamp:      proto.Timestamp(msg.CreatedAt),
		},
	})
	return nil
}

// routeTyping forwards a typing indicator to the conversation topic. Nothing
// is persisted.
func (r *Router) routeTyping(ctx context.Context, sess *Session, conversationID, status string) *CoreError {
	conv, cerr := r.authorizedConversation(ctx, sess, conversationID)
	if cerr != nil {
		return cerr
	}

	r.publish(ctx, bus.ConversationTopic(conv.ID), proto.ServerEvent{
		Type:           proto.EventTypingIndicator,
		UserID:         sess.UserID,
		Username:       sess.Username,
		ConversationID: conv.ID,
		Status:         status,
	})
	return nil
}

func (r *Router) authorizedConversation(ctx context.Context, sess *Session, conversationID string) (*store.Conversation, *CoreError) {
	if conversationID == "" {
		return nil, coreError(ErrCodeValidation, "conversation_id is required")
	}
	conv, err := r.convs.Conversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		// Unknown and foreign conversations look identical to the sender.
		return nil, coreError(ErrCodeAuthorization, "not a participant of this conversation")
	}
	if err != nil {
		r.log.Error().Err(err).Str("conversation_id", conversationID).Msg("load conversation")
		return nil, coreError(ErrCodePersistence, "conversation could not be loaded")
	}
	if !conv.HasParticipant(sess.UserID) {
		return nil, coreError(ErrCodeAuthorization, "not a participant of this conversation")
	}
	return conv, nil
}

// cleanContent strips markup and enforces the length bounds. Length is
// checked after sanitizing so stripped tags cannot smuggle a message past
// the limit.
func (r *Router) cleanContent(content string) (string, *CoreError) {
	content = strings.TrimSpace(r.policy.Sanitize(strings.TrimSpace(content)))
	n := utf8.RuneCountInString(content)
	if n == 0 {
		return "", coreError(ErrCodeValidation, "content must not be empty")
	}
	if n > r.maxLen {
		return "", coreError(ErrCodeValidation, "content exceeds maximum length")
	}
	return content, nil
}

// publish is fire-and-log: the message is already durable, so a bus failure
// only degrades live delivery and must not fail the send.
func (r *Router) publish(ctx context.Context, topic string, event proto.ServerEvent) {
	payload, err := event.Encode()
	if err != nil {
		r.log.Error().Err(err).Str("topic", topic).Msg("encode event")
		return
	}
	if err := r.bus.Publish(ctx, topic, payload); err != nil {
		r.log.Warn().Err(err).Str("topic", topic).Msg("publish event; message persisted but not live-delivered")
	}
}
