package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/vovakirdan/liquidchat-server/internal/bus"
	"github.com/vovakirdan/liquidchat-server/internal/proto"
	"github.com/vovakirdan/liquidchat-server/internal/store"
)

type fakeStore struct {
	global     []store.GlobalMessage
	private    []store.PrivateMessage
	convs      map[string]*store.Conversation
	failAppend bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{convs: make(map[string]*store.Conversation)}
}

func (f *fakeStore) AppendGlobal(_ context.Context, msg *store.GlobalMessage) error {
	if f.failAppend {
		return errors.New("disk full")
	}
	f.global = append(f.global, *msg)
	return nil
}

func (f *fakeStore) AppendPrivate(_ context.Context, msg *store.PrivateMessage) error {
	if f.failAppend {
		return errors.New("disk full")
	}
	f.private = append(f.private, *msg)
	return nil
}

func (f *fakeStore) Conversation(_ context.Context, id string) (*store.Conversation, error) {
	conv, ok := f.convs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return conv, nil
}

func (f *fakeStore) EnsureConversation(_ context.Context, a, b string) (*store.Conversation, error) {
	panic("not used by router")
}

func (f *fakeStore) ConversationsFor(_ context.Context, userID string) ([]store.Conversation, error) {
	var out []store.Conversation
	for _, conv := range f.convs {
		if conv.HasParticipant(userID) {
			out = append(out, *conv)
		}
	}
	return out, nil
}

func newTestRouter(t *testing.T, st *fakeStore) (*Router, *bus.Memory) {
	t.Helper()

	b := bus.NewMemory()
	t.Cleanup(func() { _ = b.Close() })
	return NewRouter(st, st, b, 2000, nopLogger()), b
}

func globalSession() *Session {
	return NewSession("u1", "alice", ScopeGlobal)
}

func TestRouteGlobalPersistsThenPublishes(t *testing.T) {
	st := newFakeStore()
	router, b := newTestRouter(t, st)

	sub, err := b.Subscribe(bus.TopicGlobal)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	cerr := router.Route(context.Background(), globalSession(), proto.ClientFrame{
		Type:    proto.FrameSendGlobal,
		Content: "hello world",
	})
	if cerr != nil {
		t.Fatalf("route failed: %v", cerr)
	}

	if len(st.global) != 1 || st.global[0].Content != "hello world" {
		t.Fatalf("message not persisted: %+v", st.global)
	}

	ev := mustOneEvent(t, sub, proto.EventGlobalMessage)
	if ev.Message == nil || ev.Message.Content != "hello world" || ev.Message.Sender.Username != "alice" {
		t.Fatalf("unexpected event payload: %+v", ev)
	}
	if ev.Message.ID != st.global[0].ID {
		t.Fatalf("event id %s does not match persisted id %s", ev.Message.ID, st.global[0].ID)
	}
}

func TestRouteGlobalStripsMarkup(t *testing.T) {
	st := newFakeStore()
	router, b := newTestRouter(t, st)

	sub, _ := b.Subscribe(bus.TopicGlobal)

	cerr := router.Route(context.Background(), globalSession(), proto.ClientFrame{
		Type:    proto.FrameSendGlobal,
		Content: `hi <script>alert("x")</script>there`,
	})
	if cerr != nil {
		t.Fatalf("route failed: %v", cerr)
	}

	ev := mustOneEvent(t, sub, proto.EventGlobalMessage)
	if strings.Contains(ev.Message.Content, "<script>") || strings.Contains(st.global[0].Content, "<script>") {
		t.Fatalf("markup survived sanitization: %q", ev.Message.Content)
	}
}

func TestRouteRejectsEmptyAndOverlongContent(t *testing.T) {
	st := newFakeStore()
	router, b := newTestRouter(t, st)

	sub, _ := b.Subscribe(bus.TopicGlobal)

	for _, content := range []string{"", "   ", strings.Repeat("x", 2001)} {
		cerr := router.Route(context.Background(), globalSession(), proto.ClientFrame{
			Type:    proto.FrameSendGlobal,
			Content: content,
		})
		if cerr == nil || cerr.Code != ErrCodeValidation {
			t.Fatalf("content %q: expected validation error, got %v", content[:min(len(content), 10)], cerr)
		}
	}

	if len(st.global) != 0 {
		t.Fatalf("invalid content must not be persisted: %+v", st.global)
	}
	if events := collectEvents(t, sub); len(events) != 0 {
		t.Fatalf("invalid content must not be published: %+v", events)
	}
}

func TestRoutePrivateDeliversToConversationTopicOnly(t *testing.T) {
	st := newFakeStore()
	st.convs["c1"] = &store.Conversation{ID: "c1", ParticipantA: "u1", ParticipantB: "u2"}
	router, b := newTestRouter(t, st)

	convSub, _ := b.Subscribe(bus.ConversationTopic("c1"))
	globalSub, _ := b.Subscribe(bus.TopicGlobal)

	sess := NewSession("u1", "alice", ScopePrivate)
	cerr := router.Route(context.Background(), sess, proto.ClientFrame{
		Type:           proto.FrameSendPrivate,
		ConversationID: "c1",
		Content:        "psst",
	})
	if cerr != nil {
		t.Fatalf("route failed: %v", cerr)
	}

	ev := mustOneEvent(t, convSub, proto.EventPrivateMessage)
	if ev.Message == nil || ev.Message.ConversationID != "c1" || ev.Message.Content != "psst" {
		t.Fatalf("unexpected private event: %+v", ev)
	}
	if events := collectEvents(t, globalSub); len(events) != 0 {
		t.Fatalf("private message leaked to the global topic: %+v", events)
	}
	if len(st.private) != 1 {
		t.Fatalf("private message not persisted")
	}
}

func TestRoutePrivateRejectsNonParticipant(t *testing.T) {
	st := newFakeStore()
	st.convs["c1"] = &store.Conversation{ID: "c1", ParticipantA: "u1", ParticipantB: "u2"}
	router, b := newTestRouter(t, st)

	sub, _ := b.Subscribe(bus.ConversationTopic("c1"))

	mallory := NewSession("u3", "mallory", ScopePrivate)
	cerr := router.Route(context.Background(), mallory, proto.ClientFrame{
		Type:           proto.FrameSendPrivate,
		ConversationID: "c1",
		Content:        "let me in",
	})
	if cerr == nil || cerr.Code != ErrCodeAuthorization {
		t.Fatalf("expected authorization error, got %v", cerr)
	}

	if len(st.private) != 0 {
		t.Fatalf("unauthorized message must not be persisted")
	}
	if events := collectEvents(t, sub); len(events) != 0 {
		t.Fatalf("unauthorized message must not be published: %+v", events)
	}
}

func TestRoutePrivateUnknownConversation(t *testing.T) {
	st := newFakeStore()
	router, _ := newTestRouter(t, st)

	cerr := router.Route(context.Background(), globalSession(), proto.ClientFrame{
		Type:           proto.FrameSendPrivate,
		ConversationID: "nope",
		Content:        "hello",
	})
	if cerr == nil || cerr.Code != ErrCodeAuthorization {
		t.Fatalf("expected authorization error for unknown conversation, got %v", cerr)
	}
}

func TestRoutePersistenceFailureSkipsPublish(t *testing.T) {
	st := newFakeStore()
	st.failAppend = true
	router, b := newTestRouter(t, st)

	sub, _ := b.Subscribe(bus.TopicGlobal)

	cerr := router.Route(context.Background(), globalSession(), proto.ClientFrame{
		Type:    proto.FrameSendGlobal,
		Content: "hello",
	})
	if cerr == nil || cerr.Code != ErrCodePersistence {
		t.Fatalf("expected persistence error, got %v", cerr)
	}
	if events := collectEvents(t, sub); len(events) != 0 {
		t.Fatalf("failed persist must not publish: %+v", events)
	}
}

func TestRouteTypingIndicatorForwardedNotPersisted(t *testing.T) {
	st := newFakeStore()
	st.convs["c1"] = &store.Conversation{ID: "c1", ParticipantA: "u1", ParticipantB: "u2"}
	router, b := newTestRouter(t, st)

	sub, _ := b.Subscribe(bus.ConversationTopic("c1"))

	sess := NewSession("u1", "alice", ScopePrivate)
	if cerr := router.Route(context.Background(), sess, proto.ClientFrame{
		Type:           proto.FrameTypingStart,
		ConversationID: "c1",
	}); cerr != nil {
		t.Fatalf("route failed: %v", cerr)
	}

	ev := mustOneEvent(t, sub, proto.EventTypingIndicator)
	if ev.Status != proto.TypingStarted || ev.UserID != "u1" {
		t.Fatalf("unexpected typing event: %+v", ev)
	}
	if len(st.private) != 0 || len(st.global) != 0 {
		t.Fatalf("typing indicators must not be persisted")
	}
}

func TestRouteUnknownTypeIsProtocolError(t *testing.T) {
	st := newFakeStore()
	router, _ := newTestRouter(t, st)

	cerr := router.Route(context.Background(), globalSession(), proto.ClientFrame{Type: "subscribe_firehose"})
	if cerr == nil || cerr.Code != ErrCodeProtocol {
		t.Fatalf("expected protocol error, got %v", cerr)
	}
}
