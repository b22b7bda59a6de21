package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/liquidchat-server/internal/bus"
	"github.com/vovakirdan/liquidchat-server/internal/proto"
)

func nopLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

// collectEvents decodes every event currently buffered on the subscription.
func collectEvents(t *testing.T, sub bus.Subscription) []proto.ServerEvent {
	t.Helper()

	var events []proto.ServerEvent
	for {
		select {
		case payload := <-sub.C():
			var ev proto.ServerEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				t.Fatalf("unmarshal event: %v", err)
			}
			events = append(events, ev)
		case <-time.After(50 * time.Millisecond):
			return events
		}
	}
}

// mustOneEvent asserts exactly one event of the given type is buffered.
func mustOneEvent(t *testing.T, sub bus.Subscription, eventType string) proto.ServerEvent {
	t.Helper()

	events := collectEvents(t, sub)
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 event, got %d: %+v", len(events), events)
	}
	if events[0].Type != eventType {
		t.Fatalf("expected %s event, got %s", eventType, events[0].Type)
	}
	return events[0]
}
