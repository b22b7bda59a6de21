package core

import (
	"testing"
	"time"

	"github.com/vovakirdan/liquidchat-server/internal/bus"
	"github.com/vovakirdan/liquidchat-server/internal/proto"
)

func newTestTracker(t *testing.T, expiry time.Duration) (*PresenceTracker, bus.Subscription) {
	t.Helper()

	b := bus.NewMemory()
	t.Cleanup(func() { _ = b.Close() })

	sub, err := b.Subscribe(bus.TopicGlobal)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return NewPresenceTracker(expiry, b, nopLogger()), sub
}

func TestPresenceFirstSessionGoesOnline(t *testing.T) {
	tracker, sub := newTestTracker(t, time.Minute)
	now := time.Now()

	tracker.Register("u1", "alice", "s1", now)

	ev := mustOneEvent(t, sub, proto.EventUserPresence)
	if ev.UserID != "u1" || ev.Username != "alice" || ev.Status != proto.StatusOnline {
		t.Fatalf("unexpected presence event: %+v", ev)
	}
	if !tracker.Online("u1") {
		t.Fatalf("user should be online")
	}
}

func TestPresenceSecondSessionEmitsNothing(t *testing.T) {
	tracker, sub := newTestTracker(t, time.Minute)
	now := time.Now()

	tracker.Register("u1", "alice", "s1", now)
	mustOneEvent(t, sub, proto.EventUserPresence)

	// Second device: still online, no new transition.
	tracker.Register("u1", "alice", "s2", now)
	if events := collectEvents(t, sub); len(events) != 0 {
		t.Fatalf("expected no transition for second session, got %+v", events)
	}

	// Dropping one of two sessions keeps the user online.
	if tracker.Unregister("u1", "s1", now) {
		t.Fatalf("user still has a session, should not go offline")
	}
	if events := collectEvents(t, sub); len(events) != 0 {
		t.Fatalf("expected no transition, got %+v", events)
	}

	if !tracker.Unregister("u1", "s2", now) {
		t.Fatalf("last session removal should go offline")
	}
	ev := mustOneEvent(t, sub, proto.EventUserPresence)
	if ev.Status != proto.StatusOffline {
		t.Fatalf("expected offline event, got %+v", ev)
	}
}

func TestPresenceSweepExpiresStaleSessions(t *testing.T) {
	tracker, sub := newTestTracker(t, time.Minute)
	start := time.Now()

	tracker.Register("u1", "alice", "s1", start)
	tracker.Register("u1", "alice", "s2", start)
	mustOneEvent(t, sub, proto.EventUserPresence)

	// One fresh session keeps the user online.
	tracker.Heartbeat("u1", "s2", start.Add(30*time.Second))
	if expired := tracker.Sweep(start.Add(70 * time.Second)); len(expired) != 0 {
		t.Fatalf("user with a fresh heartbeat should survive the sweep: %+v", expired)
	}

	// Both sessions stale now.
	expired := tracker.Sweep(start.Add(2 * time.Hour))
	if len(expired) != 1 || expired[0].UserID != "u1" {
		t.Fatalf("expected u1 to expire, got %+v", expired)
	}
	ev := mustOneEvent(t, sub, proto.EventUserPresence)
	if ev.Status != proto.StatusOffline {
		t.Fatalf("expected offline event, got %+v", ev)
	}

	// Second sweep must not re-announce.
	if expired := tracker.Sweep(start.Add(3 * time.Hour)); len(expired) != 0 {
		t.Fatalf("already-offline user expired again: %+v", expired)
	}
	if events := collectEvents(t, sub); len(events) != 0 {
		t.Fatalf("expected no duplicate offline event, got %+v", events)
	}
}

func TestPresenceHeartbeatRevivesExpiredUser(t *testing.T) {
	tracker, sub := newTestTracker(t, time.Minute)
	start := time.Now()

	tracker.Register("u1", "alice", "s1", start)
	mustOneEvent(t, sub, proto.EventUserPresence)

	tracker.Sweep(start.Add(2 * time.Minute))
	ev := mustOneEvent(t, sub, proto.EventUserPresence)
	if ev.Status != proto.StatusOffline {
		t.Fatalf("expected offline event, got %+v", ev)
	}

	// Late heartbeat from the still-open connection flips the user back.
	tracker.Heartbeat("u1", "s1", start.Add(3*time.Minute))
	ev = mustOneEvent(t, sub, proto.EventUserPresence)
	if ev.Status != proto.StatusOnline {
		t.Fatalf("expected online event after revival, got %+v", ev)
	}
}

func TestPresenceUnknownSessionHeartbeatIgnored(t *testing.T) {
	tracker, sub := newTestTracker(t, time.Minute)

	tracker.Heartbeat("ghost", "s1", time.Now())
	if events := collectEvents(t, sub); len(events) != 0 {
		t.Fatalf("heartbeat for unknown session should emit nothing, got %+v", events)
	}
	if tracker.Online("ghost") {
		t.Fatalf("unknown user should not be online")
	}
}
