package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/liquidchat-server/internal/bus"
	"github.com/vovakirdan/liquidchat-server/internal/proto"
)

// Transition is one user flipping between online and offline.
type Transition struct {
	UserID   string
	Username string
	Status   string // proto.StatusOnline or proto.StatusOffline
}

// PresenceTracker derives per-user online state from session registrations
// and heartbeats. A user is online while at least one of their sessions has
// a heartbeat younger than the expiry; every transition is published exactly
// once on the global topic. State is process-local.
type PresenceTracker struct {
	expiry time.Duration
	bus    bus.Bus
	log    *zerolog.Logger

	mu    sync.Mutex
	users map[string]*userPresence
}

type userPresence struct {
	username string
	online   bool
	sessions map[string]time.Time // sessionID -> last heartbeat
}

// NewPresenceTracker builds a tracker that publishes transitions on b.
func NewPresenceTracker(expiry time.Duration, b bus.Bus, logger *zerolog.Logger) *PresenceTracker {
	return &PresenceTracker{
		expiry: expiry,
		bus:    b,
		log:    logger,
		users:  make(map[string]*userPresence),
	}
}

// Register adds a session for the user, marking them online if this is the
// first live session.
func (t *PresenceTracker) Register(userID, username, sessionID string, now time.Time) {
	t.mu.Lock()
	up, ok := t.users[userID]
	if !ok {
		up = &userPresence{username: username, sessions: make(map[string]time.Time)}
		t.users[userID] = up
	}
	up.username = username
	up.sessions[sessionID] = now

	var transition *Transition
	if !up.online {
		up.online = true
		transition = &Transition{UserID: userID, Username: username, Status: proto.StatusOnline}
	}
	t.mu.Unlock()

	t.publish(transition)
}

// Unregister removes a session. It returns true when this was the user's
// last session, i.e. they just went offline.
func (t *PresenceTracker) Unregister(userID, sessionID string, now time.Time) bool {
	t.mu.Lock()
	up, ok := t.users[userID]
	if !ok {
		t.mu.Unlock()
		return false
	}
	delete(up.sessions, sessionID)

	var transition *Transition
	wentOffline := false
	if len(up.sessions) == 0 {
		delete(t.users, userID)
		wentOffline = up.online
		if up.online {
			transition = &Transition{UserID: userID, Username: up.username, Status: proto.StatusOffline}
		}
	}
	t.mu.Unlock()

	t.publish(transition)
	return wentOffline
}

// Heartbeat refreshes a session's liveness. A heartbeat arriving after the
// user expired flips them back online and announces the transition.
func (t *PresenceTracker) Heartbeat(userID, sessionID string, now time.Time) {
	t.mu.Lock()
	up, ok := t.users[userID]
	if !ok {
		t.mu.Unlock()
		return
	}
	if _, known := up.sessions[sessionID]; !known {
		t.mu.Unlock()
		return
	}
	up.sessions[sessionID] = now

	var transition *Transition
	if !up.online {
		up.online = true
		transition = &Transition{UserID: userID, Username: up.username, Status: proto.StatusOnline}
	}
	t.mu.Unlock()

	t.publish(transition)
}

// Sweep expires users whose every session's heartbeat is older than the
// expiry. Sessions stay registered so a late heartbeat can revive them.
// Returns the users that just went offline.
func (t *PresenceTracker) Sweep(now time.Time) []Transition {
	t.mu.Lock()
	var expired []Transition
	for userID, up := range t.users {
		if !up.online {
			continue
		}
		alive := false
		for _, lastSeen := range up.sessions {
			if now.Sub(lastSeen) < t.expiry {
				alive = true
				break
			}
		}
		if !alive {
			up.online = false
			expired = append(expired, Transition{
				UserID:   userID,
				Username: up.username,
				Status:   proto.StatusOffline,
			})
		}
	}
	t.mu.Unlock()

	for i := range expired {
		t.publish(&expired[i])
	}
	return expired
}

// Online reports the user's derived status.
func (t *PresenceTracker) Online(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	up, ok := t.users[userID]
	return ok && up.online
}

func (t *PresenceTracker) publish(tr *Transition) {
	if tr == nil {
		return
	}
	payload, err := proto.ServerEvent{
		Type:     proto.EventUserPresence,
		UserID:   tr.UserID,
		Username: tr.Username,
		Status:   tr.Status,
	}.Encode()
	if err != nil {
		t.log.Error().Err(err).Msg("encode presence event")
		return
	}
	if err := t.bus.Publish(context.Background(), bus.TopicGlobal, payload); err != nil {
		t.log.Warn().Err(err).Str("user_id", tr.UserID).Msg("publish presence event")
	}
}
