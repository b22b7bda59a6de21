package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/liquidchat-server/internal/auth"
	"github.com/vovakirdan/liquidchat-server/internal/bus"
	"github.com/vovakirdan/liquidchat-server/internal/core"
	"github.com/vovakirdan/liquidchat-server/internal/proto"
	"github.com/vovakirdan/liquidchat-server/internal/store"
)

// StatusAuthFailure is the close code sent when token verification fails.
const StatusAuthFailure websocket.StatusCode = 4001

// sessionEventBuffer bounds the merged per-session event feed.
const sessionEventBuffer = 64

// Gateway owns the lifecycle of client WebSocket connections: handshake and
// token verification, presence registration, topic subscriptions, and the
// bridge between client frames and the router/bus.
type Gateway struct {
	tokens   *auth.Service
	router   *core.Router
	limiter  *core.RateLimiter
	presence *core.PresenceTracker
	bus      bus.Bus
	convs    store.ConversationDirectory
	users    store.UserDirectory
	log      *zerolog.Logger
}

// NewGateway wires the gateway to its collaborators.
func NewGateway(
	tokens *auth.Service,
	router *core.Router,
	limiter *core.RateLimiter,
	presence *core.PresenceTracker,
	b bus.Bus,
	convs store.ConversationDirectory,
	users store.UserDirectory,
	logger *zerolog.Logger,
) *Gateway {
	return &Gateway{
		tokens:   tokens,
		router:   router,
		limiter:  limiter,
		presence: presence,
		bus:      b,
		convs:    convs,
		users:    users,
		log:      logger,
	}
}

// Handler returns the gin handler serving one WebSocket endpoint scope.
func (g *Gateway) Handler(scope core.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		g.serve(c.Writer, c.Request, scope)
	}
}

func (g *Gateway) serve(w stdhttp.ResponseWriter, r *stdhttp.Request, scope core.Scope) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		g.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	identity, err := g.tokens.Verify(ctx, r.URL.Query().Get("token"))
	if err != nil {
		g.log.Debug().Err(err).Msg("ws token rejected")
		conn.Close(StatusAuthFailure, "authentication failed")
		return
	}

	sess := core.NewSession(identity.UserID, identity.Username, scope)
	logger := g.log.With().
		Str("session_id", sess.ID).
		Str("user_id", sess.UserID).
		Str("scope", string(scope)).
		Logger()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, closeSubs, err := g.subscribe(ctx, sess)
	if err != nil {
		logger.Error().Err(err).Msg("subscribe session topics")
		conn.Close(websocket.StatusInternalError, "subscription failure")
		return
	}
	defer closeSubs()

	g.presence.Register(sess.UserID, sess.Username, sess.ID, time.Now())
	defer g.unregister(sess)

	logger.Info().Msg("session opened")

	errCh := make(chan error, 2)
	go func() {
		errCh <- recoverLoop(func() error { return g.readLoop(ctx, conn, sess) })
	}()
	go func() {
		errCh <- recoverLoop(func() error { return g.writeLoop(ctx, conn, sess, events) })
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "connection error"
			logger.Warn().Err(err).Msg("session closed with error")
		}
	}

	logger.Info().Msg("session closed")
	conn.Close(status, reason)
}

// recoverLoop converts a loop panic into an error so the session's deferred
// cleanup still runs and other connections stay unaffected.
func recoverLoop(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("frame handling panic: %v", rec)
		}
	}()
	return fn()
}

// subscribe attaches the session to its topics: the global topic always, and
// for private scope one topic per conversation the user participates in. All
// feeds merge into a single channel for the write loop; per-topic order is
// preserved by the one-forwarder-per-topic layout.
func (g *Gateway) subscribe(ctx context.Context, sess *core.Session) (<-chan []byte, func(), error) {
	topics := []string{bus.TopicGlobal}
	if sess.Scope == core.ScopePrivate {
		convs, err := g.convs.ConversationsFor(ctx, sess.UserID)
		if err != nil {
			return nil, nil, fmt.Errorf("list conversations: %w", err)
		}
		for _, conv := range convs {
			topics = append(topics, bus.ConversationTopic(conv.ID))
		}
	}

	events := make(chan []byte, sessionEventBuffer)
	subs := make([]bus.Subscription, 0, len(topics))
	for _, topic := range topics {
		sub, err := g.bus.Subscribe(topic)
		if err != nil {
			for _, s := range subs {
				_ = s.Close()
			}
			return nil, nil, fmt.Errorf("subscribe %s: %w", topic, err)
		}
		subs = append(subs, sub)

		go func(sub bus.Subscription) {
			for payload := range sub.C() {
				select {
				case events <- payload:
				case <-ctx.Done():
					return
				}
			}
		}(sub)
	}

	closeSubs := func() {
		for _, s := range subs {
			_ = s.Close()
		}
	}
	return events, closeSubs, nil
}

func (g *Gateway) unregister(sess *core.Session) {
	if !g.presence.Unregister(sess.UserID, sess.ID, time.Now()) {
		return
	}
	// Last session for this user is gone.
	g.limiter.Forget(sess.UserID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.users.TouchLastSeen(ctx, sess.UserID, time.Now()); err != nil {
		g.log.Warn().Err(err).Str("user_id", sess.UserID).Msg("update last_seen")
	}
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, sess *core.Session) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			if err := g.writeError(ctx, conn, core.ErrCodeProtocol, "text frames only"); err != nil {
				return err
			}
			continue
		}

		var frame proto.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			if err := g.writeError(ctx, conn, core.ErrCodeProtocol, "malformed frame"); err != nil {
				return err
			}
			continue
		}

		if err := g.handleFrame(ctx, conn, sess, frame); err != nil {
			return err
		}
	}
}

// handleFrame dispatches one decoded client frame. Returned errors are
// connection-fatal (write failures); everything else is answered with a
// non-fatal error frame.
func (g *Gateway) handleFrame(ctx context.Context, conn *websocket.Conn, sess *core.Session, frame proto.ClientFrame) error {
	switch frame.Type {
	case proto.FrameHeartbeat:
		g.presence.Heartbeat(sess.UserID, sess.ID, time.Now())
		return nil

	case proto.FrameSendGlobal, proto.FrameSendPrivate:
		if !g.limiter.Allow(sess.UserID, time.Now()) {
			return g.writeError(ctx, conn, core.ErrCodeRateLimited, "message rate limit exceeded")
		}
		if cerr := g.router.Route(ctx, sess, frame); cerr != nil {
			return g.writeError(ctx, conn, cerr.Code, cerr.Detail)
		}
		return nil

	case proto.FrameTypingStart, proto.FrameTypingStop:
		if cerr := g.router.Route(ctx, sess, frame); cerr != nil {
			return g.writeError(ctx, conn, cerr.Code, cerr.Detail)
		}
		return nil

	default:
		return g.writeError(ctx, conn, core.ErrCodeProtocol, "unknown frame type")
	}
}

func (g *Gateway) writeLoop(ctx context.Context, conn *websocket.Conn, sess *core.Session, events <-chan []byte) error {
	for {
		select {
		case payload := <-events:
			if !g.wantsEvent(sess, payload) {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// wantsEvent filters bus events per session: nobody hears their own presence
// transitions, and private-scope sessions keep their global subscription for
// presence only.
func (g *Gateway) wantsEvent(sess *core.Session, payload []byte) bool {
	var head struct {
		Type   string `json:"type"`
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return false
	}
	switch head.Type {
	case proto.EventUserPresence:
		return head.UserID != sess.UserID
	case proto.EventGlobalMessage:
		return sess.Scope == core.ScopeGlobal
	case proto.EventTypingIndicator:
		return head.UserID != sess.UserID
	default:
		return true
	}
}

func (g *Gateway) writeError(ctx context.Context, conn *websocket.Conn, code, detail string) error {
	payload, err := proto.ErrorEvent(code, detail).Encode()
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}
