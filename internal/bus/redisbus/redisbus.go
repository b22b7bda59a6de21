// Package redisbus fans events out through Redis Pub/Sub so that sessions
// terminated by different server processes all observe the same per-topic
// stream. Redis delivers channel messages to every subscriber in publish
// order, which is exactly the ordering contract the bus requires.
package redisbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/liquidchat-server/internal/bus"
)

const subscriberBuffer = 32

// Bus implements bus.Bus on top of a shared Redis instance.
type Bus struct {
	client *redis.Client
	log    *zerolog.Logger

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, addr string, logger *zerolog.Logger) (*Bus, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Bus{
		client: client,
		log:    logger,
		subs:   make(map[*subscription]struct{}),
	}, nil
}

// Publish sends payload on the Redis channel named by topic.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a dedicated Redis subscription for topic and pumps its
// messages into the returned channel. A slow consumer loses events instead
// of backing up the pump.
func (b *Bus) Subscribe(topic string) (bus.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, bus.ErrBusClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	pubsub := b.client.Subscribe(ctx, topic)
	sub := &subscription{
		bus:    b,
		pubsub: pubsub,
		cancel: cancel,
		ch:     make(chan []byte, subscriberBuffer),
	}
	b.subs[sub] = struct{}{}

	go sub.pump(ctx, topic)
	return sub, nil
}

// Close tears down all subscriptions and the client connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return b.client.Close()
}

type subscription struct {
	bus    *Bus
	pubsub *redis.PubSub
	cancel context.CancelFunc
	ch     chan []byte
	once   sync.Once
}

func (s *subscription) C() <-chan []byte { return s.ch }

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.pubsub.Close()

		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
	})
	return err
}

func (s *subscription) pump(ctx context.Context, topic string) {
	defer close(s.ch)

	msgs := s.pubsub.Channel()
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			select {
			case s.ch <- []byte(msg.Payload):
			default:
				if s.bus.log != nil {
					s.bus.log.Warn().Str("topic", topic).Msg("dropping event for slow subscriber")
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
