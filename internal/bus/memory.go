package bus

import (
	"context"
	"sync"
)

const subscriberBuffer = 32

// Memory is a process-local Bus. Publish holds the topic lock for the whole
// delivery pass, which gives subscribers publish order per topic.
type Memory struct {
	mu     sync.Mutex
	topics map[string]map[*memorySub]struct{}
	closed bool
}

// NewMemory constructs an empty in-process bus.
func NewMemory() *Memory {
	return &Memory{topics: make(map[string]map[*memorySub]struct{})}
}

// Publish delivers payload to every current subscriber of topic. Subscribers
// that cannot keep up lose the event rather than stalling the publisher.
func (m *Memory) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrBusClosed
	}
	for sub := range m.topics[topic] {
		select {
		case sub.ch <- payload:
		default:
			// Drop if slow consumer.
		}
	}
	return nil
}

// Subscribe registers a new subscriber for topic.
func (m *Memory) Subscribe(topic string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrBusClosed
	}
	sub := &memorySub{
		bus:   m,
		topic: topic,
		ch:    make(chan []byte, subscriberBuffer),
	}
	if m.topics[topic] == nil {
		m.topics[topic] = make(map[*memorySub]struct{})
	}
	m.topics[topic][sub] = struct{}{}
	return sub, nil
}

// Close drops all subscriptions and rejects further publishes.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for topic, subs := range m.topics {
		for sub := range subs {
			close(sub.ch)
		}
		delete(m.topics, topic)
	}
	return nil
}

type memorySub struct {
	bus   *Memory
	topic string
	ch    chan []byte
	once  sync.Once
}

func (s *memorySub) C() <-chan []byte { return s.ch }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if subs, ok := s.bus.topics[s.topic]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.bus.topics, s.topic)
			}
			close(s.ch)
		}
	})
	return nil
}
