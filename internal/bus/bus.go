// Package bus is the fan-out medium between connection gateways. Events
// published to a topic reach every subscriber of that topic in publish order;
// delivery is best-effort and nothing is queued for absent subscribers.
package bus

import (
	"context"
	"errors"
)

// ErrBusClosed is returned by operations on a closed bus.
var ErrBusClosed = errors.New("bus closed")

// TopicGlobal carries global room messages and presence transitions.
const TopicGlobal = "chat:global"

// ConversationTopic names the per-conversation channel.
func ConversationTopic(conversationID string) string {
	return "chat:conv:" + conversationID
}

// Bus publishes opaque payloads to named topics and hands out subscriptions.
// Implementations must preserve publish order within a single topic; no
// ordering is promised across topics.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string) (Subscription, error)
	Close() error
}

// Subscription is one subscriber's feed for one topic. Close releases it;
// after Close the channel is drained and closed.
type Subscription interface {
	C() <-chan []byte
	Close() error
}
