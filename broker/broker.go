// Package broker defines the topic-based publish/subscribe surface a
// Countertop worker needs: an admin handle that creates topics, a producer
// that sends to them and a consumer that subscribes and runs a consume
// loop. Implementations live in broker/jetstream (NATS JetStream) and
// broker/memory (in-process).
package broker

import (
	"context"
	"time"
)

// DefaultRetention bounds how long a topic keeps messages. Topics carry a
// live pipeline, not an archive.
const DefaultRetention = 30 * time.Second

// MaxTopicLength is the longest topic name a broker accepts.
const MaxTopicLength = 255

// Message is one record received from a topic.
type Message struct {
	Topic string
	Value []byte
}

// TopicConfig describes a topic to create.
type TopicConfig struct {
	Name      string
	Retention time.Duration
}

// Handler processes one message. The consumer does not deliver the next
// message until Handler returns. A fatal error ends the consume loop;
// other errors fail only that message.
type Handler func(ctx context.Context, msg Message) error

// Admin manages topics.
type Admin interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	// CreateTopics creates missing topics; existing topics are not an error.
	CreateTopics(ctx context.Context, topics []TopicConfig) error
}

// Producer sends records.
type Producer interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Send(ctx context.Context, topic string, value []byte) error
}

// Consumer receives records for one consumer group.
type Consumer interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Subscribe(ctx context.Context, topics []string) error
	// Run blocks, handing messages to h one at a time, until ctx is
	// cancelled or h returns a fatal error.
	Run(ctx context.Context, h Handler) error
}

// Broker hands out handles. Every call returns a new, unconnected handle
// owned by the caller.
type Broker interface {
	Admin() Admin
	Producer() Producer
	Consumer(groupID string) Consumer
}
