package countertop

import (
	"log/slog"
	"time"

	"github.com/c360/countertop/appliance"
	"github.com/c360/countertop/broker"
	"github.com/c360/countertop/metric"
	"github.com/c360/countertop/payload"
)

type config struct {
	broker         broker.Broker
	registry       *appliance.Registry
	logger         *slog.Logger
	metrics        *metric.Metrics
	codec          payload.Codec
	retention      time.Duration
	outboxCapacity int
}

func newConfig(opts []Option) *config {
	c := &config{
		logger:         slog.Default(),
		codec:          payload.Binary,
		retention:      broker.DefaultRetention,
		outboxCapacity: appliance.DefaultOutboxCapacity,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option configures a Countertop, a Station or a Topology.
type Option func(*config)

// WithBroker sets the broker workers connect to.
func WithBroker(b broker.Broker) Option {
	return func(c *config) { c.broker = b }
}

// WithRegistry lets AddApplianceByName resolve descriptors.
func WithRegistry(r *appliance.Registry) Option {
	return func(c *config) { c.registry = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables the core metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithCodec selects the wire encoding of payloads on topics.
func WithCodec(codec payload.Codec) Option {
	return func(c *config) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// WithRetention sets how long output topics keep messages.
func WithRetention(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.retention = d
		}
	}
}

// WithOutboxCapacity bounds how many emitted payloads a worker queues
// before the appliance blocks.
func WithOutboxCapacity(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.outboxCapacity = n
		}
	}
}
