// Package jetstream implements broker.Broker on NATS JetStream. Every topic
// is a stream of the same name (dots become underscores) capturing the
// topic as its only subject; every consumer group is a durable pull
// consumer per topic.
package jetstream

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/c360/countertop/broker"
	"github.com/c360/countertop/errors"
	"github.com/c360/countertop/natsclient"
	"github.com/c360/countertop/pkg/retry"
)

// StreamName maps a topic to its JetStream stream name.
func StreamName(topic string) string {
	return strings.ReplaceAll(topic, ".", "_")
}

// DurableName maps a consumer group id to a durable consumer name.
func DurableName(groupID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, groupID)
}

// DefaultInactiveThreshold is how long a durable consumer may go without
// a pull before the server deletes it.
const DefaultInactiveThreshold = 5 * time.Minute

// Option configures a Broker.
type Option func(*Broker)

// WithClientOptions passes options to every client the broker creates.
func WithClientOptions(opts ...natsclient.ClientOption) Option {
	return func(b *Broker) { b.clientOpts = append(b.clientOpts, opts...) }
}

// WithRetry sets the backoff used when connecting handles.
func WithRetry(cfg retry.Config) Option {
	return func(b *Broker) { b.retry = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) { b.logger = logger }
}

// WithStorage selects file or memory storage for created streams.
func WithStorage(s jetstream.StorageType) Option {
	return func(b *Broker) { b.storage = s }
}

// WithInactiveThreshold sets how long an abandoned durable consumer
// survives. Non-positive values keep the default.
func WithInactiveThreshold(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.inactive = d
		}
	}
}

// Broker dials NATS at url. Each handle owns its own connection.
type Broker struct {
	url        string
	clientOpts []natsclient.ClientOption
	retry      retry.Config
	storage    jetstream.StorageType
	inactive   time.Duration
	logger     *slog.Logger
}

var _ broker.Broker = (*Broker)(nil)

// New creates a broker for the NATS server(s) at url.
func New(url string, opts ...Option) *Broker {
	b := &Broker{
		url:     url,
		retry:   retry.Quick(),
		storage:  jetstream.FileStorage,
		inactive: DefaultInactiveThreshold,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Admin returns a new admin handle.
func (b *Broker) Admin() broker.Admin {
	return &admin{conn: conn{b: b, name: "countertop-admin"}}
}

// Producer returns a new producer handle.
func (b *Broker) Producer() broker.Producer {
	return &producer{conn: conn{b: b, name: "countertop-producer"}}
}

// Consumer returns a new consumer handle for groupID.
func (b *Broker) Consumer(groupID string) broker.Consumer {
	return &consumer{conn: conn{b: b, name: "countertop-consumer-" + DurableName(groupID)}, groupID: groupID}
}

func (b *Broker) streamConfig(topic string, retention time.Duration) jetstream.StreamConfig {
	if retention <= 0 {
		retention = broker.DefaultRetention
	}
	return jetstream.StreamConfig{
		Name:      StreamName(topic),
		Subjects:  []string{topic},
		MaxAge:    retention,
		Storage:   b.storage,
		Retention: jetstream.LimitsPolicy,
	}
}

func (b *Broker) consumerConfig(groupID, topic string) jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:           DurableName(groupID),
		FilterSubject:     topic,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		AckPolicy:         jetstream.AckExplicitPolicy,
		InactiveThreshold: b.inactive,
	}
}

type conn struct {
	b    *Broker
	name string

	mu     sync.Mutex
	client *natsclient.Client
}

func (c *conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return nil
	}

	opts := append([]natsclient.ClientOption{
		natsclient.WithName(c.name),
		natsclient.WithLogger(c.b.logger),
	}, c.b.clientOpts...)
	client, err := natsclient.NewClient(c.b.url, opts...)
	if err != nil {
		return err
	}
	if err := client.ConnectWithRetry(ctx, c.b.retry); err != nil {
		return errors.Wrap(err, c.name, "Connect", "connect to "+c.b.url)
	}
	c.client = client
	return nil
}

func (c *conn) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close(ctx)
}

func (c *conn) current(method string) (*natsclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, errors.WrapTransient(errors.ErrNoConnection, c.name, method, "connection check")
	}
	return c.client, nil
}

type admin struct {
	conn
}

func (a *admin) CreateTopics(ctx context.Context, topics []broker.TopicConfig) error {
	client, err := a.current("CreateTopics")
	if err != nil {
		return err
	}
	for _, tc := range topics {
		if _, err := client.EnsureStream(ctx, a.b.streamConfig(tc.Name, tc.Retention)); err != nil {
			return err
		}
	}
	return nil
}

type producer struct {
	conn
}

func (p *producer) Send(ctx context.Context, topic string, value []byte) error {
	client, err := p.current("Send")
	if err != nil {
		return err
	}
	return client.PublishToStream(ctx, topic, value)
}

type consumer struct {
	conn
	groupID string

	subMu     sync.Mutex
	consumers []jetstream.Consumer
	stop      context.CancelFunc
}

func (c *consumer) Disconnect(ctx context.Context) error {
	c.subMu.Lock()
	if c.stop != nil {
		c.stop()
	}
	c.consumers = nil
	c.subMu.Unlock()
	return c.conn.Disconnect(ctx)
}

// Subscribe creates missing topics with the default retention, then a
// durable consumer per topic that starts from the oldest retained message.
// Durables left behind by stopped workers expire after the inactive
// threshold.
func (c *consumer) Subscribe(ctx context.Context, topics []string) error {
	client, err := c.current("Subscribe")
	if err != nil {
		return err
	}
	js, err := client.JetStream()
	if err != nil {
		return err
	}

	for _, topic := range topics {
		stream := StreamName(topic)
		if _, err := js.Stream(ctx, stream); err != nil {
			if !errors.Is(err, jetstream.ErrStreamNotFound) {
				return errors.WrapTransient(err, c.name, "Subscribe", "look up stream "+stream)
			}
			if _, err := client.EnsureStream(ctx, c.b.streamConfig(topic, 0)); err != nil {
				return err
			}
		}

		cons, err := client.EnsureConsumer(ctx, stream, c.b.consumerConfig(c.groupID, topic))
		if err != nil {
			return err
		}
		c.subMu.Lock()
		c.consumers = append(c.consumers, cons)
		c.subMu.Unlock()
	}
	return nil
}

// Run pulls from every subscribed topic. Handler calls are serialized
// across topics. Handled messages are acked; messages whose handler failed
// are terminated so they are not redelivered.
func (c *consumer) Run(ctx context.Context, h broker.Handler) error {
	if _, err := c.current("Run"); err != nil {
		return err
	}

	c.subMu.Lock()
	runCtx, cancel := context.WithCancel(ctx)
	c.stop = cancel
	consumers := append([]jetstream.Consumer(nil), c.consumers...)
	c.subMu.Unlock()
	defer cancel()

	var serial sync.Mutex
	g, gctx := errgroup.WithContext(runCtx)
	for _, cons := range consumers {
		it, err := cons.Messages()
		if err != nil {
			cancel()
			_ = g.Wait()
			return errors.WrapTransient(err, c.name, "Run", "open message iterator")
		}
		go func() {
			<-gctx.Done()
			it.Stop()
		}()

		g.Go(func() error {
			for {
				msg, err := it.Next()
				if err != nil {
					if errors.Is(err, jetstream.ErrMsgIteratorClosed) || gctx.Err() != nil {
						return nil
					}
					c.b.logger.Warn("pull failed", "consumer", c.name, "error", err)
					continue
				}

				serial.Lock()
				herr := h(gctx, broker.Message{Topic: msg.Subject(), Value: msg.Data()})
				serial.Unlock()

				if herr == nil {
					if err := msg.Ack(); err != nil {
						c.b.logger.Warn("ack failed", "consumer", c.name, "error", err)
					}
					continue
				}
				_ = msg.Term()
				if errors.IsFatal(herr) {
					return herr
				}
			}
		})
	}
	return g.Wait()
}
