package natsclient

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/countertop/errors"
	"github.com/c360/countertop/pkg/retry"
)

// ConnectionStatus is the state of the client's NATS connection.
type ConnectionStatus int32

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Client owns one NATS connection and its JetStream context. Repeated
// connection failures open a circuit breaker that rejects attempts until
// its backoff expires.
type Client struct {
	url    string
	opts   options
	logger *slog.Logger

	status          atomic.Int32
	failures        atomic.Int32
	circuitFailures atomic.Int32
	backoff         atomic.Int64
	lastFailure     atomic.Int64

	mu     sync.RWMutex
	conn   *nats.Conn
	js     jetstream.JetStream
	closed bool

	metrics      *jetstreamMetrics
	stopPolling  context.CancelFunc
	healthCancel context.CancelFunc
}

// NewClient creates an unconnected client for url, which may hold several
// comma-separated server addresses.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Client", "NewClient", "validate url")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{url: url, opts: o, logger: o.logger.With("component", "natsclient")}
	c.backoff.Store(int64(time.Second))

	m, err := newJetStreamMetrics(o.registry)
	if err != nil {
		return nil, errors.Wrap(err, "Client", "NewClient", "register jetstream metrics")
	}
	c.metrics = m
	return c, nil
}

// URL is the server address the client dials.
func (c *Client) URL() string { return c.url }

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus { return ConnectionStatus(c.status.Load()) }

// IsHealthy reports whether the connection is up.
func (c *Client) IsHealthy() bool { return c.Status() == StatusConnected }

// Failures is the number of connection failures since the last success.
func (c *Client) Failures() int32 { return c.failures.Load() }

// Backoff is how long an opened circuit stays open.
func (c *Client) Backoff() time.Duration { return time.Duration(c.backoff.Load()) }

func (c *Client) setStatus(s ConnectionStatus) { c.status.Store(int32(s)) }

func (c *Client) recordFailure() {
	c.failures.Add(1)
	c.lastFailure.Store(time.Now().UnixNano())

	if c.circuitFailures.Add(1) < c.opts.circuitThreshold {
		return
	}
	c.circuitFailures.Store(0)

	current := c.Backoff()
	c.backoff.Store(int64(min(current*2, c.opts.maxBackoff)))

	prev := c.Status()
	if prev != StatusCircuitOpen && c.status.CompareAndSwap(int32(prev), int32(StatusCircuitOpen)) {
		c.logger.Warn("circuit breaker opened", "failures", c.Failures(), "backoff", current)
		time.AfterFunc(current, c.halfOpen)
	}
}

func (c *Client) resetCircuit() {
	c.failures.Store(0)
	c.circuitFailures.Store(0)
	c.backoff.Store(int64(time.Second))
	c.lastFailure.Store(0)
	c.status.CompareAndSwap(int32(StatusCircuitOpen), int32(StatusDisconnected))
}

// halfOpen lets the next Connect through after a backoff.
func (c *Client) halfOpen() {
	if c.status.CompareAndSwap(int32(StatusCircuitOpen), int32(StatusDisconnected)) {
		c.logger.Debug("circuit breaker half-open")
	}
}

func (c *Client) natsOptions() []nats.Option {
	o := c.opts
	opts := []nats.Option{
		nats.Name(o.name),
		nats.Timeout(o.timeout),
		nats.MaxReconnects(o.maxReconnects),
		nats.ReconnectWait(o.reconnectWait),
		nats.PingInterval(o.pingInterval),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.setStatus(StatusReconnecting)
			c.logger.Warn("disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			c.setStatus(StatusConnected)
			c.logger.Info("reconnected to NATS", "url", conn.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			c.setStatus(StatusDisconnected)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			c.logger.Error("NATS async error", "error", err)
		}),
	}
	if o.username != "" {
		opts = append(opts, nats.UserInfo(o.username, o.password))
	}
	if o.token != "" {
		opts = append(opts, nats.Token(o.token))
	}
	if o.tlsConfig != nil {
		opts = append(opts, nats.Secure(o.tlsConfig))
	}
	return opts
}

// Connect dials the server once.
func (c *Client) Connect(ctx context.Context) error {
	if c.Status() == StatusCircuitOpen {
		return errors.WrapTransient(errors.ErrCircuitOpen, "Client", "Connect", "circuit check")
	}
	if c.IsHealthy() {
		return nil
	}
	c.setStatus(StatusConnecting)

	type result struct {
		conn *nats.Conn
		js   jetstream.JetStream
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.natsOptions()...)
		if err != nil {
			done <- result{err: err}
			return
		}
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			done <- result{err: err}
			return
		}
		done <- result{conn: conn, js: js}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		r.err = ctx.Err()
		go func() {
			if late := <-done; late.conn != nil {
				late.conn.Close()
			}
		}()
	}
	if r.err != nil {
		if c.Status() == StatusConnecting {
			c.setStatus(StatusDisconnected)
		}
		c.recordFailure()
		return errors.WrapTransient(r.err, "Client", "Connect", "establish connection")
	}

	c.mu.Lock()
	c.conn, c.js, c.closed = r.conn, r.js, false
	if c.metrics != nil && c.opts.metricsInterval > 0 {
		c.stopPolling = c.metrics.startPoller(context.Background(), c.opts.metricsInterval)
	}
	if c.opts.healthInterval > 0 {
		c.startHealthMonitoring()
	}
	c.mu.Unlock()

	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.logger.Info("connected to NATS", "url", c.url)
	return nil
}

// ConnectWithRetry calls Connect with backoff. Attempts rejected by an open
// circuit count as failures and are retried after the backoff.
func (c *Client) ConnectWithRetry(ctx context.Context, cfg retry.Config) error {
	return retry.Do(ctx, cfg, func() error {
		return c.Connect(ctx)
	})
}

// WaitForConnection blocks until the client is connected or ctx ends.
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for !c.IsHealthy() {
		select {
		case <-ctx.Done():
			return errors.WrapTransient(errors.ErrConnectionTimeout, "Client", "WaitForConnection", "wait")
		case <-ticker.C:
		}
	}
	return nil
}

// Close drains the connection. Calling it more than once is safe.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.conn == nil {
		c.closed = true
		return nil
	}
	c.closed = true

	if c.healthCancel != nil {
		c.healthCancel()
	}
	if c.stopPolling != nil {
		c.stopPolling()
	}

	conn := c.conn
	c.conn, c.js = nil, nil

	drained := make(chan struct{})
	if err := conn.Drain(); err != nil {
		conn.Close()
		c.setStatus(StatusDisconnected)
		return errors.Wrap(err, "Client", "Close", "drain connection")
	}
	go func() {
		for !conn.IsClosed() {
			time.Sleep(10 * time.Millisecond)
		}
		close(drained)
	}()

	timeout := time.NewTimer(c.opts.drainTimeout)
	defer timeout.Stop()
	select {
	case <-drained:
	case <-timeout.C:
		conn.Close()
	case <-ctx.Done():
		conn.Close()
	}
	c.setStatus(StatusDisconnected)
	return nil
}

// Conn returns the raw connection, or nil when disconnected.
func (c *Client) Conn() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// JetStream returns the JetStream context of the live connection.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.js == nil {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "Client", "JetStream", "connection check")
	}
	return c.js, nil
}

// RTT measures the round trip to the server.
func (c *Client) RTT() (time.Duration, error) {
	conn := c.Conn()
	if conn == nil {
		return 0, errors.WrapTransient(errors.ErrNoConnection, "Client", "RTT", "connection check")
	}
	return conn.RTT()
}

// EnsureStream creates the stream or updates it to cfg.
func (c *Client) EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}
	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		c.metrics.recordError("ensure_stream")
		return nil, errors.WrapTransient(err, "Client", "EnsureStream", fmt.Sprintf("create stream %s", cfg.Name))
	}
	c.metrics.trackStream(cfg.Name, stream)
	return stream, nil
}

// StreamNames lists the streams on the server.
func (c *Client) StreamNames(ctx context.Context) ([]string, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}
	var names []string
	lister := js.StreamNames(ctx)
	for name := range lister.Name() {
		names = append(names, name)
	}
	if err := lister.Err(); err != nil {
		return nil, errors.WrapTransient(err, "Client", "StreamNames", "list streams")
	}
	return names, nil
}

// PublishToStream publishes data and waits for the stream's ack.
func (c *Client) PublishToStream(ctx context.Context, subject string, data []byte) error {
	js, err := c.JetStream()
	if err != nil {
		return err
	}
	if _, err := js.Publish(ctx, subject, data); err != nil {
		c.metrics.recordError("publish")
		return errors.WrapTransient(err, "Client", "PublishToStream", fmt.Sprintf("publish to %s", subject))
	}
	return nil
}

// EnsureConsumer creates or updates a durable consumer on stream.
func (c *Client) EnsureConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}
	cons, err := js.CreateOrUpdateConsumer(ctx, stream, cfg)
	if err != nil {
		c.metrics.recordError("ensure_consumer")
		return nil, errors.WrapTransient(err, "Client", "EnsureConsumer",
			fmt.Sprintf("create consumer %s on %s", cfg.Durable, stream))
	}
	c.metrics.trackConsumer(stream, cfg.Durable, cons)
	return cons, nil
}

// CreateKeyValueBucket returns the named bucket, creating it from cfg when
// it does not exist yet.
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}
	if bucket, err := js.KeyValue(ctx, cfg.Bucket); err == nil {
		return bucket, nil
	}

	bucket, err := js.CreateKeyValue(ctx, cfg)
	if err != nil && isAlreadyExistsError(err) {
		// Lost a creation race; the bucket is there now.
		bucket, err = js.KeyValue(ctx, cfg.Bucket)
	}
	if err != nil {
		c.metrics.recordError("create_bucket")
		return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket", fmt.Sprintf("create bucket %s", cfg.Bucket))
	}
	c.logger.Debug("using KV bucket", "bucket", cfg.Bucket)
	return bucket, nil
}

// startHealthMonitoring must be called with c.mu held.
func (c *Client) startHealthMonitoring() {
	ctx, cancel := context.WithCancel(context.Background())
	c.healthCancel = cancel

	go func() {
		ticker := time.NewTicker(c.opts.healthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.RTT(); err != nil {
					c.logger.Warn("NATS health check failed", "error", err)
				}
			}
		}
	}()
}

func isAlreadyExistsError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "already in use") || strings.Contains(msg, "already exists")
}
