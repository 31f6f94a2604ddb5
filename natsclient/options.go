package natsclient

import (
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/c360/countertop/metric"
)

type options struct {
	name             string
	timeout          time.Duration
	drainTimeout     time.Duration
	maxReconnects    int
	reconnectWait    time.Duration
	pingInterval     time.Duration
	healthInterval   time.Duration
	circuitThreshold int32
	maxBackoff       time.Duration
	username         string
	password         string
	token            string
	tlsConfig        *tls.Config
	logger           *slog.Logger
	registry         *metric.MetricsRegistry
	metricsInterval  time.Duration
}

func defaultOptions() options {
	return options{
		name:             "countertop",
		timeout:          5 * time.Second,
		drainTimeout:     10 * time.Second,
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     20 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		logger:           slog.Default(),
		metricsInterval:  15 * time.Second,
	}
}

// ClientOption configures a Client.
type ClientOption func(*options)

// WithName sets the connection name shown in server monitoring.
func WithName(name string) ClientOption {
	return func(o *options) { o.name = name }
}

// WithTimeout bounds the initial dial.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *options) { o.timeout = d }
}

// WithDrainTimeout bounds Close.
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(o *options) { o.drainTimeout = d }
}

// WithMaxReconnects sets how often a lost connection is redialed; -1 is
// unlimited.
func WithMaxReconnects(n int) ClientOption {
	return func(o *options) { o.maxReconnects = n }
}

// WithReconnectWait sets the pause between redials.
func WithReconnectWait(d time.Duration) ClientOption {
	return func(o *options) { o.reconnectWait = d }
}

// WithPingInterval sets the server ping interval.
func WithPingInterval(d time.Duration) ClientOption {
	return func(o *options) { o.pingInterval = d }
}

// WithHealthInterval enables periodic RTT checks; 0 disables them.
func WithHealthInterval(d time.Duration) ClientOption {
	return func(o *options) { o.healthInterval = d }
}

// WithCircuitBreakerThreshold sets how many consecutive failures open the
// circuit.
func WithCircuitBreakerThreshold(n int32) ClientOption {
	return func(o *options) {
		if n > 0 {
			o.circuitThreshold = n
		}
	}
}

// WithMaxBackoff caps how long the circuit stays open.
func WithMaxBackoff(d time.Duration) ClientOption {
	return func(o *options) {
		if d > 0 {
			o.maxBackoff = d
		}
	}
}

// WithCredentials authenticates with user and password.
func WithCredentials(username, password string) ClientOption {
	return func(o *options) { o.username, o.password = username, password }
}

// WithToken authenticates with a token.
func WithToken(token string) ClientOption {
	return func(o *options) { o.token = token }
}

// WithTLSConfig secures the connection; nil leaves it plain.
func WithTLSConfig(cfg *tls.Config) ClientOption {
	return func(o *options) { o.tlsConfig = cfg }
}

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics registers JetStream stream and consumer gauges with registry
// and polls them every interval.
func WithMetrics(registry *metric.MetricsRegistry, interval time.Duration) ClientOption {
	return func(o *options) {
		o.registry = registry
		if interval > 0 {
			o.metricsInterval = interval
		}
	}
}
