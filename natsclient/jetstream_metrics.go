package natsclient

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/countertop/metric"
)

// jetstreamMetrics exports the state of the streams and consumers this
// client created. A nil *jetstreamMetrics is valid and records nothing.
type jetstreamMetrics struct {
	streamMessages   *prometheus.GaugeVec
	streamBytes      *prometheus.GaugeVec
	consumerPending  *prometheus.GaugeVec
	consumerAckPend  *prometheus.GaugeVec
	consumerRedelivs *prometheus.GaugeVec
	errors           *prometheus.CounterVec

	mu        sync.RWMutex
	streams   map[string]jetstream.Stream
	consumers map[[2]string]jetstream.Consumer
}

func newJetStreamMetrics(registry *metric.MetricsRegistry) (*jetstreamMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "countertop",
			Subsystem: "jetstream",
			Name:      name,
			Help:      help,
		}, labels)
	}

	m := &jetstreamMetrics{
		streamMessages:   gauge("stream_messages", "Messages currently held by the stream", "stream"),
		streamBytes:      gauge("stream_bytes", "Bytes currently held by the stream", "stream"),
		consumerPending:  gauge("consumer_pending_messages", "Messages not yet delivered to the consumer", "stream", "consumer"),
		consumerAckPend:  gauge("consumer_ack_pending", "Delivered messages awaiting acknowledgement", "stream", "consumer"),
		consumerRedelivs: gauge("consumer_redelivered", "Messages redelivered to the consumer", "stream", "consumer"),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "countertop",
			Subsystem: "jetstream",
			Name:      "operation_errors_total",
			Help:      "Failed JetStream operations",
		}, []string{"operation"}),
		streams:   make(map[string]jetstream.Stream),
		consumers: make(map[[2]string]jetstream.Consumer),
	}

	for name, g := range map[string]*prometheus.GaugeVec{
		"stream_messages":      m.streamMessages,
		"stream_bytes":         m.streamBytes,
		"consumer_pending":     m.consumerPending,
		"consumer_ack_pending": m.consumerAckPend,
		"consumer_redelivered": m.consumerRedelivs,
	} {
		if err := registry.RegisterGaugeVec("jetstream", name, g); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterCounterVec("jetstream", "errors", m.errors); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *jetstreamMetrics) trackStream(name string, s jetstream.Stream) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.streams[name] = s
	m.mu.Unlock()
}

func (m *jetstreamMetrics) trackConsumer(stream, name string, c jetstream.Consumer) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.consumers[[2]string{stream, name}] = c
	m.mu.Unlock()
}

func (m *jetstreamMetrics) recordError(operation string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(operation).Inc()
}

func (m *jetstreamMetrics) update(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, s := range m.streams {
		info, err := s.Info(ctx)
		if err != nil {
			m.errors.WithLabelValues("stream_info").Inc()
			continue
		}
		m.streamMessages.WithLabelValues(name).Set(float64(info.State.Msgs))
		m.streamBytes.WithLabelValues(name).Set(float64(info.State.Bytes))
	}
	for key, c := range m.consumers {
		info, err := c.Info(ctx)
		if err != nil {
			m.errors.WithLabelValues("consumer_info").Inc()
			continue
		}
		m.consumerPending.WithLabelValues(key[0], key[1]).Set(float64(info.NumPending))
		m.consumerAckPend.WithLabelValues(key[0], key[1]).Set(float64(info.NumAckPending))
		m.consumerRedelivs.WithLabelValues(key[0], key[1]).Set(float64(info.NumRedelivered))
	}
}

// startPoller refreshes the gauges every interval until the returned
// cancel function is called.
func (m *jetstreamMetrics) startPoller(ctx context.Context, interval time.Duration) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pollCtx, done := context.WithTimeout(ctx, interval)
				m.update(pollCtx)
				done()
			}
		}
	}()
	return cancel
}
