package metric

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/countertop/errors"
)

// MetricsRegistrar is the registration surface handed to components that
// export their own collectors.
type MetricsRegistrar interface {
	RegisterCounterVec(owner, name string, c *prometheus.CounterVec) error
	RegisterGaugeVec(owner, name string, g *prometheus.GaugeVec) error
	RegisterHistogramVec(owner, name string, h *prometheus.HistogramVec) error
	Unregister(owner, name string) bool
}

// MetricsRegistry owns a Prometheus registry holding the core Countertop
// metrics, the Go runtime collectors and whatever components register.
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics

	mu         sync.RWMutex
	registered map[string]prometheus.Collector
}

var _ MetricsRegistrar = (*MetricsRegistry)(nil)

// NewMetricsRegistry creates a registry with core metrics registered.
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prometheusRegistry: prometheus.NewRegistry(),
		Metrics:            NewMetrics(),
		registered:         make(map[string]prometheus.Collector),
	}
	r.prometheusRegistry.MustRegister(r.Metrics.collectors()...)
	r.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry returns the underlying registry.
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the core metrics.
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.Metrics
}

// Handler serves the registry in the Prometheus exposition format.
func (r *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prometheusRegistry, promhttp.HandlerOpts{Registry: r.prometheusRegistry})
}

// RegisterCounterVec registers c under owner.name.
func (r *MetricsRegistry) RegisterCounterVec(owner, name string, c *prometheus.CounterVec) error {
	return r.register("RegisterCounterVec", owner, name, c)
}

// RegisterGaugeVec registers g under owner.name.
func (r *MetricsRegistry) RegisterGaugeVec(owner, name string, g *prometheus.GaugeVec) error {
	return r.register("RegisterGaugeVec", owner, name, g)
}

// RegisterHistogramVec registers h under owner.name.
func (r *MetricsRegistry) RegisterHistogramVec(owner, name string, h *prometheus.HistogramVec) error {
	return r.register("RegisterHistogramVec", owner, name, h)
}

// Unregister removes owner.name; it reports whether anything was removed.
func (r *MetricsRegistry) Unregister(owner, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := owner + "." + name
	c, ok := r.registered[key]
	if !ok {
		return false
	}
	if !r.prometheusRegistry.Unregister(c) {
		return false
	}
	delete(r.registered, key)
	return true
}

func (r *MetricsRegistry) register(method, owner, name string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := owner + "." + name
	if _, exists := r.registered[key]; exists {
		return errors.WrapInvalid(fmt.Errorf("metric %s already registered", key),
			"MetricsRegistry", method, "duplicate registration")
	}
	if err := r.prometheusRegistry.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if stderrors.As(err, &already) {
			return errors.WrapInvalid(err, "MetricsRegistry", method, "prometheus conflict for "+key)
		}
		return errors.WrapFatal(err, "MetricsRegistry", method, "register collector")
	}
	r.registered[key] = c
	return nil
}
