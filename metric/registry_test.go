package metric

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/countertop/errors"
)

func counterVec(name string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "test", Name: name}, []string{"k"})
}

func TestMetricsRegistry_RegisterAndUnregister(t *testing.T) {
	r := NewMetricsRegistry()

	c := counterVec("hits_total")
	require.NoError(t, r.RegisterCounterVec("svc", "hits", c))

	err := r.RegisterCounterVec("svc", "hits", counterVec("other_total"))
	assert.True(t, errors.IsInvalid(err))

	// Same collector under another key collides in Prometheus.
	err = r.RegisterCounterVec("svc", "hits2", counterVec("hits_total"))
	assert.True(t, errors.IsInvalid(err))

	assert.True(t, r.Unregister("svc", "hits"))
	assert.False(t, r.Unregister("svc", "hits"))
	require.NoError(t, r.RegisterCounterVec("svc", "hits", counterVec("hits_total")))
}

func TestMetricsRegistry_Concurrent(t *testing.T) {
	r := NewMetricsRegistry()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := "g" + strings.Repeat("x", i)
			g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: "test", Name: name}, []string{"k"})
			assert.NoError(t, r.RegisterGaugeVec("svc", name, g))
		}()
	}
	wg.Wait()
}

func TestMetrics_Recorders(t *testing.T) {
	r := NewMetricsRegistry()
	m := r.CoreMetrics()

	m.RecordReceived("Splitter", "TEXT.BLOB")
	m.RecordReceived("Splitter", "TEXT.BLOB")
	m.RecordPublished("Splitter", "TEXT.SENTENCE")
	m.RecordStationState("Splitter", 2, 3)
	m.RecordStreams(4)
	m.ObserveInvoke("Splitter", 3*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PayloadsReceived.WithLabelValues("Splitter", "TEXT.BLOB")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Workers.WithLabelValues("Splitter")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Streams))

	var disabled *Metrics
	assert.NotPanics(t, func() {
		disabled.RecordReceived("x", "y")
		disabled.ObserveInvoke("x", time.Second)
	})
}

func TestMetricsRegistry_Handler(t *testing.T) {
	r := NewMetricsRegistry()
	r.CoreMetrics().RecordStreams(2)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "countertop_topology_streams 2")
}
