// Package metric holds the Prometheus registry shared by a Countertop
// process.
//
// NewMetricsRegistry registers the core metrics (coordinator and station
// state, payload counters, invoke latency, buffer depth, topology size) and
// the Go runtime collectors. Components with their own collectors, such as
// the JetStream client, register them through MetricsRegistrar under an
// owner-qualified name; registering the same name twice is an invalid
// error. Handler exposes everything for scraping.
//
// The recorders on *Metrics accept a nil receiver so callers can run with
// metrics disabled.
package metric
