// Package health models the health of a Countertop process as a tree of
// statuses. The coordinator aggregates its stations at the worst level
// found; a station is healthy when started, degraded while in transition
// and unhealthy when errored.
//
// Messages built with FromError pass through Sanitize before they reach
// the status endpoint.
package health
