// Package testutil provides test doubles and fixtures for Countertop tests.
//
// MockAppliance implements appliance.Appliance with overridable funcs and
// call counters, Descriptor wraps a mock in an appliance.Descriptor, and
// Relay builds an Invoke func that forwards payloads under a new type.
// Payload fixtures are built with Payload and Payloads.
package testutil
