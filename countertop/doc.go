// Package countertop wires appliances into pipelines over a topic broker.
//
// A Station wraps one registered appliance. From a set of stations a
// Topology generates every Stream: a path that starts at a source station
// (one without input types) and ends at a mouth station, with at most one
// tributary stream per input type, all tracing back to the same source.
// Each stream becomes one Worker at its mouth station. A worker subscribes
// to the topics its tributaries publish to, feeds received payloads to its
// own appliance instance and publishes what the appliance emits to topics
// named after the payload type and the stream id.
//
// The Countertop coordinator owns the stations. Adding an appliance
// regenerates the topology and replaces every station's workers; Start and
// Stop fan out to all stations concurrently.
//
//	ct := countertop.New(bus, countertop.WithLogger(logger))
//	if _, err := ct.AddAppliance(reader, appliance.Settings{}); err != nil {
//		return err
//	}
//	if _, err := ct.AddAppliance(splitter, appliance.Settings{}); err != nil {
//		return err
//	}
//	ct.On(countertop.EventPayload, func(ev countertop.Event) {
//		logger.Info("published", "topic", ev.Topic)
//	})
//	if err := ct.Start(ctx); err != nil {
//		return err
//	}
//	defer ct.Stop(context.Background())
//
// Topology changes require a stopped coordinator. A failed change leaves
// stations, workers and topology as they were.
package countertop
