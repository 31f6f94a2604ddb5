// Package topologystore persists snapshots of generated topologies in a
// NATS KV bucket so that the stream layout of a running coordinator can be
// inspected from outside the process.
//
// A Snapshot records the stations of a topology and every stream with its
// mouth, source, length and tributary stream ids. Snapshots carry a
// version for optimistic concurrency control: Save with version 0 creates,
// Save with the stored version updates and bumps it, any other version is
// a conflict (errors.ErrConflict, class Invalid).
//
//	store, err := topologystore.NewStore(ctx, natsClient, "")
//	snap := topologystore.FromTopology("default", ct.Topology())
//	err = store.Save(ctx, snap) // snap.Version == 1
//
// Error classification follows the errors package: bad input and version
// conflicts are Invalid, KV failures are Transient and marshaling failures
// are Fatal.
package topologystore
