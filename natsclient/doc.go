// Package natsclient wraps a NATS connection with a circuit breaker and the
// JetStream helpers the Countertop broker and topology store need.
//
// After circuitThreshold consecutive failed connects (default 5) the
// circuit opens and Connect fails fast with errors.ErrCircuitOpen until the
// backoff expires; each reopening doubles the backoff up to maxBackoff.
// ConnectWithRetry layers pkg/retry on top of that.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("countertop-worker"),
//	    natsclient.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.ConnectWithRetry(ctx, retry.Persistent()); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
// Streams and durable consumers are created idempotently with EnsureStream
// and EnsureConsumer. KVStore adds revision-checked writes on top of a
// bucket:
//
//	bucket, _ := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "topologies"})
//	kv := client.NewKVStore(bucket)
//	err := kv.UpdateWithRetry(ctx, key, func(cur []byte) ([]byte, error) { ... })
//
// StartTestServer and NewTestServer run a throwaway NATS container through
// testcontainers for integration tests.
package natsclient
