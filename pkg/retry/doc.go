// Package retry runs an operation with exponential backoff.
//
// Errors wrapped with NonRetryable, and errors the errors package classifies
// as invalid or fatal, stop the loop at once; everything else is retried
// until the attempts are used up or the context ends.
//
//	err := retry.Do(ctx, retry.Persistent(), func() error {
//	    return client.Connect(ctx)
//	})
//
// Presets:
//
//   - DefaultConfig: 3 attempts, 100ms to 5s
//   - Quick: 10 attempts, 50ms to 1s, for startup paths
//   - Persistent: 30 attempts, 200ms to 10s, for broker connections
package retry
