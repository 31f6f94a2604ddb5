// Package errors provides standardized error handling for Countertop.
//
// # Classification
//
// Every error that crosses a component boundary carries one of three classes:
//
//   - Transient: broker timeouts, lost connections, open circuit breakers (retry is reasonable)
//   - Invalid: bad input or an operation called in the wrong lifecycle state (do not retry)
//   - Fatal: unhealthy appliances and codec integrity failures (stop processing)
//
// Only the broker client layer retries. Coordinator, Station and Worker
// operations surface the classified error to the caller unchanged.
//
// # Wrapping
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
//	errors.WrapTransient(err, "jetstream", "Send", "publish")
//	errors.WrapInvalid(err, "config", "Load", "parse yaml")
//	errors.WrapFatal(err, "payload", "Decode", "decode avro")
//
// # Domain Errors
//
// The lifecycle and payload layers raise typed errors that also match a
// sentinel through errors.Is:
//
//	StateError       -> ErrInvalidState       (operation not legal in current state)
//	ValidationError  -> ErrValidation         (malformed payload, tributary or wire data)
//	ProcessingError  -> ErrProcessing         (appliance transform failed or panicked)
//	Unhealthy(...)   -> ErrUnhealthyAppliance (health check or start returned false)
//	CodecIntegrity() -> ErrCodecIntegrity     (decoded record violates the payload contract)
//
// Check them with the standard library:
//
//	if errors.Is(err, errors.ErrInvalidState) {
//	    // stop the coordinator first
//	}
//
//	var ve *errors.ValidationError
//	if errors.As(err, &ve) {
//	    for _, d := range ve.Details {
//	        logger.Warn("rejected payload", "reason", d)
//	    }
//	}
package errors
