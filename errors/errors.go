package errors

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrorClass tells callers how to react to an error.
type ErrorClass int

const (
	// ErrorTransient errors may succeed when retried.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid errors come from bad input, state or configuration.
	ErrorInvalid
	// ErrorFatal errors stop the component that raised them.
	ErrorFatal
)

var classNames = [...]string{"transient", "invalid", "fatal"}

func (ec ErrorClass) String() string {
	if ec < 0 || int(ec) >= len(classNames) {
		return "unknown"
	}
	return classNames[ec]
}

var (
	// Lifecycle
	ErrInvalidState       = errors.New("invalid state")
	ErrUnhealthyAppliance = errors.New("unhealthy appliance")
	ErrShuttingDown       = errors.New("shutting down")

	// Payloads
	ErrValidation     = errors.New("validation failed")
	ErrProcessing     = errors.New("processing failed")
	ErrCodecIntegrity = errors.New("codec produced an invalid payload")
	ErrEmptyArray     = errors.New("payload array is empty")

	// Broker connections
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrCircuitOpen       = errors.New("circuit breaker open")

	// Topology store
	ErrBucketNotFound = errors.New("bucket not found")
	ErrKeyNotFound    = errors.New("key not found")
	ErrConflict       = errors.New("revision conflict")

	// Configuration and the appliance registry
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrUnknownAppliance  = errors.New("unknown appliance class")
	ErrDuplicateRegister = errors.New("already registered")
)

// Unclassified errors are matched against these sentinels, fatal first.
var (
	fatalSentinels     = []error{ErrCodecIntegrity, ErrUnhealthyAppliance, ErrInvalidConfig}
	invalidSentinels   = []error{ErrValidation, ErrInvalidState, ErrProcessing}
	transientSentinels = []error{ErrConnectionTimeout, ErrConnectionLost, ErrNoConnection, ErrCircuitOpen, context.DeadlineExceeded}
	transientWords     = []string{"timeout", "connection", "temporary", "unavailable"}
)

// ClassifiedError attaches a class and the failing component to err.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error { return ce.Err }

func explicitClass(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return 0, false
}

func matchesAny(err error, targets []error) bool {
	return slices.ContainsFunc(targets, func(t error) bool { return errors.Is(err, t) })
}

// IsTransient reports whether err is worth retrying. Unclassified errors
// count when they match a connection sentinel or their text mentions a
// timeout or unavailable peer.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := explicitClass(err); ok {
		return class == ErrorTransient
	}
	if matchesAny(err, transientSentinels) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return slices.ContainsFunc(transientWords, func(w string) bool { return strings.Contains(msg, w) })
}

// IsFatal reports whether err should stop processing.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := explicitClass(err); ok {
		return class == ErrorFatal
	}
	return matchesAny(err, fatalSentinels)
}

// IsInvalid reports whether err comes from bad input or state.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := explicitClass(err); ok {
		return class == ErrorInvalid
	}
	return matchesAny(err, invalidSentinels)
}

// Classify returns err's class. Anything not fatal or invalid is treated
// as transient, nil included.
func Classify(err error) ErrorClass {
	if class, ok := explicitClass(err); ok {
		return class
	}
	switch {
	case IsFatal(err):
		return ErrorFatal
	case IsInvalid(err):
		return ErrorInvalid
	default:
		return ErrorTransient
	}
}

func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{Class: class, Err: err, Message: message, Component: component, Operation: operation}
}

// Wrap adds context in the form "component.method: action failed: err".
// A nil err stays nil.
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return newClassified(class, wrapped, component, method, wrapped.Error())
}

// WrapTransient is Wrap plus the transient class.
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

// WrapFatal is Wrap plus the fatal class.
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}

// WrapInvalid is Wrap plus the invalid class.
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}

// Re-exports so callers importing this package as errors keep the
// standard helpers.
func Join(errs ...error) error      { return errors.Join(errs...) }
func Is(err, target error) bool     { return errors.Is(err, target) }
func As(err error, target any) bool { return errors.As(err, target) }
func New(text string) error         { return errors.New(text) }
