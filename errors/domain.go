package errors

import (
	"fmt"
	"strings"
)

// StateError reports an operation invoked while its owner was not in a
// state that permits it.
type StateError struct {
	Component string
	Operation string
	Current   string
	Required  []string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s.%s: state is %s, requires %s",
		e.Component, e.Operation, e.Current, strings.Join(e.Required, " or "))
}

// Is matches ErrInvalidState.
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}

// NewStateError builds a StateError classified as invalid.
func NewStateError(component, operation, current string, required ...string) error {
	se := &StateError{
		Component: component,
		Operation: operation,
		Current:   current,
		Required:  required,
	}
	return newClassified(ErrorInvalid, se, component, operation, se.Error())
}

// ValidationError describes malformed input: payload construction
// parameters, stream tributaries or serialized wire data.
type ValidationError struct {
	Message string
	Details []string
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Details, "; ")
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError builds a ValidationError classified as invalid.
func NewValidationError(component, operation, message string, details ...string) error {
	ve := &ValidationError{Message: message, Details: details}
	return newClassified(ErrorInvalid, ve, component, operation,
		fmt.Sprintf("%s.%s: %s", component, operation, ve.Error()))
}

// ProcessingError wraps a failure raised by an appliance's transform step.
// Cause is nil when the step panicked with a value that is not an error.
type ProcessingError struct {
	Appliance string
	Cause     error
	Recovered any
}

func (e *ProcessingError) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("appliance %s: processing failed: %v", e.Appliance, e.Cause)
	case e.Recovered != nil:
		return fmt.Sprintf("appliance %s: processing failed: %v", e.Appliance, e.Recovered)
	default:
		return fmt.Sprintf("appliance %s: processing failed", e.Appliance)
	}
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Is matches ErrProcessing.
func (e *ProcessingError) Is(target error) bool {
	return target == ErrProcessing
}

// NewProcessingError builds a ProcessingError classified as invalid.
func NewProcessingError(appliance string, cause error, recovered any) error {
	pe := &ProcessingError{Appliance: appliance, Cause: cause, Recovered: recovered}
	return newClassified(ErrorInvalid, pe, appliance, "Invoke", pe.Error())
}

// Unhealthy reports that an appliance failed its health check or start.
func Unhealthy(component, operation, appliance, reason string) error {
	return WrapFatal(fmt.Errorf("%w: %s %s", ErrUnhealthyAppliance, appliance, reason),
		component, operation, "appliance check")
}

// CodecIntegrity reports a structurally decoded record that does not
// satisfy the payload field contract.
func CodecIntegrity(component, operation string, cause error) error {
	return WrapFatal(fmt.Errorf("%w: %v", ErrCodecIntegrity, cause),
		component, operation, "decode payload")
}
