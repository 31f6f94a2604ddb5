package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, test.class.String())
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"circuit open", ErrCircuitOpen, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"validation", ErrValidation, false},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("x")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("timeout")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsTransient(test.err))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"state error", NewStateError("countertop", "UpdateTopology", "started", "stopped"), ErrorInvalid},
		{"validation error", NewValidationError("payload", "New", "bad"), ErrorInvalid},
		{"processing error", NewProcessingError("Echo", errors.New("boom"), nil), ErrorInvalid},
		{"unhealthy", Unhealthy("worker", "Start", "Echo", "health check failed"), ErrorFatal},
		{"codec integrity", CodecIntegrity("payload", "Decode", errors.New("empty type")), ErrorFatal},
		{"bare codec sentinel", ErrCodecIntegrity, ErrorFatal},
		{"unknown", errors.New("something odd"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, Classify(test.err))
		})
	}
}

func TestWrap(t *testing.T) {
	base := errors.New("broker down")

	err := Wrap(base, "worker", "Start", "connect producer")
	assert.Equal(t, "worker.Start: connect producer failed: broker down", err.Error())
	assert.True(t, errors.Is(err, base))
	assert.Nil(t, Wrap(nil, "a", "b", "c"))
	assert.Nil(t, WrapFatal(nil, "a", "b", "c"))
}

func TestDomainErrors_Is(t *testing.T) {
	t.Run("state", func(t *testing.T) {
		err := NewStateError("station", "InvokeTopology", "started", "stopped")
		assert.ErrorIs(t, err, ErrInvalidState)

		var se *StateError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, "started", se.Current)
		assert.Equal(t, []string{"stopped"}, se.Required)
		assert.Contains(t, err.Error(), "requires stopped")
	})

	t.Run("validation", func(t *testing.T) {
		err := NewValidationError("payload", "Decode", "invalid payload", "type is required", "duration must be >= 0")
		assert.ErrorIs(t, err, ErrValidation)

		var ve *ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Len(t, ve.Details, 2)
	})

	t.Run("processing keeps cause", func(t *testing.T) {
		cause := errors.New("disk")
		err := NewProcessingError("OCR", cause, nil)
		assert.ErrorIs(t, err, ErrProcessing)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("processing from panic value", func(t *testing.T) {
		err := NewProcessingError("OCR", nil, "index out of range")
		assert.ErrorIs(t, err, ErrProcessing)
		assert.Contains(t, err.Error(), "index out of range")
	})

	t.Run("unhealthy", func(t *testing.T) {
		err := Unhealthy("worker", "Start", "OCR", "health check failed")
		assert.ErrorIs(t, err, ErrUnhealthyAppliance)
		assert.True(t, IsFatal(err))
	})
}
