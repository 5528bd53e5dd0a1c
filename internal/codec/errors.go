package codec

import (
	"errors"
	"fmt"
)

// Sentinel errors, compare with errors.Is.
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrValidation     = errors.New("validation failed")
	ErrInvalidField   = errors.New("invalid field value")
	ErrUnknownField   = errors.New("unknown field")
)

// FrameError reports a frame whose length does not match the codec table.
type FrameError struct {
	Expected int
	Actual   int
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%s: expected %d bytes, got %d", ErrMalformedFrame, e.Expected, e.Actual)
}

func (e *FrameError) Unwrap() error { return ErrMalformedFrame }

// FieldError describes a single field dropped during decode.
type FieldError struct {
	Field string
	Raw   uint64
	Msg   string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: %s (raw 0x%X)", e.Field, e.Msg, e.Raw)
}

func (e *FieldError) Unwrap() error { return ErrInvalidField }

// ValidationError identifies the offending field and the constraint it broke.
// Returned by the command encoder before any bytes are produced.
type ValidationError struct {
	Field      string
	Constraint string
	cause      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %s: %s", e.Field, e.Constraint)
}

func (e *ValidationError) Unwrap() []error {
	if e.cause != nil {
		return []error{ErrValidation, e.cause}
	}
	return []error{ErrValidation}
}

func validationErrorf(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Constraint: fmt.Sprintf(format, args...)}
}
