package bridge

import (
	"errors"
	"fmt"

	"github.com/srg/lbridge/internal/codec"
	"github.com/srg/lbridge/internal/property"
)

var (
	// ErrDisconnected completes writes that were still pending when the link dropped.
	ErrDisconnected = errors.New("device disconnected")
	// ErrClosed is returned by a Device after Close.
	ErrClosed = errors.New("device bridge closed")
)

// NotConfirmedError is returned when a write reported the class's spurious error code
// and the follow-up read did not show the intended value.
type NotConfirmedError struct {
	Name     property.Name
	Intended codec.Value
	Observed codec.Value
	// Cause is the error the write originally reported.
	Cause error
}

func (e *NotConfirmedError) Error() string {
	return fmt.Sprintf("write of %s not confirmed: wanted %s, read back %s: %v", e.Name, e.Intended, e.Observed, e.Cause)
}

func (e *NotConfirmedError) Unwrap() error { return e.Cause }
