package main

import (
	"errors"
	"fmt"

	"github.com/srg/lbridge/bridge"
	"github.com/srg/lbridge/internal/codec"
	"github.com/srg/lbridge/internal/transport"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the peripheral dropped the link while the bridge
	// was running. transport.ErrNotConnected is used for a link that never came up.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns an error chain into a one-line message with a hint for the
// failures a user can act on.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var validation *codec.ValidationError
	var notConfirmed *bridge.NotConfirmedError
	switch {
	case errors.Is(err, transport.ErrBluetoothOff):
		return "Bluetooth is turned off, enable it and try again"
	case errors.Is(err, transport.ErrUnsupported):
		return fmt.Sprintf("%v\n  The peripheral is not a supported appliance; use 'lbridge scan --known' to find one", err)
	case errors.Is(err, transport.ErrTimeout):
		return fmt.Sprintf("%v\n  The device did not answer in time; move closer or raise --connect-timeout", err)
	case errors.Is(err, ErrConnectionLost):
		return fmt.Sprintf("%v\n  The device went out of range or was switched off", err)
	case errors.As(err, &notConfirmed):
		return fmt.Sprintf("the device did not apply %s: wanted %s, reads %s",
			notConfirmed.Name, notConfirmed.Intended, notConfirmed.Observed)
	case errors.As(err, &validation):
		return fmt.Sprintf("invalid value for %s: %s", validation.Field, validation.Constraint)
	default:
		return err.Error()
	}
}
