package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
)

// ConnectionState is the kind of connection failure.
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is compares ConnectionError values by State.
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
)

var (
	ErrTimeout      = errors.New("timeout")
	ErrUnsupported  = errors.New("unsupported")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
)

// ATT error codes the bridge reacts to.
const (
	ATTWriteNotPermitted byte = 0x03
	ATTUnlikely          byte = 0x0E
)

// ATTError is an Attribute Protocol error reported by the peripheral.
type ATTError struct {
	Code byte
	// Op is "read" or "write".
	Op   string
	UUID string
}

func (e *ATTError) Error() string {
	name := attNames[e.Code]
	if name == "" {
		name = "att error"
	}
	if e.UUID == "" {
		return fmt.Sprintf("%s (0x%02x)", name, e.Code)
	}
	return fmt.Sprintf("%s %s: %s (0x%02x)", e.Op, e.UUID, name, e.Code)
}

var attNames = map[byte]string{
	0x01: "invalid handle",
	0x02: "read not permitted",
	0x03: "write not permitted",
	0x04: "invalid pdu",
	0x05: "insufficient authentication",
	0x06: "request not supported",
	0x07: "invalid offset",
	0x08: "insufficient authorization",
	0x0A: "attribute not found",
	0x0D: "invalid attribute value length",
	0x0E: "unlikely error",
	0x0F: "insufficient encryption",
}

// ATTCode extracts the ATT error code from err.
func ATTCode(err error) (byte, bool) {
	var ae *ATTError
	if errors.As(err, &ae) {
		return ae.Code, true
	}
	var be ble.ATTError
	if errors.As(err, &be) {
		return byte(be), true
	}
	return 0, false
}

// NormalizeError maps go-ble errors into this package's taxonomy.
// It ensures consistent handling even if the upstream library changes messages slightly.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	var ae *ATTError
	if errors.As(err, &ae) {
		return err
	}
	var be ble.ATTError
	if errors.As(err, &be) {
		return &ATTError{Code: byte(be)}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "unlikely error"):
		return &ATTError{Code: ATTUnlikely}
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	default:
		return err
	}
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
