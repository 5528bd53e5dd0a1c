package store

import "fmt"

// State is the local connectivity state of the peripheral.
type State int

const (
	Disconnected State = iota
	Connecting
	ServicesDiscovered
	Subscribed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case ServicesDiscovered:
		return "servicesDiscovered"
	case Subscribed:
		return "subscribed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CanTransition reports whether the state machine allows s → to.
// Any state may drop to Disconnected; otherwise states advance one step at a time.
func (s State) CanTransition(to State) bool {
	if to == Disconnected {
		return true
	}
	switch s {
	case Disconnected:
		return to == Connecting
	case Connecting:
		return to == ServicesDiscovered
	case ServicesDiscovered:
		return to == Subscribed
	default:
		return false
	}
}

// TransitionError is returned for a transition the state machine does not allow.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid connectivity transition %s -> %s", e.From, e.To)
}

// NotFoundError reports a lookup of a property or sub-device the store does not hold.
type NotFoundError struct {
	Resource string // "property", "sub-device"
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Key)
}
