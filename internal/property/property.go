// Package property defines property names and the change records emitted for them.
package property

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/srg/lbridge/internal/codec"
)

// ErrMalformedName is returned by ParseName.
var ErrMalformedName = errors.New("malformed property name")

// Name addresses one field of one sub-device: "<2-digit index>:<model key>:<FIELD>",
// e.g. "00:grillrt:TEMP". The string form is shared with the cloud side.
type Name struct {
	index int
	model string
	field string
}

// NewName builds a name, validating each component.
func NewName(index int, model, field string) (Name, error) {
	n := Name{index: index, model: model, field: field}
	if err := n.validate(); err != nil {
		return Name{}, err
	}
	return n, nil
}

// MustName is NewName for static tables; it panics on invalid input.
func MustName(index int, model, field string) Name {
	n, err := NewName(index, model, field)
	if err != nil {
		panic(err)
	}
	return n
}

// ParseName parses the wire form of a property name.
func ParseName(s string) (Name, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Name{}, fmt.Errorf("%w %q: expected <index>:<model>:<FIELD>", ErrMalformedName, s)
	}
	if len(parts[0]) != 2 {
		return Name{}, fmt.Errorf("%w %q: index must have two digits", ErrMalformedName, s)
	}
	idx, err := strconv.Atoi(parts[0])
	if err != nil || idx < 0 {
		return Name{}, fmt.Errorf("%w %q: index must be numeric", ErrMalformedName, s)
	}
	return NewName(idx, parts[1], parts[2])
}

func (n Name) validate() error {
	if n.index < 0 || n.index > 99 {
		return fmt.Errorf("%w: index %d outside [0, 99]", ErrMalformedName, n.index)
	}
	if n.model == "" || strings.IndexFunc(n.model, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) >= 0 {
		return fmt.Errorf("%w: model key %q must be lowercase alphanumeric", ErrMalformedName, n.model)
	}
	if n.field == "" || strings.IndexFunc(n.field, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_')
	}) >= 0 {
		return fmt.Errorf("%w: field %q must be upper case", ErrMalformedName, n.field)
	}
	return nil
}

func (n Name) Index() int     { return n.index }
func (n Name) Model() string  { return n.model }
func (n Name) Field() string  { return n.field }
func (n Name) IsZero() bool   { return n == Name{} }
func (n Name) String() string { return fmt.Sprintf("%02d:%s:%s", n.index, n.model, n.field) }

// MarshalText implements encoding.TextMarshaler.
func (n Name) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Name) UnmarshalText(b []byte) error {
	parsed, err := ParseName(string(b))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// Direction tells whether the device or the user owns a property's value.
type Direction int

const (
	FromDevice Direction = iota
	ToDevice
)

func (d Direction) String() string {
	if d == ToDevice {
		return "toDevice"
	}
	return "fromDevice"
}

// Source is where a change originated.
type Source int

const (
	Local Source = iota // observed on the peripheral or written through the bridge
	Cloud               // requested by the cloud mirror
)

func (s Source) String() string {
	if s == Cloud {
		return "cloud"
	}
	return "local"
}

// ParseSource is the inverse of Source.String.
func ParseSource(s string) (Source, error) {
	switch s {
	case "local":
		return Local, nil
	case "cloud":
		return Cloud, nil
	default:
		return Local, fmt.Errorf("unknown change source %q", s)
	}
}

// Change is one detected delta of a property. It is emitted once and never modified.
type Change struct {
	Name      Name
	Value     codec.Value
	Timestamp time.Time
	Source    Source
}

func (c Change) String() string {
	return fmt.Sprintf("%s=%s (%s)", c.Name, c.Value, c.Source)
}
