package codec

import (
	"fmt"
)

// RawField is the single pass-through field of a table without a layout.
const RawField = "RAW"

// Snapshot holds the decoded values of one sub-device, keyed by field name.
// A missing field is treated as unknown.
type Snapshot map[string]Value

// Clone returns an independent copy.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Get returns the value of a field, or unknown of the given kind if absent.
func (s Snapshot) Get(name string, kind Kind) Value {
	if v, ok := s[name]; ok {
		return v
	}
	return Unknown(kind)
}

// DerivedField is computed from the primary fields decoded in the same pass.
type DerivedField struct {
	Name    string
	Kind    Kind
	Command CommandShape
	Compute func(s Snapshot) Value
}

// ProfileSlot places a field into the wide profile command. Mirror is the offset
// of a duplicate copy, or -1.
type ProfileSlot struct {
	Field  string
	Offset int
	Mirror int
}

// CommandLayout describes the command frames accepted by the control characteristic.
type CommandLayout struct {
	StartStopOpcode byte
	StartStopLength int
	ProfileOpcode   byte
	ProfileLength   int
	Profile         []ProfileSlot
}

// Quirks are device-class specific transport behaviours.
type Quirks struct {
	// SpuriousWriteError is an ATT error code the firmware reports for writes that
	// actually succeeded. Zero disables the quirk.
	SpuriousWriteError byte
}

// Table is the static codec description of one device class.
type Table struct {
	FrameLength int
	Fields      []FieldSpec
	Derived     []DerivedField
	Commands    CommandLayout
	Quirks      Quirks
}

// Generic reports whether the table has no layout and passes frames through.
func (t *Table) Generic() bool {
	return len(t.Fields) == 0
}

// Field looks up a primary field.
func (t *Table) Field(name string) (*FieldSpec, bool) {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return &t.Fields[i], true
		}
	}
	return nil, false
}

// Descriptor is the name, kind and writability of any field, primary or derived.
type Descriptor struct {
	Name     string
	Kind     Kind
	Command  CommandShape
	Writable bool
}

// Describe lists every field in declaration order, primary fields first.
func (t *Table) Describe() []Descriptor {
	if t.Generic() {
		return []Descriptor{{Name: RawField, Kind: KindOpaque}}
	}
	out := make([]Descriptor, 0, len(t.Fields)+len(t.Derived))
	for _, f := range t.Fields {
		out = append(out, Descriptor{Name: f.Name, Kind: f.Kind, Command: f.Command, Writable: f.Writable()})
	}
	for _, d := range t.Derived {
		out = append(out, Descriptor{Name: d.Name, Kind: d.Kind, Command: d.Command, Writable: d.Command != CommandNone})
	}
	return out
}

// Lookup returns the descriptor of a field by name.
func (t *Table) Lookup(name string) (Descriptor, bool) {
	for _, d := range t.Describe() {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Validate checks the table for layout mistakes: fields outside the frame, widths
// that do not match their kind, duplicate names and profile slots that reference
// unknown fields or overflow the command frame.
func (t *Table) Validate() error {
	if t.Generic() {
		return nil
	}
	seen := make(map[string]bool)
	for _, f := range t.Fields {
		if seen[f.Name] {
			return fmt.Errorf("duplicate field %s", f.Name)
		}
		seen[f.Name] = true
		if f.Kind != KindOpaque && f.Length != f.Kind.Width() {
			return fmt.Errorf("field %s: %s needs %d bytes, got %d", f.Name, f.Kind, f.Kind.Width(), f.Length)
		}
		if f.Offset < 0 || f.Offset+f.Length > t.FrameLength {
			return fmt.Errorf("field %s: bytes [%d, %d) outside %d-byte frame", f.Name, f.Offset, f.Offset+f.Length, t.FrameLength)
		}
	}
	for _, d := range t.Derived {
		if seen[d.Name] {
			return fmt.Errorf("duplicate field %s", d.Name)
		}
		seen[d.Name] = true
		if d.Compute == nil {
			return fmt.Errorf("derived field %s has no compute function", d.Name)
		}
	}
	for _, slot := range t.Commands.Profile {
		f, ok := t.Field(slot.Field)
		if !ok {
			return fmt.Errorf("profile slot references unknown field %s", slot.Field)
		}
		if f.Shift != 0 {
			return fmt.Errorf("profile slot %s: shifted bitfields cannot be placed", f.Name)
		}
		for _, off := range []int{slot.Offset, slot.Mirror} {
			if off < 0 {
				continue
			}
			if off < 2 || off+f.Length > t.Commands.ProfileLength {
				return fmt.Errorf("profile slot %s: offset %d outside %d-byte command", f.Name, off, t.Commands.ProfileLength)
			}
		}
	}
	return nil
}
