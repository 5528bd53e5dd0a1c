package codec

// Encode builds the command frame that sets one field of a sub-device.
//
// The value must already have the field's kind. Start/stop fields produce the narrow
// [opcode, index, mode] frame. Profile fields are merged into a copy of last, the
// last known state of the sub-device, so co-packed fields keep their values; unknown
// co-packed values are sent as their sentinel. Every failure is a *ValidationError
// returned before any bytes are produced.
func (t *Table) Encode(subdevice int, field string, v Value, last Snapshot) ([]byte, error) {
	if subdevice < 0 || subdevice > 0xFF {
		return nil, validationErrorf(field, "sub-device index %d must fit one byte", subdevice)
	}
	d, ok := t.Lookup(field)
	if !ok {
		return nil, &ValidationError{Field: field, Constraint: "not a field of this device class", cause: ErrUnknownField}
	}
	if !d.Writable {
		return nil, validationErrorf(field, "read-only field")
	}
	if v.Kind() != d.Kind {
		return nil, validationErrorf(field, "expected %s value, got %s", d.Kind, v.Kind())
	}

	switch d.Command {
	case CommandStartStop:
		return t.encodeStartStop(subdevice, field, v)
	case CommandProfile:
		return t.encodeProfile(subdevice, field, v, last)
	default:
		return nil, validationErrorf(field, "unsupported command shape %s", d.Command)
	}
}

func (t *Table) encodeStartStop(subdevice int, field string, v Value) ([]byte, error) {
	if !v.Known() {
		return nil, validationErrorf(field, "value required")
	}
	if v.Kind() != KindBool {
		return nil, validationErrorf(field, "start/stop takes a bool, got %s", v.Kind())
	}
	cmd := t.Commands
	if cmd.StartStopLength != 3 {
		return nil, validationErrorf(field, "device class has no start/stop command")
	}
	out := []byte{cmd.StartStopOpcode, byte(subdevice), 0}
	if v.Bool() {
		out[2] = 1
	}
	return out, nil
}

func (t *Table) encodeProfile(subdevice int, field string, v Value, last Snapshot) ([]byte, error) {
	cmd := t.Commands
	if cmd.ProfileLength < 2 || len(cmd.Profile) == 0 {
		return nil, validationErrorf(field, "device class has no profile command")
	}
	state := last.Clone()
	state[field] = v

	out := make([]byte, cmd.ProfileLength)
	out[0] = cmd.ProfileOpcode
	out[1] = byte(subdevice)
	for _, slot := range cmd.Profile {
		f, ok := t.Field(slot.Field)
		if !ok {
			return nil, validationErrorf(slot.Field, "profile slot references unknown field")
		}
		cur := state.Get(f.Name, f.Kind)
		if !cur.Known() && !f.HasSentinel {
			return nil, validationErrorf(f.Name, "missing co-packed field: no known value and no unknown representation")
		}
		b, err := EncodeField(f, cur)
		if err != nil {
			return nil, err
		}
		copy(out[slot.Offset:], b)
		if slot.Mirror >= 0 {
			copy(out[slot.Mirror:], b)
		}
	}
	return out, nil
}
