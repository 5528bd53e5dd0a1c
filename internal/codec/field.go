package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// CommandShape selects which command frame a writable field is sent in.
type CommandShape int

const (
	CommandNone      CommandShape = iota // read-only field
	CommandStartStop                     // narrow [opcode, index, mode] frame
	CommandProfile                       // wide profile frame
)

func (c CommandShape) String() string {
	switch c {
	case CommandStartStop:
		return "start-stop"
	case CommandProfile:
		return "profile"
	default:
		return "none"
	}
}

// FieldSpec maps a byte range of a frame to a semantic field.
//
// Integers are little-endian two's complement. When Mask is non-zero the field is a
// bitfield: the value is (raw & Mask) >> Shift. The sentinel is compared against the
// raw bytes before masking.
type FieldSpec struct {
	Name        string
	Offset      int
	Length      int
	Kind        Kind
	Mask        uint64
	Shift       uint
	Scale       float64
	Unit        string
	Sentinel    uint64
	HasSentinel bool
	Enum        []string
	Command     CommandShape
}

// Writable reports whether the field can be set through a command frame.
func (f *FieldSpec) Writable() bool {
	return f.Command != CommandNone
}

// EnumName returns the case name of an enum value, or its number.
func (f *FieldSpec) EnumName(v Value) string {
	if f.Kind != KindEnum || !v.Known() {
		return v.String()
	}
	if n := v.Int(); n >= 0 && n < int64(len(f.Enum)) {
		return f.Enum[n]
	}
	return v.String()
}

// EnumValue looks up an enum case by name.
func (f *FieldSpec) EnumValue(name string) (Value, bool) {
	for i, c := range f.Enum {
		if c == name {
			return Enum(int64(i)), true
		}
	}
	return Value{}, false
}

// readLE reads a 1 to 4 byte little-endian field. Packed time is the only
// 3-byte kind.
func readLE(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 3:
		return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16
	default:
		return uint64(binary.LittleEndian.Uint32(b))
	}
}

func putLE(b []byte, raw uint64) {
	switch len(b) {
	case 1:
		b[0] = byte(raw)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(raw))
	case 3:
		b[0], b[1], b[2] = byte(raw), byte(raw>>8), byte(raw>>16)
	default:
		binary.LittleEndian.PutUint32(b, uint32(raw))
	}
}

// DecodeField extracts and normalizes one field from a frame. The frame must cover
// the field's byte range. Semantically invalid raw values return a *FieldError.
func DecodeField(f *FieldSpec, frame []byte) (Value, error) {
	if f.Kind == KindOpaque {
		end := len(frame)
		if f.Length > 0 {
			end = f.Offset + f.Length
		}
		if f.Offset > len(frame) || end > len(frame) {
			return Value{}, &FieldError{Field: f.Name, Msg: "outside frame"}
		}
		return Opaque(frame[f.Offset:end]), nil
	}
	if f.Offset+f.Length > len(frame) {
		return Value{}, &FieldError{Field: f.Name, Msg: "outside frame"}
	}
	bytes := frame[f.Offset : f.Offset+f.Length]
	raw := readLE(bytes)

	if f.HasSentinel && raw == f.Sentinel {
		return Unknown(f.Kind), nil
	}
	if f.Mask != 0 {
		raw = (raw & f.Mask) >> f.Shift
	}

	switch f.Kind {
	case KindBool:
		return Bool(raw != 0), nil
	case KindEnum:
		if len(f.Enum) > 0 && raw >= uint64(len(f.Enum)) {
			return Value{}, &FieldError{Field: f.Name, Raw: raw, Msg: fmt.Sprintf("enum value outside [0, %d)", len(f.Enum))}
		}
		return Enum(int64(raw)), nil
	case KindInt16:
		return Int(KindInt16, int64(int16(uint16(raw)))), nil
	case KindUint16:
		return Int(KindUint16, int64(uint16(raw))), nil
	case KindInt32:
		return Int(KindInt32, int64(int32(uint32(raw)))), nil
	case KindPackedTime:
		h, m, s := int(bytes[0]), int(bytes[1]), int(bytes[2])
		v, err := Clock(h, m, s)
		if err != nil {
			return Value{}, &FieldError{Field: f.Name, Raw: raw, Msg: err.Error()}
		}
		return v, nil
	default:
		return Value{}, &FieldError{Field: f.Name, Raw: raw, Msg: fmt.Sprintf("unsupported kind %s", f.Kind)}
	}
}

// EncodeField produces the field's wire bytes (Length bytes, masked bits only for
// bitfields). The value must already be of the field's kind. Unknown values encode
// as the sentinel; fields without a sentinel reject them.
func EncodeField(f *FieldSpec, v Value) ([]byte, error) {
	if v.Kind() != f.Kind {
		return nil, validationErrorf(f.Name, "expected %s value, got %s", f.Kind, v.Kind())
	}
	out := make([]byte, f.Length)
	if !v.Known() {
		if !f.HasSentinel {
			return nil, validationErrorf(f.Name, "value required, field has no unknown representation")
		}
		putLE(out, f.Sentinel)
		return out, nil
	}

	var raw uint64
	n := v.Int()
	switch f.Kind {
	case KindBool:
		if v.Bool() {
			raw = 1
		}
	case KindEnum:
		if len(f.Enum) > 0 && (n < 0 || n >= int64(len(f.Enum))) {
			return nil, validationErrorf(f.Name, "enum value %d must be one of %v", n, f.Enum)
		}
		if n < 0 || n > 0xFF {
			return nil, validationErrorf(f.Name, "enum value %d must fit one byte", n)
		}
		raw = uint64(n)
	case KindInt16:
		if n < math.MinInt16 || n > math.MaxInt16 {
			return nil, validationErrorf(f.Name, "value %d must fit int16", n)
		}
		raw = uint64(uint16(int16(n)))
	case KindUint16:
		if n < 0 || n > math.MaxUint16 {
			return nil, validationErrorf(f.Name, "value %d must fit uint16", n)
		}
		raw = uint64(n)
	case KindInt32:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, validationErrorf(f.Name, "value %d must fit int32", n)
		}
		raw = uint64(uint32(int32(n)))
	case KindPackedTime:
		if n < 0 || n/3600 > 0xFF {
			return nil, validationErrorf(f.Name, "time %ds must be within 0 and 255:59:59", n)
		}
		h, m, s := v.HMS()
		raw = uint64(h) | uint64(m)<<8 | uint64(s)<<16
	default:
		return nil, validationErrorf(f.Name, "%s fields cannot be encoded", f.Kind)
	}

	if f.Mask != 0 {
		if raw > f.Mask>>f.Shift {
			return nil, validationErrorf(f.Name, "value %d does not fit bit mask 0x%X", n, f.Mask)
		}
		raw = (raw << f.Shift) & f.Mask
	}
	if f.HasSentinel && raw == f.Sentinel {
		return nil, validationErrorf(f.Name, "value %d collides with the unknown sentinel 0x%X", n, f.Sentinel)
	}
	putLE(out, raw)
	return out, nil
}
