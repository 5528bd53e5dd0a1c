// Package codec describes fixed-layout binary frames and converts them to and from
// typed field values.
package codec

import (
	"encoding/hex"
	"fmt"
	"strconv"
)

// Kind is the semantic type of a decoded field.
type Kind int

const (
	KindBool Kind = iota
	KindEnum
	KindInt16
	KindUint16
	KindInt32
	KindPackedTime // hours, minutes, seconds bytes; value is total seconds
	KindOpaque     // raw bytes passed through untouched
)

// UnknownInt is how an unknown value is rendered when an integer is required
// (cloud datapoints, CLI output).
const UnknownInt int64 = -1

// Width returns the wire width in bytes of a kind, or 0 for variable width.
func (k Kind) Width() int {
	switch k {
	case KindBool, KindEnum:
		return 1
	case KindInt16, KindUint16:
		return 2
	case KindPackedTime:
		return 3
	case KindInt32:
		return 4
	default:
		return 0
	}
}

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindEnum:
		return "enum"
	case KindInt16:
		return "int16"
	case KindUint16:
		return "uint16"
	case KindInt32:
		return "int32"
	case KindPackedTime:
		return "packed-time"
	case KindOpaque:
		return "opaque"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is an immutable decoded field value. The zero Value is an unknown bool.
type Value struct {
	kind  Kind
	known bool
	num   int64
	raw   string
}

// Unknown returns the "unknown / no sensor" value of the given kind.
func Unknown(kind Kind) Value {
	return Value{kind: kind}
}

// Bool returns a known boolean value.
func Bool(b bool) Value {
	v := Value{kind: KindBool, known: true}
	if b {
		v.num = 1
	}
	return v
}

// Int returns a known integer value of the given kind (enum, int16, uint16, int32).
func Int(kind Kind, n int64) Value {
	return Value{kind: kind, known: true, num: n}
}

// Enum returns a known enum value.
func Enum(n int64) Value {
	return Int(KindEnum, n)
}

// Seconds returns a known packed-time value holding total seconds.
func Seconds(total int64) Value {
	return Value{kind: KindPackedTime, known: true, num: total}
}

// Clock builds a packed-time value from its components, rejecting minutes or
// seconds outside [0, 60).
func Clock(hours, minutes, seconds int) (Value, error) {
	if hours < 0 || hours > 0xFF {
		return Value{}, fmt.Errorf("hours %d out of range [0, 255]", hours)
	}
	if minutes < 0 || minutes >= 60 {
		return Value{}, fmt.Errorf("minutes %d out of range [0, 60)", minutes)
	}
	if seconds < 0 || seconds >= 60 {
		return Value{}, fmt.Errorf("seconds %d out of range [0, 60)", seconds)
	}
	return Seconds(int64(hours)*3600 + int64(minutes)*60 + int64(seconds)), nil
}

// Opaque returns a known pass-through value holding a copy of data.
func Opaque(data []byte) Value {
	return Value{kind: KindOpaque, known: true, raw: string(data)}
}

// FromParts rebuilds a value from its persisted representation.
func FromParts(kind Kind, known bool, num int64, raw []byte) Value {
	if !known {
		return Unknown(kind)
	}
	if kind == KindOpaque {
		return Opaque(raw)
	}
	return Value{kind: kind, known: true, num: num}
}

func (v Value) Kind() Kind { return v.kind }

// Known reports whether the value carries a reading.
func (v Value) Known() bool { return v.known }

// Int returns the integer payload, or UnknownInt when unknown.
// Booleans are 0/1, packed times are total seconds.
func (v Value) Int() int64 {
	if !v.known {
		return UnknownInt
	}
	return v.num
}

// Bool reports the boolean payload; unknown is false.
func (v Value) Bool() bool {
	return v.known && v.num != 0
}

// Bytes returns a copy of an opaque payload.
func (v Value) Bytes() []byte {
	if v.kind != KindOpaque || !v.known {
		return nil
	}
	return []byte(v.raw)
}

// HMS splits a packed-time value into its components.
func (v Value) HMS() (hours, minutes, seconds int) {
	n := int(v.num)
	return n / 3600, (n % 3600) / 60, n % 60
}

// Scaled returns the value multiplied by scale (1 when scale is 0).
func (v Value) Scaled(scale float64) float64 {
	if scale == 0 {
		scale = 1
	}
	return float64(v.Int()) * scale
}

// Equal is strict per kind. Two unknown values of the same kind are equal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind || v.known != o.known {
		return false
	}
	if !v.known {
		return true
	}
	return v.num == o.num && v.raw == o.raw
}

func (v Value) String() string {
	if !v.known {
		return "unknown"
	}
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.num != 0)
	case KindPackedTime:
		h, m, s := v.HMS()
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	case KindOpaque:
		return hex.EncodeToString([]byte(v.raw))
	default:
		return strconv.FormatInt(v.num, 10)
	}
}
