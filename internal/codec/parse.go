package codec

import (
	"encoding/hex"
	"strconv"
	"strings"
)

// ParseValue converts user or cloud input into a value of the named field.
//
//	bool         true/false, on/off, 1/0
//	enum         case name or index
//	integers     decimal
//	packed time  hh:mm:ss, mm:ss or total seconds
//	opaque       hex
//
// "unknown" and "-1" give the unknown value for kinds other than bool. Range checks
// are left to Encode.
func (t *Table) ParseValue(field, text string) (Value, error) {
	d, ok := t.Lookup(field)
	if !ok {
		return Value{}, &ValidationError{Field: field, Constraint: "not a field of this device class", cause: ErrUnknownField}
	}
	text = strings.TrimSpace(text)
	if d.Kind != KindBool && (text == "unknown" || text == "-1") {
		return Unknown(d.Kind), nil
	}

	switch d.Kind {
	case KindBool:
		switch strings.ToLower(text) {
		case "true", "on", "1", "start":
			return Bool(true), nil
		case "false", "off", "0", "stop":
			return Bool(false), nil
		}
		return Value{}, validationErrorf(field, "%q is not a bool", text)
	case KindEnum:
		if f, ok := t.Field(field); ok {
			if v, ok := f.EnumValue(text); ok {
				return v, nil
			}
		}
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return Value{}, validationErrorf(field, "%q is not an enum case", text)
		}
		return Enum(n), nil
	case KindInt16, KindUint16, KindInt32:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return Value{}, validationErrorf(field, "%q is not an integer", text)
		}
		return Int(d.Kind, n), nil
	case KindPackedTime:
		return parseTime(field, text)
	case KindOpaque:
		b, err := hex.DecodeString(strings.TrimPrefix(text, "0x"))
		if err != nil {
			return Value{}, validationErrorf(field, "%q is not hex", text)
		}
		return Opaque(b), nil
	default:
		return Value{}, validationErrorf(field, "cannot parse %s values", d.Kind)
	}
}

func parseTime(field, text string) (Value, error) {
	parts := strings.Split(text, ":")
	if len(parts) == 1 {
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil || n < 0 {
			return Value{}, validationErrorf(field, "%q is not a duration in seconds", text)
		}
		return Seconds(n), nil
	}
	if len(parts) > 3 {
		return Value{}, validationErrorf(field, "%q is not hh:mm:ss", text)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Value{}, validationErrorf(field, "%q is not hh:mm:ss", text)
		}
		nums[3-len(parts)+i] = n
	}
	v, err := Clock(nums[0], nums[1], nums[2])
	if err != nil {
		return Value{}, validationErrorf(field, "%v", err)
	}
	return v, nil
}
