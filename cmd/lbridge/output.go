package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"text/tabwriter"

	"github.com/srg/lbridge/internal/codec"
)

var validFormats = []string{"table", "json"}

func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format '%s': must be one of %v", format, validFormats)
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// displayValue renders a field value for people: enum case names, scaled numbers
// with their unit.
func displayValue(t *codec.Table, field string, v codec.Value) string {
	f, ok := t.Field(field)
	if !ok || !v.Known() {
		return v.String()
	}
	switch {
	case f.Kind == codec.KindEnum:
		return f.EnumName(v)
	case f.Scale != 0:
		return withUnit(strconv.FormatFloat(v.Scaled(f.Scale), 'f', decimals(f.Scale), 64), f.Unit)
	default:
		return withUnit(v.String(), f.Unit)
	}
}

// decimals is how many fraction digits a scale can produce: 0.1 gives 1.
func decimals(scale float64) int {
	if scale >= 1 {
		return 0
	}
	return int(math.Ceil(-math.Log10(scale) - 1e-9))
}

func withUnit(s, unit string) string {
	if unit == "" {
		return s
	}
	return s + " " + unit
}
