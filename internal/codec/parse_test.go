package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue(t *testing.T) {
	tbl := thermoTable()

	tests := []struct {
		field string
		text  string
		want  Value
	}{
		{"ACTIVE", "on", Bool(true)},
		{"ACTIVE", "false", Bool(false)},
		{"ACTIVE", "stop", Bool(false)},
		{"LEVEL", "high", Enum(2)},
		{"LEVEL", "1", Enum(1)},
		{"LEVEL", "unknown", Unknown(KindEnum)},
		{"TEMP", "-40", Int(KindInt16, -40)},
		{"TEMP", "-1", Unknown(KindInt16)},
		{"TIMER", "01:30:00", Seconds(5400)},
		{"TIMER", "45:10", Seconds(2710)},
		{"TIMER", "90", Seconds(90)},
	}
	for _, tt := range tests {
		t.Run(tt.field+"="+tt.text, func(t *testing.T) {
			got, err := tbl.ParseValue(tt.field, tt.text)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}

	generic := &Table{}
	raw, err := generic.ParseValue(RawField, "0a0B")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0a, 0x0b}, raw.Bytes())
}

func TestParseValueRejects(t *testing.T) {
	tbl := thermoTable()

	for _, tt := range []struct{ field, text string }{
		{"ACTIVE", "maybe"},
		{"LEVEL", "scorching"},
		{"TEMP", "warm"},
		{"TIMER", "1:60:00"},
		{"TIMER", "1:2:3:4"},
	} {
		t.Run(tt.field+"="+tt.text, func(t *testing.T) {
			_, err := tbl.ParseValue(tt.field, tt.text)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	_, err := tbl.ParseValue("NOPE", "1")
	assert.ErrorIs(t, err, ErrUnknownField)
}
