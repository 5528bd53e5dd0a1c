package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingT struct {
	failures []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func TestTextAsserter(t *testing.T) {
	t.Run("trailing whitespace and surrounding blank lines ignored", func(t *testing.T) {
		rt := &recordingT{}
		NewTextAsserter(rt).Assert("\n00:grillrt:TEMP  21.5  \n", "00:grillrt:TEMP  21.5")
		assert.Empty(t, rt.failures)
	})

	t.Run("mismatch reports unified diff", func(t *testing.T) {
		rt := &recordingT{}
		NewTextAsserter(rt).Assert("MEAT beef\nTEMP 21.5", "MEAT beef\nTEMP 22.0")
		if assert.Len(t, rt.failures, 1) {
			assert.Contains(t, rt.failures[0], "-TEMP 22.0")
			assert.Contains(t, rt.failures[0], "+TEMP 21.5")
		}
	})

	t.Run("strict mode keeps whitespace", func(t *testing.T) {
		rt := &recordingT{}
		NewTextAsserter(rt).WithOptions(WithTrimSpace(false), WithIgnoreTrailingWhitespace(false)).
			Assert("a \n", "a")
		assert.Len(t, rt.failures, 1)
	})
}

func TestJSONAsserter(t *testing.T) {
	t.Run("extra keys and placeholders", func(t *testing.T) {
		rt := &recordingT{}
		NewJSONAsserter(rt).Assert(
			`{"id":"01HX","property":"00:grillrt:TEMP","value":215,"known":true}`,
			`{"id":"<<PRESENCE>>","property":"00:grillrt:TEMP","value":215}`,
		)
		assert.Empty(t, rt.failures)
	})

	t.Run("value mismatch", func(t *testing.T) {
		rt := &recordingT{}
		NewJSONAsserter(rt).Assert(`{"value":215}`, `{"value":216}`)
		assert.Len(t, rt.failures, 1)
	})

	t.Run("ignored fields", func(t *testing.T) {
		rt := &recordingT{}
		NewJSONAsserter(rt).WithOptions(WithIgnoreExtraKeys(false), WithIgnoredFields("timestamp")).
			Assert(`[{"value":1,"timestamp":"x"}]`, `[{"value":1,"timestamp":"y"}]`)
		assert.Empty(t, rt.failures)
	})

	t.Run("missing placeholder key fails", func(t *testing.T) {
		rt := &recordingT{}
		NewJSONAsserter(rt).Assert(`{"value":1}`, `{"value":1,"id":"<<PRESENCE>>"}`)
		assert.Len(t, rt.failures, 1)
	})
}
