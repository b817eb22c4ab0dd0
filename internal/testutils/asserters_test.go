//go:build test

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

func TestJSONAsserter(t *testing.T) {
	tests := []struct {
		name     string
		actual   string
		expected string
		opts     []JSONOption
		fail     bool
	}{
		{name: "equal", actual: `{"a":1}`, expected: `{"a":1}`},
		{name: "extra keys ignored", actual: `{"a":1,"b":2}`, expected: `{"a":1}`},
		{name: "extra keys strict", actual: `{"a":1,"b":2}`, expected: `{"a":1}`, opts: []JSONOption{WithIgnoreExtraKeys(false)}, fail: true},
		{name: "presence placeholder", actual: `{"id":"xyz"}`, expected: `{"id":"<<PRESENCE>>"}`},
		{name: "placeholder requires key", actual: `{}`, expected: `{"id":"<<PRESENCE>>"}`, fail: true},
		{name: "ignored field", actual: `{"a":1,"ts":5}`, expected: `{"a":1,"ts":9}`, opts: []JSONOption{WithIgnoredFields("ts")}},
		{name: "root arrays", actual: `[{"a":1},{"a":2}]`, expected: `[{"a":1},{"a":2}]`},
		{name: "value mismatch", actual: `{"a":1}`, expected: `{"a":2}`, fail: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &recordingT{}
			NewJSONAsserter(rt).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)
			assert.Equal(t, tt.fail, len(rt.failures) > 0, "failures: %v", rt.failures)
		})
	}
}

func TestTextAsserter(t *testing.T) {
	rt := &recordingT{}
	ta := NewTextAsserter(rt)

	ta.Assert("line one  \nline two\n\n", "line one\nline two")
	assert.Empty(t, rt.failures, "trailing whitespace MUST be ignored by default")

	ta.Assert("line one\nline 2", "line one\nline two")
	if assert.Len(t, rt.failures, 1) {
		assert.Contains(t, rt.failures[0], "-line two")
		assert.Contains(t, rt.failures[0], "+line 2")
	}
}
