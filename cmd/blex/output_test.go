package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blex/internal/explorer"
	"github.com/srg/blex/internal/radio/goble"
)

func TestParseData(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		asHex    bool
		expected []byte
	}{
		{name: "text", input: "hi there", expected: []byte("hi there")},
		{name: "text keeps hex-looking input", input: "0102", expected: []byte("0102")},
		{name: "simple hex", input: "0102", asHex: true, expected: []byte{0x01, 0x02}},
		{name: "hex with spaces", input: "01 02 03", asHex: true, expected: []byte{0x01, 0x02, 0x03}},
		{name: "hex with colons", input: "01:02:03", asHex: true, expected: []byte{0x01, 0x02, 0x03}},
		{name: "hex with 0x prefixes", input: "0x01 0x02", asHex: true, expected: []byte{0x01, 0x02}},
		{name: "mixed separators", input: "0x01:02-03 04", asHex: true, expected: []byte{0x01, 0x02, 0x03, 0x04}},
		{name: "upper case", input: "0XFFAB", asHex: true, expected: []byte{0xff, 0xab}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseData(tt.input, tt.asHex)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	t.Run("invalid hex", func(t *testing.T) {
		got, err := parseData("ZZZZ", true)
		assert.ErrorContains(t, err, "invalid hex data")
		assert.Nil(t, got)
	})

	t.Run("odd length", func(t *testing.T) {
		_, err := parseData("012", true)
		assert.Error(t, err)
	})
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "(empty)", formatValue(nil, false))
	assert.Equal(t, `"Battery"`, formatValue([]byte("Battery"), false))
	assert.Equal(t, "42 61", formatValue([]byte("Ba"), true))
	assert.Equal(t, "00 48", formatValue([]byte{0x00, 0x48}, false))
	assert.Equal(t, "ff fe", formatValue([]byte{0xff, 0xfe}, false), "invalid UTF-8 MUST print as hex")
}

func TestFormatDecoded(t *testing.T) {
	assert.Equal(t, `"Battery"`, formatDecoded("Battery"))
	assert.Equal(t, "01 02", formatDecoded([]byte{1, 2}))
	assert.Equal(t, "notifications=on indications=off", formatDecoded(explorer.ClientConfig{Notifications: true}))
	assert.Equal(t, "{ReliableWrite:true WritableAuxiliaries:false}", formatDecoded(explorer.ExtendedProperties{ReliableWrite: true}))
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "ffe0", label("ffe0", ""))
	assert.Equal(t, "180f (Battery Service)", label("180f", "Battery Service"))
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "bluetooth off",
			err:      fmt.Errorf("start: %w", goble.ErrBluetoothOff),
			expected: "Bluetooth is turned off; enable it and try again",
		},
		{
			name:     "unsupported platform",
			err:      goble.ErrUnsupportedPlatform,
			expected: "BLE is not supported on this platform",
		},
		{
			name:     "deadline",
			err:      fmt.Errorf("waiting: %w", context.DeadlineExceeded),
			expected: "operation timed out",
		},
		{
			name:     "not powered on",
			err:      explorer.ErrNotPoweredOn,
			expected: "Bluetooth adapter is not powered on",
		},
		{
			name:     "other errors pass through",
			err:      errors.New("boom"),
			expected: "boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatUserError(tt.err))
		})
	}

	t.Run("timeouts name their phase", func(t *testing.T) {
		discovery := &explorer.TimeoutError{Phase: explorer.PhaseDiscovery}
		assert.Contains(t, FormatUserError(discovery), "timed out discovering the GATT tree")

		connect := &explorer.TimeoutError{Phase: explorer.PhaseConnect}
		assert.Contains(t, FormatUserError(connect), "timed out connecting")
	})
}

func TestProgressPrinterNonTerminal(t *testing.T) {
	// A buffer is never a terminal, so nothing is drawn.
	var buf bytes.Buffer
	p := NewCountdownProgressPrinter(&buf, "Scanning", "scanning", time.Second)
	p.Start()
	p.SetPhase("stopping")
	time.Sleep(2 * progressUpdateInterval)
	p.Stop()
	p.Stop()

	assert.Empty(t, buf.String())
	assert.Panics(t, p.Start, "a printer MUST NOT be restarted")
}
