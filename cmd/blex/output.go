package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fatih/color"
)

// palette colours tree and table output. Colours are off unless w is a terminal.
type palette struct {
	peripheral *color.Color
	service    *color.Color
	char       *color.Color
	desc       *color.Color
	dim        *color.Color
	value      *color.Color
	err        *color.Color
}

func newPalette(w io.Writer) palette {
	enabled := isTerminal(w) && !color.NoColor
	mk := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c
	}
	return palette{
		peripheral: mk(color.FgHiWhite, color.Bold),
		service:    mk(color.FgCyan, color.Bold),
		char:       mk(color.FgGreen),
		desc:       mk(color.FgYellow),
		dim:        mk(color.Faint),
		value:      mk(color.FgMagenta),
		err:        mk(color.FgRed),
	}
}

// formatValue renders bytes as text when printable, hex otherwise.
func formatValue(b []byte, forceHex bool) string {
	if len(b) == 0 {
		return "(empty)"
	}
	if forceHex || !isPrintable(b) {
		return hexDump(b)
	}
	return fmt.Sprintf("%q", string(b))
}

func hexDump(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02x", v)
	}
	return strings.Join(parts, " ")
}

func isPrintable(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// parseData decodes a command-line payload. With asHex the input is hex bytes,
// optionally 0x-prefixed and separated by spaces, colons, or dashes; otherwise
// the raw text bytes are used.
func parseData(s string, asHex bool) ([]byte, error) {
	if !asHex {
		return []byte(s), nil
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ':' || r == '-' || unicode.IsSpace(r)
	})
	var sb strings.Builder
	for _, f := range fields {
		f = strings.TrimPrefix(strings.TrimPrefix(f, "0x"), "0X")
		sb.WriteString(f)
	}
	b, err := hex.DecodeString(sb.String())
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return b, nil
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func clearScreen(w io.Writer) {
	fmt.Fprint(w, "\033[2J\033[H")
}
