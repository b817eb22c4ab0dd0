// Package bledb normalizes GATT UUIDs and resolves Bluetooth SIG assigned numbers
// to human-readable names.
//
// All lookups accept any UUID spelling understood by NormalizeUUID: 16-bit short
// form ("180d"), 0x-prefixed ("0x180D"), or full 128-bit with or without dashes
// and braces. 128-bit UUIDs built on the SIG base are folded to their short form.
package bledb

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID 0000xxxx-0000-1000-8000-00805f9b34fb.
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal format: lowercase, no dashes.
// SIG-base 128-bit UUIDs are shortened to their 16-bit (or 32-bit) form.
// Returns "" when the input is not a well-formed UUID.
func NormalizeUUID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")

	switch len(s) {
	case 4, 8:
		if _, err := hex.DecodeString(s); err != nil {
			return ""
		}
		return s
	}

	u, err := uuid.Parse(s)
	if err != nil {
		return ""
	}
	full := strings.ReplaceAll(u.String(), "-", "")
	if strings.HasSuffix(full, sigBaseSuffix) {
		if strings.HasPrefix(full, "0000") {
			return full[4:8]
		}
		return full[:8]
	}
	return full
}

// ExpandUUID returns the dashed 128-bit form of a UUID, expanding short forms onto the SIG base.
// Returns "" for malformed input.
func ExpandUUID(s string) string {
	n := NormalizeUUID(s)
	switch len(n) {
	case 0:
		return ""
	case 4:
		n = "0000" + n + sigBaseSuffix
	case 8:
		n = n + sigBaseSuffix
	}
	u, err := uuid.Parse(n)
	if err != nil {
		return ""
	}
	return u.String()
}

// LookupService returns the assigned name of a GATT service, or "" when unknown.
func LookupService(s string) string {
	return services[NormalizeUUID(s)]
}

// LookupCharacteristic returns the assigned name of a GATT characteristic, or "" when unknown.
func LookupCharacteristic(s string) string {
	return characteristics[NormalizeUUID(s)]
}

// LookupDescriptor returns the assigned name of a GATT descriptor, or "" when unknown.
func LookupDescriptor(s string) string {
	return descriptors[NormalizeUUID(s)]
}
