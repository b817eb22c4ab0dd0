package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/blex/internal/explorer"
	"github.com/srg/blex/internal/radio/goble"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the link dropped while a command was using it.
	ErrConnectionLost = errors.New("connection lost")
	// ErrPeripheralNotFound indicates the peripheral was not advertising before the timeout.
	ErrPeripheralNotFound = errors.New("peripheral not found")
	// ErrAttributeNotFound indicates a service, characteristic, or descriptor missing from the GATT tree.
	ErrAttributeNotFound = errors.New("attribute not found")
	// ErrNotSupported indicates the characteristic lacks the property the command needs.
	ErrNotSupported = errors.New("operation not supported")
)

// FormatUserError turns an error into a message for the terminal.
func FormatUserError(err error) string {
	var timeout *explorer.TimeoutError
	switch {
	case errors.Is(err, goble.ErrBluetoothOff):
		return "Bluetooth is turned off; enable it and try again"
	case errors.Is(err, goble.ErrUnsupportedPlatform):
		return "BLE is not supported on this platform"
	case errors.As(err, &timeout):
		if timeout.Phase == explorer.PhaseDiscovery {
			return fmt.Sprintf("timed out discovering the GATT tree (%s)", err)
		}
		return fmt.Sprintf("timed out connecting (%s)", err)
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out"
	case errors.Is(err, explorer.ErrNotPoweredOn):
		return "Bluetooth adapter is not powered on"
	}
	return err.Error()
}
