package goble

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrBluetoothOff        = errors.New("bluetooth is turned off")
	ErrNotConnected        = errors.New("device not connected")
	ErrAlreadyConnected    = errors.New("device already connected")
	ErrNotInitialized      = errors.New("connection is not initialized")
	ErrNotStarted          = errors.New("radio is not started")
	ErrUnknownAttribute    = errors.New("attribute not discovered")
	ErrUnsupportedPlatform = errors.New("bluetooth is not supported on this platform")
)

// NormalizeError maps known go-ble error strings to the sentinels above.
// The original error is kept in the message.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "central manager has invalid state"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	default:
		return err
	}
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
