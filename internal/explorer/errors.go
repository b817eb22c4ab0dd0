package explorer

import (
	"errors"
	"fmt"
)

// ErrorKind classifies errors delivered to the Delegate.
type ErrorKind string

const (
	KindTimeout       ErrorKind = "timeout"
	KindInternal      ErrorKind = "internal"
	KindConnectFailed ErrorKind = "connect_failed"
)

// Phase names the operation a TimeoutError interrupted.
type Phase string

const (
	PhaseConnect   Phase = "connect"
	PhaseDiscovery Phase = "discovery"
)

// TimeoutError reports an operation that exceeded its deadline. Peripheral is
// set for the discovery phase only.
type TimeoutError struct {
	Phase      Phase
	Record     *DiscoveryRecord
	Peripheral *PeripheralNode
}

func (e *TimeoutError) Error() string {
	if e.Record == nil {
		return fmt.Sprintf("%s timed out", e.Phase)
	}
	return fmt.Sprintf("%s timed out for peripheral %q", e.Phase, e.Record.ID())
}

// Is allows errors.Is(err, ErrTimeout).
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// InternalError reports a broken parent/child link, a missing underlying GATT
// object, or a radio request that failed synchronously (carried as Cause).
type InternalError struct {
	Op    string
	Cause error
}

func (e *InternalError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("internal error: %s", e.Op)
	}
	return fmt.Sprintf("internal error: %s: %v", e.Op, e.Cause)
}

func (e *InternalError) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, ErrInternal).
func (e *InternalError) Is(target error) bool {
	return target == ErrInternal
}

// ConnectFailedError reports a connect attempt the radio stack rejected.
type ConnectFailedError struct {
	Record *DiscoveryRecord
	Cause  error
}

func (e *ConnectFailedError) Error() string {
	id := ""
	if e.Record != nil {
		id = e.Record.ID()
	}
	if e.Cause == nil {
		return fmt.Sprintf("failed to connect to peripheral %q", id)
	}
	return fmt.Sprintf("failed to connect to peripheral %q: %v", id, e.Cause)
}

func (e *ConnectFailedError) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, ErrConnectFailed).
func (e *ConnectFailedError) Is(target error) bool {
	return target == ErrConnectFailed
}

// Sentinels matched by kind through errors.Is.
var (
	ErrTimeout       = errors.New("timeout")
	ErrInternal      = errors.New("internal")
	ErrConnectFailed = errors.New("connect failed")
)

// Synchronous precondition failures.
var (
	ErrNoRadio      = errors.New("no radio attached")
	ErrNotPoweredOn = errors.New("bluetooth is not powered on")
)

// ErrConnectCanceled is the cause of a connect attempt abandoned by Disconnect.
var ErrConnectCanceled = errors.New("connect canceled")

// KindOf returns the kind of err, or "" if err is not one of the explorer error types.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrConnectFailed):
		return KindConnectFailed
	case errors.Is(err, ErrInternal):
		return KindInternal
	default:
		return ""
	}
}

func internalf(cause error, format string, args ...any) *InternalError {
	return &InternalError{Op: fmt.Sprintf(format, args...), Cause: cause}
}
