//go:build test

package testutils

import (
	"fmt"
	"sync"

	"github.com/srg/blex/internal/explorer"
)

// Radio operation names recorded by RadioRecorder.
const (
	OpStartScan               = "StartScan"
	OpStopScan                = "StopScan"
	OpConnect                 = "Connect"
	OpDisconnect              = "Disconnect"
	OpDiscoverServices        = "DiscoverServices"
	OpDiscoverCharacteristics = "DiscoverCharacteristics"
	OpDiscoverDescriptors     = "DiscoverDescriptors"
	OpReadValue               = "ReadValue"
	OpWriteValue              = "WriteValue"
	OpSetNotify               = "SetNotify"
)

// RadioCall is one outbound request seen by RadioRecorder.
type RadioCall struct {
	Op           string
	ID           string
	Path         explorer.Path
	Filter       []string
	Data         []byte
	WithResponse bool
	Enabled      bool
}

func (c RadioCall) String() string {
	switch c.Op {
	case OpStartScan, OpStopScan:
		return fmt.Sprintf("%s%v", c.Op, c.Filter)
	case OpConnect, OpDisconnect:
		return fmt.Sprintf("%s(%s)", c.Op, c.ID)
	default:
		return fmt.Sprintf("%s(%s)", c.Op, c.Path)
	}
}

// RadioRecorder is an explorer.Radio that records every request in order and
// never calls the observer by itself; tests drive callbacks through Observer().
type RadioRecorder struct {
	mu       sync.Mutex
	observer explorer.RadioObserver
	calls    []RadioCall
	failures map[string]error
}

func NewRadioRecorder() *RadioRecorder {
	return &RadioRecorder{failures: make(map[string]error)}
}

var _ explorer.Radio = (*RadioRecorder)(nil)

// FailOn makes every subsequent request of op return err. A nil err clears it.
func (r *RadioRecorder) FailOn(op string, err error) *RadioRecorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, op)
	} else {
		r.failures[op] = err
	}
	return r
}

// Observer returns the registered observer.
func (r *RadioRecorder) Observer() explorer.RadioObserver {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.observer
}

// Calls returns a snapshot of all recorded requests.
func (r *RadioRecorder) Calls() []RadioCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RadioCall(nil), r.calls...)
}

// Ops returns the recorded operation names in order.
func (r *RadioRecorder) Ops() []string {
	calls := r.Calls()
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

// CallsOf returns the recorded requests of one operation.
func (r *RadioRecorder) CallsOf(op string) []RadioCall {
	var out []RadioCall
	for _, c := range r.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many requests of op were recorded.
func (r *RadioRecorder) Count(op string) int {
	return len(r.CallsOf(op))
}

// Reset forgets recorded requests; failures stay configured.
func (r *RadioRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *RadioRecorder) record(c RadioCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	return r.failures[c.Op]
}

func (r *RadioRecorder) SetObserver(o explorer.RadioObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = o
}

func (r *RadioRecorder) StartScan(services []string) error {
	return r.record(RadioCall{Op: OpStartScan, Filter: services})
}

func (r *RadioRecorder) StopScan() error {
	return r.record(RadioCall{Op: OpStopScan})
}

func (r *RadioRecorder) Connect(id string) error {
	return r.record(RadioCall{Op: OpConnect, ID: id})
}

func (r *RadioRecorder) Disconnect(id string) error {
	return r.record(RadioCall{Op: OpDisconnect, ID: id})
}

func (r *RadioRecorder) DiscoverServices(peripheral string, filter []string) error {
	return r.record(RadioCall{Op: OpDiscoverServices, Path: explorer.Path{Peripheral: peripheral}, Filter: filter})
}

func (r *RadioRecorder) DiscoverCharacteristics(service explorer.Path, filter []string) error {
	return r.record(RadioCall{Op: OpDiscoverCharacteristics, Path: service, Filter: filter})
}

func (r *RadioRecorder) DiscoverDescriptors(characteristic explorer.Path) error {
	return r.record(RadioCall{Op: OpDiscoverDescriptors, Path: characteristic})
}

func (r *RadioRecorder) ReadValue(target explorer.Path) error {
	return r.record(RadioCall{Op: OpReadValue, Path: target})
}

func (r *RadioRecorder) WriteValue(target explorer.Path, data []byte, withResponse bool) error {
	return r.record(RadioCall{Op: OpWriteValue, Path: target, Data: append([]byte(nil), data...), WithResponse: withResponse})
}

func (r *RadioRecorder) SetNotify(characteristic explorer.Path, enabled bool) error {
	return r.record(RadioCall{Op: OpSetNotify, Path: characteristic, Enabled: enabled})
}
