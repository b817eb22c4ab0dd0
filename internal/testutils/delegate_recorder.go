//go:build test

package testutils

import (
	"sync"

	"github.com/srg/blex/internal/explorer"
)

// Delegate event kinds recorded by DelegateRecorder.
const (
	EvError                    = "Error"
	EvStateRefresh             = "StateRefresh"
	EvPoweredOn                = "PoweredOn"
	EvPeripheralConnected      = "PeripheralConnected"
	EvPeripheralReady          = "PeripheralReady"
	EvPeripheralWillDisconnect = "PeripheralWillDisconnect"
	EvPeripheralDidDisconnect  = "PeripheralDidDisconnect"
	EvServiceChanged           = "ServiceChanged"
	EvCharacteristicChanged    = "CharacteristicChanged"
	EvDescriptorChanged        = "DescriptorChanged"
)

// DelegateEvent is one recorded delegate callback.
type DelegateEvent struct {
	Kind           string
	Central        *explorer.Central
	Peripheral     *explorer.PeripheralNode
	Service        *explorer.ServiceNode
	Characteristic *explorer.CharacteristicNode
	Descriptor     *explorer.DescriptorNode
	Err            error
}

// DelegateRecorder records every delegate callback. OnEvent, when set, runs
// after recording, outside the recorder lock.
type DelegateRecorder struct {
	mu      sync.Mutex
	events  []DelegateEvent
	OnEvent func(DelegateEvent)
}

func NewDelegateRecorder() *DelegateRecorder {
	return &DelegateRecorder{}
}

var _ explorer.Delegate = (*DelegateRecorder)(nil)

func (d *DelegateRecorder) add(ev DelegateEvent) {
	d.mu.Lock()
	d.events = append(d.events, ev)
	hook := d.OnEvent
	d.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
}

// Events returns a snapshot of recorded events.
func (d *DelegateRecorder) Events() []DelegateEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DelegateEvent(nil), d.events...)
}

// Kinds returns recorded event kinds in order, skipping StateRefresh.
func (d *DelegateRecorder) Kinds() []string {
	var out []string
	for _, ev := range d.Events() {
		if ev.Kind != EvStateRefresh {
			out = append(out, ev.Kind)
		}
	}
	return out
}

// Of returns the recorded events of one kind.
func (d *DelegateRecorder) Of(kind string) []DelegateEvent {
	var out []DelegateEvent
	for _, ev := range d.Events() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns how many events of kind were recorded.
func (d *DelegateRecorder) Count(kind string) int {
	return len(d.Of(kind))
}

// Errors returns the errors delivered through Error.
func (d *DelegateRecorder) Errors() []error {
	var out []error
	for _, ev := range d.Of(EvError) {
		out = append(out, ev.Err)
	}
	return out
}

// Reset forgets recorded events.
func (d *DelegateRecorder) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = nil
}

func (d *DelegateRecorder) Error(c *explorer.Central, err error) {
	d.add(DelegateEvent{Kind: EvError, Central: c, Err: err})
}

func (d *DelegateRecorder) StateRefresh(c *explorer.Central) {
	d.add(DelegateEvent{Kind: EvStateRefresh, Central: c})
}

func (d *DelegateRecorder) PoweredOn(c *explorer.Central) {
	d.add(DelegateEvent{Kind: EvPoweredOn, Central: c})
}

func (d *DelegateRecorder) PeripheralConnected(p *explorer.PeripheralNode) {
	d.add(DelegateEvent{Kind: EvPeripheralConnected, Peripheral: p})
}

func (d *DelegateRecorder) PeripheralReady(p *explorer.PeripheralNode) {
	d.add(DelegateEvent{Kind: EvPeripheralReady, Peripheral: p})
}

func (d *DelegateRecorder) PeripheralWillDisconnect(p *explorer.PeripheralNode) {
	d.add(DelegateEvent{Kind: EvPeripheralWillDisconnect, Peripheral: p})
}

func (d *DelegateRecorder) PeripheralDidDisconnect(p *explorer.PeripheralNode) {
	d.add(DelegateEvent{Kind: EvPeripheralDidDisconnect, Peripheral: p})
}

func (d *DelegateRecorder) ServiceChanged(p *explorer.PeripheralNode, s *explorer.ServiceNode) {
	d.add(DelegateEvent{Kind: EvServiceChanged, Peripheral: p, Service: s})
}

func (d *DelegateRecorder) CharacteristicChanged(p *explorer.PeripheralNode, s *explorer.ServiceNode, ch *explorer.CharacteristicNode) {
	d.add(DelegateEvent{Kind: EvCharacteristicChanged, Peripheral: p, Service: s, Characteristic: ch})
}

func (d *DelegateRecorder) DescriptorChanged(p *explorer.PeripheralNode, s *explorer.ServiceNode, ch *explorer.CharacteristicNode, desc *explorer.DescriptorNode) {
	d.add(DelegateEvent{Kind: EvDescriptorChanged, Peripheral: p, Service: s, Characteristic: ch, Descriptor: desc})
}
