// Package monitor turns explorer delegate callbacks into JSON events and
// broadcasts them to WebSocket clients.
package monitor

import (
	"encoding/hex"
	"time"

	"github.com/srg/blex/internal/explorer"
)

// EventType names one delegate callback.
type EventType string

const (
	TypeError             EventType = "error"
	TypeState             EventType = "state"
	TypePoweredOn         EventType = "powered_on"
	TypeConnected         EventType = "peripheral_connected"
	TypeReady             EventType = "peripheral_ready"
	TypeWillDisconnect    EventType = "peripheral_will_disconnect"
	TypeDidDisconnect     EventType = "peripheral_did_disconnect"
	TypeServiceChanged    EventType = "service_changed"
	TypeCharacteristic    EventType = "characteristic_changed"
	TypeDescriptorChanged EventType = "descriptor_changed"
)

// Record is a staged peripheral as carried by state events.
type Record struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	RSSI        int    `json:"rssi"`
	Connectable bool   `json:"connectable"`
	Connected   bool   `json:"connected,omitempty"`
}

// Event is the JSON form of one delegate callback. Node values are copied at
// the time of the callback.
type Event struct {
	Seq  uint64    `json:"seq"`
	Time time.Time `json:"time"`
	Type EventType `json:"type"`

	Peripheral     string `json:"peripheral,omitempty"`
	Name           string `json:"name,omitempty"`
	Service        string `json:"service,omitempty"`
	Characteristic string `json:"characteristic,omitempty"`
	Descriptor     string `json:"descriptor,omitempty"`
	Value          string `json:"value,omitempty"`
	Notifying      bool   `json:"notifying,omitempty"`
	Decoded        any    `json:"decoded,omitempty"`

	State    string   `json:"state,omitempty"`
	Scanning *bool    `json:"scanning,omitempty"`
	Staged   []Record `json:"staged,omitempty"`

	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`

	// Err is the original error of an error event.
	Err error `json:"-"`
}

// Bytes returns the decoded Value.
func (e Event) Bytes() []byte {
	b, _ := hex.DecodeString(e.Value)
	return b
}

func recordOf(r *explorer.DiscoveryRecord) Record {
	return Record{
		ID:          r.ID(),
		Name:        r.DisplayName(),
		RSSI:        r.RSSI(),
		Connectable: r.CanConnect(),
		Connected:   r.IsConnected(),
	}
}

func encodeValue(v []byte) string {
	if len(v) == 0 {
		return ""
	}
	return hex.EncodeToString(v)
}
