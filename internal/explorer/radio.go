package explorer

import (
	"strings"

	"github.com/srg/blex/internal/bledb"
)

// PowerState is the radio adapter state. Values match the platform manager states.
type PowerState int

const (
	StateUnknown PowerState = iota
	StateResetting
	StateUnsupported
	StateUnauthorized
	StatePoweredOff
	StatePoweredOn
)

func (s PowerState) String() string {
	switch s {
	case StateResetting:
		return "resetting"
	case StateUnsupported:
		return "unsupported"
	case StateUnauthorized:
		return "unauthorized"
	case StatePoweredOff:
		return "poweredOff"
	case StatePoweredOn:
		return "poweredOn"
	default:
		return "unknown"
	}
}

// Raw advertisement map keys.
const (
	AdvKeyLocalName        = "kCBAdvDataLocalName"
	AdvKeyServiceUUIDs     = "kCBAdvDataServiceUUIDs"
	AdvKeyManufacturerData = "kCBAdvDataManufacturerData"
	AdvKeyServiceData      = "kCBAdvDataServiceData"
	AdvKeyTxPowerLevel     = "kCBAdvDataTxPowerLevel"
	AdvKeyIsConnectable    = "kCBAdvDataIsConnectable"
)

// Advertisement is one advertisement snapshot as reported by the radio.
type Advertisement struct {
	ID               string // platform peripheral identifier (UUID on Darwin, address on Linux)
	Name             string // platform-assigned name
	LocalName        string // advertised local name
	RSSI             int    // dBm
	Connectable      bool
	TxPower          *int
	Services         []string
	ManufacturerData []byte
	ServiceData      map[string][]byte
}

// Data returns the advertisement as a raw key/value map.
func (a Advertisement) Data() map[string]any {
	m := map[string]any{AdvKeyIsConnectable: a.Connectable}
	if a.LocalName != "" {
		m[AdvKeyLocalName] = a.LocalName
	}
	if len(a.Services) > 0 {
		m[AdvKeyServiceUUIDs] = append([]string(nil), a.Services...)
	}
	if len(a.ManufacturerData) > 0 {
		m[AdvKeyManufacturerData] = append([]byte(nil), a.ManufacturerData...)
	}
	if len(a.ServiceData) > 0 {
		sd := make(map[string][]byte, len(a.ServiceData))
		for k, v := range a.ServiceData {
			sd[k] = v
		}
		m[AdvKeyServiceData] = sd
	}
	if a.TxPower != nil {
		m[AdvKeyTxPowerLevel] = *a.TxPower
	}
	return m
}

// Path addresses a node of the GATT tree by identity. Unused trailing fields are empty.
type Path struct {
	Peripheral     string
	Service        string
	Characteristic string
	Descriptor     string
}

// IsDescriptor reports whether p addresses a descriptor.
func (p Path) IsDescriptor() bool {
	return p.Descriptor != ""
}

func (p Path) String() string {
	parts := []string{p.Peripheral}
	for _, s := range []string{p.Service, p.Characteristic, p.Descriptor} {
		if s == "" {
			break
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "/")
}

// GATTService is the radio's description of a discovered service.
type GATTService struct {
	UUID    string
	Primary bool
}

// GATTCharacteristic is the radio's description of a discovered characteristic.
type GATTCharacteristic struct {
	UUID       string
	Properties Properties
}

// GATTDescriptor is the radio's description of a discovered descriptor.
type GATTDescriptor struct {
	UUID  string
	Value []byte
}

// Radio is the outbound side of the Bluetooth stack. Every method only issues a
// request; outcomes arrive later through the RadioObserver. A returned error means
// the request could not be issued at all.
type Radio interface {
	SetObserver(o RadioObserver)
	StartScan(services []string) error
	StopScan() error
	Connect(id string) error
	Disconnect(id string) error
	DiscoverServices(peripheral string, filter []string) error
	DiscoverCharacteristics(service Path, filter []string) error
	DiscoverDescriptors(characteristic Path) error
	ReadValue(target Path) error
	WriteValue(target Path, data []byte, withResponse bool) error
	SetNotify(characteristic Path, enabled bool) error
}

// RadioObserver is the inbound side of the Bluetooth stack. The Central implements it.
// Callbacks may arrive on any goroutine and in any number; callbacks for entities the
// Central no longer tracks are ignored.
type RadioObserver interface {
	StateChanged(state PowerState)
	PeripheralDiscovered(adv Advertisement)
	PeripheralConnected(id string)
	PeripheralDisconnected(id string, err error)
	ConnectFailed(id string, err error)
	ServicesDiscovered(peripheral string, services []GATTService, err error)
	CharacteristicsDiscovered(service Path, characteristics []GATTCharacteristic, err error)
	DescriptorsDiscovered(characteristic Path, descriptors []GATTDescriptor, err error)
	ValueUpdated(target Path, value []byte, err error)
	ValueWritten(target Path, err error)
	NotifyStateChanged(characteristic Path, notifying bool, err error)
}

// NormalizeID folds a peripheral identifier to its canonical comparison form.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// NormalizeUUID folds a GATT UUID to its canonical comparison form (see
// bledb.NormalizeUUID). Malformed UUIDs are kept verbatim (lowercased) so they
// still compare consistently.
func NormalizeUUID(u string) string {
	if n := bledb.NormalizeUUID(u); n != "" {
		return n
	}
	return NormalizeID(u)
}

// NormalizeUUIDs applies NormalizeUUID to every element. Empty input yields nil.
func NormalizeUUIDs(uuids []string) []string {
	if len(uuids) == 0 {
		return nil
	}
	out := make([]string, 0, len(uuids))
	for _, u := range uuids {
		if n := NormalizeUUID(u); n != "" {
			out = append(out, n)
		}
	}
	return out
}
