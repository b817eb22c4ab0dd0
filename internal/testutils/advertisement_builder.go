//go:build test

package testutils

import (
	"github.com/go-ble/ble"

	"github.com/srg/blex/internal/explorer"
	"github.com/srg/blex/internal/testutils/mocks"
)

// AdvertisementBuilder builds advertisements for tests, either as the explorer
// value type or as a mocked ble.Advertisement for the go-ble adapter.
type AdvertisementBuilder struct {
	id          string
	name        string
	localName   string
	rssi        int
	services    []string
	manufData   []byte
	serviceData map[string][]byte
	txPower     *int
	connectable bool
}

// NewAdvertisementBuilder creates a builder for a connectable advertisement at -50 dBm.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{
		rssi:        -50,
		connectable: true,
	}
}

func (b *AdvertisementBuilder) WithID(id string) *AdvertisementBuilder {
	b.id = id
	return b
}

// WithName sets the platform-assigned name.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = name
	return b
}

// WithLocalName sets the advertised local name.
func (b *AdvertisementBuilder) WithLocalName(name string) *AdvertisementBuilder {
	b.localName = name
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	return b
}

// WithServices adds advertised service UUIDs, short or full form.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.services = append(b.services, uuids...)
	return b
}

func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.manufData = data
	return b
}

func (b *AdvertisementBuilder) WithServiceData(uuid string, data []byte) *AdvertisementBuilder {
	if b.serviceData == nil {
		b.serviceData = make(map[string][]byte)
	}
	b.serviceData[uuid] = data
	return b
}

func (b *AdvertisementBuilder) WithTxPower(power int) *AdvertisementBuilder {
	b.txPower = &power
	return b
}

func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.connectable = c
	return b
}

// Build returns the explorer advertisement.
func (b *AdvertisementBuilder) Build() explorer.Advertisement {
	adv := explorer.Advertisement{
		ID:               b.id,
		Name:             b.name,
		LocalName:        b.localName,
		RSSI:             b.rssi,
		Connectable:      b.connectable,
		Services:         append([]string(nil), b.services...),
		ManufacturerData: b.manufData,
	}
	if b.txPower != nil {
		p := *b.txPower
		adv.TxPower = &p
	}
	if len(b.serviceData) > 0 {
		adv.ServiceData = make(map[string][]byte, len(b.serviceData))
		for k, v := range b.serviceData {
			adv.ServiceData[k] = v
		}
	}
	return adv
}

// BuildBLE returns a mocked ble.Advertisement. The id is used as the address
// and the local name (or name) as LocalName.
func (b *AdvertisementBuilder) BuildBLE() *mocks.MockAdvertisement {
	adv := &mocks.MockAdvertisement{}

	addr := &mocks.MockAddr{}
	addr.On("String").Return(b.id)
	adv.On("Addr").Return(addr)

	name := b.localName
	if name == "" {
		name = b.name
	}
	adv.On("LocalName").Return(name)
	adv.On("RSSI").Return(b.rssi)
	adv.On("Connectable").Return(b.connectable)
	adv.On("ManufacturerData").Return(b.manufData)

	services := make([]ble.UUID, 0, len(b.services))
	for _, s := range b.services {
		services = append(services, ble.MustParse(s))
	}
	adv.On("Services").Return(services)

	serviceData := make([]ble.ServiceData, 0, len(b.serviceData))
	for uuid, data := range b.serviceData {
		serviceData = append(serviceData, ble.ServiceData{UUID: ble.MustParse(uuid), Data: data})
	}
	adv.On("ServiceData").Return(serviceData)

	if b.txPower != nil {
		adv.On("TxPowerLevel").Return(*b.txPower)
	} else {
		adv.On("TxPowerLevel").Return(127) // unavailable
	}
	return adv
}
