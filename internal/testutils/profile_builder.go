//go:build test

package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/go-ble/ble"

	"github.com/srg/blex/internal/explorer"
)

// DescriptorConfig represents a GATT descriptor in a test profile
type DescriptorConfig struct {
	UUID  string `json:"uuid"`
	Value []byte `json:"value,omitempty"`
}

// CharacteristicConfig represents a GATT characteristic in a test profile
type CharacteristicConfig struct {
	UUID        string             `json:"uuid"`
	Properties  string             `json:"properties,omitempty"` // e.g., "read,write,notify"
	Value       []byte             `json:"value,omitempty"`
	Descriptors []DescriptorConfig `json:"descriptors,omitempty"`
}

// ServiceConfig represents a GATT service in a test profile
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// Profile is a complete test GATT profile.
type Profile struct {
	Services []ServiceConfig `json:"services"`
}

// ProfileBuilder builds a test GATT profile with a fluent API.
//
//	profile := testutils.NewProfileBuilder().
//	    WithService("180d").
//	    WithCharacteristic("2a37", "read,notify", []byte{80}).
//	    WithDescriptor("2902", []byte{0, 0}).
//	    Build()
type ProfileBuilder struct {
	profile Profile
}

func NewProfileBuilder() *ProfileBuilder {
	return &ProfileBuilder{}
}

// WithService adds a service to the profile
func (b *ProfileBuilder) WithService(uuid string) *ProfileBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *ProfileBuilder) WithCharacteristic(uuid, properties string, value []byte) *ProfileBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	s := &b.profile.Services[len(b.profile.Services)-1]
	s.Characteristics = append(s.Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// WithDescriptor adds a descriptor to the last added characteristic
func (b *ProfileBuilder) WithDescriptor(uuid string, value []byte) *ProfileBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithDescriptor: no service added yet, call WithService first")
	}
	s := &b.profile.Services[len(b.profile.Services)-1]
	if len(s.Characteristics) == 0 {
		panic("WithDescriptor: no characteristic added yet, call WithCharacteristic first")
	}
	ch := &s.Characteristics[len(s.Characteristics)-1]
	ch.Descriptors = append(ch.Descriptors, DescriptorConfig{UUID: uuid, Value: value})
	return b
}

// FromJSON fills the profile from JSON
func (b *ProfileBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *ProfileBuilder {
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &b.profile); err != nil {
		panic(fmt.Sprintf("FromJSON: %v", err))
	}
	return b
}

func (b *ProfileBuilder) Build() Profile {
	return b.profile
}

// GATTServices returns the services as the radio reports them.
func (p Profile) GATTServices() []explorer.GATTService {
	out := make([]explorer.GATTService, 0, len(p.Services))
	for _, s := range p.Services {
		out = append(out, explorer.GATTService{UUID: s.UUID, Primary: true})
	}
	return out
}

// GATTCharacteristics returns the characteristics of one service as the radio reports them.
func (s ServiceConfig) GATTCharacteristics() []explorer.GATTCharacteristic {
	out := make([]explorer.GATTCharacteristic, 0, len(s.Characteristics))
	for _, c := range s.Characteristics {
		out = append(out, explorer.GATTCharacteristic{UUID: c.UUID, Properties: explorer.ParseProperties(c.Properties)})
	}
	return out
}

// GATTDescriptors returns the descriptors of one characteristic as the radio reports them.
func (c CharacteristicConfig) GATTDescriptors() []explorer.GATTDescriptor {
	out := make([]explorer.GATTDescriptor, 0, len(c.Descriptors))
	for _, d := range c.Descriptors {
		out = append(out, explorer.GATTDescriptor{UUID: d.UUID, Value: d.Value})
	}
	return out
}

// BLEServices returns the profile as go-ble objects.
func (p Profile) BLEServices() []*ble.Service {
	out := make([]*ble.Service, 0, len(p.Services))
	for _, s := range p.Services {
		svc := &ble.Service{UUID: ble.MustParse(s.UUID)}
		for _, c := range s.Characteristics {
			ch := &ble.Characteristic{
				UUID:     ble.MustParse(c.UUID),
				Property: ble.Property(explorer.ParseProperties(c.Properties) & 0xff),
				Value:    c.Value,
			}
			for _, d := range c.Descriptors {
				ch.Descriptors = append(ch.Descriptors, &ble.Descriptor{UUID: ble.MustParse(d.UUID), Value: d.Value})
			}
			svc.Characteristics = append(svc.Characteristics, ch)
		}
		out = append(out, svc)
	}
	return out
}
