package explorer

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Well-known descriptor UUIDs in normalized short form.
const (
	DescExtendedProperties = "2900"
	DescUserDescription    = "2901"
	DescClientConfig       = "2902"
	DescServerConfig       = "2903"
	DescPresentationFormat = "2904"
	DescAggregateFormat    = "2905"
	DescValidRange         = "2906"
)

// ExtendedProperties is the decoded 0x2900 descriptor.
type ExtendedProperties struct {
	ReliableWrite       bool `json:"reliable_write"`
	WritableAuxiliaries bool `json:"writable_auxiliaries"`
}

// ClientConfig is the decoded 0x2902 descriptor.
type ClientConfig struct {
	Notifications bool `json:"notifications"`
	Indications   bool `json:"indications"`
}

// Bytes encodes the configuration for a descriptor write.
func (c ClientConfig) Bytes() []byte {
	var v uint16
	if c.Notifications {
		v |= 0x0001
	}
	if c.Indications {
		v |= 0x0002
	}
	return binary.LittleEndian.AppendUint16(nil, v)
}

// ServerConfig is the decoded 0x2903 descriptor.
type ServerConfig struct {
	Broadcasts bool `json:"broadcasts"`
}

// PresentationFormat is the decoded 0x2904 descriptor.
type PresentationFormat struct {
	Format      uint8  `json:"format"`
	Exponent    int8   `json:"exponent"`
	Unit        uint16 `json:"unit"`
	Namespace   uint8  `json:"namespace"`
	Description uint16 `json:"description"`
}

// ValidRange is the decoded 0x2906 descriptor. The split between bounds
// assumes equal widths; odd lengths give the extra byte to Max.
type ValidRange struct {
	Min []byte `json:"min"`
	Max []byte `json:"max"`
}

func flags16(name string, data []byte) (uint16, error) {
	if len(data) != 2 {
		return 0, fmt.Errorf("%s: expected 2 bytes, got %d", name, len(data))
	}
	return binary.LittleEndian.Uint16(data), nil
}

// DecodeDescriptorValue decodes a descriptor value by UUID. Unknown descriptors
// come back as a copy of the raw bytes; empty data yields (nil, nil).
func DecodeDescriptorValue(uuid string, data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}

	switch NormalizeUUID(uuid) {
	case DescExtendedProperties:
		v, err := flags16("extended properties", data)
		if err != nil {
			return nil, err
		}
		return ExtendedProperties{ReliableWrite: v&0x1 != 0, WritableAuxiliaries: v&0x2 != 0}, nil

	case DescUserDescription:
		s := strings.TrimRight(string(data), "\x00")
		if !utf8.ValidString(s) {
			return nil, fmt.Errorf("user description: invalid UTF-8")
		}
		return s, nil

	case DescClientConfig:
		v, err := flags16("client config", data)
		if err != nil {
			return nil, err
		}
		return ClientConfig{Notifications: v&0x1 != 0, Indications: v&0x2 != 0}, nil

	case DescServerConfig:
		v, err := flags16("server config", data)
		if err != nil {
			return nil, err
		}
		return ServerConfig{Broadcasts: v&0x1 != 0}, nil

	case DescPresentationFormat:
		if len(data) != 7 {
			return nil, fmt.Errorf("presentation format: expected 7 bytes, got %d", len(data))
		}
		return PresentationFormat{
			Format:      data[0],
			Exponent:    int8(data[1]),
			Unit:        binary.LittleEndian.Uint16(data[2:4]),
			Namespace:   data[4],
			Description: binary.LittleEndian.Uint16(data[5:7]),
		}, nil

	case DescValidRange:
		if len(data) < 2 {
			return nil, fmt.Errorf("valid range: expected at least 2 bytes, got %d", len(data))
		}
		mid := len(data) / 2
		return ValidRange{
			Min: append([]byte(nil), data[:mid]...),
			Max: append([]byte(nil), data[mid:]...),
		}, nil

	default:
		return append([]byte(nil), data...), nil
	}
}
