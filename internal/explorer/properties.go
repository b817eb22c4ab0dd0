package explorer

import "strings"

// Properties is the GATT characteristic properties bitmask. The low byte uses
// the Core Specification bit values; the two encryption flags follow the
// platform extension bits.
type Properties uint16

const (
	PropBroadcast                  Properties = 0x01
	PropRead                       Properties = 0x02
	PropWriteWithoutResponse       Properties = 0x04
	PropWrite                      Properties = 0x08
	PropNotify                     Properties = 0x10
	PropIndicate                   Properties = 0x20
	PropAuthenticatedSignedWrites  Properties = 0x40
	PropExtendedProperties         Properties = 0x80
	PropNotifyEncryptionRequired   Properties = 0x100
	PropIndicateEncryptionRequired Properties = 0x200
)

var propertyNames = []struct {
	bit  Properties
	name string
}{
	{PropBroadcast, "broadcast"},
	{PropRead, "read"},
	{PropWriteWithoutResponse, "write_without_response"},
	{PropWrite, "write"},
	{PropNotify, "notify"},
	{PropIndicate, "indicate"},
	{PropAuthenticatedSignedWrites, "authenticated_signed_writes"},
	{PropExtendedProperties, "extended_properties"},
	{PropNotifyEncryptionRequired, "notify_encryption_required"},
	{PropIndicateEncryptionRequired, "indicate_encryption_required"},
}

// Has reports whether every bit of p2 is set in p.
func (p Properties) Has(p2 Properties) bool {
	return p&p2 == p2
}

// Names returns the set flags in bit order.
func (p Properties) Names() []string {
	var names []string
	for _, pn := range propertyNames {
		if p.Has(pn.bit) {
			names = append(names, pn.name)
		}
	}
	return names
}

func (p Properties) String() string {
	return strings.Join(p.Names(), ",")
}

// ParseProperties parses a comma-separated list of property names as produced by String.
// Unknown names are ignored.
func ParseProperties(s string) Properties {
	var p Properties
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		for _, pn := range propertyNames {
			if pn.name == part {
				p |= pn.bit
			}
		}
	}
	return p
}
