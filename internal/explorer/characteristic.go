package explorer

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/blex/internal/bledb"
)

// CharacteristicNode wraps one GATT characteristic and owns its descriptors.
// Capability flags are projections of the underlying properties bitmask.
type CharacteristicNode struct {
	root *Central
	raw  *GATTCharacteristic
	uuid string

	// guarded by root.mu
	service     *ServiceNode
	descriptors *Collection[*DescriptorNode]
	value       []byte
	writes      [][]byte // in flight, completed in request order
	notifying   bool
	discovering bool
}

func newCharacteristicNode(s *ServiceNode, raw *GATTCharacteristic) *CharacteristicNode {
	ch := &CharacteristicNode{
		root:        s.root,
		raw:         raw,
		service:     s,
		descriptors: newCollection(descriptorKey),
	}
	if raw != nil {
		ch.uuid = NormalizeUUID(raw.UUID)
	}
	return ch
}

func characteristicKey(ch *CharacteristicNode) string { return ch.uuid }

// UUID returns the normalized characteristic UUID.
func (ch *CharacteristicNode) UUID() string { return ch.uuid }

// Name returns the assigned characteristic name, or "".
func (ch *CharacteristicNode) Name() string { return bledb.LookupCharacteristic(ch.uuid) }

// Properties returns the underlying GATT properties bitmask.
func (ch *CharacteristicNode) Properties() Properties {
	if ch.raw == nil {
		return 0
	}
	return ch.raw.Properties
}

// CanRead reports the read property.
func (ch *CharacteristicNode) CanRead() bool { return ch.Properties().Has(PropRead) }

// CanWrite reports either write property.
func (ch *CharacteristicNode) CanWrite() bool {
	return ch.CanWriteWithResponse() || ch.CanWriteWithoutResponse()
}

// CanWriteWithResponse reports the acknowledged write property.
func (ch *CharacteristicNode) CanWriteWithResponse() bool { return ch.Properties().Has(PropWrite) }

// CanWriteWithoutResponse reports the write-command property.
func (ch *CharacteristicNode) CanWriteWithoutResponse() bool {
	return ch.Properties().Has(PropWriteWithoutResponse)
}

// CanNotify reports the notify property.
func (ch *CharacteristicNode) CanNotify() bool { return ch.Properties().Has(PropNotify) }

// CanIndicate reports the indicate property.
func (ch *CharacteristicNode) CanIndicate() bool { return ch.Properties().Has(PropIndicate) }

// CanBroadcast reports the broadcast property.
func (ch *CharacteristicNode) CanBroadcast() bool { return ch.Properties().Has(PropBroadcast) }

// RequiresAuthenticatedSignedWrites reports the signed-write property.
func (ch *CharacteristicNode) RequiresAuthenticatedSignedWrites() bool {
	return ch.Properties().Has(PropAuthenticatedSignedWrites)
}

// RequiresNotifyEncryption reports that notifications need an encrypted link.
func (ch *CharacteristicNode) RequiresNotifyEncryption() bool {
	return ch.Properties().Has(PropNotifyEncryptionRequired)
}

// RequiresIndicateEncryption reports that indications need an encrypted link.
func (ch *CharacteristicNode) RequiresIndicateEncryption() bool {
	return ch.Properties().Has(PropIndicateEncryptionRequired)
}

// HasExtendedProperties reports that an extended properties descriptor is present.
func (ch *CharacteristicNode) HasExtendedProperties() bool {
	return ch.Properties().Has(PropExtendedProperties)
}

// Service returns the owning service, or nil once detached.
func (ch *CharacteristicNode) Service() *ServiceNode {
	var s *ServiceNode
	ch.root.read(func() { s = ch.service })
	return s
}

// Descriptors returns a snapshot of the discovered descriptors.
func (ch *CharacteristicNode) Descriptors() []*DescriptorNode {
	var out []*DescriptorNode
	ch.root.read(func() { out = ch.descriptors.Items() })
	return out
}

// Descriptor looks a descriptor up by UUID.
func (ch *CharacteristicNode) Descriptor(uuid string) (*DescriptorNode, bool) {
	var (
		d  *DescriptorNode
		ok bool
	)
	ch.root.read(func() { d, ok = ch.descriptors.Get(NormalizeUUID(uuid)) })
	return d, ok
}

// Value returns a copy of the latest value read, notified, or written.
func (ch *CharacteristicNode) Value() []byte {
	var v []byte
	ch.root.read(func() { v = append([]byte(nil), ch.value...) })
	return v
}

// IsNotifying reports whether the radio confirmed notifications are enabled.
func (ch *CharacteristicNode) IsNotifying() bool {
	var n bool
	ch.root.read(func() { n = ch.notifying })
	return n
}

// ReadValue requests the value. Returns false without a radio request unless CanRead.
func (ch *CharacteristicNode) ReadValue() bool {
	if !ch.CanRead() {
		return false
	}
	var ok bool
	ch.root.locked(func() {
		ok = ch.request("read characteristic", func(r Radio, p Path) error {
			return r.ReadValue(p)
		})
	})
	return ok
}

// WriteValue requests a write. withResponse selects the write type; the matching
// capability must be present.
func (ch *CharacteristicNode) WriteValue(data []byte, withResponse bool) bool {
	if withResponse && !ch.CanWriteWithResponse() || !withResponse && !ch.CanWriteWithoutResponse() {
		return false
	}
	buf := append([]byte(nil), data...)
	var ok bool
	ch.root.locked(func() {
		ok = ch.request("write characteristic", func(r Radio, p Path) error {
			return r.WriteValue(p, buf, withResponse)
		})
		if ok {
			ch.writes = append(ch.writes, buf)
		}
	})
	return ok
}

// StartNotifying enables notifications or indications. Returns false if the
// characteristic supports neither or is already notifying.
func (ch *CharacteristicNode) StartNotifying() bool {
	if !ch.CanNotify() && !ch.CanIndicate() {
		return false
	}
	var ok bool
	ch.root.locked(func() {
		if ch.notifying {
			return
		}
		ok = ch.request("enable notifications", func(r Radio, p Path) error {
			return r.SetNotify(p, true)
		})
	})
	return ok
}

// StopNotifying disables notifications. Returns false if not currently notifying.
func (ch *CharacteristicNode) StopNotifying() bool {
	var ok bool
	ch.root.locked(func() {
		if !ch.notifying {
			return
		}
		ok = ch.request("disable notifications", func(r Radio, p Path) error {
			return r.SetNotify(p, false)
		})
	})
	return ok
}

// DiscoverDescriptors clears and rediscovers the descriptors.
func (ch *CharacteristicNode) DiscoverDescriptors() {
	ch.root.locked(ch.startOver)
}

// HandleError reports err through the owning chain.
func (ch *CharacteristicNode) HandleError(err error) {
	ch.root.locked(func() { ch.handleError(err) })
}

func (ch *CharacteristicNode) handleError(err error) {
	if ch.service != nil {
		ch.service.handleError(err)
		return
	}
	ch.root.handleError(err)
}

func (ch *CharacteristicNode) path() (Path, bool) {
	if ch.service == nil {
		return Path{}, false
	}
	p, ok := ch.service.path()
	if !ok {
		return Path{}, false
	}
	p.Characteristic = ch.uuid
	return p, true
}

func (ch *CharacteristicNode) fields() logrus.Fields {
	p, _ := ch.path()
	return logrus.Fields{
		"peripheral":     p.Peripheral,
		"service":        p.Service,
		"characteristic": ch.uuid,
	}
}

func (ch *CharacteristicNode) request(op string, issue func(r Radio, p Path) error) bool {
	if ch.raw == nil {
		ch.handleError(internalf(nil, "%s: characteristic has no underlying GATT object", op))
		return false
	}
	p, ok := ch.path()
	if !ok {
		ch.handleError(internalf(nil, "%s: characteristic %s is detached", op, ch.uuid))
		return false
	}
	r := ch.root.radio
	if r == nil {
		ch.handleError(internalf(ErrNoRadio, "%s %s", op, p))
		return false
	}
	if err := issue(r, p); err != nil {
		ch.handleError(internalf(err, "%s %s", op, p))
		return false
	}
	ch.root.logger.WithFields(ch.fields()).Debugf("%s requested", op)
	return true
}

// startOver clears the descriptors and requests descriptor discovery. A
// request that cannot be issued is reported and the characteristic settles
// with no descriptors.
func (ch *CharacteristicNode) startOver() {
	ch.clear()
	ch.discovering = false
	if !ch.request("discover descriptors", func(r Radio, p Path) error {
		return r.DiscoverDescriptors(p)
	}) {
		ch.settle()
		return
	}
	ch.discovering = true
}

func (ch *CharacteristicNode) descriptorsDiscovered(descs []GATTDescriptor, err error) {
	if !ch.discovering {
		ch.root.logger.WithFields(ch.fields()).Warn("Ignoring descriptors for a characteristic that is not discovering")
		return
	}
	ch.discovering = false
	if err != nil {
		ch.handleError(internalf(err, "discover descriptors for %s", ch.uuid))
	}
	for i := range descs {
		raw := descs[i]
		ch.addDescriptor(newDescriptorNode(ch, &raw))
	}
	ch.settle()
}

// addDescriptor appends d and notifies upward. Duplicates are dropped.
func (ch *CharacteristicNode) addDescriptor(d *DescriptorNode) bool {
	if !ch.descriptors.Append(d) {
		ch.root.logger.WithFields(ch.fields()).WithField("descriptor", d.uuid).Debug("Dropping duplicate descriptor")
		d.detach()
		return false
	}
	d.notifyChanged()
	return true
}

func (ch *CharacteristicNode) settle() {
	if ch.service == nil {
		return
	}
	ch.service.addCharacteristic(ch)
}

func (ch *CharacteristicNode) valueUpdated(value []byte, err error) {
	if err != nil {
		ch.handleError(internalf(err, "read characteristic %s", ch.uuid))
		return
	}
	ch.value = append([]byte(nil), value...)
	ch.notifyChanged()
}

func (ch *CharacteristicNode) valueWritten(err error) {
	var data []byte
	if len(ch.writes) > 0 {
		data = ch.writes[0]
		ch.writes = ch.writes[1:]
	}
	if err != nil {
		ch.handleError(internalf(err, "write characteristic %s", ch.uuid))
		return
	}
	if data != nil {
		ch.value = data
	}
	ch.notifyChanged()
}

func (ch *CharacteristicNode) notifyStateChanged(notifying bool, err error) {
	if err != nil {
		ch.handleError(internalf(err, "set notify on %s", ch.uuid))
		return
	}
	ch.notifying = notifying
	ch.notifyChanged()
}

func (ch *CharacteristicNode) notifyChanged() {
	s := ch.service
	if s == nil || s.peripheral == nil {
		return
	}
	p := s.peripheral
	ch.root.post(func(d Delegate) { d.CharacteristicChanged(p, s, ch) })
}

// clear empties the descriptor collection.
func (ch *CharacteristicNode) clear() {
	for _, d := range ch.descriptors.Items() {
		d.detach()
	}
	ch.descriptors.Clear()
}

func (ch *CharacteristicNode) detach() {
	ch.clear()
	ch.discovering = false
	ch.notifying = false
	ch.service = nil
}
