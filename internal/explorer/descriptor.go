package explorer

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/blex/internal/bledb"
)

// DescriptorNode wraps one GATT descriptor.
type DescriptorNode struct {
	root *Central
	raw  *GATTDescriptor
	uuid string

	// guarded by root.mu
	characteristic *CharacteristicNode
	value          []byte
	writes         [][]byte // in flight, completed in request order
}

func newDescriptorNode(ch *CharacteristicNode, raw *GATTDescriptor) *DescriptorNode {
	d := &DescriptorNode{
		root:           ch.root,
		raw:            raw,
		characteristic: ch,
	}
	if raw != nil {
		d.uuid = NormalizeUUID(raw.UUID)
		d.value = append([]byte(nil), raw.Value...)
	}
	return d
}

func descriptorKey(d *DescriptorNode) string { return d.uuid }

// UUID returns the normalized descriptor UUID.
func (d *DescriptorNode) UUID() string { return d.uuid }

// Name returns the assigned descriptor name, or "".
func (d *DescriptorNode) Name() string { return bledb.LookupDescriptor(d.uuid) }

// Characteristic returns the owning characteristic, or nil once detached.
func (d *DescriptorNode) Characteristic() *CharacteristicNode {
	var ch *CharacteristicNode
	d.root.read(func() { ch = d.characteristic })
	return ch
}

// Value returns a copy of the cached descriptor value.
func (d *DescriptorNode) Value() []byte {
	var v []byte
	d.root.read(func() { v = append([]byte(nil), d.value...) })
	return v
}

// Decoded returns the cached value decoded by descriptor type.
func (d *DescriptorNode) Decoded() (any, error) {
	return DecodeDescriptorValue(d.uuid, d.Value())
}

// ReadValue requests the descriptor value. The result arrives as a DescriptorChanged notification.
func (d *DescriptorNode) ReadValue() bool {
	var ok bool
	d.root.locked(func() { ok = d.readValue() })
	return ok
}

// WriteValue requests a descriptor write. On completion the written bytes are
// cached and a DescriptorChanged notification fires.
func (d *DescriptorNode) WriteValue(data []byte) bool {
	var ok bool
	d.root.locked(func() { ok = d.writeValue(data) })
	return ok
}

// HandleError reports err through the owning chain.
func (d *DescriptorNode) HandleError(err error) {
	d.root.locked(func() { d.handleError(err) })
}

func (d *DescriptorNode) handleError(err error) {
	if d.characteristic != nil {
		d.characteristic.handleError(err)
		return
	}
	d.root.handleError(err)
}

func (d *DescriptorNode) path() (Path, bool) {
	if d.characteristic == nil {
		return Path{}, false
	}
	p, ok := d.characteristic.path()
	if !ok {
		return Path{}, false
	}
	p.Descriptor = d.uuid
	return p, true
}

func (d *DescriptorNode) request(op string, issue func(r Radio, p Path) error) bool {
	if d.raw == nil {
		d.handleError(internalf(nil, "%s: descriptor has no underlying GATT object", op))
		return false
	}
	p, ok := d.path()
	if !ok {
		d.handleError(internalf(nil, "%s: descriptor %s is detached", op, d.uuid))
		return false
	}
	r := d.root.radio
	if r == nil {
		d.handleError(internalf(ErrNoRadio, "%s %s", op, p))
		return false
	}
	if err := issue(r, p); err != nil {
		d.handleError(internalf(err, "%s %s", op, p))
		return false
	}
	d.root.logger.WithFields(logrus.Fields{
		"peripheral": p.Peripheral,
		"descriptor": p.String(),
	}).Debugf("%s requested", op)
	return true
}

func (d *DescriptorNode) readValue() bool {
	return d.request("read descriptor", func(r Radio, p Path) error {
		return r.ReadValue(p)
	})
}

func (d *DescriptorNode) writeValue(data []byte) bool {
	buf := append([]byte(nil), data...)
	ok := d.request("write descriptor", func(r Radio, p Path) error {
		return r.WriteValue(p, buf, true)
	})
	if ok {
		d.writes = append(d.writes, buf)
	}
	return ok
}

func (d *DescriptorNode) valueUpdated(value []byte, err error) {
	if err != nil {
		d.handleError(internalf(err, "read descriptor %s", d.uuid))
		return
	}
	d.value = append([]byte(nil), value...)
	d.notifyChanged()
}

func (d *DescriptorNode) valueWritten(err error) {
	var data []byte
	if len(d.writes) > 0 {
		data = d.writes[0]
		d.writes = d.writes[1:]
	}
	if err != nil {
		d.handleError(internalf(err, "write descriptor %s", d.uuid))
		return
	}
	if data != nil {
		d.value = data
	}
	d.notifyChanged()
}

func (d *DescriptorNode) notifyChanged() {
	ch := d.characteristic
	if ch == nil || ch.service == nil || ch.service.peripheral == nil {
		return
	}
	s := ch.service
	p := s.peripheral
	d.root.post(func(dl Delegate) { dl.DescriptorChanged(p, s, ch, d) })
}

func (d *DescriptorNode) detach() {
	d.characteristic = nil
}
