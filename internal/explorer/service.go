package explorer

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/blex/internal/bledb"
)

// ServiceNode wraps one GATT service and owns its characteristics.
//
// Characteristic discovery stages every discovered characteristic first, then
// starts descriptor discovery on each. A characteristic moves from staging to
// the main collection when its descriptor discovery completes; the service
// reports itself to its peripheral once staging drains.
type ServiceNode struct {
	root *Central
	raw  *GATTService
	uuid string

	// guarded by root.mu
	peripheral      *PeripheralNode
	characteristics *Collection[*CharacteristicNode]
	staging         *Collection[*CharacteristicNode]
	filter          []string
	discovering     bool
	settled         bool
}

func newServiceNode(p *PeripheralNode, raw *GATTService) *ServiceNode {
	s := &ServiceNode{
		root:            p.root,
		raw:             raw,
		peripheral:      p,
		characteristics: newCollection(characteristicKey),
		staging:         newCollection(characteristicKey),
	}
	if raw != nil {
		s.uuid = NormalizeUUID(raw.UUID)
	}
	return s
}

func serviceKey(s *ServiceNode) string { return s.uuid }

// UUID returns the normalized service UUID.
func (s *ServiceNode) UUID() string { return s.uuid }

// Name returns the assigned service name, or "".
func (s *ServiceNode) Name() string { return bledb.LookupService(s.uuid) }

// IsPrimary reports whether the radio described the service as primary.
func (s *ServiceNode) IsPrimary() bool { return s.raw != nil && s.raw.Primary }

// Peripheral returns the owning peripheral, or nil once detached.
func (s *ServiceNode) Peripheral() *PeripheralNode {
	var p *PeripheralNode
	s.root.read(func() { p = s.peripheral })
	return p
}

// Characteristics returns a snapshot of the fully discovered characteristics.
func (s *ServiceNode) Characteristics() []*CharacteristicNode {
	var out []*CharacteristicNode
	s.root.read(func() { out = s.characteristics.Items() })
	return out
}

// StagedCharacteristics returns a snapshot of characteristics still awaiting descriptor discovery.
func (s *ServiceNode) StagedCharacteristics() []*CharacteristicNode {
	var out []*CharacteristicNode
	s.root.read(func() { out = s.staging.Items() })
	return out
}

// Characteristic looks a fully discovered characteristic up by UUID.
func (s *ServiceNode) Characteristic(uuid string) (*CharacteristicNode, bool) {
	var (
		ch *CharacteristicNode
		ok bool
	)
	s.root.read(func() { ch, ok = s.characteristics.Get(NormalizeUUID(uuid)) })
	return ch, ok
}

// IsSettled reports whether the last discovery round has completed.
func (s *ServiceNode) IsSettled() bool {
	var ok bool
	s.root.read(func() { ok = s.settled })
	return ok
}

// Filter returns the effective characteristic filter of the last discovery round.
func (s *ServiceNode) Filter() []string {
	var out []string
	s.root.read(func() { out = append([]string(nil), s.filter...) })
	return out
}

// DiscoverCharacteristics clears and rediscovers the characteristics. A
// non-empty filter overrides the characteristic criteria of the Central.
func (s *ServiceNode) DiscoverCharacteristics(filter ...string) {
	s.root.locked(func() { s.discoverCharacteristics(filter) })
}

// HandleError reports err through the owning chain.
func (s *ServiceNode) HandleError(err error) {
	s.root.locked(func() { s.handleError(err) })
}

func (s *ServiceNode) handleError(err error) {
	if s.peripheral != nil {
		s.peripheral.handleError(err)
		return
	}
	s.root.handleError(err)
}

func (s *ServiceNode) path() (Path, bool) {
	if s.peripheral == nil {
		return Path{}, false
	}
	p, ok := s.peripheral.path()
	if !ok {
		return Path{}, false
	}
	p.Service = s.uuid
	return p, true
}

func (s *ServiceNode) fields() logrus.Fields {
	p, _ := s.path()
	return logrus.Fields{"peripheral": p.Peripheral, "service": s.uuid}
}

func (s *ServiceNode) discoverCharacteristics(filter []string) {
	s.filter = resolveFilter(filter, s.root.criteria.Characteristics())
	s.startOver()
}

// startOver clears both collections and requests characteristic discovery.
// A request that cannot be issued is reported and the service settles empty.
func (s *ServiceNode) startOver() {
	s.clear()
	s.discovering = false
	s.settled = false

	if s.raw == nil {
		s.handleError(internalf(nil, "discover characteristics: service has no underlying GATT object"))
		s.settle()
		return
	}
	p, ok := s.path()
	if !ok {
		s.handleError(internalf(nil, "discover characteristics: service %s is detached", s.uuid))
		return
	}
	r := s.root.radio
	if r == nil {
		s.handleError(internalf(ErrNoRadio, "discover characteristics %s", p))
		s.settle()
		return
	}
	if err := r.DiscoverCharacteristics(p, s.filter); err != nil {
		s.handleError(internalf(err, "discover characteristics %s", p))
		s.settle()
		return
	}
	s.discovering = true
	s.root.logger.WithFields(s.fields()).WithField("filter", s.filter).Debug("Discovering characteristics")
}

func (s *ServiceNode) characteristicsDiscovered(chars []GATTCharacteristic, err error) {
	if !s.discovering {
		s.root.logger.WithFields(s.fields()).Warn("Ignoring characteristics for a service that is not discovering")
		return
	}
	s.discovering = false
	if err != nil {
		s.handleError(internalf(err, "discover characteristics for %s", s.uuid))
	}

	batch := make([]*CharacteristicNode, 0, len(chars))
	for i := range chars {
		raw := chars[i]
		ch := newCharacteristicNode(s, &raw)
		if s.characteristics.Contains(ch) || !s.staging.Append(ch) {
			s.root.logger.WithFields(s.fields()).WithField("characteristic", ch.uuid).Debug("Dropping duplicate characteristic")
			continue
		}
		batch = append(batch, ch)
	}

	s.root.logger.WithFields(s.fields()).Debugf("Staged %d characteristics", len(batch))
	if len(batch) == 0 {
		s.settle()
		return
	}
	for _, ch := range batch {
		ch.startOver()
	}
}

// addCharacteristic moves ch from staging to the main collection. A
// characteristic that is already in the main collection is treated as refreshed.
func (s *ServiceNode) addCharacteristic(ch *CharacteristicNode) {
	if _, ok := s.staging.Remove(ch); !ok {
		if s.characteristics.Contains(ch) {
			ch.notifyChanged()
			return
		}
		s.root.logger.WithFields(s.fields()).WithField("characteristic", ch.uuid).Debug("Ignoring characteristic not owned by service")
		return
	}
	s.characteristics.Append(ch)
	ch.notifyChanged()

	if s.staging.Len() == 0 {
		s.settle()
	}
}

func (s *ServiceNode) settle() {
	if s.settled {
		return
	}
	s.settled = true
	s.discovering = false
	if s.peripheral == nil {
		return
	}
	s.peripheral.addService(s)
}

func (s *ServiceNode) notifyChanged() {
	p := s.peripheral
	if p == nil {
		return
	}
	s.root.post(func(d Delegate) { d.ServiceChanged(p, s) })
}

// clear deep-clears both collections.
func (s *ServiceNode) clear() {
	for _, ch := range s.staging.Items() {
		ch.detach()
	}
	for _, ch := range s.characteristics.Items() {
		ch.detach()
	}
	s.staging.Clear()
	s.characteristics.Clear()
}

func (s *ServiceNode) detach() {
	s.clear()
	s.discovering = false
	s.peripheral = nil
}
