package explorer

import (
	"time"

	"github.com/sirupsen/logrus"
)

// PeripheralNode wraps one connected peripheral and owns its services.
//
// Service discovery uses the same staging barrier as characteristic discovery:
// a service moves to the main collection once its whole subtree is discovered,
// and the peripheral becomes ready when staging drains.
type PeripheralNode struct {
	root   *Central
	record *DiscoveryRecord
	id     string
	key    string

	// guarded by root.mu
	central        *Central
	services       *Collection[*ServiceNode]
	staging        *Collection[*ServiceNode]
	filter         []string
	discovering    bool
	ready          bool
	discoveryTimer *time.Timer
}

func newPeripheralNode(c *Central, r *DiscoveryRecord) *PeripheralNode {
	return &PeripheralNode{
		root:     c,
		record:   r,
		id:       r.id,
		key:      r.key,
		central:  c,
		services: newCollection(serviceKey),
		staging:  newCollection(serviceKey),
	}
}

func peripheralKey(p *PeripheralNode) string { return p.key }

// ID returns the platform identifier of the peripheral.
func (p *PeripheralNode) ID() string { return p.id }

// Record returns the discovery record the node was created from.
func (p *PeripheralNode) Record() *DiscoveryRecord { return p.record }

// Name returns the display name of the underlying record.
func (p *PeripheralNode) Name() string { return p.record.DisplayName() }

// Central returns the owning Central, or nil once disconnected.
func (p *PeripheralNode) Central() *Central {
	var c *Central
	p.root.read(func() { c = p.central })
	return c
}

// Services returns a snapshot of the fully discovered services.
func (p *PeripheralNode) Services() []*ServiceNode {
	var out []*ServiceNode
	p.root.read(func() { out = p.services.Items() })
	return out
}

// StagedServices returns a snapshot of services whose subtree is still being discovered.
func (p *PeripheralNode) StagedServices() []*ServiceNode {
	var out []*ServiceNode
	p.root.read(func() { out = p.staging.Items() })
	return out
}

// Service looks a fully discovered service up by UUID.
func (p *PeripheralNode) Service(uuid string) (*ServiceNode, bool) {
	var (
		s  *ServiceNode
		ok bool
	)
	p.root.read(func() { s, ok = p.services.Get(NormalizeUUID(uuid)) })
	return s, ok
}

// Characteristic looks a characteristic up by service and characteristic UUID.
func (p *PeripheralNode) Characteristic(service, characteristic string) (*CharacteristicNode, bool) {
	s, ok := p.Service(service)
	if !ok {
		return nil, false
	}
	return s.Characteristic(characteristic)
}

// IsReady reports whether every service subtree has been discovered.
func (p *PeripheralNode) IsReady() bool {
	var ok bool
	p.root.read(func() { ok = p.ready })
	return ok
}

// DiscoverServices clears and rediscovers the services. A non-empty filter
// overrides the service criteria of the Central.
func (p *PeripheralNode) DiscoverServices(filter ...string) {
	p.root.locked(func() { p.discoverServices(filter) })
}

// Disconnect asks the Central to disconnect the peripheral.
func (p *PeripheralNode) Disconnect() bool {
	return p.record.Disconnect()
}

// HandleError reports err through the owning chain.
func (p *PeripheralNode) HandleError(err error) {
	p.root.locked(func() { p.handleError(err) })
}

func (p *PeripheralNode) handleError(err error) {
	if p.central != nil {
		p.central.handleError(err)
		return
	}
	p.root.handleError(err)
}

func (p *PeripheralNode) path() (Path, bool) {
	if p.central == nil {
		return Path{}, false
	}
	return Path{Peripheral: p.id}, true
}

func (p *PeripheralNode) fields() logrus.Fields {
	return logrus.Fields{"peripheral": p.id}
}

func (p *PeripheralNode) discoverServices(filter []string) {
	p.filter = resolveFilter(filter, p.root.criteria.Services())
	p.startOver()
}

// startOver deep-clears the services and requests service discovery.
func (p *PeripheralNode) startOver() {
	p.clear()
	p.discovering = false
	p.ready = false

	if p.central == nil {
		p.handleError(internalf(nil, "discover services: peripheral %s is detached", p.id))
		return
	}
	r := p.root.radio
	if r == nil {
		p.handleError(internalf(ErrNoRadio, "discover services %s", p.id))
		p.markReady()
		return
	}
	if err := r.DiscoverServices(p.id, p.filter); err != nil {
		p.handleError(internalf(err, "discover services %s", p.id))
		p.markReady()
		return
	}
	p.discovering = true
	p.root.logger.WithFields(p.fields()).WithField("filter", p.filter).Debug("Discovering services")
}

func (p *PeripheralNode) servicesDiscovered(services []GATTService, err error) {
	if !p.discovering {
		p.root.logger.WithFields(p.fields()).Warn("Ignoring services for a peripheral that is not discovering")
		return
	}
	p.discovering = false
	if err != nil {
		p.handleError(internalf(err, "discover services for %s", p.id))
	}

	batch := make([]*ServiceNode, 0, len(services))
	for i := range services {
		raw := services[i]
		s := newServiceNode(p, &raw)
		if p.services.Contains(s) || !p.staging.Append(s) {
			p.root.logger.WithFields(p.fields()).WithField("service", s.uuid).Debug("Dropping duplicate service")
			continue
		}
		batch = append(batch, s)
	}

	p.root.logger.WithFields(p.fields()).Debugf("Staged %d services", len(batch))
	if len(batch) == 0 {
		p.markReady()
		return
	}
	for _, s := range batch {
		s.discoverCharacteristics(nil)
	}
}

// addService moves s from staging to the main collection. A service that is
// already in the main collection is treated as refreshed.
func (p *PeripheralNode) addService(s *ServiceNode) {
	if _, ok := p.staging.Remove(s); !ok {
		if p.services.Contains(s) {
			s.notifyChanged()
			return
		}
		p.root.logger.WithFields(p.fields()).WithField("service", s.uuid).Debug("Ignoring service not owned by peripheral")
		return
	}
	p.services.Append(s)
	s.notifyChanged()

	if p.staging.Len() == 0 {
		p.markReady()
	}
}

func (p *PeripheralNode) markReady() {
	if p.ready || p.central == nil {
		return
	}
	p.ready = true
	p.stopDiscoveryTimer()
	p.root.logger.WithFields(p.fields()).WithField("services", p.services.Len()).Info("Peripheral ready")
	p.root.post(func(d Delegate) { d.PeripheralReady(p) })
}

func (p *PeripheralNode) stopDiscoveryTimer() {
	if p.discoveryTimer != nil {
		p.discoveryTimer.Stop()
		p.discoveryTimer = nil
	}
}

// clear deep-clears every owned service.
func (p *PeripheralNode) clear() {
	for _, s := range p.staging.Items() {
		s.detach()
	}
	for _, s := range p.services.Items() {
		s.detach()
	}
	p.staging.Clear()
	p.services.Clear()
}

func (p *PeripheralNode) detach() {
	p.clear()
	p.stopDiscoveryTimer()
	p.discovering = false
	p.ready = false
	p.central = nil
}
