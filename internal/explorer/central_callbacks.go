package explorer

import (
	"github.com/sirupsen/logrus"
)

var _ RadioObserver = (*Central)(nil)

// StateChanged handles a radio power state transition.
func (c *Central) StateChanged(state PowerState) {
	c.locked(func() {
		prev := c.state
		c.state = state
		c.logger.WithFields(logrus.Fields{"state": state, "previous": prev}).Info("Radio state changed")

		if state == StatePoweredOn {
			c.cancelScanStop()
			c.post(func(d Delegate) { d.PoweredOn(c) })
			c.refresh()
			return
		}
		if c.scanning {
			c.stopScanning()
			return
		}
		c.refresh()
	})
}

// PeripheralDiscovered stages a new record for adv. Advertisements for
// identities already staged or ignored only refresh the stored snapshot.
func (c *Central) PeripheralDiscovered(adv Advertisement) {
	c.locked(func() {
		key := NormalizeID(adv.ID)
		log := c.logger.WithFields(logrus.Fields{"peripheral": adv.ID, "rssi": adv.RSSI})
		if key == "" {
			log.Debug("Dropping advertisement without identity")
			return
		}
		if r, ok := c.staged.Get(key); ok {
			r.adv = adv
			return
		}
		if r, ok := c.ignored.Get(key); ok {
			r.adv = adv
			return
		}
		if !c.scanning {
			log.Debug("Dropping advertisement received while not scanning")
			return
		}
		if !c.criteria.Admits(adv) {
			log.Debug("Advertisement filtered out")
			return
		}

		r := newDiscoveryRecord(c, adv)
		c.staged.Append(r)
		log.WithField("name", displayName(adv)).Debug("Peripheral discovered")
		c.refresh()
	})
}

// PeripheralConnected creates the PeripheralNode for a pending connect attempt
// and starts service discovery. A connection nobody asked for is dropped.
func (c *Central) PeripheralConnected(id string) {
	c.locked(func() {
		key := NormalizeID(id)
		log := c.logger.WithField("peripheral", id)
		if _, ok := c.connected.Get(key); ok {
			log.Debug("Ignoring duplicate connected callback")
			return
		}
		attempt, ok := c.pending[key]
		if !ok {
			log.Warn("Connected without a pending attempt, dropping link")
			c.cancelNativeConnect(id)
			return
		}
		attempt.timer.Stop()
		delete(c.pending, key)

		r, ok := c.staged.Get(key)
		if !ok {
			log.Warn("Connected peripheral is no longer staged, dropping link")
			c.cancelNativeConnect(id)
			c.refresh()
			return
		}

		p := newPeripheralNode(c, r)
		r.peripheral = p
		c.connected.Append(p)
		log.Info("Connected")
		c.post(func(d Delegate) { d.PeripheralConnected(p) })
		c.refresh()

		c.armDiscoveryTimer(p)
		p.discoverServices(nil)
	})
}

// PeripheralDisconnected tears the peripheral's subtree down. The delegate is
// told before and after teardown.
func (c *Central) PeripheralDisconnected(id string, err error) {
	key := NormalizeID(id)
	var p *PeripheralNode
	c.locked(func() {
		log := c.logger.WithField("peripheral", id)
		if err != nil {
			log = log.WithError(err)
		}
		var ok bool
		if p, ok = c.connected.Get(key); !ok {
			if attempt, pending := c.pending[key]; pending {
				attempt.timer.Stop()
				delete(c.pending, key)
				c.handleError(&ConnectFailedError{Record: attempt.record, Cause: err})
				c.refresh()
				return
			}
			log.Debug("Ignoring disconnect for unknown peripheral")
			return
		}
		log.Info("Disconnected")
		c.post(func(d Delegate) { d.PeripheralWillDisconnect(p) })
	})
	if p == nil {
		return
	}

	c.locked(func() {
		if cur, ok := c.connected.Get(key); !ok || cur != p {
			return
		}
		c.teardown(p)
		c.post(func(d Delegate) { d.PeripheralDidDisconnect(p) })
		c.refresh()
	})
}

// ConnectFailed reports a rejected connect attempt. There is no retry.
func (c *Central) ConnectFailed(id string, err error) {
	c.locked(func() {
		key := NormalizeID(id)
		var r *DiscoveryRecord
		if attempt, ok := c.pending[key]; ok {
			attempt.timer.Stop()
			delete(c.pending, key)
			r = attempt.record
		} else if staged, ok := c.staged.Get(key); ok {
			r = staged
		}
		c.logger.WithError(err).WithField("peripheral", id).Warn("Connect failed")
		if r == nil {
			r = &DiscoveryRecord{id: id, key: key}
		}
		c.handleError(&ConnectFailedError{Record: r, Cause: err})
		c.refresh()
	})
}

// ServicesDiscovered routes a service discovery result to its peripheral.
func (c *Central) ServicesDiscovered(peripheral string, services []GATTService, err error) {
	c.locked(func() {
		p, ok := c.connected.Get(NormalizeID(peripheral))
		if !ok {
			c.logger.WithField("peripheral", peripheral).Debug("Ignoring services for unknown peripheral")
			return
		}
		p.servicesDiscovered(services, err)
	})
}

// CharacteristicsDiscovered routes a characteristic discovery result to its service.
func (c *Central) CharacteristicsDiscovered(service Path, characteristics []GATTCharacteristic, err error) {
	c.locked(func() {
		s := c.lookupService(service)
		if s == nil {
			c.logger.WithField("service", service.String()).Debug("Ignoring characteristics for unknown service")
			return
		}
		s.characteristicsDiscovered(characteristics, err)
	})
}

// DescriptorsDiscovered routes a descriptor discovery result to its characteristic.
func (c *Central) DescriptorsDiscovered(characteristic Path, descriptors []GATTDescriptor, err error) {
	c.locked(func() {
		ch := c.lookupCharacteristic(characteristic)
		if ch == nil {
			c.logger.WithField("characteristic", characteristic.String()).Debug("Ignoring descriptors for unknown characteristic")
			return
		}
		ch.descriptorsDiscovered(descriptors, err)
	})
}

// ValueUpdated routes a read result or notification to its node.
func (c *Central) ValueUpdated(target Path, value []byte, err error) {
	c.locked(func() {
		if target.IsDescriptor() {
			if d := c.lookupDescriptor(target); d != nil {
				d.valueUpdated(value, err)
				return
			}
		} else if ch := c.lookupCharacteristic(target); ch != nil {
			ch.valueUpdated(value, err)
			return
		}
		c.logger.WithField("target", target.String()).Debug("Ignoring value for unknown node")
	})
}

// ValueWritten routes a write completion to its node.
func (c *Central) ValueWritten(target Path, err error) {
	c.locked(func() {
		if target.IsDescriptor() {
			if d := c.lookupDescriptor(target); d != nil {
				d.valueWritten(err)
				return
			}
		} else if ch := c.lookupCharacteristic(target); ch != nil {
			ch.valueWritten(err)
			return
		}
		c.logger.WithField("target", target.String()).Debug("Ignoring write completion for unknown node")
	})
}

// NotifyStateChanged routes a notification state change to its characteristic.
func (c *Central) NotifyStateChanged(characteristic Path, notifying bool, err error) {
	c.locked(func() {
		ch := c.lookupCharacteristic(characteristic)
		if ch == nil {
			c.logger.WithField("characteristic", characteristic.String()).Debug("Ignoring notify state for unknown characteristic")
			return
		}
		ch.notifyStateChanged(notifying, err)
	})
}

// lookupService finds a service in the main or staging collection of a connected peripheral.
func (c *Central) lookupService(path Path) *ServiceNode {
	p, ok := c.connected.Get(NormalizeID(path.Peripheral))
	if !ok {
		return nil
	}
	key := NormalizeUUID(path.Service)
	if s, ok := p.services.Get(key); ok {
		return s
	}
	if s, ok := p.staging.Get(key); ok {
		return s
	}
	return nil
}

func (c *Central) lookupCharacteristic(path Path) *CharacteristicNode {
	s := c.lookupService(path)
	if s == nil {
		return nil
	}
	key := NormalizeUUID(path.Characteristic)
	if ch, ok := s.characteristics.Get(key); ok {
		return ch
	}
	if ch, ok := s.staging.Get(key); ok {
		return ch
	}
	return nil
}

func (c *Central) lookupDescriptor(path Path) *DescriptorNode {
	ch := c.lookupCharacteristic(path)
	if ch == nil {
		return nil
	}
	d, _ := ch.descriptors.Get(NormalizeUUID(path.Descriptor))
	return d
}
