package goble

import (
	"fmt"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blex/internal/explorer"
)

// DiscoverServices queues service discovery; results arrive through ServicesDiscovered.
func (r *Radio) DiscoverServices(peripheral string, filter []string) error {
	l, client, err := r.connected(peripheral)
	if err != nil {
		return err
	}
	uuids, err := parseUUIDs(filter)
	if err != nil {
		return err
	}
	return r.submit(l, func() {
		services, err := client.DiscoverServices(uuids)
		err = NormalizeError(err)
		l.storeServices(services)

		out := make([]explorer.GATTService, 0, len(services))
		for _, s := range services {
			out = append(out, explorer.GATTService{UUID: explorer.NormalizeUUID(s.UUID.String()), Primary: true})
		}
		r.logger.WithFields(logrus.Fields{"peripheral": peripheral, "services": len(out)}).Debug("Services discovered")
		r.emit(func(o explorer.RadioObserver) { o.ServicesDiscovered(peripheral, out, err) })
	})
}

// DiscoverCharacteristics queues characteristic discovery for a discovered service.
func (r *Radio) DiscoverCharacteristics(service explorer.Path, filter []string) error {
	l, client, err := r.connected(service.Peripheral)
	if err != nil {
		return err
	}
	svc, ok := l.service(service.Service)
	if !ok {
		return fmt.Errorf("%w: service %s", ErrUnknownAttribute, service)
	}
	uuids, err := parseUUIDs(filter)
	if err != nil {
		return err
	}
	return r.submit(l, func() {
		chars, err := client.DiscoverCharacteristics(uuids, svc)
		err = NormalizeError(err)
		l.storeCharacteristics(service.Service, chars)

		out := make([]explorer.GATTCharacteristic, 0, len(chars))
		for _, c := range chars {
			out = append(out, explorer.GATTCharacteristic{
				UUID:       explorer.NormalizeUUID(c.UUID.String()),
				Properties: explorer.Properties(c.Property),
			})
		}
		r.emit(func(o explorer.RadioObserver) { o.CharacteristicsDiscovered(service, out, err) })
	})
}

// DiscoverDescriptors queues descriptor discovery for a discovered characteristic.
func (r *Radio) DiscoverDescriptors(characteristic explorer.Path) error {
	l, client, err := r.connected(characteristic.Peripheral)
	if err != nil {
		return err
	}
	c, ok := l.characteristic(characteristic.Service, characteristic.Characteristic)
	if !ok {
		return fmt.Errorf("%w: characteristic %s", ErrUnknownAttribute, characteristic)
	}
	return r.submit(l, func() {
		descs, err := client.DiscoverDescriptors(nil, c)
		err = NormalizeError(err)
		l.storeDescriptors(characteristic.Service, characteristic.Characteristic, descs)

		out := make([]explorer.GATTDescriptor, 0, len(descs))
		for _, d := range descs {
			out = append(out, explorer.GATTDescriptor{
				UUID:  explorer.NormalizeUUID(d.UUID.String()),
				Value: r.readDescriptorValue(client, d),
			})
		}
		r.emit(func(o explorer.RadioObserver) { o.DescriptorsDiscovered(characteristic, out, err) })
	})
}

// readDescriptorValue returns the cached or freshly read descriptor value.
// Reads are best-effort and bounded by DescriptorReadTimeout; failures yield nil.
func (r *Radio) readDescriptorValue(client ble.Client, d *ble.Descriptor) []byte {
	if len(d.Value) > 0 {
		return append([]byte(nil), d.Value...)
	}
	// Darwin does not populate descriptor handles, so they cannot be read explicitly.
	if r.opts.DescriptorReadTimeout < 0 || d.Handle == 0 {
		return nil
	}

	type readResult struct {
		data []byte
		err  error
	}
	resultCh := make(chan readResult, 1)
	go func() {
		data, err := client.ReadDescriptor(d)
		resultCh <- readResult{data: data, err: err}
	}()

	log := r.logger.WithField("descriptor", d.UUID.String())
	select {
	case res := <-resultCh:
		if res.err != nil {
			log.WithError(res.err).Debug("Descriptor read failed")
			return nil
		}
		return res.data
	case <-time.After(r.opts.DescriptorReadTimeout):
		log.Debug("Descriptor read timed out")
		return nil
	}
}

// ReadValue queues a read of a characteristic or descriptor; the value arrives through ValueUpdated.
func (r *Radio) ReadValue(target explorer.Path) error {
	l, client, err := r.connected(target.Peripheral)
	if err != nil {
		return err
	}
	if target.IsDescriptor() {
		d, ok := l.descriptor(target.Service, target.Characteristic, target.Descriptor)
		if !ok {
			return fmt.Errorf("%w: descriptor %s", ErrUnknownAttribute, target)
		}
		return r.submit(l, func() {
			v, err := client.ReadDescriptor(d)
			r.emitValue(target, v, err)
		})
	}
	c, ok := l.characteristic(target.Service, target.Characteristic)
	if !ok {
		return fmt.Errorf("%w: characteristic %s", ErrUnknownAttribute, target)
	}
	return r.submit(l, func() {
		v, err := client.ReadCharacteristic(c)
		r.emitValue(target, v, err)
	})
}

func (r *Radio) emitValue(target explorer.Path, v []byte, err error) {
	err = NormalizeError(err)
	v = append([]byte(nil), v...)
	r.emit(func(o explorer.RadioObserver) { o.ValueUpdated(target, v, err) })
}

// WriteValue queues a write; completion arrives through ValueWritten. Descriptor writes always expect a response.
func (r *Radio) WriteValue(target explorer.Path, data []byte, withResponse bool) error {
	l, client, err := r.connected(target.Peripheral)
	if err != nil {
		return err
	}
	buf := append([]byte(nil), data...)
	if target.IsDescriptor() {
		d, ok := l.descriptor(target.Service, target.Characteristic, target.Descriptor)
		if !ok {
			return fmt.Errorf("%w: descriptor %s", ErrUnknownAttribute, target)
		}
		return r.submit(l, func() {
			err := NormalizeError(client.WriteDescriptor(d, buf))
			r.emit(func(o explorer.RadioObserver) { o.ValueWritten(target, err) })
		})
	}
	c, ok := l.characteristic(target.Service, target.Characteristic)
	if !ok {
		return fmt.Errorf("%w: characteristic %s", ErrUnknownAttribute, target)
	}
	return r.submit(l, func() {
		err := NormalizeError(client.WriteCharacteristic(c, buf, !withResponse))
		r.emit(func(o explorer.RadioObserver) { o.ValueWritten(target, err) })
	})
}

// SetNotify subscribes to notifications, or to indications when the
// characteristic cannot notify.
func (r *Radio) SetNotify(characteristic explorer.Path, enabled bool) error {
	l, client, err := r.connected(characteristic.Peripheral)
	if err != nil {
		return err
	}
	c, ok := l.characteristic(characteristic.Service, characteristic.Characteristic)
	if !ok {
		return fmt.Errorf("%w: characteristic %s", ErrUnknownAttribute, characteristic)
	}
	indicate := c.Property&ble.CharNotify == 0 && c.Property&ble.CharIndicate != 0

	return r.submit(l, func() {
		var err error
		if enabled {
			err = client.Subscribe(c, indicate, func(data []byte) {
				r.emitValue(characteristic, data, nil)
			})
		} else {
			err = client.Unsubscribe(c, indicate)
		}
		err = NormalizeError(err)

		state := enabled
		if err != nil {
			state = !enabled
		}
		r.logger.WithFields(logrus.Fields{
			"characteristic": characteristic.String(),
			"indicate":       indicate,
			"enabled":        state,
		}).Debug("Notification state changed")
		r.emit(func(o explorer.RadioObserver) { o.NotifyStateChanged(characteristic, state, err) })
	})
}
