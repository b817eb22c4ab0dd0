package monitor

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blex/internal/explorer"
	"github.com/srg/blex/internal/ringchan"
)

// Stream is an explorer.Delegate that converts every callback into an Event
// and queues it on a bounded channel. A slow consumer loses the oldest events
// rather than stalling the delegate queue.
type Stream struct {
	events *ringchan.RingChannel[Event]
	seq    atomic.Uint64
	logger *logrus.Logger
	now    func() time.Time
}

var _ explorer.Delegate = (*Stream)(nil)

func NewStream(capacity int, logger *logrus.Logger) *Stream {
	if logger == nil {
		logger = logrus.New()
	}
	return &Stream{
		events: ringchan.New[Event](capacity),
		logger: logger,
		now:    time.Now,
	}
}

// Events returns the receive side. It is closed by Close.
func (s *Stream) Events() <-chan Event {
	return s.events.C()
}

// Dropped reports how many events were discarded because the consumer lagged.
func (s *Stream) Dropped() int64 {
	return s.events.Overwritten()
}

func (s *Stream) Close() {
	s.events.Close()
}

func (s *Stream) publish(ev Event) {
	ev.Seq = s.seq.Add(1)
	ev.Time = s.now()
	if s.events.Send(ev) {
		s.logger.WithField("type", ev.Type).Warn("Event stream overflow, oldest event dropped")
	}
}

func peripheralEvent(t EventType, p *explorer.PeripheralNode) Event {
	return Event{Type: t, Peripheral: p.ID(), Name: p.Name()}
}

func (s *Stream) Error(_ *explorer.Central, err error) {
	ev := Event{Type: TypeError, Error: err.Error(), Kind: string(explorer.KindOf(err)), Err: err}
	var timeout *explorer.TimeoutError
	var failed *explorer.ConnectFailedError
	switch {
	case errors.As(err, &timeout):
		if timeout.Record != nil {
			ev.Peripheral = timeout.Record.ID()
		} else if timeout.Peripheral != nil {
			ev.Peripheral = timeout.Peripheral.ID()
		}
	case errors.As(err, &failed):
		if failed.Record != nil {
			ev.Peripheral = failed.Record.ID()
		}
	}
	s.publish(ev)
}

func (s *Stream) StateRefresh(c *explorer.Central) {
	scanning := c.IsScanning()
	ev := Event{Type: TypeState, State: c.State().String(), Scanning: &scanning}
	for _, r := range c.Staged() {
		ev.Staged = append(ev.Staged, recordOf(r))
	}
	s.publish(ev)
}

func (s *Stream) PoweredOn(c *explorer.Central) {
	s.publish(Event{Type: TypePoweredOn, State: c.State().String()})
}

func (s *Stream) PeripheralConnected(p *explorer.PeripheralNode) {
	s.publish(peripheralEvent(TypeConnected, p))
}

func (s *Stream) PeripheralReady(p *explorer.PeripheralNode) {
	s.publish(peripheralEvent(TypeReady, p))
}

func (s *Stream) PeripheralWillDisconnect(p *explorer.PeripheralNode) {
	s.publish(peripheralEvent(TypeWillDisconnect, p))
}

func (s *Stream) PeripheralDidDisconnect(p *explorer.PeripheralNode) {
	s.publish(peripheralEvent(TypeDidDisconnect, p))
}

func (s *Stream) ServiceChanged(p *explorer.PeripheralNode, svc *explorer.ServiceNode) {
	ev := peripheralEvent(TypeServiceChanged, p)
	ev.Service = svc.UUID()
	s.publish(ev)
}

func (s *Stream) CharacteristicChanged(p *explorer.PeripheralNode, svc *explorer.ServiceNode, ch *explorer.CharacteristicNode) {
	ev := peripheralEvent(TypeCharacteristic, p)
	ev.Service = svc.UUID()
	ev.Characteristic = ch.UUID()
	ev.Value = encodeValue(ch.Value())
	ev.Notifying = ch.IsNotifying()
	s.publish(ev)
}

func (s *Stream) DescriptorChanged(p *explorer.PeripheralNode, svc *explorer.ServiceNode, ch *explorer.CharacteristicNode, d *explorer.DescriptorNode) {
	ev := peripheralEvent(TypeDescriptorChanged, p)
	ev.Service = svc.UUID()
	ev.Characteristic = ch.UUID()
	ev.Descriptor = d.UUID()
	ev.Value = encodeValue(d.Value())
	if v, err := d.Decoded(); err == nil {
		ev.Decoded = v
	}
	s.publish(ev)
}
