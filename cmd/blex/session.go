package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/srg/blex/internal/explorer"
	"github.com/srg/blex/internal/monitor"
	"github.com/srg/blex/internal/radio/goble"
	"github.com/srg/blex/pkg/config"
)

const streamCapacity = 1024

// errSessionClosed is returned when the event stream ends while a command waits on it.
var errSessionClosed = errors.New("session closed")

// Radio is the radio a session drives: the explorer contract plus lifecycle.
type Radio interface {
	explorer.Radio
	Start() error
	Close() error
}

// RadioFactory creates the session radio (can be overridden in tests)
//
//nolint:revive // RadioFactory name is intentional for test mocking
var RadioFactory = func(logger *logrus.Logger) Radio {
	return goble.New(goble.Options{Logger: logger})
}

// session wires a radio, a Central, and an event stream for one command run.
type session struct {
	cfg     *config.Config
	logger  *logrus.Logger
	radio   Radio
	stream  *monitor.Stream
	central *explorer.Central
}

// openSession starts the radio and waits for the adapter to power on.
func openSession(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*session, error) {
	s := &session{
		cfg:    cfg,
		logger: logger,
		radio:  RadioFactory(logger),
		stream: monitor.NewStream(streamCapacity, logger),
	}
	opts := cfg.ExplorerOptions(logger)
	opts.Radio = s.radio
	opts.Delegate = s.stream
	s.central = explorer.NewCentral(opts)

	if err := s.radio.Start(); err != nil {
		s.Close()
		return nil, err
	}
	if s.central.State() != explorer.StatePoweredOn {
		err := s.await(ctx, func(ev monitor.Event) (bool, error) {
			return ev.Type == monitor.TypePoweredOn, nil
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("waiting for the adapter to power on: %w", err)
		}
	}
	return s, nil
}

// Close releases the radio first so its last callbacks still reach the Central.
func (s *session) Close() {
	if err := s.radio.Close(); err != nil {
		s.logger.WithError(err).Debug("Radio close failed")
	}
	s.central.Close()
	s.stream.Close()
}

// await feeds stream events to fn until it reports done or an error, or ctx ends.
func (s *session) await(ctx context.Context, fn func(monitor.Event) (bool, error)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.stream.Events():
			if !ok {
				return errSessionClosed
			}
			done, err := fn(ev)
			if err != nil || done {
				return err
			}
		}
	}
}

// find scans until the peripheral with the given identity is staged. The
// configured criteria still apply; only the identity and name checks change.
func (s *session) find(ctx context.Context, id string) (*explorer.DiscoveryRecord, error) {
	s.central.SetCriteria(s.cfg.ScanCriteria().With(
		explorer.WithPeripherals(id),
		explorer.WithUnnamed(true),
	))
	if err := s.central.StartScanning(); err != nil {
		return nil, err
	}
	defer s.central.StopScanning()

	if r, ok := s.central.Record(id); ok {
		return r, nil
	}
	var record *explorer.DiscoveryRecord
	err := s.await(ctx, func(ev monitor.Event) (bool, error) {
		if ev.Type == monitor.TypeError {
			return false, ev.Err
		}
		r, ok := s.central.Record(id)
		record = r
		return ok, nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s", ErrPeripheralNotFound, id)
	}
	return record, err
}

// connect finds the peripheral, connects, and waits until its GATT tree is discovered.
func (s *session) connect(ctx context.Context, id string) (*explorer.PeripheralNode, error) {
	record, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !record.Connect() {
		return nil, fmt.Errorf("cannot connect to %s", id)
	}

	key := explorer.NormalizeID(id)
	err = s.await(ctx, func(ev monitor.Event) (bool, error) {
		switch ev.Type {
		case monitor.TypeError:
			return false, ev.Err
		case monitor.TypeDidDisconnect:
			if ev.Peripheral == key {
				return false, ErrConnectionLost
			}
		case monitor.TypeReady:
			return ev.Peripheral == key, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	p, ok := s.central.Peripheral(id)
	if !ok {
		return nil, ErrConnectionLost
	}
	return p, nil
}

// findCharacteristic resolves a characteristic; an empty service searches every service.
func findCharacteristic(p *explorer.PeripheralNode, service, char string) (*explorer.CharacteristicNode, error) {
	if service != "" {
		if ch, ok := p.Characteristic(service, char); ok {
			return ch, nil
		}
		return nil, fmt.Errorf("%w: characteristic %s in service %s", ErrAttributeNotFound, char, service)
	}
	var found *explorer.CharacteristicNode
	for _, svc := range p.Services() {
		if ch, ok := svc.Characteristic(char); ok {
			if found != nil {
				return nil, fmt.Errorf("characteristic %s exists in several services, use --service", char)
			}
			found = ch
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: characteristic %s", ErrAttributeNotFound, char)
	}
	return found, nil
}

// awaitChange waits for the next change notification of a characteristic or
// one of its descriptors. An empty desc matches the characteristic itself.
func (s *session) awaitChange(ctx context.Context, ch *explorer.CharacteristicNode, desc string) (monitor.Event, error) {
	svc := ch.Service()
	var got monitor.Event
	err := s.await(ctx, func(ev monitor.Event) (bool, error) {
		switch ev.Type {
		case monitor.TypeError:
			return false, ev.Err
		case monitor.TypeDidDisconnect:
			return false, ErrConnectionLost
		case monitor.TypeCharacteristic:
			if desc != "" || ev.Characteristic != ch.UUID() || svc == nil || ev.Service != svc.UUID() {
				return false, nil
			}
		case monitor.TypeDescriptorChanged:
			if desc == "" || ev.Characteristic != ch.UUID() || ev.Descriptor != desc {
				return false, nil
			}
		default:
			return false, nil
		}
		got = ev
		return true, nil
	})
	return got, err
}

// interruptible returns a context cancelled on Ctrl+C or SIGTERM.
func interruptible(parent context.Context, w io.Writer, what string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			fmt.Fprintf(w, "\nCtrl+C pressed, cancelling %s...\n", what)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
