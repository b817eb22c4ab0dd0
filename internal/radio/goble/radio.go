package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/srg/blex/internal/explorer"
	"github.com/srg/blex/internal/groutine"
)

// DeviceFactory creates the platform ble.Device (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// Options configure a Radio.
type Options struct {
	Logger *logrus.Logger
	// EventBacklog is the initial capacity of the observer callback queue.
	EventBacklog int `default:"256"`
	// JobBacklog is the initial capacity of each link's GATT request queue.
	JobBacklog int `default:"32"`
	// DescriptorReadTimeout bounds the best-effort value read done during
	// descriptor discovery. Negative skips the reads.
	DescriptorReadTimeout time.Duration `default:"2s"`
	// FilterDuplicates asks the stack to report each peripheral once per scan.
	// RSSI updates are lost when set.
	FilterDuplicates bool
}

// Radio is an explorer.Radio backed by a go-ble device.
type Radio struct {
	logger *logrus.Logger
	opts   Options
	events *groutine.Queue
	ctx    context.Context
	cancel context.CancelFunc
	links  *hashmap.Map[string, *link]

	mu         sync.Mutex
	observer   explorer.RadioObserver
	dev        ble.Device
	scanCancel context.CancelFunc
}

var _ explorer.Radio = (*Radio)(nil)

// New creates a Radio. Call Start to open the device.
func New(opts Options) *Radio {
	defaults.SetDefaults(&opts)
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Radio{
		logger: opts.Logger,
		opts:   opts,
		events: groutine.NewQueue(context.Background(), "goble-events", opts.EventBacklog),
		ctx:    ctx,
		cancel: cancel,
		links:  hashmap.New[string, *link](),
	}
}

// Start opens the platform device and reports the resulting power state.
func (r *Radio) Start() error {
	dev, err := DeviceFactory()
	if err != nil {
		err = NormalizeError(err)
		state := explorer.StateUnsupported
		if errors.Is(err, ErrBluetoothOff) {
			state = explorer.StatePoweredOff
		}
		r.logger.WithError(err).WithField("state", state).Error("Failed to open BLE device")
		r.emit(func(o explorer.RadioObserver) { o.StateChanged(state) })
		return fmt.Errorf("failed to create BLE device: %w", err)
	}

	r.mu.Lock()
	r.dev = dev
	r.mu.Unlock()

	r.logger.Debug("BLE device opened")
	r.emit(func(o explorer.RadioObserver) { o.StateChanged(explorer.StatePoweredOn) })
	return nil
}

// Close stops scanning, drops every link, and releases the device. Pending
// observer callbacks are delivered before Close returns.
func (r *Radio) Close() error {
	r.mu.Lock()
	dev := r.dev
	r.dev = nil
	if r.scanCancel != nil {
		r.scanCancel()
		r.scanCancel = nil
	}
	r.mu.Unlock()

	r.links.Range(func(key string, l *link) bool {
		if c := l.currentClient(); c != nil {
			if err := c.CancelConnection(); err != nil {
				r.logger.WithError(err).WithField("peripheral", l.id).Debug("Cancel connection on close failed")
			}
		}
		l.cancel()
		r.links.Del(key)
		return true
	})
	r.cancel()
	r.events.Close()

	if dev == nil {
		return nil
	}
	return NormalizeError(dev.Stop())
}

// SetObserver sets the receiver of every radio callback.
func (r *Radio) SetObserver(o explorer.RadioObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = o
}

// emit queues an observer callback.
func (r *Radio) emit(fn func(o explorer.RadioObserver)) {
	r.events.Submit(func() {
		r.mu.Lock()
		o := r.observer
		r.mu.Unlock()
		if o != nil {
			fn(o)
		}
	})
}

func (r *Radio) device() (ble.Device, error) {
	if r.dev == nil {
		return nil, ErrNotStarted
	}
	return r.dev, nil
}

// StartScan scans until StopScan, reporting advertisements that carry one
// of services (every advertisement when services is empty).
func (r *Radio) StartScan(services []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, err := r.device()
	if err != nil {
		return err
	}
	if r.scanCancel != nil {
		r.scanCancel()
	}
	ctx, cancel := context.WithCancel(r.ctx)
	r.scanCancel = cancel

	filter := make(map[string]struct{}, len(services))
	for _, s := range services {
		filter[explorer.NormalizeUUID(s)] = struct{}{}
	}
	allowDup := !r.opts.FilterDuplicates

	groutine.Go(ctx, "goble-scan", func(ctx context.Context) {
		r.logger.WithField("services", services).Debug("Scan started")
		err := dev.Scan(ctx, allowDup, func(a ble.Advertisement) {
			adv := convertAdvertisement(a)
			if !matchesServices(adv, filter) {
				return
			}
			r.emit(func(o explorer.RadioObserver) { o.PeripheralDiscovered(adv) })
		})
		if err != nil && ctx.Err() == nil {
			r.logger.WithError(NormalizeError(err)).Warn("Scan ended with error")
			return
		}
		r.logger.Debug("Scan stopped")
	})
	return nil
}

// StopScan cancels the running scan. No-op when not scanning.
func (r *Radio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scanCancel != nil {
		r.scanCancel()
		r.scanCancel = nil
	}
	return nil
}

func matchesServices(adv explorer.Advertisement, filter map[string]struct{}) bool {
	if len(filter) == 0 {
		return true
	}
	for _, s := range adv.Services {
		if _, ok := filter[s]; ok {
			return true
		}
	}
	return false
}

func convertAdvertisement(a ble.Advertisement) explorer.Advertisement {
	adv := explorer.Advertisement{
		ID:          a.Addr().String(),
		LocalName:   a.LocalName(),
		RSSI:        a.RSSI(),
		Connectable: a.Connectable(),
	}
	for _, u := range a.Services() {
		adv.Services = append(adv.Services, explorer.NormalizeUUID(u.String()))
	}
	if md := a.ManufacturerData(); len(md) > 0 {
		adv.ManufacturerData = append([]byte(nil), md...)
	}
	if sd := a.ServiceData(); len(sd) > 0 {
		adv.ServiceData = make(map[string][]byte, len(sd))
		for _, d := range sd {
			adv.ServiceData[explorer.NormalizeUUID(d.UUID.String())] = append([]byte(nil), d.Data...)
		}
	}
	if tx := a.TxPowerLevel(); tx != 127 { // 127 means not advertised
		adv.TxPower = &tx
	}
	return adv
}

// Connect dials id. The outcome arrives as PeripheralConnected or ConnectFailed;
// a dial cancelled through Disconnect reports nothing.
func (r *Radio) Connect(id string) error {
	r.mu.Lock()
	dev, err := r.device()
	r.mu.Unlock()
	if err != nil {
		return err
	}

	key := explorer.NormalizeID(id)
	l := newLink(r.ctx, id, r.opts.JobBacklog)
	if !r.links.Insert(key, l) {
		l.cancel()
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, id)
	}

	groutine.Go(l.ctx, "goble-dial", func(ctx context.Context) {
		log := r.logger.WithField("peripheral", id)
		log.Debug("Dialing BLE device...")
		client, err := dev.Dial(ctx, ble.NewAddr(id))
		if err != nil {
			r.dropLink(key, l)
			if ctx.Err() != nil {
				log.Debug("Dial cancelled")
				return
			}
			err = NormalizeError(err)
			log.WithError(err).Warn("Failed to dial BLE device")
			r.emit(func(o explorer.RadioObserver) { o.ConnectFailed(id, err) })
			return
		}
		if !l.attach(client) {
			log.Debug("Dial completed after cancel, dropping link")
			if err := client.CancelConnection(); err != nil {
				log.WithError(err).Debug("Cancel connection failed")
			}
			r.dropLink(key, l)
			return
		}
		log.Info("BLE device connected")
		r.emit(func(o explorer.RadioObserver) { o.PeripheralConnected(id) })
		r.monitor(key, l, client)
	})
	return nil
}

// monitor reports the link going down when the client exposes a Disconnected channel.
func (r *Radio) monitor(key string, l *link, client ble.Client) {
	dc, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		r.logger.WithField("peripheral", l.id).Debug("Client does not report disconnects, only explicit ones are seen")
		return
	}
	groutine.Go(l.ctx, "goble-link-monitor", func(ctx context.Context) {
		select {
		case <-dc.Disconnected():
			r.finish(key, l)
		case <-ctx.Done():
		}
	})
}

// Disconnect cancels a dial in progress or tears an established link down.
// Unknown identities are ignored.
func (r *Radio) Disconnect(id string) error {
	key := explorer.NormalizeID(id)
	l, ok := r.links.Get(key)
	if !ok {
		return nil
	}
	client := l.beginClose()
	if client == nil {
		l.cancel()
		return nil
	}
	l.jobs.Submit(func() {
		if err := client.CancelConnection(); err != nil {
			r.logger.WithError(NormalizeError(err)).WithField("peripheral", id).Warn("Cancel connection failed")
		}
		r.finish(key, l)
	})
	return nil
}

// finish reports the end of an established link exactly once.
func (r *Radio) finish(key string, l *link) {
	l.gone.Do(func() {
		var cause error
		if !l.isClosing() {
			cause = ErrNotConnected
		}
		r.dropLink(key, l)
		r.logger.WithField("peripheral", l.id).WithField("requested", cause == nil).Info("BLE device disconnected")
		r.emit(func(o explorer.RadioObserver) { o.PeripheralDisconnected(l.id, cause) })
	})
}

func (r *Radio) dropLink(key string, l *link) {
	if cur, ok := r.links.Get(key); ok && cur == l {
		r.links.Del(key)
	}
	l.cancel()
}

// connected returns the established link for id.
func (r *Radio) connected(id string) (*link, ble.Client, error) {
	l, ok := r.links.Get(explorer.NormalizeID(id))
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotConnected, id)
	}
	client := l.currentClient()
	if client == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotConnected, id)
	}
	return l, client, nil
}

// submit runs job on the link queue. Returns ErrNotConnected if the link is gone.
func (r *Radio) submit(l *link, job func()) error {
	if !l.jobs.Submit(job) {
		return fmt.Errorf("%w: %s", ErrNotConnected, l.id)
	}
	return nil
}

func parseUUIDs(uuids []string) ([]ble.UUID, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	out := make([]ble.UUID, 0, len(uuids))
	for _, s := range uuids {
		u, err := ble.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid UUID %q: %w", s, err)
		}
		out = append(out, u)
	}
	return out, nil
}
