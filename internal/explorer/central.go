package explorer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blex/internal/groutine"
)

// DefaultConnectTimeout bounds a connect attempt when Options.ConnectTimeout is zero.
const DefaultConnectTimeout = 3 * time.Second

// DefaultQueueSize is the initial backlog of the delegate queue created when no Dispatcher is given.
const DefaultQueueSize = 64

// Options configure a Central.
type Options struct {
	Radio    Radio
	Delegate Delegate
	// Dispatcher delivers delegate notifications. When nil, the Central runs
	// them on its own serial queue, released by Close.
	Dispatcher Dispatcher
	QueueSize  int
	Criteria   ScanCriteria

	ConnectTimeout time.Duration
	// DiscoveryTimeout bounds connect-to-ready. Zero disables it.
	DiscoveryTimeout time.Duration
	// ScanDuration stops every scan after the given time. Zero scans until stopped.
	ScanDuration time.Duration

	Logger *logrus.Logger
}

type connectAttempt struct {
	record *DiscoveryRecord
	timer  *time.Timer
}

// Central owns every staged, ignored, and connected peripheral and is the only
// component that talks to the Radio and the Delegate.
type Central struct {
	radio    Radio
	delegate Delegate
	dispatch Dispatcher
	queue    *groutine.Queue
	logger   *logrus.Logger

	connectTimeout   time.Duration
	discoveryTimeout time.Duration
	scanDuration     time.Duration

	mu         sync.Mutex
	criteria   ScanCriteria
	state      PowerState
	scanning   bool
	scanFilter []string
	scanStop   *time.Timer
	staged     *Collection[*DiscoveryRecord]
	ignored    *Collection[*DiscoveryRecord]
	connected  *Collection[*PeripheralNode]
	pending    map[string]*connectAttempt

	outMu    sync.Mutex
	outbox   []func()
	flushing bool
}

// NewCentral creates a Central and registers it as the radio observer.
func NewCentral(opts Options) *Central {
	c := &Central{
		delegate:         opts.Delegate,
		dispatch:         opts.Dispatcher,
		logger:           opts.Logger,
		criteria:         opts.Criteria,
		connectTimeout:   opts.ConnectTimeout,
		discoveryTimeout: opts.DiscoveryTimeout,
		scanDuration:     opts.ScanDuration,
		staged:           newCollection(recordKey),
		ignored:          newCollection(recordKey),
		connected:        newCollection(peripheralKey),
		pending:          make(map[string]*connectAttempt),
	}
	if c.logger == nil {
		c.logger = logrus.New()
	}
	if c.delegate == nil {
		c.delegate = NopDelegate{}
	}
	if c.connectTimeout <= 0 {
		c.connectTimeout = DefaultConnectTimeout
	}
	if c.dispatch == nil {
		size := opts.QueueSize
		if size <= 0 {
			size = DefaultQueueSize
		}
		c.queue = groutine.NewQueue(context.Background(), "explorer-delegate", size)
		c.dispatch = c.queue.Dispatch
	}
	if opts.Radio != nil {
		c.SetRadio(opts.Radio)
	}
	return c
}

// SetRadio attaches the radio and registers the Central as its observer.
func (c *Central) SetRadio(r Radio) {
	c.mu.Lock()
	c.radio = r
	c.mu.Unlock()
	if r != nil {
		r.SetObserver(c)
	}
}

// Close releases the internal delegate queue, waiting for queued notifications.
func (c *Central) Close() {
	if c.queue != nil {
		c.queue.Close()
	}
}

// Logger returns the Central's logger.
func (c *Central) Logger() *logrus.Logger {
	return c.logger
}

// read runs fn under the lock without flushing notifications.
func (c *Central) read(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

// locked runs fn under the lock, then hands queued notifications to the dispatcher.
func (c *Central) locked(fn func()) {
	c.mu.Lock()
	func() {
		defer c.mu.Unlock()
		fn()
	}()
	c.flush()
}

// post queues a delegate notification. Callers hold c.mu.
func (c *Central) post(fn func(d Delegate)) {
	d := c.delegate
	c.outMu.Lock()
	c.outbox = append(c.outbox, func() { fn(d) })
	c.outMu.Unlock()
}

// flush drains the outbox through the dispatcher. Only one goroutine drains
// at a time; notifications posted meanwhile are picked up by that goroutine,
// which keeps delivery in posting order.
func (c *Central) flush() {
	c.outMu.Lock()
	if c.flushing {
		c.outMu.Unlock()
		return
	}
	c.flushing = true
	for len(c.outbox) > 0 {
		batch := c.outbox
		c.outbox = nil
		c.outMu.Unlock()
		for _, fn := range batch {
			c.dispatch(fn)
		}
		c.outMu.Lock()
	}
	c.flushing = false
	c.outMu.Unlock()
}

// HandleError reports err to the Delegate as raised by the Central.
func (c *Central) HandleError(err error) {
	c.locked(func() { c.handleError(err) })
}

func (c *Central) handleError(err error) {
	if err == nil {
		return
	}
	c.logger.WithFields(logrus.Fields{
		"kind":  KindOf(err),
		"error": err,
	}).Warn("Explorer error")
	c.post(func(d Delegate) { d.Error(c, err) })
}

func (c *Central) refresh() {
	c.post(func(d Delegate) { d.StateRefresh(c) })
}

// State returns the last reported radio power state.
func (c *Central) State() PowerState {
	var s PowerState
	c.read(func() { s = c.state })
	return s
}

// IsScanning reports whether a scan is active.
func (c *Central) IsScanning() bool {
	var ok bool
	c.read(func() { ok = c.scanning })
	return ok
}

// ScanFilter returns the effective service filter of the last scan.
func (c *Central) ScanFilter() []string {
	var out []string
	c.read(func() { out = append([]string(nil), c.scanFilter...) })
	return out
}

// Criteria returns the current discovery criteria.
func (c *Central) Criteria() ScanCriteria {
	var cr ScanCriteria
	c.read(func() { cr = c.criteria })
	return cr
}

// SetCriteria replaces the discovery criteria. Running scans and discoveries keep their filters.
func (c *Central) SetCriteria(cr ScanCriteria) {
	c.read(func() { c.criteria = cr })
}

// Staged returns a snapshot of discovered, not ignored records.
func (c *Central) Staged() []*DiscoveryRecord {
	var out []*DiscoveryRecord
	c.read(func() { out = c.staged.Items() })
	return out
}

// Ignored returns a snapshot of ignored records.
func (c *Central) Ignored() []*DiscoveryRecord {
	var out []*DiscoveryRecord
	c.read(func() { out = c.ignored.Items() })
	return out
}

// Connected returns a snapshot of connected peripherals.
func (c *Central) Connected() []*PeripheralNode {
	var out []*PeripheralNode
	c.read(func() { out = c.connected.Items() })
	return out
}

// Record looks a staged record up by identity.
func (c *Central) Record(id string) (*DiscoveryRecord, bool) {
	var (
		r  *DiscoveryRecord
		ok bool
	)
	c.read(func() { r, ok = c.staged.Get(NormalizeID(id)) })
	return r, ok
}

// Peripheral looks a connected peripheral up by identity.
func (c *Central) Peripheral(id string) (*PeripheralNode, bool) {
	var (
		p  *PeripheralNode
		ok bool
	)
	c.read(func() { p, ok = c.connected.Get(NormalizeID(id)) })
	return p, ok
}

// IsConnecting reports whether a connect attempt for id is in flight.
func (c *Central) IsConnecting(id string) bool {
	var ok bool
	c.read(func() { _, ok = c.pending[NormalizeID(id)] })
	return ok
}

// StartScanning starts a scan, stopping a running one first. A non-empty
// services filter overrides the service criteria.
func (c *Central) StartScanning(services ...string) error {
	var err error
	c.locked(func() {
		err = c.startScanning(resolveFilter(services, c.criteria.Services()))
	})
	return err
}

// RestartScanning starts a scan with the filter of the previous one.
func (c *Central) RestartScanning() error {
	var err error
	c.locked(func() { err = c.startScanning(c.scanFilter) })
	return err
}

// StopScanning stops the running scan. No-op when not scanning.
func (c *Central) StopScanning() {
	c.locked(c.stopScanning)
}

func (c *Central) startScanning(filter []string) error {
	if c.radio == nil {
		return ErrNoRadio
	}
	if c.state != StatePoweredOn {
		return fmt.Errorf("%w (state: %s)", ErrNotPoweredOn, c.state)
	}
	if c.scanning {
		c.stopScanning()
	}

	c.scanFilter = filter
	if err := c.radio.StartScan(filter); err != nil {
		c.logger.WithError(err).Error("Failed to start scan")
		c.refresh()
		return fmt.Errorf("start scan: %w", err)
	}
	c.scanning = true
	if c.scanDuration > 0 {
		var t *time.Timer
		t = time.AfterFunc(c.scanDuration, func() {
			c.locked(func() {
				if c.scanStop != t {
					return
				}
				c.scanStop = nil
				c.logger.Debug("Scan duration elapsed")
				c.stopScanning()
			})
		})
		c.scanStop = t
	}
	c.logger.WithField("services", filter).Info("Scanning started")
	c.refresh()
	return nil
}

func (c *Central) cancelScanStop() {
	if c.scanStop != nil {
		c.scanStop.Stop()
		c.scanStop = nil
	}
}

func (c *Central) stopScanning() {
	if !c.scanning {
		return
	}
	c.cancelScanStop()
	c.scanning = false
	if c.radio != nil {
		if err := c.radio.StopScan(); err != nil {
			c.handleError(internalf(err, "stop scan"))
		}
	}
	c.logger.Info("Scanning stopped")
	c.refresh()
}

// StartOver stops scanning, forgets every staged, ignored, and connected
// peripheral, and restarts the scan if one was running.
func (c *Central) StartOver() {
	c.locked(c.startOver)
}

func (c *Central) startOver() {
	wasScanning := c.scanning
	c.stopScanning()

	for key, attempt := range c.pending {
		attempt.timer.Stop()
		delete(c.pending, key)
		c.cancelNativeConnect(attempt.record.id)
	}

	for _, p := range c.connected.Items() {
		c.post(func(d Delegate) { d.PeripheralWillDisconnect(p) })
		if c.radio != nil {
			if err := c.radio.Disconnect(p.id); err != nil {
				c.logger.WithError(err).WithField("peripheral", p.id).Warn("Disconnect request failed")
			}
		}
		c.teardown(p)
		c.post(func(d Delegate) { d.PeripheralDidDisconnect(p) })
	}

	for _, r := range c.staged.Items() {
		r.detach()
	}
	for _, r := range c.ignored.Items() {
		r.detach()
	}
	c.staged.Clear()
	c.ignored.Clear()
	c.logger.Info("Explorer state cleared")

	if wasScanning {
		if err := c.startScanning(c.scanFilter); err != nil {
			c.handleError(internalf(err, "restart scan"))
		}
	}
	c.refresh()
}

// Ignore moves r from the staged list to the ignored list.
func (c *Central) Ignore(r *DiscoveryRecord) bool {
	var ok bool
	c.locked(func() {
		if c.ignored.Contains(r) {
			return
		}
		if _, ok = c.staged.Remove(r); !ok {
			return
		}
		c.ignored.Append(r)
		c.refresh()
	})
	return ok
}

// Unignore moves r from the ignored list back to the staged list.
func (c *Central) Unignore(r *DiscoveryRecord) bool {
	var ok bool
	c.locked(func() {
		if c.staged.Contains(r) {
			return
		}
		if _, ok = c.ignored.Remove(r); !ok {
			return
		}
		c.staged.Append(r)
		c.refresh()
	})
	return ok
}

// Connect starts a connect attempt bounded by the connect timeout. Returns
// false, issuing no radio request, when r is not staged, already connected,
// or already connecting, or when no radio is attached.
func (c *Central) Connect(r *DiscoveryRecord) bool {
	var ok bool
	c.locked(func() { ok = c.connect(r) })
	return ok
}

func (c *Central) connect(r *DiscoveryRecord) bool {
	log := c.logger.WithField("peripheral", r.id)
	if c.radio == nil {
		log.Warn("Connect refused: no radio")
		return false
	}
	if !c.staged.Contains(r) {
		log.Debug("Connect refused: record is not staged")
		return false
	}
	if _, ok := c.connected.Get(r.key); ok || r.peripheral != nil {
		log.Debug("Connect refused: already connected")
		return false
	}
	if _, ok := c.pending[r.key]; ok {
		log.Debug("Connect refused: already connecting")
		return false
	}

	attempt := &connectAttempt{record: r}
	c.pending[r.key] = attempt
	attempt.timer = time.AfterFunc(c.connectTimeout, func() {
		c.locked(func() { c.connectTimedOut(attempt) })
	})

	if err := c.radio.Connect(r.id); err != nil {
		attempt.timer.Stop()
		delete(c.pending, r.key)
		c.handleError(internalf(err, "connect %s", r.id))
		return false
	}
	log.WithField("timeout", c.connectTimeout).Info("Connecting")
	c.refresh()
	return true
}

func (c *Central) connectTimedOut(attempt *connectAttempt) {
	r := attempt.record
	if c.pending[r.key] != attempt {
		return
	}
	delete(c.pending, r.key)
	c.logger.WithField("peripheral", r.id).Warn("Connect timed out")
	c.cancelNativeConnect(r.id)
	c.handleError(&TimeoutError{Phase: PhaseConnect, Record: r})
	c.refresh()
}

func (c *Central) cancelNativeConnect(id string) {
	if c.radio == nil {
		return
	}
	if err := c.radio.Disconnect(id); err != nil {
		c.logger.WithError(err).WithField("peripheral", id).Debug("Cancel connect request failed")
	}
}

// Disconnect requests the disconnect of a connected r; teardown happens on
// the disconnected callback. A connect attempt still in flight is abandoned
// and reported as a ConnectFailedError caused by ErrConnectCanceled; Disconnect
// then returns false since r was never connected.
func (c *Central) Disconnect(r *DiscoveryRecord) bool {
	var ok bool
	c.locked(func() { ok = c.disconnect(r) })
	return ok
}

func (c *Central) disconnect(r *DiscoveryRecord) bool {
	if attempt, ok := c.pending[r.key]; ok {
		attempt.timer.Stop()
		delete(c.pending, r.key)
		c.logger.WithField("peripheral", r.id).Info("Connect canceled")
		c.cancelNativeConnect(r.id)
		c.handleError(&ConnectFailedError{Record: r, Cause: ErrConnectCanceled})
		c.refresh()
		return false
	}
	p, ok := c.connected.Get(r.key)
	if !ok || c.radio == nil {
		return false
	}
	if err := c.radio.Disconnect(p.id); err != nil {
		c.handleError(internalf(err, "disconnect %s", p.id))
		return false
	}
	c.logger.WithField("peripheral", p.id).Info("Disconnecting")
	return true
}

func (c *Central) armDiscoveryTimer(p *PeripheralNode) {
	if c.discoveryTimeout <= 0 {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(c.discoveryTimeout, func() {
		c.locked(func() {
			if p.discoveryTimer != t || p.central == nil || p.ready {
				return
			}
			p.discoveryTimer = nil
			c.logger.WithField("peripheral", p.id).Warn("Discovery timed out")
			c.handleError(&TimeoutError{Phase: PhaseDiscovery, Record: p.record, Peripheral: p})
		})
	})
	p.discoveryTimer = t
}

// teardown deep-clears p and removes it from the connected collection.
func (c *Central) teardown(p *PeripheralNode) {
	p.detach()
	c.connected.Remove(p)
	if p.record.peripheral == p {
		p.record.peripheral = nil
	}
}
