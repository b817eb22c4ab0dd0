package explorer

import (
	"sync/atomic"
)

// DiscoveryRecord is one observed peripheral that is staged or ignored by the
// Central. Its derived properties are computed from the latest advertisement
// and the connection state on every call.
type DiscoveryRecord struct {
	id  string
	key string

	central atomic.Pointer[Central]

	// guarded by central.mu
	adv        Advertisement
	peripheral *PeripheralNode
}

func newDiscoveryRecord(c *Central, adv Advertisement) *DiscoveryRecord {
	r := &DiscoveryRecord{
		id:  adv.ID,
		key: NormalizeID(adv.ID),
		adv: adv,
	}
	r.central.Store(c)
	return r
}

func recordKey(r *DiscoveryRecord) string { return r.key }

// read runs fn under the owning Central's lock, or bare once the record is detached.
func (r *DiscoveryRecord) read(fn func()) {
	if c := r.central.Load(); c != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
	}
	fn()
}

// ID returns the platform identifier of the peripheral.
func (r *DiscoveryRecord) ID() string {
	return r.id
}

// Central returns the owning Central, or nil once the record has been discarded.
func (r *DiscoveryRecord) Central() *Central {
	return r.central.Load()
}

// Advertisement returns the latest advertisement snapshot.
func (r *DiscoveryRecord) Advertisement() Advertisement {
	var adv Advertisement
	r.read(func() { adv = r.adv })
	return adv
}

// AdvertisementData returns the latest advertisement as a raw key/value map.
func (r *DiscoveryRecord) AdvertisementData() map[string]any {
	return r.Advertisement().Data()
}

// Name is the advertised (GAP) name.
func (r *DiscoveryRecord) Name() string { return r.Advertisement().Name }

// LocalName is the local name from the advertising payload.
func (r *DiscoveryRecord) LocalName() string { return r.Advertisement().LocalName }

// RSSI is the signal strength of the latest advertisement, in dBm.
func (r *DiscoveryRecord) RSSI() int { return r.Advertisement().RSSI }

// DisplayName prefers the advertised local name over the platform-assigned name.
func (r *DiscoveryRecord) DisplayName() string {
	return displayName(r.Advertisement())
}

func displayName(adv Advertisement) string {
	if adv.LocalName != "" {
		return adv.LocalName
	}
	return adv.Name
}

// CanConnect reports whether the peripheral advertises as connectable and is not connected.
func (r *DiscoveryRecord) CanConnect() bool {
	var ok bool
	r.read(func() { ok = r.adv.Connectable && r.peripheral == nil })
	return ok
}

// IsConnected reports whether the peripheral currently has a live PeripheralNode.
func (r *DiscoveryRecord) IsConnected() bool {
	return r.Peripheral() != nil
}

// Peripheral returns the connected node, or nil.
func (r *DiscoveryRecord) Peripheral() *PeripheralNode {
	var p *PeripheralNode
	r.read(func() { p = r.peripheral })
	return p
}

// Ignore moves the record from the staged list to the ignored list.
// Returns false if the record is not staged.
func (r *DiscoveryRecord) Ignore() bool {
	c := r.central.Load()
	return c != nil && c.Ignore(r)
}

// Unignore moves the record back from the ignored list to the staged list.
// Returns false if the record is not ignored.
func (r *DiscoveryRecord) Unignore() bool {
	c := r.central.Load()
	return c != nil && c.Unignore(r)
}

// Connect asks the Central to connect. Returns false if the record is detached,
// not staged, already connected, or already connecting.
func (r *DiscoveryRecord) Connect() bool {
	c := r.central.Load()
	return c != nil && c.Connect(r)
}

// Disconnect asks the Central to disconnect. Returns false if the record is
// detached or not connected.
func (r *DiscoveryRecord) Disconnect() bool {
	c := r.central.Load()
	return c != nil && c.Disconnect(r)
}

func (r *DiscoveryRecord) detach() {
	r.peripheral = nil
	r.central.Store(nil)
}
