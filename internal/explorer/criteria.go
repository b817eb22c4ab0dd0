package explorer

import (
	"sort"
	"strings"
)

// ScanCriteria filters what the Central stages and discovers. It is immutable;
// an empty identity set means no filtering on that dimension.
type ScanCriteria struct {
	peripherals     map[string]struct{}
	services        map[string]struct{}
	characteristics map[string]struct{}
	minRSSI         *int
	allowUnnamed    bool
	connectableOnly bool
}

// CriteriaOption configures a ScanCriteria under construction.
type CriteriaOption func(*ScanCriteria)

// WithPeripherals restricts staging to the given peripheral identities.
func WithPeripherals(ids ...string) CriteriaOption {
	return func(c *ScanCriteria) {
		c.peripherals = toSet(ids, NormalizeID)
	}
}

// WithServices restricts scanning and service discovery to the given UUIDs.
func WithServices(uuids ...string) CriteriaOption {
	return func(c *ScanCriteria) {
		c.services = toSet(uuids, NormalizeUUID)
	}
}

// WithCharacteristics restricts characteristic discovery to the given UUIDs.
func WithCharacteristics(uuids ...string) CriteriaOption {
	return func(c *ScanCriteria) {
		c.characteristics = toSet(uuids, NormalizeUUID)
	}
}

// WithMinRSSI drops advertisements weaker than dbm.
func WithMinRSSI(dbm int) CriteriaOption {
	return func(c *ScanCriteria) {
		c.minRSSI = &dbm
	}
}

// WithUnnamed stages peripherals that advertise no name.
func WithUnnamed(allow bool) CriteriaOption {
	return func(c *ScanCriteria) {
		c.allowUnnamed = allow
	}
}

// WithConnectableOnly drops non-connectable advertisements.
func WithConnectableOnly(only bool) CriteriaOption {
	return func(c *ScanCriteria) {
		c.connectableOnly = only
	}
}

// NewScanCriteria builds a ScanCriteria from options.
func NewScanCriteria(opts ...CriteriaOption) ScanCriteria {
	var c ScanCriteria
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// With returns a copy of c with opts applied on top.
func (c ScanCriteria) With(opts ...CriteriaOption) ScanCriteria {
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func toSet(values []string, norm func(string) string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if n := norm(v); n != "" {
			set[n] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Peripherals returns the peripheral identity filter, or nil.
func (c ScanCriteria) Peripherals() []string { return sortedKeys(c.peripherals) }

// Services returns the service UUID filter, or nil.
func (c ScanCriteria) Services() []string { return sortedKeys(c.services) }

// Characteristics returns the characteristic UUID filter, or nil.
func (c ScanCriteria) Characteristics() []string { return sortedKeys(c.characteristics) }

// MinRSSI returns the signal threshold and whether one is set.
func (c ScanCriteria) MinRSSI() (int, bool) {
	if c.minRSSI == nil {
		return 0, false
	}
	return *c.minRSSI, true
}

// AllowUnnamed reports whether peripherals without a name are staged.
func (c ScanCriteria) AllowUnnamed() bool { return c.allowUnnamed }

// ConnectableOnly reports whether non-connectable advertisements are dropped.
func (c ScanCriteria) ConnectableOnly() bool { return c.connectableOnly }

// AllowsPeripheral reports whether id passes the peripheral identity filter.
func (c ScanCriteria) AllowsPeripheral(id string) bool {
	if len(c.peripherals) == 0 {
		return true
	}
	_, ok := c.peripherals[NormalizeID(id)]
	return ok
}

// Admits reports whether an advertisement should be staged.
func (c ScanCriteria) Admits(adv Advertisement) bool {
	if strings.TrimSpace(adv.ID) == "" {
		return false
	}
	if !c.allowUnnamed && displayName(adv) == "" {
		return false
	}
	if c.connectableOnly && !adv.Connectable {
		return false
	}
	if c.minRSSI != nil && adv.RSSI < *c.minRSSI {
		return false
	}
	return c.AllowsPeripheral(adv.ID)
}

// resolveFilter returns explicit when non-empty, else fallback. The result is normalized.
func resolveFilter(explicit []string, fallback []string) []string {
	if f := NormalizeUUIDs(explicit); len(f) > 0 {
		return f
	}
	return fallback
}
