package explorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanCriteriaAccessors(t *testing.T) {
	empty := NewScanCriteria()
	assert.Nil(t, empty.Peripherals())
	assert.Nil(t, empty.Services())
	assert.Nil(t, empty.Characteristics())
	_, ok := empty.MinRSSI()
	assert.False(t, ok)
	assert.False(t, empty.AllowUnnamed())
	assert.False(t, empty.ConnectableOnly())

	c := NewScanCriteria(
		WithPeripherals(" AA:BB ", "cc:dd"),
		WithServices("180F", "0000180d-0000-1000-8000-00805f9b34fb"),
		WithCharacteristics("2A37"),
		WithMinRSSI(-70),
		WithUnnamed(true),
		WithConnectableOnly(true),
	)
	assert.Equal(t, []string{"aa:bb", "cc:dd"}, c.Peripherals())
	assert.Equal(t, []string{"180d", "180f"}, c.Services(), "service UUIDs MUST be normalized")
	assert.Equal(t, []string{"2a37"}, c.Characteristics())
	rssi, ok := c.MinRSSI()
	assert.True(t, ok)
	assert.Equal(t, -70, rssi)
	assert.True(t, c.AllowUnnamed())
	assert.True(t, c.ConnectableOnly())
	assert.True(t, c.AllowsPeripheral("AA:BB"))
	assert.False(t, c.AllowsPeripheral("ee:ff"))
}

func TestScanCriteriaWith(t *testing.T) {
	base := NewScanCriteria(WithServices("180d"), WithMinRSSI(-70), WithConnectableOnly(true))

	targeted := base.With(WithPeripherals("AA"), WithUnnamed(true))

	assert.Equal(t, []string{"aa"}, targeted.Peripherals())
	assert.Equal(t, []string{"180d"}, targeted.Services(), "base criteria MUST be kept")
	rssi, ok := targeted.MinRSSI()
	assert.True(t, ok)
	assert.Equal(t, -70, rssi)
	assert.True(t, targeted.ConnectableOnly())
	assert.True(t, targeted.AllowUnnamed())
	assert.Nil(t, base.Peripherals(), "the receiver MUST stay unchanged")
	assert.False(t, base.AllowUnnamed())
}

func TestScanCriteriaAdmits(t *testing.T) {
	named := Advertisement{ID: "AA", Name: "dev", RSSI: -60, Connectable: true}

	tests := []struct {
		name     string
		criteria ScanCriteria
		adv      Advertisement
		want     bool
	}{
		{"default named", NewScanCriteria(), named, true},
		{"no id", NewScanCriteria(), Advertisement{Name: "dev"}, false},
		{"unnamed rejected", NewScanCriteria(), Advertisement{ID: "AA"}, false},
		{"unnamed allowed", NewScanCriteria(WithUnnamed(true)), Advertisement{ID: "AA"}, true},
		{"local name counts", NewScanCriteria(), Advertisement{ID: "AA", LocalName: "x"}, true},
		{"rssi below", NewScanCriteria(WithMinRSSI(-50)), named, false},
		{"rssi at threshold", NewScanCriteria(WithMinRSSI(-60)), named, true},
		{"connectable only", NewScanCriteria(WithConnectableOnly(true)), Advertisement{ID: "AA", Name: "dev"}, false},
		{"peripheral filter hit", NewScanCriteria(WithPeripherals("aa")), named, true},
		{"peripheral filter miss", NewScanCriteria(WithPeripherals("bb")), named, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.criteria.Admits(tt.adv))
		})
	}
}

func TestNormalizeUUID(t *testing.T) {
	assert.Equal(t, "180d", NormalizeUUID("0000180D-0000-1000-8000-00805F9B34FB"))
	assert.Equal(t, "2a19", NormalizeUUID(" 0x2A19 "))
	assert.Equal(t, "bogus", NormalizeUUID("BOGUS"), "malformed UUIDs MUST still compare consistently")

	assert.Nil(t, NormalizeUUIDs(nil))
	assert.Equal(t, []string{"180d", "bogus"}, NormalizeUUIDs([]string{"180D", "", "Bogus"}))
}

func TestResolveFilter(t *testing.T) {
	fallback := []string{"180d"}
	assert.Equal(t, fallback, resolveFilter(nil, fallback))
	assert.Equal(t, []string{"180f"}, resolveFilter([]string{"180F"}, fallback), "explicit filter MUST override")
	assert.Nil(t, resolveFilter(nil, nil))
}
