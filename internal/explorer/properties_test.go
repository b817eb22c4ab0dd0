package explorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProperties(t *testing.T) {
	p := PropRead | PropNotify | PropNotifyEncryptionRequired

	assert.True(t, p.Has(PropRead))
	assert.True(t, p.Has(PropRead|PropNotify))
	assert.False(t, p.Has(PropWrite))
	assert.False(t, p.Has(PropRead|PropWrite), "Has MUST require every bit")
	assert.Equal(t, []string{"read", "notify", "notify_encryption_required"}, p.Names())
	assert.Equal(t, "read,notify,notify_encryption_required", p.String())
	assert.Empty(t, Properties(0).String())
}

func TestParseProperties(t *testing.T) {
	tests := []struct {
		in   string
		want Properties
	}{
		{"", 0},
		{"read", PropRead},
		{"read,write", PropRead | PropWrite},
		{" Notify , INDICATE ", PropNotify | PropIndicate},
		{"write_without_response,bogus", PropWriteWithoutResponse},
		{"indicate_encryption_required", PropIndicateEncryptionRequired},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseProperties(tt.in))
		})
	}

	all := Properties(0x3ff)
	assert.Equal(t, all, ParseProperties(all.String()), "String output MUST parse back")
}
