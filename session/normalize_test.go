package session_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/gattlink/adapter"
	"github.com/srg/gattlink/session"
)

func TestNormalizeDescriptorValue(t *testing.T) {
	// GOAL: Verify every native value representation lands on canonical little-endian bytes

	tests := []struct {
		name string
		uuid string
		in   adapter.Value
		want []byte
	}{
		{"bytes pass through", session.DescriptorUserDescription, adapter.BytesValue([]byte{0x10, 0x20}), []byte{0x10, 0x20}},
		{"text to raw bytes", session.DescriptorUserDescription, adapter.TextValue("Battery"), []byte("Battery")},
		{"uint16 little-endian", session.DescriptorServerConfig, adapter.Uint16Value(0x0001), []byte{0x01, 0x00}},
		{"uint32 little-endian", session.DescriptorValidRange, adapter.Uint32Value(0x01020304), []byte{0x04, 0x03, 0x02, 0x01}},
		{"uint64 little-endian", session.DescriptorValidRange, adapter.Uint64Value(0x0102030405060708), []byte{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}},
		{"absent is nil", session.DescriptorClientConfig, adapter.Value{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := session.NormalizeDescriptorValue(tt.uuid, tt.in, nil)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeClientConfigAmbiguity(t *testing.T) {
	// GOAL: Verify the CCCD dual-interpretation fallback
	//
	// TEST SCENARIO: Numbers whose little-endian reading holds defined bits keep it; numbers where only the
	// byte-swapped reading holds defined bits are swapped

	tests := []struct {
		name string
		num  uint64
		want []byte
	}{
		{"notifications enabled, plain", 0x0001, []byte{0x01, 0x00}},
		{"indications enabled, plain", 0x0002, []byte{0x02, 0x00}},
		{"zero stays zero", 0x0000, []byte{0x00, 0x00}},
		{"wire word read big-endian is swapped", 0x0100, []byte{0x01, 0x00}},
		{"swapped indication word", 0x0200, []byte{0x02, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := session.NormalizeDescriptorValue(session.DescriptorClientConfig, adapter.Uint16Value(uint16(tt.num)), nil)
			assert.Equal(t, tt.want, got)
		})
	}

	// the same number on a non-CCCD descriptor is never reinterpreted
	got := session.NormalizeDescriptorValue(session.DescriptorServerConfig, adapter.Uint16Value(0x0100), nil)
	assert.Equal(t, []byte{0x00, 0x01}, got)
}

func TestParseDescriptorValues(t *testing.T) {
	// GOAL: Verify the well-known descriptor values parse into their structured forms

	t.Run("client config", func(t *testing.T) {
		cfg, err := session.ParseClientConfig([]byte{0x03, 0x00})
		require.NoError(t, err)
		assert.True(t, cfg.Notifications)
		assert.True(t, cfg.Indications)
	})

	t.Run("extended properties", func(t *testing.T) {
		ext, err := session.ParseExtendedProperties([]byte{0x01, 0x00})
		require.NoError(t, err)
		assert.True(t, ext.ReliableWrite)
		assert.False(t, ext.WritableAuxiliaries)
	})

	t.Run("presentation format", func(t *testing.T) {
		pf, err := session.ParsePresentationFormat([]byte{0x04, 0x00, 0xad, 0x27, 0x01, 0x00, 0x00})
		require.NoError(t, err)
		assert.Equal(t, uint8(0x04), pf.Format)
		assert.Equal(t, int8(0), pf.Exponent)
		assert.Equal(t, uint16(0x27ad), pf.Unit)
	})

	t.Run("user description", func(t *testing.T) {
		text, err := session.ParseUserDescription([]byte("Heart Rate"))
		require.NoError(t, err)
		assert.Equal(t, "Heart Rate", text)
	})

	t.Run("truncated client config", func(t *testing.T) {
		_, err := session.ParseClientConfig([]byte{0x01})
		assert.Error(t, err)
	})

	t.Run("dispatch by uuid", func(t *testing.T) {
		v, err := session.ParseDescriptorValue(session.DescriptorClientConfig, []byte{0x01, 0x00})
		require.NoError(t, err)
		cfg, ok := v.(*session.ClientConfig)
		require.True(t, ok)
		assert.True(t, cfg.Notifications)
	})
}
