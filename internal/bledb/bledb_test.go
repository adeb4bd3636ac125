package bledb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestNormalizeUUID verifies that NormalizeUUID correctly handles various UUID formats
func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "16-bit short form",
			input:    "180d",
			expected: "180d",
		},
		{
			name:     "16-bit with 0x prefix",
			input:    "0x180d",
			expected: "180d",
		},
		{
			name:     "uppercase short form",
			input:    "180D",
			expected: "180d",
		},
		{
			name:     "Full Bluetooth SIG UUID with dashes",
			input:    "0000180d-0000-1000-8000-00805f9b34fb",
			expected: "180d",
		},
		{
			name:     "Full Bluetooth SIG UUID without dashes",
			input:    "0000180d00001000800000805f9b34fb",
			expected: "180d",
		},
		{
			name:     "Custom 128-bit UUID (not SIG base)",
			input:    "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
			expected: "6e400001b5a3f393e0a9e50e24dcca9e",
		},
		{
			name:     "UUID with braces",
			input:    "{0000180d-0000-1000-8000-00805f9b34fb}",
			expected: "180d",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeUUID(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

// TestLookups verifies that name lookups accept both short and full UUID forms
func TestLookups(t *testing.T) {
	assert.Equal(t, "Heart Rate", LookupService("180d"))
	assert.Equal(t, "Heart Rate", LookupService("0x180D"))
	assert.Equal(t, "Heart Rate", LookupService("0000180d-0000-1000-8000-00805f9b34fb"))
	assert.Equal(t, "Battery Service", LookupService("180f"))
	assert.Equal(t, "", LookupService("ffff"))

	assert.Equal(t, "Heart Rate Measurement", LookupCharacteristic("2a37"))
	assert.Equal(t, "Battery Level", LookupCharacteristic("00002a19-0000-1000-8000-00805f9b34fb"))
	assert.Equal(t, "", LookupCharacteristic("beef"))

	assert.Equal(t, "Client Characteristic Configuration", LookupDescriptor("2902"))
	assert.Equal(t, "", LookupDescriptor("2999"))
}
