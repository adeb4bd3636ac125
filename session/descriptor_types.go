package session

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Well-known GATT descriptor UUIDs (normalized 16-bit short form).
const (
	DescriptorExtendedProperties = "2900"
	DescriptorUserDescription    = "2901"
	DescriptorClientConfig       = "2902"
	DescriptorServerConfig       = "2903"
	DescriptorPresentationFormat = "2904"
	DescriptorAggregateFormat    = "2905"
	DescriptorValidRange         = "2906"
)

// ExtendedProperties is the parsed Characteristic Extended Properties
// descriptor (0x2900).
type ExtendedProperties struct {
	ReliableWrite       bool
	WritableAuxiliaries bool
}

// ClientConfig is the parsed Client Characteristic Configuration descriptor
// (0x2902).
type ClientConfig struct {
	Notifications bool
	Indications   bool
}

// ServerConfig is the parsed Server Characteristic Configuration descriptor
// (0x2903).
type ServerConfig struct {
	Broadcasts bool
}

// PresentationFormat is the parsed Characteristic Presentation Format
// descriptor (0x2904).
type PresentationFormat struct {
	Format      uint8
	Exponent    int8
	Unit        uint16
	Namespace   uint8
	Description uint16
}

// ValidRange is the parsed Valid Range descriptor (0x2906). Min and max
// formats depend on the characteristic value format, so both stay raw.
type ValidRange struct {
	MinValue []byte
	MaxValue []byte
}

// ParseExtendedProperties parses the 2-byte Extended Properties value:
// bit 0 = Reliable Write, bit 1 = Writable Auxiliaries.
func ParseExtendedProperties(data []byte) (*ExtendedProperties, error) {
	if len(data) != 2 {
		return nil, fmt.Errorf("invalid length for extended properties: expected 2, got %d", len(data))
	}
	value := binary.LittleEndian.Uint16(data)
	return &ExtendedProperties{
		ReliableWrite:       value&0x0001 != 0,
		WritableAuxiliaries: value&0x0002 != 0,
	}, nil
}

// ParseClientConfig parses the 2-byte CCCD value:
// bit 0 = Notifications, bit 1 = Indications.
func ParseClientConfig(data []byte) (*ClientConfig, error) {
	if len(data) != 2 {
		return nil, fmt.Errorf("invalid length for client config: expected 2, got %d", len(data))
	}
	value := binary.LittleEndian.Uint16(data)
	return &ClientConfig{
		Notifications: value&0x0001 != 0,
		Indications:   value&0x0002 != 0,
	}, nil
}

// ParseServerConfig parses the 2-byte Server Characteristic Configuration
// value: bit 0 = Broadcasts.
func ParseServerConfig(data []byte) (*ServerConfig, error) {
	if len(data) != 2 {
		return nil, fmt.Errorf("invalid length for server config: expected 2, got %d", len(data))
	}
	value := binary.LittleEndian.Uint16(data)
	return &ServerConfig{Broadcasts: value&0x0001 != 0}, nil
}

// ParseUserDescription parses the User Description value: a UTF-8 string,
// possibly null-terminated.
func ParseUserDescription(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	str := strings.TrimRight(string(data), "\x00")
	if !utf8.ValidString(str) {
		return "", fmt.Errorf("invalid UTF-8 in user description")
	}
	return str, nil
}

// ParsePresentationFormat parses the 7-byte Presentation Format value:
// Format(1), Exponent(1), Unit(2), Namespace(1), Description(2).
func ParsePresentationFormat(data []byte) (*PresentationFormat, error) {
	if len(data) != 7 {
		return nil, fmt.Errorf("invalid length for presentation format: expected 7, got %d", len(data))
	}
	return &PresentationFormat{
		Format:      data[0],
		Exponent:    int8(data[1]),
		Unit:        binary.LittleEndian.Uint16(data[2:4]),
		Namespace:   data[4],
		Description: binary.LittleEndian.Uint16(data[5:7]),
	}, nil
}

// ParseValidRange parses the Valid Range value by splitting it evenly
// between min and max; odd lengths give the extra byte to max.
func ParseValidRange(data []byte) (*ValidRange, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("invalid length for valid range: expected at least 2, got %d", len(data))
	}
	mid := len(data) / 2
	minValue := make([]byte, mid)
	maxValue := make([]byte, len(data)-mid)
	copy(minValue, data[:mid])
	copy(maxValue, data[mid:])
	return &ValidRange{MinValue: minValue, MaxValue: maxValue}, nil
}

// ParseDescriptorValue parses a normalized descriptor value based on its
// UUID. Unknown descriptor types return the raw bytes; empty data returns
// (nil, nil).
func ParseDescriptorValue(uuid string, data []byte) (interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}

	switch uuid {
	case DescriptorExtendedProperties:
		return ParseExtendedProperties(data)
	case DescriptorUserDescription:
		return ParseUserDescription(data)
	case DescriptorClientConfig:
		return ParseClientConfig(data)
	case DescriptorServerConfig:
		return ParseServerConfig(data)
	case DescriptorPresentationFormat:
		return ParsePresentationFormat(data)
	case DescriptorValidRange:
		return ParseValidRange(data)
	default:
		return data, nil
	}
}
