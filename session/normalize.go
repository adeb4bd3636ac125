package session

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"

	"github.com/srg/gattlink/adapter"
)

// NormalizeDescriptorValue maps a native descriptor value, which may arrive
// as opaque bytes, text or a numeric, to canonical little-endian bytes.
//
// Numeric widths follow the native kind. The 16-bit case for the Client
// Characteristic Configuration descriptor (0x2902) is a documented ambiguity:
// the platform docs do not say whether the number is the host-order value or
// the raw wire word, and devices in the field have been observed producing
// both. When the little-endian interpretation of a CCCD number yields no
// defined configuration bits but the byte-swapped one does, the swapped form
// is used. Both interpretations are preserved rather than picking one
// encoding.
//
// Unrecognized kinds degrade to an empty value with a diagnostic log entry;
// normalization never fails.
func NormalizeDescriptorValue(uuid string, v adapter.Value, logger *logrus.Logger) []byte {
	switch v.Kind {
	case adapter.ValueBytes:
		return v.Bytes

	case adapter.ValueText:
		return []byte(v.Text)

	case adapter.ValueUint16:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(v.Uint))
		if uuid == DescriptorClientConfig {
			return disambiguateClientConfig(b)
		}
		return b

	case adapter.ValueUint32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(v.Uint))
		return b

	case adapter.ValueUint64:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, v.Uint)
		return b

	case adapter.ValueAbsent:
		return nil

	default:
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"descriptor_uuid": uuid,
				"value_kind":      v.Kind,
			}).Debug("Unrecognized native descriptor value representation, degrading to empty value")
		}
		return []byte{}
	}
}

// cccdDefinedMask covers the notification and indication bits, the only ones
// the Client Characteristic Configuration descriptor defines.
const cccdDefinedMask = 0x0003

// disambiguateClientConfig applies the dual-interpretation fallback for the
// CCCD 16-bit numeric case. b is the little-endian encoding of the native
// number; when it carries no defined bits but its byte-swapped form does, the
// native number was evidently the raw wire word read big-endian.
func disambiguateClientConfig(b []byte) []byte {
	le := binary.LittleEndian.Uint16(b)
	if le&cccdDefinedMask != 0 || le == 0 {
		return b
	}
	swapped := le>>8 | le<<8
	if swapped&cccdDefinedMask != 0 {
		out := make([]byte, 2)
		binary.LittleEndian.PutUint16(out, swapped)
		return out
	}
	return b
}
