package adapter

// ValueKind discriminates the native representation of a descriptor value.
type ValueKind int

const (
	ValueAbsent ValueKind = iota
	ValueBytes
	ValueText
	ValueUint16
	ValueUint32
	ValueUint64
)

func (k ValueKind) String() string {
	switch k {
	case ValueBytes:
		return "bytes"
	case ValueText:
		return "text"
	case ValueUint16:
		return "uint16"
	case ValueUint32:
		return "uint32"
	case ValueUint64:
		return "uint64"
	default:
		return "absent"
	}
}

// Value is a descriptor value in whatever shape the native stack delivered
// it. CoreBluetooth hands descriptor values back as NSData, NSString or
// NSNumber depending on the descriptor type; other stacks return raw bytes.
// The session core normalizes every representation to canonical little-endian
// bytes before exposing it.
type Value struct {
	Kind  ValueKind
	Bytes []byte
	Text  string
	Uint  uint64
}

// BytesValue wraps a raw byte slice.
func BytesValue(b []byte) Value { return Value{Kind: ValueBytes, Bytes: b} }

// TextValue wraps a native string value.
func TextValue(s string) Value { return Value{Kind: ValueText, Text: s} }

// Uint16Value wraps a native 16-bit numeric value.
func Uint16Value(v uint16) Value { return Value{Kind: ValueUint16, Uint: uint64(v)} }

// Uint32Value wraps a native 32-bit numeric value.
func Uint32Value(v uint32) Value { return Value{Kind: ValueUint32, Uint: uint64(v)} }

// Uint64Value wraps a native 64-bit numeric value.
func Uint64Value(v uint64) Value { return Value{Kind: ValueUint64, Uint: v} }
