// Package adapter defines the contract between the session core and a native
// BLE stack. An Adapter executes radio commands and reports every outcome as a
// kind-tagged event on a single ordered stream per peripheral; it never calls
// back into the session. Implementations are constructed explicitly and
// injected; there is no ambient global adapter.
package adapter

// PowerState is the global power state of the local Bluetooth adapter.
type PowerState int

const (
	PowerUnknown PowerState = iota
	PoweredOff
	PoweredOn
)

func (s PowerState) String() string {
	switch s {
	case PoweredOff:
		return "powered_off"
	case PoweredOn:
		return "powered_on"
	default:
		return "unknown"
	}
}

// Property is the bit set of capabilities a characteristic supports.
// The flag values follow the GATT characteristic properties field layout.
type Property int

const (
	PropBroadcast            Property = 0x01
	PropRead                 Property = 0x02
	PropWriteWithoutResponse Property = 0x04
	PropWrite                Property = 0x08
	PropNotify               Property = 0x10
	PropIndicate             Property = 0x20
	PropSignedWrite          Property = 0x40
	PropExtended             Property = 0x80
)

// WriteMode selects between an acknowledged write and a write-without-response.
type WriteMode int

const (
	WriteWithResponse WriteMode = iota
	WriteWithoutResponse
)

func (m WriteMode) String() string {
	if m == WriteWithoutResponse {
		return "write_without_response"
	}
	return "write_with_response"
}

// Service is a native service reference as reported by the stack.
// The tree below a service is filled in as discovery progresses.
type Service struct {
	UUID            string
	Handle          uint16
	EndHandle       uint16
	Characteristics []*Characteristic
}

// Characteristic is a native characteristic reference. ValueHandle is the
// attribute handle the stack uses to address reads, writes and notifications.
type Characteristic struct {
	UUID        string
	Handle      uint16
	ValueHandle uint16
	Properties  Property
	Descriptors []*Descriptor
}

// Descriptor is a native descriptor reference. Value carries the stack's
// representation of the descriptor value, which is not guaranteed to be a
// plain byte slice on every platform (see the Value type).
type Descriptor struct {
	UUID   string
	Handle uint16
	Value  Value
}

// Adapter is the native BLE stack collaborator. Commands are asynchronous:
// they return an error only when the stack rejects the command outright, and
// report completion as an Event of the corresponding ResponseKind on the
// stream returned by Events. Events for one peripheral are strictly ordered.
type Adapter interface {
	// State reports the adapter's current global power state.
	State() PowerState

	// Events returns the single ordered event stream for this adapter.
	// The channel is closed when the adapter is shut down.
	Events() <-chan Event

	Connect(deviceID string) error
	CancelConnection(deviceID string) error

	// DiscoverServices starts service discovery. An empty filter discovers
	// all services. Completion is reported as KindServicesDiscovered.
	DiscoverServices(deviceID string, filter []string) error
	DiscoverCharacteristics(deviceID string, svc *Service) error
	DiscoverDescriptors(deviceID string, char *Characteristic) error

	// Services returns the native service tree discovered so far.
	Services(deviceID string) []*Service

	// MTU returns the negotiated ATT maximum transmission unit for the live
	// connection, or 0 when unknown.
	MTU(deviceID string) int

	Read(deviceID string, char *Characteristic) error
	ReadDescriptor(deviceID string, desc *Descriptor) error
	Write(deviceID string, char *Characteristic, data []byte, mode WriteMode) error
	SetNotifyEnabled(deviceID string, char *Characteristic, enabled bool) error
	ReadRSSI(deviceID string) error

	// CanWriteWithoutResponse re-samples the transport's buffer availability
	// for unacknowledged writes. Changes are also pushed as
	// KindReadinessChanged events.
	CanWriteWithoutResponse(deviceID string) bool
}
