package adapter

// ResponseKind tags every event on the adapter stream. The session core
// correlates awaited command completions by kind, not by request identifier,
// because native stacks generally provide none.
type ResponseKind int

const (
	KindPowerState ResponseKind = iota
	KindConnected
	KindConnectFailed
	KindDisconnected
	KindServicesDiscovered
	KindCharacteristicsDiscovered
	KindDescriptorsDiscovered
	KindValueUpdated
	KindDescriptorRead
	KindWriteCompleted
	KindNotifyStateSet
	KindRSSIRead
	KindReadinessChanged
)

func (k ResponseKind) String() string {
	switch k {
	case KindPowerState:
		return "power_state"
	case KindConnected:
		return "connected"
	case KindConnectFailed:
		return "connect_failed"
	case KindDisconnected:
		return "disconnected"
	case KindServicesDiscovered:
		return "services_discovered"
	case KindCharacteristicsDiscovered:
		return "characteristics_discovered"
	case KindDescriptorsDiscovered:
		return "descriptors_discovered"
	case KindValueUpdated:
		return "value_updated"
	case KindDescriptorRead:
		return "descriptor_read"
	case KindWriteCompleted:
		return "write_completed"
	case KindNotifyStateSet:
		return "notify_state_set"
	case KindRSSIRead:
		return "rssi_read"
	case KindReadinessChanged:
		return "readiness_changed"
	default:
		return "unknown"
	}
}

// Native status codes attached to connect-failed and disconnected events.
// The numbering follows the CoreBluetooth CBError domain, which the reference
// stacks report verbatim; other stacks map their codes onto these.
const (
	CodeNone                    = -1
	CodeUnknown                 = 0
	CodeOperationCancelled      = 5
	CodeConnectionTimeout       = 6
	CodePeripheralDisconnected  = 7
	CodeConnectionFailed        = 10
	CodeConnectionLimitExceeded = 11
	CodeUnknownDevice           = 12
	CodeEncryptionTimedOut      = 15
)

// Event is one entry on the adapter stream. Kind selects which of the
// remaining fields are meaningful; unrelated fields are zero.
type Event struct {
	Kind   ResponseKind
	Device string

	// Code is the native status code for KindConnectFailed and
	// KindDisconnected. CodeNone means the stack reported no code.
	Code int

	// Err is the native error for a failed operation completion.
	Err error

	Service        *Service
	Characteristic *Characteristic
	Descriptor     *Descriptor

	Data  []byte
	Value Value
	RSSI  int
	MTU   int
	Power PowerState
	Ready bool
}
