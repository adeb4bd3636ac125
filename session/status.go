package session

import (
	"fmt"
	"sync"

	"github.com/srg/gattlink/adapter"
	"github.com/srg/gattlink/internal/ringchan"
)

// State is the top-level connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "disconnected"
	}
}

// Phase is the sub-state of StateConnecting. Phases advance monotonically
// within one attempt; any phase may instead fall back to StateDisconnected.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseLinkEstablishing
	PhaseDiscoveringServices
	PhaseConfiguringObservations
)

func (p Phase) String() string {
	switch p {
	case PhaseLinkEstablishing:
		return "link_establishing"
	case PhaseDiscoveringServices:
		return "discovering_services"
	case PhaseConfiguringObservations:
		return "configuring_observations"
	default:
		return "none"
	}
}

// Reason classifies why a connection ended.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonNormal
	ReasonTimeout
	ReasonLimitReached
	ReasonEncryptionTimeout
	ReasonUnknownDevice
	ReasonCancelled
	ReasonFailed
	ReasonUnknown
)

func (r Reason) String() string {
	switch r {
	case ReasonNormal:
		return "normal"
	case ReasonTimeout:
		return "timeout"
	case ReasonLimitReached:
		return "connection_limit_reached"
	case ReasonEncryptionTimeout:
		return "encryption_timeout"
	case ReasonUnknownDevice:
		return "unknown_device"
	case ReasonCancelled:
		return "cancelled"
	case ReasonFailed:
		return "failed"
	case ReasonUnknown:
		return "unknown"
	default:
		return "none"
	}
}

// DecodeReason maps a native disconnect status code to a Reason.
// Code numbering follows the adapter contract (CoreBluetooth CBError domain).
func DecodeReason(code int) Reason {
	switch code {
	case adapter.CodeNone, adapter.CodePeripheralDisconnected:
		return ReasonNormal
	case adapter.CodeConnectionTimeout:
		return ReasonTimeout
	case adapter.CodeConnectionLimitExceeded:
		return ReasonLimitReached
	case adapter.CodeEncryptionTimedOut:
		return ReasonEncryptionTimeout
	case adapter.CodeUnknownDevice:
		return ReasonUnknownDevice
	case adapter.CodeOperationCancelled:
		return ReasonCancelled
	case adapter.CodeConnectionFailed:
		return ReasonFailed
	default:
		return ReasonUnknown
	}
}

// Status is the current value of the connection state machine. It is a plain
// comparable value so callers can assert on transitions with equality.
// Reason and Code are meaningful only when State is StateDisconnected; Phase
// only when State is StateConnecting.
type Status struct {
	State  State
	Phase  Phase
	Reason Reason

	// Code is the native status code behind Reason, kept for diagnostics.
	// ReasonUnknown statuses are distinguishable by it.
	Code int
}

func (s Status) String() string {
	switch s.State {
	case StateConnecting:
		return fmt.Sprintf("connecting(%s)", s.Phase)
	case StateDisconnected:
		if s.Reason != ReasonNone {
			return fmt.Sprintf("disconnected(%s)", s.Reason)
		}
		return "disconnected"
	default:
		return s.State.String()
	}
}

// StatusSignal is a live, replayable view of the connection status: the
// latest value plus all future transitions. Any number of listeners may
// subscribe; a slow listener only loses intermediate transitions, never the
// most recent one. The state machine is the single writer.
type StatusSignal struct {
	mu      sync.RWMutex
	current Status
	subs    map[*ringchan.RingChannel[Status]]struct{}
	buffer  int
}

func newStatusSignal(buffer int) *StatusSignal {
	return &StatusSignal{
		current: Status{State: StateDisconnected},
		subs:    make(map[*ringchan.RingChannel[Status]]struct{}),
		buffer:  buffer,
	}
}

// Current returns the latest status value.
func (sig *StatusSignal) Current() Status {
	sig.mu.RLock()
	defer sig.mu.RUnlock()
	return sig.current
}

// Subscribe returns a channel that immediately receives the current status
// and then every future transition, plus a cancel function that releases the
// subscription and closes the channel.
func (sig *StatusSignal) Subscribe() (<-chan Status, func()) {
	rc := ringchan.New[Status](sig.buffer)

	sig.mu.Lock()
	rc.Send(sig.current)
	sig.subs[rc] = struct{}{}
	sig.mu.Unlock()

	cancel := func() {
		sig.mu.Lock()
		_, ok := sig.subs[rc]
		delete(sig.subs, rc)
		sig.mu.Unlock()
		if ok {
			rc.Close()
		}
	}
	return rc.C(), cancel
}

// set publishes a new status value to all subscribers.
func (sig *StatusSignal) set(s Status) {
	sig.mu.Lock()
	defer sig.mu.Unlock()

	if sig.current == s {
		return
	}
	sig.current = s
	for rc := range sig.subs {
		rc.Send(s)
	}
}
