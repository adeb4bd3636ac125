package session

import (
	"errors"
	"fmt"
)

// Sentinel errors. Structured error types below match these through Is so
// callers can classify failures with errors.Is and then extract details with
// errors.As.
var (
	// ErrAdapterUnavailable means the local Bluetooth adapter was not in a
	// powered-on state when the operation required it.
	ErrAdapterUnavailable = errors.New("bluetooth adapter is not powered on")

	// ErrNotReady means a GATT operation was attempted with no live
	// connection handle.
	ErrNotReady = errors.New("device is not connected")

	// ErrConnectionLost means the link dropped during a connection attempt
	// or while an operation was waiting for its response.
	ErrConnectionLost = errors.New("connection lost")

	// ErrSessionClosed means the session was disposed and accepts no
	// further operations.
	ErrSessionClosed = errors.New("session closed")
)

// ConnectionLostError carries the decoded disconnect reason behind
// ErrConnectionLost.
type ConnectionLostError struct {
	Reason Reason
	Code   int
}

func (e *ConnectionLostError) Error() string {
	if e.Reason == ReasonUnknown {
		return fmt.Sprintf("connection lost: unknown status code %d", e.Code)
	}
	return fmt.Sprintf("connection lost: %s", e.Reason)
}

// Is allows errors.Is(err, ErrConnectionLost) to match.
func (e *ConnectionLostError) Is(target error) bool {
	return target == ErrConnectionLost
}

// IOError wraps a native stack error reported for a GATT operation.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// NotFoundError reports a catalog lookup that matched nothing.
type NotFoundError struct {
	Resource string   // "service", "characteristic", "descriptor"
	UUIDs    []string // lookup path, outermost first
}

func (e *NotFoundError) Error() string {
	switch len(e.UUIDs) {
	case 0:
		return fmt.Sprintf("%s not found", e.Resource)
	case 1:
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	default:
		parent := "service"
		if e.Resource == "descriptor" {
			parent = "characteristic"
		}
		return fmt.Sprintf("%s %q not found in %s %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], parent, e.UUIDs[len(e.UUIDs)-2])
	}
}

// CapabilityError reports a catalog lookup that found the target but the
// target lacks the property the operation requires.
type CapabilityError struct {
	Service        string
	Characteristic string
	Capability     string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("characteristic %q in service %q does not support %s", e.Characteristic, e.Service, e.Capability)
}
