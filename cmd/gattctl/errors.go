package main

import (
	"errors"

	"github.com/srg/gattlink/session"
)

// FormatUserError maps internal errors to messages fit for the terminal.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, session.ErrAdapterUnavailable):
		return "Bluetooth adapter is unavailable: is Bluetooth turned on?"
	case errors.Is(err, session.ErrConnectionLost):
		var lost *session.ConnectionLostError
		if errors.As(err, &lost) {
			return "connection lost (" + lost.Reason.String() + ")"
		}
		return "connection lost"
	case errors.Is(err, session.ErrNotReady):
		return "not connected to the device"
	default:
		return err.Error()
	}
}
