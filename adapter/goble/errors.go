package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/gattlink/adapter"
)

var (
	// ErrNoConnection is returned when a command targets a peripheral
	// without a live link.
	ErrNoConnection = errors.New("no live connection to peripheral")

	// ErrUnknownAttribute is returned when a command references a service,
	// characteristic or descriptor this adapter never discovered.
	ErrUnknownAttribute = errors.New("attribute not discovered on this connection")

	// ErrBluetoothOff marks stack errors caused by the radio being off.
	ErrBluetoothOff = errors.New("bluetooth is turned off")
)

// normalizeError maps known go-ble error strings to structured errors. The
// upstream library reports most failures as plain strings, so matching stays
// tolerant of small wording changes.
func normalizeError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "is bluetooth turned on"),
		strings.Contains(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case strings.Contains(msg, "not connected"),
		strings.Contains(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNoConnection, err)
	default:
		return err
	}
}

// codeForError derives the native status code reported on a failed dial.
func codeForError(err error) int {
	switch {
	case err == nil:
		return adapter.CodeNone
	case errors.Is(err, context.DeadlineExceeded):
		return adapter.CodeConnectionTimeout
	case errors.Is(err, context.Canceled):
		return adapter.CodeOperationCancelled
	case strings.Contains(strings.ToLower(err.Error()), "unknown device"):
		return adapter.CodeUnknownDevice
	default:
		return adapter.CodeConnectionFailed
	}
}
