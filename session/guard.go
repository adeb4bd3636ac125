package session

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/gattlink/adapter"
	"github.com/srg/gattlink/internal/bledb"
)

// handle is the connection handle: it exists exactly once per established
// link, is owned by the state machine, and carries the operation serializer.
// The guard mutex is held across native-call-plus-response-wait so two
// callers' commands and responses can never interleave and be mismatched.
type handle struct {
	device string
	ad     adapter.Adapter
	router *router
	log    *logrus.Logger

	guard sync.Mutex
}

func newHandle(device string, ad adapter.Adapter, router *router, log *logrus.Logger) *handle {
	return &handle{device: device, ad: ad, router: router, log: log}
}

// execute runs one GATT command that completes with an event of the given
// kind: it registers the correlation waiter, issues the native call, and
// waits for the next matching event, the loss of the link, or cancellation.
// Cancelling the wait does not cancel the native command; a completion that
// arrives later is simply unobserved.
func (h *handle) execute(ctx context.Context, kind adapter.ResponseKind, op string, call func() error) (adapter.Event, error) {
	h.guard.Lock()
	defer h.guard.Unlock()
	return h.executeLocked(ctx, kind, op, call)
}

func (h *handle) executeLocked(ctx context.Context, kind adapter.ResponseKind, op string, call func() error) (adapter.Event, error) {
	down, lost := h.router.linkSignal()

	wait, err := h.router.await(kind)
	if err != nil {
		return adapter.Event{}, err
	}
	defer h.router.release(kind)

	if h.log != nil {
		h.log.WithFields(logrus.Fields{
			"device": h.device,
			"op":     op,
		}).Debug("GATT operation started")
	}

	if err := call(); err != nil {
		return adapter.Event{}, &IOError{Op: op, Err: err}
	}

	select {
	case ev := <-wait:
		if ev.Err != nil {
			return ev, &IOError{Op: op, Err: ev.Err}
		}
		return ev, nil
	case <-down:
		return adapter.Event{}, lost()
	case <-ctx.Done():
		return adapter.Event{}, ctx.Err()
	}
}

// readValue reads a characteristic. Reads surface through the shared
// value-update feed rather than a dedicated completion kind, so this waits
// for the first value event addressed to the target characteristic, under
// the same mutual exclusion as every other operation.
func (h *handle) readValue(ctx context.Context, char *adapter.Characteristic) ([]byte, error) {
	h.guard.Lock()
	defer h.guard.Unlock()

	down, lost := h.router.linkSignal()

	wait := h.router.awaitValue(bledb.NormalizeUUID(char.UUID))
	defer h.router.releaseValue()

	if h.log != nil {
		h.log.WithFields(logrus.Fields{
			"device": h.device,
			"char":   char.UUID,
		}).Debug("Characteristic read started")
	}

	if err := h.ad.Read(h.device, char); err != nil {
		return nil, &IOError{Op: "read", Err: err}
	}

	select {
	case ev := <-wait:
		if ev.Err != nil {
			return nil, &IOError{Op: "read", Err: ev.Err}
		}
		return ev.Data, nil
	case <-down:
		return nil, lost()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// writeWithoutResponse gates an unacknowledged write on transport readiness
// and issues it, all under the serializer mutex so a second unacknowledged
// write cannot race past the readiness check.
func (h *handle) writeWithoutResponse(ctx context.Context, char *adapter.Characteristic, data []byte, ready *readiness) error {
	h.guard.Lock()
	defer h.guard.Unlock()

	down, lost := h.router.linkSignal()

	resample := func() bool { return h.ad.CanWriteWithoutResponse(h.device) }
	if err := ready.wait(ctx, resample, down, lost); err != nil {
		return err
	}

	if h.log != nil {
		h.log.WithFields(logrus.Fields{
			"device": h.device,
			"char":   char.UUID,
			"bytes":  len(data),
		}).Debug("Write without response issued")
	}

	if err := h.ad.Write(h.device, char, data, adapter.WriteWithoutResponse); err != nil {
		return &IOError{Op: "write_without_response", Err: err}
	}
	return nil
}
