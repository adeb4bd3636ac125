// Package session implements a connection-scoped GATT client core on top of
// an injected native adapter: a single-flight connect state machine, a
// serializer that keeps exactly one GATT command outstanding, an atomically
// published service catalog, a reconnect-surviving observation registry, and
// a readiness gate for unacknowledged writes.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/gattlink/adapter"
	"github.com/srg/gattlink/internal/bledb"
)

// Session is the per-peripheral facade. All methods are safe for concurrent
// use; GATT operations are serialized internally so callers never observe a
// mismatched response.
type Session struct {
	id    string
	ad    adapter.Adapter
	opts  Options
	hooks Hooks
	log   *logrus.Logger

	status    *StatusSignal
	registry  *registry
	readiness *readiness
	router    *router
	trace     *trace

	mu      sync.Mutex
	handle  *handle
	catalog *Catalog
	attempt *attempt
	power   adapter.PowerState
	closed  bool
}

// New builds a session bound to one peripheral and starts its event router.
// The adapter is shared: a session only reacts to events for its own device,
// plus adapter-global power changes.
func New(deviceID string, ad adapter.Adapter, opts Options, hooks Hooks, logger *logrus.Logger) *Session {
	opts = opts.withDefaults()

	s := &Session{
		id:        deviceID,
		ad:        ad,
		opts:      opts,
		hooks:     hooks,
		log:       logger,
		status:    newStatusSignal(opts.StatusBuffer),
		registry:  newRegistry(opts.ObservationBuffer, logger),
		readiness: newReadiness(),
		trace:     newTrace(opts.TraceBuffer),
		power:     ad.State(),
	}

	r := newRouter(deviceID, logger)
	r.onPower = s.onPowerChanged
	r.onConn = s.onConnEvent
	r.registry = s.registry
	r.readiness = s.readiness
	s.router = r
	r.start(ad.Events())

	return s
}

// ID returns the peripheral identifier this session is bound to.
func (s *Session) ID() string { return s.id }

// Status returns the current connection status.
func (s *Session) Status() Status { return s.status.Current() }

// SubscribeStatus returns a channel that replays the current status and then
// delivers every future transition, plus a cancel function.
func (s *Session) SubscribeStatus() (<-chan Status, func()) { return s.status.Subscribe() }

// Trace returns the session's bounded diagnostic feed.
func (s *Session) Trace() <-chan TraceRecord { return s.trace.channel() }

// Catalog returns the service catalog of the live connection. It is
// published atomically on connect and withdrawn on disconnect; there is
// never a partially discovered catalog.
func (s *Session) Catalog() (*Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.catalog == nil {
		return nil, ErrNotReady
	}
	return s.catalog, nil
}

// MTU returns the negotiated ATT MTU of the live connection, or 0.
func (s *Session) MTU() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return 0
	}
	return s.ad.MTU(s.id)
}

// live snapshots the connection handle and catalog, failing when no
// connection is established.
func (s *Session) live() (*handle, *Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, ErrSessionClosed
	}
	if s.handle == nil || s.catalog == nil {
		return nil, nil, ErrNotReady
	}
	return s.handle, s.catalog, nil
}

// Read reads the current value of a characteristic. The characteristic must
// carry the read capability; capability failures are reported before any
// native command is issued.
func (s *Session) Read(ctx context.Context, service, char string) ([]byte, error) {
	h, cat, err := s.live()
	if err != nil {
		return nil, err
	}
	native, err := cat.resolve(service, char, adapter.PropRead)
	if err != nil {
		return nil, err
	}
	return h.readValue(ctx, native)
}

// Write writes data to a characteristic. WriteWithResponse waits for the
// peripheral's acknowledgement; WriteWithoutResponse is gated on transport
// readiness and returns as soon as the stack accepts the payload.
func (s *Session) Write(ctx context.Context, service, char string, data []byte, mode adapter.WriteMode) error {
	h, cat, err := s.live()
	if err != nil {
		return err
	}

	if mode == adapter.WriteWithoutResponse {
		native, err := cat.resolve(service, char, adapter.PropWriteWithoutResponse)
		if err != nil {
			return err
		}
		return h.writeWithoutResponse(ctx, native, data, s.readiness)
	}

	native, err := cat.resolve(service, char, adapter.PropWrite)
	if err != nil {
		return err
	}
	_, err = h.execute(ctx, adapter.KindWriteCompleted, "write", func() error {
		return s.ad.Write(s.id, native, data, adapter.WriteWithResponse)
	})
	return err
}

// ReadDescriptor reads a descriptor's current value and returns it in the
// canonical little-endian byte form.
func (s *Session) ReadDescriptor(ctx context.Context, service, char, descriptor string) ([]byte, error) {
	h, cat, err := s.live()
	if err != nil {
		return nil, err
	}
	desc, err := cat.Descriptor(service, char, descriptor)
	if err != nil {
		return nil, err
	}
	ev, err := h.execute(ctx, adapter.KindDescriptorRead, "read_descriptor", func() error {
		return s.ad.ReadDescriptor(s.id, desc.native)
	})
	if err != nil {
		return nil, err
	}
	return NormalizeDescriptorValue(desc.uuid, ev.Value, s.log), nil
}

// Observe subscribes to value changes of a characteristic that supports
// notifications or indications. The first observer arms the native
// notification flag; the registration survives disconnects and is re-armed
// on the next successful connect.
func (s *Session) Observe(ctx context.Context, service, char string) (*Observation, error) {
	h, cat, err := s.live()
	if err != nil {
		return nil, err
	}
	native, err := cat.resolve(service, char, adapter.PropNotify|adapter.PropIndicate)
	if err != nil {
		return nil, err
	}

	svcKey := bledb.NormalizeUUID(service)
	charKey := bledb.NormalizeUUID(native.UUID)

	arm := func() error {
		_, err := h.execute(ctx, adapter.KindNotifyStateSet, "enable_notifications", func() error {
			return s.ad.SetNotifyEnabled(s.id, native, true)
		})
		return err
	}
	disarm := func() { s.disarmNotify(svcKey, charKey) }

	return s.registry.observe(svcKey, charKey, arm, disarm)
}

// disarmNotify clears the native notification flag after the last observer
// of a characteristic detaches. Best effort: when the link is already gone
// there is nothing to disarm.
func (s *Session) disarmNotify(service, char string) {
	h, cat, err := s.live()
	if err != nil {
		return
	}
	native, err := cat.resolve(service, char, 0)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.DisconnectTimeout)
	defer cancel()
	if _, err := h.execute(ctx, adapter.KindNotifyStateSet, "disable_notifications", func() error {
		return s.ad.SetNotifyEnabled(s.id, native, false)
	}); err != nil && s.log != nil {
		s.log.WithFields(logrus.Fields{
			"device": s.id,
			"char":   char,
			"error":  err,
		}).Debug("Failed to disable notifications")
	}
}

// RSSI reads the signal strength of the live connection.
func (s *Session) RSSI(ctx context.Context) (int, error) {
	h, _, err := s.live()
	if err != nil {
		return 0, err
	}
	ev, err := h.execute(ctx, adapter.KindRSSIRead, "read_rssi", func() error {
		return s.ad.ReadRSSI(s.id)
	})
	if err != nil {
		return 0, err
	}
	return ev.RSSI, nil
}

// onPowerChanged runs on the router goroutine for adapter-global power
// transitions. Power loss aborts an in-flight connect attempt; an
// established link's loss is reported separately by the stack.
func (s *Session) onPowerChanged(p adapter.PowerState) {
	s.mu.Lock()
	s.power = p
	att := s.attempt
	s.mu.Unlock()

	s.trace.record("power_state", p.String())
	if s.log != nil {
		s.log.WithField("state", p).Info("Adapter power state changed")
	}

	if p != adapter.PoweredOn && att != nil {
		att.markPowerLost()
		if err := s.ad.CancelConnection(s.id); err != nil && s.log != nil {
			s.log.WithField("error", err).Debug("Cancel on power loss failed")
		}
	}
}

// onConnEvent runs on the router goroutine for connection lifecycle events.
// During an attempt events are forwarded to the attempt goroutine; an
// unsolicited disconnect on an established link tears the session down.
func (s *Session) onConnEvent(ev adapter.Event) {
	s.mu.Lock()
	att := s.attempt
	s.mu.Unlock()

	if att != nil {
		select {
		case att.events <- ev:
		default:
		}
		return
	}

	if ev.Kind == adapter.KindDisconnected {
		s.handleLinkDown(DecodeReason(ev.Code), ev.Code)
	}
}

// handleLinkDown withdraws the handle and catalog, then publishes the
// Disconnected status. The ordering is deliberate: by the time a status
// listener observes Disconnected no operation can still reach the dead link.
func (s *Session) handleLinkDown(reason Reason, code int) {
	s.mu.Lock()
	if s.handle == nil {
		s.mu.Unlock()
		return
	}
	s.handle = nil
	s.catalog = nil
	s.mu.Unlock()

	s.trace.record("disconnected", reason.String())
	if s.log != nil {
		s.log.WithFields(logrus.Fields{
			"device": s.id,
			"reason": reason,
			"code":   code,
		}).Info("Connection lost")
	}
	s.status.set(Status{State: StateDisconnected, Reason: reason, Code: code})
}

// Disconnect tears the connection down and waits for the adapter to confirm.
// Teardown is never cancelled: ctx only bounds how long the caller waits,
// and after DisconnectTimeout the session forces its own state down even
// when the adapter never confirms.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	idle := s.handle == nil && s.attempt == nil
	if s.handle != nil {
		s.status.set(Status{State: StateDisconnecting})
	}
	s.mu.Unlock()

	if idle {
		return nil
	}

	sub, cancel := s.status.Subscribe()
	defer cancel()

	if err := s.ad.CancelConnection(s.id); err != nil && s.log != nil {
		s.log.WithField("error", err).Warn("Cancel connection request failed")
	}
	s.trace.record("disconnect_requested", s.id)

	timeout, stop := context.WithTimeout(context.Background(), s.opts.DisconnectTimeout)
	defer stop()

	for {
		select {
		case st := <-sub:
			if st.State == StateDisconnected {
				return nil
			}
		case <-timeout.Done():
			s.forceDown()
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// forceDown disposes local connection state without adapter confirmation.
func (s *Session) forceDown() {
	s.mu.Lock()
	disposed := s.handle != nil || s.attempt != nil
	s.handle = nil
	s.catalog = nil
	s.mu.Unlock()

	if disposed {
		if s.log != nil {
			s.log.WithField("device", s.id).Warn("Teardown not confirmed, forcing state down")
		}
		s.readiness.set(false)
	}
	if s.status.Current().State != StateDisconnected {
		s.status.set(Status{State: StateDisconnected, Reason: ReasonNormal, Code: adapter.CodeNone})
	}
}

// Close shuts the session down. The connection, if any, is torn down best
// effort and every subsequent operation fails with ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	active := s.handle != nil || s.attempt != nil
	s.mu.Unlock()

	if active {
		if err := s.ad.CancelConnection(s.id); err != nil && s.log != nil {
			s.log.WithField("error", err).Debug("Cancel on close failed")
		}
	}
	s.forceDown()
	s.trace.record("session_closed", s.id)
	s.trace.close()
	return nil
}

func (s *Session) String() string {
	return fmt.Sprintf("session(%s, %s)", s.id, s.status.Current())
}
