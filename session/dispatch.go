package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/gattlink/adapter"
	"github.com/srg/gattlink/internal/bledb"
	"github.com/srg/gattlink/internal/groutine"
)

// valueWaiter is the single outstanding wait on the characteristic
// value-update feed. Characteristic reads surface through the same native
// channel as notifications, so a read waits here for the first event
// addressed to its characteristic. The serializer mutex guarantees at most
// one waiter exists.
type valueWaiter struct {
	char string // normalized characteristic UUID
	ch   chan adapter.Event
}

// router consumes the adapter's single ordered event stream and fans events
// out to their consumers: the correlation table for awaited operation
// completions, the value waiter, the observation registry, the readiness
// gate, and the state machine's connect/disconnect sink. It is the only
// reader of adapter.Events.
type router struct {
	device string
	log    *logrus.Logger

	mu        sync.Mutex
	pending   map[adapter.ResponseKind]chan adapter.Event
	valueWait *valueWaiter
	linkDown  chan struct{}
	lost      *ConnectionLostError

	// sinks, wired by the session before start
	onPower   func(adapter.PowerState)
	onConn    func(adapter.Event)
	registry  *registry
	readiness *readiness
}

func newRouter(device string, logger *logrus.Logger) *router {
	down := make(chan struct{})
	close(down) // no link yet
	return &router{
		device:   device,
		log:      logger,
		pending:  make(map[adapter.ResponseKind]chan adapter.Event),
		linkDown: down,
		lost:     &ConnectionLostError{Reason: ReasonNormal, Code: adapter.CodeNone},
	}
}

// start launches the routing goroutine. It exits when the adapter closes its
// event stream.
func (r *router) start(events <-chan adapter.Event) {
	groutine.Go(context.Background(), "session-router-"+r.device, func(context.Context) {
		for ev := range events {
			r.route(ev)
		}
		if r.log != nil {
			r.log.WithField("device", r.device).Debug("Adapter event stream closed, router exiting")
		}
	})
}

func (r *router) route(ev adapter.Event) {
	// Power state is adapter-global; everything else is per-peripheral.
	if ev.Kind != adapter.KindPowerState && ev.Device != "" && ev.Device != r.device {
		return
	}
	switch ev.Kind {
	case adapter.KindPowerState:
		if r.onPower != nil {
			r.onPower(ev.Power)
		}

	case adapter.KindConnected:
		r.armLink()
		if r.onConn != nil {
			r.onConn(ev)
		}

	case adapter.KindConnectFailed:
		if r.onConn != nil {
			r.onConn(ev)
		}

	case adapter.KindDisconnected:
		lost := &ConnectionLostError{Reason: DecodeReason(ev.Code), Code: ev.Code}
		r.failLink(lost)
		if r.onConn != nil {
			r.onConn(ev)
		}
		r.readiness.set(false)
		r.registry.linkLost(lost.Reason)

	case adapter.KindValueUpdated:
		char := ""
		if ev.Characteristic != nil {
			char = bledb.NormalizeUUID(ev.Characteristic.UUID)
		}
		r.deliverValue(char, ev)
		r.registry.deliver(char, ev.Data, ev.Err)

	case adapter.KindReadinessChanged:
		r.readiness.set(ev.Ready)

	default:
		r.deliverPending(ev)
	}
}

// armLink installs a fresh link-down signal for a newly established link.
func (r *router) armLink() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.linkDown = make(chan struct{})
	r.lost = nil
}

// failLink records the loss reason and releases every waiter selecting on
// the link-down signal. Idempotent per link.
func (r *router) failLink(lost *ConnectionLostError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.linkDown:
		return // already down
	default:
	}
	r.lost = lost
	close(r.linkDown)
}

// linkSignal returns the current link-down channel and a getter for the loss
// error valid once the channel is closed.
func (r *router) linkSignal() (<-chan struct{}, func() *ConnectionLostError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	down := r.linkDown
	return down, func() *ConnectionLostError {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.lost == nil {
			return &ConnectionLostError{Reason: ReasonNormal, Code: adapter.CodeNone}
		}
		return r.lost
	}
}

// await registers the correlation slot for the next event of the given kind.
// The slot must be registered before the native call is issued so the
// response cannot slip past. The serializer mutex makes double registration
// impossible in practice; it is still reported rather than silently clobbered.
func (r *router) await(kind adapter.ResponseKind) (<-chan adapter.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pending[kind]; exists {
		return nil, fmt.Errorf("response kind %s already has an outstanding waiter", kind)
	}
	ch := make(chan adapter.Event, 1)
	r.pending[kind] = ch
	return ch, nil
}

func (r *router) release(kind adapter.ResponseKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, kind)
}

func (r *router) awaitValue(char string) <-chan adapter.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := &valueWaiter{char: char, ch: make(chan adapter.Event, 1)}
	r.valueWait = w
	return w.ch
}

func (r *router) releaseValue() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.valueWait = nil
}

func (r *router) deliverValue(char string, ev adapter.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.valueWait != nil && r.valueWait.char == char {
		r.valueWait.ch <- ev
		r.valueWait = nil
	}
}

func (r *router) deliverPending(ev adapter.Event) {
	r.mu.Lock()
	ch := r.pending[ev.Kind]
	r.mu.Unlock()

	if ch == nil {
		// Completion of a command whose caller gave up waiting, or an
		// event nobody asked for. Observed but unconsumed.
		if r.log != nil {
			r.log.WithFields(logrus.Fields{
				"device": ev.Device,
				"kind":   ev.Kind.String(),
				"error":  ev.Err,
			}).Debug("Unmatched adapter event")
		}
		return
	}
	select {
	case ch <- ev:
	default:
	}
}
