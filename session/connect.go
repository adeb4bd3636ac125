package session

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/gattlink/adapter"
	"github.com/srg/gattlink/internal/groutine"
)

// attempt is one in-flight connect attempt. Concurrent Connect callers share
// it: the first caller starts the attempt goroutine, later callers wait on
// done and read the shared outcome.
type attempt struct {
	events    chan adapter.Event
	done      chan struct{}
	err       error
	powerLost chan struct{}
	powerOnce sync.Once
}

func newAttempt() *attempt {
	return &attempt{
		events:    make(chan adapter.Event, 8),
		done:      make(chan struct{}),
		powerLost: make(chan struct{}),
	}
}

func (a *attempt) markPowerLost() {
	a.powerOnce.Do(func() { close(a.powerLost) })
}

// Connect establishes the link, discovers the full service tree, re-arms
// observations and publishes the catalog, then reports Connected. At most
// one attempt runs at a time; concurrent callers join it and receive the
// same outcome. A caller's ctx only abandons that caller's wait, it does not
// abort the shared attempt.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.handle != nil {
		s.mu.Unlock()
		return nil
	}
	att := s.attempt
	if att == nil {
		if s.power != adapter.PoweredOn {
			s.mu.Unlock()
			return ErrAdapterUnavailable
		}
		att = newAttempt()
		s.attempt = att
		s.status.set(Status{State: StateConnecting, Phase: PhaseLinkEstablishing})
		groutine.Go(context.Background(), "session-connect-"+s.id, func(context.Context) {
			s.runAttempt(att)
		})
	}
	s.mu.Unlock()

	select {
	case <-att.done:
		return att.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) runAttempt(att *attempt) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ConnectTimeout)
	defer cancel()

	h, cat, err := s.establish(ctx, att)
	if err != nil {
		s.failAttempt(att, err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.attempt = nil
		s.mu.Unlock()
		if cerr := s.ad.CancelConnection(s.id); cerr != nil && s.log != nil {
			s.log.WithField("error", cerr).Debug("Cancel after close raced the attempt")
		}
		att.err = ErrSessionClosed
		close(att.done)
		return
	}
	s.handle = h
	s.catalog = cat
	s.attempt = nil
	s.mu.Unlock()

	s.status.set(Status{State: StateConnected})
	s.trace.record("connected", s.id)
	if s.log != nil {
		s.log.WithFields(logrus.Fields{
			"device":   s.id,
			"services": len(cat.Services()),
		}).Info("Connected")
	}

	att.err = nil
	close(att.done)

	if s.hooks.OnServicesDiscovered != nil {
		s.hooks.OnServicesDiscovered(s)
	}
}

// establish walks one attempt end to end: link, full discovery, observation
// re-arming. It returns the handle and catalog without publishing them; on
// any error the caller unwinds and nothing is ever visible half-built.
func (s *Session) establish(ctx context.Context, att *attempt) (*handle, *Catalog, error) {
	s.trace.record("connect_requested", s.id)
	if err := s.ad.Connect(s.id); err != nil {
		return nil, nil, &IOError{Op: "connect", Err: err}
	}

link:
	for {
		select {
		case ev := <-att.events:
			switch ev.Kind {
			case adapter.KindConnected:
				break link
			case adapter.KindConnectFailed, adapter.KindDisconnected:
				return nil, nil, &ConnectionLostError{Reason: DecodeReason(ev.Code), Code: ev.Code}
			}
		case <-att.powerLost:
			return nil, nil, ErrAdapterUnavailable
		case <-ctx.Done():
			return nil, nil, &ConnectionLostError{Reason: ReasonTimeout, Code: adapter.CodeConnectionTimeout}
		}
	}

	h := newHandle(s.id, s.ad, s.router, s.log)

	s.status.set(Status{State: StateConnecting, Phase: PhaseDiscoveringServices})
	s.trace.record("discovering_services", s.id)

	if _, err := h.execute(ctx, adapter.KindServicesDiscovered, "discover_services", func() error {
		return s.ad.DiscoverServices(s.id, s.opts.ServiceFilter)
	}); err != nil {
		return nil, nil, err
	}

	for _, svc := range s.ad.Services(s.id) {
		svc := svc
		if _, err := h.execute(ctx, adapter.KindCharacteristicsDiscovered, "discover_characteristics", func() error {
			return s.ad.DiscoverCharacteristics(s.id, svc)
		}); err != nil {
			return nil, nil, err
		}
	}

	for _, svc := range s.ad.Services(s.id) {
		for _, char := range svc.Characteristics {
			char := char
			if _, err := h.execute(ctx, adapter.KindDescriptorsDiscovered, "discover_descriptors", func() error {
				return s.ad.DiscoverDescriptors(s.id, char)
			}); err != nil {
				return nil, nil, err
			}
		}
	}

	cat := newCatalog(s.ad.Services(s.id), s.log)

	s.status.set(Status{State: StateConnecting, Phase: PhaseConfiguringObservations})
	s.trace.record("configuring_observations", s.id)

	if err := s.registry.rearm(func(service, char string) error {
		native, err := cat.resolve(service, char, adapter.PropNotify|adapter.PropIndicate)
		if err != nil {
			return err
		}
		_, err = h.execute(ctx, adapter.KindNotifyStateSet, "enable_notifications", func() error {
			return s.ad.SetNotifyEnabled(s.id, native, true)
		})
		return err
	}); err != nil {
		return nil, nil, err
	}

	s.readiness.set(s.ad.CanWriteWithoutResponse(s.id))

	if s.hooks.OnMTUChanged != nil {
		if mtu := s.ad.MTU(s.id); mtu > 0 {
			s.hooks.OnMTUChanged(mtu)
		}
	}

	return h, cat, nil
}

// failAttempt unwinds a failed attempt. The cancel request is issued
// unconditionally so the stack never keeps a half-open link; only after the
// local state is cleared does the Disconnected status become visible.
func (s *Session) failAttempt(att *attempt, err error) {
	if cerr := s.ad.CancelConnection(s.id); cerr != nil && s.log != nil {
		s.log.WithField("error", cerr).Debug("Cancel after failed attempt")
	}

	select {
	case <-att.powerLost:
		err = ErrAdapterUnavailable
	default:
	}

	s.mu.Lock()
	s.attempt = nil
	s.mu.Unlock()

	s.trace.record("connect_failed", err.Error())
	if s.log != nil {
		s.log.WithFields(logrus.Fields{
			"device": s.id,
			"error":  err,
		}).Warn("Connect attempt failed")
	}
	s.status.set(disconnectStatus(err))

	att.err = err
	close(att.done)
}

// disconnectStatus derives the Disconnected status value for an attempt
// failure.
func disconnectStatus(err error) Status {
	var lost *ConnectionLostError
	switch {
	case errors.As(err, &lost):
		return Status{State: StateDisconnected, Reason: lost.Reason, Code: lost.Code}
	case errors.Is(err, context.DeadlineExceeded):
		return Status{State: StateDisconnected, Reason: ReasonTimeout, Code: adapter.CodeConnectionTimeout}
	case errors.Is(err, context.Canceled):
		return Status{State: StateDisconnected, Reason: ReasonCancelled, Code: adapter.CodeOperationCancelled}
	default:
		return Status{State: StateDisconnected, Reason: ReasonFailed, Code: adapter.CodeConnectionFailed}
	}
}
