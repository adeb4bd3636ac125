package session_test

import (
	"context"
	"sync"
	"time"

	"github.com/srg/gattlink/adapter"
	"github.com/srg/gattlink/internal/testutils"
	"github.com/srg/gattlink/session"
)

func (s *SessionTestSuite) TestConnectLifecycle() {
	// GOAL: Verify a full connect publishes the catalog atomically and ends in Connected
	//
	// TEST SCENARIO: Connect to scripted peripheral → discovery walk completes → catalog exposes services in discovery order

	s.connect()

	cat, err := s.sess.Catalog()
	s.Require().NoError(err, "catalog MUST be available once connected")

	services := cat.Services()
	s.Require().Len(services, 2, "MUST expose both discovered services")
	s.Assert().Equal("180d", services[0].UUID(), "first service MUST keep discovery order")
	s.Assert().Equal("180f", services[1].UUID(), "second service MUST keep discovery order")
	s.Assert().Equal("Heart Rate", services[0].KnownName(), "SIG name MUST resolve")

	char, err := cat.Characteristic("180d", "2a37")
	s.Require().NoError(err)
	s.Assert().Equal("Heart Rate Measurement", char.KnownName())
	s.Assert().True(char.Properties()&adapter.PropNotify != 0, "notify property MUST survive discovery")
	s.Require().Len(char.Descriptors(), 1, "CCCD MUST be discovered")
	s.Assert().Equal([]byte{0x00, 0x00}, char.Descriptors()[0].Value(), "descriptor value MUST be normalized to little-endian bytes")
}

func (s *SessionTestSuite) TestConnectSingleFlight() {
	// GOAL: Verify concurrent Connect callers share one attempt
	//
	// TEST SCENARIO: Five goroutines connect at once → one native connect command → all callers get the same success

	s.fake.ConnectDelay = 50 * time.Millisecond

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			errs[i] = s.sess.Connect(ctx)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		s.Assert().NoError(err, "caller %d MUST share the attempt outcome", i)
	}
	s.Assert().Equal(1, s.fake.ConnectCalls(), "exactly one native connect MUST be issued")
}

func (s *SessionTestSuite) TestConnectAdapterOff() {
	// GOAL: Verify a connect against a powered-off adapter fails fast
	//
	// TEST SCENARIO: Power the adapter off → Connect → ErrAdapterUnavailable without any native command

	fake := testutils.NewFakeAdapter()
	fake.SetPower(adapter.PoweredOff)
	defer fake.Close()

	sess := session.New(fake.Device, fake, session.Options{}, session.Hooks{}, s.th.Logger)
	defer sess.Close()

	err := sess.Connect(context.Background())
	s.Assert().ErrorIs(err, session.ErrAdapterUnavailable)
	s.Assert().Equal(0, fake.ConnectCalls(), "no native connect MUST be issued while powered off")
}

func (s *SessionTestSuite) TestConnectFailureReason() {
	// GOAL: Verify a native connect failure surfaces its decoded reason as a comparable status
	//
	// TEST SCENARIO: Stack rejects with the connection-limit code → Connect fails → status equals the expected value

	s.fake.ConnectFailCode = adapter.CodeConnectionLimitExceeded

	err := s.sess.Connect(context.Background())
	s.Require().Error(err)
	s.Assert().ErrorIs(err, session.ErrConnectionLost)

	var lost *session.ConnectionLostError
	s.Require().ErrorAs(err, &lost)
	s.Assert().Equal(session.ReasonLimitReached, lost.Reason)

	want := session.Status{
		State:  session.StateDisconnected,
		Reason: session.ReasonLimitReached,
		Code:   adapter.CodeConnectionLimitExceeded,
	}
	s.Assert().Equal(want, s.waitStatus(func(st session.Status) bool {
		return st.State == session.StateDisconnected && st.Reason != session.ReasonNone
	}), "status MUST be comparable by plain equality")
}

func (s *SessionTestSuite) TestLinkLossDuringDiscovery() {
	// GOAL: Verify a link drop mid-discovery never publishes a partial catalog
	//
	// TEST SCENARIO: Peripheral disconnects while characteristics are being discovered → Connect fails → catalog stays unavailable

	s.fake.DropLinkDuringDiscovery = true

	err := s.sess.Connect(context.Background())
	s.Require().Error(err, "connect MUST fail when the link drops mid-discovery")
	s.Assert().ErrorIs(err, session.ErrConnectionLost)

	_, err = s.sess.Catalog()
	s.Assert().ErrorIs(err, session.ErrNotReady, "no partial catalog MUST ever be visible")
}

func (s *SessionTestSuite) TestDisconnectAndReconnect() {
	// GOAL: Verify disconnect disposes the handle before Disconnected becomes visible, and the session is reusable
	//
	// TEST SCENARIO: Connect → Disconnect → operations fail not-ready → Connect again succeeds

	s.connect()

	s.Require().NoError(s.sess.Disconnect(context.Background()))
	s.Assert().Equal(session.StateDisconnected, s.sess.Status().State)

	_, err := s.sess.Read(context.Background(), "180f", "2a19")
	s.Assert().ErrorIs(err, session.ErrNotReady, "operations MUST fail after teardown")

	s.connect()
	data, err := s.sess.Read(context.Background(), "180f", "2a19")
	s.Require().NoError(err)
	s.Assert().Equal([]byte{0x63}, data)
}

func (s *SessionTestSuite) TestUnsolicitedDisconnect() {
	// GOAL: Verify an unsolicited link loss tears the session down with the decoded reason
	//
	// TEST SCENARIO: Connect → peripheral times out → status shows the timeout reason → operations fail

	s.connect()

	s.fake.EmitDisconnect(adapter.CodeConnectionTimeout)

	st := s.waitStatus(func(st session.Status) bool { return st.State == session.StateDisconnected })
	s.Assert().Equal(session.ReasonTimeout, st.Reason)
	s.Assert().Equal(adapter.CodeConnectionTimeout, st.Code)

	_, err := s.sess.Read(context.Background(), "180f", "2a19")
	s.Assert().ErrorIs(err, session.ErrNotReady)
}

func (s *SessionTestSuite) TestServiceFilter() {
	// GOAL: Verify the service filter restricts discovery
	//
	// TEST SCENARIO: Session configured for the battery service only → connect → catalog holds exactly that service

	fake := testutils.NewFakeAdapter().
		WithService("180D").
		WithCharacteristic("2A37", "read,notify", []byte{0x00, 0x4b}).
		WithService("180F").
		WithCharacteristic("2A19", "read", []byte{0x63})
	defer fake.Close()

	sess := session.New(fake.Device, fake, session.Options{
		ConnectTimeout: 2 * time.Second,
		ServiceFilter:  []string{"180F"},
	}, session.Hooks{}, s.th.Logger)
	defer sess.Close()

	s.Require().NoError(sess.Connect(context.Background()))

	cat, err := sess.Catalog()
	s.Require().NoError(err)
	s.Require().Len(cat.Services(), 1)
	s.Assert().Equal("180f", cat.Services()[0].UUID())
}

func (s *SessionTestSuite) TestCloseRejectsOperations() {
	// GOAL: Verify a closed session refuses further work
	//
	// TEST SCENARIO: Connect → Close → every entry point fails with ErrSessionClosed

	s.connect()
	s.Require().NoError(s.sess.Close())

	s.Assert().ErrorIs(s.sess.Connect(context.Background()), session.ErrSessionClosed)
	_, err := s.sess.Read(context.Background(), "180f", "2a19")
	s.Assert().ErrorIs(err, session.ErrSessionClosed)
}

func (s *SessionTestSuite) TestConnectHooks() {
	// GOAL: Verify milestone hooks fire on a successful connect
	//
	// TEST SCENARIO: Connect with hooks installed → services-discovered and MTU hooks both fire

	var gotMTU int
	discovered := make(chan struct{}, 1)

	fake := testutils.NewFakeAdapter().
		WithService("180F").
		WithCharacteristic("2A19", "read", []byte{0x63})
	defer fake.Close()

	sess := session.New(fake.Device, fake, session.Options{ConnectTimeout: 2 * time.Second}, session.Hooks{
		OnServicesDiscovered: func(*session.Session) { discovered <- struct{}{} },
		OnMTUChanged:         func(mtu int) { gotMTU = mtu },
	}, s.th.Logger)
	defer sess.Close()

	s.Require().NoError(sess.Connect(context.Background()))

	select {
	case <-discovered:
	case <-time.After(time.Second):
		s.FailNow("services-discovered hook never fired")
	}
	s.Assert().Equal(185, gotMTU, "MTU hook MUST report the negotiated value")
}
