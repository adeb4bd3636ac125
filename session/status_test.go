package session_test

import (
	"time"

	"github.com/srg/gattlink/adapter"
	"github.com/srg/gattlink/session"
)

func (s *SessionTestSuite) TestStatusPhasesAdvanceMonotonically() {
	// GOAL: Verify the connecting phases are published in order and never repeat within one attempt
	//
	// TEST SCENARIO: Subscribe before connecting → collect transitions → exact expected sequence observed

	sub, cancel := s.sess.SubscribeStatus()
	defer cancel()

	// replayed current value
	st := <-sub
	s.Require().Equal(session.Status{State: session.StateDisconnected}, st)

	s.connect()

	want := []session.Status{
		{State: session.StateConnecting, Phase: session.PhaseLinkEstablishing},
		{State: session.StateConnecting, Phase: session.PhaseDiscoveringServices},
		{State: session.StateConnecting, Phase: session.PhaseConfiguringObservations},
		{State: session.StateConnected},
	}
	for _, expected := range want {
		select {
		case got := <-sub:
			s.Assert().Equal(expected, got)
		case <-time.After(2 * time.Second):
			s.Require().FailNow("missing status transition", "expected %s", expected)
		}
	}
}

func (s *SessionTestSuite) TestStatusReplaysCurrentValue() {
	// GOAL: Verify a late subscriber immediately learns the current status
	//
	// TEST SCENARIO: Connect first → subscribe → Connected replayed without any transition happening

	s.connect()

	sub, cancel := s.sess.SubscribeStatus()
	defer cancel()

	select {
	case st := <-sub:
		s.Assert().Equal(session.Status{State: session.StateConnected}, st)
	case <-time.After(time.Second):
		s.FailNow("current status was not replayed")
	}
}

func (s *SessionTestSuite) TestDecodeReason() {
	// GOAL: Verify native disconnect codes decode to the documented reasons

	cases := map[int]session.Reason{
		adapter.CodeNone:                    session.ReasonNormal,
		adapter.CodePeripheralDisconnected:  session.ReasonNormal,
		adapter.CodeOperationCancelled:      session.ReasonCancelled,
		adapter.CodeConnectionTimeout:       session.ReasonTimeout,
		adapter.CodeConnectionFailed:        session.ReasonFailed,
		adapter.CodeConnectionLimitExceeded: session.ReasonLimitReached,
		adapter.CodeUnknownDevice:           session.ReasonUnknownDevice,
		adapter.CodeEncryptionTimedOut:      session.ReasonEncryptionTimeout,
		99:                                  session.ReasonUnknown,
	}
	for code, want := range cases {
		s.Assert().Equal(want, session.DecodeReason(code), "code %d", code)
	}
}

func (s *SessionTestSuite) TestTraceFeed() {
	// GOAL: Verify the diagnostic feed records connection milestones
	//
	// TEST SCENARIO: Drain the trace during a connect → the connect milestones appear in order

	feed := s.sess.Trace()
	s.connect()

	seen := map[string]bool{}
	deadline := time.After(time.Second)
	for !seen["connected"] {
		select {
		case rec := <-feed:
			seen[rec.Event] = true
		case <-deadline:
			s.Require().FailNow("trace never reported connected", "seen: %v", seen)
		}
	}
	s.Assert().True(seen["connect_requested"])
	s.Assert().True(seen["discovering_services"])
}

func (s *SessionTestSuite) TestUnknownReasonsCompareByCode() {
	// GOAL: Verify two different unknown codes yield distinguishable statuses
	//
	// TEST SCENARIO: Drop the link with two unmapped codes in turn → statuses differ only by code

	s.connect()
	s.fake.EmitDisconnect(97)
	first := s.waitStatus(func(st session.Status) bool { return st.State == session.StateDisconnected })

	s.connect()
	s.fake.EmitDisconnect(98)
	second := s.waitStatus(func(st session.Status) bool {
		return st.State == session.StateDisconnected && st.Code != first.Code
	})

	s.Assert().Equal(session.ReasonUnknown, first.Reason)
	s.Assert().Equal(session.ReasonUnknown, second.Reason)
	s.Assert().NotEqual(first, second, "unknown statuses MUST stay distinguishable")
}
