package session_test

import (
	"context"
	"time"

	"github.com/srg/gattlink/session"
)

func (s *SessionTestSuite) awaitEvent(obs *session.Observation) session.ObservationEvent {
	select {
	case ev, ok := <-obs.Events():
		s.Require().True(ok, "observation stream MUST be open")
		return ev
	case <-time.After(2 * time.Second):
		s.Require().FailNow("no observation event arrived")
		return session.ObservationEvent{}
	}
}

func (s *SessionTestSuite) TestObserveDeliversValues() {
	// GOAL: Verify observing arms the native notification flag and delivers value changes
	//
	// TEST SCENARIO: Observe heart rate → peripheral notifies → value arrives on the stream

	s.connect()

	obs, err := s.sess.Observe(context.Background(), "180d", "2a37")
	s.Require().NoError(err)
	defer obs.Cancel()

	s.Assert().True(s.fake.Notifying("2a37"), "first observer MUST arm notifications")

	s.fake.EmitValue("2a37", []byte{0x00, 0x50})

	ev := s.awaitEvent(obs)
	s.Assert().Equal([]byte{0x00, 0x50}, ev.Data)
	s.Assert().False(ev.Disconnected)
}

func (s *SessionTestSuite) TestObserveCapabilityGate() {
	// GOAL: Verify observing a characteristic without notify support fails up front
	//
	// TEST SCENARIO: Observe the battery level (read only) → CapabilityError → notify flag untouched

	s.connect()

	_, err := s.sess.Observe(context.Background(), "180f", "2a19")
	s.Require().Error(err)

	var capErr *session.CapabilityError
	s.Require().ErrorAs(err, &capErr)
	s.Assert().Equal("notify or indicate", capErr.Capability)
	s.Assert().False(s.fake.Notifying("2a19"))
}

func (s *SessionTestSuite) TestObserveDisconnectSignal() {
	// GOAL: Verify every open observation learns about a link loss
	//
	// TEST SCENARIO: Observe → peripheral disconnects → disconnect event with decoded reason on the stream

	s.connect()

	obs, err := s.sess.Observe(context.Background(), "180d", "2a37")
	s.Require().NoError(err)
	defer obs.Cancel()

	s.fake.EmitDisconnect(7) // remote side closed the link

	ev := s.awaitEvent(obs)
	s.Assert().True(ev.Disconnected)
	s.Assert().Equal(session.ReasonNormal, ev.Reason)
}

func (s *SessionTestSuite) TestObservationSurvivesReconnect() {
	// GOAL: Verify observations are re-armed on the next connect and keep delivering
	//
	// TEST SCENARIO: Observe → link lost → reconnect → peripheral notifies → value arrives on the same stream

	s.connect()

	obs, err := s.sess.Observe(context.Background(), "180d", "2a37")
	s.Require().NoError(err)
	defer obs.Cancel()

	s.fake.EmitDisconnect(6)
	ev := s.awaitEvent(obs)
	s.Require().True(ev.Disconnected)
	s.Assert().Equal(session.ReasonTimeout, ev.Reason)

	s.waitStatus(func(st session.Status) bool { return st.State == session.StateDisconnected })
	s.connect()

	s.Assert().True(s.fake.Notifying("2a37"), "registration MUST be re-armed on reconnect")

	s.fake.EmitValue("2a37", []byte{0x00, 0x51})
	ev = s.awaitEvent(obs)
	s.Assert().Equal([]byte{0x00, 0x51}, ev.Data)
}

func (s *SessionTestSuite) TestCancelDisarmsLastObserver() {
	// GOAL: Verify the notify flag is cleared when the last observer detaches
	//
	// TEST SCENARIO: Two observers on one characteristic → cancel one, flag stays → cancel the other, flag clears

	s.connect()

	first, err := s.sess.Observe(context.Background(), "180d", "2a37")
	s.Require().NoError(err)
	second, err := s.sess.Observe(context.Background(), "180d", "2a37")
	s.Require().NoError(err)

	first.Cancel()
	s.Assert().True(s.fake.Notifying("2a37"), "flag MUST stay while an observer remains")

	second.Cancel()
	s.Assert().False(s.fake.Notifying("2a37"), "last detach MUST disarm notifications")
}
