package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/gattlink/adapter"
	"github.com/srg/gattlink/internal/testutils"
	"github.com/srg/gattlink/session"
)

// SessionTestSuite wires a scripted heart-rate peripheral to a fresh session
// for every test.
type SessionTestSuite struct {
	suite.Suite

	th   *testutils.TestHelper
	fake *testutils.FakeAdapter
	sess *session.Session
}

func (s *SessionTestSuite) SetupTest() {
	s.th = testutils.NewTestHelper(s.T())
	s.fake = testutils.NewFakeAdapter().
		WithService("180D").
		WithCharacteristic("2A37", "read,notify", []byte{0x00, 0x4b}).
		WithDescriptor("2902", adapter.Uint16Value(0)).
		WithCharacteristic("2A39", "write,write_without_response", nil).
		WithService("180F").
		WithCharacteristic("2A19", "read", []byte{0x63}).
		WithDescriptor("2901", adapter.TextValue("Battery Level"))

	s.sess = session.New(s.fake.Device, s.fake, session.Options{
		ConnectTimeout:    2 * time.Second,
		DisconnectTimeout: 500 * time.Millisecond,
	}, session.Hooks{}, s.th.Logger)
}

func (s *SessionTestSuite) TearDownTest() {
	if s.sess != nil {
		_ = s.sess.Close()
	}
	if s.fake != nil {
		s.fake.Close()
	}
}

// connect establishes the link and fails the test if it cannot.
func (s *SessionTestSuite) connect() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Require().NoError(s.sess.Connect(ctx), "connect MUST succeed")
	s.Require().Equal(session.StateConnected, s.sess.Status().State)
}

// waitStatus blocks until the status matches the predicate or the deadline
// expires.
func (s *SessionTestSuite) waitStatus(match func(session.Status) bool) session.Status {
	sub, cancel := s.sess.SubscribeStatus()
	defer cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-sub:
			if match(st) {
				return st
			}
		case <-deadline:
			s.Require().FailNow("status never matched", "last: %s", s.sess.Status())
			return session.Status{}
		}
	}
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}
