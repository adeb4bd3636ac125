package session_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/srg/gattlink/adapter"
	"github.com/srg/gattlink/session"
)

func (s *SessionTestSuite) TestReadCharacteristic() {
	// GOAL: Verify a characteristic read returns the peripheral's value
	//
	// TEST SCENARIO: Connect → read battery level → scripted value returned

	s.connect()

	data, err := s.sess.Read(context.Background(), "180f", "2a19")
	s.Require().NoError(err)
	s.Assert().Equal([]byte{0x63}, data)
}

func (s *SessionTestSuite) TestReadUnknownCharacteristic() {
	// GOAL: Verify lookups fail with NotFoundError before any native command
	//
	// TEST SCENARIO: Read a characteristic the peripheral does not have → NotFoundError with both UUIDs

	s.connect()

	_, err := s.sess.Read(context.Background(), "180f", "ffff")
	s.Require().Error(err)

	var notFound *session.NotFoundError
	s.Require().ErrorAs(err, &notFound)
	s.Assert().Equal("characteristic", notFound.Resource)
	s.Assert().Equal([]string{"180f", "ffff"}, notFound.UUIDs)
}

func (s *SessionTestSuite) TestWriteWithResponse() {
	// GOAL: Verify an acknowledged write reaches the peripheral and waits for completion
	//
	// TEST SCENARIO: Connect → write control point → payload recorded by the stack

	s.connect()

	err := s.sess.Write(context.Background(), "180d", "2a39", []byte{0x01}, adapter.WriteWithResponse)
	s.Require().NoError(err)

	writes := s.fake.Written("2a39")
	s.Require().Len(writes, 1)
	s.Assert().Equal([]byte{0x01}, writes[0])
}

func (s *SessionTestSuite) TestWriteCapabilityGate() {
	// GOAL: Verify capability failures are reported before any native command is issued
	//
	// TEST SCENARIO: Write to a read-only characteristic → CapabilityError → nothing reached the stack

	s.connect()

	err := s.sess.Write(context.Background(), "180f", "2a19", []byte{0x01}, adapter.WriteWithResponse)
	s.Require().Error(err)

	var capErr *session.CapabilityError
	s.Require().ErrorAs(err, &capErr)
	s.Assert().Equal("2a19", capErr.Characteristic)
	s.Assert().Empty(s.fake.Written("2a19"), "no native write MUST be issued")
}

func (s *SessionTestSuite) TestWriteWithoutResponseReadiness() {
	// GOAL: Verify unacknowledged writes are gated on transport readiness
	//
	// TEST SCENARIO: Transport not ready → write blocks → readiness restored → write proceeds

	s.connect()
	s.fake.SetReady(false)

	// wait for the readiness event to land
	s.Require().Eventually(func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := s.sess.Write(ctx, "180d", "2a39", []byte{0x00}, adapter.WriteWithoutResponse)
		return errors.Is(err, context.DeadlineExceeded)
	}, time.Second, 10*time.Millisecond, "write MUST block while the transport is busy")

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- s.sess.Write(ctx, "180d", "2a39", []byte{0x02}, adapter.WriteWithoutResponse)
	}()

	time.Sleep(50 * time.Millisecond)
	s.fake.SetReady(true)

	select {
	case err := <-done:
		s.Require().NoError(err, "write MUST proceed once the transport drains")
	case <-time.After(2 * time.Second):
		s.FailNow("gated write never completed")
	}

	writes := s.fake.Written("2a39")
	s.Require().NotEmpty(writes)
	s.Assert().Equal([]byte{0x02}, writes[len(writes)-1])
}

func (s *SessionTestSuite) TestOperationSerialization() {
	// GOAL: Verify at most one GATT command is outstanding at any time
	//
	// TEST SCENARIO: Many goroutines mix reads, writes and RSSI queries → the stack never sees two commands at once

	s.connect()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for j := 0; j < 5; j++ {
				switch (i + j) % 3 {
				case 0:
					_, _ = s.sess.Read(ctx, "180f", "2a19")
				case 1:
					_ = s.sess.Write(ctx, "180d", "2a39", []byte{byte(j)}, adapter.WriteWithResponse)
				case 2:
					_, _ = s.sess.RSSI(ctx)
				}
			}
		}(i)
	}
	wg.Wait()

	s.Assert().Equal(1, s.fake.MaxInFlight(), "commands MUST never overlap")
}

func (s *SessionTestSuite) TestReadDescriptor() {
	// GOAL: Verify descriptor reads return canonical little-endian bytes
	//
	// TEST SCENARIO: Read the user-description descriptor → text value normalized to plain bytes

	s.connect()

	data, err := s.sess.ReadDescriptor(context.Background(), "180f", "2a19", "2901")
	s.Require().NoError(err)
	s.Assert().Equal([]byte("Battery Level"), data)
}

func (s *SessionTestSuite) TestRSSI() {
	// GOAL: Verify RSSI queries run through the serializer
	//
	// TEST SCENARIO: Connect → read signal strength → scripted value returned

	s.connect()

	rssi, err := s.sess.RSSI(context.Background())
	s.Require().NoError(err)
	s.Assert().Equal(-60, rssi)
}

func (s *SessionTestSuite) TestOperationsRequireConnection() {
	// GOAL: Verify every operation fails cleanly without a live link
	//
	// TEST SCENARIO: No connection → read, write, observe and RSSI all fail with ErrNotReady

	_, err := s.sess.Read(context.Background(), "180f", "2a19")
	s.Assert().ErrorIs(err, session.ErrNotReady)

	err = s.sess.Write(context.Background(), "180d", "2a39", []byte{0x01}, adapter.WriteWithResponse)
	s.Assert().ErrorIs(err, session.ErrNotReady)

	_, err = s.sess.Observe(context.Background(), "180d", "2a37")
	s.Assert().ErrorIs(err, session.ErrNotReady)

	_, err = s.sess.RSSI(context.Background())
	s.Assert().ErrorIs(err, session.ErrNotReady)
}
