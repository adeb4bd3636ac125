// Package ringchan provides a bounded channel-like buffer with
// overwrite-oldest semantics. Producers never block: when the buffer is full
// the oldest element is discarded. This is the delivery primitive for live
// feeds (status updates, observation events) where a slow consumer must not
// stall the producer and only recent values matter.
package ringchan

import "sync"

// RingChannel wraps a buffered channel and guarantees non-blocking sends.
// Send and Close may be called from different goroutines.
//
//	rc := ringchan.New[int](3)
//	for i := 0; i < 10; i++ {
//	    rc.Send(i) // always succeeds, drops oldest when full
//	}
//	for v := range rc.C() {
//	    // only the most recent values are seen
//	}
type RingChannel[T any] struct {
	mu          sync.Mutex
	ch          chan T
	closed      bool
	overwritten uint64
}

// New creates a RingChannel with the given capacity. Panics if capacity <= 0.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. Consumers can range over it
// until Close.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts an item, discarding the oldest buffered item if full.
// Sends after Close are dropped silently.
func (rc *RingChannel[T]) Send(v T) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return
	}
	for {
		select {
		case rc.ch <- v:
			return
		default:
		}
		select {
		case <-rc.ch: // drop oldest
			rc.overwritten++
		default:
		}
	}
}

// TrySend attempts to insert without displacing anything. Returns false if
// the buffer is full or the channel is closed.
func (rc *RingChannel[T]) TrySend(v T) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return false
	}
	select {
	case rc.ch <- v:
		return true
	default:
		return false
	}
}

// Overwritten reports how many items were discarded to make room.
func (rc *RingChannel[T]) Overwritten() uint64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.overwritten
}

// Close closes the channel exactly once. Buffered items remain readable.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if !rc.closed {
		rc.closed = true
		close(rc.ch)
	}
}
