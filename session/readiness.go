package session

import (
	"context"
	"sync"
)

// readiness is the shared write-without-response readiness signal. Native
// buffer-availability callbacks are the single writer (through the router);
// writers of unacknowledged payloads block on it until the transport can
// accept one.
type readiness struct {
	mu      sync.Mutex
	ready   bool
	waiters []chan struct{}
}

func newReadiness() *readiness {
	// Transports start out able to accept a write; the first native
	// callback corrects this if not.
	return &readiness{ready: true}
}

func (r *readiness) set(ready bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ready = ready
	if ready {
		for _, w := range r.waiters {
			close(w)
		}
		r.waiters = nil
	}
}

func (r *readiness) current() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// wait blocks until the transport reports readiness. A stale false value is
// re-sampled from the native flag before suspending; if still unready, the
// caller sleeps until a readiness-changed notification, link loss, or
// cancellation.
func (r *readiness) wait(ctx context.Context, resample func() bool, down <-chan struct{}, lost func() *ConnectionLostError) error {
	r.mu.Lock()
	if r.ready {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if resample != nil && resample() {
		r.set(true)
		return nil
	}

	r.mu.Lock()
	if r.ready {
		r.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	r.waiters = append(r.waiters, w)
	r.mu.Unlock()

	select {
	case <-w:
		return nil
	case <-down:
		return lost()
	case <-ctx.Done():
		return ctx.Err()
	}
}
