package session

import (
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattlink/internal/ringchan"
)

// ObservationEvent is one entry on an observation stream. Exactly one of the
// three shapes is populated: a value update (Data), a transport error tied to
// the characteristic (Err), or a disconnect signal (Disconnected plus Reason)
// broadcast to every open observation when the link drops.
type ObservationEvent struct {
	Data         []byte
	Err          error
	Disconnected bool
	Reason       Reason
}

// Observation is one consumer's live view of a characteristic's value
// changes. The feed does not buffer history: late subscribers only see
// future events. The stream survives reconnects; notifications are re-armed
// against the native stack on every successful connection.
type Observation struct {
	service string
	char    string
	events  *ringchan.RingChannel[ObservationEvent]

	once   sync.Once
	detach func()
}

// Events returns the observation's event stream. The channel is closed by
// Cancel.
func (o *Observation) Events() <-chan ObservationEvent { return o.events.C() }

// Characteristic returns the normalized UUID of the observed characteristic.
func (o *Observation) Characteristic() string { return o.char }

// Cancel detaches this consumer. When the last consumer of a characteristic
// detaches, its native notification flag is disarmed.
func (o *Observation) Cancel() {
	o.once.Do(func() {
		o.detach()
		o.events.Close()
	})
}

// obsEntry is the registration for one characteristic: its consumer set and
// the service it lives under, kept for re-arming after reconnects.
type obsEntry struct {
	service string
	subs    map[*Observation]struct{}
}

// registry multiplexes characteristic value-change events to observers and
// tracks which characteristics need their notification flag armed. The
// characteristic map is a concurrent hashmap so the router's delivery path
// does not contend with subscribe/unsubscribe bookkeeping.
type registry struct {
	log    *logrus.Logger
	buffer int

	entries *hashmap.Map[string, *obsEntry]
	mu      sync.Mutex // guards consumer-set membership within entries
}

func newRegistry(buffer int, log *logrus.Logger) *registry {
	return &registry{
		log:     log,
		buffer:  buffer,
		entries: hashmap.New[string, *obsEntry](),
	}
}

// observe attaches a new consumer to the characteristic. arm is invoked when
// this is the first consumer; an arming failure unwinds the attachment.
func (r *registry) observe(service, char string, arm func() error, disarm func()) (*Observation, error) {
	r.mu.Lock()
	e, ok := r.entries.Get(char)
	if !ok {
		e = &obsEntry{service: service, subs: make(map[*Observation]struct{})}
		r.entries.Set(char, e)
	}
	first := len(e.subs) == 0

	obs := &Observation{
		service: service,
		char:    char,
		events:  ringchan.New[ObservationEvent](r.buffer),
	}
	obs.detach = func() { r.detach(char, obs, disarm) }
	e.subs[obs] = struct{}{}
	r.mu.Unlock()

	if first && arm != nil {
		if err := arm(); err != nil {
			r.detach(char, obs, nil)
			return nil, err
		}
	}

	if r.log != nil {
		r.log.WithFields(logrus.Fields{
			"service": service,
			"char":    char,
			"armed":   first,
		}).Debug("Observation attached")
	}
	return obs, nil
}

func (r *registry) detach(char string, obs *Observation, disarm func()) {
	r.mu.Lock()
	e, ok := r.entries.Get(char)
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(e.subs, obs)
	last := len(e.subs) == 0
	r.mu.Unlock()

	if last && disarm != nil {
		disarm()
	}
}

// deliver routes a value update or a characteristic-scoped transport error
// to every consumer of the characteristic. Unobserved characteristics drop
// the event.
func (r *registry) deliver(char string, data []byte, err error) {
	e, ok := r.entries.Get(char)
	if !ok {
		return
	}

	var ev ObservationEvent
	if err != nil {
		ev = ObservationEvent{Err: err}
	} else {
		ev = ObservationEvent{Data: data}
	}

	r.mu.Lock()
	for obs := range e.subs {
		obs.events.Send(ev)
	}
	r.mu.Unlock()
}

// linkLost broadcasts a disconnect signal to every open observation.
// Registrations survive; they are re-armed on the next connection.
func (r *registry) linkLost(reason Reason) {
	ev := ObservationEvent{Disconnected: true, Reason: reason}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries.Range(func(_ string, e *obsEntry) bool {
		for obs := range e.subs {
			obs.events.Send(ev)
		}
		return true
	})
}

// rearm re-applies the native notification flag for every characteristic
// that still has consumers. Called by the state machine while configuring
// observations during a connect attempt; any failure aborts the attempt.
func (r *registry) rearm(arm func(service, char string) error) error {
	type target struct{ service, char string }
	var targets []target

	r.mu.Lock()
	r.entries.Range(func(char string, e *obsEntry) bool {
		if len(e.subs) > 0 {
			targets = append(targets, target{service: e.service, char: char})
		}
		return true
	})
	r.mu.Unlock()

	for _, t := range targets {
		if err := arm(t.service, t.char); err != nil {
			return err
		}
	}
	return nil
}
