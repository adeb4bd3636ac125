package session

import (
	"time"

	"github.com/mcuadros/go-defaults"
)

// Options tunes a session. Zero values are replaced by the struct tag
// defaults, so a caller can set only the fields it cares about.
type Options struct {
	// ConnectTimeout bounds a single connect attempt end to end, including
	// discovery and observation configuration.
	ConnectTimeout time.Duration `default:"10s"`

	// DisconnectTimeout bounds how long Disconnect waits for the adapter to
	// confirm teardown before the session forces its state to Disconnected.
	DisconnectTimeout time.Duration `default:"5s"`

	// ObservationBuffer is the per-observation event buffer. Oldest events
	// are dropped when a consumer falls behind.
	ObservationBuffer int `default:"128"`

	// StatusBuffer is the per-subscriber status buffer.
	StatusBuffer int `default:"16"`

	// TraceBuffer bounds the diagnostic trace feed.
	TraceBuffer int `default:"256"`

	// ServiceFilter restricts service discovery to the listed UUIDs. Empty
	// means discover everything.
	ServiceFilter []string
}

// DefaultOptions returns Options with every field at its default.
func DefaultOptions() Options {
	var o Options
	defaults.SetDefaults(&o)
	return o
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.DisconnectTimeout <= 0 {
		o.DisconnectTimeout = def.DisconnectTimeout
	}
	if o.ObservationBuffer <= 0 {
		o.ObservationBuffer = def.ObservationBuffer
	}
	if o.StatusBuffer <= 0 {
		o.StatusBuffer = def.StatusBuffer
	}
	if o.TraceBuffer <= 0 {
		o.TraceBuffer = def.TraceBuffer
	}
	return o
}

// Hooks are optional callbacks fired on session milestones. They run on the
// session's state machine goroutine, so they must not call back into
// blocking session operations.
type Hooks struct {
	// OnServicesDiscovered fires once per successful connect, after the
	// catalog is published.
	OnServicesDiscovered func(*Session)

	// OnMTUChanged fires when the negotiated MTU becomes known.
	OnMTUChanged func(mtu int)
}
