package session

import (
	"sync"
	"time"

	"github.com/srg/gattlink/internal/ringchan"
)

// TraceRecord is one diagnostic fact about the session, timestamped in
// microseconds since the Unix epoch. Records are plain data so a caller can
// feed them to whatever sink it likes.
type TraceRecord struct {
	TsUs   int64
	Event  string
	Detail string
}

// trace is a bounded diagnostic feed. When no one drains it the oldest
// records are dropped, so recording never blocks the session's hot paths.
type trace struct {
	mu   sync.Mutex
	feed *ringchan.RingChannel[TraceRecord]
}

func newTrace(buffer int) *trace {
	return &trace{feed: ringchan.New[TraceRecord](buffer)}
}

func (t *trace) record(event, detail string) {
	t.feed.Send(TraceRecord{
		TsUs:   time.Now().UnixMicro(),
		Event:  event,
		Detail: detail,
	})
}

func (t *trace) channel() <-chan TraceRecord { return t.feed.C() }

func (t *trace) close() { t.feed.Close() }
