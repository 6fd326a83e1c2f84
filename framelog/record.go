package framelog

import (
	"context"
	"time"

	"github.com/gogpu/fencetime"
)

// Record is a frame whose fences have all resolved. Times holds a timestamp
// or fencetime.SignalTimeInvalid per event.
type Record struct {
	Frame  uint64
	Posted int64
	Times  [NumEvents]int64
}

// Latency returns the time from posting to e, and false if e has no valid
// timestamp.
func (r Record) Latency(e Event) (time.Duration, bool) {
	if !e.valid() || !fencetime.IsValidTimestamp(r.Times[e]) {
		return 0, false
	}
	return time.Duration(r.Times[e] - r.Posted), true
}

// Sink persists drained records.
type Sink interface {
	WriteRecords(ctx context.Context, records []Record) error
}
