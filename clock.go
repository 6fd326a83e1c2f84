package fencetime

import "time"

// t0 anchors the portable clock. Readings taken through time.Since use the
// monotonic clock reading embedded in t0.
var t0 = time.Now()

// sinceStart returns monotonic nanoseconds elapsed since process start.
func sinceStart() int64 {
	return int64(time.Since(t0))
}
