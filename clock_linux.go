//go:build linux

package fencetime

import "golang.org/x/sys/unix"

// Now returns the current CLOCK_MONOTONIC time in nanoseconds, the clock
// domain of sync file signal timestamps.
func Now() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return sinceStart()
	}
	return ts.Nano()
}
