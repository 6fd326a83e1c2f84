//go:build !linux

package fencetime

// Now returns monotonic nanoseconds since process start. Only Linux exposes
// the kernel clock used by sync file timestamps.
func Now() int64 {
	return sinceStart()
}
