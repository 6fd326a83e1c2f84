package fencetime

import (
	"encoding/binary"
	"math"
)

// Reserved signal time values. Real timestamps are non-negative readings of
// the monotonic clock and never reach either sentinel.
const (
	// SignalTimePending means the fence has not signaled yet.
	SignalTimePending int64 = math.MaxInt64

	// SignalTimeInvalid means the fence can never report a signal time.
	SignalTimeInvalid int64 = -1
)

// IsValidTimestamp reports whether t is a real signal time rather than one
// of the sentinels.
func IsValidTimestamp(t int64) bool {
	return t >= 0 && t < SignalTimePending
}

// Fence is a one-shot synchronization handle that transitions once from
// pending to signaled.
//
// SignalTime may block in a system call and must therefore never be called
// with a lock held by this package. The flatten methods follow a cursor
// convention: on success they return the unconsumed tails of buf and fds.
type Fence interface {
	// IsValid reports whether the fence refers to a real primitive.
	IsValid() bool

	// SignalTime returns the signal timestamp, SignalTimePending or
	// SignalTimeInvalid.
	SignalTime() int64

	// FlattenedSize is the number of bytes Flatten writes.
	FlattenedSize() int

	// FdCount is the number of auxiliary descriptors Flatten writes.
	FdCount() int

	// Flatten encodes the fence into buf and its descriptors into fds.
	Flatten(buf []byte, fds []int) ([]byte, []int, error)

	// Unflatten decodes a fence previously written by Flatten.
	Unflatten(buf []byte, fds []int) ([]byte, []int, error)
}

// noFenceFlattenedSize matches the descriptor-count header used by sync file
// fences so NoFence decodes as an empty fence on the receiving side.
const noFenceFlattenedSize = 4

// noFence is the process-wide "no fence" value.
type noFence struct{}

// NoFence is an immutable Fence that is never valid.
var NoFence Fence = noFence{}

func (noFence) IsValid() bool      { return false }
func (noFence) SignalTime() int64  { return SignalTimeInvalid }
func (noFence) FlattenedSize() int { return noFenceFlattenedSize }
func (noFence) FdCount() int       { return 0 }

func (noFence) Flatten(buf []byte, fds []int) ([]byte, []int, error) {
	if len(buf) < noFenceFlattenedSize {
		return buf, fds, ErrNoMemory
	}
	binary.LittleEndian.PutUint32(buf, 0)
	return buf[noFenceFlattenedSize:], fds, nil
}

func (noFence) Unflatten(buf []byte, fds []int) ([]byte, []int, error) {
	return buf, fds, ErrInvalidOperation
}
