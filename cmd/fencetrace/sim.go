package main

import (
	"encoding/binary"

	"github.com/gogpu/fencetime"
)

const deadlineFactory = "deadline"

// deadlineSize is the flattened int64 deadline.
const deadlineSize = 8

func init() {
	fencetime.RegisterFenceFactory(deadlineFactory, func() fencetime.Fence {
		return &deadlineFence{deadline: -1}
	})
}

// deadlineFence stands in for a GPU or display fence: it signals at a fixed
// point on the fencetime clock.
type deadlineFence struct {
	deadline int64
}

func newDeadlineFence(deadline int64) *deadlineFence {
	return &deadlineFence{deadline: deadline}
}

func (f *deadlineFence) IsValid() bool { return f.deadline >= 0 }

func (f *deadlineFence) SignalTime() int64 {
	if f.deadline < 0 {
		return fencetime.SignalTimeInvalid
	}
	if fencetime.Now() < f.deadline {
		return fencetime.SignalTimePending
	}
	return f.deadline
}

func (f *deadlineFence) FlattenedSize() int { return deadlineSize }

func (f *deadlineFence) FdCount() int { return 0 }

func (f *deadlineFence) Flatten(buf []byte, fds []int) ([]byte, []int, error) {
	if len(buf) < deadlineSize {
		return buf, fds, fencetime.ErrNoMemory
	}
	binary.LittleEndian.PutUint64(buf, uint64(f.deadline))
	return buf[deadlineSize:], fds, nil
}

func (f *deadlineFence) Unflatten(buf []byte, fds []int) ([]byte, []int, error) {
	if f.IsValid() {
		return buf, fds, fencetime.ErrInvalidOperation
	}
	if len(buf) < deadlineSize {
		return buf, fds, fencetime.ErrNoMemory
	}
	f.deadline = int64(binary.LittleEndian.Uint64(buf))
	return buf[deadlineSize:], fds, nil
}
