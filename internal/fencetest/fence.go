// Package fencetest provides a controllable Fence for tests.
//
// The wire format matches syncfence: a uint32 descriptor count (0 or 1)
// followed by the descriptor in the fds slice. Descriptors are plain numbers
// here and are never opened or closed.
package fencetest

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gogpu/fencetime"
)

// FactoryName is the registry name used by Register.
const FactoryName = "fencetest"

// flattenedSize is the descriptor-count header.
const flattenedSize = 4

// Fence is a fake fence whose signal time is set by the test.
type Fence struct {
	mu         sync.Mutex
	signalTime int64
	queryFunc  func(n int64) int64
	gate       chan struct{}
	fd         int

	queries atomic.Int64
}

// New returns a valid, pending fence carrying descriptor fd.
func New(fd int) *Fence {
	return &Fence{fd: fd, signalTime: fencetime.SignalTimePending}
}

// NewSignaled returns a valid fence that has already signaled at t.
func NewSignaled(fd int, t int64) *Fence {
	return &Fence{fd: fd, signalTime: t}
}

// NewInvalid returns a fence without a descriptor.
func NewInvalid() *Fence {
	return &Fence{fd: -1, signalTime: fencetime.SignalTimeInvalid}
}

// Register installs the fencetest factory for the duration of the test.
func Register(tb testing.TB) {
	tb.Helper()
	fencetime.RegisterFenceFactory(FactoryName, func() fencetime.Fence {
		return &Fence{fd: -1, signalTime: fencetime.SignalTimeInvalid}
	})
	tb.Cleanup(func() { fencetime.UnregisterFenceFactory(FactoryName) })
}

// Signal sets the value reported by later queries.
func (f *Fence) Signal(t int64) {
	f.mu.Lock()
	f.signalTime = t
	f.mu.Unlock()
}

// SetQueryFunc makes the n-th query (starting at 1) return fn(n).
func (f *Fence) SetQueryFunc(fn func(n int64) int64) {
	f.mu.Lock()
	f.queryFunc = fn
	f.mu.Unlock()
}

// Block makes every query wait until the returned function is called.
func (f *Fence) Block() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Queries returns how many times SignalTime was called.
func (f *Fence) Queries() int64 {
	return f.queries.Load()
}

// Fd returns the descriptor, or -1.
func (f *Fence) Fd() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fd
}

// IsValid implements fencetime.Fence.
func (f *Fence) IsValid() bool {
	return f.Fd() >= 0
}

// SignalTime implements fencetime.Fence.
func (f *Fence) SignalTime() int64 {
	n := f.queries.Add(1)

	f.mu.Lock()
	gate, fn, t, fd := f.gate, f.queryFunc, f.signalTime, f.fd
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fd < 0 {
		return fencetime.SignalTimeInvalid
	}
	if fn != nil {
		return fn(n)
	}
	return t
}

// FlattenedSize implements fencetime.Fence.
func (f *Fence) FlattenedSize() int { return flattenedSize }

// FdCount implements fencetime.Fence.
func (f *Fence) FdCount() int {
	if f.IsValid() {
		return 1
	}
	return 0
}

// Flatten implements fencetime.Fence.
func (f *Fence) Flatten(buf []byte, fds []int) ([]byte, []int, error) {
	n := f.FdCount()
	if len(buf) < flattenedSize || len(fds) < n {
		return buf, fds, fencetime.ErrNoMemory
	}
	binary.LittleEndian.PutUint32(buf, uint32(n))
	if n == 1 {
		fds[0] = f.Fd()
	}
	return buf[flattenedSize:], fds[n:], nil
}

// Unflatten implements fencetime.Fence. A decoded fence is pending.
func (f *Fence) Unflatten(buf []byte, fds []int) ([]byte, []int, error) {
	if f.IsValid() {
		return buf, fds, fencetime.ErrInvalidOperation
	}
	if len(buf) < flattenedSize {
		return buf, fds, fencetime.ErrNoMemory
	}
	n := int(binary.LittleEndian.Uint32(buf))
	if n > 1 {
		return buf, fds, fencetime.ErrBadValue
	}
	if len(fds) < n {
		return buf, fds, fencetime.ErrNoMemory
	}
	if n == 1 {
		f.mu.Lock()
		f.fd = fds[0]
		f.signalTime = fencetime.SignalTimePending
		f.mu.Unlock()
	}
	return buf[flattenedSize:], fds[n:], nil
}
