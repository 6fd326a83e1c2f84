package fencetime

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// state is fixed at construction.
type state uint8

const (
	stateValid state = iota
	stateInvalid
	stateForcedValidForTest
)

// FenceTime caches the signal time of a Fence.
//
// The signal time moves from SignalTimePending to a terminal value (a real
// timestamp or SignalTimeInvalid) at most once. The underlying Fence is held
// only while the signal time is pending and is dropped as soon as the
// terminal value is published, so the fence's resources can be reclaimed
// while the FenceTime itself lives on in frame histories and logs.
//
// A *FenceTime is shared by every owner; Timelines observe it through weak
// pointers only. FenceTime is safe for concurrent use and must not be copied.
type FenceTime struct {
	// signalTime is read without the lock on the fast path. Stores happen
	// under mu so the fence handoff and the publication are one step; the
	// atomic makes the stored value visible to lock-free readers (Go atomics
	// are sequentially consistent, which covers the required release store
	// and acquire load).
	signalTime atomic.Int64

	mu sync.Mutex
	// fence is non-nil iff signalTime is pending and state is stateValid.
	fence Fence

	state state
}

// noFenceTime is built eagerly so there is no initialization race.
var noFenceTime = New(NoFence)

// NoFenceTime returns the shared, permanently invalid FenceTime.
func NoFenceTime() *FenceTime {
	return noFenceTime
}

// New wraps f. The result is valid iff f is non-nil and f.IsValid().
func New(f Fence) *FenceTime {
	ft := &FenceTime{state: stateInvalid}
	if f != nil && f.IsValid() {
		ft.state = stateValid
		ft.fence = f
		ft.signalTime.Store(SignalTimePending)
	} else {
		ft.signalTime.Store(SignalTimeInvalid)
	}
	return ft
}

// NewFromSignalTime returns a FenceTime that already knows its signal time.
// It is valid iff t is a real timestamp. A pending t is stored as invalid
// since nothing could ever resolve it.
func NewFromSignalTime(t int64) *FenceTime {
	ft := &FenceTime{state: stateInvalid}
	if IsValidTimestamp(t) {
		ft.state = stateValid
	}
	if t == SignalTimePending {
		t = SignalTimeInvalid
	}
	ft.signalTime.Store(t)
	return ft
}

// NewForTest returns a valid, pending FenceTime with no underlying fence.
// Only SignalForTest or ApplyTrustedSnapshot can resolve it.
func NewForTest() *FenceTime {
	ft := &FenceTime{state: stateForcedValidForTest}
	ft.signalTime.Store(SignalTimePending)
	return ft
}

// SignalForTest resolves a FenceTime created by NewForTest. Like any other
// FenceTime it resolves once; signaling it again with a different time
// returns ErrSignalTimeMismatch.
func (ft *FenceTime) SignalForTest(t int64) error {
	if ft.state != stateForcedValidForTest {
		return ErrNotForTest
	}
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if done, err := ft.compareResolved(t); done {
		return err
	}
	ft.fence = nil
	ft.signalTime.Store(t)
	return nil
}

// IsValid reports the validity decided at construction. It never blocks and
// stays the same after the underlying fence has been released.
func (ft *FenceTime) IsValid() bool {
	return ft.state != stateInvalid
}

// SignalTime returns the signal time, querying the underlying fence if it is
// still pending. The query runs without the lock held. When several
// goroutines race to resolve the same fence, the first terminal result to be
// published wins and later results are discarded.
func (ft *FenceTime) SignalTime() int64 {
	if t := ft.signalTime.Load(); t != SignalTimePending {
		return t
	}

	// Keep our own reference: another goroutine may clear ft.fence while the
	// query runs.
	ft.mu.Lock()
	f := ft.fence
	if f == nil {
		ft.mu.Unlock()
		return ft.signalTime.Load()
	}
	ft.mu.Unlock()

	t := f.SignalTime()
	if t == SignalTimePending {
		return t
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()
	if cached := ft.signalTime.Load(); cached != SignalTimePending {
		return cached
	}
	ft.fence = nil
	ft.signalTime.Store(t)
	return t
}

// CachedSignalTime returns the cached value without querying the fence. It
// may return SignalTimePending.
func (ft *FenceTime) CachedSignalTime() int64 {
	return ft.signalTime.Load()
}

// Snapshot captures the current state for transfer. A resolved FenceTime
// yields a signal time snapshot; a pending one shares its live fence.
func (ft *FenceTime) Snapshot() Snapshot {
	if t := ft.signalTime.Load(); t != SignalTimePending {
		return NewSignalTimeSnapshot(t)
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()
	if t := ft.signalTime.Load(); t != SignalTimePending {
		return NewSignalTimeSnapshot(t)
	}
	if ft.fence == nil {
		// Test fences are pending without a fence to share.
		return Snapshot{}
	}
	return NewFenceSnapshot(ft.fence)
}

// ApplyTrustedSnapshot adopts the signal time carried by src, which must come
// from the same underlying fence. Only signal time snapshots are accepted:
// adopting a fence could change validity, so callers build a new FenceTime
// from fence snapshots instead.
//
// If the signal time is already known the call is a no-op; a differing value
// is reported as ErrSignalTimeMismatch and the cached value is kept. A
// snapshot carrying SignalTimePending resolves nothing and is rejected with
// ErrBadValue; the fence is kept.
func (ft *FenceTime) ApplyTrustedSnapshot(src Snapshot) error {
	if src.Kind() != SnapshotSignalTime {
		Logger().Error("fencetime: trusted snapshot without signal time", "kind", src.Kind())
		return fmt.Errorf("%w: %s", ErrUntrustedSnapshot, src.Kind())
	}
	if src.signalTime == SignalTimePending {
		Logger().Error("fencetime: trusted snapshot carries a pending signal time")
		return fmt.Errorf("%w: pending signal time in trusted snapshot", ErrBadValue)
	}

	if done, err := ft.compareResolved(src.signalTime); done {
		return err
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()
	if done, err := ft.compareResolved(src.signalTime); done {
		return err
	}
	ft.fence = nil
	ft.signalTime.Store(src.signalTime)
	return nil
}

// compareResolved reports whether the signal time is already terminal and,
// if so, whether it disagrees with incoming.
func (ft *FenceTime) compareResolved(incoming int64) (bool, error) {
	cached := ft.signalTime.Load()
	if cached == SignalTimePending {
		return false, nil
	}
	if cached != incoming {
		Logger().Error("fencetime: signal time mismatch", "old", cached, "new", incoming)
		return true, fmt.Errorf("%w: %d (old) != %d (new)", ErrSignalTimeMismatch, cached, incoming)
	}
	return true, nil
}
