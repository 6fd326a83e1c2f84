package fencetime

import (
	"sync"
	"weak"
)

// DefaultMaxEntries bounds a Timeline. It is large enough that eviction
// only happens when entries stop being swept.
const DefaultMaxEntries = 64

// timelineEntry is one queued FenceTime. seq identifies the push so a sweep
// that drops the front after an unlocked query never drops a newer entry.
type timelineEntry struct {
	ref weak.Pointer[FenceTime]
	seq uint64
}

// Timeline is a bounded FIFO of FenceTimes whose signal times are resolved
// in bulk by UpdateSignalTimes, typically once per frame.
//
// The timeline never keeps a FenceTime alive. Entries whose owners have all
// gone are dropped on the next sweep.
//
// Entries are assumed to signal in push order, so a sweep stops at the first
// entry that is still pending even if later ones could be resolved. Those are
// picked up by a later sweep, by eviction, or by their owners querying them.
//
// Timeline is safe for concurrent use. No lock is held while a FenceTime is
// queried.
type Timeline struct {
	mu      sync.Mutex
	ring    []timelineEntry
	head    int
	count   int
	nextSeq uint64
}

// NewTimeline creates an empty timeline.
func NewTimeline(opts ...TimelineOption) *Timeline {
	o := defaultTimelineOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxEntries <= 0 {
		o.maxEntries = DefaultMaxEntries
	}
	return &Timeline{ring: make([]timelineEntry, o.maxEntries)}
}

// MaxEntries returns the capacity.
func (t *Timeline) MaxEntries() int {
	return len(t.ring)
}

// Len returns the number of queued entries, including lapsed ones that have
// not been swept yet.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Push appends ft. When the timeline is full the oldest entry is evicted
// first; if it is still alive its signal time is queried once more before it
// is forgotten. Callers must not rely on that final query: an evicted
// FenceTime that is still pending stays pending until its owner asks again.
func (t *Timeline) Push(ft *FenceTime) {
	t.mu.Lock()
	var evicted []weak.Pointer[FenceTime]
	for t.count >= len(t.ring) {
		evicted = append(evicted, t.popFrontLocked().ref)
	}
	t.ring[(t.head+t.count)%len(t.ring)] = timelineEntry{ref: weak.Make(ft), seq: t.nextSeq}
	t.nextSeq++
	t.count++
	t.mu.Unlock()

	for _, ref := range evicted {
		front := ref.Value()
		if front == nil {
			continue
		}
		Logger().Debug("fencetime: timeline full, evicting entry", "capacity", len(t.ring))
		front.SignalTime()
	}
}

// UpdateSignalTimes drops entries from the front of the timeline while they
// are either released or resolved, and stops at the first pending one.
func (t *Timeline) UpdateSignalTimes() {
	for {
		t.mu.Lock()
		if t.count == 0 {
			t.mu.Unlock()
			return
		}
		front := t.ring[t.head]
		t.mu.Unlock()

		if ft := front.ref.Value(); ft != nil && ft.SignalTime() == SignalTimePending {
			// Later entries are assumed not to have signaled either.
			return
		}

		t.mu.Lock()
		if t.count > 0 && t.ring[t.head].seq == front.seq {
			t.popFrontLocked()
		}
		t.mu.Unlock()
	}
}

// popFrontLocked removes and returns the oldest entry. t.mu must be held and
// the timeline must not be empty.
func (t *Timeline) popFrontLocked() timelineEntry {
	e := t.ring[t.head]
	t.ring[t.head] = timelineEntry{}
	t.head = (t.head + 1) % len(t.ring)
	t.count--
	return e
}
