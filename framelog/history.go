// Package framelog keeps per-frame fence timestamps, such as when a frame was
// rendered, composed, presented and released, and hands them on once every
// fence has resolved.
//
// A History is the receiving side. It learns about fences either directly
// through SetFence or through Deltas produced by another process, and sweeps
// them through one fencetime.Timeline per event. Fully resolved frames are
// drained as Records and written to a Sink.
package framelog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/fencetime"
)

// Frame is a snapshot of one frame's fences. Missing fences are
// fencetime.NoFenceTime().
type Frame struct {
	Number uint64
	Posted int64
	Fences [NumEvents]*fencetime.FenceTime

	// released is set once the Release fence has been provided. No later
	// fence is expected after it.
	released bool
}

// Fence returns the FenceTime for e.
func (f *Frame) Fence(e Event) *fencetime.FenceTime {
	if !e.valid() || f.Fences[e] == nil {
		return fencetime.NoFenceTime()
	}
	return f.Fences[e]
}

// Released reports whether the frame's Release fence has been provided.
func (f *Frame) Released() bool { return f.released }

// resolved reports whether the frame is released and every fence has a
// terminal signal time. It only reads cached values.
func (f *Frame) resolved() bool {
	if !f.released {
		return false
	}
	for e := range Event(NumEvents) {
		if f.Fence(e).CachedSignalTime() == fencetime.SignalTimePending {
			return false
		}
	}
	return true
}

func (f *Frame) record() Record {
	r := Record{Frame: f.Number, Posted: f.Posted}
	for e := range Event(NumEvents) {
		r.Times[e] = f.Fence(e).CachedSignalTime()
	}
	return r
}

// History tracks recent frames and their fences.
//
// History is safe for concurrent use. Fences are never queried while the
// History lock is held.
type History struct {
	mu        sync.Mutex
	frames    []*Frame // ordered by insertion
	maxFrames int
	unflushed []Record

	timelines [NumEvents]*fencetime.Timeline
}

// NewHistory creates an empty History.
func NewHistory(opts ...HistoryOption) *History {
	o := defaultHistoryOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxFrames <= 0 {
		o.maxFrames = DefaultMaxFrames
	}

	h := &History{maxFrames: o.maxFrames}
	for e := range h.timelines {
		h.timelines[e] = fencetime.NewTimeline(fencetime.WithMaxEntries(o.timelineEntries))
	}
	return h
}

// Timelines returns the per-event timelines, indexed by Event, for use with a
// fencetime.Sweeper.
func (h *History) Timelines() []*fencetime.Timeline {
	return h.timelines[:]
}

// Timeline returns the timeline for e.
func (h *History) Timeline(e Event) *fencetime.Timeline {
	if !e.valid() {
		return nil
	}
	return h.timelines[e]
}

// AddFrame starts tracking a frame. acquire may be nil. When the history is
// full the oldest frame is dropped, resolved or not.
func (h *History) AddFrame(number uint64, posted int64, acquire *fencetime.FenceTime) error {
	if acquire == nil {
		acquire = fencetime.NoFenceTime()
	}
	f := &Frame{Number: number, Posted: posted}
	for e := range f.Fences {
		f.Fences[e] = fencetime.NoFenceTime()
	}
	f.Fences[Acquire] = acquire

	h.mu.Lock()
	if h.findLocked(number) != nil {
		h.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrDuplicateFrame, number)
	}
	for len(h.frames) >= h.maxFrames {
		dropped := h.frames[0]
		h.frames = slices.Delete(h.frames, 0, 1)
		fencetime.Logger().Debug("framelog: history full, dropping frame",
			"frame", dropped.Number, "resolved", dropped.resolved())
	}
	h.frames = append(h.frames, f)
	h.mu.Unlock()

	h.timelines[Acquire].Push(acquire)
	return nil
}

// SetFence replaces the FenceTime for e in a frame and queues it for
// resolution.
func (h *History) SetFence(number uint64, e Event, ft *fencetime.FenceTime) error {
	if !e.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownEvent, int(e))
	}
	if ft == nil {
		ft = fencetime.NoFenceTime()
	}

	h.mu.Lock()
	f := h.findLocked(number)
	if f == nil {
		h.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownFrame, number)
	}
	f.Fences[e] = ft
	if e == Release {
		f.released = true
	}
	h.mu.Unlock()

	h.timelines[e].Push(ft)
	return nil
}

// ApplyDelta merges fence updates for a frame. For each event:
//
//   - an empty snapshot leaves the fence alone;
//   - a fence snapshot replaces it with a new FenceTime on that fence;
//   - a signal time snapshot resolves the existing FenceTime if it is valid
//     and replaces it otherwise.
//
// Signal time mismatches are reported but do not stop the remaining events
// from being applied.
func (h *History) ApplyDelta(d Delta) error {
	h.mu.Lock()
	f := h.findLocked(d.Frame)
	if f == nil {
		h.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownFrame, d.Frame)
	}

	var (
		push    [NumEvents]*fencetime.FenceTime
		resolve [NumEvents]*fencetime.FenceTime
	)
	for e := range Event(NumEvents) {
		src := d.Snapshots[e]
		dst := f.Fence(e)
		if e == Release && (src.Kind() == fencetime.SnapshotFence || src.Kind() == fencetime.SnapshotSignalTime) {
			f.released = true
		}
		switch src.Kind() {
		case fencetime.SnapshotEmpty:
		case fencetime.SnapshotFence:
			if dst.IsValid() {
				fencetime.Logger().Warn("framelog: replacing valid fence",
					"frame", d.Frame, "event", e)
			}
			ft := fencetime.New(src.Fence())
			f.Fences[e] = ft
			push[e] = ft
		case fencetime.SnapshotSignalTime:
			if dst.IsValid() {
				resolve[e] = dst
			} else {
				f.Fences[e] = fencetime.NewFromSignalTime(src.SignalTime())
			}
		default:
			fencetime.Logger().Warn("framelog: ignoring snapshot",
				"frame", d.Frame, "event", e, "kind", src.Kind())
		}
	}
	h.mu.Unlock()

	var errs []error
	for e := range Event(NumEvents) {
		if ft := resolve[e]; ft != nil {
			if err := ft.ApplyTrustedSnapshot(d.Snapshots[e]); err != nil {
				errs = append(errs, fmt.Errorf("frame %d %s: %w", d.Frame, e, err))
			}
		}
		if ft := push[e]; ft != nil {
			h.timelines[e].Push(ft)
		}
	}
	return errors.Join(errs...)
}

// UpdateSignalTimes sweeps every event timeline once.
func (h *History) UpdateSignalTimes() {
	for _, tl := range h.timelines {
		tl.UpdateSignalTimes()
	}
}

// Frame returns a copy of the frame with the given number.
func (h *History) Frame(number uint64) (Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f := h.findLocked(number)
	if f == nil {
		return Frame{}, false
	}
	return *f, true
}

// Len returns the number of frames tracked.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.frames)
}

// Drain removes every released frame whose fences have all resolved and
// returns them as Records in insertion order. Fences of released frames are
// queried without the History lock held.
func (h *History) Drain() []Record {
	h.mu.Lock()
	var fences []*fencetime.FenceTime
	for _, f := range h.frames {
		if f.released {
			fences = append(fences, f.Fences[:]...)
		}
	}
	h.mu.Unlock()
	if len(fences) == 0 {
		return nil
	}

	for _, ft := range fences {
		if ft != nil {
			ft.SignalTime()
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var out []Record
	h.frames = slices.DeleteFunc(h.frames, func(f *Frame) bool {
		if !f.resolved() {
			return false
		}
		out = append(out, f.record())
		return true
	})
	return out
}

// Flush drains resolved frames and writes them to sink together with any
// records a previous Flush failed to write. On error the records are kept
// for the next Flush.
func (h *History) Flush(ctx context.Context, sink Sink) (int, error) {
	drained := h.Drain()

	h.mu.Lock()
	records := append(h.unflushed, drained...)
	h.unflushed = nil
	h.mu.Unlock()

	if len(records) == 0 {
		return 0, nil
	}
	if err := sink.WriteRecords(ctx, records); err != nil {
		h.mu.Lock()
		h.unflushed = append(records, h.unflushed...)
		h.mu.Unlock()
		return 0, fmt.Errorf("flush %d records: %w", len(records), err)
	}
	return len(records), nil
}

func (h *History) findLocked(number uint64) *Frame {
	// Recent frames are looked up most often.
	for i := len(h.frames) - 1; i >= 0; i-- {
		if h.frames[i].Number == number {
			return h.frames[i]
		}
	}
	return nil
}
