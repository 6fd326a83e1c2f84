package framelog

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/fencetime"
)

// deltaHeaderSize covers the frame number and posted time.
const deltaHeaderSize = 8 + 8

// Delta carries one frame's fence state to another History. Each event is
// an empty snapshot (nothing new), a fence that is still pending, or its
// resolved signal time.
type Delta struct {
	Frame     uint64
	Posted    int64
	Snapshots [NumEvents]fencetime.Snapshot
}

// NewDelta captures the current state of every fence in f. Events whose
// fence has not been set yet are sent as empty snapshots.
func NewDelta(f Frame) Delta {
	d := Delta{Frame: f.Number, Posted: f.Posted}
	for e := range Event(NumEvents) {
		if ft := f.Fence(e); ft != fencetime.NoFenceTime() {
			d.Snapshots[e] = ft.Snapshot()
		}
	}
	return d
}

// FlattenedSize returns the number of bytes Flatten writes.
func (d *Delta) FlattenedSize() int {
	n := deltaHeaderSize
	for i := range d.Snapshots {
		n += d.Snapshots[i].FlattenedSize()
	}
	return n
}

// FdCount returns the number of descriptors Flatten writes.
func (d *Delta) FdCount() int {
	n := 0
	for i := range d.Snapshots {
		n += d.Snapshots[i].FdCount()
	}
	return n
}

// Flatten writes d to buf and its descriptors to fds, returning the
// unconsumed tails.
func (d *Delta) Flatten(buf []byte, fds []int) ([]byte, []int, error) {
	if len(buf) < d.FlattenedSize() || len(fds) < d.FdCount() {
		return buf, fds, fencetime.ErrNoMemory
	}
	binary.LittleEndian.PutUint64(buf, d.Frame)
	binary.LittleEndian.PutUint64(buf[8:], uint64(d.Posted))
	buf = buf[deltaHeaderSize:]

	var err error
	for e := range Event(NumEvents) {
		if buf, fds, err = d.Snapshots[e].Flatten(buf, fds); err != nil {
			return buf, fds, fmt.Errorf("flatten %s: %w", e, err)
		}
	}
	return buf, fds, nil
}

// Unflatten replaces d with the delta encoded at the start of buf.
func (d *Delta) Unflatten(buf []byte, fds []int) ([]byte, []int, error) {
	if len(buf) < deltaHeaderSize {
		return buf, fds, fencetime.ErrNoMemory
	}
	var out Delta
	out.Frame = binary.LittleEndian.Uint64(buf)
	out.Posted = int64(binary.LittleEndian.Uint64(buf[8:]))
	buf = buf[deltaHeaderSize:]

	var err error
	for e := range Event(NumEvents) {
		if buf, fds, err = out.Snapshots[e].Unflatten(buf, fds); err != nil {
			return buf, fds, fmt.Errorf("unflatten %s: %w", e, err)
		}
	}
	*d = out
	return buf, fds, nil
}

// Encode flattens d into freshly allocated buffers.
func (d *Delta) Encode() ([]byte, []int, error) {
	buf := make([]byte, d.FlattenedSize())
	fds := make([]int, d.FdCount())
	if _, _, err := d.Flatten(buf, fds); err != nil {
		return nil, nil, err
	}
	return buf, fds, nil
}
