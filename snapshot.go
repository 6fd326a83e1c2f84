package fencetime

import (
	"encoding/binary"
	"fmt"
)

// SnapshotKind tags the payload of a Snapshot. It is written to the wire as
// a little-endian uint32.
type SnapshotKind uint32

// Snapshot kinds.
const (
	SnapshotEmpty SnapshotKind = iota
	SnapshotFence
	SnapshotSignalTime
)

// Wire sizes.
const (
	kindSize       = 4
	signalTimeSize = 8
)

// String returns a human-readable kind name.
func (k SnapshotKind) String() string {
	switch k {
	case SnapshotEmpty:
		return "Empty"
	case SnapshotFence:
		return "Fence"
	case SnapshotSignalTime:
		return "SignalTime"
	default:
		return fmt.Sprintf("SnapshotKind(%d)", uint32(k))
	}
}

// Snapshot is an immutable capture of a FenceTime for transfer across a
// process boundary. The zero value is an empty snapshot.
type Snapshot struct {
	fence      Fence
	signalTime int64
	kind       SnapshotKind
}

// NewFenceSnapshot returns a snapshot that shares f. A nil f is recorded
// as NoFence.
func NewFenceSnapshot(f Fence) Snapshot {
	if f == nil {
		f = NoFence
	}
	return Snapshot{kind: SnapshotFence, fence: f}
}

// NewSignalTimeSnapshot returns a snapshot that carries a resolved time.
func NewSignalTimeSnapshot(t int64) Snapshot {
	return Snapshot{kind: SnapshotSignalTime, signalTime: t}
}

// Kind returns the snapshot kind.
func (s Snapshot) Kind() SnapshotKind { return s.kind }

// Fence returns the shared fence of a SnapshotFence, nil otherwise.
func (s Snapshot) Fence() Fence { return s.fence }

// SignalTime returns the time carried by a SnapshotSignalTime. Other kinds
// report SignalTimePending.
func (s Snapshot) SignalTime() int64 {
	if s.kind != SnapshotSignalTime {
		return SignalTimePending
	}
	return s.signalTime
}

// FlattenedSize returns the number of bytes Flatten writes. Unknown kinds
// have size zero.
func (s Snapshot) FlattenedSize() int {
	switch s.kind {
	case SnapshotEmpty:
		return kindSize
	case SnapshotFence:
		return kindSize + s.fence.FlattenedSize()
	case SnapshotSignalTime:
		return kindSize + signalTimeSize
	}
	return 0
}

// FdCount returns the number of descriptors Flatten writes. Only fence
// snapshots carry descriptors.
func (s Snapshot) FdCount() int {
	if s.kind == SnapshotFence {
		return s.fence.FdCount()
	}
	return 0
}

// Flatten writes the snapshot to buf and any descriptors to fds, returning
// the unconsumed tails. It returns ErrNoMemory if buf is shorter than
// FlattenedSize; fence payloads may report their own errors.
func (s Snapshot) Flatten(buf []byte, fds []int) ([]byte, []int, error) {
	if len(buf) < s.FlattenedSize() {
		return buf, fds, ErrNoMemory
	}

	switch s.kind {
	case SnapshotEmpty:
		buf = putKind(buf, s.kind)
		return buf, fds, nil
	case SnapshotFence:
		buf = putKind(buf, s.kind)
		return s.fence.Flatten(buf, fds)
	case SnapshotSignalTime:
		buf = putKind(buf, s.kind)
		binary.LittleEndian.PutUint64(buf, uint64(s.signalTime))
		return buf[signalTimeSize:], fds, nil
	}
	return buf, fds, nil
}

// Unflatten replaces s with the snapshot encoded at the start of buf and
// returns the unconsumed tails. Fence snapshots are decoded into a fresh
// fence from the registered factory. An unknown kind consumes only the tag.
func (s *Snapshot) Unflatten(buf []byte, fds []int) ([]byte, []int, error) {
	if len(buf) < kindSize {
		return buf, fds, ErrNoMemory
	}

	kind := SnapshotKind(binary.LittleEndian.Uint32(buf))
	rest := buf[kindSize:]

	switch kind {
	case SnapshotEmpty:
		*s = Snapshot{}
		return rest, fds, nil
	case SnapshotFence:
		f, err := NewFence()
		if err != nil {
			return buf, fds, err
		}
		tail, fdTail, err := f.Unflatten(rest, fds)
		if err != nil {
			return buf, fds, err
		}
		*s = NewFenceSnapshot(f)
		return tail, fdTail, nil
	case SnapshotSignalTime:
		if len(rest) < signalTimeSize {
			return buf, fds, ErrNoMemory
		}
		*s = NewSignalTimeSnapshot(int64(binary.LittleEndian.Uint64(rest)))
		return rest[signalTimeSize:], fds, nil
	}

	*s = Snapshot{kind: kind}
	return rest, fds, nil
}

// EncodeSnapshot flattens s into freshly allocated buffers of exactly the
// required size.
func EncodeSnapshot(s Snapshot) ([]byte, []int, error) {
	buf := make([]byte, s.FlattenedSize())
	fds := make([]int, s.FdCount())
	if _, _, err := s.Flatten(buf, fds); err != nil {
		return nil, nil, fmt.Errorf("encode %s snapshot: %w", s.kind, err)
	}
	return buf, fds, nil
}

// DecodeSnapshot unflattens a single snapshot from buf and fds.
func DecodeSnapshot(buf []byte, fds []int) (Snapshot, error) {
	var s Snapshot
	if _, _, err := s.Unflatten(buf, fds); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

func putKind(buf []byte, k SnapshotKind) []byte {
	binary.LittleEndian.PutUint32(buf, uint32(k))
	return buf[kindSize:]
}
