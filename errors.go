package fencetime

import "errors"

// Package errors.
var (
	// ErrNoMemory is returned when a flatten or unflatten buffer is too
	// small. The caller may retry with a larger buffer.
	ErrNoMemory = errors.New("fencetime: insufficient buffer space")

	// ErrBadValue is returned when decoded data is out of range.
	ErrBadValue = errors.New("fencetime: bad value")

	// ErrInvalidOperation is returned when an operation does not apply to
	// the receiver, e.g. unflattening into a fence that is already set.
	ErrInvalidOperation = errors.New("fencetime: invalid operation")

	// ErrUntrustedSnapshot is returned by ApplyTrustedSnapshot for any
	// snapshot that does not carry a signal time.
	ErrUntrustedSnapshot = errors.New("fencetime: snapshot does not carry a signal time")

	// ErrSignalTimeMismatch is returned by ApplyTrustedSnapshot when the
	// cached signal time differs from the snapshot. The cached value is kept.
	ErrSignalTimeMismatch = errors.New("fencetime: signal time mismatch")

	// ErrNoFenceFactory is returned when a fence snapshot is decoded and no
	// fence factory is registered.
	ErrNoFenceFactory = errors.New("fencetime: no fence factory registered")

	// ErrNotForTest is returned by SignalForTest on a FenceTime that was not
	// created with NewForTest.
	ErrNotForTest = errors.New("fencetime: fence time was not created for test")
)
