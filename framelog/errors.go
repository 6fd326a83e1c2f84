package framelog

import "errors"

// Package errors.
var (
	// ErrUnknownFrame is returned when a frame is not in the history, either
	// because it was never added or because it was evicted or drained.
	ErrUnknownFrame = errors.New("framelog: unknown frame")

	// ErrDuplicateFrame is returned by AddFrame for a frame number already
	// in the history.
	ErrDuplicateFrame = errors.New("framelog: duplicate frame")

	// ErrUnknownEvent is returned for an Event outside [0, NumEvents).
	ErrUnknownEvent = errors.New("framelog: unknown event")
)
