package syncfence

import "errors"

// Package errors.
var (
	// ErrTimeout is returned by Wait when the fence did not signal in time.
	ErrTimeout = errors.New("syncfence: timed out")

	// ErrFenceError is returned by Wait when the fence signaled an error.
	ErrFenceError = errors.New("syncfence: fence in error state")
)
