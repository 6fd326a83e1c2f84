//go:build !linux

package syncfence

import (
	"errors"
	"time"

	"github.com/gogpu/fencetime"
)

// Sync files only exist on Linux. Elsewhere a Fence can still be carried in
// snapshots but never reports a signal time, and descriptors are not closed.

func signalTime(int) int64 { return fencetime.SignalTimeInvalid }

func wait(int, time.Duration) error { return errors.ErrUnsupported }

func merge(string, int, int) (int, error) { return -1, errors.ErrUnsupported }

func dup(int) (int, error) { return -1, errors.ErrUnsupported }

func closeFdErr(int) error { return nil }
