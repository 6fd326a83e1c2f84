// Package syncfence implements fencetime.Fence on top of Linux sync_file
// descriptors, the fences exchanged between GPU drivers, compositors and
// display controllers.
//
// A Fence owns its descriptor. It is closed by Close or, failing that, once
// the Fence becomes unreachable. Importing this package registers it as the
// fence factory used to decode fence snapshots.
package syncfence

import (
	"encoding/binary"
	"runtime"
	"sync"
	"time"

	"github.com/gogpu/fencetime"
)

// FactoryName is the name under which the package registers its factory.
const FactoryName = "syncfence"

// flattenedSize is the uint32 descriptor count that precedes the descriptor.
const flattenedSize = 4

func init() {
	fencetime.RegisterFenceFactory(FactoryName, func() fencetime.Fence { return New(-1) })
}

// Fence wraps a sync_file descriptor.
//
// Queries hold a read lock across the system call and Close takes the write
// lock, so a descriptor is never used after Close has released it.
type Fence struct {
	mu      sync.RWMutex
	fd      int
	cleanup runtime.Cleanup
}

// querySignalTime reads the signal time of a sync_file descriptor.
var querySignalTime = signalTime

// New takes ownership of fd. A negative fd yields an invalid fence.
func New(fd int) *Fence {
	f := &Fence{fd: -1}
	f.adopt(fd)
	return f
}

// adopt installs fd. f.mu must be held or f unpublished.
func (f *Fence) adopt(fd int) {
	if fd < 0 {
		return
	}
	f.fd = fd
	f.cleanup = runtime.AddCleanup(f, closeFd, fd)
}

// Fd returns the descriptor, or -1. It stays owned by f.
func (f *Fence) Fd() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.fd
}

// IsValid reports whether f holds a descriptor.
func (f *Fence) IsValid() bool {
	return f.Fd() >= 0
}

// SignalTime returns the time at which every fence in the sync file
// signaled, SignalTimePending, or SignalTimeInvalid if the descriptor is
// missing or reports an error.
func (f *Fence) SignalTime() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.fd < 0 {
		return fencetime.SignalTimeInvalid
	}
	return querySignalTime(f.fd)
}

// Wait blocks until the fence signals or timeout elapses. A negative timeout
// waits forever. It returns ErrTimeout on expiry.
//
// Wait polls a private duplicate of the descriptor, so a concurrent Close
// does not have to wait for it.
func (f *Fence) Wait(timeout time.Duration) error {
	fd, err := f.dupFd()
	if err != nil || fd < 0 {
		return err
	}
	defer closeFd(fd)
	return wait(fd, timeout)
}

// Dup returns a Fence owning a duplicate of the descriptor.
func (f *Fence) Dup() (*Fence, error) {
	fd, err := f.dupFd()
	if err != nil {
		return nil, err
	}
	return New(fd), nil
}

// dupFd duplicates the descriptor under the read lock. It returns -1 if f is
// invalid.
func (f *Fence) dupFd() (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.fd < 0 {
		return -1, nil
	}
	return dup(f.fd)
}

// Close releases the descriptor once in-flight queries have finished.
// Closing an invalid fence is a no-op.
func (f *Fence) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fd < 0 {
		return nil
	}
	f.cleanup.Stop()
	err := closeFdErr(f.fd)
	f.fd = -1
	return err
}

// Merge returns a fence that signals once both a and b have signaled. If
// only one is valid a duplicate of it is returned; if neither is, the result
// is invalid.
func Merge(name string, a, b *Fence) (*Fence, error) {
	aValid, bValid := a != nil && a.IsValid(), b != nil && b.IsValid()
	switch {
	case aValid && bValid:
		fd, err := mergeFences(name, a, b)
		if err != nil {
			fencetime.Logger().Warn("syncfence: merge failed", "name", name, "err", err)
			return nil, err
		}
		return New(fd), nil
	case aValid:
		return a.Dup()
	case bValid:
		return b.Dup()
	}
	return New(-1), nil
}

// mergeFences merges a private duplicate of a with b under b's read lock,
// so no two fence locks are held at once.
func mergeFences(name string, a, b *Fence) (int, error) {
	afd, err := a.dupFd()
	if err != nil {
		return -1, err
	}
	if afd < 0 {
		return b.dupFd()
	}
	defer closeFd(afd)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.fd < 0 {
		return dup(afd)
	}
	return merge(name, afd, b.fd)
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

// Flatten writes the descriptor count and lends the descriptor to fds. The
// transport is expected to duplicate it; f keeps ownership.
func (f *Fence) Flatten(buf []byte, fds []int) ([]byte, []int, error) {
	fd := f.Fd()
	n := 0
	if fd >= 0 {
		n = 1
	}
	if len(buf) < flattenedSize || len(fds) < n {
		return buf, fds, fencetime.ErrNoMemory
	}
	binary.LittleEndian.PutUint32(buf, uint32(n))
	if n == 1 {
		fds[0] = fd
	}
	return buf[flattenedSize:], fds[n:], nil
}

// Unflatten takes ownership of the descriptor found in fds. f must not hold
// a descriptor yet.
func (f *Fence) Unflatten(buf []byte, fds []int) ([]byte, []int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fd >= 0 {
		return buf, fds, fencetime.ErrInvalidOperation
	}
	if len(buf) < flattenedSize {
		return buf, fds, fencetime.ErrNoMemory
	}
	n := binary.LittleEndian.Uint32(buf)
	if n > 1 {
		return buf, fds, fencetime.ErrBadValue
	}
	if uint32(len(fds)) < n {
		return buf, fds, fencetime.ErrNoMemory
	}
	if n == 1 {
		f.adopt(fds[0])
	}
	return buf[flattenedSize:], fds[n:], nil
}

// closeFd is the cleanup for unreachable fences.
func closeFd(fd int) {
	_ = closeFdErr(fd)
}
