// Package halfence adapts a gogpu/wgpu HAL fence to fencetime.Fence.
//
// HAL fences are timeline fences: a fence reaches a value when the GPU work
// submitted with that value completes. The HAL reports completion but not
// when it happened, so a Fence records the first time it observes the value
// reached and reports that as its signal time. Sweeping the owning timeline
// every frame keeps the error below one frame.
//
// HAL fences are local to a device and cannot be sent to another process.
package halfence

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/fencetime"
)

// ErrNotTransferable is returned by Flatten and Unflatten.
var ErrNotTransferable = errors.New("halfence: HAL fences cannot be transferred")

// ErrNoHALDevice is returned by NewFromProvider when the provider does not
// share a HAL device.
var ErrNoHALDevice = errors.New("halfence: provider does not expose a HAL device")

// halProvider is implemented by device providers that share their HAL
// device, such as gogpu's.
type halProvider interface {
	HalDevice() any
}

// Device is the subset of hal.Device used by Fence.
type Device interface {
	Wait(fence hal.Fence, value uint64, timeout time.Duration) (bool, error)
	DestroyFence(fence hal.Fence)
}

// Fence reports when a HAL fence reached a value.
type Fence struct {
	device Device
	fence  hal.Fence
	value  uint64

	mu         sync.Mutex
	signalTime int64
	destroyed  bool
}

// New wraps fence, which signals once it reaches value. Close destroys the
// HAL fence through device.
func New(device Device, fence hal.Fence, value uint64) *Fence {
	return &Fence{
		device:     device,
		fence:      fence,
		value:      value,
		signalTime: fencetime.SignalTimePending,
	}
}

// NewFromProvider wraps fence using the HAL device shared by provider, for
// applications that get their GPU device from gogpu.
func NewFromProvider(provider gpucontext.DeviceProvider, fence hal.Fence, value uint64) (*Fence, error) {
	if provider == nil {
		return nil, ErrNoHALDevice
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHALDevice
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice returned %T", ErrNoHALDevice, hp.HalDevice())
	}
	info := provider.AdapterInfo()
	fencetime.Logger().Debug("halfence: using provider device",
		"adapter", info.Name, "type", info.Type, "value", value)
	return New(device, fence, value), nil
}

// Value returns the fence value waited for.
func (f *Fence) Value() uint64 { return f.value }

// IsValid implements fencetime.Fence.
func (f *Fence) IsValid() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.device != nil && f.fence != nil && !f.destroyed
}

// SignalTime polls the HAL fence without blocking.
func (f *Fence) SignalTime() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.signalTime != fencetime.SignalTimePending {
		return f.signalTime
	}
	if f.device == nil || f.fence == nil || f.destroyed {
		return fencetime.SignalTimeInvalid
	}

	ok, err := f.device.Wait(f.fence, f.value, 0)
	switch {
	case err != nil:
		fencetime.Logger().Warn("halfence: fence wait failed", "value", f.value, "err", err)
		f.signalTime = fencetime.SignalTimeInvalid
	case ok:
		f.signalTime = fencetime.Now()
	}
	return f.signalTime
}

// Wait blocks until the fence reaches its value or timeout elapses. It
// reports whether the value was reached.
func (f *Fence) Wait(timeout time.Duration) (bool, error) {
	f.mu.Lock()
	device, fence, destroyed := f.device, f.fence, f.destroyed
	f.mu.Unlock()
	if device == nil || fence == nil || destroyed {
		return false, fencetime.ErrInvalidOperation
	}

	ok, err := device.Wait(fence, f.value, timeout)
	if err != nil {
		return false, err
	}
	if ok {
		f.mu.Lock()
		if f.signalTime == fencetime.SignalTimePending {
			f.signalTime = fencetime.Now()
		}
		f.mu.Unlock()
	}
	return ok, nil
}

// Close destroys the HAL fence. A signal time already observed is kept;
// otherwise the Fence becomes invalid. Close is idempotent.
func (f *Fence) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed || f.device == nil || f.fence == nil {
		f.destroyed = true
		return
	}
	f.destroyed = true
	f.device.DestroyFence(f.fence)
	f.fence = nil
}

// FlattenedSize implements fencetime.Fence.
func (f *Fence) FlattenedSize() int { return 0 }

// FdCount implements fencetime.Fence.
func (f *Fence) FdCount() int { return 0 }

// Flatten implements fencetime.Fence. It always fails.
func (f *Fence) Flatten(buf []byte, fds []int) ([]byte, []int, error) {
	return buf, fds, ErrNotTransferable
}

// Unflatten implements fencetime.Fence. It always fails.
func (f *Fence) Unflatten(buf []byte, fds []int) ([]byte, []int, error) {
	return buf, fds, ErrNotTransferable
}
