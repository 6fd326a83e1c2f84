// Package fencetime caches the signal times of GPU and display fences.
//
// # Overview
//
// A [Fence] is a one-shot synchronization handle. Asking it when it signaled
// is a blocking system call, so higher layers (frame schedulers, frame timing
// logs) wrap it in a [FenceTime], which queries the fence until the answer is
// known, publishes it once, and then lets go of the fence.
//
//	ft := fencetime.New(f)
//	t := ft.SignalTime() // may block once; later calls are a single atomic load
//
// A [Timeline] observes many FenceTimes without owning them and resolves the
// ones at its front in a single sweep, usually once per frame:
//
//	tl := fencetime.NewTimeline()
//	tl.Push(ft)
//	...
//	tl.UpdateSignalTimes()
//
// # Transfer
//
// [FenceTime.Snapshot] captures either the resolved signal time or the live
// fence. Snapshots flatten to a small binary format (a uint32 kind followed by
// the fence encoding or an int64 signal time) and can be applied back to the
// original FenceTime with [FenceTime.ApplyTrustedSnapshot] once the receiver
// learns the signal time.
//
// Fence snapshots are decoded with the most recently registered
// [FenceFactory]; importing github.com/gogpu/fencetime/syncfence registers the
// Linux sync file implementation.
//
// # Fence implementations
//
//   - syncfence: Linux sync_file descriptors
//   - halfence: fences of a gogpu/wgpu HAL device
//
// # Logging
//
// Nothing is logged by default; see [SetLogger].
package fencetime
