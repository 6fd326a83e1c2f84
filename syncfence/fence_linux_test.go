//go:build linux

package syncfence

import (
	"errors"
	"sync"
	"testing"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/gogpu/fencetime"
)

const swSyncPath = "/sys/kernel/debug/sync/sw_sync"

// sw_sync ioctls from drivers/dma-buf/sw_sync.c.
const (
	swSyncIocCreateFence = 0xc0285700 // _IOWR('W', 0, struct sw_sync_create_fence_data)
	swSyncIocInc         = 0x40045701 // _IOW('W', 1, __u32)
)

type swSyncCreateFenceData struct {
	value uint32
	name  [32]byte
	fence int32
}

// swTimeline is a software sync timeline. Fences created on it signal when
// the timeline counter reaches their value.
type swTimeline struct {
	fd int
}

func openTimeline(t *testing.T) *swTimeline {
	t.Helper()
	fd, err := unix.Open(swSyncPath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		t.Skipf("sw_sync unavailable: %v", err)
	}
	t.Cleanup(func() { unix.Close(fd) })
	return &swTimeline{fd: fd}
}

func (tl *swTimeline) fence(t *testing.T, value uint32) *Fence {
	t.Helper()
	data := swSyncCreateFenceData{value: value}
	copy(data.name[:], "fencetest")
	if err := ioctl(tl.fd, swSyncIocCreateFence, unsafe.Pointer(&data)); err != nil {
		t.Fatalf("create fence: %v", err)
	}
	f := New(int(data.fence))
	t.Cleanup(func() { f.Close() })
	return f
}

func (tl *swTimeline) inc(t *testing.T, n uint32) {
	t.Helper()
	if err := ioctl(tl.fd, swSyncIocInc, unsafe.Pointer(&n)); err != nil {
		t.Fatalf("inc timeline: %v", err)
	}
}

func pipe(t *testing.T) (r, w int) {
	t.Helper()
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	return p[0], p[1]
}

func fdOpen(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

func TestSignalTime_NotASyncFile(t *testing.T) {
	r, w := pipe(t)
	defer unix.Close(w)
	f := New(r)
	defer f.Close()

	if !f.IsValid() {
		t.Fatal("IsValid() = false, want true")
	}
	if got := f.SignalTime(); got != fencetime.SignalTimeInvalid {
		t.Errorf("SignalTime() = %d, want invalid", got)
	}
}

func TestClose_ClosesDescriptor(t *testing.T) {
	r, w := pipe(t)
	defer unix.Close(w)
	f := New(r)

	if err := f.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if fdOpen(r) {
		t.Error("descriptor still open after Close")
	}
	if f.IsValid() {
		t.Error("IsValid() = true after Close")
	}
	if err := f.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}

func TestClose_WaitsForSignalTime(t *testing.T) {
	r, w := pipe(t)
	defer unix.Close(w)
	f := New(r)

	entered := make(chan struct{})
	release := make(chan struct{})
	var openDuringQuery bool
	orig := querySignalTime
	querySignalTime = func(fd int) int64 {
		close(entered)
		<-release
		openDuringQuery = fdOpen(fd)
		return fencetime.SignalTimePending
	}
	t.Cleanup(func() { querySignalTime = orig })

	queried := make(chan int64)
	go func() { queried <- f.SignalTime() }()
	<-entered

	closed := make(chan error)
	go func() { closed <- f.Close() }()
	select {
	case err := <-closed:
		t.Fatalf("Close() = %v returned while SignalTime was using the descriptor", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if got := <-queried; got != fencetime.SignalTimePending {
		t.Errorf("SignalTime() = %d, want pending", got)
	}
	if err := <-closed; err != nil {
		t.Errorf("Close() = %v", err)
	}
	if !openDuringQuery {
		t.Error("descriptor was closed during SignalTime")
	}
	if got := f.SignalTime(); got != fencetime.SignalTimeInvalid {
		t.Errorf("SignalTime() after Close = %d, want invalid", got)
	}
}

func TestClose_ConcurrentWithQueries(t *testing.T) {
	for range 50 {
		r, w := pipe(t)
		f := New(r)

		var wg sync.WaitGroup
		for range 4 {
			wg.Go(func() {
				for range 20 {
					f.SignalTime()
					_ = f.Wait(0)
					if d, err := f.Dup(); err == nil {
						d.Close()
					}
				}
			})
		}
		wg.Go(func() { f.Close() })
		wg.Wait()

		if f.IsValid() {
			t.Fatal("IsValid() = true after Close")
		}
		unix.Close(w)
	}
}

// Wait holds its own duplicate, so Close does not block behind it.
func TestClose_DuringWait(t *testing.T) {
	r, w := pipe(t)
	defer unix.Close(w)
	f := New(r)

	waited := make(chan error)
	go func() { waited <- f.Wait(200 * time.Millisecond) }()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	if err := f.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if d := time.Since(start); d > 100*time.Millisecond {
		t.Errorf("Close() took %v while Wait was in progress", d)
	}
	if err := <-waited; err != nil && !errors.Is(err, ErrTimeout) {
		t.Errorf("Wait() = %v, want ErrTimeout", err)
	}
}

func TestWait_Pipe(t *testing.T) {
	r, w := pipe(t)
	defer unix.Close(w)
	f := New(r)
	defer f.Close()

	if err := f.Wait(10 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("Wait(empty pipe) = %v, want ErrTimeout", err)
	}
	if _, err := unix.Write(w, []byte{1}); err != nil {
		t.Fatal(err)
	}
	if err := f.Wait(time.Second); err != nil {
		t.Errorf("Wait(readable pipe) = %v, want nil", err)
	}
}

func TestDup(t *testing.T) {
	r, w := pipe(t)
	defer unix.Close(w)
	f := New(r)
	defer f.Close()

	d, err := f.Dup()
	if err != nil {
		t.Fatalf("Dup() = %v", err)
	}
	defer d.Close()
	if d.Fd() == f.Fd() || !d.IsValid() {
		t.Errorf("Dup() fd = %d, original %d", d.Fd(), f.Fd())
	}
	f.Close()
	if !fdOpen(d.Fd()) {
		t.Error("duplicate closed together with the original")
	}
}

func TestFlattenUnflatten_Descriptor(t *testing.T) {
	r, w := pipe(t)
	defer unix.Close(w)
	src := New(r)
	defer src.Close()

	buf := make([]byte, src.FlattenedSize())
	fds := make([]int, src.FdCount())
	if _, _, err := src.Flatten(buf, fds); err != nil {
		t.Fatalf("Flatten() = %v", err)
	}
	if fds[0] != r {
		t.Fatalf("Flatten() lent fd %d, want %d", fds[0], r)
	}

	// A transport hands the receiver its own copy.
	received, err := unix.Dup(fds[0])
	if err != nil {
		t.Fatal(err)
	}
	dst := New(-1)
	defer dst.Close()
	if _, _, err := dst.Unflatten(buf, []int{received}); err != nil {
		t.Fatalf("Unflatten() = %v", err)
	}
	if dst.Fd() != received {
		t.Errorf("Unflatten() fd = %d, want %d", dst.Fd(), received)
	}
	if _, _, err := dst.Unflatten(buf, []int{received}); !errors.Is(err, fencetime.ErrInvalidOperation) {
		t.Errorf("Unflatten() into a valid fence = %v, want ErrInvalidOperation", err)
	}
}

func TestSWSync_SignalTime(t *testing.T) {
	tl := openTimeline(t)
	f := tl.fence(t, 1)

	if got := f.SignalTime(); got != fencetime.SignalTimePending {
		t.Fatalf("SignalTime() = %d, want pending", got)
	}
	if err := f.Wait(0); !errors.Is(err, ErrTimeout) {
		t.Errorf("Wait(0) = %v, want ErrTimeout", err)
	}

	before := fencetime.Now()
	tl.inc(t, 1)
	got := f.SignalTime()
	if !fencetime.IsValidTimestamp(got) {
		t.Fatalf("SignalTime() = %d, want a timestamp", got)
	}
	if got < before {
		t.Errorf("SignalTime() = %d, before the signal at %d", got, before)
	}
	if err := f.Wait(time.Second); err != nil {
		t.Errorf("Wait() = %v, want nil", err)
	}
}

func TestSWSync_Merge(t *testing.T) {
	tl := openTimeline(t)
	a := tl.fence(t, 1)
	b := tl.fence(t, 2)

	m, err := Merge("merged", a, b)
	if err != nil {
		t.Fatalf("Merge() = %v", err)
	}
	defer m.Close()

	tl.inc(t, 1)
	if got := m.SignalTime(); got != fencetime.SignalTimePending {
		t.Errorf("SignalTime() with one fence signaled = %d, want pending", got)
	}
	tl.inc(t, 1)
	got := m.SignalTime()
	if got != b.SignalTime() {
		t.Errorf("SignalTime() = %d, want the later fence's %d", got, b.SignalTime())
	}
	if got < a.SignalTime() {
		t.Errorf("SignalTime() = %d, earlier than %d", got, a.SignalTime())
	}
}

func TestSWSync_FenceTime(t *testing.T) {
	tl := openTimeline(t)
	ft := fencetime.New(tl.fence(t, 1))

	if got := ft.SignalTime(); got != fencetime.SignalTimePending {
		t.Fatalf("SignalTime() = %d, want pending", got)
	}
	tl.inc(t, 1)
	got := ft.SignalTime()
	if !fencetime.IsValidTimestamp(got) {
		t.Fatalf("SignalTime() = %d, want a timestamp", got)
	}
	if ft.CachedSignalTime() != got {
		t.Errorf("CachedSignalTime() = %d, want %d", ft.CachedSignalTime(), got)
	}
}
