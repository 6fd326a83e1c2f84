//go:build linux

package syncfence

import (
	"errors"
	"runtime"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/gogpu/fencetime"
)

// ioctl requests from <linux/sync_file.h>.
const (
	syncIocMerge    = 0xc0303e03 // _IOWR('>', 3, struct sync_merge_data)
	syncIocFileInfo = 0xc0383e04 // _IOWR('>', 4, struct sync_file_info)
)

// syncMergeData mirrors struct sync_merge_data.
type syncMergeData struct {
	name  [32]byte
	fd2   int32
	fence int32
	flags uint32
	pad   uint32
}

// syncFileInfo mirrors struct sync_file_info.
type syncFileInfo struct {
	name          [32]byte
	status        int32
	flags         uint32
	numFences     uint32
	pad           uint32
	syncFenceInfo uint64
}

// syncFenceInfo mirrors struct sync_fence_info.
type syncFenceInfo struct {
	objName     [32]byte
	driverName  [32]byte
	status      int32
	flags       uint32
	timestampNs uint64
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// fileInfo returns the sync file status and the per-fence records. The first
// ioctl reports how many fences the file holds, the second fills them in.
func fileInfo(fd int) (int32, []syncFenceInfo, error) {
	var info syncFileInfo
	if err := ioctl(fd, syncIocFileInfo, unsafe.Pointer(&info)); err != nil {
		return 0, nil, err
	}
	if info.numFences == 0 {
		return info.status, nil, nil
	}

	fences := make([]syncFenceInfo, info.numFences)
	full := syncFileInfo{
		numFences:     info.numFences,
		syncFenceInfo: uint64(uintptr(unsafe.Pointer(&fences[0]))),
	}
	err := ioctl(fd, syncIocFileInfo, unsafe.Pointer(&full))
	runtime.KeepAlive(fences)
	if err != nil {
		return 0, nil, err
	}
	return full.status, fences[:full.numFences], nil
}

func signalTime(fd int) int64 {
	status, fences, err := fileInfo(fd)
	if err != nil {
		fencetime.Logger().Warn("syncfence: sync file info failed", "fd", fd, "err", err)
		return fencetime.SignalTimeInvalid
	}
	if status != 1 {
		if status < 0 {
			fencetime.Logger().Warn("syncfence: fence in error state", "fd", fd, "status", status)
			return fencetime.SignalTimeInvalid
		}
		return fencetime.SignalTimePending
	}

	// The file signaled when its last fence did.
	var ts uint64
	for i := range fences {
		ts = max(ts, fences[i].timestampNs)
	}
	return int64(ts)
}

func wait(fd int, timeout time.Duration) error {
	ms := -1
	if timeout >= 0 {
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(pfd, ms)
		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrTimeout
		}
		if pfd[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			return ErrFenceError
		}
		return nil
	}
}

func merge(name string, fd1, fd2 int) (int, error) {
	data := syncMergeData{fd2: int32(fd2)}
	copy(data.name[:len(data.name)-1], name)
	if err := ioctl(fd1, syncIocMerge, unsafe.Pointer(&data)); err != nil {
		return -1, err
	}
	return int(data.fence), nil
}

func dup(fd int) (int, error) {
	return unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
}

func closeFdErr(fd int) error {
	return unix.Close(fd)
}
