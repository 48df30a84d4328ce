//go:build linux

package futex

import (
	"math"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Operations from linux/futex.h. The shared (non-private) forms are required
// because the word is mapped by more than one process.
const (
	futexWait = 0
	futexWake = 1
)

const maxWaiters = math.MaxInt32

// Block while *addr == val, for at most timeout.
func wait(addr *uint32, val uint32, timeout time.Duration) error {
	ts := unix.NsecToTimespec(int64(timeout))
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWait,
		uintptr(val),
		uintptr(unsafe.Pointer(&ts)),
		0,
		0,
	)
	if errno != 0 {
		return errno
	}
	return nil
}

// Wake up to n waiters blocked on addr. Returns the number woken.
func wake(addr *uint32, n int) (int, error) {
	r, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWake,
		uintptr(n),
		0,
		0,
		0,
	)
	if errno != 0 {
		return 0, errno
	}
	return int(r), nil
}

// The value changed before we slept, a signal arrived, or the relative
// timeout expired. In every case the caller re-checks the count and deadline.
func retryable(err error) bool {
	switch err {
	case unix.EAGAIN, unix.EINTR, unix.ETIMEDOUT:
		return true
	}
	return false
}
