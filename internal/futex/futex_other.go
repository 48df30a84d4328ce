//go:build !linux

package futex

import "time"

const maxWaiters = 1 << 30

func wait(addr *uint32, val uint32, timeout time.Duration) error {
	return ErrNotSupported
}

func wake(addr *uint32, n int) (int, error) {
	return 0, ErrNotSupported
}

func retryable(err error) bool {
	return false
}
