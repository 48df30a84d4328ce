// Package futex implements counting semaphores that live inside a shared
// memory mapping and can be waited on and posted from different processes.
package futex

import (
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/pkg/errors"
)

// SlotSize is the space reserved for one semaphore inside a shared record.
// It matches sizeof(sem_t) on 64-bit Linux; only the first word is used.
const SlotSize = 32

// A Semaphore is a view of a counter word in shared memory. The zero count
// means "not signaled". The Semaphore value itself is not shared; every
// process builds its own view over the same slot.
type Semaphore struct {
	word *uint32
}

// At returns a semaphore view over the first word of slot. The slot must stay
// mapped for as long as the semaphore is used.
func At(slot []byte) (*Semaphore, error) {
	if len(slot) < 4 {
		return nil, ErrSlotTooSmall
	}
	p := unsafe.Pointer(&slot[0])
	if uintptr(p)%4 != 0 {
		return nil, ErrMisaligned
	}
	return &Semaphore{word: (*uint32)(p)}, nil
}

// Init sets the count to zero. Only the owner of the mapping calls it, before
// the segment is advertised to anyone else.
func (s *Semaphore) Init() {
	atomic.StoreUint32(s.word, 0)
}

// Value returns the current count.
func (s *Semaphore) Value() uint32 {
	return atomic.LoadUint32(s.word)
}

// TryWait decrements the count if it is positive, without blocking.
func (s *Semaphore) TryWait() bool {
	for {
		v := atomic.LoadUint32(s.word)
		if v == 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(s.word, v, v-1) {
			return true
		}
	}
}

// Wait decrements the count, blocking until it is positive or until timeout
// has elapsed. The deadline is fixed when Wait is called; spurious wake-ups
// and signal interruptions do not extend it. Returns ErrTimedOut on expiry,
// or the wrapped errno if the underlying wait fails.
func (s *Semaphore) Wait(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if s.TryWait() {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrTimedOut
		}
		if err := wait(s.word, 0, remaining); err != nil && !retryable(err) {
			return errors.Wrap(err, "futex wait")
		}
	}
}

// Post increments the count and wakes one waiter.
func (s *Semaphore) Post() error {
	atomic.AddUint32(s.word, 1)
	if _, err := wake(s.word, 1); err != nil {
		return errors.Wrap(err, "futex wake")
	}
	return nil
}

// Destroy zeroes the count and wakes every waiter, which will then time out.
func (s *Semaphore) Destroy() error {
	atomic.StoreUint32(s.word, 0)
	if _, err := wake(s.word, maxWaiters); err != nil {
		return errors.Wrap(err, "futex wake")
	}
	return nil
}
