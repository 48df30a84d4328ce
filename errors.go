package memorymap

import (
	"fmt"

	errors "golang.org/x/xerrors"
)

// Per-frame failure causes. None of these escape Update as an error; they are
// reported in Result.Cause and the frame passes through unmodified.
var (
	ErrSendFailure     = errors.New("memorymap: descriptor could not be queued")
	ErrAckTimeout      = errors.New("memorymap: processor did not acknowledge in time")
	ErrResponseTimeout = errors.New("memorymap: processor did not respond in time")
	ErrSystemWait      = errors.New("memorymap: semaphore wait failed")
)

// Caller errors.
var (
	ErrFrameSize      = errors.New("memorymap: frame size does not match instance geometry")
	ErrInstanceClosed = errors.New("memorymap: instance destructed")
	ErrPluginClosed   = errors.New("memorymap: plugin closed")
	ErrNoSuchParam    = errors.New("memorymap: filter has no parameters")
)

// An AllocationError means a shared segment for a new instance could not be
// created, sized or mapped. No resources remain allocated.
type AllocationError struct {
	Width  int
	Height int
	Err    error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("memorymap: allocating %dx%d segment: %v", e.Width, e.Height, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// A ChannelError means the notification queue could not be opened.
type ChannelError struct {
	Name string
	Err  error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("memorymap: opening notification channel %s: %v", e.Name, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }
