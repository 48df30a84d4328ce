package futex

import "github.com/pkg/errors"

var (
	ErrTimedOut     = errors.New("futex: timed out")
	ErrMisaligned   = errors.New("futex: word is not 4-byte aligned")
	ErrNotSupported = errors.New("futex: not supported on this platform")
	ErrSlotTooSmall = errors.New("futex: slot smaller than one word")
)
