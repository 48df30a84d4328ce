package memorymap

import (
	"time"

	errors "golang.org/x/xerrors"
)

// Exchange states. An exchange moves Idle → Sent → Acknowledged → Completed,
// or ends early in TimedOut or Cancelled.
type State int

const (
	Idle State = iota
	Sent
	Acknowledged
	Completed
	TimedOut
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sent:
		return "sent"
	case Acknowledged:
		return "acknowledged"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed-out"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Result describes how one Update ended.
type Result struct {
	// Final state: Completed, TimedOut or Cancelled.
	State State

	// Furthest state reached before the exchange ended.
	Reached State

	// Why the frame passed through unmodified; nil when Completed.
	Cause error

	// Exchange number written to the segment header.
	Generation uint32

	// Signals left over from earlier exchanges that were discarded.
	StaleSignals int

	Elapsed time.Duration
}

// PassThrough reports whether the output frame is a copy of the input.
func (r Result) PassThrough() bool {
	return r.State != Completed
}

func stateFor(cause error) State {
	if errors.Is(cause, ErrAckTimeout) || errors.Is(cause, ErrResponseTimeout) {
		return TimedOut
	}
	return Cancelled
}

// An Event is reported to the Observer after every exchange.
type Event struct {
	Segment   string
	Width     int
	Height    int
	Timestamp float64
	Result
}

type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }
