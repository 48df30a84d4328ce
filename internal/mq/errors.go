package mq

import "github.com/pkg/errors"

var (
	ErrQueueFull    = errors.New("mq: queue full")
	ErrClosed       = errors.New("mq: queue closed")
	ErrNotSupported = errors.New("mq: POSIX message queues not supported on this platform")
)
