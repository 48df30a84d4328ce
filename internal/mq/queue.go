// Package mq wraps a POSIX message queue: a named, kernel-managed FIFO of
// fixed-size messages shared by unrelated processes.
package mq

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/lanikai/memorymap/internal/logging"
)

var log = logging.DefaultLogger.WithTag("mq")

// How long a single blocking receive may sleep before re-checking its context.
const receiveSlice = 100 * time.Millisecond

// Queue attributes, as reported by the kernel.
type Attr struct {
	// Capacity in messages.
	MaxMessages int

	// Maximum message size in bytes. Receive buffers must be at least this large.
	MessageSize int

	// Messages currently queued.
	Current int

	NonBlocking bool
}

// A Queue is one process's handle on a named message queue.
type Queue struct {
	name string
	attr Attr

	mu sync.Mutex
	fd int
}

// Open creates the queue if absent and opens it for reading and writing.
// Sends on the returned handle never block: a full queue yields ErrQueueFull.
// capacity and messageSize only apply when the queue is created; an existing
// queue whose messages are smaller than messageSize is rejected.
func Open(name string, capacity, messageSize int) (*Queue, error) {
	name = normalize(name)
	fd, err := open(name, true, true, Attr{MaxMessages: capacity, MessageSize: messageSize})
	if err != nil {
		return nil, errors.Wrapf(err, "mq_open %s", name)
	}
	q, err := newQueue(name, fd)
	if err != nil {
		return nil, err
	}
	if q.attr.MessageSize < messageSize {
		q.Close()
		return nil, errors.Errorf("mq %s: existing queue carries %d byte messages, need %d",
			name, q.attr.MessageSize, messageSize)
	}
	log.Info("Opened %s (capacity %d, message size %d)", name, q.attr.MaxMessages, q.attr.MessageSize)
	return q, nil
}

// Attach opens an existing queue for a consumer. Receives on the returned
// handle block, bounded by their context.
func Attach(name string) (*Queue, error) {
	name = normalize(name)
	fd, err := open(name, false, false, Attr{})
	if err != nil {
		return nil, errors.Wrapf(err, "mq_open %s", name)
	}
	q, err := newQueue(name, fd)
	if err != nil {
		return nil, err
	}
	log.Debug("Attached to %s", name)
	return q, nil
}

func newQueue(name string, fd int) (*Queue, error) {
	q := &Queue{name: name, fd: fd}
	attr, err := getattr(fd)
	if err != nil {
		closeFD(fd)
		return nil, errors.Wrapf(err, "mq_getattr %s", name)
	}
	q.attr = attr
	return q, nil
}

// Queue names are rooted in the mqueue filesystem.
func normalize(name string) string {
	if !strings.HasPrefix(name, "/") {
		return "/" + name
	}
	return name
}

func (q *Queue) Name() string {
	return q.name
}

// Attr queries the queue's current attributes.
func (q *Queue) Attr() (Attr, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fd < 0 {
		return Attr{}, ErrClosed
	}
	return getattr(q.fd)
}

// Send enqueues msg at the lowest priority.
func (q *Queue) Send(msg []byte) error {
	q.mu.Lock()
	fd := q.fd
	q.mu.Unlock()
	if fd < 0 {
		return ErrClosed
	}
	if err := send(fd, msg); err != nil {
		if isFull(err) {
			return ErrQueueFull
		}
		return errors.Wrapf(err, "mq_send %s", q.name)
	}
	return nil
}

// Receive dequeues the oldest message, waiting until one arrives or ctx is
// done.
func (q *Queue) Receive(ctx context.Context) ([]byte, error) {
	buf := make([]byte, q.attr.MessageSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		q.mu.Lock()
		fd := q.fd
		q.mu.Unlock()
		if fd < 0 {
			return nil, ErrClosed
		}

		n, err := receive(fd, buf, time.Now().Add(receiveSlice))
		switch {
		case err == nil:
			return buf[:n], nil
		case isTimeout(err):
			continue
		case isFull(err):
			// Non-blocking handle with nothing queued.
			select {
			case <-ctx.Done():
			case <-time.After(receiveSlice / 10):
			}
		default:
			return nil, errors.Wrapf(err, "mq_receive %s", q.name)
		}
	}
}

// Close releases this process's handle. The queue itself persists until
// Unlink.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fd < 0 {
		return nil
	}
	err := closeFD(q.fd)
	q.fd = -1
	return errors.Wrapf(err, "close %s", q.name)
}

// Unlink removes a queue name. Messages still queued are discarded once the
// last handle is closed.
func Unlink(name string) error {
	name = normalize(name)
	if err := unlink(name); err != nil {
		return errors.Wrapf(err, "mq_unlink %s", name)
	}
	log.Info("Unlinked %s", name)
	return nil
}
