package memorymap

import (
	"sync"

	"github.com/lanikai/memorymap/internal/mq"
	"github.com/lanikai/memorymap/internal/shm"
)

// A Channel is the notification queue on which descriptors are announced. It
// is shared by every instance of a Plugin and reference counted: the queue is
// closed and its name removed when the last holder releases it.
type Channel struct {
	name  string
	queue *mq.Queue

	mu    sync.Mutex
	count int
}

// OpenChannel creates the queue if absent and opens it. The caller holds the
// first reference.
func OpenChannel(name string, capacity int) (*Channel, error) {
	q, err := mq.Open(name, capacity, shm.DescriptorSize)
	if err != nil {
		return nil, &ChannelError{Name: name, Err: err}
	}
	return &Channel{name: q.Name(), queue: q, count: 1}, nil
}

func (c *Channel) Name() string {
	return c.name
}

// Send enqueues an encoded descriptor without blocking.
func (c *Channel) Send(msg []byte) error {
	return c.queue.Send(msg)
}

// Hold takes another reference. It fails once the channel has been torn down.
func (c *Channel) Hold() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count == 0 {
		return ErrPluginClosed
	}
	c.count++
	return nil
}

// Release drops a reference, tearing the queue down with the last one.
func (c *Channel) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count == 0 {
		return nil
	}
	c.count--
	if c.count > 0 {
		return nil
	}

	err := c.queue.Close()
	if uerr := mq.Unlink(c.name); err == nil {
		err = uerr
	}
	return err
}
