//////////////////////////////////////////////////////////////////////////////
//
// Broadcast encoded exchange events from one writer to multiple subscribers.
//
// Each subscriber has its own channel (i.e. queue). When the monitor
// broadcasts an event, the encoded bytes are added to each subscriber's
// channel. This is a shallow copy; subscribers must not modify the slice.
//
// Each subscriber specifies the maximum number of events it wishes to
// buffer. Once this capacity is reached, the oldest event is dropped for
// each new one, so a slow websocket client never stalls Update.
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package monitor

import (
	"sync"

	"github.com/pkg/errors"
)

var errNotFound = errors.New("subscriber not found")

type Broadcaster struct {
	mutex       sync.Mutex
	subscribers []chan []byte
	closed      bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Close the broadcaster. Subscriber channels are drained and closed. Later
// writes are discarded and later subscriptions receive a closed channel.
func (b *Broadcaster) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	for _, subscriber := range b.subscribers {
		for len(subscriber) > 0 {
			<-subscriber
		}
		close(subscriber)
	}
	b.subscribers = nil
	b.closed = true
	return nil
}

// Subscribe to broadcasts, buffering up to n events for the subscriber.
func (b *Broadcaster) Subscribe(n int) <-chan []byte {
	if n < 1 {
		panic("malformed buffer size")
	}

	channel := make(chan []byte, n)
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		close(channel)
		return channel
	}
	b.subscribers = append(b.subscribers, channel)
	return channel
}

// Unsubscribe by providing the channel returned by Subscribe.
func (b *Broadcaster) Unsubscribe(s <-chan []byte) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	for i, subscriber := range b.subscribers {
		if s == subscriber {
			// Order not preserved.
			subs := b.subscribers
			close(subs[i])
			subs[len(subs)-1], subs[i] = subs[i], subs[len(subs)-1]
			b.subscribers = subs[:len(subs)-1]
			return nil
		}
	}
	return errNotFound
}

// Len returns the number of current subscribers.
func (b *Broadcaster) Len() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.subscribers)
}

// Write p to every subscriber without blocking.
func (b *Broadcaster) Write(p []byte) (n int, err error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	for _, subscriber := range b.subscribers {
		select {
		case subscriber <- p:
		default:
			// Subscriber backlogged. Drop oldest, add newest.
			select {
			case <-subscriber:
			default:
			}
			subscriber <- p
		}
	}
	return len(p), nil
}
