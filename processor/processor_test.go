//go:build linux

package processor

import (
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/memorymap/internal/shm"
)

func createRegion(t *testing.T, width, height int) *shm.Region {
	if _, err := os.Stat(shm.Dir); err != nil {
		t.Skipf("no shared memory filesystem: %v", err)
	}
	r, err := shm.Create("org.lanikai.memorymap.test", width, height)
	require.NoError(t, err)
	t.Cleanup(func() { r.Destroy() })
	return r
}

func TestHandleSignalsBothPhases(t *testing.T) {
	r := createRegion(t, 2, 2)
	gen := r.NextGeneration()
	r.SetTimestamp(4.5)
	for i := range r.Input() {
		r.Input()[i] = byte(i)
	}

	var got Frame
	p := New(func(f Frame) error {
		got = f
		return FlipVertical(f)
	}, 1)
	require.NoError(t, p.Handle(r.Descriptor()))

	assert.Equal(t, 2, got.Width)
	assert.Equal(t, 2, got.Height)
	assert.Equal(t, 4.5, got.Timestamp)
	assert.Equal(t, gen, got.Generation)

	assert.Equal(t, gen, r.AckGeneration())
	assert.Equal(t, gen, r.ResponseGeneration())
	assert.True(t, r.Ack().TryWait())
	assert.True(t, r.Response().TryWait())
	assert.Equal(t, []byte{8, 9, 10, 11, 12, 13, 14, 15, 0, 1, 2, 3, 4, 5, 6, 7}, r.Output())
	assert.Equal(t, Stats{Handled: 1}, p.Stats())

	// The processor never removes the segment.
	assert.True(t, shm.Exists(r.Name()))
}

func TestFailedTransformWithholdsResponse(t *testing.T) {
	r := createRegion(t, 1, 1)
	r.NextGeneration()

	p := New(func(Frame) error { return assert.AnError }, 1)
	err := p.Handle(r.Descriptor())
	require.Error(t, err)

	assert.True(t, r.Ack().TryWait())
	assert.False(t, r.Response().TryWait())
	assert.Equal(t, Stats{Failed: 1}, p.Stats())
}

func TestHandleMissingSegment(t *testing.T) {
	p := New(Identity, 1)
	err := p.Handle(shm.Descriptor{Size: shm.SegmentSize(1, 1), Name: shm.NewName("org.lanikai.memorymap.test")})
	assert.Error(t, err)
	assert.Equal(t, uint64(1), p.Stats().Failed)
}

func TestSupersededFrameIsDropped(t *testing.T) {
	r := createRegion(t, 1, 1)
	r.NextGeneration()
	copy(r.Output(), []byte{1, 2, 3, 4})

	p := New(func(f Frame) error {
		// The producer gives up and starts the next exchange meanwhile.
		r.NextGeneration()
		copy(f.Out, []byte{0xba, 0xdb, 0xad, 0x00})
		return nil
	}, 1)
	require.NoError(t, p.Handle(r.Descriptor()))

	assert.Equal(t, []byte{1, 2, 3, 4}, r.Output())
	assert.True(t, r.Ack().TryWait())
	assert.False(t, r.Response().TryWait())
	assert.Equal(t, Stats{Superseded: 1}, p.Stats())
}

func TestHandleSerializesPerSegment(t *testing.T) {
	r := createRegion(t, 1, 1)
	other := createRegion(t, 1, 1)

	var inFlight, overlap int32
	p := New(func(f Frame) error {
		if atomic.AddInt32(&inFlight, 1) > 1 {
			atomic.StoreInt32(&overlap, 1)
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return Identity(f)
	}, 1)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Handle(r.Descriptor()))
		}()
	}
	wg.Wait()
	assert.Zero(t, atomic.LoadInt32(&overlap))
	assert.Equal(t, uint64(4), p.Stats().Handled)

	// Distinct segments are not held up by each other.
	release := make(chan struct{})
	started := make(chan struct{})
	q := New(func(f Frame) error {
		if f.Generation == 7 {
			close(started)
			<-release
		}
		return nil
	}, 1)
	for r.Generation() != 7 {
		r.NextGeneration()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Handle(r.Descriptor())
	}()
	<-started
	other.NextGeneration()
	assert.NoError(t, q.Handle(other.Descriptor()))
	close(release)
	<-done

	p.mu.Lock()
	assert.Empty(t, p.busy)
	p.mu.Unlock()
}
