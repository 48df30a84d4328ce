//go:build linux

package memorymap

import (
	"context"
	"encoding/binary"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errors "golang.org/x/xerrors"

	"github.com/lanikai/memorymap/internal/mq"
	"github.com/lanikai/memorymap/internal/shm"
	"github.com/lanikai/memorymap/processor"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Namespace = "org.lanikai.memorymap.test." + uuid.NewString()[:8]
	return cfg
}

// Open a plugin in a private namespace, skipping where the sandbox lacks
// shared memory or POSIX message queues.
func openPlugin(t *testing.T, cfg Config) *Plugin {
	if _, err := os.Stat(shm.Dir); err != nil {
		t.Skipf("no shared memory filesystem: %v", err)
	}
	p, err := Open(cfg)
	var cerr *ChannelError
	if errors.As(err, &cerr) {
		t.Skipf("POSIX message queues unavailable: %v", err)
	}
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func construct(t *testing.T, p *Plugin, width, height int) *Instance {
	inst, err := p.Construct(width, height)
	require.NoError(t, err)
	t.Cleanup(func() { inst.Destruct() })
	return inst
}

// Run a processor against the plugin's queue until the test ends.
func startProcessor(t *testing.T, p *Plugin, fn processor.Transform) *processor.Processor {
	q, err := mq.Attach(p.Channel().Name())
	require.NoError(t, err)

	proc := processor.New(fn, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		proc.Serve(ctx, q)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		q.Close()
	})
	return proc
}

func pixels(values ...uint32) []byte {
	b := make([]byte, 4*len(values))
	for i, v := range values {
		binary.NativeEndian.PutUint32(b[4*i:], v)
	}
	return b
}

func TestRoundTrip(t *testing.T) {
	p := openPlugin(t, testConfig())
	inst := construct(t, p, 2, 1)
	require.Equal(t, 8, inst.FrameSize())

	seen := make(chan processor.Frame, 1)
	startProcessor(t, p, func(f processor.Frame) error {
		seen <- processor.Frame{Timestamp: f.Timestamp, In: append([]byte(nil), f.In...)}
		copy(f.Out, pixels(0xAABBCCDD, 0xEEFF0011))
		return nil
	})

	in := pixels(0x11223344, 0x55667788)
	out := make([]byte, 8)
	res, err := inst.Update(1.25, in, out)
	require.NoError(t, err)

	assert.Equal(t, Completed, res.State)
	assert.Equal(t, Completed, res.Reached)
	assert.NoError(t, res.Cause)
	assert.False(t, res.PassThrough())
	assert.Equal(t, pixels(0xAABBCCDD, 0xEEFF0011), out)
	got := <-seen
	assert.Equal(t, in, got.In)
	assert.Equal(t, 1.25, got.Timestamp)
	assert.False(t, inst.Cancelled())
}

func TestPassThroughWithoutProcessor(t *testing.T) {
	p := openPlugin(t, testConfig())
	inst := construct(t, p, 4, 4)

	in := make([]byte, inst.FrameSize())
	for i := range in {
		in[i] = byte(i)
	}
	out := make([]byte, len(in))

	start := time.Now()
	res, err := inst.Update(0, in, out)
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Equal(t, TimedOut, res.State)
	assert.Equal(t, Sent, res.Reached)
	assert.True(t, errors.Is(res.Cause, ErrAckTimeout))
	assert.Equal(t, in, out)
	assert.True(t, inst.Cancelled())
	assert.True(t, elapsed >= time.Second, "returned after %v", elapsed)
	assert.True(t, elapsed < 2*time.Second, "returned after %v", elapsed)
}

func TestPassThroughOnSlowResponse(t *testing.T) {
	p := openPlugin(t, testConfig())
	inst := construct(t, p, 2, 2)

	release := make(chan struct{})
	var calls int32
	proc := startProcessor(t, p, func(f processor.Frame) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			<-release
		}
		return processor.Invert(f)
	})

	in := pixels(0x01020304, 0x05060708, 0x090a0b0c, 0x0d0e0f10)
	out := make([]byte, len(in))

	start := time.Now()
	res, err := inst.Update(0, in, out)
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Equal(t, TimedOut, res.State)
	assert.Equal(t, Acknowledged, res.Reached)
	assert.True(t, errors.Is(res.Cause, ErrResponseTimeout))
	assert.Equal(t, in, out)
	assert.True(t, elapsed >= 3*time.Second, "returned after %v", elapsed)
	assert.True(t, elapsed < 4*time.Second+500*time.Millisecond, "returned after %v", elapsed)

	// Let the first frame finish late. Its response must not be mistaken for
	// the next exchange's.
	close(release)
	require.Eventually(t, func() bool { return proc.Stats().Handled == 1 }, 2*time.Second, 10*time.Millisecond)

	res, err = inst.Update(1, in, out)
	require.NoError(t, err)
	assert.Equal(t, Completed, res.State)
	assert.Equal(t, 1, res.StaleSignals)

	want := make([]byte, len(in))
	require.NoError(t, processor.Invert(processor.Frame{In: in, Out: want}))
	assert.Equal(t, want, out)
	assert.NotEqual(t, in, out)
}

func TestStaleAckIsDiscarded(t *testing.T) {
	p := openPlugin(t, testConfig())
	inst := construct(t, p, 1, 1)

	q, err := mq.Attach(p.Channel().Name())
	require.NoError(t, err)
	defer q.Close()

	// A processor that first echoes the wrong generation.
	go func() {
		msg, err := q.Receive(context.Background())
		if err != nil {
			return
		}
		var desc shm.Descriptor
		if desc.UnmarshalBinary(msg) != nil {
			return
		}
		r, err := shm.Open(desc)
		if err != nil {
			return
		}
		defer r.Close()

		gen := r.Generation()
		r.SetAckGeneration(gen - 1)
		r.Ack().Post()
		time.Sleep(200 * time.Millisecond)

		r.SetAckGeneration(gen)
		r.Ack().Post()
		copy(r.Output(), pixels(0xCAFEF00D))
		r.SetResponseGeneration(gen)
		r.Response().Post()
	}()

	out := make([]byte, 4)
	res, err := inst.Update(0, pixels(1), out)
	require.NoError(t, err)
	assert.Equal(t, Completed, res.State)
	assert.Equal(t, 1, res.StaleSignals)
	assert.Equal(t, pixels(0xCAFEF00D), out)
}

func TestLateWorkerCannotOverwriteOutput(t *testing.T) {
	cfg := testConfig()
	cfg.AckTimeout = 500 * time.Millisecond
	cfg.ResponseTimeout = 300 * time.Millisecond
	p := openPlugin(t, cfg)
	inst := construct(t, p, 1, 1)

	q, err := mq.Attach(p.Channel().Name())
	require.NoError(t, err)
	proc := processor.New(func(f processor.Frame) error {
		if f.Generation == 1 {
			time.Sleep(400 * time.Millisecond)
			copy(f.Out, pixels(0xBADBAD00))
			return nil
		}
		copy(f.Out, pixels(0x600D600D))
		time.Sleep(150 * time.Millisecond)
		return nil
	}, 2)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		proc.Serve(ctx, q)
	}()
	defer func() {
		cancel()
		<-done
		q.Close()
	}()

	out := make([]byte, 4)
	res, err := inst.Update(0, pixels(1), out)
	require.NoError(t, err)
	require.Equal(t, TimedOut, res.State)
	require.Equal(t, Acknowledged, res.Reached)

	res, err = inst.Update(1, pixels(2), out)
	require.NoError(t, err)
	assert.Equal(t, Completed, res.State)
	assert.Equal(t, uint32(2), res.Generation)
	assert.Equal(t, pixels(0x600D600D), out)

	require.Eventually(t, func() bool { return proc.Stats().Superseded == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(1), proc.Stats().Handled)
}

func TestExchangesDoNotOverlap(t *testing.T) {
	p := openPlugin(t, testConfig())
	inst := construct(t, p, 8, 8)

	var inFlight, maxInFlight int32
	startProcessor(t, p, func(f processor.Frame) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return processor.Identity(f)
	})

	var wg sync.WaitGroup
	var mu sync.Mutex
	gens := map[uint32]bool{}
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in := make([]byte, inst.FrameSize())
			out := make([]byte, len(in))
			for k := 0; k < 3; k++ {
				res, err := inst.Update(float64(k), in, out)
				if assert.NoError(t, err) && assert.Equal(t, Completed, res.State) {
					mu.Lock()
					gens[res.Generation] = true
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&maxInFlight))
	assert.Len(t, gens, 12)
}

func TestSendFailureFallsBack(t *testing.T) {
	cfg := testConfig()
	cfg.QueueCapacity = 1
	cfg.AckTimeout = 100 * time.Millisecond
	p := openPlugin(t, cfg)
	inst := construct(t, p, 1, 1)

	in := pixels(0x12345678)
	out := make([]byte, 4)

	// Nobody consumes, so the first descriptor fills the queue.
	res, err := inst.Update(0, in, out)
	require.NoError(t, err)
	require.Equal(t, TimedOut, res.State)

	start := time.Now()
	res, err = inst.Update(1, in, out)
	require.NoError(t, err)
	assert.Equal(t, Cancelled, res.State)
	assert.Equal(t, Idle, res.Reached)
	assert.True(t, errors.Is(res.Cause, ErrSendFailure))
	assert.Contains(t, res.Cause.Error(), mq.ErrQueueFull.Error())
	assert.Equal(t, in, out)
	assert.True(t, inst.Cancelled())
	assert.True(t, time.Since(start) < 100*time.Millisecond)
}

func TestUpdateRejectsMisuse(t *testing.T) {
	p := openPlugin(t, testConfig())
	inst := construct(t, p, 2, 2)

	_, err := inst.Update(0, make([]byte, 15), make([]byte, 16))
	assert.True(t, errors.Is(err, ErrFrameSize))
	_, err = inst.Update(0, make([]byte, 16), make([]byte, 17))
	assert.True(t, errors.Is(err, ErrFrameSize))

	require.NoError(t, inst.Destruct())
	assert.Equal(t, ErrInstanceClosed, inst.Destruct())
	_, err = inst.Update(0, make([]byte, 16), make([]byte, 16))
	assert.Equal(t, ErrInstanceClosed, err)
}

func TestTeardownRemovesEverything(t *testing.T) {
	cfg := testConfig()
	p := openPlugin(t, cfg)
	a := construct(t, p, 4, 2)
	b := construct(t, p, 4, 2)
	assert.Equal(t, 2, p.Live())
	assert.NotEqual(t, a.Descriptor().Name, b.Descriptor().Name)

	require.NoError(t, p.Close())
	_, err := p.Construct(1, 1)
	assert.Equal(t, ErrPluginClosed, err)

	// Instances keep the queue alive.
	q, err := mq.Attach(cfg.QueueName())
	require.NoError(t, err)
	q.Close()

	require.NoError(t, a.Destruct())
	assert.False(t, shm.Exists(a.Descriptor().Name))
	assert.True(t, shm.Exists(b.Descriptor().Name))

	require.NoError(t, b.Destruct())
	assert.False(t, shm.Exists(b.Descriptor().Name))
	assert.Zero(t, p.Live())

	_, err = mq.Attach(cfg.QueueName())
	assert.Error(t, err, "queue is unlinked with the last reference")
}

func TestConstructFailures(t *testing.T) {
	p := openPlugin(t, testConfig())

	_, err := p.Construct(0, 480)
	var aerr *AllocationError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, 480, aerr.Height)
	assert.True(t, errors.Is(err, shm.ErrBadGeometry))
	assert.Zero(t, p.Live())
}

func TestOpenReportsChannelError(t *testing.T) {
	cfg := testConfig()
	cfg.Namespace = strings.Repeat("n", 300)

	_, err := Open(cfg)
	var cerr *ChannelError
	require.True(t, errors.As(err, &cerr), "%v", err)
	assert.Equal(t, cfg.QueueName(), cerr.Name)
}

func TestObserverSeesEveryExchange(t *testing.T) {
	var events []Event
	var cancelled []bool
	var mu sync.Mutex
	var inst *Instance

	cfg := testConfig()
	cfg.AckTimeout = 50 * time.Millisecond
	cfg.Observer = ObserverFunc(func(e Event) {
		// Calling back into the instance must not block.
		c := inst.Cancelled()
		mu.Lock()
		events = append(events, e)
		cancelled = append(cancelled, c)
		mu.Unlock()
	})
	p := openPlugin(t, cfg)
	inst = construct(t, p, 1, 1)

	done := make(chan error, 1)
	go func() {
		_, err := inst.Update(2.5, pixels(7), make([]byte, 4))
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Update did not return")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, inst.Descriptor().Name, events[0].Segment)
	assert.Equal(t, 2.5, events[0].Timestamp)
	assert.Equal(t, TimedOut, events[0].State)
	assert.Equal(t, []bool{true}, cancelled)
}

func TestParamsAreAbsent(t *testing.T) {
	p := openPlugin(t, testConfig())
	inst := construct(t, p, 1, 1)

	assert.Zero(t, p.Info().NumParams)
	assert.Equal(t, "RGBA8888", p.Info().ColorModel)
	assert.Equal(t, "MemoryMap filter", p.Info().Name)
	assert.Equal(t, "Tsuyoshi Iguchi <tsuyoshi.iguchi@gmail.com>", p.Info().Author)
	assert.Equal(t, "Apply filter via memory mapped file.", p.Info().Explanation)
	_, err := p.ParamInfo(0)
	assert.True(t, errors.Is(err, ErrNoSuchParam))
	assert.True(t, errors.Is(inst.SetParam(0, 1.0), ErrNoSuchParam))
	_, err = inst.GetParam(0)
	assert.True(t, errors.Is(err, ErrNoSuchParam))
}
