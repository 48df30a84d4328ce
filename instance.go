package memorymap

import (
	"sync"
	"time"

	errors "golang.org/x/xerrors"

	"github.com/lanikai/memorymap/internal/futex"
	"github.com/lanikai/memorymap/internal/shm"
)

// An Instance exchanges frames of one fixed geometry through its own segment.
// Exchanges on an instance are strictly sequential: concurrent calls to
// Update wait for each other.
type Instance struct {
	plugin *Plugin
	width  int
	height int
	desc   shm.Descriptor

	// Encoded desc, sent with every frame.
	msg []byte

	mu     sync.Mutex
	region *shm.Region
}

func (i *Instance) Width() int     { return i.width }
func (i *Instance) Height() int    { return i.height }
func (i *Instance) FrameSize() int { return shm.FrameSize(i.width, i.height) }

// Descriptor identifies the instance's segment.
func (i *Instance) Descriptor() shm.Descriptor {
	return i.desc
}

// Cancelled reports whether the last exchange fell back to pass-through.
func (i *Instance) Cancelled() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.region != nil && i.region.Cancelled()
}

// Update hands the frame in to the processor and fills out with its result.
// Both slices must be exactly FrameSize bytes. Whatever happens on the other
// side, out receives a complete frame: the processor's output on success, a
// copy of in otherwise. The returned error is reserved for misuse (wrong
// frame size, destructed instance); per-frame failures are in Result.Cause.
//
// Update returns within AckTimeout+ResponseTimeout.
//
// The Observer, if any, is called after the instance is unlocked.
func (i *Instance) Update(timestamp float64, in, out []byte) (Result, error) {
	res, err := i.update(timestamp, in, out)
	if err != nil {
		return res, err
	}
	if obs := i.plugin.cfg.Observer; obs != nil {
		obs.Observe(Event{
			Segment:   i.desc.Name,
			Width:     i.width,
			Height:    i.height,
			Timestamp: timestamp,
			Result:    res,
		})
	}
	return res, nil
}

func (i *Instance) update(timestamp float64, in, out []byte) (Result, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	r := i.region
	if r == nil {
		return Result{}, ErrInstanceClosed
	}
	if n := r.FrameSize(); len(in) != n || len(out) != n {
		return Result{}, errors.Errorf("got %d in, %d out, want %d bytes: %w", len(in), len(out), n, ErrFrameSize)
	}

	start := time.Now()

	r.SetTimestamp(timestamp)
	copy(r.Input(), in)
	r.SetCancelled(false)

	// Signals posted after an earlier exchange gave up belong to no one.
	res := Result{Generation: r.NextGeneration()}
	res.StaleSignals = drain(r.Ack()) + drain(r.Response())

	res.Reached, res.Cause = i.exchange(r, res.Generation, &res.StaleSignals)
	if res.Cause == nil {
		copy(out, r.Output())
		res.State = Completed
	} else {
		r.SetCancelled(true)
		copy(out, in)
		res.State = stateFor(res.Cause)
	}
	res.Elapsed = time.Since(start)

	if res.StaleSignals > 0 {
		log.Debug("%s #%d: discarded %d stale signal(s)", r.Name(), res.Generation, res.StaleSignals)
	}
	if res.State == Completed {
		log.Trace(5, "%s #%d completed in %v", r.Name(), res.Generation, res.Elapsed)
	}
	return res, nil
}

// Run the handshake for one generation. Returns the furthest state reached and
// the reason for stopping short of Completed, if any.
func (i *Instance) exchange(r *shm.Region, gen uint32, stale *int) (State, error) {
	cfg := i.plugin.cfg

	if err := i.plugin.channel.Send(i.msg); err != nil {
		log.Warn("%s #%d: send failed: %v", r.Name(), gen, err)
		return Idle, errors.Errorf("%v: %w", err, ErrSendFailure)
	}

	n, err := await(r.Ack(), r.AckGeneration, gen, cfg.AckTimeout)
	*stale += n
	if err != nil {
		return Sent, classify(r.Name(), gen, "ack", err, ErrAckTimeout)
	}

	n, err = await(r.Response(), r.ResponseGeneration, gen, cfg.ResponseTimeout)
	*stale += n
	if err != nil {
		return Acknowledged, classify(r.Name(), gen, "response", err, ErrResponseTimeout)
	}
	return Completed, nil
}

// Wait on sem until it is posted for generation gen, all within a single
// deadline. Posts that echo another generation are counted and discarded.
func await(sem *futex.Semaphore, echoed func() uint32, gen uint32, timeout time.Duration) (stale int, err error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := sem.Wait(time.Until(deadline)); err != nil {
			return stale, err
		}
		if echoed() == gen {
			return stale, nil
		}
		stale++
	}
}

// Map a wait failure onto the protocol's causes, logging timeouts and system
// errors differently.
func classify(name string, gen uint32, phase string, err, timeout error) error {
	if err == futex.ErrTimedOut {
		log.Warn("%s #%d: %s timed out", name, gen, phase)
		return timeout
	}
	log.Error("%s #%d: %s wait: %v", name, gen, phase, err)
	return errors.Errorf("%s wait (%v): %w", phase, err, ErrSystemWait)
}

func drain(sem *futex.Semaphore) int {
	n := 0
	for sem.TryWait() {
		n++
	}
	return n
}

// Destruct releases the segment and the instance's hold on the notification
// queue. Later calls return ErrInstanceClosed.
func (i *Instance) Destruct() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.region == nil {
		return ErrInstanceClosed
	}

	log.Info("Destructing %s", i.region.Name())
	err := i.region.Destroy()
	i.region = nil
	if rerr := i.plugin.destructed(); err == nil {
		err = rerr
	}
	return err
}

// The filter has no parameters; these exist for hosts that probe anyway.

func (i *Instance) SetParam(index int, value interface{}) error {
	return errors.Errorf("parameter %d: %w", index, ErrNoSuchParam)
}

func (i *Instance) GetParam(index int) (interface{}, error) {
	return nil, errors.Errorf("parameter %d: %w", index, ErrNoSuchParam)
}
