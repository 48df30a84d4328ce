// Package processor is the consuming side of the frame handoff: it takes
// segment descriptors off the notification queue, transforms the input plane
// into the output plane, and signals the producer in two steps.
//
// A processor maps segments but never owns them. It must not unlink or resize
// a segment; the producer decides its lifetime.
package processor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/lanikai/memorymap/internal/logging"
	"github.com/lanikai/memorymap/internal/mq"
	"github.com/lanikai/memorymap/internal/shm"
)

var log = logging.DefaultLogger.WithTag("processor")

// A Frame is the processor's view of one exchange.
type Frame struct {
	Width     int
	Height    int
	Timestamp float64

	// Exchange number assigned by the producer.
	Generation uint32

	// Input plane. Treat as read-only.
	In []byte

	// Output plane, same length as In.
	Out []byte
}

// A Transform fills f.Out from f.In. Returning an error withholds the
// response signal, so the producer falls back to the unmodified frame.
type Transform func(f Frame) error

type Stats struct {
	Handled uint64
	Failed  uint64

	// Frames whose producer moved on before the transform finished. Their
	// output was discarded.
	Superseded uint64
}

type Processor struct {
	transform Transform

	// Number of descriptors handled concurrently by Serve.
	workers int

	handled    atomic.Uint64
	failed     atomic.Uint64
	superseded atomic.Uint64

	// One holder per segment at a time, however many workers there are.
	mu   sync.Mutex
	busy map[string]*segmentLock

	scratch sync.Pool
}

type segmentLock struct {
	sync.Mutex
	refs int
}

func New(transform Transform, workers int) *Processor {
	if workers < 1 {
		workers = 1
	}
	return &Processor{
		transform: transform,
		workers:   workers,
		busy:      make(map[string]*segmentLock),
	}
}

func (p *Processor) Stats() Stats {
	return Stats{
		Handled:    p.handled.Load(),
		Failed:     p.failed.Load(),
		Superseded: p.superseded.Load(),
	}
}

// Wait until no other worker holds the named segment.
func (p *Processor) lock(name string) (unlock func()) {
	p.mu.Lock()
	l := p.busy[name]
	if l == nil {
		l = &segmentLock{}
		p.busy[name] = l
	}
	l.refs++
	p.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.busy, name)
		}
		p.mu.Unlock()
	}
}

func (p *Processor) buffer(n int) *[]byte {
	if b, ok := p.scratch.Get().(*[]byte); ok && cap(*b) >= n {
		*b = (*b)[:n]
		return b
	}
	b := make([]byte, n)
	return &b
}

var errSuperseded = errors.New("producer moved on")

// Handle services one descriptor: map, acknowledge, transform, respond, unmap.
// Descriptors naming the same segment are handled one at a time. A frame whose
// producer has started a newer exchange by the time the transform returns is
// dropped without touching the output plane or posting a response.
func (p *Processor) Handle(desc shm.Descriptor) error {
	unlock := p.lock(desc.Name)
	defer unlock()

	err := p.handle(desc)
	switch {
	case err == errSuperseded:
		p.superseded.Add(1)
		return nil
	case err != nil:
		p.failed.Add(1)
	default:
		p.handled.Add(1)
	}
	return err
}

func (p *Processor) handle(desc shm.Descriptor) error {
	r, err := shm.Open(desc)
	if err != nil {
		return err
	}
	defer r.Close()

	gen := r.Generation()

	// Tell the producer the frame was picked up.
	r.SetAckGeneration(gen)
	if err := r.Ack().Post(); err != nil {
		return errors.Wrap(err, "post ack")
	}

	// Transforms write into scratch space seeded with the current plane, so a
	// superseded frame never lands in the segment.
	out := p.buffer(r.FrameSize())
	defer p.scratch.Put(out)
	copy(*out, r.Output())

	frame := Frame{
		Width:      r.Width(),
		Height:     r.Height(),
		Timestamp:  r.Timestamp(),
		Generation: gen,
		In:         r.Input(),
		Out:        *out,
	}
	if err := p.transform(frame); err != nil {
		return errors.Wrapf(err, "transform %s #%d", desc.Name, gen)
	}

	if cur := r.Generation(); cur != gen {
		log.Debug("%s #%d superseded by #%d, dropping output", desc.Name, gen, cur)
		return errSuperseded
	}
	copy(r.Output(), *out)

	// Output plane is complete.
	r.SetResponseGeneration(gen)
	if err := r.Response().Post(); err != nil {
		return errors.Wrap(err, "post response")
	}
	log.Trace(5, "%s #%d done (t=%.3f)", desc.Name, gen, frame.Timestamp)
	return nil
}

// Serve consumes descriptors from q until ctx is done. Failures on individual
// frames are logged and do not stop the loop.
func (p *Processor) Serve(ctx context.Context, q *mq.Queue) error {
	log.Info("Serving %s with %d worker(s)", q.Name(), p.workers)

	var wg sync.WaitGroup
	errc := make(chan error, p.workers)
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errc <- p.work(ctx, q)
		}()
	}
	wg.Wait()
	close(errc)

	for err := range errc {
		if err != nil && err != context.Canceled && err != context.DeadlineExceeded {
			return err
		}
	}
	return nil
}

func (p *Processor) work(ctx context.Context, q *mq.Queue) error {
	for {
		msg, err := q.Receive(ctx)
		if err != nil {
			return err
		}

		var desc shm.Descriptor
		if err := desc.UnmarshalBinary(msg); err != nil {
			log.Warn("Dropping message: %v", err)
			continue
		}
		if err := p.Handle(desc); err != nil {
			log.Warn("%v", err)
		}
	}
}
