// Package memorymap hands video frames to an external processor process
// through named shared memory and takes the transformed frames back.
//
// A Plugin owns the process-wide notification queue. Each Instance owns one
// shared segment sized for its frame geometry. Update copies a frame into the
// segment, announces the segment on the queue, and waits, with bounded
// timeouts, for the processor to acknowledge and then complete it. If the
// processor is absent, slow or failing, Update returns the input frame
// unchanged instead.
package memorymap

import (
	"sync"

	errors "golang.org/x/xerrors"

	"github.com/lanikai/memorymap/internal/logging"
	"github.com/lanikai/memorymap/internal/shm"
)

var log = logging.DefaultLogger.WithTag("memorymap")

// Static description of the filter, as reported to the host.
type PluginInfo struct {
	Name         string
	Author       string
	Type         string
	ColorModel   string
	MajorVersion int
	MinorVersion int
	NumParams    int
	Explanation  string
}

var info = PluginInfo{
	Name:         "MemoryMap filter",
	Author:       "Tsuyoshi Iguchi <tsuyoshi.iguchi@gmail.com>",
	Type:         "filter",
	ColorModel:   "RGBA8888",
	MajorVersion: 0,
	MinorVersion: 1,
	NumParams:    0,
	Explanation:  "Apply filter via memory mapped file.",
}

type Plugin struct {
	cfg     Config
	channel *Channel

	mu     sync.Mutex
	closed bool
	live   int
}

// Open validates cfg and opens the notification queue. Failure to open the
// queue is reported as a *ChannelError.
func Open(cfg Config) (*Plugin, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info("Opening plugin (namespace %s)", cfg.Namespace)

	ch, err := OpenChannel(cfg.QueueName(), cfg.QueueCapacity)
	if err != nil {
		log.Error("%v", err)
		return nil, err
	}
	return &Plugin{cfg: cfg, channel: ch}, nil
}

func (p *Plugin) Info() PluginInfo {
	return info
}

func (p *Plugin) Config() Config {
	return p.cfg
}

func (p *Plugin) Channel() *Channel {
	return p.channel
}

// Live returns the number of constructed, not yet destructed instances.
func (p *Plugin) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// Close drops the plugin's hold on the notification queue. The queue is torn
// down immediately if no instance is live, otherwise when the last one is
// destructed. Construct fails after Close.
func (p *Plugin) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	live := p.live
	p.mu.Unlock()

	log.Info("Closing plugin (%d live instance(s))", live)
	return p.channel.Release()
}

// Construct allocates an instance for frames of the given geometry. A
// segment that cannot be created is reported as an *AllocationError.
func (p *Plugin) Construct(width, height int) (*Instance, error) {
	log.Info("Constructing %dx%d instance", width, height)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPluginClosed
	}

	region, err := shm.Create(p.cfg.Namespace, width, height)
	if err != nil {
		err = &AllocationError{Width: width, Height: height, Err: err}
		log.Error("%v", err)
		return nil, err
	}
	msg, err := region.Descriptor().MarshalBinary()
	if err != nil {
		region.Destroy()
		return nil, &AllocationError{Width: width, Height: height, Err: err}
	}
	if err := p.channel.Hold(); err != nil {
		region.Destroy()
		return nil, err
	}

	p.live++
	return &Instance{
		plugin: p,
		width:  width,
		height: height,
		desc:   region.Descriptor(),
		msg:    msg,
		region: region,
	}, nil
}

func (p *Plugin) destructed() error {
	p.mu.Lock()
	p.live--
	p.mu.Unlock()
	return p.channel.Release()
}

// ParamInfo describes a filter parameter. The filter has none.
func (p *Plugin) ParamInfo(index int) (string, error) {
	return "", errors.Errorf("parameter %d: %w", index, ErrNoSuchParam)
}
