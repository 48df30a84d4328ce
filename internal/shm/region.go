// Package shm manages the named shared-memory segment through which a frame
// and its transformed result travel between a producer and a processor.
package shm

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/lanikai/memorymap/internal/futex"
	"github.com/lanikai/memorymap/internal/logging"
	"github.com/lanikai/memorymap/internal/packet"
)

var log = logging.DefaultLogger.WithTag("shm")

// Dir is where shm_open(3) keeps named segments on Linux.
var Dir = "/dev/shm"

// System calls used while building a segment. Tests substitute failing ones.
var (
	ftruncate = unix.Ftruncate
	mmap      = unix.Mmap
)

// A Region is one process's mapping of a segment.
type Region struct {
	desc   Descriptor
	width  int
	height int

	// Created by this process, which alone may unlink it.
	owner bool

	ack      *futex.Semaphore
	response *futex.Semaphore
	input    []byte
	output   []byte

	mu  sync.Mutex
	mem []byte
}

// NewName returns a fresh segment name in the given namespace.
func NewName(namespace string) string {
	return fmt.Sprintf("/%s.shm.%s", namespace, uuid.NewString())
}

func path(name string) string {
	return filepath.Join(Dir, filepath.Base(name))
}

// Exists reports whether a segment of that name is present in the namespace.
func Exists(name string) bool {
	_, err := os.Stat(path(name))
	return err == nil
}

// Create allocates a uniquely named segment sized for two frames of the given
// geometry, maps it, and initializes its header with both semaphores at zero.
// On failure every completed step is undone.
func Create(namespace string, width, height int) (r *Region, err error) {
	if err := checkGeometry(width, height); err != nil {
		return nil, err
	}
	name := NewName(namespace)
	if len(name) >= NameSize {
		return nil, errors.Wrapf(ErrNameTooLong, "%q", name)
	}
	size := SegmentSize(width, height)

	fd, err := unix.Open(path(name), unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC|unix.O_NOFOLLOW, 0600)
	if err != nil {
		return nil, errors.Wrapf(err, "shm_open %s", name)
	}
	defer func() {
		if err != nil {
			unix.Unlink(path(name))
		}
	}()

	err = ftruncate(fd, int64(size))
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "ftruncate %s to %d bytes", name, size)
	}

	// The mapping keeps the segment referenced; the descriptor is not needed.
	mem, err := mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	unix.Close(fd)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap %s", name)
	}

	r = &Region{
		desc:   Descriptor{Size: size, Name: name},
		width:  width,
		height: height,
		owner:  true,
		mem:    mem,
	}
	if err = r.writeHeader(); err != nil {
		unix.Munmap(mem)
		return nil, err
	}
	if err = r.bind(); err != nil {
		unix.Munmap(mem)
		return nil, err
	}
	r.ack.Init()
	r.response.Init()

	log.Info("Created %s (%dx%d, %d bytes)", name, width, height, size)
	return r, nil
}

// Open maps an existing segment described by desc. The caller never owns the
// segment: Close unmaps it but leaves it in the namespace.
func Open(desc Descriptor) (*Region, error) {
	fd, err := unix.Open(path(desc.Name), unix.O_RDWR|unix.O_CLOEXEC|unix.O_NOFOLLOW, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "shm_open %s", desc.Name)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "fstat %s", desc.Name)
	}
	if st.Size != int64(desc.Size) {
		unix.Close(fd)
		return nil, errors.Wrapf(ErrSizeMismatch, "%s is %d bytes, descriptor says %d", desc.Name, st.Size, desc.Size)
	}

	mem, err := mmap(fd, 0, desc.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	unix.Close(fd)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap %s", desc.Name)
	}

	r := &Region{desc: desc, mem: mem}
	if err := r.readHeader(); err != nil {
		unix.Munmap(mem)
		return nil, err
	}
	if err := r.bind(); err != nil {
		unix.Munmap(mem)
		return nil, err
	}
	log.Debug("Mapped %s (%dx%d)", desc.Name, r.width, r.height)
	return r, nil
}

func (r *Region) writeHeader() error {
	w := packet.NewWriter(r.mem[:HeaderSize], packet.NativeOrder)
	w.WriteInt32(int32(r.desc.Size))
	if err := w.WriteFixedString(r.desc.Name, NameSize); err != nil {
		return errors.Wrap(ErrNameTooLong, err.Error())
	}
	w.WriteInt32(0) // cancelled
	w.WriteUint32(uint32(r.width))
	w.WriteUint32(uint32(r.height))
	w.WriteFloat64(0)
	// Semaphores and generations start zeroed.
	return w.ZeroPad(HeaderSize - w.Length())
}

func (r *Region) readHeader() error {
	if len(r.mem) < HeaderSize {
		return errors.Wrapf(ErrSizeMismatch, "%d byte mapping", len(r.mem))
	}
	rd := packet.NewReader(r.mem[:HeaderSize], packet.NativeOrder)
	size, _ := rd.ReadInt32()
	name, _ := rd.ReadFixedString(NameSize)
	rd.Skip(4) // cancelled
	width, _ := rd.ReadUint32()
	height, err := rd.ReadUint32()
	if err != nil {
		return err
	}
	if int(size) != r.desc.Size || name != r.desc.Name {
		return errors.Wrapf(ErrSizeMismatch, "header names %q (%d bytes)", name, size)
	}
	if err := checkGeometry(int(width), int(height)); err != nil {
		return err
	}
	if SegmentSize(int(width), int(height)) != r.desc.Size {
		return errors.Wrapf(ErrSizeMismatch, "%dx%d does not fill %d bytes", width, height, size)
	}
	r.width, r.height = int(width), int(height)
	return nil
}

// Build the semaphore views and plane slices over the mapping.
func (r *Region) bind() (err error) {
	if r.ack, err = futex.At(r.mem[offAck : offAck+futex.SlotSize]); err != nil {
		return err
	}
	if r.response, err = futex.At(r.mem[offResponse : offResponse+futex.SlotSize]); err != nil {
		return err
	}
	in, out := planes(r.width, r.height)
	if r.input, err = in.Slice(r.mem); err != nil {
		return err
	}
	r.output, err = out.Slice(r.mem)
	return err
}

// Destroy releases both semaphores, unmaps the segment and removes its name.
// Only the creating process may destroy a region, and only once.
func (r *Region) Destroy() error {
	if !r.owner {
		return ErrNotOwner
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil {
		return ErrDestroyed
	}

	var first error
	keep := func(err error) {
		if first == nil && err != nil {
			first = err
		}
	}
	keep(r.ack.Destroy())
	keep(r.response.Destroy())
	keep(errors.Wrapf(unix.Munmap(r.mem), "munmap %s", r.desc.Name))
	keep(errors.Wrapf(unix.Unlink(path(r.desc.Name)), "shm_unlink %s", r.desc.Name))
	r.release()

	log.Info("Destroyed %s", r.desc.Name)
	return first
}

// Close unmaps a region opened with Open. The segment itself is untouched.
func (r *Region) Close() error {
	if r.owner {
		return r.Destroy()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.release()
	return errors.Wrapf(err, "munmap %s", r.desc.Name)
}

func (r *Region) release() {
	r.mem = nil
	r.input = nil
	r.output = nil
	r.ack = nil
	r.response = nil
}

func (r *Region) Descriptor() Descriptor { return r.desc }
func (r *Region) Name() string           { return r.desc.Name }
func (r *Region) Size() int              { return r.desc.Size }
func (r *Region) Width() int             { return r.width }
func (r *Region) Height() int            { return r.height }
func (r *Region) FrameSize() int         { return FrameSize(r.width, r.height) }
func (r *Region) Owner() bool            { return r.owner }

// Input and Output return the two frame planes.
func (r *Region) Input() []byte  { return r.input }
func (r *Region) Output() []byte { return r.output }

// Ack is posted by the processor when it starts on a frame; Response once the
// output plane is complete.
func (r *Region) Ack() *futex.Semaphore      { return r.ack }
func (r *Region) Response() *futex.Semaphore { return r.response }

// Header words that change while the segment is shared are accessed
// atomically.

func (r *Region) word(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.mem[off]))
}

func (r *Region) Cancelled() bool {
	return atomic.LoadUint32(r.word(offCancelled)) != 0
}

func (r *Region) SetCancelled(cancelled bool) {
	var v uint32
	if cancelled {
		v = 1
	}
	atomic.StoreUint32(r.word(offCancelled), v)
}

func (r *Region) Timestamp() float64 {
	bits := atomic.LoadUint64((*uint64)(unsafe.Pointer(&r.mem[offTimestamp])))
	return math.Float64frombits(bits)
}

func (r *Region) SetTimestamp(t float64) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&r.mem[offTimestamp])), math.Float64bits(t))
}

func (r *Region) Generation() uint32 {
	return atomic.LoadUint32(r.word(offGeneration))
}

// NextGeneration starts a new exchange and returns its number. Zero is
// skipped so that a fresh header never matches.
func (r *Region) NextGeneration() uint32 {
	g := atomic.AddUint32(r.word(offGeneration), 1)
	if g == 0 {
		g = atomic.AddUint32(r.word(offGeneration), 1)
	}
	return g
}

func (r *Region) AckGeneration() uint32 {
	return atomic.LoadUint32(r.word(offAckGeneration))
}

func (r *Region) SetAckGeneration(g uint32) {
	atomic.StoreUint32(r.word(offAckGeneration), g)
}

func (r *Region) ResponseGeneration() uint32 {
	return atomic.LoadUint32(r.word(offResponseGeneration))
}

func (r *Region) SetResponseGeneration(g uint32) {
	atomic.StoreUint32(r.word(offResponseGeneration), g)
}
