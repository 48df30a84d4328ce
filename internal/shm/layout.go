//////////////////////////////////////////////////////////////////////////////
//
// Shared segment layout
//
//   [header][input plane: width*height*4][output plane: width*height*4]
//
// The header is a C-compatible record in host byte order with natural
// alignment. Offsets are relative to the start of the mapping, which is
// page aligned.
//
//   0x00  int32      size           total segment size
//   0x04  [128]byte  name           NUL-padded segment name
//   0x84  int32      cancelled      set by the producer when it gave up
//   0x88  uint32     width
//   0x8c  uint32     height
//   0x90  float64    timestamp      presentation time of the current frame
//   0x98  [32]byte   ack            semaphore, processor started
//   0xb8  [32]byte   response       semaphore, output plane written
//   0xd8  uint32     generation     exchange number, bumped by the producer
//   0xdc  uint32     ackGen         generation the processor acknowledged
//   0xe0  uint32     responseGen    generation the processor completed
//   0xe4  [4]byte    padding
//
// The first two fields double as the descriptor sent on the notification
// queue, so a reader can map the segment from the message alone.
//
//////////////////////////////////////////////////////////////////////////////

package shm

import (
	"math"

	"github.com/pkg/errors"

	"github.com/lanikai/memorymap/internal/futex"
	"github.com/lanikai/memorymap/internal/packet"
)

const (
	// Fixed width of the name field, including the terminating NUL.
	NameSize = 128

	// Encoded size of a Descriptor.
	DescriptorSize = 4 + NameSize

	// Pixels are 32 bits (RGBA8888).
	BytesPerPixel = 4

	offSize               = 0
	offName               = offSize + 4
	offCancelled          = offName + NameSize
	offWidth              = offCancelled + 4
	offHeight             = offWidth + 4
	offTimestamp          = offHeight + 4
	offAck                = offTimestamp + 8
	offResponse           = offAck + futex.SlotSize
	offGeneration         = offResponse + futex.SlotSize
	offAckGeneration      = offGeneration + 4
	offResponseGeneration = offAckGeneration + 4

	// Size of the header; the input plane starts here.
	HeaderSize = offResponseGeneration + 8
)

// FrameSize returns the byte length of one plane.
func FrameSize(width, height int) int {
	return width * height * BytesPerPixel
}

// SegmentSize returns the exact size of a segment for the given geometry.
func SegmentSize(width, height int) int {
	return HeaderSize + 2*FrameSize(width, height)
}

func checkGeometry(width, height int) error {
	if width <= 0 || height <= 0 {
		return ErrBadGeometry
	}
	// The descriptor carries the size as a C int.
	if int64(width)*int64(height) > (math.MaxInt32-HeaderSize)/(2*BytesPerPixel) {
		return ErrTooLarge
	}
	return nil
}

// A Descriptor identifies a segment. It is the message sent on the
// notification queue.
type Descriptor struct {
	Size int
	Name string
}

func (d Descriptor) MarshalBinary() ([]byte, error) {
	w := packet.NewWriterSize(DescriptorSize, packet.NativeOrder)
	if d.Size < 0 || d.Size > math.MaxInt32 {
		return nil, ErrTooLarge
	}
	if err := w.WriteInt32(int32(d.Size)); err != nil {
		return nil, err
	}
	if err := w.WriteFixedString(d.Name, NameSize); err != nil {
		return nil, errors.Wrap(ErrNameTooLong, err.Error())
	}
	return w.Bytes(), nil
}

func (d *Descriptor) UnmarshalBinary(data []byte) error {
	if len(data) < DescriptorSize {
		return errors.Wrapf(ErrBadDescriptor, "%d bytes", len(data))
	}
	r := packet.NewReader(data[:DescriptorSize], packet.NativeOrder)
	size, err := r.ReadInt32()
	if err != nil {
		return err
	}
	name, err := r.ReadFixedString(NameSize)
	if err != nil {
		return err
	}
	if size < HeaderSize || name == "" {
		return errors.Wrapf(ErrBadDescriptor, "size %d, name %q", size, name)
	}
	d.Size = int(size)
	d.Name = name
	return nil
}

// A Plane locates one frame buffer inside a mapping.
type Plane struct {
	Offset int
	Length int
}

// Slice returns the plane's bytes within mem, refusing to reach past its end.
func (p Plane) Slice(mem []byte) ([]byte, error) {
	if p.Offset < 0 || p.Length < 0 || p.Offset > len(mem)-p.Length {
		return nil, errors.Wrapf(ErrOutOfBounds, "plane [%d, +%d) in %d bytes", p.Offset, p.Length, len(mem))
	}
	return mem[p.Offset : p.Offset+p.Length : p.Offset+p.Length], nil
}

// Input and output planes for the given geometry.
func planes(width, height int) (input, output Plane) {
	n := FrameSize(width, height)
	return Plane{HeaderSize, n}, Plane{HeaderSize + n, n}
}
