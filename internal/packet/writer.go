package packet

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Records shared with processes on the same host use the host's byte order.
var NativeOrder binary.ByteOrder = binary.NativeEndian

type Writer struct {
	buffer []byte
	offset int
	order  binary.ByteOrder
}

func NewWriter(buffer []byte, order binary.ByteOrder) *Writer {
	return &Writer{buffer, 0, order}
}

func NewWriterSize(n int, order binary.ByteOrder) *Writer {
	return NewWriter(make([]byte, n), order)
}

func (w *Writer) WriteByte(v byte) error {
	if err := w.CheckCapacity(1); err != nil {
		return err
	}
	w.buffer[w.offset] = v
	w.offset++
	return nil
}

func (w *Writer) WriteUint32(v uint32) error {
	if err := w.CheckCapacity(4); err != nil {
		return err
	}
	w.order.PutUint32(w.buffer[w.offset:], v)
	w.offset += 4
	return nil
}

func (w *Writer) WriteInt32(v int32) error {
	return w.WriteUint32(uint32(v))
}

func (w *Writer) WriteUint64(v uint64) error {
	if err := w.CheckCapacity(8); err != nil {
		return err
	}
	w.order.PutUint64(w.buffer[w.offset:], v)
	w.offset += 8
	return nil
}

func (w *Writer) WriteFloat64(v float64) error {
	return w.WriteUint64(math.Float64bits(v))
}

// Write s into a fixed-width, NUL-padded field of n bytes. At least one
// trailing NUL is always written, so len(s) must be less than n.
func (w *Writer) WriteFixedString(s string, n int) error {
	if len(s) >= n {
		return fmt.Errorf("string of %d bytes does not fit a %d byte field", len(s), n)
	}
	if err := w.CheckCapacity(n); err != nil {
		return err
	}
	copy(w.buffer[w.offset:], s)
	clear(w.buffer[w.offset+len(s) : w.offset+n])
	w.offset += n
	return nil
}

// Write the given bytes, if there is enough room.
func (w *Writer) WriteSlice(p []byte) error {
	if err := w.CheckCapacity(len(p)); err != nil {
		return err
	}
	w.offset += copy(w.buffer[w.offset:], p)
	return nil
}

func (w *Writer) ZeroPad(n int) error {
	if err := w.CheckCapacity(n); err != nil {
		return err
	}
	clear(w.buffer[w.offset : w.offset+n])
	w.offset += n
	return nil
}

// Pad with zeros up to the next multiple of width, e.g. Align(4) adds zero
// bytes until the next 4-byte boundary.
func (w *Writer) Align(width int) error {
	boundary := width * ((w.offset + width - 1) / width)
	return w.ZeroPad(boundary - w.offset)
}

// Return the number of bytes written so far.
func (w *Writer) Length() int {
	return w.offset
}

// Return the number of bytes that can still be written.
func (w *Writer) Capacity() int {
	return len(w.buffer) - w.offset
}

func (w *Writer) CheckCapacity(needed int) error {
	if w.Capacity() < needed {
		return fmt.Errorf("%d bytes available, %d needed", w.Capacity(), needed)
	}
	return nil
}

// Return a slice of the bytes written so far.
func (w *Writer) Bytes() []byte {
	return w.buffer[0:w.offset]
}

func (w *Writer) Reset() {
	w.offset = 0
}
