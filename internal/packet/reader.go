package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

type Reader struct {
	buffer []byte
	offset int
	order  binary.ByteOrder
}

func NewReader(buffer []byte, order binary.ByteOrder) *Reader {
	return &Reader{buffer, 0, order}
}

func (r *Reader) ReadUint32() (uint32, error) {
	if err := r.CheckRemaining(4); err != nil {
		return 0, err
	}
	v := r.order.Uint32(r.buffer[r.offset:])
	r.offset += 4
	return v, nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	if err := r.CheckRemaining(8); err != nil {
		return 0, err
	}
	v := r.order.Uint64(r.buffer[r.offset:])
	r.offset += 8
	return v, nil
}

func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	return math.Float64frombits(v), err
}

func (r *Reader) ReadSlice(n int) ([]byte, error) {
	if err := r.CheckRemaining(n); err != nil {
		return nil, err
	}
	v := r.buffer[r.offset : r.offset+n]
	r.offset += n
	return v, nil
}

// Read a fixed-width, NUL-padded field of n bytes. The string ends at the
// first NUL.
func (r *Reader) ReadFixedString(n int) (string, error) {
	field, err := r.ReadSlice(n)
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return string(field), nil
}

func (r *Reader) Skip(n int) error {
	if err := r.CheckRemaining(n); err != nil {
		return err
	}
	r.offset += n
	return nil
}

// Discard bytes up to the next multiple of width, e.g. Align(4) skips ahead
// until the next aligned 4-byte boundary.
func (r *Reader) Align(width int) error {
	return r.Skip(width*((r.offset+width-1)/width) - r.offset)
}

// Return the number of bytes read so far.
func (r *Reader) Offset() int {
	return r.offset
}

// Return the number of bytes left in the buffer.
func (r *Reader) Remaining() int {
	return len(r.buffer) - r.offset
}

func (r *Reader) CheckRemaining(needed int) error {
	if r.Remaining() < needed {
		return fmt.Errorf("%d bytes remaining, %d needed", r.Remaining(), needed)
	}
	return nil
}
