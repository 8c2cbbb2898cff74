package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// fieldReader walks a big-endian payload. The first short read sticks as err
// and every later call returns zero values.
type fieldReader struct {
	buf []byte
	off int
	err error
}

func newFieldReader(buf []byte) *fieldReader {
	return &fieldReader{buf: buf}
}

func (r *fieldReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("need %d bytes at offset %d, have %d", n, r.off, len(r.buf)-r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *fieldReader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *fieldReader) i8() int8 { return int8(r.u8()) }

func (r *fieldReader) bool() bool { return r.u8() != 0 }

func (r *fieldReader) i16() int16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return int16(binary.BigEndian.Uint16(b))
}

func (r *fieldReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *fieldReader) i32() int32 { return int32(r.u32()) }

func (r *fieldReader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *fieldReader) f32() float32 {
	return math.Float32frombits(r.u32())
}

func (r *fieldReader) f64() float64 {
	return math.Float64frombits(r.u64())
}

func (r *fieldReader) str(n int) string {
	return string(r.take(n))
}

// rest consumes everything that is left.
func (r *fieldReader) rest() string {
	if r.err != nil {
		return ""
	}
	s := string(r.buf[r.off:])
	r.off = len(r.buf)
	return s
}

func (r *fieldReader) remaining() int {
	if r.err != nil {
		return 0
	}
	return len(r.buf) - r.off
}
