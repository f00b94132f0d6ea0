// The cursor package provides endian-aware primitive decoding and encoding
// over in-memory byte buffers.
//
// Failures latch: once a read fails, every following read fails and returns
// zero values, and Err reports the first error. This lets a decoder read a
// group of fields before checking for an error once.
package cursor

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/anaminus/parse"
	"golang.org/x/exp/constraints"

	"github.com/anaminus/unityfile/errors"
)

// Number is the set of types that can be read and written as fixed-width
// numbers.
type Number interface {
	constraints.Integer | constraints.Float
}

// Reader reads primitives from a byte slice.
type Reader struct {
	// Order is the byte order of multi-byte reads. It may be changed at any
	// time.
	Order binary.ByteOrder

	data    []byte
	src     *bytes.Reader
	fr      *parse.BinaryReader
	scratch [8]byte
}

// NewReader returns a Reader over data, starting at position 0 with the given
// byte order.
func NewReader(data []byte, order binary.ByteOrder) *Reader {
	src := bytes.NewReader(data)
	return &Reader{
		Order: order,
		data:  data,
		src:   src,
		fr:    parse.NewBinaryReader(src),
	}
}

// Data returns the underlying byte slice.
func (r *Reader) Data() []byte {
	return r.data
}

// Err returns the first error that occurred while reading.
func (r *Reader) Err() error {
	return r.fr.Err()
}

// Fail latches err, unless an error was already latched. Returns whether the
// reader has failed.
func (r *Reader) Fail(err error) (failed bool) {
	if r.fr.Err() != nil {
		return true
	}
	return r.fr.Add(0, err)
}

// Pos returns the current position.
func (r *Reader) Pos() int64 {
	return int64(len(r.data)) - int64(r.src.Len())
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int64 {
	return int64(r.src.Len())
}

// Size returns the length of the underlying data.
func (r *Reader) Size() int64 {
	return int64(len(r.data))
}

// SeekTo sets the position to pos. Seeking past the end of the data fails with
// a truncation error.
func (r *Reader) SeekTo(pos int64) (failed bool) {
	if r.fr.Err() != nil {
		return true
	}
	if pos < 0 || pos > int64(len(r.data)) {
		return r.fr.Add(0, errors.TruncatedError{Offset: r.Pos(), Need: pos - r.Pos(), Have: r.Len()})
	}
	r.src.Seek(pos, io.SeekStart)
	return false
}

// Skip advances the position by n bytes.
func (r *Reader) Skip(n int64) (failed bool) {
	return r.SeekTo(r.Pos() + n)
}

// Align advances the position to the next multiple of n.
func (r *Reader) Align(n int64) (failed bool) {
	if rem := r.Pos() % n; rem != 0 {
		return r.Skip(n - rem)
	}
	return r.fr.Err() != nil
}

func (r *Reader) need(n int64) (failed bool) {
	if r.fr.Err() != nil {
		return true
	}
	if n < 0 || n > r.Len() {
		return r.fr.Add(0, errors.TruncatedError{Offset: r.Pos(), Need: n, Have: r.Len()})
	}
	return false
}

// Read fills p from the current position.
func (r *Reader) Read(p []byte) (failed bool) {
	if r.need(int64(len(p))) {
		return true
	}
	return r.fr.Bytes(p)
}

// Bytes returns a copy of the next n bytes.
func (r *Reader) Bytes(n int64) []byte {
	if r.need(n) {
		return nil
	}
	p := make([]byte, n)
	if r.fr.Bytes(p) {
		return nil
	}
	return p
}

// Peek returns the next n bytes without advancing. The result aliases the
// underlying data.
func (r *Reader) Peek(n int64) []byte {
	if r.need(n) {
		return nil
	}
	pos := r.Pos()
	return r.data[pos : pos+n]
}

func (r *Reader) fixed(n int) []byte {
	b := r.scratch[:n]
	if r.Read(b) {
		for i := range b {
			b[i] = 0
		}
	}
	return b
}

func (r *Reader) U8() uint8 {
	return r.fixed(1)[0]
}

func (r *Reader) I8() int8 {
	return int8(r.fixed(1)[0])
}

func (r *Reader) Bool() bool {
	return r.fixed(1)[0] != 0
}

func (r *Reader) U16() uint16 {
	return r.Order.Uint16(r.fixed(2))
}

func (r *Reader) I16() int16 {
	return int16(r.Order.Uint16(r.fixed(2)))
}

func (r *Reader) U32() uint32 {
	return r.Order.Uint32(r.fixed(4))
}

func (r *Reader) I32() int32 {
	return int32(r.Order.Uint32(r.fixed(4)))
}

func (r *Reader) U64() uint64 {
	return r.Order.Uint64(r.fixed(8))
}

func (r *Reader) I64() int64 {
	return int64(r.Order.Uint64(r.fixed(8)))
}

func (r *Reader) F32() float32 {
	return math.Float32frombits(r.U32())
}

func (r *Reader) F64() float64 {
	return math.Float64frombits(r.U64())
}

// Number reads into the value pointed to by v, which must be a pointer to a
// fixed-width number or bool.
func (r *Reader) Number(v interface{}) (failed bool) {
	switch v := v.(type) {
	case *int8:
		*v = r.I8()
	case *uint8:
		*v = r.U8()
	case *bool:
		*v = r.Bool()
	case *int16:
		*v = r.I16()
	case *uint16:
		*v = r.U16()
	case *int32:
		*v = r.I32()
	case *uint32:
		*v = r.U32()
	case *int64:
		*v = r.I64()
	case *uint64:
		*v = r.U64()
	case *float32:
		*v = r.F32()
	case *float64:
		*v = r.F64()
	default:
		n := binary.Size(v)
		if n < 0 {
			return r.Fail(errors.New("cursor: unsupported number type"))
		}
		b := r.Bytes(int64(n))
		if b == nil {
			return true
		}
		if err := binary.Read(bytes.NewReader(b), r.Order, v); err != nil {
			return r.Fail(err)
		}
	}
	return r.fr.Err() != nil
}

// AlignedString reads a string prefixed with its 32-bit length, then aligns
// to 4 bytes.
func (r *Reader) AlignedString() string {
	s := r.PrefixedString()
	r.Align(4)
	return s
}

// PrefixedString reads a string prefixed with its 32-bit length.
func (r *Reader) PrefixedString() string {
	n := r.I32()
	if n < 0 {
		r.Fail(errors.DataError{Offset: r.Pos() - 4, Cause: errors.New("negative string length")})
		return ""
	}
	return string(r.Bytes(int64(n)))
}

// CString reads a NUL-terminated string. Missing termination is a truncation
// error.
func (r *Reader) CString() string {
	if r.fr.Err() != nil {
		return ""
	}
	rest := r.data[r.Pos():]
	i := bytes.IndexByte(rest, 0)
	if i < 0 {
		r.fr.Add(0, errors.TruncatedError{Offset: r.Pos(), Need: int64(len(rest)) + 1, Have: int64(len(rest))})
		return ""
	}
	s := string(r.Bytes(int64(i)))
	r.Skip(1)
	return s
}

// ReadArray reads n numbers of type T.
func ReadArray[T Number](r *Reader, n int) []T {
	var zero T
	size := binary.Size(zero)
	if size < 0 {
		r.Fail(errors.New("cursor: unsupported array element type"))
		return nil
	}
	if n < 0 {
		r.Fail(errors.DataError{Offset: r.Pos(), Cause: errors.New("negative array length")})
		return nil
	}
	b := r.Bytes(int64(n) * int64(size))
	if b == nil {
		return nil
	}
	a := make([]T, n)
	if err := binary.Read(bytes.NewReader(b), r.Order, a); err != nil {
		r.Fail(err)
		return nil
	}
	return a
}

// ReadPrefixedArray reads a 32-bit count followed by that many numbers of
// type T.
func ReadPrefixedArray[T Number](r *Reader) []T {
	return ReadArray[T](r, int(r.I32()))
}
