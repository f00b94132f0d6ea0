package cursor

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/anaminus/parse"

	"github.com/anaminus/unityfile/errors"
)

// Writer is the mirror of Reader. It encodes primitives into a growable
// buffer.
type Writer struct {
	// Order is the byte order of multi-byte writes. It may be changed at any
	// time.
	Order binary.ByteOrder

	buf     bytes.Buffer
	fw      *parse.BinaryWriter
	scratch [8]byte
}

// NewWriter returns an empty Writer with the given byte order.
func NewWriter(order binary.ByteOrder) *Writer {
	w := &Writer{Order: order}
	w.fw = parse.NewBinaryWriter(&w.buf)
	return w
}

// Err returns the first error that occurred while writing.
func (w *Writer) Err() error {
	return w.fw.Err()
}

// Fail latches err. Returns whether the writer has failed.
func (w *Writer) Fail(err error) (failed bool) {
	if w.fw.Err() != nil {
		return true
	}
	return w.fw.Add(0, err)
}

// Pos returns the number of bytes written.
func (w *Writer) Pos() int64 {
	return int64(w.buf.Len())
}

// Data returns the written bytes. The result aliases the buffer until the
// next write.
func (w *Writer) Data() []byte {
	return w.buf.Bytes()
}

// Write appends p.
func (w *Writer) Write(p []byte) (failed bool) {
	return w.fw.Bytes(p)
}

// PutAt overwrites previously written bytes at pos with p.
func (w *Writer) PutAt(pos int64, p []byte) (failed bool) {
	if w.fw.Err() != nil {
		return true
	}
	if pos < 0 || pos+int64(len(p)) > w.Pos() {
		return w.fw.Add(0, errors.TruncatedError{Offset: pos, Need: int64(len(p)), Have: w.Pos() - pos})
	}
	copy(w.buf.Bytes()[pos:], p)
	return false
}

// Zero appends n zero bytes.
func (w *Writer) Zero(n int64) (failed bool) {
	if n <= 0 {
		return w.fw.Err() != nil
	}
	return w.fw.Bytes(make([]byte, n))
}

// Align pads with zeros up to the next multiple of n.
func (w *Writer) Align(n int64) (failed bool) {
	if rem := w.Pos() % n; rem != 0 {
		return w.Zero(n - rem)
	}
	return w.fw.Err() != nil
}

func (w *Writer) U8(v uint8) (failed bool) {
	w.scratch[0] = v
	return w.fw.Bytes(w.scratch[:1])
}

func (w *Writer) I8(v int8) (failed bool) {
	return w.U8(uint8(v))
}

func (w *Writer) Bool(v bool) (failed bool) {
	if v {
		return w.U8(1)
	}
	return w.U8(0)
}

func (w *Writer) U16(v uint16) (failed bool) {
	w.Order.PutUint16(w.scratch[:2], v)
	return w.fw.Bytes(w.scratch[:2])
}

func (w *Writer) I16(v int16) (failed bool) {
	return w.U16(uint16(v))
}

func (w *Writer) U32(v uint32) (failed bool) {
	w.Order.PutUint32(w.scratch[:4], v)
	return w.fw.Bytes(w.scratch[:4])
}

func (w *Writer) I32(v int32) (failed bool) {
	return w.U32(uint32(v))
}

func (w *Writer) U64(v uint64) (failed bool) {
	w.Order.PutUint64(w.scratch[:8], v)
	return w.fw.Bytes(w.scratch[:8])
}

func (w *Writer) I64(v int64) (failed bool) {
	return w.U64(uint64(v))
}

func (w *Writer) F32(v float32) (failed bool) {
	return w.U32(math.Float32bits(v))
}

func (w *Writer) F64(v float64) (failed bool) {
	return w.U64(math.Float64bits(v))
}

// Number writes v, which must be a fixed-width number or bool.
func (w *Writer) Number(v interface{}) (failed bool) {
	switch v := v.(type) {
	case int8:
		return w.I8(v)
	case uint8:
		return w.U8(v)
	case bool:
		return w.Bool(v)
	case int16:
		return w.I16(v)
	case uint16:
		return w.U16(v)
	case int32:
		return w.I32(v)
	case uint32:
		return w.U32(v)
	case int64:
		return w.I64(v)
	case uint64:
		return w.U64(v)
	case float32:
		return w.F32(v)
	case float64:
		return w.F64(v)
	default:
		var b bytes.Buffer
		if err := binary.Write(&b, w.Order, v); err != nil {
			return w.Fail(err)
		}
		return w.fw.Bytes(b.Bytes())
	}
}

// PrefixedString writes s prefixed with its 32-bit length.
func (w *Writer) PrefixedString(s string) (failed bool) {
	if w.I32(int32(len(s))) {
		return true
	}
	return w.fw.Bytes([]byte(s))
}

// AlignedString writes s prefixed with its 32-bit length, then aligns to 4
// bytes.
func (w *Writer) AlignedString(s string) (failed bool) {
	if w.PrefixedString(s) {
		return true
	}
	return w.Align(4)
}

// CString writes s followed by a NUL byte.
func (w *Writer) CString(s string) (failed bool) {
	if w.fw.Bytes([]byte(s)) {
		return true
	}
	return w.U8(0)
}

// WriteArray writes each number in a.
func WriteArray[T Number](w *Writer, a []T) (failed bool) {
	var b bytes.Buffer
	if err := binary.Write(&b, w.Order, a); err != nil {
		return w.Fail(err)
	}
	return w.fw.Bytes(b.Bytes())
}

// WritePrefixedArray writes the 32-bit length of a, followed by a.
func WritePrefixedArray[T Number](w *Writer, a []T) (failed bool) {
	if w.I32(int32(len(a))) {
		return true
	}
	return WriteArray(w, a)
}
