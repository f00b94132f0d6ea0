package bundle

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"

	"github.com/anaminus/unityfile/cursor"
	"github.com/anaminus/unityfile/errors"
)

var (
	gzipMagic   = []byte{0x1f, 0x8b}
	brotliMagic = []byte("brotli")
)

// brotliMagicOffset is where Unity's brotli encoder leaves its marker.
const brotliMagicOffset = 0x20

func isWebSignature(sig string) bool {
	return strings.HasPrefix(sig, "UnityWebData") || strings.HasPrefix(sig, "TuanjieWebData")
}

// unpacker returns a reader of the unpacked data of a web data file, and the
// packer that was detected.
func unpacker(data []byte) (io.Reader, Packer, error) {
	switch {
	case bytes.HasPrefix(data, gzipMagic):
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, PackerGzip, err
		}
		return r, PackerGzip, nil
	case len(data) >= brotliMagicOffset+len(brotliMagic) &&
		bytes.Equal(data[brotliMagicOffset:brotliMagicOffset+len(brotliMagic)], brotliMagic):
		return brotli.NewReader(bytes.NewReader(data)), PackerBrotli, nil
	case isWebSignature(signature(data, 20)):
		return bytes.NewReader(data), PackerNone, nil
	}
	// Brotli streams written by other encoders carry no marker.
	return brotli.NewReader(bytes.NewReader(data)), PackerBrotli, nil
}

// isWebData returns whether data is a web data file, possibly packed.
func isWebData(data []byte) bool {
	if isWebSignature(signature(data, 20)) {
		return true
	}
	r, _, err := unpacker(data)
	if err != nil {
		return false
	}
	head := make([]byte, 20)
	n, _ := io.ReadFull(r, head)
	return isWebSignature(signature(head[:n], 20))
}

func (d Decoder) decodeWebData(data []byte) (c *Container, warn, err error) {
	ur, packer, err := unpacker(data)
	if err != nil {
		return nil, nil, errors.DataError{Offset: 0, Cause: fmt.Errorf("%s: %w", packer, err)}
	}
	if packer != PackerNone {
		if data, err = io.ReadAll(ur); err != nil {
			return nil, nil, errors.DataError{Offset: 0, Cause: fmt.Errorf("%s: %w", packer, err)}
		}
	}

	c = &Container{Packer: packer}
	r := cursor.NewReader(data, binary.LittleEndian)
	c.Signature = r.CString()
	if r.Err() != nil {
		return nil, nil, decodeError(r, nil)
	}
	if !isWebSignature(c.Signature) {
		return nil, nil, errors.ErrBadSignature
	}
	headLength := int64(r.I32())
	if r.Err() != nil {
		return nil, nil, decodeError(r, nil)
	}
	if headLength > r.Size() {
		return nil, nil, decodeError(r, errors.TruncatedError{Offset: r.Pos(), Need: headLength - r.Pos(), Have: r.Len()})
	}
	for r.Pos() < headLength {
		var e Entry
		e.Offset = int64(r.I32())
		e.Size = int64(r.I32())
		n := r.I32()
		if r.Err() != nil {
			return nil, nil, decodeError(r, nil)
		}
		if n < 0 {
			return nil, nil, decodeError(r, fmt.Errorf("invalid path length %d", n))
		}
		e.Path = string(r.Bytes(int64(n)))
		if r.Err() != nil {
			return nil, nil, decodeError(r, nil)
		}
		c.Entries = append(c.Entries, e)
	}
	if err := c.setData(data); err != nil {
		return nil, nil, err
	}
	return c, nil, nil
}

func (e Encoder) encodeWebData(c *Container) ([]byte, error) {
	files := c.Extract()

	w := cursor.NewWriter(binary.LittleEndian)
	w.CString(c.Signature)
	offset := w.Pos() + 4
	for _, f := range files {
		offset += 12 + int64(len(f.Name))
	}
	w.I32(int32(offset))
	for _, f := range files {
		w.I32(int32(offset))
		w.I32(int32(len(f.Data)))
		w.I32(int32(len(f.Name)))
		w.Write([]byte(f.Name))
		offset += int64(len(f.Data))
	}
	for _, f := range files {
		w.Write(f.Data)
	}
	if err := w.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	var pw io.WriteCloser
	switch c.Packer {
	case PackerNone:
		return w.Data(), nil
	case PackerGzip:
		pw = gzip.NewWriter(&buf)
	case PackerBrotli:
		pw = brotli.NewWriter(&buf)
	default:
		return nil, fmt.Errorf("unknown packer %q", c.Packer)
	}
	if _, err := pw.Write(w.Data()); err != nil {
		return nil, fmt.Errorf("%s: %w", c.Packer, err)
	}
	if err := pw.Close(); err != nil {
		return nil, fmt.Errorf("%s: %w", c.Packer, err)
	}
	return buf.Bytes(), nil
}
