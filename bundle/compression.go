package bundle

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/bkaradzic/go-lz4"
	"github.com/ulikunitz/xz/lzma"

	"github.com/anaminus/unityfile/errors"
)

// Compression is the codec of a block, stored in the low bits of block and
// archive flags.
type Compression uint32

const (
	None Compression = iota
	LZMA
	LZ4
	LZ4HC
	LZHAM
)

// CompressionMask selects the compression bits of a flags value.
const CompressionMask = 0x3f

// lz4ChunkSize is the size of the blocks that LZ4 data is split into when
// encoding.
const lz4ChunkSize = 0x20000

// lzmaDictCap is the dictionary size used for encoding LZMA.
const lzmaDictCap = 0x800000

// Largest ratio of decoded to encoded size produced by each codec. Slack
// covers the fixed overhead of short inputs.
const (
	lz4MaxRatio   = 255
	lzmaMaxRatio  = 1 << 16
	maxRatioSlack = 1 << 10
)

func (c Compression) String() string {
	switch c {
	case None:
		return "None"
	case LZMA:
		return "LZMA"
	case LZ4:
		return "LZ4"
	case LZ4HC:
		return "LZ4HC"
	case LZHAM:
		return "LZHAM"
	}
	return "Compression(" + strconv.FormatUint(uint64(c), 10) + ")"
}

func (c Compression) unsupported() error {
	if c == LZHAM {
		return errors.UnsupportedCompressionError{Type: uint32(c), Name: c.String()}
	}
	return errors.UnsupportedCompressionError{Type: uint32(c)}
}

// SizeError indicates a declared decoded size that the encoded data cannot
// produce.
type SizeError struct {
	Compression Compression
	Size        int64
	Compressed  int64
}

func (err SizeError) Error() string {
	return fmt.Sprintf("%s: %d bytes cannot decode to declared size %d", err.Compression, err.Compressed, err.Size)
}

// CheckSize returns an error if compressed bytes encoded with c cannot decode
// to size bytes.
func (c Compression) CheckSize(size, compressed int64) error {
	if size < 0 || compressed < 0 {
		return SizeError{Compression: c, Size: size, Compressed: compressed}
	}
	var limit int64
	switch c {
	case None:
		if size != compressed {
			return SizeError{Compression: c, Size: size, Compressed: compressed}
		}
		return nil
	case LZ4, LZ4HC:
		limit = compressed*lz4MaxRatio + maxRatioSlack
	case LZMA:
		limit = compressed*lzmaMaxRatio + maxRatioSlack
	default:
		return c.unsupported()
	}
	if size > limit {
		return SizeError{Compression: c, Size: size, Compressed: compressed}
	}
	return nil
}

// Decompress decodes src into dst. The length of dst is the expected size of
// the decoded data.
func (c Compression) Decompress(dst, src []byte) error {
	switch c {
	case None:
		if len(src) != len(dst) {
			return fmt.Errorf("uncompressed block size %d does not match expected %d", len(src), len(dst))
		}
		copy(dst, src)
		return nil
	case LZMA:
		return decompressLZMA(dst, src, false)
	case LZ4, LZ4HC:
		return decompressLZ4(dst, src)
	}
	return c.unsupported()
}

// Compress encodes src. LZ4 and LZ4HC produce the same encoding.
func (c Compression) Compress(src []byte) ([]byte, error) {
	switch c {
	case None:
		return append([]byte(nil), src...), nil
	case LZMA:
		return compressLZMA(src, false)
	case LZ4, LZ4HC:
		return compressLZ4(src)
	}
	return nil, c.unsupported()
}

func decompressLZ4(dst, src []byte) error {
	if len(dst) == 0 {
		return nil
	}
	// lz4 requires the uncompressed length before the compressed data.
	data := make([]byte, len(src)+4)
	binary.LittleEndian.PutUint32(data, uint32(len(dst)))
	copy(data[4:], src)
	out, err := lz4.Decode(dst, data)
	if err != nil {
		return fmt.Errorf("lz4: %w", err)
	}
	if len(out) != len(dst) {
		return fmt.Errorf("lz4: decoded %d bytes, expected %d", len(out), len(dst))
	}
	if &out[0] != &dst[0] {
		copy(dst, out)
	}
	return nil
}

func compressLZ4(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return []byte{}, nil
	}
	data, err := lz4.Encode(nil, src)
	if err != nil {
		return nil, fmt.Errorf("lz4: %w", err)
	}
	// Exclude the uncompressed length prepended by lz4.
	return data[4:], nil
}

// decompressLZMA decodes a raw LZMA stream. The stream begins with the
// property byte and the 4-byte dictionary size. If sized is true, an 8-byte
// uncompressed size follows.
func decompressLZMA(dst, src []byte, sized bool) error {
	n := 5
	if sized {
		n = 13
	}
	if len(src) < n {
		return errors.TruncatedError{Offset: 0, Need: int64(n), Have: int64(len(src))}
	}
	// The reader expects the 13-byte header of the classic format.
	header := make([]byte, 13)
	copy(header, src[:5])
	binary.LittleEndian.PutUint64(header[5:], uint64(len(dst)))
	r, err := lzma.NewReader(io.MultiReader(bytes.NewReader(header), bytes.NewReader(src[n:])))
	if err != nil {
		return fmt.Errorf("lzma: %w", err)
	}
	if _, err := io.ReadFull(r, dst); err != nil {
		return fmt.Errorf("lzma: %w", err)
	}
	return nil
}

// decodeLZMAStream decodes an LZMA stream whose header carries the
// uncompressed size.
func decodeLZMAStream(src []byte) ([]byte, error) {
	if len(src) < 13 {
		return nil, errors.TruncatedError{Offset: 0, Need: 13, Have: int64(len(src))}
	}
	size := binary.LittleEndian.Uint64(src[5:13])
	if size > math.MaxUint32 {
		return nil, fmt.Errorf("lzma: uncompressed size %d too large", size)
	}
	if err := LZMA.CheckSize(int64(size), int64(len(src)-13)); err != nil {
		return nil, err
	}
	dst := make([]byte, size)
	if err := decompressLZMA(dst, src, true); err != nil {
		return nil, err
	}
	return dst, nil
}

func compressLZMA(src []byte, sized bool) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.WriterConfig{
		Properties:   &lzma.Properties{LC: 3, LP: 0, PB: 2},
		DictCap:      lzmaDictCap,
		SizeInHeader: true,
		Size:         int64(len(src)),
	}.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("lzma: %w", err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("lzma: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lzma: %w", err)
	}
	data := buf.Bytes()
	if sized {
		return data, nil
	}
	// Drop the uncompressed size from the header.
	out := make([]byte, 0, len(data)-8)
	out = append(out, data[:5]...)
	return append(out, data[13:]...), nil
}
