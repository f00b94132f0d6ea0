package bundle

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/anaminus/unityfile/cursor"
	"github.com/anaminus/unityfile/errors"
)

// Supported range of UnityWeb and UnityRaw format versions.
const (
	MinLegacyVersion = 2
	MaxLegacyVersion = 6
)

func legacyVersionError(v uint32) error {
	return errors.UnsupportedVersionError{Format: "legacy bundle", Version: strconv.FormatUint(uint64(v), 10)}
}

// legacyHeader holds the fields of a legacy header that follow the engine
// version.
type legacyHeader struct {
	MinStreamed      uint32
	HeaderSize       uint32
	LevelsBefore     uint32
	LevelCount       int32
	CompressedSize   uint32
	UncompressedSize uint32
	CompleteSize     uint32
	FileInfoSize     uint32
}

func (d Decoder) decodeLegacy(data []byte) (c *Container, warn, err error) {
	var warns errors.Errors
	c = &Container{}
	r := cursor.NewReader(data, binary.BigEndian)

	c.Signature = r.CString()
	c.FormatVersion = r.U32()
	c.PlayerVersion = r.CString()
	c.EngineVersion = r.CString()
	if r.Err() != nil {
		return nil, nil, decodeError(r, nil)
	}
	if c.FormatVersion < MinLegacyVersion || c.FormatVersion > MaxLegacyVersion {
		return nil, nil, legacyVersionError(c.FormatVersion)
	}
	if c.FormatVersion >= 4 {
		r.Read(c.Hash[:])
		c.CRC = r.U32()
	}

	var h legacyHeader
	h.MinStreamed = r.U32()
	h.HeaderSize = r.U32()
	h.LevelsBefore = r.U32()
	h.LevelCount = r.I32()
	if r.Err() != nil {
		return nil, nil, decodeError(r, nil)
	}
	if h.LevelCount < 1 {
		return nil, nil, decodeError(r, fmt.Errorf("invalid level count %d", h.LevelCount))
	}
	// Only the last level is read.
	r.Skip(8 * int64(h.LevelCount-1))
	h.CompressedSize = r.U32()
	h.UncompressedSize = r.U32()
	if c.FormatVersion >= 2 {
		h.CompleteSize = r.U32()
	}
	if c.FormatVersion >= 3 {
		h.FileInfoSize = r.U32()
	}
	if r.Err() != nil {
		return nil, nil, decodeError(r, nil)
	}
	if int64(h.HeaderSize) < r.Pos() {
		return nil, nil, decodeError(r, fmt.Errorf("header size %d overlaps header", h.HeaderSize))
	}
	if c.FormatVersion >= 2 && int64(h.CompleteSize) != int64(len(data)) {
		warns = warns.Append(fmt.Errorf("header declares bundle size %d, data has %d bytes", h.CompleteSize, len(data)))
	}

	r.SeekTo(int64(h.HeaderSize))
	content := r.Bytes(int64(h.CompressedSize))
	if r.Err() != nil {
		return nil, warns.Return(), decodeError(r, nil)
	}
	block := Block{UncompressedSize: h.UncompressedSize, CompressedSize: h.CompressedSize}
	if c.Signature == SigUnityWeb {
		block.Flags = uint16(LZMA)
		if content, err = decodeLZMAStream(content); err != nil {
			return nil, warns.Return(), errors.DataError{Offset: int64(h.HeaderSize), Cause: BlockError{Index: 0, Cause: err}}
		}
	}
	if uint32(len(content)) != h.UncompressedSize {
		warns = warns.Append(fmt.Errorf("content has %d bytes, header declares %d", len(content), h.UncompressedSize))
		block.UncompressedSize = uint32(len(content))
	}
	c.Blocks = []Block{block}

	if err := c.readDirectory(content); err != nil {
		return nil, warns.Return(), errors.DataError{Offset: int64(h.HeaderSize), Cause: err}
	}
	if err := c.setData(content); err != nil {
		return nil, warns.Return(), err
	}
	return c, warns.Return(), nil
}

// readDirectory reads the directory at the start of the content of a legacy
// bundle.
func (c *Container) readDirectory(content []byte) error {
	r := cursor.NewReader(content, binary.BigEndian)
	n := r.I32()
	if r.Err() != nil {
		return r.Err()
	}
	// Each record is at least 9 bytes.
	if n < 0 || int64(n)*9 > r.Len() {
		return fmt.Errorf("invalid entry count %d", n)
	}
	c.Entries = make([]Entry, n)
	for i := range c.Entries {
		e := &c.Entries[i]
		e.Path = r.CString()
		e.Offset = int64(r.U32())
		e.Size = int64(r.U32())
	}
	return r.Err()
}

func (e Encoder) encodeLegacy(c *Container) ([]byte, error) {
	if c.FormatVersion < MinLegacyVersion || c.FormatVersion > MaxLegacyVersion {
		return nil, legacyVersionError(c.FormatVersion)
	}
	data, entries := contiguous(c)

	dirSize := int64(4)
	for _, en := range entries {
		dirSize += int64(len(en.Path)) + 1 + 8
	}
	dirSize = (dirSize + 3) &^ 3

	cw := cursor.NewWriter(binary.BigEndian)
	cw.I32(int32(len(entries)))
	for _, en := range entries {
		cw.CString(en.Path)
		cw.U32(uint32(dirSize + en.Offset))
		cw.U32(uint32(en.Size))
	}
	cw.Align(4)
	cw.Write(data)
	if err := cw.Err(); err != nil {
		return nil, err
	}
	content := cw.Data()
	uncompressed := len(content)
	if c.Signature == SigUnityWeb {
		var err error
		if content, err = compressLZMA(content, true); err != nil {
			return nil, err
		}
	}

	w := cursor.NewWriter(binary.BigEndian)
	w.CString(c.Signature)
	w.U32(c.FormatVersion)
	w.CString(c.PlayerVersion)
	w.CString(c.EngineVersion)

	headerSize := w.Pos() + 24
	if c.FormatVersion >= 2 {
		headerSize += 4
	}
	if c.FormatVersion >= 3 {
		headerSize += 4
	}
	if c.FormatVersion >= 4 {
		headerSize += 20
	}
	headerSize = (headerSize + 3) &^ 3
	complete := uint32(headerSize) + uint32(len(content))

	if c.FormatVersion >= 4 {
		w.Write(c.Hash[:])
		w.U32(c.CRC)
	}
	w.U32(complete)
	w.U32(uint32(headerSize))
	w.U32(1)
	w.I32(1)
	w.U32(uint32(len(content)))
	w.U32(uint32(uncompressed))
	if c.FormatVersion >= 2 {
		w.U32(complete)
	}
	if c.FormatVersion >= 3 {
		w.U32(uint32(dirSize))
	}
	w.Align(4)
	w.Write(content)
	if err := w.Err(); err != nil {
		return nil, err
	}
	return w.Data(), nil
}
