package bundle

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/anaminus/unityfile"
	"github.com/anaminus/unityfile/cursor"
	"github.com/anaminus/unityfile/errors"
)

// Archive flags of a UnityFS bundle.
const (
	FlagCombined     = 0x40
	FlagInfoAtEnd    = 0x80
	FlagOldWebPlugin = 0x100
	// FlagPaddingAtStart is present only in the new flag layout.
	FlagPaddingAtStart = 0x200
	FlagEncryptedNew   = 0x400
	FlagEncryptedOld   = 0x200
)

// BlockEncrypted marks a block encrypted with UnityCN.
const BlockEncrypted = 0x100

// Supported range of UnityFS format versions.
const (
	MinFSVersion = 6
	MaxFSVersion = 8
)

// blocksHashSize is the size of the hash at the start of the blocks info.
const blocksHashSize = 16

// BlockError wraps an error that occurred while decoding a block.
type BlockError struct {
	Index int
	Cause error
}

func (err BlockError) Error() string {
	return fmt.Sprintf("block #%d: %s", err.Index, err.Cause.Error())
}

func (err BlockError) Unwrap() error {
	return err.Cause
}

// newFlagLayout returns whether an engine version uses the new layout of
// archive flags.
func newFlagLayout(v unityfile.Version) bool {
	switch {
	case v.Major >= 2023:
		return true
	case v.Major == 2022:
		return v.AtLeast(2022, 1, 1)
	case v.Major == 2021:
		return v.AtLeast(2021, 3, 2)
	case v.Major == 2020:
		return v.AtLeast(2020, 3, 34)
	}
	return false
}

// encryptionFlag returns the archive flag that marks encryption.
func (c *Container) encryptionFlag() uint32 {
	if c.NewFlags {
		return FlagEncryptedNew
	}
	return FlagEncryptedOld
}

// padsHeader returns whether a header written by version v of the engine is
// padded to 16 bytes when the format version does not require it.
func padsHeader(v unityfile.Version) bool {
	return v.AtLeast(2019, 4, 0)
}

func (d Decoder) decodeFS(data []byte) (c *Container, warn, err error) {
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
	if c.FormatVersion < MinFSVersion || c.FormatVersion > MaxFSVersion {
		return nil, nil, errors.UnsupportedVersionError{Format: "UnityFS", Version: strconv.FormatUint(uint64(c.FormatVersion), 10)}
	}

	size := r.I64()
	infoCompressed := r.U32()
	infoSize := r.U32()
	c.Flags = r.U32()
	if r.Err() != nil {
		return nil, nil, decodeError(r, nil)
	}
	if size != int64(len(data)) {
		warns = warns.Append(fmt.Errorf("header declares bundle size %d, data has %d bytes", size, len(data)))
	}

	v, verr := unityfile.ResolveVersion(c.EngineVersion, d.FallbackVersion)
	if verr != nil && c.Flags&(FlagEncryptedNew|FlagEncryptedOld) != 0 {
		// The meaning of these flags depends on the engine version.
		return nil, warns.Return(), verr
	}
	c.NewFlags = newFlagLayout(v)

	var dec *cnDecryptor
	if c.Flags&c.encryptionFlag() != 0 {
		c.Encrypted = true
		if len(d.Key) == 0 {
			return nil, warns.Return(), errors.ErrMissingDecryptKey
		}
		vectors, failed := readCNVectors(r)
		if failed {
			return nil, warns.Return(), decodeError(r, nil)
		}
		if dec, err = newCNDecryptor(d.Key, vectors); err != nil {
			return nil, warns.Return(), decodeError(r, err)
		}
	}

	if c.FormatVersion >= 7 {
		r.Align(16)
	} else if padsHeader(v) {
		if rem := r.Pos() % 16; rem != 0 && r.Len() >= 16-rem {
			if isZero(r.Peek(16 - rem)) {
				r.Skip(16 - rem)
			}
		}
	}
	if r.Err() != nil {
		return nil, warns.Return(), decodeError(r, nil)
	}

	var info []byte
	if c.Flags&FlagInfoAtEnd != 0 {
		start := int64(len(data)) - int64(infoCompressed)
		if start < r.Pos() {
			return nil, warns.Return(), decodeError(r, errors.TruncatedError{Offset: r.Pos(), Need: int64(infoCompressed), Have: r.Len()})
		}
		info = append([]byte(nil), data[start:]...)
	} else {
		if info = r.Bytes(int64(infoCompressed)); info == nil && infoCompressed > 0 {
			return nil, warns.Return(), decodeError(r, nil)
		}
	}
	if dec != nil && c.Flags&BlockEncrypted != 0 {
		dec.decryptBlock(info, 0)
	}
	infoComp := Compression(c.Flags & CompressionMask)
	if err := infoComp.CheckSize(int64(infoSize), int64(len(info))); err != nil {
		return nil, warns.Return(), decodeError(r, fmt.Errorf("blocks info: %w", err))
	}
	infoData := make([]byte, infoSize)
	if err := infoComp.Decompress(infoData, info); err != nil {
		return nil, warns.Return(), decodeError(r, fmt.Errorf("blocks info: %w", err))
	}
	if err := c.readBlocksInfo(infoData); err != nil {
		return nil, warns.Return(), decodeError(r, fmt.Errorf("blocks info: %w", err))
	}

	if c.NewFlags && c.Flags&FlagPaddingAtStart != 0 {
		r.Align(16)
	}

	var total, compressed int64
	for _, b := range c.Blocks {
		total += int64(b.UncompressedSize)
		compressed += int64(b.CompressedSize)
	}
	if compressed > r.Len() {
		return nil, warns.Return(), decodeError(r, errors.TruncatedError{Offset: r.Pos(), Need: compressed, Have: r.Len()})
	}
	for i, b := range c.Blocks {
		if err := b.Compression().CheckSize(int64(b.UncompressedSize), int64(b.CompressedSize)); err != nil {
			return nil, warns.Return(), errors.DataError{Offset: r.Pos(), Cause: BlockError{Index: i, Cause: err}}
		}
	}
	out := make([]byte, total)
	var pos int64
	for i, b := range c.Blocks {
		start := r.Pos()
		src := r.Bytes(int64(b.CompressedSize))
		if r.Err() != nil {
			return nil, warns.Return(), decodeError(r, nil)
		}
		if b.Encrypted() && dec != nil {
			dec.decryptBlock(src, i)
		}
		dst := out[pos : pos+int64(b.UncompressedSize)]
		if err := b.Compression().Decompress(dst, src); err != nil {
			return nil, warns.Return(), errors.DataError{Offset: start, Cause: BlockError{Index: i, Cause: err}}
		}
		pos += int64(b.UncompressedSize)
	}

	if err := c.setData(out); err != nil {
		return nil, warns.Return(), err
	}
	return c, warns.Return(), nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func (c *Container) readBlocksInfo(data []byte) error {
	r := cursor.NewReader(data, binary.BigEndian)
	r.Skip(blocksHashSize)
	n := r.I32()
	if r.Err() != nil {
		return decodeError(r, nil)
	}
	// Each block record is 10 bytes.
	if n < 0 || int64(n)*10 > r.Len() {
		return decodeError(r, fmt.Errorf("invalid block count %d", n))
	}
	c.Blocks = make([]Block, n)
	for i := range c.Blocks {
		b := &c.Blocks[i]
		b.UncompressedSize = r.U32()
		b.CompressedSize = r.U32()
		b.Flags = r.U16()
	}
	n = r.I32()
	if r.Err() != nil {
		return decodeError(r, nil)
	}
	// Each entry record is at least 21 bytes.
	if n < 0 || int64(n)*21 > r.Len() {
		return decodeError(r, fmt.Errorf("invalid entry count %d", n))
	}
	c.Entries = make([]Entry, n)
	for i := range c.Entries {
		e := &c.Entries[i]
		e.Offset = r.I64()
		e.Size = r.I64()
		e.Flags = r.U32()
		e.Path = r.CString()
	}
	return decodeError(r, nil)
}

////////////////////////////////////////////////////////////////

// Encoder encodes containers.
type Encoder struct {
	// Compression is the codec of the data blocks and blocks info of a
	// UnityFS bundle. Blocks that do not shrink are stored uncompressed.
	Compression Compression
	// BlockSize is the uncompressed size of each block. If zero, LZ4 data is
	// split into 128 KiB blocks, and other data is stored in one block.
	BlockSize int
	// InfoAtEnd places the blocks info after the data.
	InfoAtEnd bool
}

// NewContainer returns a container of the given signature holding files in
// order. The format version is the newest that the signature can be encoded
// with.
func NewContainer(sig string, files ...File) *Container {
	c := &Container{Signature: sig}
	switch sig {
	case SigUnityFS:
		c.FormatVersion = MaxFSVersion
	case SigUnityWeb, SigUnityRaw:
		c.FormatVersion = MaxLegacyVersion
	}
	var size int64
	for _, f := range files {
		size += int64(len(f.Data))
	}
	data := make([]byte, 0, size)
	for _, f := range files {
		c.Entries = append(c.Entries, Entry{
			Offset: int64(len(data)),
			Size:   int64(len(f.Data)),
			Flags:  f.Flags,
			Path:   f.Name,
		})
		data = append(data, f.Data...)
	}
	c.data = data
	return c
}

// Encode encodes a container according to its signature.
func (e Encoder) Encode(c *Container) ([]byte, error) {
	switch c.Signature {
	case SigUnityFS:
		return e.encodeFS(c)
	case SigUnityWeb, SigUnityRaw:
		return e.encodeLegacy(c)
	case SigWebData, SigTuanjieData:
		return e.encodeWebData(c)
	}
	return nil, errors.ErrBadSignature
}

// contiguous returns the data of each entry laid out in directory order,
// along with entries that describe the layout.
func contiguous(c *Container) ([]byte, []Entry) {
	files := c.Extract()
	var size int64
	for _, f := range files {
		size += int64(len(f.Data))
	}
	data := make([]byte, 0, size)
	entries := make([]Entry, len(files))
	for i, f := range files {
		entries[i] = Entry{Offset: int64(len(data)), Size: int64(len(f.Data)), Flags: f.Flags, Path: f.Name}
		data = append(data, f.Data...)
	}
	return data, entries
}

func (e Encoder) blockSize(n int) int {
	switch {
	case e.BlockSize > 0:
		return e.BlockSize
	case e.Compression == LZ4 || e.Compression == LZ4HC:
		return lz4ChunkSize
	}
	return n
}

// compressBlocks splits data into blocks and compresses each one.
func (e Encoder) compressBlocks(data []byte) (payload []byte, blocks []Block, err error) {
	size := e.blockSize(len(data))
	for pos := 0; pos < len(data); pos += size {
		chunk := data[pos:min(pos+size, len(data))]
		comp, err := e.Compression.Compress(chunk)
		if err != nil {
			return nil, nil, BlockError{Index: len(blocks), Cause: err}
		}
		b := Block{UncompressedSize: uint32(len(chunk))}
		if e.Compression != None && len(comp) >= len(chunk) {
			payload = append(payload, chunk...)
			b.CompressedSize = uint32(len(chunk))
		} else {
			payload = append(payload, comp...)
			b.CompressedSize = uint32(len(comp))
			b.Flags = uint16(e.Compression)
		}
		blocks = append(blocks, b)
	}
	return payload, blocks, nil
}

func (e Encoder) encodeFS(c *Container) ([]byte, error) {
	if c.FormatVersion < MinFSVersion || c.FormatVersion > MaxFSVersion {
		return nil, errors.UnsupportedVersionError{Format: "UnityFS", Version: strconv.FormatUint(uint64(c.FormatVersion), 10)}
	}
	data, entries := contiguous(c)
	payload, blocks, err := e.compressBlocks(data)
	if err != nil {
		return nil, err
	}

	iw := cursor.NewWriter(binary.BigEndian)
	iw.Zero(blocksHashSize)
	iw.I32(int32(len(blocks)))
	for _, b := range blocks {
		iw.U32(b.UncompressedSize)
		iw.U32(b.CompressedSize)
		iw.U16(b.Flags)
	}
	iw.I32(int32(len(entries)))
	for _, en := range entries {
		iw.I64(en.Offset)
		iw.I64(en.Size)
		iw.U32(en.Flags)
		iw.CString(en.Path)
	}
	if err := iw.Err(); err != nil {
		return nil, err
	}
	info, err := e.Compression.Compress(iw.Data())
	if err != nil {
		return nil, fmt.Errorf("blocks info: %w", err)
	}

	flags := uint32(e.Compression) | FlagCombined
	if e.InfoAtEnd {
		flags |= FlagInfoAtEnd
	}
	v, _ := unityfile.ParseVersion(c.EngineVersion)

	w := cursor.NewWriter(binary.BigEndian)
	w.CString(SigUnityFS)
	w.U32(c.FormatVersion)
	w.CString(c.PlayerVersion)
	w.CString(c.EngineVersion)
	sizePos := w.Pos()
	w.I64(0)
	w.U32(uint32(len(info)))
	w.U32(uint32(len(iw.Data())))
	w.U32(flags)
	if c.FormatVersion >= 7 || padsHeader(v) {
		w.Align(16)
	}
	if e.InfoAtEnd {
		w.Write(payload)
		w.Write(info)
	} else {
		w.Write(info)
		w.Write(payload)
	}
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(w.Pos()))
	w.PutAt(sizePos, size[:])
	if err := w.Err(); err != nil {
		return nil, err
	}
	return w.Data(), nil
}
