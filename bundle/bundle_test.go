package bundle

import (
	"bytes"
	"crypto/aes"
	"encoding/binary"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anaminus/unityfile"
	"github.com/anaminus/unityfile/cursor"
	"github.com/anaminus/unityfile/errors"
)

const (
	testPlayer = "5.x.x"
	testEngine = "2019.4.40f1"
)

func testFiles() []File {
	return []File{
		{Name: "CAB-0123456789abcdef", Data: bytes.Repeat([]byte("serialized file "), 20000), Flags: 4},
		{Name: "CAB-0123456789abcdef.resS", Data: []byte("streamed resource"), Flags: 0},
		{Name: "empty", Data: []byte{}},
	}
}

func newTestContainer(sig string) *Container {
	c := NewContainer(sig, testFiles()...)
	c.PlayerVersion = testPlayer
	c.EngineVersion = testEngine
	return c
}

func assertFiles(t *testing.T, expected []File, c *Container) {
	t.Helper()
	actual := c.Extract()
	require.Len(t, actual, len(expected))
	for i := range expected {
		assert.Equal(t, expected[i].Name, actual[i].Name)
		assert.Equal(t, expected[i].Data, actual[i].Data, expected[i].Name)
	}
}

func decodeOK(t *testing.T, d Decoder, data []byte) *Container {
	t.Helper()
	c, warn, err := d.Decode(data)
	require.NoError(t, err)
	require.NoError(t, warn)
	return c
}

func TestCompressionRoundTrip(t *testing.T) {
	src := bytes.Repeat([]byte("compress me please "), 1000)
	for _, comp := range []Compression{None, LZMA, LZ4, LZ4HC} {
		t.Run(comp.String(), func(t *testing.T) {
			data, err := comp.Compress(src)
			require.NoError(t, err)
			if comp != None {
				assert.Less(t, len(data), len(src))
			}
			dst := make([]byte, len(src))
			require.NoError(t, comp.Decompress(dst, data))
			assert.Equal(t, src, dst)
		})
	}
}

func TestDecompressLZ4Block(t *testing.T) {
	dst := make([]byte, 5)
	require.NoError(t, LZ4.Decompress(dst, []byte{0x50, 'h', 'e', 'l', 'l', 'o'}))
	assert.Equal(t, "hello", string(dst))

	// Literal "abc", then a match of 9 bytes at distance 3.
	dst = make([]byte, 12)
	require.NoError(t, LZ4.Decompress(dst, []byte{0x35, 'a', 'b', 'c', 0x03, 0x00, 0x00}))
	assert.Equal(t, "abcabcabcabc", string(dst))

	assert.Error(t, LZ4.Decompress(make([]byte, 12), []byte{0x35, 'a', 'b', 'c', 0x09, 0x00, 0x00}))
}

func TestDecompressUnsupported(t *testing.T) {
	err := LZHAM.Decompress(make([]byte, 4), []byte{1, 2, 3, 4})
	assert.ErrorIs(t, err, errors.ErrUnsupportedCompression)
	var cerr errors.UnsupportedCompressionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "LZHAM", cerr.Name)

	err = Compression(9).Decompress(nil, nil)
	assert.ErrorIs(t, err, errors.ErrUnsupportedCompression)
	assert.Equal(t, "Compression(9)", Compression(9).String())
}

func TestDecompressSizeMismatch(t *testing.T) {
	assert.Error(t, None.Decompress(make([]byte, 4), []byte{1, 2, 3}))
}

func TestUnityFSRoundTrip(t *testing.T) {
	for _, comp := range []Compression{None, LZMA, LZ4, LZ4HC} {
		for _, atEnd := range []bool{false, true} {
			name := comp.String()
			if atEnd {
				name += "/InfoAtEnd"
			}
			t.Run(name, func(t *testing.T) {
				data, err := Encoder{Compression: comp, InfoAtEnd: atEnd}.Encode(newTestContainer(SigUnityFS))
				require.NoError(t, err)
				assert.True(t, Probe(data))
				assert.Equal(t, uint64(len(data)), binary.BigEndian.Uint64(data[sizePos(testPlayer, testEngine):]))

				c := decodeOK(t, Decoder{}, data)
				assert.Equal(t, SigUnityFS, c.Signature)
				assert.Equal(t, uint32(MaxFSVersion), c.FormatVersion)
				assert.Equal(t, testPlayer, c.PlayerVersion)
				assert.Equal(t, testEngine, c.EngineVersion)
				assert.Equal(t, comp, Compression(c.Flags&CompressionMask))
				assert.Equal(t, atEnd, c.Flags&FlagInfoAtEnd != 0)
				assert.False(t, c.Encrypted)
				assertFiles(t, testFiles(), c)
				assert.Equal(t, uint32(4), c.Entries[0].Flags)
			})
		}
	}
}

func TestUnityFSChunks(t *testing.T) {
	data, err := Encoder{Compression: LZ4}.Encode(newTestContainer(SigUnityFS))
	require.NoError(t, err)
	c := decodeOK(t, Decoder{}, data)
	// 320000 + 17 bytes in 128 KiB blocks.
	require.Len(t, c.Blocks, 3)
	for _, b := range c.Blocks {
		assert.Equal(t, LZ4, b.Compression())
		assert.Less(t, b.CompressedSize, b.UncompressedSize)
	}
	assert.Equal(t, uint32(lz4ChunkSize), c.Blocks[0].UncompressedSize)

	data, err = Encoder{Compression: LZMA}.Encode(newTestContainer(SigUnityFS))
	require.NoError(t, err)
	c = decodeOK(t, Decoder{}, data)
	assert.Len(t, c.Blocks, 1)
}

func TestUnityFSIncompressible(t *testing.T) {
	noise := make([]byte, 4096)
	rand.New(rand.NewSource(1)).Read(noise)
	files := []File{{Name: "noise", Data: noise}}
	c := NewContainer(SigUnityFS, files...)
	c.EngineVersion = testEngine
	data, err := Encoder{Compression: LZ4}.Encode(c)
	require.NoError(t, err)

	c = decodeOK(t, Decoder{}, data)
	require.Len(t, c.Blocks, 1)
	assert.Equal(t, None, c.Blocks[0].Compression())
	assertFiles(t, files, c)
}

func TestUnityFSVersion6(t *testing.T) {
	c := newTestContainer(SigUnityFS)
	c.FormatVersion = 6
	c.EngineVersion = "5.6.7f1"
	data, err := Encoder{Compression: LZ4}.Encode(c)
	require.NoError(t, err)
	c = decodeOK(t, Decoder{}, data)
	assert.Equal(t, uint32(6), c.FormatVersion)
	assertFiles(t, testFiles(), c)
}

func TestUnityFSUnsupportedVersion(t *testing.T) {
	c := newTestContainer(SigUnityFS)
	c.FormatVersion = 9
	_, err := Encoder{}.Encode(c)
	assert.ErrorIs(t, err, errors.ErrUnsupportedVersion)

	c.FormatVersion = MaxFSVersion
	data, err := Encoder{}.Encode(c)
	require.NoError(t, err)
	binary.BigEndian.PutUint32(data[len(SigUnityFS)+1:], 9)
	_, _, err = Decoder{}.Decode(data)
	assert.ErrorIs(t, err, errors.ErrUnsupportedVersion)
}

// sizePos returns the position of the bundle size in a UnityFS header.
func sizePos(player, engine string) int {
	return len(SigUnityFS) + 1 + 4 + len(player) + 1 + len(engine) + 1
}

// headerEnd returns the end of a version 7+ UnityFS header without
// encryption.
func headerEnd(player, engine string) int {
	n := sizePos(player, engine) + 20
	return (n + 15) &^ 15
}

func TestUnityFSUnsupportedBlock(t *testing.T) {
	data, err := Encoder{Compression: None}.Encode(newTestContainer(SigUnityFS))
	require.NoError(t, err)
	// Flags of the first block.
	pos := headerEnd(testPlayer, testEngine) + blocksHashSize + 4 + 8
	binary.BigEndian.PutUint16(data[pos:], uint16(LZHAM))

	_, _, err = Decoder{}.Decode(data)
	assert.ErrorIs(t, err, errors.ErrUnsupportedCompression)
	var berr BlockError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, 0, berr.Index)
}

func TestUnityFSTruncated(t *testing.T) {
	data, err := Encoder{Compression: LZ4}.Encode(newTestContainer(SigUnityFS))
	require.NoError(t, err)
	_, warn, err := Decoder{}.Decode(data[:len(data)/2])
	assert.ErrorIs(t, err, errors.ErrTruncated)
	assert.Error(t, warn)

	_, _, err = Decoder{}.Decode(data[:30])
	assert.ErrorIs(t, err, errors.ErrTruncated)
}

func TestBadSignature(t *testing.T) {
	_, _, err := Decoder{}.Decode([]byte("NotABundle\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00"))
	assert.ErrorIs(t, err, errors.ErrBadSignature)
	assert.False(t, Probe([]byte("NotABundle")))

	_, _, err = Decoder{}.Decode([]byte("UnityArchive\x00\x00\x00\x00\x06"))
	assert.ErrorIs(t, err, errors.ErrUnsupportedVersion)

	_, err = Encoder{}.Encode(&Container{Signature: "Other"})
	assert.ErrorIs(t, err, errors.ErrBadSignature)
}

func TestNewFlagLayout(t *testing.T) {
	for _, tt := range []struct {
		Version string
		New     bool
	}{
		{"2019.4.40f1", false},
		{"2020.3.33f1", false},
		{"2020.3.34f1", true},
		{"2021.3.1f1", false},
		{"2021.3.2f1", true},
		{"2022.1.0f1", false},
		{"2022.1.1f1", true},
		{"2023.1.0a1", true},
		{"6000.0.23f1", true},
	} {
		v, err := unityfile.ParseVersion(tt.Version)
		require.NoError(t, err)
		assert.Equal(t, tt.New, newFlagLayout(v), tt.Version)
	}
}

////////////////////////////////////////////////////////////////

var testKey = []byte("0123456789abcdef")

// encryptedFS builds a version 6 bundle whose header declares encryption,
// with signature vectors that verify against key. Blocks are stored plain.
func encryptedFS(t *testing.T, key []byte, file File) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	var v cnVectors
	copy(v.SigKey[:], "signature vector")
	copy(v.Key[:], "key vector......")
	copy(v.Data[:], "data vector.....")
	block.Encrypt(v.SigData[:], v.SigKey[:])
	for i := range v.SigData {
		v.SigData[i] ^= cnSignature[i]
	}

	iw := cursor.NewWriter(binary.BigEndian)
	iw.Zero(blocksHashSize)
	iw.I32(1)
	iw.U32(uint32(len(file.Data)))
	iw.U32(uint32(len(file.Data)))
	iw.U16(0)
	iw.I32(1)
	iw.I64(0)
	iw.I64(int64(len(file.Data)))
	iw.U32(file.Flags)
	iw.CString(file.Name)
	require.NoError(t, iw.Err())
	info := iw.Data()

	w := cursor.NewWriter(binary.BigEndian)
	w.CString(SigUnityFS)
	w.U32(6)
	w.CString(testPlayer)
	w.CString("2018.4.36f1")
	sizePos := w.Pos()
	w.I64(0)
	w.U32(uint32(len(info)))
	w.U32(uint32(len(info)))
	w.U32(FlagCombined | FlagEncryptedOld)
	writeCNVectors(w, v)
	w.Write(info)
	w.Write(file.Data)
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(w.Pos()))
	w.PutAt(sizePos, size[:])
	require.NoError(t, w.Err())
	return w.Data()
}

func TestEncryptedBundle(t *testing.T) {
	file := File{Name: "CAB-encrypted", Data: []byte("plain block data")}
	data := encryptedFS(t, testKey, file)

	_, _, err := Decoder{}.Decode(data)
	assert.ErrorIs(t, err, errors.ErrMissingDecryptKey)

	c := decodeOK(t, Decoder{Key: testKey}, data)
	assert.True(t, c.Encrypted)
	assert.False(t, c.NewFlags)
	assertFiles(t, []File{file}, c)

	_, _, err = Decoder{Key: []byte("fedcba9876543210")}.Decode(data)
	var kerr KeyError
	require.ErrorAs(t, err, &kerr)
	assert.NotNil(t, kerr.Signature)

	_, _, err = Decoder{Key: []byte("short")}.Decode(data)
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, 5, kerr.Size)
}

func TestDecryptBlockBounds(t *testing.T) {
	block, err := aes.NewCipher(testKey)
	require.NoError(t, err)
	var v cnVectors
	block.Encrypt(v.SigData[:], v.SigKey[:])
	for i := range v.SigData {
		v.SigData[i] ^= cnSignature[i]
	}
	d, err := newCNDecryptor(testKey, v)
	require.NoError(t, err)

	rnd := rand.New(rand.NewSource(2))
	for n := 0; n < 64; n++ {
		data := make([]byte, n)
		rnd.Read(data)
		assert.NotPanics(t, func() { d.decryptBlock(data, n) })
	}
}

////////////////////////////////////////////////////////////////

func TestLegacyRoundTrip(t *testing.T) {
	for _, sig := range []string{SigUnityRaw, SigUnityWeb} {
		for _, version := range []uint32{2, 3, 5} {
			t.Run(sig+"/"+strconv.Itoa(int(version)), func(t *testing.T) {
				c := newTestContainer(sig)
				c.FormatVersion = version
				c.Hash = [16]byte{1, 2, 3, 4}
				c.CRC = 0xdeadbeef
				data, err := Encoder{}.Encode(c)
				require.NoError(t, err)
				assert.True(t, Probe(data))

				d := decodeOK(t, Decoder{}, data)
				assert.Equal(t, sig, d.Signature)
				assert.Equal(t, version, d.FormatVersion)
				assert.Equal(t, testEngine, d.EngineVersion)
				if version >= 4 {
					assert.Equal(t, c.Hash, d.Hash)
					assert.Equal(t, c.CRC, d.CRC)
				}
				require.Len(t, d.Blocks, 1)
				if sig == SigUnityWeb {
					assert.Equal(t, LZMA, d.Blocks[0].Compression())
				} else {
					assert.Equal(t, None, d.Blocks[0].Compression())
				}
				assertFiles(t, testFiles(), d)
				// Entries follow the directory.
				assert.Zero(t, d.Entries[0].Offset%4)
				assert.Greater(t, d.Entries[0].Offset, int64(4))
			})
		}
	}
}

func TestLegacyUnsupportedVersion(t *testing.T) {
	c := newTestContainer(SigUnityRaw)
	c.FormatVersion = 1
	_, err := Encoder{}.Encode(c)
	assert.ErrorIs(t, err, errors.ErrUnsupportedVersion)
}

////////////////////////////////////////////////////////////////

func TestWebDataRoundTrip(t *testing.T) {
	for _, packer := range []Packer{PackerNone, PackerGzip, PackerBrotli} {
		t.Run(string(packer), func(t *testing.T) {
			c := NewContainer(SigWebData, testFiles()...)
			c.Packer = packer
			data, err := Encoder{}.Encode(c)
			require.NoError(t, err)
			assert.True(t, Probe(data))

			d := decodeOK(t, Decoder{}, data)
			assert.Equal(t, SigWebData, d.Signature)
			assert.Equal(t, packer, d.Packer)
			assertFiles(t, testFiles(), d)
		})
	}
}

func TestWebDataLayout(t *testing.T) {
	c := NewContainer(SigTuanjieData, File{Name: "a", Data: []byte("xy")})
	data, err := Encoder{}.Encode(c)
	require.NoError(t, err)
	sig := len(SigTuanjieData) + 1
	head := sig + 4 + 12 + 1
	assert.Equal(t, uint32(head), binary.LittleEndian.Uint32(data[sig:]))
	assert.Equal(t, uint32(head), binary.LittleEndian.Uint32(data[sig+4:]))
	assert.Equal(t, "xy", string(data[head:]))
}

func TestOpen(t *testing.T) {
	c := NewContainer(SigUnityFS,
		File{Name: "archive:/CAB-abc/CAB-abc", Data: []byte("assets")},
		File{Name: "archive:/CAB-abc/CAB-abc.resS", Data: []byte("resource")},
	)
	f, ok := c.Open("ARCHIVE:/cab-abc/cab-abc")
	require.True(t, ok)
	assert.Equal(t, "assets", string(f.Data))

	f, ok = c.Open("CAB-abc.resS")
	require.True(t, ok)
	assert.Equal(t, "resource", string(f.Data))

	_, ok = c.Open("missing")
	assert.False(t, ok)
}

func TestDump(t *testing.T) {
	data, err := Encoder{Compression: LZ4}.Encode(newTestContainer(SigUnityFS))
	require.NoError(t, err)
	var buf strings.Builder
	warn, err := Decoder{}.Dump(&buf, data)
	require.NoError(t, err)
	require.NoError(t, warn)
	out := buf.String()
	assert.Contains(t, out, `Signature: "UnityFS"`)
	assert.Contains(t, out, `#1: "CAB-0123456789abcdef.resS"`)
	assert.Contains(t, out, "Blocks: (count:3)")
}

func TestCheckSize(t *testing.T) {
	assert.NoError(t, None.CheckSize(10, 10))
	assert.Error(t, None.CheckSize(11, 10))
	assert.NoError(t, LZ4.CheckSize(255*100, 100))
	assert.Error(t, LZ4.CheckSize(math.MaxUint32, 100))
	assert.Error(t, LZ4HC.CheckSize(-1, 100))
	assert.NoError(t, LZMA.CheckSize(1<<20, 100))
	assert.Error(t, LZMA.CheckSize(math.MaxUint32, 100))
	assert.ErrorIs(t, LZHAM.CheckSize(4, 4), errors.ErrUnsupportedCompression)

	var serr SizeError
	require.ErrorAs(t, LZ4.CheckSize(math.MaxUint32, 100), &serr)
	assert.Equal(t, LZ4, serr.Compression)
	assert.Equal(t, int64(math.MaxUint32), serr.Size)
	assert.Equal(t, int64(100), serr.Compressed)
}

func TestUnityFSOversizedBlock(t *testing.T) {
	data, err := Encoder{Compression: None}.Encode(newTestContainer(SigUnityFS))
	require.NoError(t, err)
	// Uncompressed size and flags of the first block.
	pos := headerEnd(testPlayer, testEngine) + blocksHashSize + 4
	binary.BigEndian.PutUint32(data[pos:], math.MaxUint32)
	binary.BigEndian.PutUint16(data[pos+8:], uint16(LZ4))

	_, _, err = Decoder{}.Decode(data)
	require.Error(t, err)
	var serr SizeError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, int64(math.MaxUint32), serr.Size)
	var berr BlockError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, 0, berr.Index)
}

func TestUnityFSOversizedInfo(t *testing.T) {
	data, err := Encoder{Compression: None}.Encode(newTestContainer(SigUnityFS))
	require.NoError(t, err)
	// Uncompressed size of the blocks info, after the bundle size and the
	// compressed size.
	binary.BigEndian.PutUint32(data[sizePos(testPlayer, testEngine)+12:], math.MaxUint32)

	_, _, err = Decoder{}.Decode(data)
	require.Error(t, err)
	var serr SizeError
	assert.ErrorAs(t, err, &serr)
}

func TestEntryOutOfRange(t *testing.T) {
	data, err := Encoder{Compression: None}.Encode(newTestContainer(SigUnityFS))
	require.NoError(t, err)
	// Size of the entry, which precedes its flags and path.
	i := bytes.Index(data, []byte("CAB-0123456789abcdef.resS\x00"))
	require.Greater(t, i, 12)
	binary.BigEndian.PutUint64(data[i-12:], math.MaxInt64)

	_, _, err = Decoder{}.Decode(data)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTruncated)

	for _, e := range []Entry{
		{Offset: 1, Size: math.MaxInt64},
		{Offset: math.MaxInt64, Size: 1},
		{Offset: 4, Size: 5},
		{Offset: -1, Size: 1},
	} {
		c := &Container{Entries: []Entry{e}}
		assert.ErrorIs(t, c.setData(make([]byte, 8)), errors.ErrTruncated, "%+v", e)
	}
	c := &Container{Entries: []Entry{{Offset: 8, Size: 0}, {Offset: 2, Size: 6}}}
	assert.NoError(t, c.setData(make([]byte, 8)))
}

func TestLegacyOversizedStream(t *testing.T) {
	src, err := compressLZMA([]byte("legacy content"), true)
	require.NoError(t, err)
	binary.LittleEndian.PutUint64(src[5:], math.MaxUint32)
	_, err = decodeLZMAStream(src)
	var serr SizeError
	assert.ErrorAs(t, err, &serr)
}
