// The bundle package decodes and encodes the containers that hold asset files:
// UnityFS bundles, legacy UnityWeb and UnityRaw bundles, and web data files.
//
// A decoded Container holds the decompressed data of every block, and a
// directory of named entries that slice that data.
package bundle

import (
	"bytes"
	"path"
	"strings"

	"github.com/anaminus/unityfile/cursor"
	"github.com/anaminus/unityfile/errors"
)

// Container signatures.
const (
	SigUnityFS      = "UnityFS"
	SigUnityWeb     = "UnityWeb"
	SigUnityRaw     = "UnityRaw"
	SigUnityArchive = "UnityArchive"
	SigWebData      = "UnityWebData1.0"
	SigTuanjieData  = "TuanjieWebData1.0"
)

// Packer is the outer compression of a web data file.
type Packer string

const (
	PackerNone   Packer = ""
	PackerGzip   Packer = "gzip"
	PackerBrotli Packer = "brotli"
)

// Block describes one compressed block of a bundle.
type Block struct {
	UncompressedSize uint32
	CompressedSize   uint32
	Flags            uint16
}

// Compression returns the codec of the block.
func (b Block) Compression() Compression {
	return Compression(b.Flags & CompressionMask)
}

// Encrypted returns whether the block is encrypted.
func (b Block) Encrypted() bool {
	return b.Flags&BlockEncrypted != 0
}

// Entry is a named byte range within the decompressed data of a container.
type Entry struct {
	Offset int64
	Size   int64
	Flags  uint32
	Path   string
}

// File is an extracted entry of a container.
type File struct {
	Name  string
	Data  []byte
	Flags uint32
}

// Container is a decoded container.
type Container struct {
	// Signature identifies the format of the container.
	Signature     string
	FormatVersion uint32
	PlayerVersion string
	EngineVersion string

	// Flags are the archive flags of a UnityFS bundle.
	Flags uint32
	// NewFlags reports whether Flags uses the layout introduced with
	// 2020.3.34, 2021.3.2 and 2022.1.1.
	NewFlags bool
	// Encrypted reports whether the bundle was encrypted with UnityCN.
	Encrypted bool

	// Hash and CRC are present in legacy bundles of version 4 and above.
	Hash [16]byte
	CRC  uint32

	// Packer is the outer compression of a web data file.
	Packer Packer

	Blocks  []Block
	Entries []Entry

	data []byte
}

// Data returns the decompressed data of the container. The result must not
// be modified.
func (c *Container) Data() []byte {
	return c.data
}

// Extract returns each entry of the container in directory order. The data
// of each file refers to the container's data, and must not be modified.
func (c *Container) Extract() []File {
	files := make([]File, 0, len(c.Entries))
	for _, e := range c.Entries {
		files = append(files, File{
			Name:  e.Path,
			Data:  c.data[e.Offset : e.Offset+e.Size],
			Flags: e.Flags,
		})
	}
	return files
}

// Open returns the entry with the given name. The name is compared
// case-insensitively, first by full path, then by base name.
func (c *Container) Open(name string) (File, bool) {
	for _, e := range c.Entries {
		if strings.EqualFold(e.Path, name) {
			return File{Name: e.Path, Data: c.data[e.Offset : e.Offset+e.Size], Flags: e.Flags}, true
		}
	}
	base := path.Base(name)
	for _, e := range c.Entries {
		if strings.EqualFold(path.Base(e.Path), base) {
			return File{Name: e.Path, Data: c.data[e.Offset : e.Offset+e.Size], Flags: e.Flags}, true
		}
	}
	return File{}, false
}

// setData sets the decompressed data, and verifies that each entry lies
// within it.
func (c *Container) setData(data []byte) error {
	for _, e := range c.Entries {
		if e.Offset < 0 || e.Size < 0 || e.Offset > int64(len(data)) || e.Size > int64(len(data))-e.Offset {
			return errors.DataError{Offset: e.Offset, Cause: errors.TruncatedError{
				Offset: e.Offset,
				Need:   e.Size,
				Have:   int64(len(data)) - e.Offset,
			}}
		}
	}
	c.data = data
	return nil
}

////////////////////////////////////////////////////////////////

// Decoder decodes containers.
type Decoder struct {
	// Key decrypts bundles encrypted with UnityCN.
	Key []byte
	// FallbackVersion is the engine version used when a bundle does not
	// declare a usable version of its own.
	FallbackVersion string
}

func decodeError(r *cursor.Reader, err error) error {
	if err != nil {
		r.Fail(err)
	}
	err = r.Err()
	if err != nil {
		return errors.DataError{Offset: r.Pos(), Cause: err}
	}
	return nil
}

// signature returns the NUL-terminated string at the start of data, reading
// at most n bytes.
func signature(data []byte, n int) string {
	if len(data) < n {
		n = len(data)
	}
	if i := bytes.IndexByte(data[:n], 0); i >= 0 {
		n = i
	}
	return string(data[:n])
}

// Probe returns whether data begins with the signature of a container.
func Probe(data []byte) bool {
	switch signature(data, 20) {
	case SigUnityFS, SigUnityWeb, SigUnityRaw:
		return true
	}
	return isWebData(data)
}

// Decode decodes a container from data. The container may retain data.
func (d Decoder) Decode(data []byte) (c *Container, warn, err error) {
	switch sig := signature(data, 20); sig {
	case SigUnityFS:
		return d.decodeFS(data)
	case SigUnityWeb, SigUnityRaw:
		return d.decodeLegacy(data)
	case SigUnityArchive:
		return nil, nil, errors.UnsupportedVersionError{Format: "bundle", Version: sig}
	}
	if isWebData(data) {
		return d.decodeWebData(data)
	}
	return nil, nil, errors.ErrBadSignature
}
