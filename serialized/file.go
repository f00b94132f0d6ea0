// The serialized package decodes and encodes SerializedFiles, the asset files
// that hold a table of objects along with the type trees that describe them.
//
// Objects are decoded lazily. Decoding a file reads only its metadata;
// Deserialize decodes a single object from the retained buffer each time it
// is called.
package serialized

import (
	"encoding/binary"
	"path"
	"strings"
	"sync"

	"github.com/anaminus/unityfile"
)

// Supported range of format versions.
const (
	MinVersion = 9
	MaxVersion = 22
)

// Endian is the byte order declared by a file header.
type Endian uint8

const (
	LittleEndian Endian = 0
	BigEndian    Endian = 1
)

// ByteOrder returns the binary.ByteOrder of the endian.
func (e Endian) ByteOrder() binary.ByteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (e Endian) String() string {
	if e == BigEndian {
		return "big"
	}
	return "little"
}

// Header is the fixed-size header at the start of a file. Header fields are
// always big-endian; Endian declares the order of everything after it.
type Header struct {
	MetadataSize uint32
	FileSize     uint64
	Version      uint32
	DataOffset   uint64
	Endian       Endian
	Reserved     [3]byte
	// Unknown is present in format versions 22 and above.
	Unknown int64
}

// Size returns the encoded size of the header.
func (h Header) Size() int64 {
	if h.Version >= 22 {
		return 48
	}
	return 20
}

// SerializedType describes one type of object stored in a file.
type SerializedType struct {
	ClassID unityfile.ClassID
	// IsStrippedType is present in format versions 16 and above.
	IsStrippedType bool
	// ScriptTypeIndex is present in format versions 17 and above, and is -1
	// otherwise.
	ScriptTypeIndex int16
	// ScriptID is the hash of the script of MonoBehaviour types.
	ScriptID    [16]byte
	OldTypeHash [16]byte
	// Tree is nil when the file does not carry type trees.
	Tree *unityfile.Node

	// Set only for reference types.
	ClassName    string
	Namespace    string
	AssemblyName string

	// Set only for non-reference types.
	TypeDependencies []int32
}

// hasScriptID returns whether the ScriptID field is encoded.
func (t *SerializedType) hasScriptID(version uint32, isRefType bool) bool {
	if version < 13 {
		return false
	}
	return (isRefType && t.ScriptTypeIndex >= 0) ||
		(version < 16 && t.ClassID < 0) ||
		(version >= 16 && t.ClassID == unityfile.ClassMonoBehaviour)
}

// ObjectInfo locates an object within the data of a file.
type ObjectInfo struct {
	PathID int64
	// ByteStart is the absolute offset of the object within the file.
	ByteStart int64
	ByteSize  uint32
	TypeID    int32
	ClassID   unityfile.ClassID
	// IsDestroyed is present in format versions below 11.
	IsDestroyed uint16
	// ScriptTypeIndex is present in format versions 11 to 16.
	ScriptTypeIndex int16
	// Stripped is present in format versions 15 and 16.
	Stripped uint8
}

// ScriptType refers to a MonoScript object.
type ScriptType struct {
	FileIndex int32
	PathID    int64
}

// External is a file referred to by PPtrs of a file.
type External struct {
	TempEmpty string
	GUID      [16]byte
	Type      int32
	Path      string
}

// Name returns the base name of the path of the external.
func (e External) Name() string {
	p := strings.ReplaceAll(e.Path, "\\", "/")
	return path.Base(p)
}

// Metadata holds the parts of a file that follow the header and do not
// describe individual objects.
type Metadata struct {
	UnityVersion   string
	TargetPlatform int32
	EnableTypeTree bool
	Types          []SerializedType
	// BigIDEnabled is present in format versions 7 to 13.
	BigIDEnabled    int32
	ScriptTypes     []ScriptType
	Externals       []External
	RefTypes        []SerializedType
	UserInformation string
}

// File is a decoded SerializedFile. It retains the buffer it was decoded
// from. Reading objects is safe for concurrent use; Save takes exclusive
// access.
type File struct {
	// Name is the name the file was loaded under.
	Name string
	// Index is the position of the file within an arena, or -1.
	Index int

	Header Header
	Metadata
	// Version is the parsed engine version, or the configured fallback.
	Version unityfile.Version

	mu      sync.RWMutex
	data    []byte
	objects []ObjectInfo
	index   map[int64]int

	// Bounds of the object table within data.
	tableStart int64
	tableEnd   int64

	strict bool
}

// Objects returns the object table in file order.
func (f *File) Objects() []ObjectInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	objects := make([]ObjectInfo, len(f.objects))
	copy(objects, f.objects)
	return objects
}

// Len returns the number of objects in the file.
func (f *File) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.objects)
}

// GetObject returns the info of the object with the given path ID.
func (f *File) GetObject(pathID int64) (ObjectInfo, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	i, ok := f.index[pathID]
	if !ok {
		return ObjectInfo{}, false
	}
	return f.objects[i], true
}

// Bytes returns a copy of the current content of the file.
func (f *File) Bytes() []byte {
	f.mu.RLock()
	defer f.mu.RUnlock()
	b := make([]byte, len(f.data))
	copy(b, f.data)
	return b
}

// RawData returns a copy of the encoded bytes of an object.
func (f *File) RawData(pathID int64) ([]byte, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	i, ok := f.index[pathID]
	if !ok {
		return nil, false
	}
	b, err := f.slice(f.objects[i])
	if err != nil {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

// TypeOf returns the type of an object, or nil if the object refers to no
// type of the file.
func (f *File) TypeOf(info ObjectInfo) *SerializedType {
	if f.Header.Version >= 16 {
		if info.TypeID < 0 || int(info.TypeID) >= len(f.Types) {
			return nil
		}
		return &f.Types[info.TypeID]
	}
	for i := range f.Types {
		if int32(f.Types[i].ClassID) == info.TypeID {
			return &f.Types[i]
		}
	}
	return nil
}

// RefType returns the type tree of a managed reference type.
func (f *File) RefType(class, namespace, assembly string) *unityfile.Node {
	for i := range f.RefTypes {
		t := &f.RefTypes[i]
		if t.ClassName == class && t.Namespace == namespace && t.AssemblyName == assembly {
			return t.Tree
		}
	}
	return nil
}

// External returns the external referred to by a PPtr FileID. FileID 0 refers
// to the file itself, and returns false.
func (f *File) External(fileID int32) (External, bool) {
	if fileID <= 0 || int(fileID) > len(f.Externals) {
		return External{}, false
	}
	return f.Externals[fileID-1], true
}
