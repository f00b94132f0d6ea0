package serialized

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/anaminus/unityfile"
	"github.com/anaminus/unityfile/cursor"
	"github.com/anaminus/unityfile/errors"
	"github.com/anaminus/unityfile/typetree"
)

// Decoder decodes SerializedFiles.
type Decoder struct {
	// FallbackVersion is the engine version used when a file does not declare
	// a usable version of its own.
	FallbackVersion string
	// Strict causes schema mismatches while deserializing objects to be
	// errors rather than warnings.
	Strict bool
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

// Probe returns whether data begins with a plausible file header, in either
// byte order.
func Probe(data []byte) bool {
	for _, order := range []binary.ByteOrder{binary.BigEndian, binary.LittleEndian} {
		r := cursor.NewReader(data, order)
		metadataSize := uint64(r.U32())
		fileSize := uint64(r.U32())
		version := r.U32()
		dataOffset := uint64(r.U32())
		if version >= 22 {
			r.Skip(4)
			metadataSize = uint64(r.U32())
			fileSize = r.U64()
			dataOffset = r.U64()
		}
		if r.Err() != nil {
			return false
		}
		if version == 0 || version > 100 ||
			metadataSize > uint64(len(data)) ||
			fileSize < metadataSize ||
			fileSize < dataOffset {
			continue
		}
		return true
	}
	return false
}

// Decode decodes the header and metadata of a file from data. The file
// retains data, which must not be modified afterwards.
func (d Decoder) Decode(data []byte) (f *File, warn, err error) {
	var warns errors.Errors
	f = &File{Index: -1, data: data, strict: d.Strict}
	r := cursor.NewReader(data, binary.BigEndian)

	h := &f.Header
	var fileSize, dataOffset uint32
	r.Number(&h.MetadataSize)
	r.Number(&fileSize)
	r.Number(&h.Version)
	if r.Number(&dataOffset) {
		return nil, nil, decodeError(r, nil)
	}
	h.FileSize, h.DataOffset = uint64(fileSize), uint64(dataOffset)
	if h.Version < MinVersion || h.Version > MaxVersion {
		return nil, nil, errors.UnsupportedVersionError{Format: "serialized file", Version: strconv.FormatUint(uint64(h.Version), 10)}
	}
	endian := r.U8()
	r.Read(h.Reserved[:])
	if h.Version >= 22 {
		r.Number(&h.MetadataSize)
		r.Number(&h.FileSize)
		r.Number(&h.DataOffset)
		r.Number(&h.Unknown)
	}
	if r.Err() != nil {
		return nil, nil, decodeError(r, nil)
	}
	if endian != 0 {
		h.Endian = BigEndian
	}
	if h.DataOffset > uint64(len(data)) {
		return nil, nil, decodeError(r, errors.TruncatedError{Offset: r.Pos(), Need: int64(h.DataOffset), Have: int64(len(data))})
	}
	if h.FileSize != uint64(len(data)) {
		warns = warns.Append(fmt.Errorf("header declares file size %d, data has %d bytes", h.FileSize, len(data)))
	}
	r.Order = h.Endian.ByteOrder()

	m := &f.Metadata
	m.UnityVersion = r.CString()
	m.TargetPlatform = r.I32()
	if h.Version >= 13 {
		m.EnableTypeTree = r.Bool()
	} else {
		m.EnableTypeTree = true
	}
	if r.Err() != nil {
		return nil, nil, decodeError(r, nil)
	}

	v, verr := unityfile.ResolveVersion(m.UnityVersion, d.FallbackVersion)
	if verr != nil {
		if !m.EnableTypeTree {
			return nil, nil, verr
		}
		warns = warns.Append(verr)
	}
	f.Version = v

	if m.Types, err = readTypes(r, h.Version, m.EnableTypeTree, false); err != nil {
		return nil, warns.Return(), decodeError(r, err)
	}

	if h.Version >= 7 && h.Version < 14 {
		m.BigIDEnabled = r.I32()
	}

	f.tableStart = r.Pos()
	if f.objects, err = readObjects(r, h, m.BigIDEnabled != 0, m.Types); err != nil {
		return nil, warns.Return(), decodeError(r, err)
	}
	f.tableEnd = r.Pos()

	if h.Version >= 11 {
		n := r.I32()
		if n < 0 || int64(n) > r.Len() {
			return nil, warns.Return(), decodeError(r, errors.New("invalid script type count "+strconv.Itoa(int(n))))
		}
		m.ScriptTypes = make([]ScriptType, n)
		for i := range m.ScriptTypes {
			s := &m.ScriptTypes[i]
			s.FileIndex = r.I32()
			if h.Version < 14 {
				s.PathID = int64(r.I32())
			} else {
				r.Align(4)
				s.PathID = r.I64()
			}
		}
	}

	n := r.I32()
	if n < 0 || int64(n) > r.Len() {
		return nil, warns.Return(), decodeError(r, errors.New("invalid external count "+strconv.Itoa(int(n))))
	}
	m.Externals = make([]External, n)
	for i := range m.Externals {
		e := &m.Externals[i]
		if h.Version >= 6 {
			e.TempEmpty = r.CString()
		}
		if h.Version >= 5 {
			r.Read(e.GUID[:])
			e.Type = r.I32()
		}
		e.Path = r.CString()
	}
	if r.Err() != nil {
		return nil, warns.Return(), decodeError(r, nil)
	}

	if h.Version >= 20 {
		if m.RefTypes, err = readTypes(r, h.Version, m.EnableTypeTree, true); err != nil {
			return nil, warns.Return(), decodeError(r, err)
		}
	}
	if h.Version >= 5 {
		m.UserInformation = r.CString()
	}
	if r.Err() != nil {
		return nil, warns.Return(), decodeError(r, nil)
	}

	f.index = make(map[int64]int, len(f.objects))
	for i, info := range f.objects {
		if _, ok := f.index[info.PathID]; ok {
			warns = warns.Append(fmt.Errorf("duplicate path ID %d", info.PathID))
			continue
		}
		if _, err := f.slice(info); err != nil {
			warns = warns.Append(ObjectError{PathID: info.PathID, Cause: err})
		}
		f.index[info.PathID] = i
	}
	return f, warns.Return(), nil
}

func readTypes(r *cursor.Reader, version uint32, enableTypeTree, isRefType bool) ([]SerializedType, error) {
	n := r.I32()
	if r.Err() != nil {
		return nil, r.Err()
	}
	if n < 0 || int64(n) > r.Len() {
		return nil, errors.New("invalid type count " + strconv.Itoa(int(n)))
	}
	types := make([]SerializedType, n)
	for i := range types {
		t := &types[i]
		t.ClassID = unityfile.ClassID(r.I32())
		if version >= 16 {
			t.IsStrippedType = r.Bool()
		}
		t.ScriptTypeIndex = -1
		if version >= 17 {
			t.ScriptTypeIndex = r.I16()
		}
		if t.hasScriptID(version, isRefType) {
			r.Read(t.ScriptID[:])
		}
		if version >= 13 {
			r.Read(t.OldTypeHash[:])
		}
		if r.Err() != nil {
			return nil, r.Err()
		}
		if enableTypeTree {
			tree, err := typetree.Read(r, version)
			if err != nil {
				return nil, fmt.Errorf("type %d: %w", i, err)
			}
			t.Tree = tree
			if version >= 21 {
				if isRefType {
					t.ClassName = r.CString()
					t.Namespace = r.CString()
					t.AssemblyName = r.CString()
				} else {
					t.TypeDependencies = cursor.ReadPrefixedArray[int32](r)
				}
			}
		}
		if r.Err() != nil {
			return nil, r.Err()
		}
	}
	return types, nil
}

func readObjects(r *cursor.Reader, h *Header, bigID bool, types []SerializedType) ([]ObjectInfo, error) {
	n := r.I32()
	if r.Err() != nil {
		return nil, r.Err()
	}
	if n < 0 || int64(n) > r.Len() {
		return nil, errors.New("invalid object count " + strconv.Itoa(int(n)))
	}
	v := h.Version
	objects := make([]ObjectInfo, n)
	for i := range objects {
		o := &objects[i]
		switch {
		case bigID:
			o.PathID = r.I64()
		case v < 14:
			o.PathID = int64(r.I32())
		default:
			r.Align(4)
			o.PathID = r.I64()
		}
		if v >= 22 {
			o.ByteStart = r.I64()
		} else {
			o.ByteStart = int64(r.U32())
		}
		o.ByteStart += int64(h.DataOffset)
		o.ByteSize = r.U32()
		o.TypeID = r.I32()
		if v < 16 {
			o.ClassID = unityfile.ClassID(r.U16())
		} else if o.TypeID >= 0 && int(o.TypeID) < len(types) {
			o.ClassID = types[o.TypeID].ClassID
		} else if r.Err() == nil {
			return nil, fmt.Errorf("object %d: type index %d out of range", o.PathID, o.TypeID)
		}
		if v < 11 {
			o.IsDestroyed = r.U16()
		}
		if v >= 11 && v < 17 {
			o.ScriptTypeIndex = r.I16()
		}
		if v == 15 || v == 16 {
			o.Stripped = r.U8()
		}
		if r.Err() != nil {
			return nil, r.Err()
		}
	}
	return objects, nil
}
