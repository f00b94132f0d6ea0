package serialized

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/anaminus/unityfile/cursor"
	"github.com/anaminus/unityfile/errors"
	"github.com/anaminus/unityfile/typetree"
)

// Object pairs the table entry of an object with its encoded data.
type Object struct {
	Info ObjectInfo
	Data []byte
}

// Encoder encodes SerializedFiles.
type Encoder struct{}

// Encode assembles a file from a header, metadata and objects. The sizes and
// offsets of the header, and the ByteStart and ByteSize of each object, are
// computed. Objects are placed in the given order, each aligned to 8 bytes.
func (e Encoder) Encode(h Header, m Metadata, objects []Object) ([]byte, error) {
	if h.Version < MinVersion || h.Version > MaxVersion {
		return nil, errors.UnsupportedVersionError{Format: "serialized file", Version: strconv.FormatUint(uint64(h.Version), 10)}
	}
	order := h.Endian.ByteOrder()

	data := cursor.NewWriter(order)
	infos := make([]ObjectInfo, len(objects))
	for i, o := range objects {
		data.Align(8)
		infos[i] = o.Info
		infos[i].ByteStart = data.Pos()
		infos[i].ByteSize = uint32(len(o.Data))
		data.Write(o.Data)
	}

	meta := cursor.NewWriter(order)
	if err := writeMetadata(meta, h.Version, &m, infos); err != nil {
		return nil, err
	}

	h.MetadataSize = uint32(meta.Pos())
	dataOffset := h.Size() + meta.Pos()
	if rem := dataOffset % 16; rem != 0 {
		dataOffset += 16 - rem
	}
	h.DataOffset = uint64(dataOffset)
	h.FileSize = uint64(dataOffset + data.Pos())

	w := cursor.NewWriter(binary.BigEndian)
	writeHeader(w, h)
	w.Write(meta.Data())
	w.Zero(dataOffset - w.Pos())
	w.Write(data.Data())
	if err := w.Err(); err != nil {
		return nil, err
	}
	return w.Data(), nil
}

// EncodeFile re-encodes a decoded file from its current metadata and object
// data.
func (e Encoder) EncodeFile(f *File) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	objects := make([]Object, len(f.objects))
	for i, info := range f.objects {
		b, err := f.slice(info)
		if err != nil {
			return nil, ObjectError{PathID: info.PathID, Cause: err}
		}
		objects[i] = Object{Info: info, Data: b}
	}
	return e.Encode(f.Header, f.Metadata, objects)
}

func writeHeader(w *cursor.Writer, h Header) {
	if h.Version >= 22 {
		w.U32(0)
		w.U32(0)
		w.U32(h.Version)
		w.U32(0)
	} else {
		w.U32(h.MetadataSize)
		w.U32(uint32(h.FileSize))
		w.U32(h.Version)
		w.U32(uint32(h.DataOffset))
	}
	w.U8(uint8(h.Endian))
	w.Write(h.Reserved[:])
	if h.Version >= 22 {
		w.U32(h.MetadataSize)
		w.U64(h.FileSize)
		w.U64(h.DataOffset)
		w.I64(h.Unknown)
	}
}

// writeMetadata writes metadata with the object table built from objects,
// whose ByteStart values are relative to the start of the data.
func writeMetadata(w *cursor.Writer, version uint32, m *Metadata, objects []ObjectInfo) error {
	w.CString(m.UnityVersion)
	w.I32(m.TargetPlatform)
	if version >= 13 {
		w.Bool(m.EnableTypeTree)
	}
	if err := writeTypes(w, version, m.Types, m.EnableTypeTree, false); err != nil {
		return err
	}
	if version >= 7 && version < 14 {
		w.I32(m.BigIDEnabled)
	}
	writeObjects(w, version, m.BigIDEnabled != 0, 0, objects)
	if version >= 11 {
		w.I32(int32(len(m.ScriptTypes)))
		for _, s := range m.ScriptTypes {
			w.I32(s.FileIndex)
			if version < 14 {
				w.I32(int32(s.PathID))
			} else {
				w.Align(4)
				w.I64(s.PathID)
			}
		}
	}
	w.I32(int32(len(m.Externals)))
	for _, e := range m.Externals {
		if version >= 6 {
			w.CString(e.TempEmpty)
		}
		if version >= 5 {
			w.Write(e.GUID[:])
			w.I32(e.Type)
		}
		w.CString(e.Path)
	}
	if version >= 20 {
		if err := writeTypes(w, version, m.RefTypes, m.EnableTypeTree, true); err != nil {
			return err
		}
	}
	if version >= 5 {
		w.CString(m.UserInformation)
	}
	return w.Err()
}

func writeTypes(w *cursor.Writer, version uint32, types []SerializedType, enableTypeTree, isRefType bool) error {
	w.I32(int32(len(types)))
	for i := range types {
		t := &types[i]
		w.I32(int32(t.ClassID))
		if version >= 16 {
			w.Bool(t.IsStrippedType)
		}
		if version >= 17 {
			w.I16(t.ScriptTypeIndex)
		}
		if t.hasScriptID(version, isRefType) {
			w.Write(t.ScriptID[:])
		}
		if version >= 13 {
			w.Write(t.OldTypeHash[:])
		}
		if enableTypeTree {
			if t.Tree == nil {
				return fmt.Errorf("type %d: missing type tree", i)
			}
			if err := typetree.Write(w, t.Tree, version); err != nil {
				return fmt.Errorf("type %d: %w", i, err)
			}
			if version >= 21 {
				if isRefType {
					w.CString(t.ClassName)
					w.CString(t.Namespace)
					w.CString(t.AssemblyName)
				} else {
					cursor.WritePrefixedArray(w, t.TypeDependencies)
				}
			}
		}
	}
	return w.Err()
}

// writeObjects writes the object table. ByteStart values are written relative
// to dataOffset.
func writeObjects(w *cursor.Writer, version uint32, bigID bool, dataOffset int64, objects []ObjectInfo) {
	w.I32(int32(len(objects)))
	for _, o := range objects {
		switch {
		case bigID:
			w.I64(o.PathID)
		case version < 14:
			w.I32(int32(o.PathID))
		default:
			w.Align(4)
			w.I64(o.PathID)
		}
		if version >= 22 {
			w.I64(o.ByteStart - dataOffset)
		} else {
			w.U32(uint32(o.ByteStart - dataOffset))
		}
		w.U32(o.ByteSize)
		w.I32(o.TypeID)
		if version < 16 {
			w.U16(uint16(o.ClassID))
		}
		if version < 11 {
			w.U16(o.IsDestroyed)
		}
		if version >= 11 && version < 17 {
			w.I16(o.ScriptTypeIndex)
		}
		if version == 15 || version == 16 {
			w.U8(o.Stripped)
		}
	}
}
