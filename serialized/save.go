package serialized

import (
	"encoding/binary"
	"fmt"

	"github.com/anaminus/unityfile"
	"github.com/anaminus/unityfile/cursor"
	"github.com/anaminus/unityfile/errors"
	"github.com/anaminus/unityfile/typetree"
)

// objectAlign is the alignment of object data relative to the data offset.
const objectAlign = 8

func alignUp(n, a int64) int64 {
	if rem := n % a; rem != 0 {
		return n + a - rem
	}
	return n
}

// Save encodes the current fields of obj with the tree it was decoded with,
// and writes the result over the object's data in the file. If the size of
// the object changes, the data of every following object is moved, and the
// object table and header are updated.
//
// When the file belongs to an arena, obj must have been decoded from it.
//
// Save takes exclusive access to the file for its duration.
func (f *File) Save(obj unityfile.Object) error {
	ref := obj.Ref()
	tree := obj.Tree()
	if tree == nil {
		return ObjectError{PathID: ref.PathID, Cause: ErrNoTree}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Index >= 0 && ref.File != f.Index {
		return ObjectError{PathID: ref.PathID, Cause: ErrForeignObject}
	}
	i, ok := f.index[ref.PathID]
	if !ok {
		return ObjectError{PathID: ref.PathID, Cause: ErrNotFound}
	}
	info := f.objects[i]
	if _, err := f.slice(info); err != nil {
		return ObjectError{PathID: ref.PathID, Cause: err}
	}

	w := cursor.NewWriter(f.Header.Endian.ByteOrder())
	if err := (typetree.Encoder{RefTypes: f.RefType}).Write(w, tree, obj.Fields()); err != nil {
		return ObjectError{PathID: ref.PathID, Cause: err}
	}
	encoded := w.Data()

	// Objects are aligned relative to the data offset, which is itself
	// aligned, so the absolute offsets are aligned too.
	dataOffset := int64(f.Header.DataOffset)
	start := info.ByteStart
	oldEnd := start + int64(info.ByteSize)
	newEnd := start + int64(len(encoded))
	oldNext := dataOffset + alignUp(oldEnd-dataOffset, objectAlign)
	newNext := dataOffset + alignUp(newEnd-dataOffset, objectAlign)
	if oldNext > int64(len(f.data)) {
		// The last object, with less trailing padding than alignment
		// requires.
		oldNext = int64(len(f.data))
		newNext = newEnd + oldNext - oldEnd
	}
	shift := newNext - oldNext

	buf := make([]byte, 0, int64(len(f.data))+shift)
	buf = append(buf, f.data[:start]...)
	buf = append(buf, encoded...)
	buf = append(buf, make([]byte, newNext-newEnd)...)
	buf = append(buf, f.data[oldNext:]...)

	objects := make([]ObjectInfo, len(f.objects))
	copy(objects, f.objects)
	objects[i].ByteSize = uint32(len(encoded))
	if shift != 0 {
		for j := range objects {
			if j != i && objects[j].ByteStart >= oldNext {
				objects[j].ByteStart += shift
			}
		}
	}

	// The table keeps its size, so it can be written over the old one. The
	// writer is offset to keep the alignment of path IDs.
	pad := f.tableStart % objectAlign
	tw := cursor.NewWriter(f.Header.Endian.ByteOrder())
	tw.Zero(pad)
	writeObjects(tw, f.Header.Version, f.BigIDEnabled != 0, dataOffset, objects)
	if err := tw.Err(); err != nil {
		return ObjectError{PathID: ref.PathID, Cause: err}
	}
	table := tw.Data()[pad:]
	if int64(len(table)) != f.tableEnd-f.tableStart {
		return ObjectError{PathID: ref.PathID, Cause: errors.DataError{
			Offset: f.tableStart,
			Cause:  fmt.Errorf("object table size changed from %d to %d", f.tableEnd-f.tableStart, len(table)),
		}}
	}
	copy(buf[f.tableStart:], table)

	h := f.Header
	h.FileSize = uint64(int64(h.FileSize) + shift)
	if h.Version >= 22 {
		binary.BigEndian.PutUint64(buf[24:], h.FileSize)
	} else {
		binary.BigEndian.PutUint32(buf[4:], uint32(h.FileSize))
	}

	f.Header = h
	f.objects = objects
	f.data = buf
	return nil
}
