package serialized

import (
	"fmt"

	"github.com/anaminus/unityfile"
	"github.com/anaminus/unityfile/cursor"
	"github.com/anaminus/unityfile/errors"
	"github.com/anaminus/unityfile/typetree"
)

// ObjectError wraps an error that occurred while decoding or encoding a
// single object.
type ObjectError struct {
	PathID int64
	Cause  error
}

func (err ObjectError) Error() string {
	return fmt.Sprintf("object %d: %s", err.PathID, err.Cause)
}

func (err ObjectError) Unwrap() error {
	return err.Cause
}

// ErrNoTree indicates an object whose type has no type tree, and whose class
// has no built-in tree.
var ErrNoTree = errors.New("no type tree")

// ErrNotFound indicates a path ID not present in a file.
var ErrNotFound = errors.New("object not found")

// ErrForeignObject indicates an object that was decoded from a different file.
var ErrForeignObject = errors.New("object belongs to another file")

func (f *File) slice(info ObjectInfo) ([]byte, error) {
	start, size := info.ByteStart, int64(info.ByteSize)
	if start < 0 || start > int64(len(f.data)) {
		return nil, errors.TruncatedError{Offset: start, Need: size, Have: 0}
	}
	if have := int64(len(f.data)) - start; size > have {
		return nil, errors.TruncatedError{Offset: start, Need: size, Have: have}
	}
	return f.data[start : start+size], nil
}

// Tree returns the type tree used to decode an object: the tree of its type,
// or the built-in tree of its class when the file carries no trees.
func (f *File) Tree(info ObjectInfo) *unityfile.Node {
	if t := f.TypeOf(info); t != nil && t.Tree != nil {
		return t.Tree
	}
	return typetree.Builtin(info.ClassID, f.Version)
}

func (f *File) decoder() typetree.Decoder {
	return typetree.Decoder{Strict: f.strict, RefTypes: f.RefType}
}

// Deserialize decodes the object with the given path ID. Each call decodes
// the object afresh from the file's buffer, which is not modified.
func (f *File) Deserialize(pathID int64) (obj unityfile.Object, warn, err error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	i, ok := f.index[pathID]
	if !ok {
		return nil, nil, ObjectError{PathID: pathID, Cause: ErrNotFound}
	}
	info := f.objects[i]
	data, err := f.slice(info)
	if err != nil {
		return nil, nil, ObjectError{PathID: pathID, Cause: err}
	}
	tree := f.Tree(info)
	if tree == nil {
		return nil, nil, ObjectError{PathID: pathID, Cause: fmt.Errorf("%w for class %s", ErrNoTree, info.ClassID)}
	}

	var warns errors.Errors
	r := cursor.NewReader(data, f.Header.Endian.ByteOrder())
	fields, w, err := f.decoder().Struct(r, tree)
	warns = warns.Append(w)
	if err != nil {
		return nil, warns.Return(), ObjectError{PathID: pathID, Cause: err}
	}
	if r.Pos() != int64(info.ByteSize) {
		mismatch := errors.SchemaMismatchError{Path: tree.Name, Type: tree.Type, Expected: int64(info.ByteSize), Actual: r.Pos()}
		if f.strict {
			return nil, nil, ObjectError{PathID: pathID, Cause: mismatch}
		}
		warns = warns.Append(mismatch)
	}

	obj, w = unityfile.NewObject(unityfile.ObjectRef{File: f.Index, PathID: pathID}, info.ClassID, tree, fields)
	warns = warns.Append(w)
	if warn := warns.Return(); warn != nil {
		return obj, ObjectError{PathID: pathID, Cause: warn}, nil
	}
	return obj, nil, nil
}

// PeekName returns the m_Name field of an object without decoding the rest of
// the object.
func (f *File) PeekName(pathID int64) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	i, ok := f.index[pathID]
	if !ok {
		return "", false
	}
	info := f.objects[i]
	data, err := f.slice(info)
	if err != nil {
		return "", false
	}
	tree := f.Tree(info)
	if tree == nil {
		return "", false
	}
	return f.decoder().PeekName(cursor.NewReader(data, f.Header.Endian.ByteOrder()), tree)
}
