package environment

import (
	"github.com/anaminus/unityfile"
	"github.com/anaminus/unityfile/errors"
	"github.com/anaminus/unityfile/serialized"
)

// target returns the file referred to by the FileID of ptr, relative to from.
func (e *Environment) target(from *serialized.File, ptr unityfile.PPtr) (*serialized.File, bool) {
	if ptr.FileID == 0 {
		return from, true
	}
	ext, ok := from.External(ptr.FileID)
	if !ok {
		return nil, false
	}
	return e.FindFile(ext.Path)
}

// ResolveInfo locates the object referred to by ptr, relative to the file
// from, without deserializing it. Returns false if the pointer is null, or its
// file or object is not loaded.
func (e *Environment) ResolveInfo(from *serialized.File, ptr unityfile.PPtr) (*serialized.File, serialized.ObjectInfo, bool) {
	if ptr.IsNull() || from == nil {
		return nil, serialized.ObjectInfo{}, false
	}
	f, ok := e.target(from, ptr)
	if !ok {
		return nil, serialized.ObjectInfo{}, false
	}
	info, ok := f.GetObject(ptr.PathID)
	if !ok {
		return nil, serialized.ObjectInfo{}, false
	}
	return f, info, true
}

// Resolve deserializes the object referred to by ptr, relative to the file
// from. An unresolved reference returns false with no error. Warnings from
// deserializing are discarded; File.Deserialize reports them.
func (e *Environment) Resolve(from *serialized.File, ptr unityfile.PPtr) (unityfile.Object, bool, error) {
	f, info, ok := e.ResolveInfo(from, ptr)
	if !ok {
		return nil, false, nil
	}
	obj, _, err := f.Deserialize(info.PathID)
	if err != nil {
		return nil, true, err
	}
	return obj, true, nil
}

// ObjectEntry identifies an object of the arena.
type ObjectEntry struct {
	unityfile.ObjectRef
	ClassID unityfile.ClassID
}

// Objects returns every object of every file, ordered by file index, then by
// position within the file.
func (e *Environment) Objects() []ObjectEntry {
	var entries []ObjectEntry
	for _, f := range e.Files() {
		for _, info := range f.Objects() {
			entries = append(entries, ObjectEntry{
				ObjectRef: unityfile.ObjectRef{File: f.Index, PathID: info.PathID},
				ClassID:   info.ClassID,
			})
		}
	}
	return entries
}

var errAssetBundleShape = errors.New("AssetBundle has unexpected fields")

// Asset is an entry of the container of an AssetBundle.
type Asset struct {
	// File is the file of the AssetBundle, which the pointer is relative to.
	File  *serialized.File
	Asset unityfile.PPtr
}

// Container maps the logical asset paths of every loaded AssetBundle to their
// assets. An AssetBundle that cannot be deserialized is reported in warn.
func (e *Environment) Container() (assets map[string]Asset, warn error) {
	var warns errors.Errors
	assets = map[string]Asset{}
	for _, f := range e.Files() {
		for _, info := range f.Objects() {
			if info.ClassID != unityfile.ClassAssetBundle {
				continue
			}
			obj, w, err := f.Deserialize(info.PathID)
			if err != nil {
				warns = warns.Append(SourceError{Name: f.Name, Cause: err})
				continue
			}
			ab, ok := obj.(*unityfile.AssetBundle)
			if !ok {
				if w == nil {
					w = errAssetBundleShape
				}
				warns = warns.Append(SourceError{Name: f.Name, Cause: w})
				continue
			}
			for _, entry := range ab.Container {
				assets[entry.Path] = Asset{File: f, Asset: entry.Asset}
			}
		}
	}
	return assets, warns.Return()
}
