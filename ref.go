package unityfile

import (
	"fmt"
)

// PPtr is a reference to an object in the same or another file. It is a
// plain value; resolving it is a lookup performed by the caller.
type PPtr struct {
	// FileID is 0 for the file containing the reference. Otherwise, it is
	// one more than an index into that file's list of externals.
	FileID int32
	// PathID identifies the object within the referenced file.
	PathID int64
}

// IsNull returns whether the reference points to nothing.
func (p PPtr) IsNull() bool {
	return p.PathID == 0
}

func (p PPtr) String() string {
	return fmt.Sprintf("PPtr(FileID: %d, PathID: %d)", p.FileID, p.PathID)
}

// PPtrFromValue reads a PPtr from a struct with m_FileID and m_PathID fields.
// Returns false if v does not have that shape.
func PPtrFromValue(v Value) (PPtr, bool) {
	s, ok := v.(*ValueStruct)
	if !ok {
		return PPtr{}, false
	}
	file, ok := s.Int("m_FileID")
	if !ok {
		return PPtr{}, false
	}
	path, ok := s.Int("m_PathID")
	if !ok {
		return PPtr{}, false
	}
	return PPtr{FileID: int32(file), PathID: path}, true
}

// Store writes p into a struct with m_FileID and m_PathID fields, keeping the
// widths of the existing fields.
func (p PPtr) Store(s *ValueStruct) {
	if v := SetInt(s.Get("m_FileID"), int64(p.FileID)); v != nil {
		s.Set("m_FileID", v)
	}
	if v := SetInt(s.Get("m_PathID"), p.PathID); v != nil {
		s.Set("m_PathID", v)
	}
}

// IsPPtrType returns whether a type name denotes a PPtr.
func IsPPtrType(typ string) bool {
	return len(typ) > 5 && typ[:5] == "PPtr<" && typ[len(typ)-1] == '>'
}

// ObjectRef locates an object within an arena of loaded files.
type ObjectRef struct {
	// File is the index of the owning file. It is -1 for objects not owned
	// by an arena.
	File   int
	PathID int64
}
