// The typetree package decodes and encodes type trees, and decodes and
// encodes object data according to a type tree.
package typetree

import (
	"bytes"
	"strconv"

	"github.com/anaminus/unityfile"
	"github.com/anaminus/unityfile/cursor"
	"github.com/anaminus/unityfile/errors"
)

// Size of a node record in the blob format.
const (
	blobNodeSize       = 24
	blobNodeSizeRefTyp = 32
)

// commonFlag marks a string offset as referring to the common string table.
const commonFlag = 0x80000000

// UsesBlob returns whether type trees of a file format version are stored in
// the blob format.
func UsesBlob(formatVersion uint32) bool {
	return formatVersion >= 12 || formatVersion == 10
}

// ReadOld reads a type tree stored as nested records, used by format versions
// before 12, except 10.
func ReadOld(r *cursor.Reader, formatVersion uint32) (*unityfile.Node, error) {
	var index int32
	root := readOldNode(r, formatVersion, 0, &index)
	if err := r.Err(); err != nil {
		return nil, err
	}
	return root, nil
}

func readOldNode(r *cursor.Reader, v uint32, level uint8, index *int32) *unityfile.Node {
	node := &unityfile.Node{Level: level}
	node.Type = r.CString()
	node.Name = r.CString()
	node.ByteSize = r.I32()
	if v == 2 {
		node.VariableCount = r.I32()
	}
	if v != 3 {
		node.Index = r.I32()
	} else {
		node.Index = *index
	}
	*index++
	node.TypeFlags = r.I32()
	node.Version = r.I32()
	if v != 3 {
		node.MetaFlag = r.U32()
	}
	count := r.I32()
	if r.Err() != nil {
		return node
	}
	if count < 0 || int64(count) > r.Len() {
		r.Fail(errors.DataError{Offset: r.Pos() - 4, Cause: errors.New("invalid child count " + strconv.Itoa(int(count)))})
		return node
	}
	for i := int32(0); i < count; i++ {
		child := readOldNode(r, v, level+1, index)
		if r.Err() != nil {
			return node
		}
		node.Children = append(node.Children, child)
	}
	return node
}

// WriteOld writes a type tree as nested records.
func WriteOld(w *cursor.Writer, root *unityfile.Node, formatVersion uint32) error {
	writeOldNode(w, root, formatVersion)
	return w.Err()
}

func writeOldNode(w *cursor.Writer, node *unityfile.Node, v uint32) {
	w.CString(node.Type)
	w.CString(node.Name)
	w.I32(node.ByteSize)
	if v == 2 {
		w.I32(node.VariableCount)
	}
	if v != 3 {
		w.I32(node.Index)
	}
	w.I32(node.TypeFlags)
	w.I32(node.Version)
	if v != 3 {
		w.U32(node.MetaFlag)
	}
	w.I32(int32(len(node.Children)))
	for _, c := range node.Children {
		writeOldNode(w, c, v)
	}
}

// ReadBlob reads a type tree stored as a flat node list followed by a string
// buffer.
func ReadBlob(r *cursor.Reader, formatVersion uint32) (*unityfile.Node, error) {
	count := r.I32()
	bufSize := r.I32()
	if err := r.Err(); err != nil {
		return nil, err
	}
	nodeSize := int64(blobNodeSize)
	if formatVersion >= 19 {
		nodeSize = blobNodeSizeRefTyp
	}
	if count < 0 || bufSize < 0 || int64(count)*nodeSize+int64(bufSize) > r.Len() {
		return nil, errors.DataError{Offset: r.Pos() - 8, Cause: errors.TruncatedError{
			Offset: r.Pos(),
			Need:   int64(count)*nodeSize + int64(bufSize),
			Have:   r.Len(),
		}}
	}

	type offsets struct{ typ, name uint32 }
	flat := make([]*unityfile.Node, count)
	strs := make([]offsets, count)
	for i := range flat {
		n := &unityfile.Node{}
		n.Version = int32(r.I16())
		n.Level = r.U8()
		n.TypeFlags = int32(r.U8())
		strs[i].typ = r.U32()
		strs[i].name = r.U32()
		n.ByteSize = r.I32()
		n.Index = r.I32()
		n.MetaFlag = r.U32()
		if formatVersion >= 19 {
			n.RefTypeHash = r.U64()
		}
		flat[i] = n
	}
	buf := r.Bytes(int64(bufSize))
	if err := r.Err(); err != nil {
		return nil, err
	}
	for i, n := range flat {
		n.Type = blobString(buf, strs[i].typ)
		n.Name = blobString(buf, strs[i].name)
	}
	root, err := unityfile.BuildTree(flat)
	if err != nil {
		return nil, errors.DataError{Offset: r.Pos(), Cause: err}
	}
	return root, nil
}

func blobString(buf []byte, offset uint32) string {
	if offset&commonFlag == 0 {
		if int64(offset) < int64(len(buf)) {
			s := buf[offset:]
			if i := bytes.IndexByte(s, 0); i >= 0 {
				s = s[:i]
			}
			return string(s)
		}
		return strconv.FormatUint(uint64(offset), 10)
	}
	if s, ok := CommonString(offset &^ commonFlag); ok {
		return s
	}
	return strconv.FormatUint(uint64(offset&^commonFlag), 10)
}

// WriteBlob writes a type tree as a flat node list followed by a string
// buffer. Strings present in the common string table refer to it; others are
// stored once in the buffer.
func WriteBlob(w *cursor.Writer, root *unityfile.Node, formatVersion uint32) error {
	flat := root.Flatten()
	var buf bytes.Buffer
	local := map[string]uint32{}
	offset := func(s string) uint32 {
		if o, ok := CommonOffset(s); ok {
			return o | commonFlag
		}
		if o, ok := local[s]; ok {
			return o
		}
		o := uint32(buf.Len())
		local[s] = o
		buf.WriteString(s)
		buf.WriteByte(0)
		return o
	}
	type offsets struct{ typ, name uint32 }
	strs := make([]offsets, len(flat))
	for i, n := range flat {
		strs[i] = offsets{typ: offset(n.Type), name: offset(n.Name)}
	}

	w.I32(int32(len(flat)))
	w.I32(int32(buf.Len()))
	for i, n := range flat {
		w.I16(int16(n.Version))
		w.U8(n.Level)
		w.U8(uint8(n.TypeFlags))
		w.U32(strs[i].typ)
		w.U32(strs[i].name)
		w.I32(n.ByteSize)
		w.I32(n.Index)
		w.U32(n.MetaFlag)
		if formatVersion >= 19 {
			w.U64(n.RefTypeHash)
		}
	}
	w.Write(buf.Bytes())
	return w.Err()
}

// Read reads a type tree in the encoding used by the format version.
func Read(r *cursor.Reader, formatVersion uint32) (*unityfile.Node, error) {
	if UsesBlob(formatVersion) {
		return ReadBlob(r, formatVersion)
	}
	return ReadOld(r, formatVersion)
}

// Write writes a type tree in the encoding used by the format version.
func Write(w *cursor.Writer, root *unityfile.Node, formatVersion uint32) error {
	if UsesBlob(formatVersion) {
		return WriteBlob(w, root, formatVersion)
	}
	return WriteOld(w, root, formatVersion)
}
