package typetree

import (
	"fmt"

	"github.com/anaminus/unityfile"
	"github.com/anaminus/unityfile/cursor"
	"github.com/anaminus/unityfile/errors"
)

// RefTypeFunc returns the type tree of a managed reference type, identified by
// class name, namespace and assembly. It returns nil if the type is unknown.
type RefTypeFunc func(class, namespace, assembly string) *unityfile.Node

// Decoder decodes values according to a type tree.
type Decoder struct {
	// Strict causes a node that does not consume its declared size to fail
	// the decode. Otherwise, the mismatch is reported as a warning.
	Strict bool
	// RefTypes resolves the data of ReferencedObject nodes. If nil,
	// referenced data is omitted.
	RefTypes RefTypeFunc
}

type decoder struct {
	Decoder
	r           *cursor.Reader
	warn        errors.Errors
	hasRegistry bool
}

// Read decodes the value described by node from r. Warnings are returned in
// warn. A fatal error leaves r failed.
func (d Decoder) Read(r *cursor.Reader, node *unityfile.Node) (v unityfile.Value, warn, err error) {
	dec := &decoder{Decoder: d, r: r}
	v = dec.read(node, node.Name)
	if err = r.Err(); err != nil {
		return nil, dec.warn.Return(), err
	}
	return v, dec.warn.Return(), nil
}

// Struct decodes a value whose root node is a struct, and returns the result
// as a *ValueStruct.
func (d Decoder) Struct(r *cursor.Reader, node *unityfile.Node) (s *unityfile.ValueStruct, warn, err error) {
	v, warn, err := d.Read(r, node)
	if err != nil {
		return nil, warn, err
	}
	s, ok := v.(*unityfile.ValueStruct)
	if !ok {
		return nil, warn, errors.DataError{Offset: r.Pos(), Cause: fmt.Errorf("root node %s is not a struct", node)}
	}
	return s, warn, nil
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

// arrayNode returns the Array child of node, if node is an array.
func arrayNode(node *unityfile.Node) *unityfile.Node {
	if len(node.Children) == 0 {
		return nil
	}
	a := node.Children[0]
	if a.Type != "Array" || len(a.Children) < 2 {
		return nil
	}
	return a
}

// isByteElem returns whether arrays of node decode as ValueBytes.
func isByteElem(node *unityfile.Node) bool {
	if len(node.Children) != 0 {
		return false
	}
	switch node.Type {
	case "UInt8", "SInt8", "char":
		return !node.Aligned()
	}
	return false
}

func (d *decoder) readPrimitive(node *unityfile.Node) (unityfile.Value, bool) {
	r := d.r
	switch node.Type {
	case "SInt8":
		return unityfile.ValueSInt8(r.I8()), true
	case "UInt8", "char":
		return unityfile.ValueUInt8(r.U8()), true
	case "short", "SInt16":
		return unityfile.ValueSInt16(r.I16()), true
	case "unsigned short", "UInt16":
		return unityfile.ValueUInt16(r.U16()), true
	case "int", "SInt32":
		return unityfile.ValueSInt32(r.I32()), true
	case "unsigned int", "UInt32", "Type*":
		return unityfile.ValueUInt32(r.U32()), true
	case "long long", "SInt64":
		return unityfile.ValueSInt64(r.I64()), true
	case "unsigned long long", "UInt64", "FileSize":
		return unityfile.ValueUInt64(r.U64()), true
	case "float":
		return unityfile.ValueFloat(r.F32()), true
	case "double":
		return unityfile.ValueDouble(r.F64()), true
	case "bool":
		return unityfile.ValueBool(r.Bool()), true
	case "string":
		return unityfile.ValueString(r.PrefixedString()), true
	case "TypelessData":
		n := r.I32()
		if n < 0 {
			r.Fail(errors.DataError{Offset: r.Pos() - 4, Cause: errors.New("negative data length")})
			return nil, true
		}
		return unityfile.ValueBytes(r.Bytes(int64(n))), true
	}
	return nil, false
}

func (d *decoder) read(node *unityfile.Node, path string) unityfile.Value {
	r := d.r
	if r.Err() != nil {
		return nil
	}
	start := r.Pos()
	align := node.Aligned()
	var v unityfile.Value

	if pv, ok := d.readPrimitive(node); ok {
		v = pv
		if a := arrayNode(node); a != nil && a.Aligned() {
			align = true
		}
	} else if node.Type == "pair" && len(node.Children) == 2 {
		first := d.read(node.Children[0], join(path, node.Children[0].Name))
		second := d.read(node.Children[1], join(path, node.Children[1].Name))
		v = unityfile.ValuePair{First: first, Second: second}
	} else if node.Type == "ReferencedObject" {
		v = d.readReferenced(node, path)
	} else if a := arrayNode(node); a != nil {
		if a.Aligned() {
			align = true
		}
		v = d.readArray(a, path)
	} else if len(node.Children) > 0 {
		s := &unityfile.ValueStruct{Fields: make([]unityfile.Field, 0, len(node.Children))}
		for _, child := range node.Children {
			if child.Type == "ManagedReferencesRegistry" {
				if d.hasRegistry {
					continue
				}
				d.hasRegistry = true
			}
			cv := d.read(child, join(path, child.Name))
			if r.Err() != nil {
				return nil
			}
			s.Fields = append(s.Fields, unityfile.Field{Name: child.Name, Value: cv})
		}
		v = s
	} else {
		if node.ByteSize < 0 {
			r.Fail(errors.SchemaMismatchError{Path: path, Type: node.Type, Expected: int64(node.ByteSize), Actual: 0})
			return nil
		}
		v = unityfile.ValueBytes(r.Bytes(int64(node.ByteSize)))
	}
	if r.Err() != nil {
		return nil
	}

	if node.ByteSize >= 0 {
		if n := r.Pos() - start; n != int64(node.ByteSize) {
			err := errors.SchemaMismatchError{Path: path, Type: node.Type, Expected: int64(node.ByteSize), Actual: n}
			if d.Strict {
				r.Fail(err)
				return nil
			}
			d.warn = d.warn.Append(err)
		}
	}
	if align {
		r.Align(4)
	}
	return v
}

func (d *decoder) readArray(a *unityfile.Node, path string) unityfile.Value {
	r := d.r
	count := r.I32()
	if r.Err() != nil {
		return nil
	}
	elem := a.Children[1]
	if count < 0 {
		r.Fail(errors.DataError{Offset: r.Pos() - 4, Cause: fmt.Errorf("%s: negative array size %d", path, count)})
		return nil
	}
	if elem.ByteSize != 0 && int64(count) > r.Len() {
		r.Fail(errors.TruncatedError{Offset: r.Pos(), Need: int64(count), Have: r.Len()})
		return nil
	}
	if isByteElem(elem) {
		return unityfile.ValueBytes(r.Bytes(int64(count)))
	}
	arr := make(unityfile.ValueArray, 0, count)
	elemPath := join(path, elem.Name)
	for i := int32(0); i < count; i++ {
		ev := d.read(elem, elemPath)
		if r.Err() != nil {
			return nil
		}
		arr = append(arr, ev)
	}
	return arr
}

func (d *decoder) readReferenced(node *unityfile.Node, path string) unityfile.Value {
	s := &unityfile.ValueStruct{}
	for _, child := range node.Children {
		if child.Type != "ReferencedObjectData" {
			cv := d.read(child, join(path, child.Name))
			if d.r.Err() != nil {
				return nil
			}
			s.Fields = append(s.Fields, unityfile.Field{Name: child.Name, Value: cv})
			continue
		}
		ref := referencedType(s, d.RefTypes)
		if ref == nil {
			continue
		}
		cv := d.read(ref, join(path, child.Name))
		if d.r.Err() != nil {
			return nil
		}
		s.Fields = append(s.Fields, unityfile.Field{Name: child.Name, Value: cv})
	}
	return s
}

func referencedType(s *unityfile.ValueStruct, lookup RefTypeFunc) *unityfile.Node {
	if lookup == nil {
		return nil
	}
	typ := s.Struct("type")
	class, _ := typ.Str("class")
	if class == "" {
		return nil
	}
	ns, _ := typ.Str("ns")
	asm, _ := typ.Str("asm")
	return lookup(class, ns, asm)
}

// PeekName returns the m_Name field of the value described by node, reading
// only the fields that precede it. Returns false if the root has no m_Name
// string field, or if the data could not be read.
func (d Decoder) PeekName(r *cursor.Reader, node *unityfile.Node) (string, bool) {
	dec := &decoder{Decoder: Decoder{RefTypes: d.RefTypes}, r: r}
	for _, child := range node.Children {
		if child.Name == "m_Name" {
			if child.Type != "string" {
				return "", false
			}
			s := r.PrefixedString()
			return s, r.Err() == nil
		}
		dec.read(child, child.Name)
		if r.Err() != nil {
			return "", false
		}
	}
	return "", false
}

////////////////////////////////////////////////////////////////

// ValueError indicates a value that cannot be encoded with a node.
type ValueError struct {
	Path  string
	Type  string
	Value unityfile.Value
}

func (err ValueError) Error() string {
	if err.Value == nil {
		return fmt.Sprintf("%s: missing value for %s", err.Path, err.Type)
	}
	return fmt.Sprintf("%s: cannot encode %s as %s", err.Path, err.Value.Type(), err.Type)
}

// Encoder encodes values according to a type tree. It is the inverse of
// Decoder: a value decoded with a node and encoded with the same node yields
// the same bytes.
type Encoder struct {
	RefTypes RefTypeFunc
}

type encoder struct {
	Encoder
	w           *cursor.Writer
	hasRegistry bool
}

// Write encodes v according to node.
func (e Encoder) Write(w *cursor.Writer, node *unityfile.Node, v unityfile.Value) error {
	enc := &encoder{Encoder: e, w: w}
	if err := enc.write(node, v, node.Name); err != nil {
		return err
	}
	return w.Err()
}

func (e *encoder) writePrimitive(node *unityfile.Node, v unityfile.Value, path string) (handled bool, err error) {
	w := e.w
	fail := func() (bool, error) {
		return true, ValueError{Path: path, Type: node.Type, Value: v}
	}
	integer := func() (int64, bool) {
		n, ok := unityfile.Int(v)
		return n, ok
	}
	switch node.Type {
	case "SInt8", "UInt8", "char", "short", "SInt16", "unsigned short", "UInt16",
		"int", "SInt32", "unsigned int", "UInt32", "Type*":
		n, ok := integer()
		if !ok {
			return fail()
		}
		switch node.Type {
		case "SInt8":
			w.I8(int8(n))
		case "UInt8", "char":
			w.U8(uint8(n))
		case "short", "SInt16":
			w.I16(int16(n))
		case "unsigned short", "UInt16":
			w.U16(uint16(n))
		case "int", "SInt32":
			w.I32(int32(n))
		default:
			w.U32(uint32(n))
		}
	case "long long", "SInt64":
		n, ok := integer()
		if !ok {
			return fail()
		}
		w.I64(n)
	case "unsigned long long", "UInt64", "FileSize":
		if u, ok := v.(unityfile.ValueUInt64); ok {
			w.U64(uint64(u))
			break
		}
		n, ok := integer()
		if !ok {
			return fail()
		}
		w.U64(uint64(n))
	case "float":
		switch f := v.(type) {
		case unityfile.ValueFloat:
			w.F32(float32(f))
		case unityfile.ValueDouble:
			w.F32(float32(f))
		default:
			return fail()
		}
	case "double":
		switch f := v.(type) {
		case unityfile.ValueDouble:
			w.F64(float64(f))
		case unityfile.ValueFloat:
			w.F64(float64(f))
		default:
			return fail()
		}
	case "bool":
		b, ok := v.(unityfile.ValueBool)
		if !ok {
			return fail()
		}
		w.Bool(bool(b))
	case "string":
		switch s := v.(type) {
		case unityfile.ValueString:
			w.PrefixedString(string(s))
		case unityfile.ValueBytes:
			w.I32(int32(len(s)))
			w.Write(s)
		default:
			return fail()
		}
	case "TypelessData":
		b, ok := v.(unityfile.ValueBytes)
		if !ok {
			return fail()
		}
		w.I32(int32(len(b)))
		w.Write(b)
	default:
		return false, nil
	}
	return true, nil
}

func (e *encoder) write(node *unityfile.Node, v unityfile.Value, path string) error {
	align := node.Aligned()
	if ok, err := e.writePrimitive(node, v, path); err != nil {
		return err
	} else if ok {
		if a := arrayNode(node); a != nil && a.Aligned() {
			align = true
		}
	} else if node.Type == "pair" && len(node.Children) == 2 {
		p, ok := v.(unityfile.ValuePair)
		if !ok {
			return ValueError{Path: path, Type: node.Type, Value: v}
		}
		if err := e.write(node.Children[0], p.First, join(path, node.Children[0].Name)); err != nil {
			return err
		}
		if err := e.write(node.Children[1], p.Second, join(path, node.Children[1].Name)); err != nil {
			return err
		}
	} else if node.Type == "ReferencedObject" {
		if err := e.writeReferenced(node, v, path); err != nil {
			return err
		}
	} else if a := arrayNode(node); a != nil {
		if a.Aligned() {
			align = true
		}
		if err := e.writeArray(a, v, path); err != nil {
			return err
		}
	} else if len(node.Children) > 0 {
		s, ok := v.(*unityfile.ValueStruct)
		if !ok {
			return ValueError{Path: path, Type: node.Type, Value: v}
		}
		for _, child := range node.Children {
			if child.Type == "ManagedReferencesRegistry" {
				if e.hasRegistry {
					continue
				}
				e.hasRegistry = true
			}
			cpath := join(path, child.Name)
			cv := s.Get(child.Name)
			if cv == nil {
				return ValueError{Path: cpath, Type: child.Type}
			}
			if err := e.write(child, cv, cpath); err != nil {
				return err
			}
		}
	} else {
		b, ok := v.(unityfile.ValueBytes)
		if !ok || node.ByteSize < 0 || len(b) != int(node.ByteSize) {
			return ValueError{Path: path, Type: node.Type, Value: v}
		}
		e.w.Write(b)
	}
	if align {
		e.w.Align(4)
	}
	return e.w.Err()
}

func (e *encoder) writeArray(a *unityfile.Node, v unityfile.Value, path string) error {
	elem := a.Children[1]
	switch v := v.(type) {
	case unityfile.ValueBytes:
		if !isByteElem(elem) {
			return ValueError{Path: path, Type: a.Type, Value: v}
		}
		e.w.I32(int32(len(v)))
		e.w.Write(v)
		return e.w.Err()
	case unityfile.ValueArray:
		e.w.I32(int32(len(v)))
		elemPath := join(path, elem.Name)
		for _, ev := range v {
			if err := e.write(elem, ev, elemPath); err != nil {
				return err
			}
		}
		return e.w.Err()
	}
	return ValueError{Path: path, Type: a.Type, Value: v}
}

func (e *encoder) writeReferenced(node *unityfile.Node, v unityfile.Value, path string) error {
	s, ok := v.(*unityfile.ValueStruct)
	if !ok {
		return ValueError{Path: path, Type: node.Type, Value: v}
	}
	for _, child := range node.Children {
		cpath := join(path, child.Name)
		if child.Type != "ReferencedObjectData" {
			cv := s.Get(child.Name)
			if cv == nil {
				return ValueError{Path: cpath, Type: child.Type}
			}
			if err := e.write(child, cv, cpath); err != nil {
				return err
			}
			continue
		}
		ref := referencedType(s, e.RefTypes)
		if ref == nil {
			continue
		}
		cv := s.Get(child.Name)
		if cv == nil {
			return ValueError{Path: cpath, Type: child.Type}
		}
		if err := e.write(ref, cv, cpath); err != nil {
			return err
		}
	}
	return nil
}
