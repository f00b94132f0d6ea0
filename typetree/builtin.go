package typetree

import (
	"strconv"

	"github.com/anaminus/unityfile"
)

// Builder assembles a type tree. Index and Level are assigned by Build.
type Builder struct {
	root *unityfile.Node
}

// NewBuilder returns a Builder with a root struct node.
func NewBuilder(typ, name string) *Builder {
	return &Builder{root: &unityfile.Node{Type: typ, Name: name, ByteSize: -1}}
}

// Root returns the root node.
func (b *Builder) Root() *unityfile.Node {
	return b.root
}

// Build assigns levels and indices, and returns the root.
func (b *Builder) Build() *unityfile.Node {
	for i, n := range b.root.Flatten() {
		n.Index = int32(i)
	}
	var level func(*unityfile.Node, uint8)
	level = func(n *unityfile.Node, l uint8) {
		n.Level = l
		for _, c := range n.Children {
			level(c, l+1)
		}
	}
	level(b.root, 0)
	return b.root
}

var primitiveSizes = map[string]int32{
	"SInt8": 1, "UInt8": 1, "char": 1, "bool": 1,
	"short": 2, "SInt16": 2, "unsigned short": 2, "UInt16": 2,
	"int": 4, "SInt32": 4, "unsigned int": 4, "UInt32": 4, "Type*": 4, "float": 4,
	"long long": 8, "SInt64": 8, "unsigned long long": 8, "UInt64": 8, "FileSize": 8, "double": 8,
}

// Primitive returns a leaf node of a fixed-width type.
func Primitive(typ, name string) *unityfile.Node {
	size, ok := primitiveSizes[typ]
	if !ok {
		size = -1
	}
	return &unityfile.Node{Type: typ, Name: name, ByteSize: size}
}

// Aligned sets the align flag on n and returns it.
func Aligned(n *unityfile.Node) *unityfile.Node {
	n.MetaFlag |= unityfile.FlagAlign
	return n
}

// Array returns an array node of the given container type, whose elements
// are described by elem.
func Array(typ, name string, elem *unityfile.Node) *unityfile.Node {
	elem.Name = "data"
	return &unityfile.Node{Type: typ, Name: name, ByteSize: -1, Children: []*unityfile.Node{{
		Type:      "Array",
		Name:      "Array",
		ByteSize:  -1,
		TypeFlags: unityfile.FlagArray,
		Children:  []*unityfile.Node{Primitive("int", "size"), elem},
	}}}
}

// String returns a string node, aligned after reading as Unity writes them.
func String(name string) *unityfile.Node {
	n := Array("string", name, Primitive("char", "data"))
	n.Children[0].MetaFlag |= unityfile.FlagAlign
	return n
}

// Struct returns a struct node with the given fields.
func Struct(typ, name string, fields ...*unityfile.Node) *unityfile.Node {
	size := int32(0)
	for _, f := range fields {
		if f.ByteSize < 0 || f.Aligned() {
			size = -1
			break
		}
		size += f.ByteSize
	}
	return &unityfile.Node{Type: typ, Name: name, ByteSize: size, Children: fields}
}

// PPtr returns a reference node to the given class.
func PPtr(class, name string) *unityfile.Node {
	return Struct("PPtr<"+class+">", name, Primitive("int", "m_FileID"), Primitive("SInt64", "m_PathID"))
}

// Add appends fields to the root.
func (b *Builder) Add(fields ...*unityfile.Node) *Builder {
	b.root.Children = append(b.root.Children, fields...)
	return b
}

func hash128() *unityfile.Node {
	fields := make([]*unityfile.Node, 16)
	for i := range fields {
		fields[i] = Primitive("UInt8", "bytes["+strconv.Itoa(i)+"]")
	}
	return Struct("Hash128", "m_PropertiesHash", fields...)
}

// Builtin returns the type tree of a class for an engine version, for files
// whose type trees were stripped. Returns nil if the class has no built-in
// tree.
func Builtin(class unityfile.ClassID, v unityfile.Version) *unityfile.Node {
	switch class {
	case unityfile.ClassTextAsset:
		return NewBuilder("TextAsset", "Base").Add(String("m_Name"), String("m_Script")).Build()
	case unityfile.ClassMonoScript:
		b := NewBuilder("MonoScript", "Base").Add(String("m_Name"))
		if v.AtLeast(4, 0, 0) {
			b.Add(Primitive("int", "m_ExecutionOrder"))
		}
		if v.AtLeast(5, 0, 0) {
			b.Add(hash128())
		} else {
			b.Add(Primitive("UInt32", "m_PropertiesHash"))
		}
		if !v.AtLeast(3, 4, 0) {
			b.Add(String("m_PathName"))
		}
		b.Add(String("m_ClassName"))
		if v.AtLeast(3, 0, 0) {
			b.Add(String("m_Namespace"))
		}
		b.Add(String("m_AssemblyName"))
		if !v.AtLeast(2018, 2, 0) {
			b.Add(Aligned(Primitive("bool", "m_IsEditorScript")))
		}
		return b.Build()
	}
	return nil
}
