// The unityfile package models the contents of Unity asset files: decoded
// field values, type trees, objects and the references between them.
//
// Objects are decoded from asset data by the serialized sub-package, using
// the type trees stored in each file. Objects of a class with a known shape
// are decoded into a typed struct, such as TextAsset. Any other object is an
// UnknownObject, which exposes the decoded fields as they were read.
//
// References between objects are PPtr values, which are resolved on demand by
// the environment sub-package. Containers that hold asset files, such as
// UnityFS bundles, are decoded by the bundle sub-package.
package unityfile

import (
	"fmt"
)

// Kind indicates which variant of Object a value is.
type Kind uint8

const (
	// KindDynamic is an object decoded only through its type tree.
	KindDynamic Kind = iota
	// KindTyped is an object decoded into a compiled struct.
	KindTyped
)

func (k Kind) String() string {
	switch k {
	case KindDynamic:
		return "Dynamic"
	case KindTyped:
		return "Typed"
	default:
		return "Kind(" + fmt.Sprint(uint8(k)) + ")"
	}
}

// Object is a decoded object.
type Object interface {
	// Kind returns the variant of the object.
	Kind() Kind
	// ClassID returns the native class of the object.
	ClassID() ClassID
	// TypeName returns the name of the type of the object.
	TypeName() string
	// Ref returns the location of the object within its arena.
	Ref() ObjectRef
	// Tree returns the type tree the object was decoded with, and will be
	// encoded with.
	Tree() *Node
	// Fields returns the current field values of the object. For typed
	// objects, changes to the struct are reflected in the result.
	Fields() *ValueStruct
	// MarshalJSON encodes the fields of the object.
	MarshalJSON() ([]byte, error)
}

// Named is implemented by objects with an m_Name field.
type Named interface {
	Object
	ObjectName() string
}

// object holds the state shared by every Object implementation.
type object struct {
	ref    ObjectRef
	class  ClassID
	tree   *Node
	fields *ValueStruct
}

func (o *object) ClassID() ClassID {
	return o.class
}

func (o *object) Ref() ObjectRef {
	return o.ref
}

func (o *object) Tree() *Node {
	return o.tree
}

// ObjectName returns the m_Name field, or an empty string.
func (o *object) ObjectName() string {
	s, _ := o.fields.Str("m_Name")
	return s
}

// UnknownObject is an object whose fields are known only through its type
// tree.
type UnknownObject struct {
	object
}

func (o *UnknownObject) Kind() Kind {
	return KindDynamic
}

// TypeName returns the type of the root node of the tree, falling back to the
// class name.
func (o *UnknownObject) TypeName() string {
	if o.tree != nil && o.tree.Type != "" {
		return o.tree.Type
	}
	return o.class.String()
}

func (o *UnknownObject) Fields() *ValueStruct {
	return o.fields
}

// Get returns the value of a field.
func (o *UnknownObject) Get(name string) Value {
	return o.fields.Get(name)
}

// Set sets the value of a field.
func (o *UnknownObject) Set(name string, v Value) {
	o.fields.Set(name, v)
}

func (o *UnknownObject) MarshalJSON() ([]byte, error) {
	return MarshalValue(o.fields)
}

// NewUnknownObject returns an UnknownObject over the given fields.
func NewUnknownObject(ref ObjectRef, class ClassID, tree *Node, fields *ValueStruct) *UnknownObject {
	if fields == nil {
		fields = &ValueStruct{}
	}
	return &UnknownObject{object{ref: ref, class: class, tree: tree, fields: fields}}
}

// typedObject is implemented by the compiled object structs.
type typedObject interface {
	Object
	base() *object
	// load fills the struct from decoded fields.
	load(fields *ValueStruct) error
	// store writes the struct back into fields.
	store(fields *ValueStruct)
}

type typedGenerator func() typedObject

var typedGenerators = map[ClassID]typedGenerator{}

func registerTyped(class ClassID, gen typedGenerator) {
	typedGenerators[class] = gen
}

// HasTyped returns whether objects of the class decode into a typed struct.
func HasTyped(class ClassID) bool {
	_, ok := typedGenerators[class]
	return ok
}

// TypedLoadError indicates that fields could not be loaded into the typed
// struct of a class.
type TypedLoadError struct {
	Class ClassID
	Cause error
}

func (err TypedLoadError) Error() string {
	return fmt.Sprintf("load %s: %s; decoded as unknown object", err.Class, err.Cause)
}

func (err TypedLoadError) Unwrap() error {
	return err.Cause
}

// NewObject creates the Object for decoded fields. If the class has a typed
// struct, the fields are loaded into it. Otherwise, or if the fields do not
// have the shape expected by the struct, an UnknownObject is returned, along
// with a warning in the latter case.
func NewObject(ref ObjectRef, class ClassID, tree *Node, fields *ValueStruct) (obj Object, warn error) {
	if fields == nil {
		fields = &ValueStruct{}
	}
	gen, ok := typedGenerators[class]
	if !ok {
		return NewUnknownObject(ref, class, tree, fields), nil
	}
	t := gen()
	*t.base() = object{ref: ref, class: class, tree: tree, fields: fields}
	if err := t.load(fields); err != nil {
		return NewUnknownObject(ref, class, tree, fields), TypedLoadError{Class: class, Cause: err}
	}
	return t, nil
}

// Equal returns whether two objects have the same class, location and field
// values.
func Equal(a, b Object) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind() != b.Kind() || a.ClassID() != b.ClassID() || a.Ref() != b.Ref() {
		return false
	}
	return EqualValues(a.Fields(), b.Fields())
}

// EqualValues returns whether two values are structurally equal.
func EqualValues(a, b Value) bool {
	switch a := a.(type) {
	case nil:
		return b == nil
	case ValueBytes:
		b, ok := b.(ValueBytes)
		return ok && string(a) == string(b)
	case ValueArray:
		b, ok := b.(ValueArray)
		if !ok || len(a) != len(b) {
			return false
		}
		for i := range a {
			if !EqualValues(a[i], b[i]) {
				return false
			}
		}
		return true
	case ValuePair:
		b, ok := b.(ValuePair)
		return ok && EqualValues(a.First, b.First) && EqualValues(a.Second, b.Second)
	case *ValueStruct:
		b, ok := b.(*ValueStruct)
		if !ok || len(a.Fields) != len(b.Fields) {
			return false
		}
		for i := range a.Fields {
			if a.Fields[i].Name != b.Fields[i].Name || !EqualValues(a.Fields[i].Value, b.Fields[i].Value) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
