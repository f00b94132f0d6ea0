package unityfile

import (
	"strconv"
	"strings"
)

// Type represents the type of a decoded field value.
type Type byte

// String returns a string representation of the type. If the type is not
// valid, then the returned value will be "Invalid".
func (t Type) String() string {
	s, ok := typeStrings[t]
	if !ok {
		return "Invalid"
	}
	return s
}

const (
	TypeInvalid Type = iota
	TypeSInt8
	TypeUInt8
	TypeSInt16
	TypeUInt16
	TypeSInt32
	TypeUInt32
	TypeSInt64
	TypeUInt64
	TypeFloat
	TypeDouble
	TypeBool
	TypeString
	TypeBytes
	TypeArray
	TypePair
	TypeStruct
)

var typeStrings = map[Type]string{
	TypeSInt8:  "SInt8",
	TypeUInt8:  "UInt8",
	TypeSInt16: "SInt16",
	TypeUInt16: "UInt16",
	TypeSInt32: "SInt32",
	TypeUInt32: "UInt32",
	TypeSInt64: "SInt64",
	TypeUInt64: "UInt64",
	TypeFloat:  "float",
	TypeDouble: "double",
	TypeBool:   "bool",
	TypeString: "string",
	TypeBytes:  "TypelessData",
	TypeArray:  "Array",
	TypePair:   "pair",
	TypeStruct: "struct",
}

// Value holds a value of a particular Type.
type Value interface {
	// Type returns the type of the value.
	Type() Type

	// String returns a string representation of the current value.
	String() string

	// Copy returns a copy of the value, which can be safely modified.
	Copy() Value
}

// Int returns v as a signed integer, and whether v is an integer type.
func Int(v Value) (int64, bool) {
	switch v := v.(type) {
	case ValueSInt8:
		return int64(v), true
	case ValueUInt8:
		return int64(v), true
	case ValueSInt16:
		return int64(v), true
	case ValueUInt16:
		return int64(v), true
	case ValueSInt32:
		return int64(v), true
	case ValueUInt32:
		return int64(v), true
	case ValueSInt64:
		return int64(v), true
	case ValueUInt64:
		return int64(v), true
	}
	return 0, false
}

// SetInt returns n converted to the type of v, allowing a field to be
// updated without changing its encoded width. Returns nil if v is not an
// integer type.
func SetInt(v Value, n int64) Value {
	switch v.(type) {
	case ValueSInt8:
		return ValueSInt8(n)
	case ValueUInt8:
		return ValueUInt8(n)
	case ValueSInt16:
		return ValueSInt16(n)
	case ValueUInt16:
		return ValueUInt16(n)
	case ValueSInt32:
		return ValueSInt32(n)
	case ValueUInt32:
		return ValueUInt32(n)
	case ValueSInt64:
		return ValueSInt64(n)
	case ValueUInt64:
		return ValueUInt64(n)
	}
	return nil
}

////////////////////////////////////////////////////////////////
// Values

type ValueSInt8 int8

func (ValueSInt8) Type() Type {
	return TypeSInt8
}
func (t ValueSInt8) String() string {
	return strconv.FormatInt(int64(t), 10)
}
func (t ValueSInt8) Copy() Value {
	return t
}

////////////////

type ValueUInt8 uint8

func (ValueUInt8) Type() Type {
	return TypeUInt8
}
func (t ValueUInt8) String() string {
	return strconv.FormatUint(uint64(t), 10)
}
func (t ValueUInt8) Copy() Value {
	return t
}

////////////////

type ValueSInt16 int16

func (ValueSInt16) Type() Type {
	return TypeSInt16
}
func (t ValueSInt16) String() string {
	return strconv.FormatInt(int64(t), 10)
}
func (t ValueSInt16) Copy() Value {
	return t
}

////////////////

type ValueUInt16 uint16

func (ValueUInt16) Type() Type {
	return TypeUInt16
}
func (t ValueUInt16) String() string {
	return strconv.FormatUint(uint64(t), 10)
}
func (t ValueUInt16) Copy() Value {
	return t
}

////////////////

type ValueSInt32 int32

func (ValueSInt32) Type() Type {
	return TypeSInt32
}
func (t ValueSInt32) String() string {
	return strconv.FormatInt(int64(t), 10)
}
func (t ValueSInt32) Copy() Value {
	return t
}

////////////////

type ValueUInt32 uint32

func (ValueUInt32) Type() Type {
	return TypeUInt32
}
func (t ValueUInt32) String() string {
	return strconv.FormatUint(uint64(t), 10)
}
func (t ValueUInt32) Copy() Value {
	return t
}

////////////////

type ValueSInt64 int64

func (ValueSInt64) Type() Type {
	return TypeSInt64
}
func (t ValueSInt64) String() string {
	return strconv.FormatInt(int64(t), 10)
}
func (t ValueSInt64) Copy() Value {
	return t
}

////////////////

type ValueUInt64 uint64

func (ValueUInt64) Type() Type {
	return TypeUInt64
}
func (t ValueUInt64) String() string {
	return strconv.FormatUint(uint64(t), 10)
}
func (t ValueUInt64) Copy() Value {
	return t
}

////////////////

type ValueFloat float32

func (ValueFloat) Type() Type {
	return TypeFloat
}
func (t ValueFloat) String() string {
	return strconv.FormatFloat(float64(t), 'g', -1, 32)
}
func (t ValueFloat) Copy() Value {
	return t
}

////////////////

type ValueDouble float64

func (ValueDouble) Type() Type {
	return TypeDouble
}
func (t ValueDouble) String() string {
	return strconv.FormatFloat(float64(t), 'g', -1, 64)
}
func (t ValueDouble) Copy() Value {
	return t
}

////////////////

type ValueBool bool

func (ValueBool) Type() Type {
	return TypeBool
}
func (t ValueBool) String() string {
	if t {
		return "true"
	}
	return "false"
}
func (t ValueBool) Copy() Value {
	return t
}

////////////////

// ValueString is a length-prefixed string. The content is not required to be
// valid UTF-8.
type ValueString string

func (ValueString) Type() Type {
	return TypeString
}
func (t ValueString) String() string {
	return string(t)
}
func (t ValueString) Copy() Value {
	return t
}

////////////////

// ValueBytes is raw byte data, such as TypelessData or a leaf of unknown type.
type ValueBytes []byte

func (ValueBytes) Type() Type {
	return TypeBytes
}
func (t ValueBytes) String() string {
	return "[" + strconv.Itoa(len(t)) + " bytes]"
}
func (t ValueBytes) Copy() Value {
	c := make(ValueBytes, len(t))
	copy(c, t)
	return c
}

////////////////

type ValueArray []Value

func (ValueArray) Type() Type {
	return TypeArray
}
func (t ValueArray) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range t {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(v.String())
	}
	b.WriteByte(']')
	return b.String()
}
func (t ValueArray) Copy() Value {
	c := make(ValueArray, len(t))
	for i, v := range t {
		c[i] = v.Copy()
	}
	return c
}

////////////////

type ValuePair struct {
	First, Second Value
}

func (ValuePair) Type() Type {
	return TypePair
}
func (t ValuePair) String() string {
	return "(" + t.First.String() + ", " + t.Second.String() + ")"
}
func (t ValuePair) Copy() Value {
	return ValuePair{First: t.First.Copy(), Second: t.Second.Copy()}
}

////////////////

// Field is a named member of a ValueStruct.
type Field struct {
	Name  string
	Value Value
}

// ValueStruct is an ordered set of named fields.
type ValueStruct struct {
	Fields []Field
}

func (*ValueStruct) Type() Type {
	return TypeStruct
}
func (t *ValueStruct) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, f := range t.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Value.String())
	}
	b.WriteByte('}')
	return b.String()
}
func (t *ValueStruct) Copy() Value {
	c := &ValueStruct{Fields: make([]Field, len(t.Fields))}
	for i, f := range t.Fields {
		c.Fields[i] = Field{Name: f.Name, Value: f.Value.Copy()}
	}
	return c
}

// Get returns the value of the field with the given name, or nil if there is
// no such field.
func (t *ValueStruct) Get(name string) Value {
	if t == nil {
		return nil
	}
	for _, f := range t.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return nil
}

// Set replaces the value of the named field, or appends a new field. The
// field order is preserved.
func (t *ValueStruct) Set(name string, v Value) {
	for i, f := range t.Fields {
		if f.Name == name {
			t.Fields[i].Value = v
			return
		}
	}
	t.Fields = append(t.Fields, Field{Name: name, Value: v})
}

// Struct returns the named field as a *ValueStruct, or nil.
func (t *ValueStruct) Struct(name string) *ValueStruct {
	s, _ := t.Get(name).(*ValueStruct)
	return s
}

// Str returns the named field as a string, and whether it is a string.
func (t *ValueStruct) Str(name string) (string, bool) {
	s, ok := t.Get(name).(ValueString)
	return string(s), ok
}

// Int returns the named field as an integer, and whether it is an integer.
func (t *ValueStruct) Int(name string) (int64, bool) {
	return Int(t.Get(name))
}
