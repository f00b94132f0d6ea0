package unityfile

import (
	"fmt"
)

func init() {
	registerTyped(ClassGameObject, func() typedObject { return &GameObject{} })
	registerTyped(ClassTextAsset, func() typedObject { return &TextAsset{} })
	registerTyped(ClassTexture2D, func() typedObject { return &Texture2D{} })
	registerTyped(ClassAudioClip, func() typedObject { return &AudioClip{} })
	registerTyped(ClassAssetBundle, func() typedObject { return &AssetBundle{} })
	registerTyped(ClassMonoScript, func() typedObject { return &MonoScript{} })
}

// StreamingInfo locates bulk data stored outside of an object, in a resource
// file.
type StreamingInfo struct {
	Path   string
	Offset uint64
	Size   uint64
}

// IsZero returns whether the info refers to no data.
func (s StreamingInfo) IsZero() bool {
	return s.Path == "" || s.Size == 0
}

// Payloader is implemented by objects that carry bulk data, either inline or
// in a resource file.
type Payloader interface {
	Object
	// Payload returns the inline data of the object, and the location of
	// data stored externally. At most one is set.
	Payload() (inline []byte, stream StreamingInfo)
}

// FieldError indicates a field that is missing or has an unexpected type.
type FieldError struct {
	Field string
	Want  Type
	Got   Value
}

func (err FieldError) Error() string {
	if err.Got == nil {
		return fmt.Sprintf("missing field %s", err.Field)
	}
	return fmt.Sprintf("field %s: expected %s, got %s", err.Field, err.Want, err.Got.Type())
}

// fieldReader loads fields from a struct, recording the first error.
type fieldReader struct {
	s   *ValueStruct
	err error
}

func (r *fieldReader) fail(name string, want Type, got Value) {
	if r.err == nil {
		r.err = FieldError{Field: name, Want: want, Got: got}
	}
}

func (r *fieldReader) str(name string) string {
	v := r.s.Get(name)
	s, ok := v.(ValueString)
	if !ok {
		r.fail(name, TypeString, v)
	}
	return string(s)
}

func (r *fieldReader) optStr(name string) string {
	s, _ := r.s.Get(name).(ValueString)
	return string(s)
}

func (r *fieldReader) int(name string) int64 {
	v := r.s.Get(name)
	n, ok := Int(v)
	if !ok {
		r.fail(name, TypeSInt32, v)
	}
	return n
}

func (r *fieldReader) optInt(name string) int64 {
	n, _ := Int(r.s.Get(name))
	return n
}

func (r *fieldReader) optBool(name string) bool {
	switch v := r.s.Get(name).(type) {
	case ValueBool:
		return bool(v)
	case ValueUInt8:
		return v != 0
	}
	return false
}

func (r *fieldReader) bytes(name string) []byte {
	switch v := r.s.Get(name).(type) {
	case ValueBytes:
		return []byte(v)
	case ValueString:
		return []byte(v)
	case ValueArray:
		b := make([]byte, len(v))
		for i, e := range v {
			n, _ := Int(e)
			b[i] = byte(n)
		}
		return b
	}
	return nil
}

func (r *fieldReader) pptr(name string) PPtr {
	v := r.s.Get(name)
	p, ok := PPtrFromValue(v)
	if !ok {
		r.fail(name, TypeStruct, v)
	}
	return p
}

func (r *fieldReader) streaming(name, path, offset, size string) StreamingInfo {
	s := r.s.Struct(name)
	if s == nil {
		return StreamingInfo{}
	}
	var info StreamingInfo
	info.Path, _ = s.Str(path)
	off, _ := s.Int(offset)
	n, _ := s.Int(size)
	info.Offset, info.Size = uint64(off), uint64(n)
	return info
}

func storeStr(s *ValueStruct, name, v string) {
	if _, ok := s.Get(name).(ValueString); ok {
		s.Set(name, ValueString(v))
	}
}

func storeInt(s *ValueStruct, name string, n int64) {
	if v := SetInt(s.Get(name), n); v != nil {
		s.Set(name, v)
	}
}

////////////////////////////////////////////////////////////////

// GameObject is an entity that owns a list of components.
type GameObject struct {
	object
	Name     string
	Layer    uint32
	Tag      uint16
	IsActive bool
	// Components is read-only; changes are not written back.
	Components []PPtr
}

func (o *GameObject) base() *object { return &o.object }
func (o *GameObject) Kind() Kind { return KindTyped }
func (o *GameObject) TypeName() string { return "GameObject" }

func (o *GameObject) load(s *ValueStruct) error {
	r := fieldReader{s: s}
	o.Name = r.str("m_Name")
	o.Layer = uint32(r.optInt("m_Layer"))
	o.Tag = uint16(r.optInt("m_Tag"))
	o.IsActive = r.optBool("m_IsActive")
	o.Components = o.Components[:0]
	if list, ok := s.Get("m_Component").(ValueArray); ok {
		for _, e := range list {
			switch e := e.(type) {
			case ValuePair:
				// Older versions store (class id, component).
				if p, ok := PPtrFromValue(e.Second); ok {
					o.Components = append(o.Components, p)
				}
			case *ValueStruct:
				if p, ok := PPtrFromValue(e.Get("component")); ok {
					o.Components = append(o.Components, p)
				}
			}
		}
	}
	return r.err
}

func (o *GameObject) store(s *ValueStruct) {
	storeStr(s, "m_Name", o.Name)
	storeInt(s, "m_Layer", int64(o.Layer))
	storeInt(s, "m_Tag", int64(o.Tag))
	if _, ok := s.Get("m_IsActive").(ValueBool); ok {
		s.Set("m_IsActive", ValueBool(o.IsActive))
	}
}

func (o *GameObject) Fields() *ValueStruct {
	o.store(o.fields)
	return o.fields
}

func (o *GameObject) MarshalJSON() ([]byte, error) {
	return MarshalValue(o.Fields())
}

////////////////////////////////////////////////////////////////

// TextAsset holds arbitrary text or binary data.
type TextAsset struct {
	object
	Name   string
	Script []byte
}

func (o *TextAsset) base() *object { return &o.object }
func (o *TextAsset) Kind() Kind { return KindTyped }
func (o *TextAsset) TypeName() string { return "TextAsset" }

func (o *TextAsset) load(s *ValueStruct) error {
	r := fieldReader{s: s}
	o.Name = r.str("m_Name")
	switch v := s.Get("m_Script").(type) {
	case ValueString:
		o.Script = []byte(v)
	case ValueBytes:
		o.Script = []byte(v)
	default:
		r.fail("m_Script", TypeString, v)
	}
	return r.err
}

func (o *TextAsset) store(s *ValueStruct) {
	storeStr(s, "m_Name", o.Name)
	switch s.Get("m_Script").(type) {
	case ValueString:
		s.Set("m_Script", ValueString(o.Script))
	case ValueBytes:
		s.Set("m_Script", ValueBytes(o.Script))
	}
}

func (o *TextAsset) Fields() *ValueStruct {
	o.store(o.fields)
	return o.fields
}

func (o *TextAsset) MarshalJSON() ([]byte, error) {
	return MarshalValue(o.Fields())
}

func (o *TextAsset) Payload() ([]byte, StreamingInfo) {
	return o.Script, StreamingInfo{}
}

////////////////////////////////////////////////////////////////

// Texture2D is an image. Pixel data is either inline in ImageData or stored
// in a resource file located by StreamData.
type Texture2D struct {
	object
	Name          string
	Width         int32
	Height        int32
	TextureFormat int32
	ImageData     []byte
	StreamData    StreamingInfo
}

func (o *Texture2D) base() *object { return &o.object }
func (o *Texture2D) Kind() Kind { return KindTyped }
func (o *Texture2D) TypeName() string { return "Texture2D" }

func (o *Texture2D) load(s *ValueStruct) error {
	r := fieldReader{s: s}
	o.Name = r.str("m_Name")
	o.Width = int32(r.int("m_Width"))
	o.Height = int32(r.int("m_Height"))
	o.TextureFormat = int32(r.optInt("m_TextureFormat"))
	o.ImageData = r.bytes("image data")
	o.StreamData = r.streaming("m_StreamData", "path", "offset", "size")
	return r.err
}

func (o *Texture2D) store(s *ValueStruct) {
	storeStr(s, "m_Name", o.Name)
	storeInt(s, "m_Width", int64(o.Width))
	storeInt(s, "m_Height", int64(o.Height))
	storeInt(s, "m_TextureFormat", int64(o.TextureFormat))
	if _, ok := s.Get("image data").(ValueBytes); ok {
		s.Set("image data", ValueBytes(o.ImageData))
	}
	if sd := s.Struct("m_StreamData"); sd != nil {
		storeStr(sd, "path", o.StreamData.Path)
		storeInt(sd, "offset", int64(o.StreamData.Offset))
		storeInt(sd, "size", int64(o.StreamData.Size))
	}
}

func (o *Texture2D) Fields() *ValueStruct {
	o.store(o.fields)
	return o.fields
}

func (o *Texture2D) MarshalJSON() ([]byte, error) {
	return MarshalValue(o.Fields())
}

func (o *Texture2D) Payload() ([]byte, StreamingInfo) {
	if !o.StreamData.IsZero() {
		return nil, o.StreamData
	}
	return o.ImageData, StreamingInfo{}
}

////////////////////////////////////////////////////////////////

// AudioClip is a sound. Versions before 5.0 store the data inline in
// AudioData; later versions store it in a resource file located by Resource.
type AudioClip struct {
	object
	Name      string
	Channels  int32
	Frequency int32
	Length    float32
	AudioData []byte
	Resource  StreamingInfo
}

func (o *AudioClip) base() *object { return &o.object }
func (o *AudioClip) Kind() Kind { return KindTyped }
func (o *AudioClip) TypeName() string { return "AudioClip" }

func (o *AudioClip) load(s *ValueStruct) error {
	r := fieldReader{s: s}
	o.Name = r.str("m_Name")
	o.Channels = int32(r.optInt("m_Channels"))
	o.Frequency = int32(r.optInt("m_Frequency"))
	if f, ok := s.Get("m_Length").(ValueFloat); ok {
		o.Length = float32(f)
	}
	o.AudioData = r.bytes("m_AudioData")
	o.Resource = r.streaming("m_Resource", "m_Source", "m_Offset", "m_Size")
	return r.err
}

func (o *AudioClip) store(s *ValueStruct) {
	storeStr(s, "m_Name", o.Name)
	storeInt(s, "m_Channels", int64(o.Channels))
	storeInt(s, "m_Frequency", int64(o.Frequency))
	if _, ok := s.Get("m_Length").(ValueFloat); ok {
		s.Set("m_Length", ValueFloat(o.Length))
	}
	if _, ok := s.Get("m_AudioData").(ValueBytes); ok {
		s.Set("m_AudioData", ValueBytes(o.AudioData))
	}
	if res := s.Struct("m_Resource"); res != nil {
		storeStr(res, "m_Source", o.Resource.Path)
		storeInt(res, "m_Offset", int64(o.Resource.Offset))
		storeInt(res, "m_Size", int64(o.Resource.Size))
	}
}

func (o *AudioClip) Fields() *ValueStruct {
	o.store(o.fields)
	return o.fields
}

func (o *AudioClip) MarshalJSON() ([]byte, error) {
	return MarshalValue(o.Fields())
}

func (o *AudioClip) Payload() ([]byte, StreamingInfo) {
	if !o.Resource.IsZero() {
		return nil, o.Resource
	}
	return o.AudioData, StreamingInfo{}
}

////////////////////////////////////////////////////////////////

// AssetInfo is an entry of an AssetBundle's container.
type AssetInfo struct {
	PreloadIndex int32
	PreloadSize  int32
	Asset        PPtr
}

// ContainerEntry maps a logical asset path to an asset.
type ContainerEntry struct {
	Path string
	AssetInfo
}

// AssetBundle describes the assets of a bundle and their logical paths.
type AssetBundle struct {
	object
	Name string
	// PreloadTable and Container are read-only; changes are not written
	// back.
	PreloadTable []PPtr
	Container    []ContainerEntry
}

func (o *AssetBundle) base() *object { return &o.object }
func (o *AssetBundle) Kind() Kind { return KindTyped }
func (o *AssetBundle) TypeName() string { return "AssetBundle" }

func (o *AssetBundle) load(s *ValueStruct) error {
	r := fieldReader{s: s}
	o.Name = r.str("m_Name")
	o.PreloadTable = o.PreloadTable[:0]
	if list, ok := s.Get("m_PreloadTable").(ValueArray); ok {
		for _, e := range list {
			if p, ok := PPtrFromValue(e); ok {
				o.PreloadTable = append(o.PreloadTable, p)
			}
		}
	}
	o.Container = o.Container[:0]
	list, ok := s.Get("m_Container").(ValueArray)
	if !ok {
		r.fail("m_Container", TypeArray, s.Get("m_Container"))
		return r.err
	}
	for _, e := range list {
		pair, ok := e.(ValuePair)
		if !ok {
			r.fail("m_Container", TypePair, e)
			break
		}
		path, _ := pair.First.(ValueString)
		info, _ := pair.Second.(*ValueStruct)
		ir := fieldReader{s: info}
		entry := ContainerEntry{Path: string(path)}
		entry.PreloadIndex = int32(ir.optInt("preloadIndex"))
		entry.PreloadSize = int32(ir.optInt("preloadSize"))
		entry.Asset = ir.pptr("asset")
		if ir.err != nil && r.err == nil {
			r.err = fmt.Errorf("m_Container: %w", ir.err)
		}
		o.Container = append(o.Container, entry)
	}
	return r.err
}

func (o *AssetBundle) store(s *ValueStruct) {
	storeStr(s, "m_Name", o.Name)
}

func (o *AssetBundle) Fields() *ValueStruct {
	o.store(o.fields)
	return o.fields
}

func (o *AssetBundle) MarshalJSON() ([]byte, error) {
	return MarshalValue(o.Fields())
}

////////////////////////////////////////////////////////////////

// MonoScript identifies the managed class of MonoBehaviour objects.
type MonoScript struct {
	object
	Name         string
	ClassName    string
	Namespace    string
	AssemblyName string
}

func (o *MonoScript) base() *object { return &o.object }
func (o *MonoScript) Kind() Kind { return KindTyped }
func (o *MonoScript) TypeName() string { return "MonoScript" }

func (o *MonoScript) load(s *ValueStruct) error {
	r := fieldReader{s: s}
	o.Name = r.str("m_Name")
	o.ClassName = r.str("m_ClassName")
	o.Namespace = r.optStr("m_Namespace")
	o.AssemblyName = r.optStr("m_AssemblyName")
	return r.err
}

func (o *MonoScript) store(s *ValueStruct) {
	storeStr(s, "m_Name", o.Name)
	storeStr(s, "m_ClassName", o.ClassName)
	storeStr(s, "m_Namespace", o.Namespace)
	storeStr(s, "m_AssemblyName", o.AssemblyName)
}

func (o *MonoScript) Fields() *ValueStruct {
	o.store(o.fields)
	return o.fields
}

func (o *MonoScript) MarshalJSON() ([]byte, error) {
	return MarshalValue(o.Fields())
}
