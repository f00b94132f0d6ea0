package environment

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"github.com/anaminus/unityfile"
	"github.com/anaminus/unityfile/bundle"
	"github.com/anaminus/unityfile/cursor"
	"github.com/anaminus/unityfile/errors"
	"github.com/anaminus/unityfile/serialized"
	"github.com/anaminus/unityfile/typetree"
)

const testVersion = "2019.4.40f1"

type testObject struct {
	PathID int64
	Class  unityfile.ClassID
	Tree   *unityfile.Node
	Fields *unityfile.ValueStruct
}

func buildAssets(t *testing.T, externals []string, objects ...testObject) []byte {
	t.Helper()
	m := serialized.Metadata{
		UnityVersion:   testVersion,
		TargetPlatform: 5,
		EnableTypeTree: true,
	}
	for _, p := range externals {
		m.Externals = append(m.Externals, serialized.External{Path: p})
	}
	types := map[unityfile.ClassID]int32{}
	var objs []serialized.Object
	for _, o := range objects {
		ti, ok := types[o.Class]
		if !ok {
			ti = int32(len(m.Types))
			types[o.Class] = ti
			m.Types = append(m.Types, serialized.SerializedType{ClassID: o.Class, ScriptTypeIndex: -1, Tree: o.Tree})
		}
		w := cursor.NewWriter(binary.LittleEndian)
		require.NoError(t, typetree.Encoder{}.Write(w, o.Tree, o.Fields))
		objs = append(objs, serialized.Object{
			Info: serialized.ObjectInfo{PathID: o.PathID, TypeID: ti, ClassID: o.Class, ScriptTypeIndex: -1},
			Data: append([]byte(nil), w.Data()...),
		})
	}
	data, err := serialized.Encoder{}.Encode(serialized.Header{Version: 22}, m, objs)
	require.NoError(t, err)
	return data
}

func pptr(file int32, path int64) *unityfile.ValueStruct {
	return &unityfile.ValueStruct{Fields: []unityfile.Field{
		{Name: "m_FileID", Value: unityfile.ValueSInt32(file)},
		{Name: "m_PathID", Value: unityfile.ValueSInt64(path)},
	}}
}

func textAsset(path int64, name, script string) testObject {
	return testObject{
		PathID: path,
		Class:  unityfile.ClassTextAsset,
		Tree:   typetree.NewBuilder("TextAsset", "Base").Add(typetree.String("m_Name"), typetree.String("m_Script")).Build(),
		Fields: &unityfile.ValueStruct{Fields: []unityfile.Field{
			{Name: "m_Name", Value: unityfile.ValueString(name)},
			{Name: "m_Script", Value: unityfile.ValueString(script)},
		}},
	}
}

func holder(path int64, ptrs ...unityfile.Field) testObject {
	b := typetree.NewBuilder("Holder", "Base")
	for _, f := range ptrs {
		b.Add(typetree.PPtr("Object", f.Name))
	}
	return testObject{
		PathID: path,
		Class:  5000,
		Tree:   b.Build(),
		Fields: &unityfile.ValueStruct{Fields: ptrs},
	}
}

func assetBundle(path int64, entries map[string]*unityfile.ValueStruct, order ...string) testObject {
	info := typetree.Struct("AssetInfo", "second",
		typetree.Primitive("int", "preloadIndex"),
		typetree.Primitive("int", "preloadSize"),
		typetree.PPtr("Object", "asset"),
	)
	pair := &unityfile.Node{Type: "pair", Name: "data", ByteSize: -1, Children: []*unityfile.Node{typetree.String("first"), info}}
	tree := typetree.NewBuilder("AssetBundle", "Base").Add(
		typetree.String("m_Name"),
		typetree.Array("vector", "m_PreloadTable", typetree.PPtr("Object", "data")),
		typetree.Array("map", "m_Container", pair),
	).Build()
	var container unityfile.ValueArray
	for _, p := range order {
		container = append(container, unityfile.ValuePair{
			First: unityfile.ValueString(p),
			Second: &unityfile.ValueStruct{Fields: []unityfile.Field{
				{Name: "preloadIndex", Value: unityfile.ValueSInt32(0)},
				{Name: "preloadSize", Value: unityfile.ValueSInt32(0)},
				{Name: "asset", Value: entries[p]},
			}},
		})
	}
	return testObject{
		PathID: path,
		Class:  unityfile.ClassAssetBundle,
		Tree:   tree,
		Fields: &unityfile.ValueStruct{Fields: []unityfile.Field{
			{Name: "m_Name", Value: unityfile.ValueString("main")},
			{Name: "m_PreloadTable", Value: unityfile.ValueArray{}},
			{Name: "m_Container", Value: container},
		}},
	}
}

func streamedTexture(path int64, stream string, offset, size uint64) testObject {
	tree := typetree.NewBuilder("Texture2D", "Base").Add(
		typetree.String("m_Name"),
		typetree.Primitive("int", "m_Width"),
		typetree.Primitive("int", "m_Height"),
		typetree.Primitive("int", "m_TextureFormat"),
		typetree.Aligned(typetree.Primitive("TypelessData", "image data")),
		typetree.Struct("StreamingInfo", "m_StreamData",
			typetree.Primitive("UInt64", "offset"),
			typetree.Primitive("unsigned int", "size"),
			typetree.String("path"),
		),
	).Build()
	return testObject{
		PathID: path,
		Class:  unityfile.ClassTexture2D,
		Tree:   tree,
		Fields: &unityfile.ValueStruct{Fields: []unityfile.Field{
			{Name: "m_Name", Value: unityfile.ValueString("Tex")},
			{Name: "m_Width", Value: unityfile.ValueSInt32(2)},
			{Name: "m_Height", Value: unityfile.ValueSInt32(1)},
			{Name: "m_TextureFormat", Value: unityfile.ValueSInt32(4)},
			{Name: "image data", Value: unityfile.ValueBytes{}},
			{Name: "m_StreamData", Value: &unityfile.ValueStruct{Fields: []unityfile.Field{
				{Name: "offset", Value: unityfile.ValueUInt64(offset)},
				{Name: "size", Value: unityfile.ValueUInt32(size)},
				{Name: "path", Value: unityfile.ValueString(stream)},
			}}},
		}},
	}
}

var resourceData = []byte("xxxxRIFFabcdyyyy")

// mainAssets is a file referring to CAB-shared, and to a file that is never
// loaded.
func mainAssets(t *testing.T) []byte {
	return buildAssets(t,
		[]string{"archive:/CAB-shared/CAB-shared", "archive:/CAB-missing/CAB-missing"},
		assetBundle(1, map[string]*unityfile.ValueStruct{
			"assets/readme.txt": pptr(0, 2),
			"assets/tex.png":    pptr(0, 4),
			"assets/shared.txt": pptr(1, 10),
		}, "assets/readme.txt", "assets/tex.png", "assets/shared.txt"),
		textAsset(2, "Readme", "hello world"),
		holder(3,
			unityfile.Field{Name: "m_Local", Value: pptr(0, 2)},
			unityfile.Field{Name: "m_Shared", Value: pptr(1, 10)},
			unityfile.Field{Name: "m_Missing", Value: pptr(2, 7)},
			unityfile.Field{Name: "m_Null", Value: pptr(0, 0)},
		),
		streamedTexture(4, "archive:/CAB-main/CAB-main.resS", 4, 8),
	)
}

func sharedAssets(t *testing.T) []byte {
	return buildAssets(t, nil, textAsset(10, "Shared", "OggS audio"))
}

func mainBundle(t *testing.T) []byte {
	t.Helper()
	c := bundle.NewContainer(bundle.SigUnityFS,
		bundle.File{Name: "CAB-main", Data: mainAssets(t), Flags: 4},
		bundle.File{Name: "CAB-main.resS", Data: resourceData},
	)
	c.PlayerVersion = "5.x.x"
	c.EngineVersion = testVersion
	data, err := bundle.Encoder{Compression: bundle.LZ4}.Encode(c)
	require.NoError(t, err)
	return data
}

func loadEnv(t *testing.T) *Environment {
	t.Helper()
	env := New(Config{})
	require.NoError(t, env.Load(
		Source{Name: "main.bundle", Data: mainBundle(t)},
		Source{Name: "CAB-shared", Data: sharedAssets(t)},
	))
	return env
}

func TestLoadBundle(t *testing.T) {
	env := loadEnv(t)
	files := env.Files()
	require.Len(t, files, 2)
	assert.Equal(t, "CAB-main", files[0].Name)
	assert.Equal(t, 0, files[0].Index)
	assert.Equal(t, "CAB-shared", files[1].Name)
	assert.Equal(t, 1, files[1].Index)

	res := env.Resources()
	require.Len(t, res, 1)
	assert.Equal(t, "CAB-main.resS", res[0].Name)

	bundles := env.Bundles()
	require.Len(t, bundles, 1)
	assert.Equal(t, "main.bundle", bundles[0].Name)
	assert.Equal(t, testVersion, bundles[0].EngineVersion)

	f, ok := env.File(1)
	require.True(t, ok)
	assert.Same(t, files[1], f)
	_, ok = env.File(2)
	assert.False(t, ok)
}

func TestFindFile(t *testing.T) {
	env := loadEnv(t)
	for _, name := range []string{
		"CAB-shared",
		"cab-SHARED",
		"archive:/CAB-shared/CAB-shared",
		"Library/CAB-shared",
		"CAB-shared.assets",
	} {
		f, ok := env.FindFile(name)
		if assert.True(t, ok, name) {
			assert.Equal(t, "CAB-shared", f.Name, name)
		}
	}
	_, ok := env.FindFile("CAB-missing")
	assert.False(t, ok)

	r, ok := env.FindResource("archive:/CAB-main/cab-main.ress")
	require.True(t, ok)
	assert.Equal(t, resourceData, r.Data)
}

func TestResolve(t *testing.T) {
	env := loadEnv(t)
	main, ok := env.FindFile("CAB-main")
	require.True(t, ok)

	obj, warn, err := main.Deserialize(3)
	require.NoError(t, err)
	require.NoError(t, warn)
	fields := obj.Fields()
	ptr := func(name string) unityfile.PPtr {
		p, ok := unityfile.PPtrFromValue(fields.Get(name))
		require.True(t, ok, name)
		return p
	}

	// A local pointer resolves like a lookup in the same file.
	local, ok, err := env.Resolve(main, ptr("m_Local"))
	require.NoError(t, err)
	require.True(t, ok)
	direct, _, err := main.Deserialize(2)
	require.NoError(t, err)
	assert.True(t, unityfile.Equal(direct, local))
	assert.Equal(t, unityfile.ObjectRef{File: 0, PathID: 2}, local.Ref())

	shared, ok, err := env.Resolve(main, ptr("m_Shared"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, unityfile.ObjectRef{File: 1, PathID: 10}, shared.Ref())
	ta, ok := shared.(*unityfile.TextAsset)
	require.True(t, ok)
	assert.Equal(t, "Shared", ta.Name)

	// The second external is not loaded.
	obj, ok, err = env.Resolve(main, ptr("m_Missing"))
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, obj)

	_, ok, err = env.Resolve(main, ptr("m_Null"))
	assert.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = env.Resolve(main, unityfile.PPtr{FileID: 0, PathID: 99})
	assert.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = env.Resolve(main, unityfile.PPtr{FileID: 5, PathID: 1})
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveInfo(t *testing.T) {
	env := loadEnv(t)
	main, _ := env.FindFile("CAB-main")
	f, info, ok := env.ResolveInfo(main, unityfile.PPtr{FileID: 1, PathID: 10})
	require.True(t, ok)
	assert.Equal(t, "CAB-shared", f.Name)
	assert.Equal(t, unityfile.ClassTextAsset, info.ClassID)
	assert.Equal(t, int64(10), info.PathID)
}

func TestObjects(t *testing.T) {
	env := loadEnv(t)
	entries := env.Objects()
	expected := []ObjectEntry{
		{ObjectRef: unityfile.ObjectRef{File: 0, PathID: 1}, ClassID: unityfile.ClassAssetBundle},
		{ObjectRef: unityfile.ObjectRef{File: 0, PathID: 2}, ClassID: unityfile.ClassTextAsset},
		{ObjectRef: unityfile.ObjectRef{File: 0, PathID: 3}, ClassID: 5000},
		{ObjectRef: unityfile.ObjectRef{File: 0, PathID: 4}, ClassID: unityfile.ClassTexture2D},
		{ObjectRef: unityfile.ObjectRef{File: 1, PathID: 10}, ClassID: unityfile.ClassTextAsset},
	}
	assert.Equal(t, expected, entries)
}

func TestContainer(t *testing.T) {
	env := loadEnv(t)
	assets, warn := env.Container()
	require.NoError(t, warn)
	require.Len(t, assets, 3)
	main, _ := env.FindFile("CAB-main")
	assert.Equal(t, Asset{File: main, Asset: unityfile.PPtr{FileID: 0, PathID: 2}}, assets["assets/readme.txt"])
	assert.Equal(t, Asset{File: main, Asset: unityfile.PPtr{FileID: 1, PathID: 10}}, assets["assets/shared.txt"])

	obj, ok, err := env.Resolve(assets["assets/shared.txt"].File, assets["assets/shared.txt"].Asset)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Shared", obj.(*unityfile.TextAsset).Name)
}

func TestExtract(t *testing.T) {
	env := loadEnv(t)
	main, _ := env.FindFile("CAB-main")
	shared, _ := env.FindFile("CAB-shared")

	obj, _, err := main.Deserialize(2)
	require.NoError(t, err)
	p, ok, err := env.Extract(obj)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello world", string(p.Data))
	assert.Equal(t, ".txt", p.Ext)
	sum := blake2b.Sum256([]byte("hello world"))
	assert.Equal(t, sum[:HashSize], p.Hash[:])

	obj, _, err = shared.Deserialize(10)
	require.NoError(t, err)
	p, ok, err = env.Extract(obj)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ".ogg", p.Ext)

	// Streamed from the resource embedded in the bundle.
	obj, _, err = main.Deserialize(4)
	require.NoError(t, err)
	require.IsType(t, &unityfile.Texture2D{}, obj)
	p, ok, err = env.Extract(obj)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "RIFFabcd", string(p.Data))
	assert.Equal(t, ".wav", p.Ext)

	obj, _, err = main.Deserialize(3)
	require.NoError(t, err)
	_, ok, err = env.Extract(obj)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestExtractMissingResource(t *testing.T) {
	env := New(Config{})
	require.NoError(t, env.Load(Source{Name: "CAB-main", Data: mainAssets(t)}))
	main, _ := env.FindFile("CAB-main")
	obj, _, err := main.Deserialize(4)
	require.NoError(t, err)
	_, ok, err := env.Extract(obj)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestExtractOutOfRange(t *testing.T) {
	env := New(Config{})
	data := buildAssets(t, nil, streamedTexture(1, "tex.resS", 10, 100))
	require.NoError(t, env.Load(
		Source{Name: "tex", Data: data},
		Source{Name: "tex.resS", Data: resourceData},
	))
	f, _ := env.File(0)
	obj, _, err := f.Deserialize(1)
	require.NoError(t, err)
	_, _, err = env.Extract(obj)
	assert.ErrorIs(t, err, errors.ErrTruncated)
}

func TestSniff(t *testing.T) {
	assert.Equal(t, ".ogg", Sniff(unityfile.ClassAudioClip, []byte("OggS....")))
	assert.Equal(t, ".wav", Sniff(unityfile.ClassAudioClip, []byte("RIFF....")))
	assert.Equal(t, ".m4a", Sniff(unityfile.ClassAudioClip, []byte("\x00\x00\x00\x20ftypM4A ")))
	assert.Equal(t, ".txt", Sniff(unityfile.ClassTextAsset, []byte("plain")))
	assert.Equal(t, ".bin", Sniff(unityfile.ClassTexture2D, []byte{1, 2, 3}))
}

////////////////////////////////////////////////////////////////

func zipOf(t *testing.T, files map[string][]byte, order ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(files[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func noise(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(3)).Read(b)
	return b
}

func webData(t *testing.T, packer bundle.Packer) []byte {
	t.Helper()
	c := bundle.NewContainer(bundle.SigWebData,
		bundle.File{Name: "Build/CAB-shared", Data: sharedAssets(t)},
		bundle.File{Name: "Build/noise.dat", Data: noise(512)},
	)
	c.Packer = packer
	data, err := bundle.Encoder{}.Encode(c)
	require.NoError(t, err)
	return data
}

func TestDetect(t *testing.T) {
	zipData := zipOf(t, map[string][]byte{"a": []byte("a")}, "a")
	for _, tt := range []struct {
		Name string
		Data []byte
		Type FileType
	}{
		{"short", []byte("tiny"), TypeResource},
		{"main.bundle", mainBundle(t), TypeBundle},
		{"CAB-shared", sharedAssets(t), TypeAssets},
		{"CAB-shared.resS", sharedAssets(t), TypeResource},
		{"data.zip", zipData, TypeZip},
		{"webgl.data", webData(t, bundle.PackerNone), TypeWebData},
		{"webgl.data.gz", webData(t, bundle.PackerGzip), TypeWebData},
		{"webgl.data.br", webData(t, bundle.PackerBrotli), TypeWebData},
		{"filler", bytes.Repeat([]byte{0xab}, 200), TypeResource},
	} {
		assert.Equal(t, tt.Type, Detect(tt.Name, tt.Data), tt.Name)
	}
}

func TestLoadWebData(t *testing.T) {
	for _, packer := range []bundle.Packer{bundle.PackerNone, bundle.PackerGzip, bundle.PackerBrotli} {
		env := New(Config{})
		require.NoError(t, env.Load(Source{Name: "webgl.data", Data: webData(t, packer)}), packer)
		files := env.Files()
		require.Len(t, files, 1)
		assert.Equal(t, "Build/CAB-shared", files[0].Name)
		_, ok := env.FindFile("CAB-shared")
		assert.True(t, ok)
		_, ok = env.FindResource("noise.dat")
		assert.True(t, ok)
	}
}

func TestLoadZip(t *testing.T) {
	data := zipOf(t, map[string][]byte{
		"game/main.bundle": mainBundle(t),
		"game/CAB-shared":  sharedAssets(t),
		"game/readme.txt":  []byte("notes"),
	}, "game/main.bundle", "game/CAB-shared", "game/readme.txt")
	env := New(Config{})
	require.NoError(t, env.Load(Source{Name: "game.zip", Data: data}))
	files := env.Files()
	require.Len(t, files, 2)
	assert.Equal(t, "CAB-main", files[0].Name)
	assert.Equal(t, "game/CAB-shared", files[1].Name)
	assert.Len(t, env.Resources(), 2)

	main, _ := env.FindFile("CAB-main")
	_, ok, err := env.Resolve(main, unityfile.PPtr{FileID: 1, PathID: 10})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLoadFailingSource(t *testing.T) {
	bad := append([]byte("UnityFS\x00"), make([]byte, 40)...)
	env := New(Config{})
	warn := env.Load(
		Source{Name: "bad.bundle", Data: bad},
		Source{Name: "CAB-shared", Data: sharedAssets(t)},
	)
	require.Error(t, warn)
	var serr SourceError
	require.ErrorAs(t, warn, &serr)
	assert.Equal(t, "bad.bundle", serr.Name)
	assert.ErrorIs(t, warn, errors.ErrUnsupportedVersion)

	files := env.Files()
	require.Len(t, files, 1)
	assert.Equal(t, 0, files[0].Index)
}

func TestLoadEntryOutOfRange(t *testing.T) {
	c := bundle.NewContainer(bundle.SigUnityFS, bundle.File{Name: "CAB-bad", Data: sharedAssets(t)})
	c.PlayerVersion = "5.x.x"
	c.EngineVersion = testVersion
	bad, err := bundle.Encoder{Compression: bundle.None}.Encode(c)
	require.NoError(t, err)
	// Size of the entry, which precedes its flags and path.
	i := bytes.Index(bad, []byte("CAB-bad\x00"))
	require.Greater(t, i, 12)
	binary.BigEndian.PutUint64(bad[i-12:], math.MaxInt64)

	env := New(Config{Workers: 2})
	warn := env.Load(
		Source{Name: "main.bundle", Data: mainBundle(t)},
		Source{Name: "bad.bundle", Data: bad},
	)
	require.Error(t, warn)
	var serr SourceError
	require.ErrorAs(t, warn, &serr)
	assert.Equal(t, "bad.bundle", serr.Name)
	assert.ErrorIs(t, warn, errors.ErrTruncated)

	_, ok := env.FindFile("CAB-main")
	assert.True(t, ok)
	_, ok = env.FindFile("CAB-bad")
	assert.False(t, ok)
}

func TestLoadOrder(t *testing.T) {
	var sources []Source
	for i := 0; i < 12; i++ {
		name := "file" + string(rune('a'+i))
		sources = append(sources, Source{Name: name, Data: buildAssets(t, nil, textAsset(int64(i+1), name, "text"))})
	}
	env := New(Config{Workers: 3})
	require.NoError(t, env.Load(sources...))
	files := env.Files()
	require.Len(t, files, len(sources))
	for i, f := range files {
		assert.Equal(t, sources[i].Name, f.Name)
		assert.Equal(t, i, f.Index)
		obj, _, err := f.Deserialize(int64(i + 1))
		require.NoError(t, err)
		assert.Equal(t, i, obj.Ref().File)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	shared := sharedAssets(t)
	half := len(shared) / 2
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CAB-main"), mainAssets(t), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CAB-shared.split0"), shared[:half], 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CAB-shared.split1"), shared[half:], 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CAB-main.resS"), resourceData, 0o644))

	env := New(Config{})
	warn, err := env.LoadDir(dir)
	require.NoError(t, err)
	require.NoError(t, warn)
	files := env.Files()
	require.Len(t, files, 2)
	assert.Equal(t, filepath.Join(dir, "CAB-shared"), files[1].Name)
	assert.Len(t, env.Resources(), 1)

	main, _ := env.FindFile("CAB-main")
	obj, _, err := main.Deserialize(4)
	require.NoError(t, err)
	p, ok, err := env.Extract(obj)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "RIFFabcd", string(p.Data))
}

func TestLoadFileSplit(t *testing.T) {
	dir := t.TempDir()
	shared := sharedAssets(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CAB-shared.split0"), shared[:10], 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CAB-shared.split1"), shared[10:], 0o644))

	env := New(Config{})
	warn, err := env.LoadFile(filepath.Join(dir, "CAB-shared.split1"))
	require.NoError(t, err)
	require.NoError(t, warn)
	f, ok := env.FindFile("CAB-shared")
	require.True(t, ok)
	assert.Equal(t, shared, f.Bytes())

	_, err = env.LoadFile(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
