package environment

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"
	"golang.org/x/sync/errgroup"

	"github.com/anaminus/unityfile"
	"github.com/anaminus/unityfile/bundle"
	"github.com/anaminus/unityfile/errors"
	"github.com/anaminus/unityfile/serialized"
)

// FileType is the kind of a loaded buffer, as determined by Detect.
type FileType uint8

const (
	TypeResource FileType = iota
	TypeAssets
	TypeBundle
	TypeWebData
	TypeZip
)

func (t FileType) String() string {
	switch t {
	case TypeResource:
		return "Resource"
	case TypeAssets:
		return "Assets"
	case TypeBundle:
		return "Bundle"
	case TypeWebData:
		return "WebData"
	case TypeZip:
		return "Zip"
	}
	return "FileType(" + strconv.Itoa(int(t)) + ")"
}

// resourceExts are extensions of files that are never parsed as assets.
var resourceExts = []string{".ress", ".resource", ".config", ".xml", ".dat"}

// maxDepth limits the nesting of containers within containers.
const maxDepth = 8

// Detect determines the type of a buffer from its content and name.
func Detect(name string, data []byte) FileType {
	if len(data) < 20 {
		return TypeResource
	}
	switch {
	case bytes.HasPrefix(data, []byte(bundle.SigUnityFS+"\x00")),
		bytes.HasPrefix(data, []byte(bundle.SigUnityWeb+"\x00")),
		bytes.HasPrefix(data, []byte(bundle.SigUnityRaw+"\x00")):
		return TypeBundle
	case bytes.HasPrefix(data, []byte("UnityWebData")),
		bytes.HasPrefix(data, []byte("TuanjieWebData")):
		return TypeWebData
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return TypeZip
	}
	if len(data) < 128 {
		return TypeResource
	}
	lower := strings.ToLower(name)
	for _, ext := range resourceExts {
		if strings.HasSuffix(lower, ext) {
			return TypeResource
		}
	}
	// Packed web data is found by a trial decode. Brotli streams need not
	// carry Unity's marker.
	if bundle.Probe(data) {
		return TypeWebData
	}
	if serialized.Probe(data) {
		return TypeAssets
	}
	return TypeResource
}

// loaded accumulates the results of parsing one source.
type loaded struct {
	files     []*serialized.File
	resources []Resource
	bundles   []Bundle
	warns     errors.Errors
}

func (l *loaded) fail(name string, err error) {
	l.warns = l.warns.Append(SourceError{Name: name, Cause: err})
}

// parse parses data and everything it contains into l.
func (e *Environment) parse(l *loaded, name string, data []byte, fallback string, depth int) {
	if depth > maxDepth {
		l.fail(name, fmt.Errorf("containers nested deeper than %d", maxDepth))
		return
	}
	switch Detect(name, data) {
	case TypeAssets:
		f, warn, err := serialized.Decoder{FallbackVersion: fallback, Strict: e.config.Strict}.Decode(data)
		if err != nil {
			l.fail(name, err)
			return
		}
		if warn != nil {
			l.fail(name, warn)
		}
		f.Name = name
		l.files = append(l.files, f)

	case TypeBundle, TypeWebData:
		c, warn, err := bundle.Decoder{Key: e.config.DecryptKey, FallbackVersion: fallback}.Decode(data)
		if err != nil {
			l.fail(name, err)
			return
		}
		if warn != nil {
			l.fail(name, warn)
		}
		l.bundles = append(l.bundles, Bundle{Name: name, Container: c})
		inner := fallback
		if _, err := unityfile.ResolveVersion(c.EngineVersion, ""); err == nil {
			inner = c.EngineVersion
		}
		for _, f := range c.Extract() {
			// Files are saved in place, so each gets its own buffer.
			e.parse(l, f.Name, append([]byte(nil), f.Data...), inner, depth+1)
		}

	case TypeZip:
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			l.fail(name, err)
			return
		}
		for _, zf := range zr.File {
			if zf.FileInfo().IsDir() {
				continue
			}
			b, err := readZipFile(zf)
			if err != nil {
				l.fail(name+"/"+zf.Name, err)
				continue
			}
			e.parse(l, zf.Name, b, fallback, depth+1)
		}

	default:
		l.resources = append(l.resources, Resource{Name: name, Data: data})
	}
}

func readZipFile(zf *zip.File) ([]byte, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Load parses each source and adds the results to the arena. Containers are
// expanded recursively. Sources are parsed concurrently, and added in the
// order they were given.
//
// A source that fails to load is skipped and reported in warn, along with any
// other problems encountered.
func (e *Environment) Load(sources ...Source) (warn error) {
	results := make([]loaded, len(sources))
	var g errgroup.Group
	g.SetLimit(e.workers())
	for i, src := range sources {
		g.Go(func() error {
			e.parse(&results[i], src.Name, src.Data, e.config.FallbackVersion, 0)
			return nil
		})
	}
	g.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	var warns errors.Errors
	for _, r := range results {
		for _, f := range r.files {
			f.Index = len(e.files)
			e.files = append(e.files, f)
		}
		e.resources = append(e.resources, r.resources...)
		e.bundles = append(e.bundles, r.bundles...)
		warns = warns.Append(r.warns...)
	}
	return warns.Return()
}

var splitPattern = regexp.MustCompile(`^(.*)\.split(\d+)$`)

// maxSplitParts bounds the parts of a split file.
const maxSplitParts = 999

// readSplit reads base.split0, base.split1, and so on, until a part is
// missing, and concatenates them. Numbering may start at 1.
func readSplit(base string) ([]byte, error) {
	var data []byte
	for i := 0; i < maxSplitParts; i++ {
		b, err := os.ReadFile(base + ".split" + strconv.Itoa(i))
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
			if i == 0 {
				continue
			}
			break
		}
		data = append(data, b...)
	}
	return data, nil
}

// readSource reads a file from disk. A part of a split file reads every part
// under the name of the whole.
func readSource(name string) (Source, error) {
	if m := splitPattern.FindStringSubmatch(name); m != nil {
		data, err := readSplit(m[1])
		if err != nil {
			return Source{}, err
		}
		return Source{Name: m[1], Data: data}, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return Source{}, err
	}
	return Source{Name: name, Data: data}, nil
}

// LoadFile reads and loads a file from disk.
func (e *Environment) LoadFile(name string) (warn, err error) {
	src, err := readSource(name)
	if err != nil {
		return nil, err
	}
	return e.Load(src), nil
}

// LoadDir reads and loads every file under root. The parts of split files are
// merged. Files that cannot be read are reported in warn.
func (e *Environment) LoadDir(root string) (warn, err error) {
	var names []string
	seen := map[string]bool{}
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if m := splitPattern.FindStringSubmatch(p); m != nil {
			if seen[m[1]] {
				return nil
			}
			seen[m[1]] = true
		}
		names = append(names, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	var warns errors.Errors
	sources := make([]Source, 0, len(names))
	for _, name := range names {
		src, err := readSource(name)
		if err != nil {
			warns = warns.Append(SourceError{Name: name, Cause: err})
			continue
		}
		sources = append(sources, src)
	}
	warns = warns.Append(e.Load(sources...))
	return warns.Return(), nil
}
