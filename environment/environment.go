// The environment package loads asset files and the containers that hold
// them, and resolves the references between objects of the loaded files.
//
// Loaded SerializedFiles form an arena: each file has an index, assigned in
// load order, that objects use to refer to their owning file. Everything else
// that is loaded, such as the .resS files that hold streamed texture data, is
// kept as a raw resource.
package environment

import (
	"fmt"
	"path"
	"runtime"
	"strings"
	"sync"

	"github.com/anaminus/unityfile/bundle"
	"github.com/anaminus/unityfile/serialized"
)

// Config configures an Environment.
type Config struct {
	// DecryptKey decrypts bundles encrypted with UnityCN.
	DecryptKey []byte
	// FallbackVersion is the engine version used for files that do not
	// declare one. Files within a container use the version of the
	// container first.
	FallbackVersion string
	// Strict causes schema mismatches while deserializing objects to be
	// errors rather than warnings.
	Strict bool
	// Workers limits the number of sources parsed concurrently. If zero,
	// GOMAXPROCS is used.
	Workers int
}

// Source is a named buffer to be loaded.
type Source struct {
	Name string
	Data []byte
}

// Resource is a loaded file that is not a SerializedFile.
type Resource struct {
	Name string
	Data []byte
}

// Bundle is a loaded container.
type Bundle struct {
	Name string
	*bundle.Container
}

// SourceError wraps an error that occurred while loading a source or one of
// its entries.
type SourceError struct {
	Name  string
	Cause error
}

func (err SourceError) Error() string {
	return fmt.Sprintf("%s: %s", err.Name, err.Cause.Error())
}

func (err SourceError) Unwrap() error {
	return err.Cause
}

// Environment is an arena of loaded files. It is safe for concurrent use.
type Environment struct {
	config Config

	mu        sync.RWMutex
	files     []*serialized.File
	resources []Resource
	bundles   []Bundle
}

// New returns an empty Environment.
func New(config Config) *Environment {
	return &Environment{config: config}
}

func (e *Environment) workers() int {
	if e.config.Workers > 0 {
		return e.config.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// File returns the file at index i of the arena.
func (e *Environment) File(i int) (*serialized.File, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if i < 0 || i >= len(e.files) {
		return nil, false
	}
	return e.files[i], true
}

// Files returns the files of the arena in index order.
func (e *Environment) Files() []*serialized.File {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*serialized.File(nil), e.files...)
}

// Resources returns the loaded resources in load order.
func (e *Environment) Resources() []Resource {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Resource(nil), e.resources...)
}

// Bundles returns the loaded containers in load order.
func (e *Environment) Bundles() []Bundle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Bundle(nil), e.bundles...)
}

// simplifyName reduces a file name or external path to a lowercase base
// name. The "archive:/" prefix and directories are removed.
func simplifyName(name string) string {
	name = strings.ToLower(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimPrefix(name, "archive:/")
	return path.Base(name)
}

func stem(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}

// matchName returns the index of the first name matching target, first by
// simplified name, then ignoring extensions. Returns -1 if nothing matches.
func matchName(n int, nameAt func(int) string, target string) int {
	target = simplifyName(target)
	for i := 0; i < n; i++ {
		if simplifyName(nameAt(i)) == target {
			return i
		}
	}
	target = stem(target)
	for i := 0; i < n; i++ {
		if stem(simplifyName(nameAt(i))) == target {
			return i
		}
	}
	return -1
}

// FindFile returns the first file of the arena matching name. Names are
// compared case-insensitively, without directories, and finally without
// extensions.
func (e *Environment) FindFile(name string) (*serialized.File, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	i := matchName(len(e.files), func(i int) string { return e.files[i].Name }, name)
	if i < 0 {
		return nil, false
	}
	return e.files[i], true
}

// FindResource returns the first resource matching name, compared the same
// way as FindFile.
func (e *Environment) FindResource(name string) (Resource, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	i := matchName(len(e.resources), func(i int) string { return e.resources[i].Name }, name)
	if i < 0 {
		return Resource{}, false
	}
	return e.resources[i], true
}
