// The unityfile-stat command displays stats for Unity asset files.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/anaminus/unityfile"
	"github.com/anaminus/unityfile/bundle"
	"github.com/anaminus/unityfile/environment"
)

const usage = `usage: unityfile-stat [FLAGS] [INPUT] [OUTPUT]

Reads an asset file, bundle, web data file, or zip archive from INPUT, and
writes to OUTPUT statistics for the file and everything it contains.

INPUT and OUTPUT are paths to files. If INPUT is a directory, every file within
it is loaded. If INPUT is "-" or unspecified, then stdin is used. If OUTPUT is
"-" or unspecified, then stdout is used. Warnings and errors are written to
stderr.

FLAGS:
`

type Payload struct {
	Class string
	Name  string
	Ext   string
	Size  int
}

func (p Payload) String() string {
	return fmt.Sprintf("%s:%s%s(%d)", p.Class, p.Name, p.Ext, p.Size)
}

type PayloadList []Payload

func (p PayloadList) MarshalJSON() ([]byte, error) {
	list := append([]Payload{}, p...)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Size > list[j].Size
	})
	if len(list) > 20 {
		list = list[:20]
	}
	return json.Marshal(list)
}

type BundleStats struct {
	Name          string
	Signature     string
	FormatVersion uint32
	EngineVersion string
	Encrypted     bool `json:",omitempty"`
	Packer        bundle.Packer `json:",omitempty"`

	// Number of blocks per compression method.
	Blocks map[string]int

	Entries int
}

type FileStats struct {
	Name           string
	FormatVersion  uint32
	UnityVersion   string
	TargetPlatform int32
	TypeTree       bool
	Types          int
	Externals      []string `json:",omitempty"`
	ObjectCount    int
}

type Stats struct {
	Bundles []BundleStats `json:",omitempty"`

	Files []FileStats

	// Number of resources that are not asset files.
	ResourceCount int

	// Number of objects overall.
	ObjectCount int

	// Number of objects per class.
	ClassCount map[string]int

	// Number of entries in the containers of AssetBundles.
	ContainerCount int

	LargestPayloads PayloadList `json:",omitempty"`
}

func (s *Stats) Fill(env *environment.Environment) (warn error) {
	for _, b := range env.Bundles() {
		bs := BundleStats{
			Name:          b.Name,
			Signature:     b.Signature,
			FormatVersion: b.FormatVersion,
			EngineVersion: b.EngineVersion,
			Encrypted:     b.Encrypted,
			Packer:        b.Packer,
			Blocks:        map[string]int{},
			Entries:       len(b.Entries),
		}
		for _, block := range b.Blocks {
			bs.Blocks[block.Compression().String()]++
		}
		s.Bundles = append(s.Bundles, bs)
	}

	for _, f := range env.Files() {
		fs := FileStats{
			Name:           f.Name,
			FormatVersion:  f.Header.Version,
			UnityVersion:   f.UnityVersion,
			TargetPlatform: f.TargetPlatform,
			TypeTree:       f.EnableTypeTree,
			Types:          len(f.Types),
			ObjectCount:    f.Len(),
		}
		for _, ext := range f.Externals {
			fs.Externals = append(fs.Externals, ext.Path)
		}
		s.Files = append(s.Files, fs)
	}

	s.ResourceCount = len(env.Resources())

	s.ObjectCount = 0
	s.ClassCount = map[string]int{}
	s.LargestPayloads = PayloadList{}
	for _, entry := range env.Objects() {
		s.ObjectCount++
		s.ClassCount[entry.ClassID.String()]++
		if !unityfile.HasTyped(entry.ClassID) {
			continue
		}
		f, _ := env.File(entry.File)
		obj, _, err := f.Deserialize(entry.PathID)
		if err != nil {
			continue
		}
		p, ok, err := env.Extract(obj)
		if err != nil || !ok {
			continue
		}
		var name string
		if n, ok := obj.(unityfile.Named); ok {
			name = n.ObjectName()
		}
		s.LargestPayloads = append(s.LargestPayloads, Payload{
			Class: entry.ClassID.String(),
			Name:  name,
			Ext:   p.Ext,
			Size:  len(p.Data),
		})
	}

	assets, warn := env.Container()
	s.ContainerCount = len(assets)
	return warn
}

func main() {
	var config environment.Config
	var key string
	flag.StringVar(&key, "key", "", "Key used to decrypt UnityCN bundles.")
	flag.StringVar(&config.FallbackVersion, "version", "", "Engine version of files that do not declare one.")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if key != "" {
		config.DecryptKey = []byte(key)
	}
	env := environment.New(config)

	var output io.Writer = os.Stdout
	args := flag.Args()
	if len(args) >= 1 && args[0] != "-" {
		info, err := os.Stat(args[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("open input: %w", err))
			return
		}
		var warn error
		if info.IsDir() {
			warn, err = env.LoadDir(args[0])
		} else {
			warn, err = env.LoadFile(args[0])
		}
		if warn != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("load warning: %w", warn))
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("load error: %w", err))
			return
		}
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("read input: %w", err))
			return
		}
		if warn := env.Load(environment.Source{Name: "stdin", Data: data}); warn != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("load warning: %w", warn))
		}
	}
	if len(args) >= 2 && args[1] != "-" {
		out, err := os.Create(args[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("create output: %w", err))
			return
		}
		defer out.Close()
		defer func() {
			err := out.Sync()
			if err != nil {
				fmt.Fprintln(os.Stderr, fmt.Errorf("sync output: %w", err))
				return
			}
		}()
		output = out
	}

	var stats Stats
	if warn := stats.Fill(env); warn != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("container warning: %w", warn))
	}

	je := json.NewEncoder(output)
	je.SetEscapeHTML(false)
	je.SetIndent("", "\t")
	if err := je.Encode(stats); err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("write error: %w", err))
	}
}
