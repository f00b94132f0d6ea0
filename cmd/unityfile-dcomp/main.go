// The unityfile-dcomp command rewrites a bundle with decompressed blocks.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/anaminus/unityfile/bundle"
)

const usage = `usage: unityfile-dcomp [FLAGS] [INPUT] [OUTPUT]

Reads a UnityFS, UnityWeb, UnityRaw, or web data file from INPUT, and writes to
OUTPUT the same container, but with uncompressed blocks. A UnityWeb bundle is
written as UnityRaw. A packed web data file is written unpacked. Encrypted
bundles are written unencrypted.

INPUT and OUTPUT are paths to files. If INPUT is "-" or unspecified, then stdin
is used. If OUTPUT is "-" or unspecified, then stdout is used. Warnings and
errors are written to stderr.

FLAGS:
`

// decompress decodes a container from data and encodes it without
// compression.
func decompress(data []byte, key []byte) (out []byte, warn, err error) {
	c, warn, err := bundle.Decoder{Key: key}.Decode(data)
	if err != nil {
		return nil, warn, err
	}
	sig := c.Signature
	if sig == bundle.SigUnityWeb {
		sig = bundle.SigUnityRaw
	}
	dc := bundle.NewContainer(sig, c.Extract()...)
	dc.FormatVersion = c.FormatVersion
	dc.PlayerVersion = c.PlayerVersion
	dc.EngineVersion = c.EngineVersion
	dc.Hash = c.Hash
	dc.CRC = c.CRC
	out, err = bundle.Encoder{Compression: bundle.None}.Encode(dc)
	return out, warn, err
}

func main() {
	var input io.Reader = os.Stdin
	var output io.Writer = os.Stdout

	var key string
	flag.StringVar(&key, "key", "", "Key used to decrypt UnityCN bundles.")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	args := flag.Args()
	if len(args) >= 1 && args[0] != "-" {
		in, err := os.Open(args[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("open input: %w", err))
			return
		}
		input = in
		defer in.Close()
	}

	data, err := io.ReadAll(input)
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("read input: %w", err))
		return
	}
	var k []byte
	if key != "" {
		k = []byte(key)
	}
	out, warn, err := decompress(data, k)
	if warn != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("warning: %w", warn))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("error: %w", err))
		return
	}

	if len(args) >= 2 && args[1] != "-" {
		f, err := os.Create(args[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("create output: %w", err))
			return
		}
		defer f.Close()
		defer func() {
			err := f.Sync()
			if err != nil {
				fmt.Fprintln(os.Stderr, fmt.Errorf("sync output: %w", err))
				return
			}
		}()
		output = f
	}
	if _, err := output.Write(out); err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("write error: %w", err))
	}
}
