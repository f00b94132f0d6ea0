package bundle

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/crypto/blake2b"

	"github.com/anaminus/unityfile/errors"
)

// Dump writes to w a readable representation of the container decoded from
// data.
func (d Decoder) Dump(w io.Writer, data []byte) (warn, err error) {
	if w == nil {
		return nil, errors.New("nil writer")
	}
	c, warn, err := d.Decode(data)
	if err != nil {
		return warn, err
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "Signature: %s", strconv.Quote(c.Signature))
	if c.Packer != PackerNone {
		fmt.Fprintf(bw, "\nPacker: %s", c.Packer)
	}
	if c.FormatVersion != 0 {
		fmt.Fprintf(bw, "\nFormat: %d", c.FormatVersion)
		fmt.Fprintf(bw, "\nPlayer: %s", strconv.Quote(c.PlayerVersion))
		fmt.Fprintf(bw, "\nEngine: %s", strconv.Quote(c.EngineVersion))
	}
	if c.Signature == SigUnityFS {
		fmt.Fprintf(bw, "\nFlags: %#x (%s", c.Flags, Compression(c.Flags&CompressionMask))
		if c.Flags&FlagInfoAtEnd != 0 {
			bw.WriteString(", info at end")
		}
		if c.NewFlags && c.Flags&FlagPaddingAtStart != 0 {
			bw.WriteString(", padded")
		}
		if c.Encrypted {
			bw.WriteString(", encrypted")
		}
		bw.WriteString(")")
	}
	if c.FormatVersion >= 4 && (c.Signature == SigUnityWeb || c.Signature == SigUnityRaw) {
		fmt.Fprintf(bw, "\nHash: %x", c.Hash)
		fmt.Fprintf(bw, "\nCRC: %08x", c.CRC)
	}
	if len(c.Blocks) > 0 {
		fmt.Fprintf(bw, "\nBlocks: (count:%d) {", len(c.Blocks))
		for i, b := range c.Blocks {
			dumpNewline(bw, 1)
			fmt.Fprintf(bw, "#%d: %s %d -> %d", i, b.Compression(), b.CompressedSize, b.UncompressedSize)
			if b.Encrypted() {
				bw.WriteString(" (encrypted)")
			}
		}
		bw.WriteString("\n}")
	}
	fmt.Fprintf(bw, "\nEntries: (count:%d) {", len(c.Entries))
	for i, e := range c.Entries {
		dumpNewline(bw, 1)
		fmt.Fprintf(bw, "#%d: %s", i, strconv.Quote(e.Path))
		dumpNewline(bw, 2)
		fmt.Fprintf(bw, "Offset: %d", e.Offset)
		dumpNewline(bw, 2)
		fmt.Fprintf(bw, "Size: %d", e.Size)
		if e.Flags != 0 {
			dumpNewline(bw, 2)
			fmt.Fprintf(bw, "Flags: %#x", e.Flags)
		}
		dumpNewline(bw, 2)
		sum := blake2b.Sum256(c.data[e.Offset : e.Offset+e.Size])
		fmt.Fprintf(bw, "Hash: %x", sum[:16])
	}
	bw.WriteString("\n}\n")

	return warn, bw.Flush()
}

func dumpNewline(w *bufio.Writer, indent int) {
	w.WriteByte('\n')
	for i := 0; i < indent; i++ {
		w.WriteByte('\t')
	}
}
