package environment

import (
	"bytes"

	"golang.org/x/crypto/blake2b"

	"github.com/anaminus/unityfile"
	"github.com/anaminus/unityfile/errors"
)

// HashSize is the size of a payload hash.
const HashSize = 16

// Payload is the bulk data of an object.
type Payload struct {
	Data []byte
	// Ext is the file extension suggested by the content, including the dot.
	Ext string
	// Hash is a prefix of the BLAKE2b-256 digest of Data.
	Hash [HashSize]byte
}

// Sniff suggests a file extension for the payload of an object of the given
// class.
func Sniff(class unityfile.ClassID, data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("OggS")):
		return ".ogg"
	case bytes.HasPrefix(data, []byte("RIFF")):
		return ".wav"
	case len(data) >= 8 && string(data[4:8]) == "ftyp":
		return ".m4a"
	case class == unityfile.ClassTextAsset:
		return ".txt"
	}
	return ".bin"
}

// Hash returns the payload hash of data.
func Hash(data []byte) (h [HashSize]byte) {
	sum := blake2b.Sum256(data)
	copy(h[:], sum[:])
	return h
}

// Extract returns the payload of an object. The data is either held inline by
// the object, or read from a loaded resource. Returns false if the object
// carries no payload, or its resource is not loaded.
func (e *Environment) Extract(obj unityfile.Object) (Payload, bool, error) {
	p, ok := obj.(unityfile.Payloader)
	if !ok {
		return Payload{}, false, nil
	}
	data, stream := p.Payload()
	if !stream.IsZero() {
		res, ok := e.FindResource(stream.Path)
		if !ok {
			return Payload{}, false, nil
		}
		size := uint64(len(res.Data))
		if stream.Offset > size || stream.Size > size-stream.Offset {
			return Payload{}, false, SourceError{Name: res.Name, Cause: errors.TruncatedError{
				Offset: int64(stream.Offset),
				Need:   int64(stream.Size),
				Have:   int64(size) - int64(stream.Offset),
			}}
		}
		data = res.Data[stream.Offset : stream.Offset+stream.Size]
	}
	return Payload{
		Data: data,
		Ext:  Sniff(obj.ClassID(), data),
		Hash: Hash(data),
	}, true, nil
}
