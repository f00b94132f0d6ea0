package errors

import (
	"fmt"
	"strconv"
	"strings"
)

var (
	// Indicates a read past the end of a buffer.
	ErrTruncated = New("truncated data")
	// Indicates an unexpected container or file signature.
	ErrBadSignature = New("bad signature")
	// Indicates a format version that is not supported.
	ErrUnsupportedVersion = New("unsupported version")
	// Indicates a compression type that cannot be decoded.
	ErrUnsupportedCompression = New("unsupported compression")
	// Indicates an encrypted bundle without a configured key.
	ErrMissingDecryptKey = New("missing decrypt key")
	// Indicates that the bytes consumed by a node differ from its declared
	// size.
	ErrSchemaMismatch = New("schema mismatch")
)

// TruncatedError indicates an attempt to read Need bytes at Offset when only
// Have bytes remained.
type TruncatedError struct {
	Offset int64
	Need   int64
	Have   int64
}

func (err TruncatedError) Error() string {
	return fmt.Sprintf("truncated data at %d: need %d bytes, have %d", err.Offset, err.Need, err.Have)
}

func (err TruncatedError) Is(target error) bool {
	return target == ErrTruncated
}

// UnsupportedVersionError indicates a version that the decoder does not
// handle. Format names the thing being versioned.
type UnsupportedVersionError struct {
	Format  string
	Version string
}

func (err UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported %s version %s", err.Format, err.Version)
}

func (err UnsupportedVersionError) Is(target error) bool {
	return target == ErrUnsupportedVersion
}

// UnsupportedCompressionError indicates a block compressed with an unknown or
// unimplemented codec.
type UnsupportedCompressionError struct {
	Type uint32
	Name string
}

func (err UnsupportedCompressionError) Error() string {
	if err.Name != "" {
		return "unsupported compression " + err.Name
	}
	return "unsupported compression type " + strconv.FormatUint(uint64(err.Type), 10)
}

func (err UnsupportedCompressionError) Is(target error) bool {
	return target == ErrUnsupportedCompression
}

// SchemaMismatchError indicates that a node consumed a different number of
// bytes than it declares.
type SchemaMismatchError struct {
	// Path is the dotted field path of the node.
	Path string
	// Type is the type name of the node.
	Type     string
	Expected int64
	Actual   int64
}

func (err SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch in %s (%s): expected %d bytes, read %d", err.Path, err.Type, err.Expected, err.Actual)
}

func (err SchemaMismatchError) Is(target error) bool {
	return target == ErrSchemaMismatch
}

// DataError wraps an error that occurred while encoding or decoding byte data.
type DataError struct {
	// Offset is the byte offset where the error occurred.
	Offset int64

	Cause error
}

func (err DataError) Error() string {
	var s strings.Builder
	s.WriteString("data error")
	if err.Offset >= 0 {
		s.WriteString(" at ")
		s.Write(strconv.AppendInt(nil, err.Offset, 10))
	}
	if err.Cause != nil {
		s.WriteString(": ")
		s.WriteString(err.Cause.Error())
	}
	return s.String()
}

func (err DataError) Unwrap() error {
	return err.Cause
}
