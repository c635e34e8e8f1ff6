// Package objcode implements the object-code container that carries a
// compiled unit between the compiler, the process image and the patch
// engine.
//
// Layout: the 4-byte magic "RPOB", one version byte, then a canonical CBOR
// body holding the unit identity and a map of named chunks. Each chunk has
// a format tag and opaque data.
package objcode

import (
	"bytes"
	"errors"
	"fmt"
)

// Magic identifies object-code bytes.
var Magic = [4]byte{'R', 'P', 'O', 'B'}

// Version is the container version written by Encode.
const Version byte = 0x01

// Chunk names.
const (
	ChunkCode    = "Code" // executable functions and exports (always present)
	ChunkIR      = "IR"   // full IR, only with embed_ir
	ChunkOptions = "Opts" // compile flags
	ChunkSource  = "Src"  // source-file tag
)

// Chunk format tags.
const (
	FormatCode    = "rpcode/1"
	FormatIR      = "rpir/1"
	FormatOptions = "flags/1"
	FormatSource  = "text/1"
)

var (
	// ErrMissing is returned for empty object bytes.
	ErrMissing = errors.New("object code is missing")
	// ErrUnknownFormat is returned for bytes that are not a container this
	// package understands, or a chunk with an unknown format tag.
	ErrUnknownFormat = errors.New("unknown object code format")
)

// MissingChunkError reports that a required chunk is absent.
type MissingChunkError struct {
	Name string
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("object code has no %s chunk", e.Name)
}

// Chunk is one named section of an object.
type Chunk struct {
	Format string `cbor:"1,keyasint"`
	Data   []byte `cbor:"2,keyasint"`
}

// Object is a decoded container.
type Object struct {
	Identity string           `cbor:"1,keyasint"`
	Chunks   map[string]Chunk `cbor:"2,keyasint"`
}

// Encode serializes the object.
func (o *Object) Encode() ([]byte, error) {
	body, err := encMode.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("objcode: marshal object: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(Magic) + 1 + len(body))
	buf.Write(Magic[:])
	buf.WriteByte(Version)
	buf.Write(body)
	return buf.Bytes(), nil
}

// Decode parses object bytes.
func Decode(data []byte) (*Object, error) {
	if len(data) == 0 {
		return nil, ErrMissing
	}
	if len(data) < len(Magic)+1 || !bytes.Equal(data[:len(Magic)], Magic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrUnknownFormat)
	}
	if v := data[len(Magic)]; v != Version {
		return nil, fmt.Errorf("%w: version %d", ErrUnknownFormat, v)
	}
	var o Object
	if err := decMode.Unmarshal(data[len(Magic)+1:], &o); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}
	if o.Chunks == nil {
		o.Chunks = make(map[string]Chunk)
	}
	return &o, nil
}

// chunk returns the named chunk after checking its format tag.
func (o *Object) chunk(name, format string) ([]byte, error) {
	c, ok := o.Chunks[name]
	if !ok {
		return nil, &MissingChunkError{Name: name}
	}
	if c.Format != format {
		return nil, fmt.Errorf("%w: %s chunk has format %q", ErrUnknownFormat, name, c.Format)
	}
	return c.Data, nil
}

// HasChunk reports whether the named chunk is present.
func (o *Object) HasChunk(name string) bool {
	_, ok := o.Chunks[name]
	return ok
}

// Options returns the compile flags stored in the options chunk.
func (o *Object) Options() ([]string, error) {
	data, err := o.chunk(ChunkOptions, FormatOptions)
	if err != nil {
		return nil, err
	}
	var flags []string
	if err := decMode.Unmarshal(data, &flags); err != nil {
		return nil, fmt.Errorf("objcode: options chunk: %w", err)
	}
	return flags, nil
}

// SourceTag returns the source-file tag, or "" when the chunk is absent.
func (o *Object) SourceTag() string {
	c, ok := o.Chunks[ChunkSource]
	if !ok || c.Format != FormatSource {
		return ""
	}
	return string(c.Data)
}
