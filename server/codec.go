package server

import (
	"fmt"

	"connectrpc.com/connect"

	"github.com/chazu/repatch/objcode"
)

// CodecName is the Connect codec name; requests use the content type
// application/cbor.
const CodecName = "cbor"

// cborCodec carries messages as canonical CBOR, the same encoding used for
// object code.
type cborCodec struct{}

var _ connect.Codec = cborCodec{}

func (cborCodec) Name() string { return CodecName }

func (cborCodec) Marshal(msg any) ([]byte, error) {
	data, err := objcode.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("cbor codec: %w", err)
	}
	return data, nil
}

func (cborCodec) Unmarshal(data []byte, msg any) error {
	if err := objcode.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("cbor codec: %w", err)
	}
	return nil
}
