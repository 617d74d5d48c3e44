package types

import (
	"github.com/hashicorp/go-msgpack/codec"
)

// canonicalHandle is shared by every encode call in the module. Canonical
// sorts map keys and StructToArray pins the field order, so the same value
// always produces the same bytes. Signatures cover these exact bytes.
var canonicalHandle = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.Canonical = true
	h.StructToArray = true
	return h
}()

// Encode encodes data into canonical msgpack bytes.
// Data can be of any type.
func Encode(data interface{}) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, canonicalHandle)
	if err := enc.Encode(data); err != nil {
		return nil, err
	}
	return buf, nil
}

// Decode decodes bytes into data, which must be a pointer.
func Decode(raw []byte, data interface{}) error {
	dec := codec.NewDecoderBytes(raw, canonicalHandle)
	return dec.Decode(data)
}
