// Package codec provides the value encoders sessions use for SendValue.
//
// The session itself only moves opaque frames; codecs are a convenience for
// callers that exchange structured values.
package codec

import (
	"io"

	"github.com/fxamacker/cbor/v2"
	json "github.com/goccy/go-json"
)

type Encoder interface {
	Encode(v any) error
}

type Decoder interface {
	Decode(v any) error
}

type Marshaler interface {
	Marshal(v any) ([]byte, error)
	NewEncoder(w io.Writer) Encoder
}

type Unmarshaler interface {
	Unmarshal(data []byte, dst any) error
	NewDecoder(r io.Reader) Decoder
}

// Codec marshals and unmarshals values, and reports whether its output is
// binary so the session can pick the matching frame type.
type Codec interface {
	Marshaler
	Unmarshaler
	Binary() bool
	Name() string
}

// JSON returns a codec backed by github.com/goccy/go-json.
func JSON() Codec {
	return jsonCodec{}
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, dst any) error {
	return json.Unmarshal(data, dst)
}

func (jsonCodec) NewEncoder(w io.Writer) Encoder {
	return json.NewEncoder(w)
}

func (jsonCodec) NewDecoder(r io.Reader) Decoder {
	return json.NewDecoder(r)
}

func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Name() string { return "json" }

// CBOR returns a codec backed by github.com/fxamacker/cbor/v2 using
// canonical encoding options.
func CBOR() Codec {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic("BUG: canonical CBOR options must be valid: " + err.Error())
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("BUG: default CBOR decode options must be valid: " + err.Error())
	}
	return cborCodec{em: em, dm: dm}
}

type cborCodec struct {
	em cbor.EncMode
	dm cbor.DecMode
}

func (c cborCodec) Marshal(v any) ([]byte, error) {
	return c.em.Marshal(v)
}

func (c cborCodec) Unmarshal(data []byte, dst any) error {
	return c.dm.Unmarshal(data, dst)
}

func (c cborCodec) NewEncoder(w io.Writer) Encoder {
	return c.em.NewEncoder(w)
}

func (c cborCodec) NewDecoder(r io.Reader) Decoder {
	return c.dm.NewDecoder(r)
}

func (cborCodec) Binary() bool { return true }

func (cborCodec) Name() string { return "cbor" }

// ByName returns the codec registered under name ("json" or "cbor").
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON(), true
	case "cbor":
		return CBOR(), true
	default:
		return nil, false
	}
}
