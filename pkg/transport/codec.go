package transport

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/gzip"

	"github.com/arrowship/arrowship/pkg/config"
	"github.com/arrowship/arrowship/pkg/ingesterr"
)

// Content types understood by the http transport and the sandbox.
const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

// Codec encodes request and response bodies.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct{}

func (jsonCodec) ContentType() string                { return ContentTypeJSON }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() cborCodec {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	// Nested maps decode as map[string]any so values look the same as JSON.
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return cborCodec{enc: enc, dec: dec}
}

func (cborCodec) ContentType() string                  { return ContentTypeCBOR }
func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

var (
	JSON Codec = jsonCodec{}
	CBOR Codec = newCBORCodec()
)

// CodecFor returns the codec for a transport.encoding value.
func CodecFor(encoding string) (Codec, error) {
	switch encoding {
	case config.EncodingJSON, "":
		return JSON, nil
	case config.EncodingCBOR:
		return CBOR, nil
	default:
		return nil, ingesterr.New(ingesterr.KindConfiguration, "unknown encoding %q", encoding)
	}
}

// CodecForContentType picks a codec from a Content-Type header, defaulting
// to JSON.
func CodecForContentType(ct string) Codec {
	mt, _, err := mime.ParseMediaType(ct)
	if err == nil && mt == ContentTypeCBOR {
		return CBOR
	}
	return JSON
}

// Gzip compresses data.
func Gzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Gunzip returns a reader that decompresses r.
func Gunzip(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}
