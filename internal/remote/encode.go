package remote

import (
	"bytes"
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Encoder serializes a status or response payload.
type Encoder func(v interface{}) ([]byte, error)

// EncoderFor returns the msgpack encoder for "msgpack" and JSON otherwise.
// Both honour the json struct tags so the two payloads carry the same keys.
func EncoderFor(encoding string) Encoder {
	if encoding == "msgpack" {
		return encodeMsgpack
	}
	return json.Marshal
}

func encodeMsgpack(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeMsgpack is the inverse of the msgpack encoder, for subscribers
// written in Go.
func DecodeMsgpack(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
