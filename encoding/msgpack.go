// Package encoding provides centralized serialization/deserialization
// for logtide. ALL msgpack operations MUST go through this package to
// ensure consistent behavior.
//
// Thread Safety: Marshal and Unmarshal are safe for concurrent use.
//
// Type Preservation: When decoding into interface{}, msgpack strings
// and binary values decode as Go strings (not []byte). Published events
// carry row values as text renderings, so consumers comparing decoded
// keys against expected values must see one consistent type.
package encoding

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data using loose interface decoding.
// When decoding into interface{}, strings are preserved as Go strings
// (not []byte), so event payloads round-trip to the same shapes their
// JSON rendering produces.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	// UseLooseInterfaceDecoding converts []byte to string when decoding
	// into interface{}. Row images mix text and binary columns; without
	// this a decoded key compares unequal to its text form.
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}
