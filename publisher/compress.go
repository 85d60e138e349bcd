package publisher

import (
	"github.com/klauspost/compress/zstd"
)

// zstdSink compresses payloads before handing them to the wrapped sink.
// One encoder serves the worker; EncodeAll is safe for concurrent use
// and allocates nothing once warm.
type zstdSink struct {
	inner Sink
	enc   *zstd.Encoder
}

// NewZstdSink wraps a sink with zstd payload compression. Tombstones
// pass through uncompressed since the nil payload is the marker itself.
func NewZstdSink(inner Sink) (Sink, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	return &zstdSink{inner: inner, enc: enc}, nil
}

func (z *zstdSink) Publish(topic, key string, value []byte) error {
	if len(value) == 0 {
		return z.inner.Publish(topic, key, value)
	}
	return z.inner.Publish(topic, key, z.enc.EncodeAll(value, nil))
}

func (z *zstdSink) Close() error {
	z.enc.Close()
	return z.inner.Close()
}
