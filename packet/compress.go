package packet

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// CompressType tags how a RecordBatch payload is packed.
type CompressType uint8

const (
	CompressNone CompressType = 0
	CompressLZ4  CompressType = 1
)

// Known reports whether c is a compression scheme this client handles.
func (c CompressType) Known() bool {
	return c == CompressNone || c == CompressLZ4
}

func (c CompressType) String() string {
	switch c {
	case CompressNone:
		return "none"
	case CompressLZ4:
		return "lz4"
	}
	return fmt.Sprintf("unknown(%d)", uint8(c))
}

// Decompress expands an LZ4 block payload into exactly rawLen bytes.
// The produced byte count is returned alongside the buffer so callers
// can verify it against the batch metadata.
func Decompress(payload []byte, rawLen uint32) ([]byte, int, error) {
	out := make([]byte, rawLen)
	n, err := lz4.UncompressBlock(payload, out)
	if err != nil {
		return nil, 0, fmt.Errorf("lz4 block: %w", err)
	}
	return out[:n], n, nil
}

// Compress packs raw into an LZ4 block. A zero return length means the
// input did not shrink; senders fall back to CompressNone in that case.
func Compress(raw []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(raw)))
	n, err := lz4.CompressBlock(raw, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 block: %w", err)
	}
	return dst[:n], nil
}
