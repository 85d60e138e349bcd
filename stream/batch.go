package stream

import (
	"time"

	"github.com/logtide/logtide/logmsg"
	"github.com/logtide/logtide/packet"
	"github.com/logtide/logtide/telemetry"
)

// batchProcessor decodes DATA frame bodies and pushes the resulting
// records through emit, which blocks on the delivery queue.
type batchProcessor struct {
	dec           RecordDecoder
	ignoreUnknown bool
	emit          func(*logmsg.Record) error
	stats         *Stats
}

// process decodes a current-protocol record batch body.
func (b *batchProcessor) process(body []byte) error {
	var batch packet.RecordBatch
	if err := batch.Unmarshal(body); err != nil {
		return protocolErr("record batch: %v", err)
	}
	return b.deliver(batch.CompressType, batch.CompressedLen, batch.RawLen, batch.Records)
}

// deliver runs the decompression stage and hands the raw entry stream to
// the splitter. For LZ4 both advertised lengths are enforced: the payload
// must be exactly compressedLen bytes and must inflate to exactly rawLen
// bytes. Either mismatch fails the batch, never a partial delivery past
// the failure point.
func (b *batchProcessor) deliver(ct packet.CompressType, compressedLen, rawLen uint32, payload []byte) error {
	start := time.Now()

	var raw []byte
	switch ct {
	case packet.CompressNone:
		raw = payload
	case packet.CompressLZ4:
		if int(compressedLen) != len(payload) {
			return decompressErr("compressed payload is %d bytes, batch advertises %d", len(payload), compressedLen)
		}
		out, produced, err := packet.Decompress(payload, rawLen)
		if err != nil {
			return decompressErr("lz4 inflate: %v", err)
		}
		if produced != int(rawLen) {
			return decompressErr("lz4 produced %d bytes, batch advertises %d", produced, rawLen)
		}
		raw = out
	default:
		return protocolErr("unknown compress type %d", uint8(ct))
	}

	telemetry.BatchesTotal.With(ct.String()).Inc()
	telemetry.BatchRawBytes.Observe(float64(len(raw)))

	if err := b.split(raw); err != nil {
		return err
	}
	telemetry.BatchDecodeSeconds.Observe(time.Since(start).Seconds())
	return nil
}
