package stream

import (
	"encoding/binary"

	"github.com/rs/zerolog/log"

	"github.com/logtide/logtide/logmsg"
	"github.com/logtide/logtide/telemetry"
)

// RecordDecoder turns one raw log entry (reserved prefix included) into a
// typed record. The default implementation is logmsg.Decoder.
type RecordDecoder interface {
	Decode(entry []byte) (*logmsg.Record, error)
}

const entryPrefixSize = 8 // reserved(4) + bodyLength(4)

// split walks a decompressed batch payload and emits one record per
// entry. Each entry spans 8+bodyLength bytes: 4 reserved bytes, a
// big-endian uint32 body length, then the body. The span is copied
// before decoding so records never alias the batch buffer.
//
// Decoder failures abort the batch with a RecordParseFailure unless
// ignoreUnknown is set, in which case the entry is logged and skipped;
// records emitted before the failure stand either way.
func (b *batchProcessor) split(raw []byte) error {
	off := 0
	for off < len(raw) {
		if len(raw)-off < entryPrefixSize {
			return protocolErr("record entry truncated: %d bytes left, need %d for prefix", len(raw)-off, entryPrefixSize)
		}
		bodyLen := binary.BigEndian.Uint32(raw[off+4 : off+8])
		span := entryPrefixSize + int(bodyLen)
		if len(raw)-off < span {
			return protocolErr("record entry truncated: %d bytes left, entry spans %d", len(raw)-off, span)
		}

		entry := make([]byte, span)
		copy(entry, raw[off:off+span])
		off += span

		rec, err := b.dec.Decode(entry)
		if err != nil {
			if b.ignoreUnknown {
				if b.stats != nil {
					b.stats.recordSkipped()
				}
				telemetry.RecordsSkippedTotal.Inc()
				log.Warn().Err(err).Int("entry_bytes", span).Msg("Skipping undecodable record entry")
				continue
			}
			return parseErr(err, "record entry of %d bytes", span)
		}
		if err := b.emit(rec); err != nil {
			return err
		}
	}
	return nil
}
