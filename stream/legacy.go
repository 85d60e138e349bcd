package stream

import (
	"encoding/binary"

	"github.com/logtide/logtide/packet"
	"github.com/logtide/logtide/telemetry"
)

const (
	legacyHeaderSize      = 6 // version(2) + bodyLength(4)
	legacyBatchPrefixSize = 9 // compressType(1) + compressedLen(4) + rawLen(4)
)

type legacyState int

const (
	legacyHeader legacyState = iota
	legacyBody
)

// legacyDecoder parses the pre-v2 framing: version(uint16) and
// bodyLength(uint32) only, every body a record batch with a compact
// binary prefix instead of a protobuf message. There are no handshake
// acks, error frames or status frames in this generation; a refusal is
// just a closed socket. Downstream of the batch prefix everything is
// shared with the current decoder.
type legacyDecoder struct {
	arena        accumulator
	state        legacyState
	need         uint32
	discardAfter int

	batch *batchProcessor
}

func newLegacyDecoder(batch *batchProcessor, discardAfter int) *legacyDecoder {
	return &legacyDecoder{batch: batch, discardAfter: discardAfter}
}

func (d *legacyDecoder) feed(p []byte) error {
	d.arena.grow(p)
	defer d.arena.endFeed(d.discardAfter)

	for d.arena.size() > 0 {
		if d.state == legacyHeader {
			if d.arena.size() < legacyHeaderSize {
				return nil
			}
			hdr := d.arena.take(legacyHeaderSize)
			version := packet.Version(binary.BigEndian.Uint16(hdr[0:2]))
			length := binary.BigEndian.Uint32(hdr[2:6])
			if !version.Legacy() {
				return protocolErr("legacy stream carries version %d frame", uint16(version))
			}
			if length == 0 {
				return protocolErr("zero-length legacy frame")
			}
			telemetry.FramesTotal.With(packet.TypeData.String()).Inc()
			d.need = length
			d.state = legacyBody
			continue
		}

		if d.arena.size() < int(d.need) {
			return nil
		}
		d.arena.pin()
		err := d.dispatch(d.arena.take(int(d.need)))
		d.arena.unpin()
		if err != nil {
			return err
		}
		d.state = legacyHeader
		d.need = 0
	}
	return nil
}

func (d *legacyDecoder) dispatch(body []byte) error {
	if len(body) < legacyBatchPrefixSize {
		return protocolErr("legacy batch body is %d bytes, prefix needs %d", len(body), legacyBatchPrefixSize)
	}
	ct := packet.CompressType(body[0])
	compressedLen := binary.BigEndian.Uint32(body[1:5])
	rawLen := binary.BigEndian.Uint32(body[5:9])
	return d.batch.deliver(ct, compressedLen, rawLen, body[legacyBatchPrefixSize:])
}
