package stream

import (
	"github.com/rs/zerolog/log"

	"github.com/logtide/logtide/packet"
	"github.com/logtide/logtide/telemetry"
)

// wireDecoder is one protocol generation's frame parser. A connection
// attempt owns exactly one, selected from the configured protocol
// version before dialing and never re-checked per frame.
type wireDecoder interface {
	feed(p []byte) error
}

type decoderState int

const (
	stateHeader decoderState = iota
	stateHandshakeAck
	stateErrorBody
	stateStatusBody
	stateRecordBody
)

// frameDecoder parses the current framed protocol: a 7-byte header
// (version uint16, type int8, bodyLength uint32, all big-endian)
// followed by bodyLength body bytes, dispatched on frame type. Partial
// data is left buffered untouched; a body is consumed only once it is
// complete, so no handler ever observes a truncated frame.
type frameDecoder struct {
	arena        accumulator
	state        decoderState
	need         uint32 // body length recorded by the header state
	discardAfter int

	batch    *batchProcessor
	onReady  func(*packet.HandshakeResponse)
	onStatus func(*packet.RuntimeStatus)
}

func newFrameDecoder(batch *batchProcessor, discardAfter int, onReady func(*packet.HandshakeResponse), onStatus func(*packet.RuntimeStatus)) *frameDecoder {
	return &frameDecoder{batch: batch, discardAfter: discardAfter, onReady: onReady, onStatus: onStatus}
}

// feed appends p to the receive buffer and parses as many complete
// frames as the buffered bytes allow. Any returned error aborts the
// connection attempt; nil means the decoder is waiting for more bytes.
func (d *frameDecoder) feed(p []byte) error {
	d.arena.grow(p)
	defer d.arena.endFeed(d.discardAfter)

	for d.arena.size() > 0 {
		if d.state == stateHeader {
			if d.arena.size() < packet.HeaderSize {
				return nil
			}
			hdr, err := packet.ParseHeader(d.arena.take(packet.HeaderSize))
			if err != nil {
				return protocolErr("frame header: %v", err)
			}
			if err := d.route(hdr); err != nil {
				return err
			}
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
		d.state = stateHeader
		d.need = 0
	}
	return nil
}

// route validates a parsed header and selects the body state.
func (d *frameDecoder) route(hdr packet.Header) error {
	if !hdr.Version.Known() {
		return protocolErr("unknown protocol version %d", uint16(hdr.Version))
	}
	if !hdr.Type.Known() {
		return protocolErr("unknown frame type %d", int8(hdr.Type))
	}
	if hdr.Length == 0 {
		return protocolErr("zero-length %s frame", hdr.Type)
	}

	telemetry.FramesTotal.With(hdr.Type.String()).Inc()

	switch hdr.Type {
	case packet.TypeHandshakeResponse:
		d.state = stateHandshakeAck
	case packet.TypeErrorResponse:
		d.state = stateErrorBody
	case packet.TypeStatus:
		d.state = stateStatusBody
	case packet.TypeData:
		d.state = stateRecordBody
	default:
		// HANDSHAKE_REQUEST travels client to proxy only.
		return protocolErr("unexpected %s frame from server", hdr.Type)
	}
	d.need = hdr.Length
	return nil
}

// dispatch decodes one complete frame body for the current state.
func (d *frameDecoder) dispatch(body []byte) error {
	switch d.state {
	case stateHandshakeAck:
		var ack packet.HandshakeResponse
		if err := ack.Unmarshal(body); err != nil {
			return protocolErr("handshake response: %v", err)
		}
		log.Info().
			Int32("code", ack.Code).
			Str("server_ip", ack.IP).
			Str("server_version", ack.Version).
			Msg("Handshake confirmed by proxy")
		telemetry.HandshakesTotal.With("ok").Inc()
		if d.onReady != nil {
			d.onReady(&ack)
		}
		return nil

	case stateErrorBody:
		var er packet.ErrorResponse
		if err := er.Unmarshal(body); err != nil {
			return protocolErr("error response: %v", err)
		}
		telemetry.HandshakesTotal.With("refused").Inc()
		return authErr(er.Code, er.Message)

	case stateStatusBody:
		var st packet.RuntimeStatus
		if err := st.Unmarshal(body); err != nil {
			return protocolErr("runtime status: %v", err)
		}
		log.Debug().
			Str("proxy_ip", st.IP).
			Int32("proxy_port", st.Port).
			Int32("streams", st.StreamCount).
			Int32("workers", st.WorkerCount).
			Msg("Proxy runtime status")
		if d.onStatus != nil {
			d.onStatus(&st)
		}
		return nil

	case stateRecordBody:
		return d.batch.process(body)
	}
	return protocolErr("dispatch in unexpected state %d", d.state)
}
