// Package packet implements the log proxy wire protocol: frame headers,
// protobuf message bodies and batch compression.
package packet

import (
	"encoding/binary"
	"fmt"
)

// Magic is the preamble a client writes before its handshake request.
// The proxy uses it to reject stray connections before parsing anything.
var Magic = [7]byte{'x', 'i', '5', '3', 'g', ']', 'q'}

// HeaderSize is version(2) + type(1) + length(4).
const HeaderSize = 7

// Version identifies a wire protocol generation.
type Version uint16

const (
	V0 Version = 0
	V1 Version = 1
	V2 Version = 2
)

// Known reports whether v is a version this client understands.
func (v Version) Known() bool {
	return v <= V2
}

// Legacy reports whether v uses the pre-v2 framing.
func (v Version) Legacy() bool {
	return v < V2
}

func (v Version) String() string {
	return fmt.Sprintf("v%d", uint16(v))
}

// MessageType identifies what a frame body contains.
type MessageType int8

const (
	TypeErrorResponse     MessageType = -1
	TypeHandshakeRequest  MessageType = 1
	TypeHandshakeResponse MessageType = 2
	TypeData              MessageType = 3
	TypeStatus            MessageType = 4
)

// Known reports whether t is a frame type a client may receive or send.
func (t MessageType) Known() bool {
	switch t {
	case TypeErrorResponse, TypeHandshakeRequest, TypeHandshakeResponse, TypeData, TypeStatus:
		return true
	}
	return false
}

func (t MessageType) String() string {
	switch t {
	case TypeErrorResponse:
		return "ERROR_RESPONSE"
	case TypeHandshakeRequest:
		return "HANDSHAKE_REQUEST"
	case TypeHandshakeResponse:
		return "HANDSHAKE_RESPONSE"
	case TypeData:
		return "DATA"
	case TypeStatus:
		return "STATUS"
	}
	return fmt.Sprintf("UNKNOWN(%d)", int8(t))
}

// Header is one frame header on the wire. All fields are big-endian.
type Header struct {
	Version Version
	Type    MessageType
	Length  uint32
}

// ParseHeader decodes a header from the first HeaderSize bytes of b.
// It performs no validation beyond length; callers classify bad fields.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("header needs %d bytes, have %d", HeaderSize, len(b))
	}
	return Header{
		Version: Version(binary.BigEndian.Uint16(b[0:2])),
		Type:    MessageType(b[2]),
		Length:  binary.BigEndian.Uint32(b[3:7]),
	}, nil
}

// AppendHeader appends the wire encoding of h to dst.
func AppendHeader(dst []byte, h Header) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(h.Version))
	dst = append(dst, byte(h.Type))
	dst = binary.BigEndian.AppendUint32(dst, h.Length)
	return dst
}

// BuildHandshake assembles the full client handshake packet:
// magic, then a HANDSHAKE_REQUEST frame carrying req.
func BuildHandshake(v Version, req *ClientHandshakeRequest) []byte {
	body := req.Marshal()
	out := make([]byte, 0, len(Magic)+HeaderSize+len(body))
	out = append(out, Magic[:]...)
	out = AppendHeader(out, Header{Version: v, Type: TypeHandshakeRequest, Length: uint32(len(body))})
	out = append(out, body...)
	return out
}

// BuildFrame assembles one response-style frame (no magic). The proxy
// side of tests uses it; clients only ever send handshakes.
func BuildFrame(v Version, t MessageType, body []byte) []byte {
	out := make([]byte, 0, HeaderSize+len(body))
	out = AppendHeader(out, Header{Version: v, Type: t, Length: uint32(len(body))})
	return append(out, body...)
}
