package packet

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message bodies are protobuf-encoded. The schemas are small and frozen,
// so they are hand-coded against protowire instead of generated.

// ClientHandshakeRequest is the body of the frame a client sends right
// after the magic preamble.
type ClientHandshakeRequest struct {
	LogType       int32  // source log kind; 0 = transaction log
	IP            string // client address, informational
	ID            string // unique client id, shows up in proxy logs
	Version       string // client release tag
	EnableMonitor bool
	Configuration string // serialized subscription parameters
}

func (m *ClientHandshakeRequest) Marshal() []byte {
	var b []byte
	if m.LogType != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(m.LogType)))
	}
	if m.IP != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, m.IP)
	}
	if m.ID != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, m.ID)
	}
	if m.Version != "" {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendString(b, m.Version)
	}
	if m.EnableMonitor {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if m.Configuration != "" {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendString(b, m.Configuration)
	}
	return b
}

func (m *ClientHandshakeRequest) Unmarshal(data []byte) error {
	*m = ClientHandshakeRequest{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("handshake request: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("handshake request log_type: %w", protowire.ParseError(n))
			}
			m.LogType = int32(v)
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("handshake request ip: %w", protowire.ParseError(n))
			}
			m.IP = v
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("handshake request id: %w", protowire.ParseError(n))
			}
			m.ID = v
			data = data[n:]
		case 4:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("handshake request version: %w", protowire.ParseError(n))
			}
			m.Version = v
			data = data[n:]
		case 5:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("handshake request enable_monitor: %w", protowire.ParseError(n))
			}
			m.EnableMonitor = v != 0
			data = data[n:]
		case 6:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("handshake request configuration: %w", protowire.ParseError(n))
			}
			m.Configuration = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("handshake request field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

// HandshakeResponse is the proxy's reply confirming the subscription.
type HandshakeResponse struct {
	Code    int32
	IP      string // proxy address
	Version string // proxy release tag
}

func (m *HandshakeResponse) Marshal() []byte {
	var b []byte
	if m.Code != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(m.Code)))
	}
	if m.IP != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, m.IP)
	}
	if m.Version != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, m.Version)
	}
	return b
}

func (m *HandshakeResponse) Unmarshal(data []byte) error {
	*m = HandshakeResponse{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("handshake response: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("handshake response code: %w", protowire.ParseError(n))
			}
			m.Code = int32(v)
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("handshake response ip: %w", protowire.ParseError(n))
			}
			m.IP = v
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("handshake response version: %w", protowire.ParseError(n))
			}
			m.Version = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("handshake response field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

// ErrorResponse is the body of an ERROR_RESPONSE frame. The proxy sends
// one when it refuses or aborts a subscription.
type ErrorResponse struct {
	Code    int32
	Message string
}

func (m *ErrorResponse) Marshal() []byte {
	var b []byte
	if m.Code != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(m.Code)))
	}
	if m.Message != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, m.Message)
	}
	return b
}

func (m *ErrorResponse) Unmarshal(data []byte) error {
	*m = ErrorResponse{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("error response: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("error response code: %w", protowire.ParseError(n))
			}
			m.Code = int32(v)
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("error response message: %w", protowire.ParseError(n))
			}
			m.Message = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("error response field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

// RuntimeStatus is the periodic STATUS frame body reporting proxy health.
type RuntimeStatus struct {
	IP          string
	Port        int32
	StreamCount int32
	WorkerCount int32
}

func (m *RuntimeStatus) Marshal() []byte {
	var b []byte
	if m.IP != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, m.IP)
	}
	if m.Port != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(m.Port)))
	}
	if m.StreamCount != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(m.StreamCount)))
	}
	if m.WorkerCount != 0 {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(m.WorkerCount)))
	}
	return b
}

func (m *RuntimeStatus) Unmarshal(data []byte) error {
	*m = RuntimeStatus{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("runtime status: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("runtime status ip: %w", protowire.ParseError(n))
			}
			m.IP = v
			data = data[n:]
		case 2, 3, 4:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("runtime status field %d: %w", num, protowire.ParseError(n))
			}
			switch num {
			case 2:
				m.Port = int32(v)
			case 3:
				m.StreamCount = int32(v)
			case 4:
				m.WorkerCount = int32(v)
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("runtime status field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

// RecordBatch is the body of a DATA frame: compression metadata plus the
// (possibly compressed) concatenation of record entries.
type RecordBatch struct {
	CompressType  CompressType
	CompressedLen uint32
	RawLen        uint32
	Records       []byte
}

func (m *RecordBatch) Marshal() []byte {
	var b []byte
	if m.CompressType != CompressNone {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.CompressType))
	}
	if m.CompressedLen != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.CompressedLen))
	}
	if m.RawLen != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.RawLen))
	}
	if len(m.Records) > 0 {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Records)
	}
	return b
}

// Unmarshal decodes a DATA body. Records aliases data; callers that keep
// the batch beyond the current frame must copy.
func (m *RecordBatch) Unmarshal(data []byte) error {
	*m = RecordBatch{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("record batch: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1, 2, 3:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("record batch field %d: %w", num, protowire.ParseError(n))
			}
			switch num {
			case 1:
				m.CompressType = CompressType(v)
			case 2:
				m.CompressedLen = uint32(v)
			case 3:
				m.RawLen = uint32(v)
			}
			data = data[n:]
		case 4:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("record batch records: %w", protowire.ParseError(n))
			}
			m.Records = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("record batch field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}
