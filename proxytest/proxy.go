// Package proxytest runs an in-process log proxy speaking the real wire
// protocol over real sockets. Client tests script its behavior per
// accepted connection.
package proxytest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/soheilhy/cmux"

	"github.com/logtide/logtide/logmsg"
	"github.com/logtide/logtide/packet"
)

// Script tells the proxy what to do with one accepted connection. A
// proxy started with several scripts consumes them in accept order and
// repeats the last one for any further connections.
type Script struct {
	// Refuse answers the handshake with an error frame and closes the
	// connection. Legacy connections are closed without a frame since
	// that framing has no error response.
	Refuse *packet.ErrorResponse

	// Batches are sent as DATA frames, in order, after the handshake.
	Batches [][]*logmsg.Record

	// Compress sends batches LZ4-compressed when the payload shrinks.
	Compress bool

	// Statuses are sent as STATUS frames after the batches.
	Statuses []*packet.RuntimeStatus

	// ChunkBytes splits every outbound frame into writes of at most
	// this many bytes, forcing the client to reassemble.
	ChunkBytes int

	// HoldOpen keeps the connection open after the script has played
	// out. Without it the proxy closes, which a client sees as a
	// dropped stream.
	HoldOpen bool
}

// Proxy is the in-process server. Start it, point a client at Addr,
// then Stop it when the test is done.
type Proxy struct {
	listener net.Listener
	mux      cmux.CMux
	scripts  []Script
	quit     chan struct{}
	wg       sync.WaitGroup

	mu         sync.Mutex
	conns      int
	handshakes []*packet.ClientHandshakeRequest
}

// Start listens on a loopback port and begins accepting connections.
func Start(scripts ...Script) (*Proxy, error) {
	if len(scripts) == 0 {
		scripts = []Script{{HoldOpen: true}}
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	p := &Proxy{
		listener: listener,
		scripts:  scripts,
		quit:     make(chan struct{}),
	}

	// Health over HTTP and the log stream protocol share the port.
	p.mux = cmux.New(listener)
	httpListener := p.mux.Match(cmux.HTTP1Fast())
	streamListener := p.mux.Match(cmux.Any())

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	httpServer := &http.Server{Handler: httpMux}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		httpServer.Serve(httpListener)
	}()

	p.wg.Add(1)
	go p.acceptLoop(streamListener)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.mux.Serve()
	}()

	return p, nil
}

// Addr returns the host:port the proxy listens on.
func (p *Proxy) Addr() string {
	return p.listener.Addr().String()
}

// Stop closes the listener and waits for connection handlers to exit.
func (p *Proxy) Stop() {
	close(p.quit)
	p.listener.Close()
	p.wg.Wait()
}

// Conns returns how many stream connections were accepted.
func (p *Proxy) Conns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns
}

// Handshakes returns the handshake requests received so far.
func (p *Proxy) Handshakes() []*packet.ClientHandshakeRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*packet.ClientHandshakeRequest, len(p.handshakes))
	copy(out, p.handshakes)
	return out
}

func (p *Proxy) acceptLoop(listener net.Listener) {
	defer p.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-p.quit:
				return
			default:
				log.Error().Err(err).Msg("proxytest accept error")
				return
			}
		}

		script := p.takeScript()
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer conn.Close()
			if err := p.handleConn(conn, script); err != nil {
				select {
				case <-p.quit:
				default:
					log.Debug().Err(err).Msg("proxytest connection ended")
				}
			}
		}()
	}
}

func (p *Proxy) takeScript() Script {
	p.mu.Lock()
	defer p.mu.Unlock()
	script := p.scripts[min(p.conns, len(p.scripts)-1)]
	p.conns++
	return script
}

func (p *Proxy) handleConn(conn net.Conn, script Script) error {
	version, req, err := readHandshake(conn)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.handshakes = append(p.handshakes, req)
	p.mu.Unlock()

	if script.Refuse != nil {
		if version.Legacy() {
			return nil
		}
		return writeChunked(conn, packet.BuildFrame(packet.V2, packet.TypeErrorResponse, script.Refuse.Marshal()), script.ChunkBytes)
	}

	if !version.Legacy() {
		ack := &packet.HandshakeResponse{IP: "127.0.0.1", Version: "proxytest"}
		if err := writeChunked(conn, packet.BuildFrame(packet.V2, packet.TypeHandshakeResponse, ack.Marshal()), script.ChunkBytes); err != nil {
			return err
		}
	}

	for _, recs := range script.Batches {
		frame, err := buildDataFrame(version, recs, script.Compress)
		if err != nil {
			return err
		}
		if err := writeChunked(conn, frame, script.ChunkBytes); err != nil {
			return err
		}
	}

	if !version.Legacy() {
		for _, status := range script.Statuses {
			if err := writeChunked(conn, packet.BuildFrame(packet.V2, packet.TypeStatus, status.Marshal()), script.ChunkBytes); err != nil {
				return err
			}
		}
	}

	if script.HoldOpen {
		<-p.quit
	}
	return nil
}

func readHandshake(conn net.Conn) (packet.Version, *packet.ClientHandshakeRequest, error) {
	preamble := make([]byte, len(packet.Magic))
	if _, err := io.ReadFull(conn, preamble); err != nil {
		return 0, nil, err
	}
	if !bytes.Equal(preamble, packet.Magic[:]) {
		return 0, nil, fmt.Errorf("bad magic %x", preamble)
	}

	raw := make([]byte, packet.HeaderSize)
	if _, err := io.ReadFull(conn, raw); err != nil {
		return 0, nil, err
	}
	header, err := packet.ParseHeader(raw)
	if err != nil {
		return 0, nil, err
	}
	if header.Type != packet.TypeHandshakeRequest {
		return 0, nil, fmt.Errorf("expected handshake request, got %s", header.Type)
	}

	body := make([]byte, header.Length)
	if _, err := io.ReadFull(conn, body); err != nil {
		return 0, nil, err
	}
	req := new(packet.ClientHandshakeRequest)
	if err := req.Unmarshal(body); err != nil {
		return 0, nil, err
	}
	return header.Version, req, nil
}

func buildDataFrame(version packet.Version, recs []*logmsg.Record, compress bool) ([]byte, error) {
	payload, err := logmsg.EncodeAll(recs...)
	if err != nil {
		return nil, err
	}

	compressType := packet.CompressNone
	body := payload
	if compress {
		packed, err := packet.Compress(payload)
		if err != nil {
			return nil, err
		}
		if len(packed) > 0 {
			compressType = packet.CompressLZ4
			body = packed
		}
	}

	if version.Legacy() {
		inner := make([]byte, 0, 9+len(body))
		inner = append(inner, byte(compressType))
		inner = binary.BigEndian.AppendUint32(inner, uint32(len(body)))
		inner = binary.BigEndian.AppendUint32(inner, uint32(len(payload)))
		inner = append(inner, body...)

		frame := binary.BigEndian.AppendUint16(nil, uint16(version))
		frame = binary.BigEndian.AppendUint32(frame, uint32(len(inner)))
		return append(frame, inner...), nil
	}

	batch := packet.RecordBatch{
		CompressType:  compressType,
		CompressedLen: uint32(len(body)),
		RawLen:        uint32(len(payload)),
		Records:       body,
	}
	return packet.BuildFrame(packet.V2, packet.TypeData, batch.Marshal()), nil
}

func writeChunked(conn net.Conn, frame []byte, chunk int) error {
	if chunk <= 0 {
		_, err := conn.Write(frame)
		return err
	}
	for off := 0; off < len(frame); off += chunk {
		end := min(off+chunk, len(frame))
		if _, err := conn.Write(frame[off:end]); err != nil {
			return err
		}
	}
	return nil
}
