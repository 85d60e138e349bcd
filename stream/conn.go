package stream

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/logtide/logtide/packet"
	"github.com/logtide/logtide/telemetry"
)

// conn is one live connection attempt: a TCP socket plus the wire
// decoder holding this attempt's receive state. Both are discarded on
// teardown; only the delivery queue survives a reconnect.
type conn struct {
	nc     net.Conn
	dec    wireDecoder
	idle   time.Duration
	buf    []byte
	closed atomic.Bool
}

func dialProxy(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, transportErr(err, "dial %s", addr)
	}
	return nc, nil
}

func newConn(nc net.Conn, dec wireDecoder, idle time.Duration, readBufBytes int) *conn {
	if readBufBytes <= 0 {
		readBufBytes = 64 << 10
	}
	return &conn{nc: nc, dec: dec, idle: idle, buf: make([]byte, readBufBytes)}
}

// localIP reports the socket's local address for the handshake body.
func (c *conn) localIP() string {
	if addr, ok := c.nc.LocalAddr().(*net.TCPAddr); ok {
		return addr.IP.String()
	}
	return ""
}

// sendHandshake writes the magic preamble and the handshake request
// frame. The ack, when the protocol has one, arrives through readLoop.
func (c *conn) sendHandshake(v packet.Version, req *packet.ClientHandshakeRequest, timeout time.Duration) error {
	pkt := packet.BuildHandshake(v, req)
	if timeout > 0 {
		c.nc.SetWriteDeadline(time.Now().Add(timeout))
		defer c.nc.SetWriteDeadline(time.Time{})
	}
	if _, err := c.nc.Write(pkt); err != nil {
		return transportErr(err, "send handshake")
	}
	return nil
}

// readLoop pumps socket bytes into the decoder until a decode error, a
// transport fault or a local close. Reads carry a deadline so a silent
// proxy turns into an idle timeout, which callers treat as a reconnect
// request rather than a data error.
func (c *conn) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ErrStopped
		}
		if c.idle > 0 {
			c.nc.SetReadDeadline(time.Now().Add(c.idle))
		}
		n, err := c.nc.Read(c.buf)
		if n > 0 {
			telemetry.BytesReceivedTotal.Add(float64(n))
			if ferr := c.dec.feed(c.buf[:n]); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if c.closed.Load() || ctx.Err() != nil {
				return ErrStopped
			}
			switch {
			case errors.Is(err, os.ErrDeadlineExceeded):
				return transportErr(err, "no bytes in %s, idle timeout", c.idle)
			case errors.Is(err, io.EOF):
				return transportErr(err, "connection closed by peer")
			default:
				return transportErr(err, "read")
			}
		}
	}
}

// close shuts the socket down, releasing a blocked read. Idempotent.
func (c *conn) close() {
	if c.closed.CompareAndSwap(false, true) {
		c.nc.Close()
	}
}
