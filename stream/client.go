package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/rs/zerolog/log"

	"github.com/logtide/logtide/cfg"
	"github.com/logtide/logtide/logmsg"
	"github.com/logtide/logtide/packet"
	"github.com/logtide/logtide/telemetry"
)

// clientVersion is reported to the proxy inside the handshake request.
const clientVersion = "logtide-go/0.2.0"

// Client maintains the subscription to the log proxy: dial, handshake,
// decode, deliver, and reconnect with exponential backoff on transport
// faults. Decoded records surface on Records(); the first fatal error
// surfaces on Err(). Decoder state is per connection attempt, the
// delivery queue is not, so queued records survive reconnects.
type Client struct {
	addr string
	sub  *cfg.SubscriptionConfiguration
	dec  RecordDecoder

	queue *TransferQueue
	stats *Stats

	version           packet.Version
	clientID          string
	enableMonitor     bool
	ignoreUnknown     bool
	discardAfter      int
	readBufBytes      int
	connectTimeout    time.Duration
	idleTimeout       time.Duration
	reconnectInterval time.Duration
	maxBackoff        time.Duration
	maxAttempts       int

	ready     *future.Promise[*packet.HandshakeResponse]
	readyFut  *future.Future[*packet.HandshakeResponse]
	readyOnce sync.Once

	onStatus func(*packet.RuntimeStatus)

	errMu sync.Mutex
	err   error

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	doneCh   chan struct{}
	doneOnce sync.Once
}

// NewClient builds a client for one subscription. A nil dec selects the
// standard log record decoder; tunables come from the loaded config.
func NewClient(proxyAddr string, sub *cfg.SubscriptionConfiguration, dec RecordDecoder) *Client {
	if dec == nil {
		dec = logmsg.NewDecoder(cfg.Config.Stream.SchemaCacheSize)
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := future.NewPromise[*packet.HandshakeResponse]()
	return &Client{
		addr:              proxyAddr,
		sub:               sub,
		dec:               dec,
		queue:             NewTransferQueue(cfg.Config.Stream.QueueSize),
		stats:             newStats(),
		doneCh:            make(chan struct{}),
		version:           packet.Version(cfg.Config.Stream.ProtocolVersion),
		clientID:          cfg.Config.Proxy.ClientID,
		enableMonitor:     cfg.Config.Stream.EnableMonitor,
		ignoreUnknown:     cfg.Config.Stream.IgnoreUnknownRecordTypes,
		discardAfter:      cfg.Config.Stream.DiscardAfterReads,
		readBufBytes:      cfg.Config.Stream.ReadBufferKB << 10,
		connectTimeout:    time.Duration(cfg.Config.Proxy.ConnectTimeoutMS) * time.Millisecond,
		idleTimeout:       time.Duration(cfg.Config.Stream.IdleTimeoutSeconds) * time.Second,
		reconnectInterval: time.Duration(cfg.Config.Stream.ReconnectIntervalMS) * time.Millisecond,
		maxBackoff:        time.Duration(cfg.Config.Stream.MaxBackoffSeconds) * time.Second,
		maxAttempts:       cfg.Config.Stream.MaxReconnectAttempts,
		ready:             p,
		readyFut:          p.Future(),
		ctx:               ctx,
		cancel:            cancel,
	}
}

// SetStatusHandler installs a callback for proxy runtime status frames.
// Call before Start; the callback runs on the decoding goroutine.
func (c *Client) SetStatusHandler(fn func(*packet.RuntimeStatus)) {
	c.onStatus = fn
}

// Start runs the connection loop until Stop is called, ctx is canceled,
// or a non-retryable error ends the stream. Run it on its own goroutine.
func (c *Client) Start(ctx context.Context) {
	c.wg.Add(1)
	defer c.wg.Done()
	defer c.doneOnce.Do(func() { close(c.doneCh) })

	backoff := c.reconnectInterval
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.ctx.Done():
			return
		default:
		}

		ready, err := c.runAttempt(ctx)
		if ready {
			backoff = c.reconnectInterval
			attempts = 0
		}
		if err == nil || errors.Is(err, ErrStopped) || errors.Is(err, context.Canceled) {
			return
		}
		if ctx.Err() != nil || c.ctx.Err() != nil {
			return
		}
		if code := ErrorCode(err); code != 0 {
			telemetry.DecodeErrorsTotal.With(code.String()).Inc()
		}
		if !Retryable(err) {
			c.fail(err)
			return
		}

		attempts++
		c.stats.recordReconnect()
		telemetry.ReconnectsTotal.Inc()
		if c.maxAttempts > 0 && attempts >= c.maxAttempts {
			c.fail(exhaustedErr(attempts, err))
			return
		}

		log.Warn().Err(err).Dur("retry_in", backoff).Msg("Stream disconnected, will reconnect")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		case <-c.ctx.Done():
			return
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

// runAttempt drives one connection from dial to teardown. ready reports
// whether the handshake completed, which resets the backoff schedule.
func (c *Client) runAttempt(ctx context.Context) (ready bool, err error) {
	nc, err := dialProxy(ctx, c.addr, c.connectTimeout)
	if err != nil {
		return false, err
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	emit := func(rec *logmsg.Record) error {
		if err := c.queue.Put(attemptCtx, rec); err != nil {
			return err
		}
		c.stats.recordDelivered(rec)
		telemetry.RecordsDeliveredTotal.Inc()
		return nil
	}
	batch := &batchProcessor{dec: c.dec, ignoreUnknown: c.ignoreUnknown, emit: emit, stats: c.stats}

	handshook := false
	onReady := func(resp *packet.HandshakeResponse) {
		handshook = true
		c.resolveReady(resp, nil)
	}

	var dec wireDecoder
	if c.version.Legacy() {
		dec = newLegacyDecoder(batch, c.discardAfter)
	} else {
		dec = newFrameDecoder(batch, c.discardAfter, onReady, c.onStatus)
	}

	cn := newConn(nc, dec, c.idleTimeout, c.readBufBytes)
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-attemptCtx.Done():
			cn.close()
		case <-c.ctx.Done():
			cn.close()
		case <-watchDone:
		}
	}()
	defer func() {
		cn.close()
		telemetry.ConnectionUp.Set(0)
	}()

	req := &packet.ClientHandshakeRequest{
		LogType:       c.logType(),
		IP:            cn.localIP(),
		ID:            c.clientID,
		Version:       clientVersion,
		EnableMonitor: c.enableMonitor,
		Configuration: c.sub.ConfigString(),
	}
	if err := cn.sendHandshake(c.version, req, c.connectTimeout); err != nil {
		return false, err
	}

	log.Info().
		Str("proxy", c.addr).
		Str("protocol", c.version.String()).
		Str("client_id", c.clientID).
		Msg("Connected to proxy, handshake sent")
	telemetry.ConnectionUp.Set(1)

	if c.version.Legacy() {
		// Pre-v2 proxies send no handshake ack; an accepted connection
		// goes straight to record frames.
		handshook = true
		c.resolveReady(&packet.HandshakeResponse{}, nil)
	}

	err = cn.readLoop(attemptCtx)
	return handshook, err
}

// Stop tears the client down. After it returns no further records are
// put, though consumers may still drain what is already queued.
func (c *Client) Stop() {
	c.cancel()
	c.queue.Stop()
	c.wg.Wait()
	c.queue.Close()
	c.resolveReady(nil, ErrStopped)
}

// Records exposes the delivery queue. The channel closes after Stop;
// records buffered before the stop remain receivable until drained.
func (c *Client) Records() <-chan *logmsg.Record {
	return c.queue.Out()
}

// Done is closed once the connection loop has exited, whether by Stop
// or by a fatal error. Err distinguishes the two.
func (c *Client) Done() <-chan struct{} {
	return c.doneCh
}

// WaitReady blocks until the first handshake completes, the client stops
// or fails fatally, or ctx expires.
func (c *Client) WaitReady(ctx context.Context) (*packet.HandshakeResponse, error) {
	type outcome struct {
		resp *packet.HandshakeResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := c.readyFut.Get()
		done <- outcome{resp, err}
	}()
	select {
	case o := <-done:
		return o.resp, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Err returns the fatal error that stopped the stream, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Stats returns the client's delivery counters.
func (c *Client) Stats() *Stats {
	return c.stats
}

// QueueDepth returns the current delivery queue occupancy.
func (c *Client) QueueDepth() int {
	return c.queue.Len()
}

func (c *Client) resolveReady(resp *packet.HandshakeResponse, err error) {
	c.readyOnce.Do(func() { c.ready.Set(resp, err) })
}

func (c *Client) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
	c.resolveReady(nil, err)
	log.Error().Err(err).Msg("Stream stopped on fatal error")
}

func (c *Client) logType() int32 {
	t, err := logmsg.ParseDBType(c.sub.Source)
	if err != nil {
		return int32(logmsg.DBUnknown)
	}
	return int32(t)
}
