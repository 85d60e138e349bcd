package stream

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logtide/logtide/cfg"
	"github.com/logtide/logtide/logmsg"
	"github.com/logtide/logtide/packet"
	"github.com/logtide/logtide/proxytest"
)

// useTestConfig swaps the global config for fast test tunables and
// restores it when the test ends.
func useTestConfig(t *testing.T, mutate func(*cfg.Configuration)) {
	t.Helper()
	saved := *cfg.Config
	t.Cleanup(func() { *cfg.Config = saved })

	cfg.Config.Proxy.ClientID = "it-client"
	cfg.Config.Proxy.ConnectTimeoutMS = 2000
	cfg.Config.Stream.ProtocolVersion = 2
	cfg.Config.Stream.IdleTimeoutSeconds = 5
	cfg.Config.Stream.ReconnectIntervalMS = 20
	cfg.Config.Stream.MaxBackoffSeconds = 1
	cfg.Config.Stream.MaxReconnectAttempts = 0
	cfg.Config.Stream.QueueSize = 256
	cfg.Config.Stream.DiscardAfterReads = 4
	cfg.Config.Stream.ReadBufferKB = 16
	cfg.Config.Stream.SchemaCacheSize = 64
	cfg.Config.Subscription = cfg.SubscriptionConfiguration{
		Source:         "mysql",
		TableWhitelist: []string{"shop.*"},
	}
	if mutate != nil {
		mutate(cfg.Config)
	}
}

func itemSchema() *logmsg.TableSchema {
	return &logmsg.TableSchema{Columns: []logmsg.Column{
		{Name: "id", Type: logmsg.ColLongLong, PK: true, NotNull: true},
		{Name: "sku", Type: logmsg.ColVarchar, NotNull: true},
	}}
}

func itemInsert(id, sku string, offset uint64) *logmsg.Record {
	return &logmsg.Record{
		Op:           logmsg.OpInsert,
		Source:       logmsg.DBMySQL,
		Timestamp:    1721980800,
		CommitOffset: offset,
		Database:     "shop",
		Table:        "items",
		Schema:       itemSchema(),
		New: []logmsg.Value{
			{Data: []byte(id)},
			{Data: []byte(sku)},
		},
	}
}

func startClient(c *Client) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop in time")
	}
}

func recvRecords(t *testing.T, ch <-chan *logmsg.Record, n int) []*logmsg.Record {
	t.Helper()
	out := make([]*logmsg.Record, 0, n)
	deadline := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case rec, ok := <-ch:
			require.True(t, ok, "records channel closed early")
			out = append(out, rec)
		case <-deadline:
			t.Fatalf("timed out waiting for %d records, have %d", n, len(out))
		}
	}
	return out
}

func waitReady(t *testing.T, c *Client) *packet.HandshakeResponse {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.WaitReady(ctx)
	require.NoError(t, err, "handshake should complete")
	return resp
}

func TestClientEndToEndDelivery(t *testing.T) {
	proxy, err := proxytest.Start(proxytest.Script{
		Batches: [][]*logmsg.Record{
			{itemInsert("1", "alpha", 10), itemInsert("2", "beta", 11)},
			{itemInsert("3", "gamma", 12)},
		},
		HoldOpen: true,
	})
	require.NoError(t, err)
	defer proxy.Stop()

	useTestConfig(t, nil)
	c := NewClient(proxy.Addr(), &cfg.Config.Subscription, nil)
	done := startClient(c)

	resp := waitReady(t, c)
	assert.Equal(t, "proxytest", resp.Version)

	recs := recvRecords(t, c.Records(), 3)
	first := recs[0]
	assert.Equal(t, logmsg.OpInsert, first.Op)
	assert.Equal(t, "shop", first.Database)
	assert.Equal(t, "items", first.Table)
	assert.Equal(t, uint64(10), first.CommitOffset)
	require.Len(t, first.New, 2)
	assert.Equal(t, "1", first.New[0].Text())
	assert.Equal(t, "alpha", first.New[1].Text())
	require.NotNil(t, first.Schema)
	assert.Equal(t, "id", first.Schema.Columns[0].Name)
	assert.True(t, first.Schema.Columns[0].PK)

	assert.Equal(t, "gamma", recs[2].New[1].Text())

	assert.Equal(t, uint64(3), c.Stats().Delivered())
	assert.Equal(t, uint64(3), c.Stats().Tables()["shop.items"].Delivered)

	hs := proxy.Handshakes()
	require.Len(t, hs, 1)
	assert.Equal(t, "it-client", hs[0].ID)
	assert.Equal(t, clientVersion, hs[0].Version)
	assert.Equal(t, int32(logmsg.DBMySQL), hs[0].LogType)
	assert.Contains(t, hs[0].Configuration, "source=mysql")
	assert.Contains(t, hs[0].Configuration, "tb_white_list=shop.*")

	c.Stop()
	waitDone(t, done)
}

func TestClientRefusedHandshakeIsFatal(t *testing.T) {
	proxy, err := proxytest.Start(proxytest.Script{
		Refuse: &packet.ErrorResponse{Code: 401, Message: "unknown client id"},
	})
	require.NoError(t, err)
	defer proxy.Stop()

	useTestConfig(t, nil)
	c := NewClient(proxy.Addr(), &cfg.Config.Subscription, nil)
	done := startClient(c)
	waitDone(t, done)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, werr := c.WaitReady(ctx)
	require.Error(t, werr)
	assert.Equal(t, CodeAuthRefused, ErrorCode(werr))
	assert.Contains(t, werr.Error(), "unknown client id")

	require.Error(t, c.Err())
	assert.Equal(t, CodeAuthRefused, ErrorCode(c.Err()))
	assert.False(t, Retryable(c.Err()))
	c.Stop()
}

func TestClientReconnectsAfterStreamDrop(t *testing.T) {
	proxy, err := proxytest.Start(
		proxytest.Script{Batches: [][]*logmsg.Record{{itemInsert("1", "alpha", 20)}}},
		proxytest.Script{Batches: [][]*logmsg.Record{{itemInsert("2", "beta", 21)}}, HoldOpen: true},
	)
	require.NoError(t, err)
	defer proxy.Stop()

	useTestConfig(t, nil)
	c := NewClient(proxy.Addr(), &cfg.Config.Subscription, nil)
	done := startClient(c)

	recs := recvRecords(t, c.Records(), 2)
	assert.Equal(t, "alpha", recs[0].New[1].Text())
	assert.Equal(t, "beta", recs[1].New[1].Text())

	assert.Equal(t, 2, proxy.Conns())
	assert.GreaterOrEqual(t, c.Stats().Reconnects(), uint64(1))
	require.NoError(t, c.Err(), "a dropped stream is not fatal")

	c.Stop()
	waitDone(t, done)
}

func TestClientIdleTimeoutReconnects(t *testing.T) {
	// The first connection acks the handshake and then goes silent; the
	// read deadline must turn that silence into a reconnect, not a
	// surfaced error.
	proxy, err := proxytest.Start(
		proxytest.Script{HoldOpen: true},
		proxytest.Script{Batches: [][]*logmsg.Record{{itemInsert("4", "revived", 25)}}, HoldOpen: true},
	)
	require.NoError(t, err)
	defer proxy.Stop()

	useTestConfig(t, func(c *cfg.Configuration) {
		c.Stream.IdleTimeoutSeconds = 1
	})
	c := NewClient(proxy.Addr(), &cfg.Config.Subscription, nil)
	done := startClient(c)

	recs := recvRecords(t, c.Records(), 1)
	assert.Equal(t, "revived", recs[0].New[1].Text())

	assert.GreaterOrEqual(t, proxy.Conns(), 2)
	assert.GreaterOrEqual(t, c.Stats().Reconnects(), uint64(1))
	require.NoError(t, c.Err(), "an idle stream is a soft failure")

	c.Stop()
	waitDone(t, done)
}

func TestClientLegacyProtocol(t *testing.T) {
	proxy, err := proxytest.Start(proxytest.Script{
		Batches:  [][]*logmsg.Record{{itemInsert("7", "legacy", 30)}},
		HoldOpen: true,
	})
	require.NoError(t, err)
	defer proxy.Stop()

	useTestConfig(t, func(c *cfg.Configuration) {
		c.Stream.ProtocolVersion = 1
	})
	c := NewClient(proxy.Addr(), &cfg.Config.Subscription, nil)
	done := startClient(c)

	// Legacy proxies send no handshake ack, so readiness means the
	// handshake went out.
	waitReady(t, c)

	recs := recvRecords(t, c.Records(), 1)
	assert.Equal(t, "legacy", recs[0].New[1].Text())
	assert.Equal(t, "shop.items", recs[0].TableKey())

	c.Stop()
	waitDone(t, done)
}

func TestClientCompressedBatches(t *testing.T) {
	batch := make([]*logmsg.Record, 20)
	for i := range batch {
		batch[i] = itemInsert("9", "repetitive-sku-value", uint64(40+i))
	}
	proxy, err := proxytest.Start(proxytest.Script{
		Batches:  [][]*logmsg.Record{batch},
		Compress: true,
		HoldOpen: true,
	})
	require.NoError(t, err)
	defer proxy.Stop()

	useTestConfig(t, nil)
	c := NewClient(proxy.Addr(), &cfg.Config.Subscription, nil)
	done := startClient(c)

	recs := recvRecords(t, c.Records(), 20)
	assert.Equal(t, uint64(40), recs[0].CommitOffset)
	assert.Equal(t, uint64(59), recs[19].CommitOffset)

	c.Stop()
	waitDone(t, done)
}

func TestClientReassemblesChunkedFrames(t *testing.T) {
	proxy, err := proxytest.Start(proxytest.Script{
		Batches:    [][]*logmsg.Record{{itemInsert("1", "alpha", 50), itemInsert("2", "beta", 51)}},
		ChunkBytes: 5,
		HoldOpen:   true,
	})
	require.NoError(t, err)
	defer proxy.Stop()

	useTestConfig(t, nil)
	c := NewClient(proxy.Addr(), &cfg.Config.Subscription, nil)
	done := startClient(c)

	recs := recvRecords(t, c.Records(), 2)
	assert.Equal(t, "alpha", recs[0].New[1].Text())
	assert.Equal(t, "beta", recs[1].New[1].Text())

	c.Stop()
	waitDone(t, done)
}

func TestClientStopClosesRecords(t *testing.T) {
	proxy, err := proxytest.Start(proxytest.Script{
		Batches:  [][]*logmsg.Record{{itemInsert("1", "alpha", 60)}},
		HoldOpen: true,
	})
	require.NoError(t, err)
	defer proxy.Stop()

	useTestConfig(t, nil)
	c := NewClient(proxy.Addr(), &cfg.Config.Subscription, nil)
	done := startClient(c)

	recvRecords(t, c.Records(), 1)
	c.Stop()
	waitDone(t, done)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-c.Records():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("records channel never closed after Stop")
		}
	}
}

func TestClientExhaustsReconnectAttempts(t *testing.T) {
	// A just-closed listener leaves a port that refuses connections.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	useTestConfig(t, func(c *cfg.Configuration) {
		c.Stream.MaxReconnectAttempts = 2
		c.Stream.ReconnectIntervalMS = 10
	})
	c := NewClient(addr, &cfg.Config.Subscription, nil)
	done := startClient(c)
	waitDone(t, done)

	require.Error(t, c.Err())
	assert.Equal(t, CodeReconnectExhausted, ErrorCode(c.Err()))
	assert.False(t, Retryable(c.Err()))
	c.Stop()
}
