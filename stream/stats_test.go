package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/logtide/logtide/logmsg"
)

func TestStatsPerTableCounters(t *testing.T) {
	s := newStats()
	s.recordDelivered(&logmsg.Record{Database: "shop", Table: "users", Timestamp: 100})
	s.recordDelivered(&logmsg.Record{Database: "shop", Table: "users", Timestamp: 250})
	s.recordDelivered(&logmsg.Record{Database: "shop", Table: "orders", Timestamp: 90})

	assert.Equal(t, uint64(3), s.Delivered())

	tables := s.Tables()
	assert.Equal(t, uint64(2), tables["shop.users"].Delivered)
	assert.Equal(t, int64(250), tables["shop.users"].LastTimestamp)
	assert.Equal(t, uint64(1), tables["shop.orders"].Delivered)
}

func TestStatsHeartbeatNotTracked(t *testing.T) {
	s := newStats()
	s.recordDelivered(&logmsg.Record{Op: logmsg.OpHeartbeat, Timestamp: 5})

	assert.Equal(t, uint64(1), s.Delivered(), "heartbeats count toward the total")
	assert.Empty(t, s.Tables(), "no per-table entry without a table name")
}

func TestStatsSkippedAndReconnects(t *testing.T) {
	s := newStats()
	s.recordSkipped()
	s.recordSkipped()
	s.recordReconnect()

	assert.Equal(t, uint64(2), s.Skipped())
	assert.Equal(t, uint64(1), s.Reconnects())
	assert.Equal(t, uint64(0), s.Delivered())
}
