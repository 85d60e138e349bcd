package stream

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/logtide/logtide/logmsg"
)

// TableStat is a snapshot of one table's delivery counters.
type TableStat struct {
	Delivered     uint64
	LastTimestamp int64
}

type tableCounter struct {
	delivered atomic.Uint64
	lastTS    atomic.Int64
}

// Stats tracks client-level delivery counters. The decoding goroutine
// writes while monitor handlers read, so everything is atomic or backed
// by a concurrent map.
type Stats struct {
	delivered  atomic.Uint64
	skipped    atomic.Uint64
	reconnects atomic.Uint64
	tables     *xsync.MapOf[string, *tableCounter]
}

func newStats() *Stats {
	return &Stats{tables: xsync.NewMapOf[string, *tableCounter]()}
}

func (s *Stats) recordDelivered(rec *logmsg.Record) {
	s.delivered.Add(1)
	key := rec.TableKey()
	if key == "." {
		return // heartbeat and transaction markers carry no table
	}
	tc, _ := s.tables.LoadOrStore(key, &tableCounter{})
	tc.delivered.Add(1)
	tc.lastTS.Store(rec.Timestamp)
}

func (s *Stats) recordSkipped() {
	s.skipped.Add(1)
}

func (s *Stats) recordReconnect() {
	s.reconnects.Add(1)
}

// Delivered returns the total number of records handed to the queue.
func (s *Stats) Delivered() uint64 { return s.delivered.Load() }

// Skipped returns the number of entries dropped by the
// ignore_unknown_record_types path.
func (s *Stats) Skipped() uint64 { return s.skipped.Load() }

// Reconnects returns the number of reconnect attempts made.
func (s *Stats) Reconnects() uint64 { return s.reconnects.Load() }

// Tables returns a point-in-time copy of the per-table counters.
func (s *Stats) Tables() map[string]TableStat {
	out := make(map[string]TableStat)
	s.tables.Range(func(key string, tc *tableCounter) bool {
		out[key] = TableStat{
			Delivered:     tc.delivered.Load(),
			LastTimestamp: tc.lastTS.Load(),
		}
		return true
	})
	return out
}
