package publisher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/logtide/logtide/logmsg"
)

// Mock implementations for testing

type mockSink struct {
	mu        sync.Mutex
	events    []mockPublishCall
	failCount atomic.Int32 // Number of times to fail before succeeding
	failWith  error        // Permanent failure when set
	closed    atomic.Bool
}

type mockPublishCall struct {
	topic string
	key   string
	value []byte
}

func (m *mockSink) Publish(topic, key string, value []byte) error {
	if m.failWith != nil {
		return m.failWith
	}
	if m.failCount.Load() > 0 {
		m.failCount.Add(-1)
		return fmt.Errorf("mock publish failure")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, mockPublishCall{topic: topic, key: key, value: value})
	return nil
}

func (m *mockSink) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *mockSink) getEvents() []mockPublishCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]mockPublishCall, len(m.events))
	copy(result, m.events)
	return result
}

func (m *mockSink) eventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type mockTransformer struct{}

func (m *mockTransformer) Transform(rec *logmsg.Record) ([]byte, error) {
	return []byte(fmt.Sprintf("transformed:%s:%d", rec.TableKey(), rec.CommitOffset)), nil
}

func (m *mockTransformer) Tombstone(key string) []byte {
	return nil
}

type failingTransformer struct{}

func (f *failingTransformer) Transform(rec *logmsg.Record) ([]byte, error) {
	return nil, fmt.Errorf("mock transform failure")
}

func (f *failingTransformer) Tombstone(key string) []byte { return nil }

type mockFilter struct {
	allowed map[string]bool
}

func (m *mockFilter) Match(database, table string) bool {
	if m.allowed == nil {
		return true
	}
	return m.allowed[database+"."+table]
}

func pkSchema() *logmsg.TableSchema {
	return &logmsg.TableSchema{Columns: []logmsg.Column{
		{Name: "id", Type: logmsg.ColLongLong, PK: true, NotNull: true},
		{Name: "name", Type: logmsg.ColVarchar},
	}}
}

func changeRecord(op logmsg.Op, table string, offset uint64) *logmsg.Record {
	rec := &logmsg.Record{
		Op:           op,
		Source:       logmsg.DBMySQL,
		Timestamp:    1721980800,
		CommitOffset: offset,
		Database:     "shop",
		Table:        table,
		Schema:       pkSchema(),
	}
	img := []logmsg.Value{{Data: []byte(fmt.Sprintf("%d", offset))}, {Data: []byte("row")}}
	if op == logmsg.OpDelete {
		rec.Old = img
	} else if op.HasValues() {
		rec.New = img
	}
	return rec
}

func testWorker(t *testing.T, config WorkerConfig) *Worker {
	t.Helper()
	if config.Name == "" {
		config.Name = "test"
	}
	if config.Transformer == nil {
		config.Transformer = &mockTransformer{}
	}
	if config.Filter == nil {
		config.Filter = &mockFilter{}
	}
	if config.RetryInitial == 0 {
		config.RetryInitial = time.Millisecond
	}
	if config.RetryMax == 0 {
		config.RetryMax = 5 * time.Millisecond
	}
	w, err := NewWorker(config)
	if err != nil {
		t.Fatalf("NewWorker failed: %v", err)
	}
	return w
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestNewWorker_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      WorkerConfig
		expectError bool
	}{
		{
			name:        "missing name",
			config:      WorkerConfig{},
			expectError: true,
		},
		{
			name:        "missing sink",
			config:      WorkerConfig{Name: "test"},
			expectError: true,
		},
		{
			name: "missing transformer",
			config: WorkerConfig{
				Name: "test",
				Sink: &mockSink{},
			},
			expectError: true,
		},
		{
			name: "missing filter",
			config: WorkerConfig{
				Name:        "test",
				Sink:        &mockSink{},
				Transformer: &mockTransformer{},
			},
			expectError: true,
		},
		{
			name: "valid config",
			config: WorkerConfig{
				Name:        "test",
				Sink:        &mockSink{},
				Transformer: &mockTransformer{},
				Filter:      &mockFilter{},
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWorker(tt.config)
			if tt.expectError && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestNewWorker_Defaults(t *testing.T) {
	w := testWorker(t, WorkerConfig{Sink: &mockSink{}, RetryInitial: 0, RetryMax: 0})
	if w.config.BufferSize != DefaultBufferSize {
		t.Errorf("expected default buffer size %d, got %d", DefaultBufferSize, w.config.BufferSize)
	}
	if w.config.MaxRetries != DefaultMaxRetries {
		t.Errorf("expected default max retries %d, got %d", DefaultMaxRetries, w.config.MaxRetries)
	}
}

func TestWorkerPublishesRecords(t *testing.T) {
	snk := &mockSink{}
	w := testWorker(t, WorkerConfig{Sink: snk, TopicPrefix: "cdc"})

	w.Start()
	w.enqueue(changeRecord(logmsg.OpInsert, "users", 1))
	w.enqueue(changeRecord(logmsg.OpUpdate, "users", 2))

	waitFor(t, func() bool { return snk.eventCount() == 2 }, "records never reached the sink")
	w.Stop()

	events := snk.getEvents()
	if events[0].topic != "cdc.shop.users" {
		t.Errorf("expected topic cdc.shop.users, got %s", events[0].topic)
	}
	if events[0].key != "shop.users/1" {
		t.Errorf("expected key shop.users/1, got %s", events[0].key)
	}
	if string(events[0].value) != "transformed:shop.users:1" {
		t.Errorf("unexpected payload %q", events[0].value)
	}
	if w.Published() != 2 {
		t.Errorf("expected 2 published, got %d", w.Published())
	}
}

func TestWorkerSkipsStreamMarkers(t *testing.T) {
	snk := &mockSink{}
	w := testWorker(t, WorkerConfig{Sink: snk})

	w.Start()
	w.enqueue(&logmsg.Record{Op: logmsg.OpHeartbeat})
	w.enqueue(&logmsg.Record{Op: logmsg.OpBegin})
	w.enqueue(&logmsg.Record{Op: logmsg.OpCommit})
	w.enqueue(changeRecord(logmsg.OpInsert, "users", 1))

	waitFor(t, func() bool { return snk.eventCount() == 1 }, "insert never reached the sink")
	w.Stop()

	if w.Published() != 1 {
		t.Errorf("expected 1 published, got %d", w.Published())
	}
}

func TestWorkerFiltersTables(t *testing.T) {
	snk := &mockSink{}
	w := testWorker(t, WorkerConfig{
		Sink:   snk,
		Filter: &mockFilter{allowed: map[string]bool{"shop.users": true}},
	})

	w.Start()
	w.enqueue(changeRecord(logmsg.OpInsert, "orders", 1))
	w.enqueue(changeRecord(logmsg.OpInsert, "users", 2))

	waitFor(t, func() bool { return snk.eventCount() == 1 }, "allowed record never reached the sink")
	w.Stop()

	events := snk.getEvents()
	if events[0].topic != "shop.users" {
		t.Errorf("expected shop.users, got %s", events[0].topic)
	}
	if w.Filtered() != 1 {
		t.Errorf("expected 1 filtered, got %d", w.Filtered())
	}
}

func TestWorkerRetriesTransientFailures(t *testing.T) {
	snk := &mockSink{}
	snk.failCount.Store(2)
	w := testWorker(t, WorkerConfig{Sink: snk})

	w.Start()
	w.enqueue(changeRecord(logmsg.OpInsert, "users", 1))

	waitFor(t, func() bool { return snk.eventCount() == 1 }, "record never published after retries")
	w.Stop()

	if w.Dropped() != 0 {
		t.Errorf("expected 0 dropped, got %d", w.Dropped())
	}
}

func TestWorkerDropsAfterMaxRetries(t *testing.T) {
	snk := &mockSink{failWith: fmt.Errorf("sink is down")}
	w := testWorker(t, WorkerConfig{Sink: snk, MaxRetries: 3})

	w.Start()
	w.enqueue(changeRecord(logmsg.OpInsert, "users", 1))

	waitFor(t, func() bool { return w.Dropped() == 1 }, "record never dropped")
	w.Stop()

	if snk.eventCount() != 0 {
		t.Errorf("expected no events, got %d", snk.eventCount())
	}
	if w.Published() != 0 {
		t.Errorf("expected 0 published, got %d", w.Published())
	}
}

func TestWorkerDropsUntransformableRecord(t *testing.T) {
	snk := &mockSink{}
	w := testWorker(t, WorkerConfig{Sink: snk, Transformer: &failingTransformer{}})

	w.Start()
	w.enqueue(changeRecord(logmsg.OpInsert, "users", 1))

	waitFor(t, func() bool { return w.Dropped() == 1 }, "record never dropped")
	w.Stop()
}

func TestWorkerDeleteEmitsTombstone(t *testing.T) {
	snk := &mockSink{}
	w := testWorker(t, WorkerConfig{Sink: snk})

	w.Start()
	w.enqueue(changeRecord(logmsg.OpDelete, "users", 9))

	waitFor(t, func() bool { return snk.eventCount() == 2 }, "delete and tombstone never arrived")
	w.Stop()

	events := snk.getEvents()
	if events[0].key != events[1].key {
		t.Errorf("tombstone key %q differs from delete key %q", events[1].key, events[0].key)
	}
	if events[1].value != nil {
		t.Errorf("expected nil tombstone payload, got %q", events[1].value)
	}
	if events[0].key != "shop.users/9" {
		t.Errorf("delete must key off the old image, got %s", events[0].key)
	}
}

func TestWorkerStopFlushesBuffer(t *testing.T) {
	snk := &mockSink{}
	w := testWorker(t, WorkerConfig{Sink: snk, BufferSize: 64})

	w.Start()
	for i := 0; i < 50; i++ {
		w.enqueue(changeRecord(logmsg.OpInsert, "users", uint64(i)))
	}
	w.Stop()

	if snk.eventCount() != 50 {
		t.Errorf("expected all 50 records flushed on stop, got %d", snk.eventCount())
	}
}

func TestWorkerStopLifecycle(t *testing.T) {
	w := testWorker(t, WorkerConfig{Sink: &mockSink{}})

	// Stop before start is a no-op.
	w.Stop()

	w.Start()
	w.Start() // double start is a no-op
	w.Stop()

	if w.enqueue(changeRecord(logmsg.OpInsert, "users", 1)) {
		t.Error("enqueue must refuse records after stop")
	}
}

func TestRoutingKey(t *testing.T) {
	rec := changeRecord(logmsg.OpInsert, "users", 7)
	if got := routingKey(rec); got != "shop.users/7" {
		t.Errorf("expected shop.users/7, got %s", got)
	}

	// Composite primary key
	rec.Schema = &logmsg.TableSchema{Columns: []logmsg.Column{
		{Name: "a", Type: logmsg.ColLong, PK: true},
		{Name: "b", Type: logmsg.ColVarchar, PK: true},
	}}
	rec.New = []logmsg.Value{{Data: []byte("1")}, {Data: []byte("x")}}
	if got := routingKey(rec); got != "shop.users/1|x" {
		t.Errorf("expected shop.users/1|x, got %s", got)
	}

	// No schema falls back to the table key
	rec.Schema = nil
	if got := routingKey(rec); got != "shop.users" {
		t.Errorf("expected shop.users, got %s", got)
	}

	// No primary key columns falls back to the table key
	rec = changeRecord(logmsg.OpInsert, "users", 7)
	rec.Schema = &logmsg.TableSchema{Columns: []logmsg.Column{{Name: "v", Type: logmsg.ColVarchar}}}
	if got := routingKey(rec); got != "shop.users" {
		t.Errorf("expected shop.users, got %s", got)
	}
}

func TestBuildTopic(t *testing.T) {
	w := testWorker(t, WorkerConfig{Sink: &mockSink{}, TopicPrefix: "cdc"})
	if got := w.buildTopic("shop", "users"); got != "cdc.shop.users" {
		t.Errorf("expected cdc.shop.users, got %s", got)
	}
	if got := w.buildTopic("shop", ""); got != "cdc.shop" {
		t.Errorf("expected cdc.shop, got %s", got)
	}

	w = testWorker(t, WorkerConfig{Sink: &mockSink{}})
	if got := w.buildTopic("shop", "users"); got != "shop.users" {
		t.Errorf("expected shop.users, got %s", got)
	}
}
