package publisher

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/logtide/logtide/logmsg"
	"github.com/logtide/logtide/telemetry"
)

const (
	// Default fan-out buffer per worker
	DefaultBufferSize = 4096
	// Default initial retry delay for failed publish operations
	DefaultRetryInitial = 100 * time.Millisecond
	// Default maximum retry delay (exponential backoff cap)
	DefaultRetryMax = 30 * time.Second
	// Default exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
	// Maximum number of retry attempts before dropping a record
	DefaultMaxRetries = 100
)

// WorkerConfig configures one sink worker
type WorkerConfig struct {
	Name            string        // Sink name (labels logs and metrics)
	Sink            Sink          // Destination sink
	Transformer     Transformer   // Record transformer
	Filter          Filter        // Record filter
	TopicPrefix     string        // Topic prefix (e.g., "cdc")
	BufferSize      int           // Fan-out buffer bound
	RetryInitial    time.Duration // Initial retry delay
	RetryMax        time.Duration // Max retry delay
	RetryMultiplier float64       // Backoff multiplier
	MaxRetries      int           // Maximum retry attempts (0 = default)
}

// Worker drains its fan-out buffer and publishes records to one sink.
// The buffer is bounded; a stalled sink backs pressure up through the
// dispatcher into the client's delivery queue.
type Worker struct {
	config WorkerConfig
	in     chan *logmsg.Record

	stopCh      chan struct{}
	doneCh      chan struct{}
	running     atomic.Bool
	lifecycleMu sync.Mutex

	published atomic.Uint64
	filtered  atomic.Uint64
	dropped   atomic.Uint64
}

// NewWorker creates a sink worker
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("worker name is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if config.Transformer == nil {
		return nil, fmt.Errorf("transformer is required")
	}
	if config.Filter == nil {
		return nil, fmt.Errorf("filter is required")
	}

	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 0 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	return &Worker{
		config: config,
		in:     make(chan *logmsg.Record, config.BufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start starts the worker goroutine
func (w *Worker) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return
	}
	w.running.Store(true)

	log.Info().
		Str("worker", w.config.Name).
		Int("buffer", cap(w.in)).
		Msg("Starting publisher worker")

	go w.drainLoop()
}

// Stop stops the worker, flushes what its buffer still holds, and
// closes the sink.
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Load() {
		return
	}

	close(w.stopCh)
	<-w.doneCh
	w.running.Store(false)

	if err := w.config.Sink.Close(); err != nil {
		log.Warn().Err(err).Str("worker", w.config.Name).Msg("Failed to close sink")
	}
	log.Info().Str("worker", w.config.Name).Msg("Publisher worker stopped")
}

// Published returns how many records reached the sink.
func (w *Worker) Published() uint64 { return w.published.Load() }

// Filtered returns how many records the filter rejected.
func (w *Worker) Filtered() uint64 { return w.filtered.Load() }

// Dropped returns how many records were lost to transform or publish
// failures.
func (w *Worker) Dropped() uint64 { return w.dropped.Load() }

// Queued returns the current fan-out buffer occupancy.
func (w *Worker) Queued() int { return len(w.in) }

// enqueue hands a record to the worker, blocking while the buffer is
// full. Returns false once the worker is stopping.
func (w *Worker) enqueue(rec *logmsg.Record) bool {
	// Check the stop channel first: once the drain loop has exited, a
	// buffered send would strand the record in a channel nobody reads.
	select {
	case <-w.stopCh:
		return false
	default:
	}

	select {
	case w.in <- rec:
		telemetry.WorkerQueueDepth.With(w.config.Name).Set(float64(len(w.in)))
		return true
	case <-w.stopCh:
		return false
	}
}

func (w *Worker) drainLoop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			// Flush whatever is already buffered. Retry sleeps abort
			// immediately once stopCh is closed, so a dead sink cannot
			// stall shutdown.
			for {
				select {
				case rec := <-w.in:
					w.process(rec)
				default:
					return
				}
			}
		case rec := <-w.in:
			telemetry.WorkerQueueDepth.With(w.config.Name).Set(float64(len(w.in)))
			w.process(rec)
		}
	}
}

// process publishes one record. Records that exhaust their retries are
// dropped with a log line; there is no durable local log to park them
// in, and wedging the worker would stall every other sink behind the
// shared dispatcher.
func (w *Worker) process(rec *logmsg.Record) {
	switch rec.Op {
	case logmsg.OpHeartbeat, logmsg.OpBegin, logmsg.OpCommit:
		// Stream liveness and transaction markers are not published.
		return
	}

	if !w.config.Filter.Match(rec.Database, rec.Table) {
		w.filtered.Add(1)
		telemetry.RecordsFilteredTotal.With(w.config.Name).Inc()
		return
	}

	data, err := w.config.Transformer.Transform(rec)
	if err != nil {
		w.dropped.Add(1)
		log.Error().
			Err(err).
			Str("worker", w.config.Name).
			Str("table", rec.TableKey()).
			Msg("Failed to transform record, dropping")
		return
	}

	topic := w.buildTopic(rec.Database, rec.Table)
	key := routingKey(rec)

	if err := w.publishWithRetry(topic, key, data); err != nil {
		w.dropped.Add(1)
		log.Error().
			Err(err).
			Str("worker", w.config.Name).
			Str("topic", topic).
			Msg("Dropping record after exhausted retries")
		return
	}
	w.published.Add(1)

	// DELETE also emits a tombstone so log-compacted topics shed the key.
	if rec.Op == logmsg.OpDelete {
		if err := w.publishWithRetry(topic, key, w.config.Transformer.Tombstone(key)); err != nil {
			log.Error().
				Err(err).
				Str("worker", w.config.Name).
				Str("topic", topic).
				Msg("Dropping tombstone after exhausted retries")
		}
	}
}

// buildTopic builds the topic name for a record. DDL records may carry
// no table name, in which case the topic stops at the database.
func (w *Worker) buildTopic(database, table string) string {
	parts := make([]string, 0, 3)
	if w.config.TopicPrefix != "" {
		parts = append(parts, w.config.TopicPrefix)
	}
	parts = append(parts, database)
	if table != "" {
		parts = append(parts, table)
	}
	return strings.Join(parts, ".")
}

// routingKey derives the partition key for a record: primary key values
// when the schema names any, the table key otherwise. Deletes key off
// the prior row image.
func routingKey(rec *logmsg.Record) string {
	img := rec.New
	if len(img) == 0 {
		img = rec.Old
	}
	if rec.Schema != nil && len(img) > 0 {
		if pks := rec.Schema.PKIndexes(); len(pks) > 0 {
			parts := make([]string, 0, len(pks))
			for _, idx := range pks {
				if idx < len(img) {
					parts = append(parts, img[idx].Text())
				}
			}
			return rec.TableKey() + "/" + strings.Join(parts, "|")
		}
	}
	return rec.TableKey()
}

// publishWithRetry publishes data with exponential backoff retry.
// Returns an error if max retries are exhausted or the worker stops.
func (w *Worker) publishWithRetry(topic, key string, data []byte) error {
	delay := w.config.RetryInitial
	attempts := 0

	for {
		start := time.Now()
		err := w.config.Sink.Publish(topic, key, data)
		telemetry.SinkPublishSeconds.With(w.config.Name).Observe(time.Since(start).Seconds())
		if err == nil {
			telemetry.SinkPublishTotal.With(w.config.Name, "success").Inc()
			return nil
		}
		telemetry.SinkPublishTotal.With(w.config.Name, "failed").Inc()

		attempts++
		if w.config.MaxRetries > 0 && attempts >= w.config.MaxRetries {
			return fmt.Errorf("exhausted max retries (%d) for topic %s: %w", w.config.MaxRetries, topic, err)
		}

		telemetry.SinkRetriesTotal.With(w.config.Name).Inc()
		log.Warn().
			Err(err).
			Str("worker", w.config.Name).
			Str("topic", topic).
			Int("attempt", attempts).
			Dur("retry_delay", delay).
			Msg("Failed to publish record, retrying")

		if !w.sleep(delay) {
			return fmt.Errorf("worker stopped during retry")
		}

		delay = time.Duration(float64(delay) * w.config.RetryMultiplier)
		if delay > w.config.RetryMax {
			delay = w.config.RetryMax
		}
	}
}

// sleep sleeps for the given duration, checking stopCh.
// Returns true if the sleep completed, false if stopped.
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
