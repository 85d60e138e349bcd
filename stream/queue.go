package stream

import (
	"context"
	"sync"
	"time"

	"github.com/logtide/logtide/logmsg"
	"github.com/logtide/logtide/telemetry"
)

// TransferQueue is the bounded hand-off between the decoding goroutine
// and record consumers. Put blocks when the queue is full; that stall
// propagates through the decoder to the socket read and is the only
// backpressure mechanism in the client. Records are never dropped or
// reordered. The queue outlives individual connection attempts, so
// records queued before a reconnect stay consumable.
type TransferQueue struct {
	ch        chan *logmsg.Record
	stopCh    chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
}

// NewTransferQueue creates a queue holding at most size records.
func NewTransferQueue(size int) *TransferQueue {
	if size <= 0 {
		size = 1
	}
	return &TransferQueue{
		ch:     make(chan *logmsg.Record, size),
		stopCh: make(chan struct{}),
	}
}

// Put appends rec, blocking until space frees, the queue is stopped, or
// ctx is canceled. A nil error means the record was enqueued.
func (q *TransferQueue) Put(ctx context.Context, rec *logmsg.Record) error {
	select {
	case <-q.stopCh:
		return ErrStopped
	default:
	}

	select {
	case q.ch <- rec:
		telemetry.QueueDepth.Set(float64(len(q.ch)))
		return nil
	default:
	}

	start := time.Now()
	select {
	case q.ch <- rec:
		telemetry.QueuePutBlockSeconds.Observe(time.Since(start).Seconds())
		telemetry.QueueDepth.Set(float64(len(q.ch)))
		return nil
	case <-q.stopCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Take removes the oldest record, blocking until one is available or ctx
// is canceled. Returns ErrStopped once the queue is closed and drained.
func (q *TransferQueue) Take(ctx context.Context) (*logmsg.Record, error) {
	select {
	case rec, ok := <-q.ch:
		if !ok {
			return nil, ErrStopped
		}
		return rec, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Out exposes the queue for range-style consumption. The channel is
// closed after Close, once buffered records have been drained.
func (q *TransferQueue) Out() <-chan *logmsg.Record {
	return q.ch
}

// Len returns the number of queued records.
func (q *TransferQueue) Len() int {
	return len(q.ch)
}

// Stop rejects further puts, releasing any producer blocked in Put.
// Queued records remain consumable.
func (q *TransferQueue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
}

// Close closes the consumer channel. Call only after Stop and after the
// producing goroutine has exited.
func (q *TransferQueue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}
