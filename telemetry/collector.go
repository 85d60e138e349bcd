package telemetry

import (
	"sync"
	"time"
)

// StreamDepthProvider reports the delivery queue occupancy.
type StreamDepthProvider interface {
	QueueDepth() int
}

// SinkDepthProvider reports fan-out buffer occupancy per sink.
type SinkDepthProvider interface {
	SinkQueueDepths() map[string]int
}

// MetricsCollector periodically samples queue depths into gauges. The
// hot paths update depth gauges on traffic; the sampler keeps them
// current while the pipeline idles or drains.
type MetricsCollector struct {
	stream   StreamDepthProvider
	sinks    SinkDepthProvider
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector. Either provider
// may be nil.
func NewMetricsCollector(stream StreamDepthProvider, sinks SinkDepthProvider, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		stream:   stream,
		sinks:    sinks,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.stream != nil {
		QueueDepth.Set(float64(mc.stream.QueueDepth()))
	}
	if mc.sinks != nil {
		for name, depth := range mc.sinks.SinkQueueDepths() {
			WorkerQueueDepth.With(name).Set(float64(depth))
		}
	}
}
