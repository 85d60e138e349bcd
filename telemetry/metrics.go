package telemetry

// Histogram bucket definitions for different profiles
var (
	// DecodeBuckets for in-memory frame and batch decoding
	DecodeBuckets = []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1}

	// BlockBuckets for time spent blocked on the delivery queue
	BlockBuckets = []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60}

	// PublishBuckets for sink round trips (network + broker ack)
	PublishBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

	// BatchByteBuckets for raw batch sizes
	BatchByteBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304}
)

// Stream Metrics
var (
	// FramesTotal counts frames received by type (handshake_response, error_response, status, data)
	FramesTotal CounterVec = noopCounterVec{}

	// BytesReceivedTotal counts raw bytes fed into the frame decoder
	BytesReceivedTotal Counter = NoopStat{}

	// BatchesTotal counts record batches by compression (none, lz4)
	BatchesTotal CounterVec = noopCounterVec{}

	// BatchDecodeSeconds measures decompress+split time per batch
	BatchDecodeSeconds Histogram = NoopStat{}

	// BatchRawBytes measures decompressed batch sizes
	BatchRawBytes Histogram = NoopStat{}

	// RecordsDeliveredTotal counts records handed to the delivery queue
	RecordsDeliveredTotal Counter = NoopStat{}

	// RecordsSkippedTotal counts records dropped by the ignore-unknown path
	RecordsSkippedTotal Counter = NoopStat{}

	// QueueDepth tracks current delivery queue occupancy
	QueueDepth Gauge = NoopStat{}

	// QueuePutBlockSeconds measures producer time blocked on a full queue
	QueuePutBlockSeconds Histogram = NoopStat{}

	// DecodeErrorsTotal counts classified stream errors by code
	DecodeErrorsTotal CounterVec = noopCounterVec{}

	// ReconnectsTotal counts reconnect attempts
	ReconnectsTotal Counter = NoopStat{}

	// HandshakesTotal counts handshakes by result (ok, refused)
	HandshakesTotal CounterVec = noopCounterVec{}

	// ConnectionUp indicates whether a proxy connection is established
	ConnectionUp Gauge = NoopStat{}
)

// Record Decoding Metrics
var (
	// SchemaCacheHits counts schema intern cache hits
	SchemaCacheHits Counter = NoopStat{}

	// SchemaCacheMisses counts schema intern cache misses (block parsed)
	SchemaCacheMisses Counter = NoopStat{}
)

// Publisher Metrics
var (
	// SinkPublishTotal counts publishes by sink and result (success, failed)
	SinkPublishTotal CounterVec = noopCounterVec{}

	// SinkPublishSeconds measures publish latency per sink
	SinkPublishSeconds HistogramVec = noopHistogramVec{}

	// SinkRetriesTotal counts publish retries per sink
	SinkRetriesTotal CounterVec = noopCounterVec{}

	// RecordsFilteredTotal counts records rejected by a sink's filters
	RecordsFilteredTotal CounterVec = noopCounterVec{}

	// WorkerQueueDepth tracks per-worker fan-out queue occupancy
	WorkerQueueDepth GaugeVec = noopGaugeVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	// Stream Metrics
	FramesTotal = NewCounterVec(
		"frames_total",
		"Frames received by type",
		[]string{"type"},
	)
	BytesReceivedTotal = NewCounter(
		"bytes_received_total",
		"Raw bytes fed into the frame decoder",
	)
	BatchesTotal = NewCounterVec(
		"batches_total",
		"Record batches by compression",
		[]string{"compression"},
	)
	BatchDecodeSeconds = NewHistogramWithBuckets(
		"batch_decode_seconds",
		"Decompress and split time per batch in seconds",
		DecodeBuckets,
	)
	BatchRawBytes = NewHistogramWithBuckets(
		"batch_raw_bytes",
		"Decompressed batch size in bytes",
		BatchByteBuckets,
	)
	RecordsDeliveredTotal = NewCounter(
		"records_delivered_total",
		"Records handed to the delivery queue",
	)
	RecordsSkippedTotal = NewCounter(
		"records_skipped_total",
		"Records dropped by the ignore-unknown path",
	)
	QueueDepth = NewGauge(
		"queue_depth",
		"Current delivery queue occupancy",
	)
	QueuePutBlockSeconds = NewHistogramWithBuckets(
		"queue_put_block_seconds",
		"Producer time blocked on a full delivery queue",
		BlockBuckets,
	)
	DecodeErrorsTotal = NewCounterVec(
		"decode_errors_total",
		"Classified stream errors by code",
		[]string{"code"},
	)
	ReconnectsTotal = NewCounter(
		"reconnects_total",
		"Reconnect attempts",
	)
	HandshakesTotal = NewCounterVec(
		"handshakes_total",
		"Handshakes by result",
		[]string{"result"},
	)
	ConnectionUp = NewGauge(
		"connection_up",
		"Whether a proxy connection is established (1=yes, 0=no)",
	)

	// Record Decoding Metrics
	SchemaCacheHits = NewCounter(
		"schema_cache_hits_total",
		"Schema intern cache hits",
	)
	SchemaCacheMisses = NewCounter(
		"schema_cache_misses_total",
		"Schema intern cache misses",
	)

	// Publisher Metrics
	SinkPublishTotal = NewCounterVec(
		"sink_publish_total",
		"Publishes by sink and result",
		[]string{"sink", "result"},
	)
	SinkPublishSeconds = NewHistogramVec(
		"sink_publish_seconds",
		"Publish latency per sink in seconds",
		[]string{"sink"},
		PublishBuckets,
	)
	SinkRetriesTotal = NewCounterVec(
		"sink_retries_total",
		"Publish retries per sink",
		[]string{"sink"},
	)
	RecordsFilteredTotal = NewCounterVec(
		"records_filtered_total",
		"Records rejected by sink filters",
		[]string{"sink"},
	)
	WorkerQueueDepth = NewGaugeVec(
		"worker_queue_depth",
		"Per-worker fan-out queue occupancy",
		[]string{"sink"},
	)
}
