// Package publisher fans decoded change records out to downstream
// sinks (Kafka, NATS JetStream).
//
// # Architecture
//
// A Registry owns one Worker per configured sink plus a dispatcher
// goroutine. The dispatcher consumes the stream client's delivery
// channel and copies each record into every worker's bounded buffer;
// workers drain their buffers independently, so one slow sink does not
// stall the others until its own buffer fills. A full buffer blocks the
// dispatcher, which in turn stops draining the delivery queue, so
// backpressure reaches the proxy through the client rather than
// dropping records here.
//
// # Components
//
//   - Sink: destination transport (sink subpackage provides Kafka and
//     NATS JetStream implementations, registered by type name)
//   - Transformer: payload rendering (transformer subpackage provides
//     JSON changefeed and msgpack formats, registered by format name)
//   - Filter: glob-based database/table selection per sink
//
// Sinks and transformers self-register via init, so a build wires them
// by importing the subpackages for side effects.
//
// # Delivery semantics
//
// Publishing retries with exponential backoff per record. A record that
// exhausts its retry budget is dropped and counted; there is no durable
// local log, and the proxy's own retention covers replay after a
// restart via the subscription start timestamp. Deletes publish the row
// change followed by a tombstone for log-compacted topics.
package publisher
