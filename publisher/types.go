package publisher

import "github.com/logtide/logtide/logmsg"

// Sink is a destination for transformed change records (Kafka, NATS).
type Sink interface {
	// Publish sends one message. A nil value is a tombstone.
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// Transformer renders a decoded change record into a sink payload.
type Transformer interface {
	// Transform converts a record to bytes for publishing
	Transform(rec *logmsg.Record) ([]byte, error)
	// Tombstone creates a tombstone/delete marker for the given key
	Tombstone(key string) []byte
}

// Filter decides whether a record is published to a given sink.
type Filter interface {
	// Match returns true if the record's table should be published
	Match(database, table string) bool
}
