package transformer

import (
	"fmt"

	"github.com/logtide/logtide/encoding"
	"github.com/logtide/logtide/logmsg"
	"github.com/logtide/logtide/publisher"
)

func init() {
	publisher.RegisterTransformer("msgpack", func() publisher.Transformer {
		return NewMsgpackTransformer()
	})
}

// MsgpackTransformer renders records as compact msgpack events, for
// consumers that trade readability for payload size.
type MsgpackTransformer struct{}

// NewMsgpackTransformer creates a msgpack transformer.
func NewMsgpackTransformer() *MsgpackTransformer {
	return &MsgpackTransformer{}
}

type compactEvent struct {
	Op        string         `msgpack:"op"`
	Source    string         `msgpack:"src"`
	Database  string         `msgpack:"db"`
	Table     string         `msgpack:"tbl"`
	Ts        int64          `msgpack:"ts"`
	Offset    uint64         `msgpack:"offset"`
	Key       []string       `msgpack:"key,omitempty"`
	Before    map[string]any `msgpack:"before,omitempty"`
	After     map[string]any `msgpack:"after,omitempty"`
	Statement string         `msgpack:"stmt,omitempty"`
}

// Transform converts a record to a msgpack event.
func (t *MsgpackTransformer) Transform(rec *logmsg.Record) ([]byte, error) {
	evt := compactEvent{
		Op:        rec.Op.String(),
		Source:    rec.Source.String(),
		Database:  rec.Database,
		Table:     rec.Table,
		Ts:        rec.Timestamp,
		Offset:    rec.CommitOffset,
		Key:       primaryKeyValues(rec),
		Before:    rowImage(rec.Schema, rec.Old),
		After:     rowImage(rec.Schema, rec.New),
		Statement: rec.Statement,
	}

	data, err := encoding.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal msgpack event: %w", err)
	}
	return data, nil
}

// Tombstone creates a tombstone marker (null value for log compaction).
func (t *MsgpackTransformer) Tombstone(key string) []byte {
	return nil
}
