// Package transformer provides Transformer implementations that render
// change records into sink payload formats.
package transformer

import (
	"encoding/json"
	"fmt"

	"github.com/logtide/logtide/logmsg"
	"github.com/logtide/logtide/publisher"
)

func init() {
	publisher.RegisterTransformer("json", func() publisher.Transformer {
		return NewChangefeedTransformer()
	})
}

// ChangefeedTransformer renders records as self-describing JSON
// changefeed messages: operation, commit position, source coordinates
// and row images keyed by column name.
type ChangefeedTransformer struct{}

// NewChangefeedTransformer creates a JSON changefeed transformer.
func NewChangefeedTransformer() *ChangefeedTransformer {
	return &ChangefeedTransformer{}
}

type changefeedMessage struct {
	Op        string           `json:"op"`
	Ts        int64            `json:"ts"`
	Offset    uint64           `json:"offset"`
	Source    changefeedSource `json:"source"`
	Key       []string         `json:"key,omitempty"`
	Before    map[string]any   `json:"before"`
	After     map[string]any   `json:"after"`
	Statement string           `json:"statement,omitempty"`
}

type changefeedSource struct {
	Type     string `json:"type"`
	Database string `json:"db"`
	Table    string `json:"table"`
}

// Transform converts a record to a JSON changefeed message.
func (t *ChangefeedTransformer) Transform(rec *logmsg.Record) ([]byte, error) {
	msg := changefeedMessage{
		Op:     rec.Op.String(),
		Ts:     rec.Timestamp,
		Offset: rec.CommitOffset,
		Source: changefeedSource{
			Type:     rec.Source.String(),
			Database: rec.Database,
			Table:    rec.Table,
		},
		Key:       primaryKeyValues(rec),
		Before:    rowImage(rec.Schema, rec.Old),
		After:     rowImage(rec.Schema, rec.New),
		Statement: rec.Statement,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal changefeed message: %w", err)
	}
	return data, nil
}

// Tombstone creates a tombstone marker (null value for log compaction).
func (t *ChangefeedTransformer) Tombstone(key string) []byte {
	return nil
}

// rowImage maps a row image by column name. NULLs map to nil, binary
// column values stay []byte (which JSON renders base64), everything
// else becomes the source's text rendering.
func rowImage(schema *logmsg.TableSchema, vals []logmsg.Value) map[string]any {
	if vals == nil {
		return nil
	}
	out := make(map[string]any, len(vals))
	for i, v := range vals {
		name := fmt.Sprintf("col%d", i)
		binary := false
		if schema != nil && i < len(schema.Columns) {
			name = schema.Columns[i].Name
			binary = schema.Columns[i].Type.Binary()
		}
		switch {
		case v.Null:
			out[name] = nil
		case binary:
			out[name] = v.Data
		default:
			out[name] = string(v.Data)
		}
	}
	return out
}

// primaryKeyValues extracts the primary key rendering of a record, from
// the new image when present and the old image otherwise.
func primaryKeyValues(rec *logmsg.Record) []string {
	if rec.Schema == nil {
		return nil
	}
	img := rec.New
	if len(img) == 0 {
		img = rec.Old
	}
	if len(img) == 0 {
		return nil
	}
	pks := rec.Schema.PKIndexes()
	if len(pks) == 0 {
		return nil
	}
	out := make([]string, 0, len(pks))
	for _, idx := range pks {
		if idx < len(img) {
			out = append(out, img[idx].Text())
		}
	}
	return out
}
