package logmsg

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encode builds the wire entry for rec: 4 reserved bytes, the big-endian
// body length, then the body. Row images must match the schema's column
// count, since the wire carries no per-image count. Fixtures and the
// test proxy encode; the client itself only decodes.
func (r *Record) Encode() ([]byte, error) {
	var flags uint8
	if r.Old != nil {
		flags |= flagHasOld
	}
	if r.New != nil {
		flags |= flagHasNew
	}
	if r.Statement != "" {
		flags |= flagHasStatement
	}

	cols := 0
	if r.Schema != nil {
		cols = len(r.Schema.Columns)
	}
	if r.Old != nil && len(r.Old) != cols {
		return nil, fmt.Errorf("old image has %d values for %d columns", len(r.Old), cols)
	}
	if r.New != nil && len(r.New) != cols {
		return nil, fmt.Errorf("new image has %d values for %d columns", len(r.New), cols)
	}

	body := make([]byte, 0, 64)
	body = append(body, recordFormatV1, byte(r.Op), byte(r.Source), flags)
	body = binary.BigEndian.AppendUint64(body, uint64(r.Timestamp))
	body = binary.BigEndian.AppendUint64(body, r.CommitOffset)

	var err error
	if body, err = appendStr16(body, r.Database); err != nil {
		return nil, fmt.Errorf("database name: %w", err)
	}
	if body, err = appendStr16(body, r.Table); err != nil {
		return nil, fmt.Errorf("table name: %w", err)
	}

	block, err := encodeSchemaBlock(r.Schema)
	if err != nil {
		return nil, err
	}
	if len(block) > math.MaxUint16 {
		return nil, fmt.Errorf("schema block of %d bytes exceeds uint16 framing", len(block))
	}
	body = binary.BigEndian.AppendUint16(body, uint16(len(block)))
	body = append(body, block...)

	if r.Old != nil {
		body = appendValues(body, r.Old)
	}
	if r.New != nil {
		body = appendValues(body, r.New)
	}
	if r.Statement != "" {
		body = binary.BigEndian.AppendUint32(body, uint32(len(r.Statement)))
		body = append(body, r.Statement...)
	}

	entry := make([]byte, 0, entryPrefixSize+len(body))
	entry = append(entry, 0, 0, 0, 0)
	entry = binary.BigEndian.AppendUint32(entry, uint32(len(body)))
	return append(entry, body...), nil
}

// EncodeAll concatenates the wire entries of recs in order, producing
// the raw payload of an uncompressed batch.
func EncodeAll(recs ...*Record) ([]byte, error) {
	var out []byte
	for i, rec := range recs {
		entry, err := rec.Encode()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, entry...)
	}
	return out, nil
}

func encodeSchemaBlock(schema *TableSchema) ([]byte, error) {
	if schema == nil {
		return nil, nil
	}
	block := binary.BigEndian.AppendUint16(nil, uint16(len(schema.Columns)))
	for _, col := range schema.Columns {
		var err error
		if block, err = appendStr16(block, col.Name); err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
		var cf uint8
		if col.PK {
			cf |= 0x01
		}
		if col.NotNull {
			cf |= 0x02
		}
		block = append(block, byte(col.Type), cf)
	}
	return block, nil
}

func appendValues(b []byte, vals []Value) []byte {
	for _, v := range vals {
		if v.Null {
			b = append(b, 0)
			continue
		}
		b = append(b, 1)
		b = binary.BigEndian.AppendUint32(b, uint32(len(v.Data)))
		b = append(b, v.Data...)
	}
	return b
}

func appendStr16(b []byte, s string) ([]byte, error) {
	if len(s) > math.MaxUint16 {
		return nil, fmt.Errorf("string of %d bytes exceeds uint16 framing", len(s))
	}
	b = binary.BigEndian.AppendUint16(b, uint16(len(s)))
	return append(b, s...), nil
}
