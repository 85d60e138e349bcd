package logmsg

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// DefaultSchemaCacheSize bounds the interned schema cache when the
// caller does not size it explicitly.
const DefaultSchemaCacheSize = 512

// FieldListener receives column values one at a time while an entry is
// decoded, avoiding materialized row images for callers that stream.
// prev marks values from the prior row image of an update.
type FieldListener interface {
	OnField(col Column, val Value, prev bool) error
}

// Decoder turns wire entries into Records. It is safe for use from a
// single decoding goroutine; the schema cache it carries is internally
// synchronized, so sharing one Decoder across streams is also fine.
type Decoder struct {
	schemas *schemaCache
}

// NewDecoder returns a Decoder with a schema intern cache of the given
// size. Sizes <= 0 fall back to DefaultSchemaCacheSize.
func NewDecoder(schemaCacheSize int) *Decoder {
	return &Decoder{schemas: newSchemaCache(schemaCacheSize)}
}

// Decode parses one full entry (prefix included) into a Record. The
// returned Record references entry; callers hand over ownership.
func (d *Decoder) Decode(entry []byte) (*Record, error) {
	rec, r, err := d.decodeHead(entry)
	if err != nil {
		return nil, err
	}

	cols := 0
	if rec.Schema != nil {
		cols = len(rec.Schema.Columns)
	}
	if rec.flags&flagHasOld != 0 {
		rec.Old = readValues(r, cols)
	}
	if rec.flags&flagHasNew != 0 {
		rec.New = readValues(r, cols)
	}
	if rec.flags&flagHasStatement != 0 {
		rec.Statement = r.str32()
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return &rec.Record, nil
}

// DecodeFields parses an entry, streaming row values to fl instead of
// materializing them. The returned Record carries everything but the
// Old/New images.
func (d *Decoder) DecodeFields(entry []byte, fl FieldListener) (*Record, error) {
	if fl == nil {
		return nil, errNilListener
	}
	rec, r, err := d.decodeHead(entry)
	if err != nil {
		return nil, err
	}

	cols := 0
	if rec.Schema != nil {
		cols = len(rec.Schema.Columns)
	}
	if rec.flags&flagHasOld != 0 {
		if err := streamValues(r, rec.Schema, cols, fl, true); err != nil {
			return nil, err
		}
	}
	if rec.flags&flagHasNew != 0 {
		if err := streamValues(r, rec.Schema, cols, fl, false); err != nil {
			return nil, err
		}
	}
	if rec.flags&flagHasStatement != 0 {
		rec.Statement = r.str32()
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return &rec.Record, nil
}

type decodedHead struct {
	Record
	flags uint8
}

func (d *Decoder) decodeHead(entry []byte) (*decodedHead, *reader, error) {
	if len(entry) < entryPrefixSize {
		return nil, nil, fmt.Errorf("entry shorter than %d-byte prefix", entryPrefixSize)
	}
	bodyLen := binary.BigEndian.Uint32(entry[4:8])
	if len(entry) != entryPrefixSize+int(bodyLen) {
		return nil, nil, fmt.Errorf("entry length %d does not match declared body %d", len(entry), bodyLen)
	}

	r := &reader{b: entry[entryPrefixSize:]}
	ver := r.u8()
	op := Op(r.u8())
	src := DBType(r.u8())
	flags := r.u8()
	ts := r.i64()
	off := r.u64()
	db := r.str16()
	table := r.str16()
	schemaBlock := r.block16()
	if r.err != nil {
		return nil, nil, r.err
	}
	if ver != recordFormatV1 {
		return nil, nil, fmt.Errorf("unsupported record format %d", ver)
	}
	if !op.Known() {
		return nil, nil, fmt.Errorf("unknown record operation %d", uint8(op))
	}

	var schema *TableSchema
	if len(schemaBlock) > 0 {
		var err error
		schema, err = d.schemas.resolve(schemaBlock)
		if err != nil {
			return nil, nil, err
		}
	}

	rec := &decodedHead{
		Record: Record{
			Op:           op,
			Source:       src,
			Timestamp:    ts,
			CommitOffset: off,
			Database:     db,
			Table:        table,
			Schema:       schema,
			Raw:          entry,
		},
		flags: flags,
	}
	return rec, r, nil
}

// parseSchemaBlock decodes a schema block: colCount(2) then per column
// name(str16) || type(1) || flags(1).
func parseSchemaBlock(block []byte) (*TableSchema, error) {
	r := &reader{b: block}
	n := int(r.u16())
	cols := make([]Column, 0, n)
	for i := 0; i < n; i++ {
		name := r.str16()
		typ := ColumnType(r.u8())
		cf := r.u8()
		if r.err != nil {
			return nil, fmt.Errorf("schema column %d: %w", i, r.err)
		}
		cols = append(cols, Column{
			Name:    name,
			Type:    typ,
			PK:      cf&0x01 != 0,
			NotNull: cf&0x02 != 0,
		})
	}
	if err := r.finish(); err != nil {
		return nil, fmt.Errorf("schema block: %w", err)
	}
	return &TableSchema{Columns: cols}, nil
}

func readValues(r *reader, cols int) []Value {
	vals := make([]Value, 0, cols)
	for i := 0; i < cols; i++ {
		vals = append(vals, r.value())
	}
	return vals
}

func streamValues(r *reader, schema *TableSchema, cols int, fl FieldListener, prev bool) error {
	for i := 0; i < cols; i++ {
		v := r.value()
		if r.err != nil {
			return r.err
		}
		if err := fl.OnField(schema.Columns[i], v, prev); err != nil {
			return fmt.Errorf("field listener: %w", err)
		}
	}
	return nil
}

// reader is a sticky-error cursor over an entry body.
type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if len(r.b)-r.off < n {
		r.err = fmt.Errorf("entry truncated at offset %d, need %d more bytes", r.off, n-(len(r.b)-r.off))
		return false
	}
	return true
}

func (r *reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.b[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v
}

func (r *reader) i64() int64 {
	return int64(r.u64())
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.b[r.off : r.off+n]
	r.off += n
	return v
}

func (r *reader) str16() string {
	n := int(r.u16())
	return string(r.bytes(n))
}

func (r *reader) str32() string {
	n := int(r.u32())
	return string(r.bytes(n))
}

// block16 reads a uint16-length-prefixed sub-block and returns it raw.
func (r *reader) block16() []byte {
	n := int(r.u16())
	return r.bytes(n)
}

func (r *reader) value() Value {
	tag := r.u8()
	if r.err != nil || tag == 0 {
		return Value{Null: true}
	}
	n := int(r.u32())
	return Value{Data: r.bytes(n)}
}

func (r *reader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.b) {
		return fmt.Errorf("entry has %d trailing bytes", len(r.b)-r.off)
	}
	return nil
}

var errNilListener = errors.New("nil field listener")
