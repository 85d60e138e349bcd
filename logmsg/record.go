// Package logmsg decodes the binary change-record entries carried inside
// proxy record batches and exposes them as typed events.
package logmsg

import "fmt"

// Entry framing: reserved(4) || bodyLength(4, big-endian) || body.
const entryPrefixSize = 8

// recordFormatV1 is the only body layout this build understands.
const recordFormatV1 = 1

// Body flag bits.
const (
	flagHasOld       = 0x01
	flagHasNew       = 0x02
	flagHasStatement = 0x04
)

// Op is the change operation a record describes.
type Op uint8

const (
	OpInsert Op = iota
	OpUpdate
	OpDelete
	OpReplace
	OpHeartbeat
	OpBegin
	OpCommit
	OpDDL
)

// Known reports whether o is an operation this build can interpret.
func (o Op) Known() bool {
	return o <= OpDDL
}

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpReplace:
		return "replace"
	case OpHeartbeat:
		return "heartbeat"
	case OpBegin:
		return "begin"
	case OpCommit:
		return "commit"
	case OpDDL:
		return "ddl"
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// HasValues reports whether records of this operation carry row images.
func (o Op) HasValues() bool {
	switch o {
	case OpInsert, OpUpdate, OpDelete, OpReplace:
		return true
	}
	return false
}

// ColumnType is the column type code carried per schema column. Codes
// follow the MySQL wire taxonomy so upstream sources map one to one.
type ColumnType uint8

const (
	ColDecimal    ColumnType = 0
	ColTiny       ColumnType = 1
	ColShort      ColumnType = 2
	ColLong       ColumnType = 3
	ColFloat      ColumnType = 4
	ColDouble     ColumnType = 5
	ColNull       ColumnType = 6
	ColTimestamp  ColumnType = 7
	ColLongLong   ColumnType = 8
	ColInt24      ColumnType = 9
	ColDate       ColumnType = 10
	ColTime       ColumnType = 11
	ColDatetime   ColumnType = 12
	ColYear       ColumnType = 13
	ColVarchar    ColumnType = 15
	ColBit        ColumnType = 16
	ColJSON       ColumnType = 245
	ColNewDecimal ColumnType = 246
	ColEnum       ColumnType = 247
	ColSet        ColumnType = 248
	ColTinyBlob   ColumnType = 249
	ColMediumBlob ColumnType = 250
	ColLongBlob   ColumnType = 251
	ColBlob       ColumnType = 252
	ColVarString  ColumnType = 253
	ColString     ColumnType = 254
	ColGeometry   ColumnType = 255
)

// Numeric reports whether values of this type decode as numbers.
func (t ColumnType) Numeric() bool {
	switch t {
	case ColDecimal, ColTiny, ColShort, ColLong, ColFloat, ColDouble,
		ColLongLong, ColInt24, ColYear, ColNewDecimal:
		return true
	}
	return false
}

// Binary reports whether values of this type are raw bytes rather than
// text.
func (t ColumnType) Binary() bool {
	switch t {
	case ColBit, ColTinyBlob, ColMediumBlob, ColLongBlob, ColBlob, ColGeometry:
		return true
	}
	return false
}

// Column describes one schema column of a record.
type Column struct {
	Name    string
	Type    ColumnType
	PK      bool
	NotNull bool
}

// TableSchema is the column layout a record was encoded against. Decoded
// schemas are interned and shared across records; callers must treat
// them as immutable.
type TableSchema struct {
	Columns []Column
}

// PKIndexes returns the positions of primary key columns.
func (s *TableSchema) PKIndexes() []int {
	var idx []int
	for i, c := range s.Columns {
		if c.PK {
			idx = append(idx, i)
		}
	}
	return idx
}

// Index returns the position of the named column, or -1.
func (s *TableSchema) Index(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Value is one column value inside a row image. Data holds the source's
// text rendering for non-binary types and raw bytes for binary ones.
type Value struct {
	Null bool
	Data []byte
}

// Text returns the value as a string; empty for NULL.
func (v Value) Text() string {
	if v.Null {
		return ""
	}
	return string(v.Data)
}

// Record is one decoded change event.
type Record struct {
	Op           Op
	Source       DBType
	Timestamp    int64  // commit time, unix seconds
	CommitOffset uint64 // position in the upstream commit log
	Database     string
	Table        string
	Schema       *TableSchema
	Old          []Value // prior row image, present per Op/flags
	New          []Value
	Statement    string // DDL text when Op == OpDDL
	Raw          []byte // the full wire entry, prefix included
}

// BodyLength is the length the entry prefix declared for the body.
func (r *Record) BodyLength() uint32 {
	if len(r.Raw) < entryPrefixSize {
		return 0
	}
	return uint32(len(r.Raw) - entryPrefixSize)
}

// TableKey is "database.table", the routing key used downstream.
func (r *Record) TableKey() string {
	return r.Database + "." + r.Table
}
