package logmsg

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usersSchema() *TableSchema {
	return &TableSchema{Columns: []Column{
		{Name: "id", Type: ColLongLong, PK: true, NotNull: true},
		{Name: "name", Type: ColVarchar, NotNull: true},
		{Name: "bio", Type: ColBlob},
	}}
}

func insertRecord() *Record {
	return &Record{
		Op:           OpInsert,
		Source:       DBMySQL,
		Timestamp:    1721980800,
		CommitOffset: 42,
		Database:     "shop",
		Table:        "users",
		Schema:       usersSchema(),
		New: []Value{
			{Data: []byte("7")},
			{Data: []byte("ada")},
			{Null: true},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	orig := insertRecord()
	entry, err := orig.Encode()
	require.NoError(t, err)

	dec := NewDecoder(0)
	rec, err := dec.Decode(entry)
	require.NoError(t, err)

	assert.Equal(t, OpInsert, rec.Op)
	assert.Equal(t, DBMySQL, rec.Source)
	assert.Equal(t, int64(1721980800), rec.Timestamp)
	assert.Equal(t, uint64(42), rec.CommitOffset)
	assert.Equal(t, "shop", rec.Database)
	assert.Equal(t, "users", rec.Table)
	assert.Equal(t, "shop.users", rec.TableKey())
	require.NotNil(t, rec.Schema)
	require.Len(t, rec.Schema.Columns, 3)
	assert.Equal(t, "id", rec.Schema.Columns[0].Name)
	assert.True(t, rec.Schema.Columns[0].PK)
	assert.Equal(t, []int{0}, rec.Schema.PKIndexes())
	assert.Equal(t, 1, rec.Schema.Index("name"))
	assert.Equal(t, -1, rec.Schema.Index("missing"))

	require.Len(t, rec.New, 3)
	assert.Equal(t, "7", rec.New[0].Text())
	assert.Equal(t, "ada", rec.New[1].Text())
	assert.True(t, rec.New[2].Null)
	assert.Nil(t, rec.Old)
	assert.Equal(t, entry, rec.Raw)
	assert.Equal(t, uint32(len(entry)-8), rec.BodyLength())
}

func TestUpdateCarriesBothImages(t *testing.T) {
	rec := insertRecord()
	rec.Op = OpUpdate
	rec.Old = []Value{
		{Data: []byte("7")},
		{Data: []byte("ada l")},
		{Null: true},
	}

	entry, err := rec.Encode()
	require.NoError(t, err)

	got, err := NewDecoder(0).Decode(entry)
	require.NoError(t, err)
	require.Len(t, got.Old, 3)
	require.Len(t, got.New, 3)
	assert.Equal(t, "ada l", got.Old[1].Text())
	assert.Equal(t, "ada", got.New[1].Text())
}

func TestDDLRecordCarriesStatement(t *testing.T) {
	rec := &Record{
		Op:        OpDDL,
		Source:    DBMariaDB,
		Timestamp: 100,
		Database:  "shop",
		Table:     "users",
		Statement: "ALTER TABLE users ADD COLUMN age INT",
	}
	entry, err := rec.Encode()
	require.NoError(t, err)

	got, err := NewDecoder(0).Decode(entry)
	require.NoError(t, err)
	assert.Equal(t, OpDDL, got.Op)
	assert.Equal(t, rec.Statement, got.Statement)
	assert.Nil(t, got.Schema)
}

func TestHeartbeatMinimalEntry(t *testing.T) {
	rec := &Record{Op: OpHeartbeat, Source: DBMySQL, Timestamp: 5}
	entry, err := rec.Encode()
	require.NoError(t, err)

	got, err := NewDecoder(0).Decode(entry)
	require.NoError(t, err)
	assert.Equal(t, OpHeartbeat, got.Op)
	assert.Empty(t, got.Database)
	assert.Nil(t, got.Old)
	assert.Nil(t, got.New)
}

func TestDecodeRejectsShortPrefix(t *testing.T) {
	_, err := NewDecoder(0).Decode([]byte{0, 0, 0})
	require.Error(t, err)
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	entry, err := insertRecord().Encode()
	require.NoError(t, err)

	_, err = NewDecoder(0).Decode(entry[:len(entry)-1])
	require.Error(t, err)

	_, err = NewDecoder(0).Decode(append(entry, 0xFF))
	require.Error(t, err)
}

func TestDecodeRejectsUnknownFormatVersion(t *testing.T) {
	entry, err := insertRecord().Encode()
	require.NoError(t, err)
	entry[8] = 99 // format version byte

	_, err = NewDecoder(0).Decode(entry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record format")
}

func TestDecodeRejectsUnknownOp(t *testing.T) {
	entry, err := insertRecord().Encode()
	require.NoError(t, err)
	entry[9] = 0xEE // op byte

	_, err = NewDecoder(0).Decode(entry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operation")
}

func TestDecodeRejectsTruncatedValues(t *testing.T) {
	entry, err := insertRecord().Encode()
	require.NoError(t, err)

	// Shrink the entry but fix the declared body length so only the
	// value section is short.
	cut := entry[:len(entry)-3]
	binary.BigEndian.PutUint32(cut[4:8], uint32(len(cut)-8))

	_, err = NewDecoder(0).Decode(cut)
	require.Error(t, err)
}

type fieldCollector struct {
	cols  []string
	prevs []bool
	vals  []string
}

func (f *fieldCollector) OnField(col Column, val Value, prev bool) error {
	f.cols = append(f.cols, col.Name)
	f.prevs = append(f.prevs, prev)
	f.vals = append(f.vals, val.Text())
	return nil
}

func TestDecodeFieldsStreamsImages(t *testing.T) {
	rec := insertRecord()
	rec.Op = OpUpdate
	rec.Old = []Value{
		{Data: []byte("7")},
		{Data: []byte("old")},
		{Null: true},
	}
	entry, err := rec.Encode()
	require.NoError(t, err)

	fc := &fieldCollector{}
	got, err := NewDecoder(0).DecodeFields(entry, fc)
	require.NoError(t, err)

	assert.Nil(t, got.Old)
	assert.Nil(t, got.New)
	require.Equal(t, []string{"id", "name", "bio", "id", "name", "bio"}, fc.cols)
	assert.Equal(t, []bool{true, true, true, false, false, false}, fc.prevs)
	assert.Equal(t, "old", fc.vals[1])
	assert.Equal(t, "ada", fc.vals[4])
}

func TestDecodeFieldsNilListener(t *testing.T) {
	entry, err := insertRecord().Encode()
	require.NoError(t, err)

	_, err = NewDecoder(0).DecodeFields(entry, nil)
	require.Error(t, err)
}

func TestSchemaInterning(t *testing.T) {
	dec := NewDecoder(4)

	e1, err := insertRecord().Encode()
	require.NoError(t, err)
	e2, err := insertRecord().Encode()
	require.NoError(t, err)

	r1, err := dec.Decode(e1)
	require.NoError(t, err)
	r2, err := dec.Decode(e2)
	require.NoError(t, err)

	assert.Same(t, r1.Schema, r2.Schema, "identical schema blocks should intern to one TableSchema")
}

func TestEncodeRejectsImageSchemaMismatch(t *testing.T) {
	rec := insertRecord()
	rec.New = rec.New[:2]

	_, err := rec.Encode()
	require.Error(t, err)
}

func TestParseDBTypeAliases(t *testing.T) {
	for alias, want := range map[string]DBType{
		"mysql":     DBMySQL,
		"MariaDB":   DBMariaDB,
		"ob-mysql":  DBOceanBase,
		"ob-oracle": DBOceanBaseOracle,
		"tidb":      DBTiDB,
	} {
		got, err := ParseDBType(alias)
		require.NoError(t, err, alias)
		assert.Equal(t, want, got, alias)
	}

	_, err := ParseDBType("postgres")
	require.Error(t, err)
}
