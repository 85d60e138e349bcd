package transformer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logtide/logtide/encoding"
	"github.com/logtide/logtide/logmsg"
)

func TestMsgpackTransformer_RoundTrip(t *testing.T) {
	transformer := NewMsgpackTransformer()
	avatar := []byte{0x01, 0x02, 0x03}

	rec := &logmsg.Record{
		Op:           logmsg.OpInsert,
		Source:       logmsg.DBTiDB,
		Timestamp:    1721980800,
		CommitOffset: 918273,
		Database:     "shop",
		Table:        "users",
		Schema:       userSchema(),
		New:          userRow("42", "Bob", avatar),
	}

	data, err := transformer.Transform(rec)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	var got compactEvent
	require.NoError(t, encoding.Unmarshal(data, &got))

	assert.Equal(t, "insert", got.Op)
	assert.Equal(t, "tidb", got.Source)
	assert.Equal(t, "shop", got.Database)
	assert.Equal(t, "users", got.Table)
	assert.Equal(t, int64(1721980800), got.Ts)
	assert.Equal(t, uint64(918273), got.Offset)
	assert.Equal(t, []string{"42"}, got.Key)
	assert.Nil(t, got.Before)

	require.NotNil(t, got.After)
	assert.Equal(t, "42", got.After["id"])
	assert.Equal(t, "Bob", got.After["name"])
	assert.Nil(t, got.After["bio"])
	// Loose interface decoding renders binary values as strings.
	assert.Equal(t, string(avatar), got.After["avatar"])
}

func TestMsgpackTransformer_Delete(t *testing.T) {
	transformer := NewMsgpackTransformer()

	rec := &logmsg.Record{
		Op:           logmsg.OpDelete,
		Source:       logmsg.DBMySQL,
		Timestamp:    1721980801,
		CommitOffset: 918274,
		Database:     "shop",
		Table:        "users",
		Schema:       userSchema(),
		Old:          userRow("42", "Bob", nil),
	}

	data, err := transformer.Transform(rec)
	require.NoError(t, err)

	var got compactEvent
	require.NoError(t, encoding.Unmarshal(data, &got))

	assert.Equal(t, "delete", got.Op)
	assert.Equal(t, []string{"42"}, got.Key)
	assert.Nil(t, got.After)
	require.NotNil(t, got.Before)
	assert.Equal(t, "Bob", got.Before["name"])
}

func TestMsgpackTransformer_SmallerThanJSON(t *testing.T) {
	rec := &logmsg.Record{
		Op:           logmsg.OpInsert,
		Source:       logmsg.DBMySQL,
		Timestamp:    1721980802,
		CommitOffset: 918275,
		Database:     "shop",
		Table:        "users",
		Schema:       userSchema(),
		New:          userRow("42", "Bob", nil),
	}

	compact, err := NewMsgpackTransformer().Transform(rec)
	require.NoError(t, err)
	verbose, err := NewChangefeedTransformer().Transform(rec)
	require.NoError(t, err)

	assert.Less(t, len(compact), len(verbose))
}

func TestMsgpackTransformer_Tombstone(t *testing.T) {
	transformer := NewMsgpackTransformer()
	assert.Nil(t, transformer.Tombstone("shop.users/42"))
}
