package logmsg

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/logtide/logtide/telemetry"
)

// schemaCache interns parsed schema blocks. Hot tables repeat the same
// block on every record, so keying by content hash skips the re-parse.
type schemaCache struct {
	c *lru.Cache[uint64, *TableSchema]
}

func newSchemaCache(size int) *schemaCache {
	if size <= 0 {
		size = DefaultSchemaCacheSize
	}
	c, err := lru.New[uint64, *TableSchema](size)
	if err != nil {
		// Only reachable with a non-positive size, which is bounded above.
		panic(fmt.Sprintf("schema cache: %v", err))
	}
	return &schemaCache{c: c}
}

// resolve returns the parsed schema for block, parsing and caching on
// first sight.
func (sc *schemaCache) resolve(block []byte) (*TableSchema, error) {
	key := xxhash.Sum64(block)
	if s, ok := sc.c.Get(key); ok {
		telemetry.SchemaCacheHits.Inc()
		return s, nil
	}
	s, err := parseSchemaBlock(block)
	if err != nil {
		return nil, err
	}
	telemetry.SchemaCacheMisses.Inc()
	sc.c.Add(key, s)
	return s, nil
}
