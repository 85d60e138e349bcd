package logmsg

import (
	"fmt"
	"strings"
)

// DBType identifies the upstream source a record originated from.
type DBType uint8

const (
	DBUnknown         DBType = 0
	DBMySQL           DBType = 1
	DBMariaDB         DBType = 2
	DBOceanBase       DBType = 3 // MySQL tenant mode
	DBOceanBaseOracle DBType = 4
	DBTiDB            DBType = 5
)

// Category groups source kinds by their storage family.
type Category uint8

const (
	CategoryUnknown Category = iota
	CategoryRDB
	CategoryMQ
	CategoryNoSQL
	CategoryBigData
)

func (c Category) String() string {
	switch c {
	case CategoryRDB:
		return "rdb"
	case CategoryMQ:
		return "mq"
	case CategoryNoSQL:
		return "nosql"
	case CategoryBigData:
		return "bigdata"
	}
	return "unknown"
}

// Known reports whether t is a source this build recognizes.
func (t DBType) Known() bool {
	return t >= DBMySQL && t <= DBTiDB
}

// Category returns the storage family of the source.
func (t DBType) Category() Category {
	if t.Known() {
		return CategoryRDB
	}
	return CategoryUnknown
}

func (t DBType) String() string {
	switch t {
	case DBMySQL:
		return "mysql"
	case DBMariaDB:
		return "mariadb"
	case DBOceanBase:
		return "oceanbase"
	case DBOceanBaseOracle:
		return "oceanbase-oracle"
	case DBTiDB:
		return "tidb"
	}
	return fmt.Sprintf("dbtype(%d)", uint8(t))
}

var dbTypeAliases = map[string]DBType{
	"mysql":            DBMySQL,
	"mariadb":          DBMariaDB,
	"oceanbase":        DBOceanBase,
	"ob-mysql":         DBOceanBase,
	"oceanbase-oracle": DBOceanBaseOracle,
	"ob-oracle":        DBOceanBaseOracle,
	"tidb":             DBTiDB,
}

// ParseDBType resolves a configured source name, accepting the common
// aliases.
func ParseDBType(s string) (DBType, error) {
	t, ok := dbTypeAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return DBUnknown, fmt.Errorf("unknown source type %q", s)
	}
	return t, nil
}
