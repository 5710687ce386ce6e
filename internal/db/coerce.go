package db

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ColumnKind is the storage class of a table column. Flattened values are
// strings; the kind decides how each dialect stores them.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindNumeric
	KindInteger
	KindDateTime
	KindBool
)

// MySQLEmptyDate stands in for a missing datetime on MySQL, whose strict
// modes reject zero dates.
var MySQLEmptyDate = time.Date(1970, time.January, 1, 0, 0, 1, 0, time.UTC)

var timeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05.000000",
	"2006-01-02 15:04:05.000000000",
}

// ParseTimestamp parses the datetime shapes the provider emits.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format %q", raw)
}

// Coerce converts one flattened value into the driver argument d stores for
// kind. Empty input maps to the dialect's missing-value representation:
//
//	kind      postgres  mysql            sqlserver  sqlite
//	numeric   NULL      0.0              NULL       NULL
//	datetime  NULL      1970-01-01 00:00:01  NULL   NULL
//	other     NULL      NULL             NULL       NULL
//
// Values that fail to parse are treated as empty.
func (d Dialect) Coerce(kind ColumnKind, raw string) any {
	value := strings.TrimSpace(raw)

	switch kind {
	case KindNumeric:
		if f, err := strconv.ParseFloat(value, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
		if d == MySQL {
			return 0.0
		}
		return nil
	case KindInteger:
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
		return nil
	case KindDateTime:
		if value != "" {
			if ts, err := ParseTimestamp(value); err == nil {
				return ts.UTC()
			}
		}
		if d == MySQL {
			return MySQLEmptyDate
		}
		return nil
	case KindBool:
		if b, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return b
		}
		return nil
	}

	if value == "" {
		return nil
	}
	return raw
}

// ColumnType returns the DDL type d uses for kind. Key columns get bounded
// text types where the dialect cannot index unbounded text.
func (d Dialect) ColumnType(kind ColumnKind, key bool) string {
	switch kind {
	case KindNumeric:
		switch d {
		case Postgres:
			return "DOUBLE PRECISION"
		case MySQL:
			return "DOUBLE"
		case SQLServer:
			return "FLOAT"
		}
		return "REAL"
	case KindInteger:
		if d == SQLite {
			return "INTEGER"
		}
		return "BIGINT"
	case KindDateTime:
		switch d {
		case Postgres:
			return "TIMESTAMP"
		case SQLServer:
			return "DATETIME2"
		}
		return "DATETIME"
	case KindBool:
		switch d {
		case Postgres:
			return "BOOLEAN"
		case MySQL:
			return "TINYINT(1)"
		case SQLServer:
			return "BIT"
		}
		return "INTEGER"
	}

	switch d {
	case MySQL:
		if key {
			return "VARCHAR(255)"
		}
		return "LONGTEXT"
	case SQLServer:
		if key {
			return "NVARCHAR(255)"
		}
		return "NVARCHAR(MAX)"
	}
	return "TEXT"
}
