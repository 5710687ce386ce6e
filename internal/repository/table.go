package repository

import (
	"fmt"
	"strings"

	"github.com/rpattn/auditsync/internal/db"
	"github.com/rpattn/auditsync/internal/flatten"
)

// KeyMode selects the primary key of a table.
type KeyMode int

const (
	// History keys rows by version, so every edit of a record adds rows.
	History KeyMode = iota
	// Merge keys rows by record and item, so the latest version replaces
	// the previous one.
	Merge
)

func (m KeyMode) String() string {
	if m == Merge {
		return "merge"
	}
	return "history"
}

// KeyModeFor maps the merge_rows setting onto a KeyMode.
func KeyModeFor(mergeRows bool) KeyMode {
	if mergeRows {
		return Merge
	}
	return History
}

// Column is one table column.
type Column struct {
	Name string
	Kind db.ColumnKind
}

// Table is the fixed definition of a stream's table.
type Table struct {
	Name    string
	Columns []Column
	Key     []string
	Mode    KeyMode
}

// IsKey reports whether column is part of the primary key.
func (t Table) IsKey(column string) bool {
	for _, k := range t.Key {
		if k == column {
			return true
		}
	}
	return false
}

// ColumnNames returns the column names in table order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

var auditKinds = map[string]db.ColumnKind{
	"SortingIndex":         db.KindInteger,
	"ItemScore":            db.KindNumeric,
	"ItemMaxScore":         db.KindNumeric,
	"ItemScorePercentage":  db.KindNumeric,
	"Mandatory":            db.KindBool,
	"FailedResponse":       db.KindBool,
	"Inactive":             db.KindBool,
	"AuditScore":           db.KindNumeric,
	"AuditMaxScore":        db.KindNumeric,
	"AuditScorePercentage": db.KindNumeric,
	"AuditDuration":        db.KindNumeric,
	"DateStarted":          db.KindDateTime,
	"DateCompleted":        db.KindDateTime,
	"DateModified":         db.KindDateTime,
	"ConductedOn":          db.KindDateTime,
	"Archived":             db.KindBool,
	flatten.ColumnDatePK:   db.KindInteger,
}

var actionKinds = map[string]db.ColumnKind{
	"priorityCode":       db.KindInteger,
	"statusCode":         db.KindInteger,
	"dueDatetime":        db.KindDateTime,
	"createdDatetime":    db.KindDateTime,
	"modifiedDatetime":   db.KindDateTime,
	"completedDatetime":  db.KindDateTime,
	flatten.ColumnDatePK: db.KindInteger,
}

// AuditTable defines the audits table. History mode keys rows by
// (AuditID, ItemID, DatePK); merge mode by (AuditID, ItemID).
func AuditTable(name string, mode KeyMode) Table {
	key := []string{flatten.ColumnAuditID, flatten.ColumnItemID}
	if mode == History {
		key = append(key, flatten.ColumnDatePK)
	}
	return buildTable(name, mode, append(append([]string{}, flatten.AuditColumns...), flatten.ColumnDatePK), auditKinds, key)
}

// ActionTable defines the actions table. History mode keys rows by
// (actionId, DatePK); merge mode by actionId.
func ActionTable(name string, mode KeyMode) Table {
	key := []string{flatten.ColumnActionID}
	if mode == History {
		key = append(key, flatten.ColumnDatePK)
	}
	return buildTable(name, mode, append(append([]string{}, flatten.ActionColumns...), flatten.ColumnDatePK), actionKinds, key)
}

func buildTable(name string, mode KeyMode, names []string, kinds map[string]db.ColumnKind, key []string) Table {
	columns := make([]Column, len(names))
	for i, n := range names {
		columns[i] = Column{Name: n, Kind: kinds[n]}
	}
	return Table{Name: name, Columns: columns, Key: key, Mode: mode}
}

// CreateStatement renders the CREATE TABLE statement for dialect d.
func (t Table) CreateStatement(d db.Dialect, schema string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (", d.QualifiedTable(schema, t.Name))
	for i, c := range t.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		key := t.IsKey(c.Name)
		b.WriteString(d.QuoteIdent(c.Name))
		b.WriteByte(' ')
		b.WriteString(d.ColumnType(c.Kind, key))
		if key {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteString(", PRIMARY KEY (")
	for i, k := range t.Key {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.QuoteIdent(k))
	}
	b.WriteString("))")
	return b.String()
}
