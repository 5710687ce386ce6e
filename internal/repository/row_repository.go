package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/rpattn/auditsync/internal/db"
	"github.com/rpattn/auditsync/internal/domain"
)

var (
	// ErrTableMissing is returned when the target table does not exist and
	// may not be created.
	ErrTableMissing = errors.New("table does not exist")
	// ErrInvalidRow is returned for rows lacking a primary key value.
	ErrInvalidRow = errors.New("row is missing a primary key value")
)

// TableCreation is the policy applied when the target table is absent.
type TableCreation int

const (
	// CreatePrompt asks the operator, or fails when nobody can be asked.
	CreatePrompt TableCreation = iota
	CreateAllow
	CreateDeny
)

// TableCreationFor maps the tri-state allow_table_creation setting.
func TableCreationFor(allow *bool) TableCreation {
	switch {
	case allow == nil:
		return CreatePrompt
	case *allow:
		return CreateAllow
	}
	return CreateDeny
}

type rowRepository struct {
	conn     *db.Connection
	table    Table
	creation TableCreation
	prompter Prompter
	logger   *log.Logger

	columns    []string
	insertHead string
	upsertSQL  string
}

// Option configures a RowRepository.
type Option func(*rowRepository)

// WithTableCreation sets the policy for an absent table.
func WithTableCreation(policy TableCreation) Option {
	return func(r *rowRepository) {
		r.creation = policy
	}
}

// WithPrompter sets who is asked under CreatePrompt. Without one the
// repository behaves as if the operator declined.
func WithPrompter(p Prompter) Option {
	return func(r *rowRepository) {
		r.prompter = p
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *rowRepository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRowRepository wires a repository writing to table over conn.
func NewRowRepository(conn *db.Connection, table Table, opts ...Option) RowRepository {
	r := &rowRepository{
		conn:     conn,
		table:    table,
		creation: CreatePrompt,
		logger:   log.New(os.Stderr, "[sql] ", log.LstdFlags),
		columns:  table.ColumnNames(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.insertHead = r.buildInsertHead()
	r.upsertSQL = r.buildUpsert()
	return r
}

func (r *rowRepository) Table() Table {
	return r.table
}

func (r *rowRepository) qualifiedName() string {
	return r.conn.Dialect.QualifiedTable(r.conn.Schema, r.table.Name)
}

// EnsureTable implements RowRepository.
func (r *rowRepository) EnsureTable(ctx context.Context) error {
	exists, err := r.tableExists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check table %s: %w", r.qualifiedName(), err)
	}
	if exists {
		return nil
	}

	switch r.creation {
	case CreateAllow:
	case CreatePrompt:
		if r.prompter == nil {
			return fmt.Errorf("%w: %s (set allow_table_creation to create it)", ErrTableMissing, r.qualifiedName())
		}
		ok, err := r.prompter.Confirm(ctx, fmt.Sprintf("Table %s does not exist. Create it?", r.qualifiedName()))
		if err != nil {
			return fmt.Errorf("table creation prompt failed: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrTableMissing, r.qualifiedName())
		}
	default:
		return fmt.Errorf("%w: %s", ErrTableMissing, r.qualifiedName())
	}

	if _, err := r.conn.DB.ExecContext(ctx, r.table.CreateStatement(r.conn.Dialect, r.conn.Schema)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", r.qualifiedName(), err)
	}
	r.logger.Printf("created table %s (%s mode)", r.qualifiedName(), r.table.Mode)
	return nil
}

func (r *rowRepository) tableExists(ctx context.Context) (bool, error) {
	d := r.conn.Dialect
	var (
		query string
		args  []any
	)
	switch d {
	case db.SQLite:
		query = "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
		args = []any{r.table.Name}
	case db.MySQL:
		if r.conn.Schema != "" {
			query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?"
			args = []any{r.conn.Schema, r.table.Name}
		} else {
			query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"
			args = []any{r.table.Name}
		}
	default:
		query = fmt.Sprintf(
			"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = %s AND table_name = %s",
			d.Placeholder(1), d.Placeholder(2),
		)
		args = []any{r.conn.Schema, r.table.Name}
	}

	var count int
	if err := r.conn.DB.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// Upsert implements RowRepository. All rows go out in one transaction of
// multi-row inserts. If any row collides with an existing key the attempt is
// rolled back and every row is merged individually in a new transaction.
// Cancellation rolls back without attempting the merge.
func (r *rowRepository) Upsert(ctx context.Context, rows []domain.Row) (UpsertResult, error) {
	if len(rows) == 0 {
		return UpsertResult{}, nil
	}
	values, err := r.prepare(rows)
	if err != nil {
		return UpsertResult{}, err
	}

	err = r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		return r.bulkInsert(ctx, tx, values)
	})
	if err == nil {
		return UpsertResult{Rows: len(rows)}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return UpsertResult{}, ctxErr
	}
	if !r.conn.Dialect.IsUniqueViolation(err) {
		return UpsertResult{}, fmt.Errorf("failed to insert rows into %s: %w", r.qualifiedName(), err)
	}

	r.logger.Printf("existing keys in %s, merging %d rows individually", r.qualifiedName(), len(rows))
	err = r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		for _, args := range values {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, r.upsertSQL, args...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return UpsertResult{}, ctxErr
		}
		return UpsertResult{}, fmt.Errorf("failed to merge rows into %s: %w", r.qualifiedName(), err)
	}
	return UpsertResult{Rows: len(rows), Merged: true}, nil
}

// prepare coerces rows into driver arguments in column order.
func (r *rowRepository) prepare(rows []domain.Row) ([][]any, error) {
	d := r.conn.Dialect
	out := make([][]any, len(rows))
	for i, row := range rows {
		args := make([]any, len(r.table.Columns))
		for j, column := range r.table.Columns {
			raw := row[column.Name]
			if r.table.IsKey(column.Name) {
				if strings.TrimSpace(raw) == "" {
					return nil, fmt.Errorf("%w: %s in row %d", ErrInvalidRow, column.Name, i)
				}
				if column.Kind == db.KindText {
					args[j] = raw
					continue
				}
			}
			args[j] = d.Coerce(column.Kind, raw)
			if r.table.IsKey(column.Name) && args[j] == nil {
				return nil, fmt.Errorf("%w: %s=%q in row %d", ErrInvalidRow, column.Name, raw, i)
			}
		}
		out[i] = args
	}
	return out, nil
}

func (r *rowRepository) rowsPerStatement() int {
	n := r.conn.Dialect.ParameterLimit() / len(r.columns)
	if r.conn.Dialect == db.SQLServer && n > 1000 {
		n = 1000
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (r *rowRepository) bulkInsert(ctx context.Context, tx *sql.Tx, values [][]any) error {
	d := r.conn.Dialect
	perStatement := r.rowsPerStatement()

	for start := 0; start < len(values); start += perStatement {
		end := start + perStatement
		if end > len(values) {
			end = len(values)
		}
		chunk := values[start:end]

		var b strings.Builder
		b.WriteString(r.insertHead)
		args := make([]any, 0, len(chunk)*len(r.columns))
		param := 1
		for i, row := range chunk {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('(')
			for j := range row {
				if j > 0 {
					b.WriteString(", ")
				}
				b.WriteString(d.Placeholder(param))
				param++
			}
			b.WriteByte(')')
			args = append(args, row...)
		}

		if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
			return err
		}
	}
	return nil
}

func (r *rowRepository) quotedColumns() []string {
	quoted := make([]string, len(r.columns))
	for i, c := range r.columns {
		quoted[i] = r.conn.Dialect.QuoteIdent(c)
	}
	return quoted
}

func (r *rowRepository) buildInsertHead() string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES ", r.qualifiedName(), strings.Join(r.quotedColumns(), ", "))
}

func (r *rowRepository) buildUpsert() string {
	d := r.conn.Dialect
	quoted := r.quotedColumns()
	placeholders := make([]string, len(r.columns))
	for i := range r.columns {
		placeholders[i] = d.Placeholder(i + 1)
	}

	var updates []string
	for _, c := range r.columns {
		if r.table.IsKey(c) {
			continue
		}
		q := d.QuoteIdent(c)
		switch d {
		case db.MySQL:
			updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", q, q))
		case db.SQLServer:
			updates = append(updates, fmt.Sprintf("target.%s = source.%s", q, q))
		default:
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", q, q))
		}
	}

	switch d {
	case db.MySQL:
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
			r.qualifiedName(), strings.Join(quoted, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "))
	case db.SQLServer:
		selects := make([]string, len(r.columns))
		sourceCols := make([]string, len(r.columns))
		for i := range r.columns {
			selects[i] = fmt.Sprintf("%s AS %s", placeholders[i], quoted[i])
			sourceCols[i] = "source." + quoted[i]
		}
		on := make([]string, len(r.table.Key))
		for i, k := range r.table.Key {
			q := d.QuoteIdent(k)
			on[i] = fmt.Sprintf("target.%s = source.%s", q, q)
		}
		return fmt.Sprintf(
			"MERGE INTO %s WITH (HOLDLOCK) AS target USING (SELECT %s) AS source ON %s "+
				"WHEN MATCHED THEN UPDATE SET %s "+
				"WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);",
			r.qualifiedName(), strings.Join(selects, ", "), strings.Join(on, " AND "),
			strings.Join(updates, ", "), strings.Join(quoted, ", "), strings.Join(sourceCols, ", "),
		)
	}

	keys := make([]string, len(r.table.Key))
	for i, k := range r.table.Key {
		keys[i] = d.QuoteIdent(k)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		r.qualifiedName(), strings.Join(quoted, ", "), strings.Join(placeholders, ", "),
		strings.Join(keys, ", "), strings.Join(updates, ", "))
}
