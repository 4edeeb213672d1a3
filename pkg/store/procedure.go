package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

var (
	// ErrInvalidProcedure is returned for names that are not plain SQL identifiers.
	ErrInvalidProcedure = errors.New("invalid procedure name")
	// ErrMissingColumn is returned by Row accessors for null or absent columns.
	ErrMissingColumn = errors.New("missing column")
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Row exposes the non-null columns of one result row by name.
type Row struct {
	columns map[string]any
}

// NewRow builds a Row from column values; nil values are dropped.
func NewRow(values map[string]any) Row {
	cols := make(map[string]any, len(values))
	for k, v := range values {
		if v != nil {
			cols[strings.ToLower(k)] = v
		}
	}
	return Row{columns: cols}
}

// Has reports whether the column is present and non-null.
func (r Row) Has(name string) bool {
	_, ok := r.columns[strings.ToLower(name)]
	return ok
}

func (r Row) value(name string) (any, error) {
	v, ok := r.columns[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
	}
	return v, nil
}

func (r Row) String(name string) (string, error) {
	v, err := r.value(name)
	if err != nil {
		return "", err
	}
	return cast.ToStringE(v)
}

func (r Row) Int64(name string) (int64, error) {
	v, err := r.value(name)
	if err != nil {
		return 0, err
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if s, ok := v.(string); ok {
		// numeric aggregates may come back as "12" or "12.00"
		d, err := decimal.NewFromString(s)
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", name, err)
		}
		return d.IntPart(), nil
	}
	return cast.ToInt64E(v)
}

func (r Row) Decimal(name string) (decimal.Decimal, error) {
	v, err := r.value(name)
	if err != nil {
		return decimal.Zero, err
	}
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t), nil
	case float32:
		return decimal.NewFromFloat32(t), nil
	case decimal.Decimal:
		return t, nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("column %s: %w", name, err)
	}
	return decimal.NewFromString(s)
}

func (r Row) Time(name string) (time.Time, error) {
	v, err := r.value(name)
	if err != nil {
		return time.Time{}, err
	}
	return cast.ToTimeE(v)
}

// RowMapper converts one result row into a typed record.
type RowMapper[R any] func(Row) (R, error)

// ExecuteStoredProcedure calls the set-returning function name with args over a
// dedicated connection and maps every row through mapRow.
func ExecuteStoredProcedure[R any](ctx context.Context, u *UnitOfWork, name string, mapRow RowMapper[R], args ...any) ([]R, error) {
	if !identifierPattern.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProcedure, name)
	}
	if err := u.checkOpen(); err != nil {
		return nil, err
	}
	sqlDB, err := u.db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, procedureCall(name, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}
	return mapRows(rows, mapRow)
}

// ExecuteRaw runs an arbitrary query written with ? placeholders and maps every row.
func ExecuteRaw[R any](ctx context.Context, u *UnitOfWork, query string, mapRow RowMapper[R], args ...any) ([]R, error) {
	db, err := u.DB(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.Raw(query, args...).Rows()
	if err != nil {
		return nil, fmt.Errorf("raw query: %w", err)
	}
	return mapRows(rows, mapRow)
}

func procedureCall(name string, argc int) string {
	params := make([]string, argc)
	for i := range params {
		params[i] = "$" + strconv.Itoa(i+1)
	}
	return fmt.Sprintf("SELECT * FROM %s(%s)", name, strings.Join(params, ", "))
}

func mapRows[R any](rows *sql.Rows, mapRow RowMapper[R]) ([]R, error) {
	defer rows.Close()
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := make([]R, 0)
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		cols := make(map[string]any, len(names))
		for i, n := range names {
			cols[n] = values[i]
		}
		rec, err := mapRow(NewRow(cols))
		if err != nil {
			return nil, fmt.Errorf("map row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Procedure is a reporting query that is installed as a set-returning function on
// Postgres and run as plain SQL elsewhere.
type Procedure struct {
	Name    string
	Params  []string
	Returns string
	Body    string
}

// CreateStatement renders the CREATE FUNCTION statement for Postgres.
func (p Procedure) CreateStatement() string {
	return fmt.Sprintf(
		"CREATE OR REPLACE FUNCTION %s(%s) RETURNS TABLE(%s) LANGUAGE sql STABLE AS $fn$ %s $fn$",
		p.Name, strings.Join(p.Params, ", "), p.Returns, numberPlaceholders(p.Body),
	)
}

// CallProcedure runs p through ExecuteStoredProcedure on Postgres and through
// ExecuteRaw on other dialects.
func CallProcedure[R any](ctx context.Context, u *UnitOfWork, p Procedure, mapRow RowMapper[R], args ...any) ([]R, error) {
	if isPostgres(u.db) {
		return ExecuteStoredProcedure(ctx, u, p.Name, mapRow, args...)
	}
	return ExecuteRaw(ctx, u, p.Body, mapRow, args...)
}

func numberPlaceholders(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
