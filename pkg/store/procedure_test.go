package store

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestProcedureCallNumbersParameters(t *testing.T) {
	if got := procedureCall("report_top_books", 1); got != "SELECT * FROM report_top_books($1)" {
		t.Fatalf("unexpected call sql: %q", got)
	}
	if got := procedureCall("report_revenue", 0); got != "SELECT * FROM report_revenue()" {
		t.Fatalf("unexpected call sql: %q", got)
	}
}

func TestProcedureCreateStatementUsesPositionalParams(t *testing.T) {
	stmt := TopBooksProcedure.CreateStatement()
	if !strings.HasPrefix(stmt, "CREATE OR REPLACE FUNCTION report_top_books(p_limit integer) RETURNS TABLE(") {
		t.Fatalf("unexpected statement prefix: %q", stmt)
	}
	if strings.Contains(stmt, "?") || !strings.Contains(stmt, "LIMIT $1") {
		t.Fatalf("expected ? placeholders to be numbered: %q", stmt)
	}
}

func TestIdentifierPattern(t *testing.T) {
	for _, ok := range []string{"report_revenue", "public.report_revenue", "_x1"} {
		if !identifierPattern.MatchString(ok) {
			t.Fatalf("expected %q to be accepted", ok)
		}
	}
	for _, bad := range []string{"", "1abc", "a;b", "a b", "a.b.c", "f()"} {
		if identifierPattern.MatchString(bad) {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestRowAccessorsSkipNullColumns(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	row := NewRow(map[string]any{
		"Title":   []byte("Dune"),
		"units":   "12.00",
		"revenue": 25.5,
		"price":   "10.25",
		"sold_at": now,
		"missing": nil,
	})
	if row.Has("missing") {
		t.Fatalf("null columns must be dropped")
	}
	if _, err := row.String("missing"); err == nil {
		t.Fatalf("expected error for null column")
	}
	if s, err := row.String("title"); err != nil || s != "Dune" {
		t.Fatalf("unexpected title %q err=%v", s, err)
	}
	if n, err := row.Int64("units"); err != nil || n != 12 {
		t.Fatalf("unexpected units %d err=%v", n, err)
	}
	if d, err := row.Decimal("revenue"); err != nil || !d.Equal(decimal.RequireFromString("25.5")) {
		t.Fatalf("unexpected revenue %s err=%v", d, err)
	}
	if d, err := row.Decimal("price"); err != nil || !d.Equal(decimal.RequireFromString("10.25")) {
		t.Fatalf("unexpected price %s err=%v", d, err)
	}
	if ts, err := row.Time("sold_at"); err != nil || !ts.Equal(now) {
		t.Fatalf("unexpected time %v err=%v", ts, err)
	}
}
